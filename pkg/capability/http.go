package capability

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

// HTTPConfig configures the http capability.
type HTTPConfig struct {
	Client *http.Client

	// BaseURL is prefixed to request URLs that carry no scheme.
	BaseURL string

	// Headers are applied to every request before per-call headers.
	Headers map[string]string

	UserAgent string
}

// NewHTTP exposes an HTTP client. Non-2xx statuses are ordinary responses;
// only transport failures raise NetworkError.
func NewHTTP(cfg HTTPConfig) *Object {
	const name = NameHTTP
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	c := &httpClient{cfg: cfg}

	obj := &Object{Name: name}
	for _, verb := range []string{"get", "delete"} {
		fn := c.bodyless(strings.ToUpper(verb))
		obj.Methods = append(obj.Methods, syncMethod(name, verb, fn), asyncMethod(name, verb, fn))
	}
	for _, verb := range []string{"post", "put", "patch"} {
		fn := c.withBody(strings.ToUpper(verb))
		obj.Methods = append(obj.Methods, syncMethod(name, verb, fn), asyncMethod(name, verb, fn))
	}
	return obj
}

type httpClient struct {
	cfg HTTPConfig
}

// get|delete(url, query?, headers?)
func (c *httpClient) bodyless(method string) Func {
	return func(ctx context.Context, args Args) (value.Value, error) {
		return c.do(ctx, method, args, -1, 1, 2)
	}
}

// post|put|patch(url, payload?, query?, headers?)
func (c *httpClient) withBody(method string) Func {
	return func(ctx context.Context, args Args) (value.Value, error) {
		return c.do(ctx, method, args, 1, 2, 3)
	}
}

func (c *httpClient) do(ctx context.Context, method string, args Args, payloadAt, queryAt, headersAt int) (value.Value, error) {
	rawURL, err := args.String(0)
	if err != nil {
		return value.Null(), err
	}
	query, err := args.StringList(queryAt)
	if err != nil {
		return value.Null(), err
	}
	headers, err := args.StringList(headersAt)
	if err != nil {
		return value.Null(), err
	}

	target, err := c.resolve(rawURL, query)
	if err != nil {
		return value.Null(), err
	}

	var body io.Reader
	contentType := ""
	if payloadAt >= 0 {
		payload := args.At(payloadAt)
		switch payload.Kind() {
		case value.KindNull:
		case value.KindString:
			s, _ := payload.AsString()
			body = strings.NewReader(s)
			contentType = "text/plain; charset=utf-8"
		default:
			data, err := payload.MarshalJSON()
			if err != nil {
				return value.Null(), err
			}
			body = bytes.NewReader(data)
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return value.Null(), hosterr.NewInvalidArgumentError(fmt.Sprintf("invalid request: %v", err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	// Per-call headers replace defaults of the same name; repeats append.
	overridden := make(map[string]bool)
	for _, h := range headers {
		k, v, ok := strings.Cut(h, ":")
		k = http.CanonicalHeaderKey(strings.TrimSpace(k))
		if !ok || k == "" {
			return value.Null(), hosterr.NewInvalidArgumentError(fmt.Sprintf("header %q must be \"Name: value\"", h))
		}
		if overridden[k] {
			req.Header.Add(k, strings.TrimSpace(v))
			continue
		}
		overridden[k] = true
		req.Header.Set(k, strings.TrimSpace(v))
	}

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return value.Null(), hosterr.NewNetworkError(fmt.Sprintf("%s %s failed", method, target), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return value.Null(), hosterr.NewNetworkError(fmt.Sprintf("%s %s: reading body failed", method, target), err)
	}

	return responseValue(resp, data), nil
}

func (c *httpClient) resolve(rawURL string, query []string) (string, error) {
	target := rawURL
	if !strings.Contains(rawURL, "://") && c.cfg.BaseURL != "" {
		target = strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(rawURL, "/")
	}
	if _, err := url.Parse(target); err != nil {
		return "", hosterr.NewInvalidArgumentError(fmt.Sprintf("invalid url %q: %v", target, err))
	}
	if len(query) == 0 {
		return target, nil
	}

	parts := make([]string, 0, len(query))
	for _, q := range query {
		k, v, _ := strings.Cut(q, "=")
		if k == "" {
			return "", hosterr.NewInvalidArgumentError(fmt.Sprintf("query parameter %q must be \"key=value\"", q))
		}
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + strings.Join(parts, "&"), nil
}

func responseValue(resp *http.Response, body []byte) value.Value {
	names := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		names = append(names, k)
	}
	sort.Strings(names)

	headers := value.NewObject()
	for _, k := range names {
		headers.Set(k, value.String(strings.Join(resp.Header.Values(k), ", ")))
	}

	return value.FromObject(value.NewObject().
		Set("status", value.Int(int64(resp.StatusCode))).
		Set("ok", value.Bool(resp.StatusCode >= 200 && resp.StatusCode < 300)).
		Set("headers", value.FromObject(headers)).
		Set("body", value.String(string(body))))
}
