// Package hosterr defines the error taxonomy shared by the scripting host.
// Every failure that crosses a component boundary (store, capability, engine,
// orchestrator) is a *HostError carrying a Kind so callers can branch on the
// category with errors.Is / errors.As instead of matching strings.
package hosterr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a host error.
type Kind string

const (
	// KindSerialization indicates a value that cannot be represented as a ScriptValue.
	KindSerialization Kind = "serialization"

	// KindStorage indicates a persistence I/O failure.
	KindStorage Kind = "storage"

	// KindNetwork indicates an HTTP transport, DNS or TLS failure.
	KindNetwork Kind = "network"

	// KindNotFound indicates a missing file or key.
	KindNotFound Kind = "not_found"

	// KindIO indicates a generic filesystem failure.
	KindIO Kind = "io"

	// KindProcess indicates a non-zero exit or a spawn failure.
	KindProcess Kind = "process"

	// KindUnsupportedKind indicates an unknown engine kind.
	KindUnsupportedKind Kind = "unsupported_kind"

	// KindEngine indicates a script compile or runtime fault.
	KindEngine Kind = "engine"

	// KindConcurrency indicates a reentrant execution attempt.
	KindConcurrency Kind = "concurrency"

	// KindInvalidArgument indicates a capability call with a malformed argument.
	KindInvalidArgument Kind = "invalid_argument"

	// KindPermissionDenied indicates a capability call rejected by policy.
	KindPermissionDenied Kind = "permission_denied"

	// KindInvalidState indicates an operation attempted in the wrong lifecycle state.
	KindInvalidState Kind = "invalid_state"
)

// HostError is a classified error with context.
type HostError struct {
	// Kind is the error classification.
	Kind Kind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Op is the operation being performed, e.g. "store.set" or "http.get".
	Op string `json:"op,omitempty"`

	// Location is the script source position for engine errors (file:line:col).
	Location string `json:"location,omitempty"`

	// ExitCode is the process exit code for process errors.
	ExitCode int `json:"exit_code,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *HostError) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("] ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Location != "" {
		b.WriteString(" (at ")
		b.WriteString(e.Location)
		b.WriteString(")")
	}
	if e.Kind == KindProcess && e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *HostError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *HostError of the same Kind. A target with
// an empty Kind matches any HostError.
func (e *HostError) Is(target error) bool {
	t, ok := target.(*HostError)
	if !ok {
		return false
	}
	return t.Kind == "" || e.Kind == t.Kind
}

// WithOp sets the operation name.
func (e *HostError) WithOp(op string) *HostError {
	e.Op = op
	return e
}

// WithLocation sets the script source location.
func (e *HostError) WithLocation(loc string) *HostError {
	e.Location = loc
	return e
}

// WithDetail adds a detail field to the error context.
func (e *HostError) WithDetail(key string, value any) *HostError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, message string, err error) *HostError {
	return &HostError{Kind: kind, Message: message, Err: err}
}

// NewSerializationError creates a new serialization error.
func NewSerializationError(message string, err error) *HostError {
	return newError(KindSerialization, message, err)
}

// NewStorageError creates a new storage error.
func NewStorageError(message string, err error) *HostError {
	return newError(KindStorage, message, err)
}

// NewNetworkError creates a new network error.
func NewNetworkError(message string, err error) *HostError {
	return newError(KindNetwork, message, err)
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *HostError {
	return newError(KindNotFound, message, err)
}

// NewIOError creates a new filesystem error.
func NewIOError(message string, err error) *HostError {
	return newError(KindIO, message, err)
}

// NewProcessError creates a new process error carrying the exit code.
// Spawn failures use exit code -1.
func NewProcessError(message string, exitCode int, err error) *HostError {
	e := newError(KindProcess, message, err)
	e.ExitCode = exitCode
	return e
}

// NewUnsupportedKindError creates an error for an unknown engine kind that
// lists the supported set.
func NewUnsupportedKindError(kind string, supported []string) *HostError {
	sorted := append([]string(nil), supported...)
	sort.Strings(sorted)
	e := newError(KindUnsupportedKind,
		fmt.Sprintf("unsupported engine kind %q (supported: %s)", kind, strings.Join(sorted, ", ")), nil)
	e.Details = map[string]any{"kind": kind, "supported": sorted}
	return e
}

// NewEngineError creates a new script engine error.
func NewEngineError(message string, err error) *HostError {
	return newError(KindEngine, message, err)
}

// NewConcurrencyError creates a new concurrency error.
func NewConcurrencyError(message string) *HostError {
	return newError(KindConcurrency, message, nil)
}

// NewInvalidArgumentError creates a new invalid-argument error.
func NewInvalidArgumentError(message string) *HostError {
	return newError(KindInvalidArgument, message, nil)
}

// NewPermissionDeniedError creates a new permission-denied error.
func NewPermissionDeniedError(message string) *HostError {
	return newError(KindPermissionDenied, message, nil)
}

// NewInvalidStateError creates a new invalid-state error.
func NewInvalidStateError(message string) *HostError {
	return newError(KindInvalidState, message, nil)
}

// KindOf returns the Kind of the outermost HostError in err's chain, or ""
// if there is none.
func KindOf(err error) Kind {
	var e *HostError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether any HostError in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &HostError{Kind: kind})
}

// Root returns the innermost HostError in err's chain. Engine errors that
// wrap a host failure raised inside a script resolve to that host failure.
func Root(err error) *HostError {
	var root *HostError
	for err != nil {
		if e, ok := err.(*HostError); ok {
			root = e
		}
		err = errors.Unwrap(err)
	}
	return root
}

// IsOperational reports whether err is an expected operational outcome that
// aborts only the current operation. Infrastructural failures (storage,
// serialization, unsupported kind) are not operational.
func IsOperational(err error) bool {
	switch KindOf(err) {
	case KindProcess, KindNotFound, KindIO, KindNetwork, KindPermissionDenied,
		KindInvalidArgument, KindEngine, KindConcurrency, KindInvalidState:
		return true
	default:
		return false
	}
}
