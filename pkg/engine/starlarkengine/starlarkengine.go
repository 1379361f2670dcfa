// Package starlarkengine runs Starlark scripts with go.starlark.net.
package starlarkengine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/scripthost/pkg/capability"
	"github.com/openfroyo/scripthost/pkg/engine"
	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

const (
	scriptName = "script.star"

	// ResultGlobal is the global a script assigns to produce its result.
	ResultGlobal = "result"
)

// Scripts are automation code, so top-level loops, while, sets and
// reassigning globals are allowed.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Session evaluates Starlark files against bound capability objects.
type Session struct {
	logger      zerolog.Logger
	predeclared starlark.StringDict

	// set for the duration of Execute
	ctx context.Context
}

// New creates a session.
func New(opts engine.Options) (*Session, error) {
	return &Session{
		logger: opts.Logger,
		predeclared: starlark.StringDict{
			"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		},
		ctx: context.Background(),
	}, nil
}

// Registration registers the starlark kind with a factory.
func Registration(opts engine.Options) engine.Registration {
	return engine.Registration{
		Kind: engine.KindStarlark,
		New: func() (engine.Engine, error) {
			s, err := New(opts)
			if err != nil {
				return nil, err
			}
			return engine.NewGuarded(s), nil
		},
	}
}

// Kind returns engine.KindStarlark.
func (s *Session) Kind() engine.Kind { return engine.KindStarlark }

// Close is a no-op.
func (s *Session) Close() error { return nil }

// Bind predeclares obj under name.
func (s *Session) Bind(name string, obj *capability.Object) error {
	s.predeclared[name] = &hostObject{session: s, name: name, obj: obj}
	return nil
}

// Execute runs source as a Starlark file and returns the global "result",
// or null when the script does not set it.
func (s *Session) Execute(ctx context.Context, source string) (value.Value, error) {
	s.ctx = ctx
	defer func() { s.ctx = context.Background() }()

	thread := &starlark.Thread{
		Name: "froyo",
		Print: func(_ *starlark.Thread, msg string) {
			s.logger.Info().Str("engine", string(engine.KindStarlark)).Msg(msg)
		},
	}
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	globals, err := starlark.ExecFileOptions(fileOptions, thread, scriptName, source, s.predeclared)
	if err != nil {
		if ctx.Err() != nil {
			return value.Null(), engine.Interrupted(engine.KindStarlark, ctx.Err())
		}
		return value.Null(), scriptError(err)
	}

	result, ok := globals[ResultGlobal]
	if !ok {
		return value.Null(), nil
	}
	return fromStarlark(result)
}

func scriptError(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		loc := ""
		for i := 0; i < len(evalErr.CallStack); i++ {
			if pos := evalErr.CallStack.At(i).Pos; pos.IsValid() {
				loc = pos.String()
				break
			}
		}
		return engine.ScriptError(engine.KindStarlark, evalErr.Msg, loc, evalErr.Unwrap())
	}

	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return engine.ScriptError(engine.KindStarlark, syntaxErr.Msg, syntaxErr.Pos.String(), nil)
	}

	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) && len(resolveErrs) > 0 {
		first := resolveErrs[0]
		return engine.ScriptError(engine.KindStarlark, resolveErrs.Error(), first.Pos.String(), nil)
	}

	return engine.ScriptError(engine.KindStarlark, err.Error(), "", nil)
}

// hostObject exposes a capability object's members as attributes.
type hostObject struct {
	session *Session
	name    string
	obj     *capability.Object
}

var _ starlark.HasAttrs = (*hostObject)(nil)

func (h *hostObject) String() string        { return "<" + h.name + ">" }
func (h *hostObject) Type() string          { return "capability" }
func (h *hostObject) Freeze()               {}
func (h *hostObject) Truth() starlark.Bool  { return starlark.True }
func (h *hostObject) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", h.Type()) }

func (h *hostObject) AttrNames() []string {
	names := h.obj.MemberNames()
	sort.Strings(names)
	return names
}

func (h *hostObject) Attr(name string) (starlark.Value, error) {
	if p, ok := h.obj.Property(name); ok {
		v, err := p.Get(h.session.ctx)
		if err != nil {
			return nil, err
		}
		return toStarlark(v), nil
	}
	m, ok := h.obj.Method(name)
	if !ok {
		return nil, nil
	}
	return starlark.NewBuiltin(h.name+"."+m.Name, h.call(m)), nil
}

type builtinFn func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

func (h *hostObject) call(m capability.Method) builtinFn {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, hosterr.NewInvalidArgumentError(b.Name() + " does not accept keyword arguments")
		}
		converted := make(capability.Args, len(args))
		for i, a := range args {
			v, err := fromStarlark(a)
			if err != nil {
				return nil, err
			}
			converted[i] = v
		}

		ctx := h.session.ctx
		if m.Async {
			return &task{name: b.Name(), session: h.session, future: capability.Start(ctx, m.Fn, converted)}, nil
		}
		v, err := m.Fn(ctx, converted)
		if err != nil {
			return nil, err
		}
		return toStarlark(v), nil
	}
}

// task is the handle returned by async methods. wait() blocks the script
// until the operation settles.
type task struct {
	name    string
	session *Session
	future  *capability.Future
}

var _ starlark.HasAttrs = (*task)(nil)

func (t *task) String() string        { return "<task " + t.name + ">" }
func (t *task) Type() string          { return "task" }
func (t *task) Freeze()               {}
func (t *task) Truth() starlark.Bool  { return starlark.True }
func (t *task) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: task") }
func (t *task) AttrNames() []string   { return []string{"done", "wait"} }

func (t *task) Attr(name string) (starlark.Value, error) {
	switch name {
	case "wait":
		return starlark.NewBuiltin("wait", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			v, err := t.future.Wait(t.session.ctx)
			if err != nil {
				return nil, err
			}
			return toStarlark(v), nil
		}), nil
	case "done":
		return starlark.Bool(t.future.Settled()), nil
	}
	return nil, nil
}
