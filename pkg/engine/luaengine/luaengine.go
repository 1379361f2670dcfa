// Package luaengine runs Lua 5.2 chunks with Shopify/go-lua.
package luaengine

import (
	"context"
	"regexp"
	"strings"

	"github.com/Shopify/go-lua"
	"github.com/rs/zerolog"

	"github.com/openfroyo/scripthost/pkg/capability"
	"github.com/openfroyo/scripthost/pkg/engine"
	"github.com/openfroyo/scripthost/pkg/value"
)

const chunkName = "script"

// Session is a Lua state with capability objects bound as global tables.
//
// Binding "package" replaces Lua's package library, so require is not
// available to scripts.
type Session struct {
	state  *lua.State
	logger zerolog.Logger

	// per-Execute state
	ctx    context.Context
	raised []error
}

// New creates a session with the standard libraries opened.
func New(opts engine.Options) (*Session, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)

	s := &Session{state: state, logger: opts.Logger, ctx: context.Background()}

	state.Register("print", func(l *lua.State) int {
		n := l.Top()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			str, _ := lua.ToStringMeta(l, i)
			parts = append(parts, str)
			l.Pop(1)
		}
		s.logger.Info().Str("engine", string(engine.KindLua)).Msg(strings.Join(parts, "\t"))
		return 0
	})
	return s, nil
}

// Registration registers the lua kind with a factory.
func Registration(opts engine.Options) engine.Registration {
	return engine.Registration{
		Kind: engine.KindLua,
		New: func() (engine.Engine, error) {
			s, err := New(opts)
			if err != nil {
				return nil, err
			}
			return engine.NewGuarded(s), nil
		},
	}
}

// Kind returns engine.KindLua.
func (s *Session) Kind() engine.Kind { return engine.KindLua }

// Close is a no-op.
func (s *Session) Close() error { return nil }

// Bind sets a global table named name whose fields call obj's methods.
// Properties are served through the table's __index metamethod.
func (s *Session) Bind(name string, obj *capability.Object) error {
	l := s.state
	l.NewTable()
	for _, m := range obj.Methods {
		l.PushGoFunction(s.method(name, m))
		l.SetField(-2, m.Name)
	}

	if len(obj.Properties) > 0 {
		props := make(map[string]capability.Property, len(obj.Properties))
		for _, p := range obj.Properties {
			props[p.Name] = p
		}
		l.NewTable()
		l.PushGoFunction(func(l *lua.State) int {
			key, _ := l.ToString(2)
			p, ok := props[key]
			if !ok {
				l.PushNil()
				return 1
			}
			v, err := p.Get(s.ctx)
			if err != nil {
				s.raise(l, err)
			}
			push(l, v)
			return 1
		})
		l.SetField(-2, "__index")
		l.SetMetaTable(-2)
	}

	l.SetGlobal(name)
	return nil
}

// args converts the call arguments. Methods called with colon syntax
// receive their table as the first argument, which is dropped.
func (s *Session) args(l *lua.State, self string) capability.Args {
	n := l.Top()
	start := 1
	if n > 0 && l.TypeOf(1) == lua.TypeTable {
		l.Global(self)
		if l.RawEqual(1, -1) {
			start = 2
		}
		l.Pop(1)
	}

	args := make(capability.Args, 0, n)
	for i := start; i <= n; i++ {
		v, err := toValue(l, i)
		if err != nil {
			s.raise(l, err)
		}
		args = append(args, v)
	}
	return args
}

func (s *Session) method(self string, m capability.Method) lua.Function {
	return func(l *lua.State) int {
		if err := s.ctx.Err(); err != nil {
			s.raise(l, engine.Interrupted(engine.KindLua, err))
		}
		args := s.args(l, self)

		if m.Async {
			s.pushTask(l, capability.Start(s.ctx, m.Fn, args))
			return 1
		}
		v, err := m.Fn(s.ctx, args)
		if err != nil {
			s.raise(l, err)
		}
		push(l, v)
		return 1
	}
}

// pushTask pushes a table whose wait() blocks until f settles.
func (s *Session) pushTask(l *lua.State, f *capability.Future) {
	l.NewTable()
	l.PushGoFunction(func(l *lua.State) int {
		v, err := f.Wait(s.ctx)
		if err != nil {
			s.raise(l, err)
		}
		push(l, v)
		return 1
	})
	l.SetField(-2, "wait")
	l.PushGoFunction(func(l *lua.State) int {
		l.PushBoolean(f.Settled())
		return 1
	})
	l.SetField(-2, "done")
}

// raise records err and raises it as a Lua error. It does not return.
func (s *Session) raise(l *lua.State, err error) {
	s.raised = append(s.raised, err)
	lua.Errorf(l, "%s", err.Error())
}

// Execute loads and runs source as a chunk and returns its first result.
func (s *Session) Execute(ctx context.Context, source string) (value.Value, error) {
	s.ctx = ctx
	s.raised = nil
	defer func() {
		s.ctx = context.Background()
		s.raised = nil
	}()

	l := s.state
	base := l.Top()
	defer l.SetTop(base)

	if err := lua.LoadBuffer(l, source, "="+chunkName, "bt"); err != nil {
		msg := err.Error()
		if l.Top() > base {
			if m, ok := l.ToString(-1); ok {
				msg = m
			}
		}
		return value.Null(), engine.ScriptError(engine.KindLua, msg, location(msg), nil)
	}

	if err := l.ProtectedCall(0, lua.MultipleReturns, 0); err != nil {
		msg := err.Error()
		if l.Top() > base {
			if m, ok := l.ToString(-1); ok {
				msg = m
			}
		}
		return value.Null(), engine.ScriptError(engine.KindLua, msg, location(msg), s.cause(msg))
	}

	if l.Top() == base {
		return value.Null(), nil
	}
	return toValue(l, base+1)
}

// cause finds the host error behind a Lua error message, if any. Errors
// caught by pcall and then re-raised as strings still match.
func (s *Session) cause(msg string) error {
	for i := len(s.raised) - 1; i >= 0; i-- {
		if strings.Contains(msg, s.raised[i].Error()) {
			return s.raised[i]
		}
	}
	return nil
}

var locationPattern = regexp.MustCompile(chunkName + `:(\d+):`)

// location returns "script:N" from the first position prefix in msg.
func location(msg string) string {
	m := locationPattern.FindStringSubmatch(msg)
	if m == nil {
		return ""
	}
	return chunkName + ":" + m[1]
}

var _ engine.Backend = (*Session)(nil)
