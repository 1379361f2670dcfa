// Package exprengine evaluates single expressions with expr-lang/expr.
//
// A script is one expression, optionally preceded by let bindings. Its
// value is the result. Capability objects are maps of functions, so
// store.get("k") and http.get(url).status work as they read.
package exprengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/file"
	"github.com/expr-lang/expr/parser"
	"github.com/rs/zerolog"

	"github.com/openfroyo/scripthost/pkg/capability"
	"github.com/openfroyo/scripthost/pkg/engine"
	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

const scriptName = "expr"

type binding struct {
	name string
	obj  *capability.Object
}

// Session holds the bound capability objects. Every Execute compiles
// against a fresh environment built from them.
type Session struct {
	logger   zerolog.Logger
	bindings []binding

	// per-Execute state
	ctx    context.Context
	raised []error
}

// New creates a session.
func New(opts engine.Options) (*Session, error) {
	return &Session{logger: opts.Logger, ctx: context.Background()}, nil
}

// Registration registers the expr kind with a factory.
func Registration(opts engine.Options) engine.Registration {
	return engine.Registration{
		Kind: engine.KindExpr,
		New: func() (engine.Engine, error) {
			s, err := New(opts)
			if err != nil {
				return nil, err
			}
			return engine.NewGuarded(s), nil
		},
	}
}

// Kind returns engine.KindExpr.
func (s *Session) Kind() engine.Kind { return engine.KindExpr }

// Close is a no-op.
func (s *Session) Close() error { return nil }

// Bind makes obj available under name, replacing an earlier binding.
func (s *Session) Bind(name string, obj *capability.Object) error {
	for i := range s.bindings {
		if s.bindings[i].name == name {
			s.bindings[i].obj = obj
			return nil
		}
	}
	s.bindings = append(s.bindings, binding{name: name, obj: obj})
	return nil
}

// Execute compiles and runs source.
func (s *Session) Execute(ctx context.Context, source string) (value.Value, error) {
	s.ctx = ctx
	s.raised = nil
	defer func() {
		s.ctx = context.Background()
		s.raised = nil
	}()

	tree, err := parser.Parse(source)
	if err != nil {
		return value.Null(), s.scriptError(err)
	}

	env, err := s.environment(tree)
	if err != nil {
		return value.Null(), err
	}

	program, err := expr.Compile(source, expr.Env(env))
	if err != nil {
		return value.Null(), s.scriptError(err)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return value.Null(), s.scriptError(err)
	}
	return value.FromGo(out)
}

// environment builds the variables for one run. Properties are read only
// when the expression references them.
func (s *Session) environment(tree *parser.Tree) (map[string]any, error) {
	refs := referencedMembers(tree)

	env := make(map[string]any, len(s.bindings)+1)
	env["log"] = func(args ...any) any {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprint(a)
		}
		s.logger.Info().Str("engine", string(engine.KindExpr)).Msg(strings.Join(parts, " "))
		return nil
	}

	for _, b := range s.bindings {
		members := make(map[string]any, len(b.obj.Methods)+len(b.obj.Properties))
		for _, m := range b.obj.Methods {
			members[m.Name] = s.function(m)
		}
		for _, p := range b.obj.Properties {
			if !refs[b.name+"."+p.Name] {
				continue
			}
			v, err := p.Get(s.ctx)
			if err != nil {
				return nil, engine.ScriptError(engine.KindExpr, err.Error(), "", err)
			}
			members[p.Name] = value.ToGo(v)
		}
		env[b.name] = members
	}
	return env, nil
}

type memberVisitor struct {
	refs map[string]bool
}

func (v *memberVisitor) Visit(node *ast.Node) {
	m, ok := (*node).(*ast.MemberNode)
	if !ok {
		return
	}
	obj, ok := m.Node.(*ast.IdentifierNode)
	if !ok {
		return
	}
	if prop, ok := m.Property.(*ast.StringNode); ok {
		v.refs[obj.Value+"."+prop.Value] = true
	}
}

// referencedMembers returns the "object.member" pairs named in tree.
func referencedMembers(tree *parser.Tree) map[string]bool {
	v := &memberVisitor{refs: map[string]bool{}}
	ast.Walk(&tree.Node, v)
	return v.refs
}

func (s *Session) convertArgs(args []any) (capability.Args, error) {
	converted := make(capability.Args, len(args))
	for i, a := range args {
		v, err := value.FromGo(a)
		if err != nil {
			return nil, err
		}
		converted[i] = v
	}
	return converted, nil
}

func (s *Session) function(m capability.Method) func(args ...any) (any, error) {
	return func(args ...any) (any, error) {
		if err := s.ctx.Err(); err != nil {
			return nil, s.record(engine.Interrupted(engine.KindExpr, err))
		}
		converted, err := s.convertArgs(args)
		if err != nil {
			return nil, s.record(err)
		}

		if m.Async {
			return s.task(capability.Start(s.ctx, m.Fn, converted)), nil
		}
		v, err := m.Fn(s.ctx, converted)
		if err != nil {
			return nil, s.record(err)
		}
		return value.ToGo(v), nil
	}
}

// task is what async methods return: wait() blocks until the operation
// settles and done() reports whether it has.
func (s *Session) task(f *capability.Future) map[string]any {
	return map[string]any{
		"wait": func() (any, error) {
			v, err := f.Wait(s.ctx)
			if err != nil {
				return nil, s.record(err)
			}
			return value.ToGo(v), nil
		},
		"done": func() bool { return f.Settled() },
	}
}

func (s *Session) record(err error) error {
	s.raised = append(s.raised, err)
	return err
}

func (s *Session) scriptError(err error) error {
	loc := ""
	msg := err.Error()
	var fileErr *file.Error
	if errors.As(err, &fileErr) {
		msg = fileErr.Message
		if fileErr.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d", scriptName, fileErr.Line, fileErr.Column+1)
		}
	}
	return engine.ScriptError(engine.KindExpr, msg, loc, s.cause(err))
}

// cause returns the host error behind err. The expr runtime keeps the
// returned error in its chain, but the message is matched as well.
func (s *Session) cause(err error) error {
	var he *hosterr.HostError
	if errors.As(err, &he) {
		return he
	}
	msg := err.Error()
	for i := len(s.raised) - 1; i >= 0; i-- {
		if strings.Contains(msg, s.raised[i].Error()) {
			return s.raised[i]
		}
	}
	return nil
}

var _ engine.Backend = (*Session)(nil)
