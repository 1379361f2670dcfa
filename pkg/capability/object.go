package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

// Func is the engine-agnostic signature of every capability operation.
type Func func(ctx context.Context, args Args) (value.Value, error)

// Method is one script-callable operation of a capability object.
type Method struct {
	// Name is the identifier scripts use, e.g. "readText".
	Name string

	// Async marks methods that engines must start on a Future instead of
	// calling inline.
	Async bool

	// Fn performs the operation. Async methods share the synchronous body;
	// the engine decides where it runs.
	Fn Func
}

// Property is a read-only attribute computed on access.
type Property struct {
	Name string
	Get  func(ctx context.Context) (value.Value, error)
}

// Object is a named capability bound into a script's global scope.
type Object struct {
	Name       string
	Methods    []Method
	Properties []Property
}

// Method returns the method called name.
func (o *Object) Method(name string) (Method, bool) {
	for _, m := range o.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

// Property returns the property called name.
func (o *Object) Property(name string) (Property, bool) {
	for _, p := range o.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// MemberNames returns method and property names in declaration order.
func (o *Object) MemberNames() []string {
	names := make([]string, 0, len(o.Methods)+len(o.Properties))
	for _, m := range o.Methods {
		names = append(names, m.Name)
	}
	for _, p := range o.Properties {
		names = append(names, p.Name)
	}
	return names
}

// Call invokes a method synchronously. It is the entry point used by hosts
// that do not go through an engine, such as the CLI and tests.
func (o *Object) Call(ctx context.Context, name string, args ...value.Value) (value.Value, error) {
	m, ok := o.Method(name)
	if !ok {
		return value.Null(), hosterr.NewInvalidArgumentError(
			fmt.Sprintf("%s has no method %q", o.Name, name))
	}
	return m.Fn(ctx, Args(args))
}

// Middleware decorates a capability call. object and member identify the
// call site, e.g. ("http", "get").
type Middleware func(object, member string, next Func) Func

// With returns a copy of o whose methods and properties pass through mws.
// The first middleware is the outermost.
func (o *Object) With(mws ...Middleware) *Object {
	out := &Object{Name: o.Name}
	for _, m := range o.Methods {
		fn := m.Fn
		for i := len(mws) - 1; i >= 0; i-- {
			fn = mws[i](o.Name, m.Name, fn)
		}
		out.Methods = append(out.Methods, Method{Name: m.Name, Async: m.Async, Fn: fn})
	}
	for _, p := range o.Properties {
		get := p.Get
		fn := Func(func(ctx context.Context, _ Args) (value.Value, error) { return get(ctx) })
		for i := len(mws) - 1; i >= 0; i-- {
			fn = mws[i](o.Name, p.Name, fn)
		}
		out.Properties = append(out.Properties, Property{
			Name: p.Name,
			Get:  func(ctx context.Context) (value.Value, error) { return fn(ctx, nil) },
		})
	}
	return out
}

// named stamps host errors returned by fn with the "object.member" op when
// the error does not carry one yet, and recovers panics into engine errors
// so a faulty capability never unwinds through the script engine.
func named(object, member string, fn Func) Func {
	op := object + "." + member
	return func(ctx context.Context, args Args) (v value.Value, err error) {
		defer func() {
			if r := recover(); r != nil {
				v = value.Null()
				err = hosterr.NewEngineError(fmt.Sprintf("capability panicked: %v", r), nil).WithOp(op)
			}
		}()

		v, err = fn(ctx, args)
		if err != nil {
			var he *hosterr.HostError
			if errors.As(err, &he) {
				if he.Op == "" {
					he.Op = op
				}
				return value.Null(), err
			}
			return value.Null(), hosterr.NewIOError("operation failed", err).WithOp(op)
		}
		return v, nil
	}
}

// syncMethod and asyncMethod build method pairs sharing one body.
func syncMethod(object, name string, fn Func) Method {
	return Method{Name: name, Fn: named(object, name, fn)}
}

func asyncMethod(object, name string, fn Func) Method {
	return Method{Name: name + "Async", Async: true, Fn: named(object, name+"Async", fn)}
}
