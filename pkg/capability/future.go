package capability

import (
	"context"
	"fmt"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

// Future is the pending result of an async capability call. The operation
// runs on its own goroutine; engines collect the result on their execution
// goroutine through Done and Result, so script state is never touched
// concurrently.
type Future struct {
	done chan struct{}
	val  value.Value
	err  error
}

// Start runs fn with args on a new goroutine.
func Start(ctx context.Context, fn Func, args Args) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.val = value.Null()
				f.err = hosterr.NewEngineError(fmt.Sprintf("async operation panicked: %v", r), nil)
			}
		}()
		f.val, f.err = fn(ctx, args)
	}()
	return f
}

// Done is closed once the operation settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the operation has finished.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the settled result. It must only be called after Done is
// closed.
func (f *Future) Result() (value.Value, error) {
	return f.val, f.err
}

// Wait blocks until the operation settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (value.Value, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return value.Null(), hosterr.NewEngineError("wait cancelled", ctx.Err())
	}
}
