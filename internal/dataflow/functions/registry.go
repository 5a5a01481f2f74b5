// Package functions is the lookup-and-invoke contract for node functions;
// the concrete catalogue of business functions lives outside the engine
// (§1: "the concrete function registry (specified only as a lookup-and-
// invoke contract)"). This package provides the contract plus a couple of
// builtins used by tests and simple pipelines.
package functions

import (
	"context"
	"fmt"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

// Func is one invokable function: given an input value and a merged
// invocation context, it produces a result or an error. Implementations
// must return promptly on ctx cancellation.
type Func func(ctx context.Context, input any, fnContext map[string]any) (any, error)

// Registry is a lookup-and-invoke contract keyed by function identifier.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry constructs a Registry seeded with the builtins.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	r.Register("echo", echoFunc)
	r.Register("identity", echoFunc)
	return r
}

// Register adds or replaces the function for id.
func (r *Registry) Register(id string, fn Func) {
	r.funcs[id] = fn
}

// Lookup returns the function for id, or ok=false if none is registered.
func (r *Registry) Lookup(id string) (Func, bool) {
	fn, ok := r.funcs[id]
	return fn, ok
}

// Invoke looks up and calls the function, translating an unknown identifier
// into a coded engine error rather than a bare Go error.
func (r *Registry) Invoke(ctx context.Context, id string, input any, fnContext map[string]any) (any, error) {
	fn, ok := r.funcs[id]
	if !ok {
		return nil, model.NewError(model.ErrMissingFuncID, "no function registered for id %q", id)
	}
	return fn(ctx, input, fnContext)
}

func echoFunc(_ context.Context, input any, _ map[string]any) (any, error) {
	return input, nil
}

// MustWrapPanic recovers a panicking Func invocation into a function
// execution error so a misbehaving registered function cannot take down a
// scheduler worker goroutine.
func MustWrapPanic(fn Func) Func {
	return func(ctx context.Context, input any, fnContext map[string]any) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = model.NewError(model.ErrFunctionExecutionFailed, "function panicked: %v", fmt.Sprint(r))
			}
		}()
		return fn(ctx, input, fnContext)
	}
}
