// Package funcnode implements the Function Node Runtime: input selection,
// asynchronous invocation with cancellation, and handing the result to the
// scheduler's facade (which drives the Data Router).
package funcnode

import (
	"context"

	"github.com/lyzr/dataflow-engine/internal/dataflow/functions"
	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/noderuntime"
)

// Runtime executes a single func node by invoking a registered function.
type Runtime struct {
	registry *functions.Registry
}

// New constructs a Runtime backed by registry.
func New(registry *functions.Registry) *Runtime {
	return &Runtime{registry: registry}
}

var _ noderuntime.Runtime = (*Runtime)(nil)

// Run implements noderuntime.Runtime.
func (r *Runtime) Run(ctx context.Context, f noderuntime.Facade) {
	cfg := f.Config()

	funcID, _ := cfg["func_id"].(string)
	if funcID == "" {
		f.Fail(ctx, model.ErrMissingFuncID, "func node config is missing func_id")
		return
	}

	inputs, err := f.Inputs(ctx)
	if err != nil {
		f.Fail(ctx, model.ErrNoInputData, err.Error())
		return
	}

	input, err := selectInput(inputs)
	if err != nil {
		f.Fail(ctx, model.ErrNoInputData, err.Error())
		return
	}

	callerContext, _ := cfg["context"].(map[string]any)
	fnContext, err := resolveContext(callerContext, nil, input)
	if err != nil {
		f.Fail(ctx, model.ErrInvalidInputStructure, err.Error())
		return
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	invokeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		result, err := r.registry.Invoke(invokeCtx, funcID, input, fnContext)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			code := model.CodeOf(o.err)
			if code == model.ErrBackend {
				code = model.ErrFunctionExecutionFailed
			}
			f.Fail(ctx, code, o.err.Error())
			return
		}
		f.Complete(ctx, o.result, "")
	case <-f.Cancelled():
		cancel()
		<-done // let the invocation observe ctx cancellation and return
		f.Fail(ctx, model.ErrFunctionCanceled, "node canceled while function was running")
	}
}

// selectInput implements the deterministic selection rule from §4.7: prefer
// the "default"-keyed item, then the empty-key item, then a lone item, then
// merge every keyed item into one object.
func selectInput(inputs []*model.Data) (any, error) {
	if len(inputs) == 0 {
		return nil, model.NewError(model.ErrNoInputData, "node has no input data")
	}

	for _, in := range inputs {
		if in.Key == "default" {
			return in.Content, nil
		}
	}
	for _, in := range inputs {
		if in.Key == "" {
			return in.Content, nil
		}
	}
	if len(inputs) == 1 {
		return inputs[0].Content, nil
	}

	merged := make(map[string]any, len(inputs))
	for _, in := range inputs {
		key := in.Key
		if key == "" {
			key = in.ID
		}
		merged[key] = in.Content
	}
	return merged, nil
}
