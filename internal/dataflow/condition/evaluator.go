// Package condition provides a cached CEL expression evaluator shared by the
// Data Router's target predicates and the map-reduce runtime's filter steps.
package condition

import (
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

// Evaluator compiles and caches CEL programs keyed by expression text, in the
// spirit of the workflow runner's branch/loop condition cache: compilation is
// the expensive part, so repeated evaluation of the same expression across
// many dataflow instances only pays for it once per process.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator constructs an empty, ready-to-use Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]cel.Program)}
}

// EvaluateBool evaluates expr against output (bound as the `output` variable)
// and ctx (bound as `ctx`), requiring the result to be boolean. Used for
// data-target `when` predicates (§4.3) and map-reduce filter steps (§4.8).
func (e *Evaluator) EvaluateBool(expr string, output any, ctx map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"output": output, "ctx": ctx})
	if err != nil {
		return false, model.WrapError(model.ErrInvalidPipelineStep, err, "CEL evaluation failed for %q", expr)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, model.NewError(model.ErrInvalidPipelineStep, "CEL expression %q did not return a boolean, got %T", expr, out.Value())
	}
	return result, nil
}

// Evaluate evaluates expr and returns the raw result value, for map-reduce
// `map` steps expressed as CEL rather than a registered function.
func (e *Evaluator) Evaluate(expr string, output any, ctx map[string]any) (any, error) {
	prg, err := e.program(expr)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(map[string]any{"output": output, "ctx": ctx})
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidPipelineStep, err, "CEL evaluation failed for %q", expr)
	}
	return out.Value(), nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidPipelineStep, err, "failed to build CEL environment")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, model.WrapError(model.ErrInvalidPipelineStep, issues.Err(), "failed to compile CEL expression %q", expr)
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidPipelineStep, err, "failed to build CEL program for %q", expr)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
