package mapreduce

import (
	"context"

	"github.com/lyzr/dataflow-engine/internal/dataflow/condition"
	"github.com/lyzr/dataflow-engine/internal/dataflow/functions"
	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

// runItemSteps applies item_steps to one iteration's collected result in
// order. A filter returning false reports keep=false (drop, not a failure);
// a map error is an iteration failure.
func runItemSteps(ctx context.Context, steps []Step, registry *functions.Registry, eval *condition.Evaluator, value any) (result any, keep bool, err error) {
	result = value
	keep = true
	for _, step := range steps {
		switch step.Type {
		case "map":
			result, err = invokeStep(ctx, step, registry, eval, result)
			if err != nil {
				return nil, false, model.WrapError(model.ErrItemPipelineFailed, err, "map step %q failed", step.FuncID)
			}
		case "filter":
			var ok bool
			if step.CelExpr != "" {
				ok, err = eval.EvaluateBool(step.CelExpr, result, step.Context)
			} else {
				var raw any
				raw, err = registry.Invoke(ctx, step.FuncID, result, step.Context)
				if err == nil {
					ok, _ = raw.(bool)
				}
			}
			if err != nil {
				return nil, false, model.WrapError(model.ErrItemPipelineFailed, err, "filter step %q failed", step.FuncID)
			}
			if !ok {
				return result, false, nil
			}
		}
	}
	return result, true, nil
}

func invokeStep(ctx context.Context, step Step, registry *functions.Registry, eval *condition.Evaluator, value any) (any, error) {
	if step.CelExpr != "" {
		return eval.Evaluate(step.CelExpr, value, step.Context)
	}
	return registry.Invoke(ctx, step.FuncID, value, step.Context)
}

// runReductionSteps applies reduction_steps to the extracted business-data
// value, validating type compatibility before each step per §4.8.
func runReductionSteps(ctx context.Context, steps []Step, registry *functions.Registry, value any) (any, error) {
	for _, step := range steps {
		var err error
		switch step.Type {
		case "map", "filter":
			arr, ok := value.([]any)
			if !ok {
				return nil, model.NewError(model.ErrIncompatiblePipelineData, "%s step requires array input, got %T", step.Type, value)
			}
			value, err = applyArrayStep(ctx, step, registry, arr)
		case "group":
			arr, ok := value.([]any)
			if !ok {
				return nil, model.NewError(model.ErrIncompatiblePipelineData, "group step requires array input, got %T", value)
			}
			value, err = applyGroup(ctx, step, registry, arr)
		case "reduce_groups":
			grouped, ok := value.(map[string][]any)
			if !ok {
				return nil, model.NewError(model.ErrIncompatiblePipelineData, "reduce_groups step requires a grouped object, got %T", value)
			}
			value, err = applyReduceGroups(ctx, step, registry, grouped)
		case "aggregate":
			value, err = registry.Invoke(ctx, step.FuncID, value, step.Context)
		case "flatten":
			value, err = flatten(value)
		}
		if err != nil {
			return nil, model.WrapError(model.ErrPipelineFailed, err, "reduction step %q (%s) failed", step.FuncID, step.Type)
		}
	}
	return value, nil
}

func applyArrayStep(ctx context.Context, step Step, registry *functions.Registry, arr []any) (any, error) {
	if step.Type == "map" {
		out := make([]any, len(arr))
		for i, item := range arr {
			v, err := registry.Invoke(ctx, step.FuncID, item, step.Context)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	out := make([]any, 0, len(arr))
	for _, item := range arr {
		v, err := registry.Invoke(ctx, step.FuncID, item, step.Context)
		if err != nil {
			return nil, err
		}
		if keep, _ := v.(bool); keep {
			out = append(out, item)
		}
	}
	return out, nil
}

func applyGroup(ctx context.Context, step Step, registry *functions.Registry, arr []any) (map[string][]any, error) {
	keyFunc := step.KeyFuncID
	if keyFunc == "" {
		keyFunc = step.FuncID
	}
	groups := make(map[string][]any)
	for _, item := range arr {
		k, err := registry.Invoke(ctx, keyFunc, item, step.Context)
		if err != nil {
			return nil, err
		}
		key, _ := k.(string)
		groups[key] = append(groups[key], item)
	}
	return groups, nil
}

func applyReduceGroups(ctx context.Context, step Step, registry *functions.Registry, grouped map[string][]any) (map[string]any, error) {
	out := make(map[string]any, len(grouped))
	for k, items := range grouped {
		v, err := registry.Invoke(ctx, step.FuncID, items, step.Context)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func flatten(value any) (any, error) {
	arr, ok := value.([]any)
	if !ok {
		return value, nil
	}
	out := make([]any, 0, len(arr))
	for _, item := range arr {
		if nested, ok := item.([]any); ok {
			out = append(out, nested...)
		} else {
			out = append(out, item)
		}
	}
	return out, nil
}
