package mapreduce

import "github.com/lyzr/dataflow-engine/internal/dataflow/model"

// FailureStrategy enumerates how a batch's per-iteration failures affect
// the owning map-reduce node.
type FailureStrategy string

const (
	FailFast        FailureStrategy = "fail_fast"
	IgnoreFailures  FailureStrategy = "ignore_failures"
	CollectErrors   FailureStrategy = "collect_errors"
)

// ReductionExtract selects which subset of iteration results is projected.
type ReductionExtract string

const (
	ExtractSuccesses ReductionExtract = "successes"
	ExtractFailures  ReductionExtract = "failures"
	ExtractAll       ReductionExtract = "all"
	ExtractNone      ReductionExtract = ""
)

// Step is one entry in item_steps or reduction_steps.
type Step struct {
	Type       string // "map" | "filter" | "group" | "reduce_groups" | "aggregate" | "flatten"
	FuncID     string
	KeyFuncID  string // group only
	CelExpr    string // item_steps filter/map, alternative to FuncID
	Context    map[string]any
}

// Config is the parsed, validated map-reduce node configuration (§4.8).
type Config struct {
	SourceArrayKey     string
	IterationInputKey  string
	BatchSize          int
	FailureStrategy    FailureStrategy
	ItemSteps          []Step
	ReductionExtract   ReductionExtract
	ReductionSteps     []Step
}

const maxBatchSize = 1000

// ParseConfig validates and parses a node's config map per §4.8's enumerated
// options, returning typed errors for each malformed field.
func ParseConfig(raw map[string]any) (*Config, error) {
	cfg := &Config{
		IterationInputKey: "default",
		BatchSize:         1,
		FailureStrategy:   FailFast,
	}

	if v, ok := raw["source_array_key"].(string); ok {
		cfg.SourceArrayKey = v
	}

	if v, ok := raw["iteration_input_key"].(string); ok && v != "" {
		cfg.IterationInputKey = v
	}

	if v, ok := raw["batch_size"]; ok {
		n, ok := toInt(v)
		if !ok || n < 1 || n > maxBatchSize {
			return nil, model.NewError(model.ErrInvalidBatchSize, "batch_size must be an integer between 1 and %d", maxBatchSize)
		}
		cfg.BatchSize = n
	}

	if v, ok := raw["failure_strategy"].(string); ok && v != "" {
		switch FailureStrategy(v) {
		case FailFast, IgnoreFailures, CollectErrors:
			cfg.FailureStrategy = FailureStrategy(v)
		default:
			return nil, model.NewError(model.ErrInvalidFailureStrategy, "unknown failure_strategy %q", v)
		}
	}

	steps, err := parseSteps(raw["item_steps"], true)
	if err != nil {
		return nil, err
	}
	cfg.ItemSteps = steps

	if v, ok := raw["reduction_extract"].(string); ok && v != "" {
		switch ReductionExtract(v) {
		case ExtractSuccesses, ExtractFailures, ExtractAll:
			cfg.ReductionExtract = ReductionExtract(v)
		default:
			return nil, model.NewError(model.ErrInvalidExtractor, "unknown reduction_extract %q", v)
		}
	}

	reductionSteps, err := parseSteps(raw["reduction_steps"], false)
	if err != nil {
		return nil, err
	}
	cfg.ReductionSteps = reductionSteps

	return cfg, nil
}

func parseSteps(raw any, allowCelFilter bool) ([]Step, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	steps := make([]Step, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, model.NewError(model.ErrInvalidPipelineStep, "step %d is not an object", i)
		}
		stepType, _ := m["type"].(string)
		switch stepType {
		case "map", "filter", "group", "reduce_groups", "aggregate", "flatten":
		default:
			return nil, model.NewError(model.ErrInvalidPipelineStep, "step %d has unknown type %q", i, stepType)
		}
		s := Step{Type: stepType}
		s.FuncID, _ = m["func_id"].(string)
		s.KeyFuncID, _ = m["key_func_id"].(string)
		s.CelExpr, _ = m["cel_expr"].(string)
		s.Context, _ = m["context"].(map[string]any)

		if s.Type == "filter" && allowCelFilter && s.CelExpr != "" {
			// CEL alternative to func_id, fine.
		} else if s.FuncID == "" && s.CelExpr == "" {
			if s.Type == "group" && s.KeyFuncID != "" {
				// group uses key_func_id instead
			} else {
				return nil, model.NewError(model.ErrInvalidPipelineStep, "step %d (%s) requires func_id", i, s.Type)
			}
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
