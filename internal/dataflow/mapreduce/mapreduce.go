// Package mapreduce implements the Map-Reduce Node Runtime (§4.8):
// validates configuration, builds the template graph, drives the Iterator
// in batches via the scheduler's yield primitive, applies per-item and
// reduction pipelines, and enforces the configured failure strategy.
package mapreduce

import (
	"context"

	"github.com/lyzr/dataflow-engine/internal/dataflow/condition"
	"github.com/lyzr/dataflow-engine/internal/dataflow/functions"
	"github.com/lyzr/dataflow-engine/internal/dataflow/iterator"
	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/noderuntime"
	"github.com/lyzr/dataflow-engine/internal/dataflow/store"
	"github.com/lyzr/dataflow-engine/internal/dataflow/template"
)

// Runtime executes a single map_reduce node.
type Runtime struct {
	store    store.Store
	registry *functions.Registry
	eval     *condition.Evaluator
}

// New constructs a Runtime backed by the given store and function registry.
func New(st store.Store, registry *functions.Registry, eval *condition.Evaluator) *Runtime {
	return &Runtime{store: st, registry: registry, eval: eval}
}

var _ noderuntime.Runtime = (*Runtime)(nil)

type batchResult struct {
	value any
	ok    bool
}

// Run implements noderuntime.Runtime.
func (r *Runtime) Run(ctx context.Context, f noderuntime.Facade) {
	cfg, err := ParseConfig(f.Config())
	if err != nil {
		f.Fail(ctx, model.CodeOf(err), err.Error())
		return
	}

	inputs, err := f.Inputs(ctx)
	if err != nil {
		f.Fail(ctx, model.ErrNoInputData, err.Error())
		return
	}
	items, err := selectItems(inputs, cfg.SourceArrayKey)
	if err != nil {
		f.Fail(ctx, model.CodeOf(err), err.Error())
		return
	}

	parent, err := r.store.GetNode(ctx, f.DataflowID(), f.NodeID())
	if err != nil {
		f.Fail(ctx, model.ErrTemplateDiscoveryFailed, err.Error())
		return
	}

	graph, err := template.Build(ctx, r.store, f.DataflowID(), f.NodeID())
	if err != nil {
		f.Fail(ctx, model.CodeOf(err), err.Error())
		return
	}

	var successes, failures []any
	var collectedErrors []string

	for start := 0; start < len(items); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(items) {
			end = len(items)
		}

		clones, err := iterator.CreateBatch(parent, graph, items, start, end, cfg.IterationInputKey)
		if err != nil {
			f.Fail(ctx, model.ErrIterationFailed, err.Error())
			return
		}

		var batchCmds []model.Command
		var runNodes []string
		var iterationNodeIDs [][]string
		for _, c := range clones {
			batchCmds = append(batchCmds, c.NodeCommands...)
			batchCmds = append(batchCmds, c.DataCommands...)
			runNodes = append(runNodes, c.RootNodeIDs...)
			iterationNodeIDs = append(iterationNodeIDs, cloneNodeIDs(c))
		}

		if err := f.Command(ctx, batchCmds); err != nil {
			f.Fail(ctx, model.ErrIterationFailed, err.Error())
			return
		}

		if err := f.Yield(ctx, runNodes); err != nil {
			f.Fail(ctx, model.ErrIterationFailed, err.Error())
			return
		}

		for _, nodeIDs := range iterationNodeIDs {
			result, failed, errMsg := r.collectIteration(ctx, f.DataflowID(), nodeIDs, cfg)
			if failed {
				failures = append(failures, map[string]any{"error": errMsg})
				collectedErrors = append(collectedErrors, errMsg)
				if cfg.FailureStrategy == FailFast {
					f.Fail(ctx, model.ErrIterationFailed, errMsg)
					return
				}
				continue
			}
			if result.ok {
				successes = append(successes, result.value)
			}
		}
	}

	final := assembleResult(successes, failures, len(items), cfg)
	final, err = runReductionSteps(ctx, cfg.ReductionSteps, r.registry, final)
	if err != nil {
		f.Fail(ctx, model.CodeOf(err), err.Error())
		return
	}

	if cfg.FailureStrategy == CollectErrors && len(collectedErrors) > 0 {
		if m, ok := final.(map[string]any); ok {
			m["errors"] = collectedErrors
		}
	}

	f.Complete(ctx, final, "")
}

func cloneNodeIDs(c *iterator.Clone) []string {
	ids := make([]string, 0, len(c.NodeCommands))
	for _, cmd := range c.NodeCommands {
		if id, ok := cmd.Payload["node_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// collectIteration reads every node.output item for the iteration's clones,
// applies item_steps, and reports whether the iteration failed.
func (r *Runtime) collectIteration(ctx context.Context, dataflowID string, nodeIDs []string, cfg *Config) (result batchResult, failed bool, errMsg string) {
	resolve := func(ctx context.Context, nodeID string) ([]*model.Data, error) {
		node, err := r.store.GetNode(ctx, dataflowID, nodeID)
		if err != nil {
			return nil, err
		}
		if node.Status == model.NodeFailed {
			msg, _ := node.Metadata["error_message"].(string)
			return nil, model.NewError(model.ErrIterationFailed, "clone %s failed: %s", nodeID, msg)
		}
		return r.store.ListData(ctx, dataflowID, model.ListFilter{NodeID: nodeID, DataType: string(model.DataNodeOutput)})
	}

	value, err := iterator.CollectResults(ctx, resolve, nodeIDs)
	if err != nil {
		return batchResult{}, true, err.Error()
	}

	value, keep, err := runItemSteps(ctx, cfg.ItemSteps, r.registry, r.eval, value)
	if err != nil {
		return batchResult{}, true, err.Error()
	}
	return batchResult{value: value, ok: keep}, false, ""
}

func assembleResult(successes, failures []any, total int, cfg *Config) any {
	if cfg.FailureStrategy == IgnoreFailures && cfg.ReductionExtract == ExtractNone {
		return successes
	}

	raw := map[string]any{
		"successes":        successes,
		"failures":         failures,
		"success_count":    len(successes),
		"failure_count":    len(failures),
		"total_iterations": total,
	}

	switch cfg.ReductionExtract {
	case ExtractSuccesses:
		return toAnySlice(successes)
	case ExtractFailures:
		return toAnySlice(failures)
	case ExtractAll:
		return append(append([]any{}, successes...), failures...)
	default:
		return raw
	}
}

func toAnySlice(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}

// selectItems extracts the iteration items from the node's selected input:
// if sourceArrayKey is set, it names a key of the (merged) input object;
// otherwise the input itself must already be the array.
func selectItems(inputs []*model.Data, sourceArrayKey string) ([]any, error) {
	if len(inputs) == 0 {
		return nil, model.NewError(model.ErrNoInputData, "map-reduce node has no input data")
	}

	var input any = inputs[0].Content
	if len(inputs) > 1 || sourceArrayKey != "" {
		merged := make(map[string]any, len(inputs))
		for _, in := range inputs {
			key := in.Key
			if key == "" {
				key = "default"
			}
			merged[key] = in.Content
		}
		input = merged
	}

	if sourceArrayKey == "" {
		arr, ok := input.([]any)
		if !ok {
			return nil, model.NewError(model.ErrMissingSourceArrayKey, "input is not an array and source_array_key was not set")
		}
		return arr, nil
	}

	m, ok := input.(map[string]any)
	if !ok {
		return nil, model.NewError(model.ErrMissingSourceArrayKey, "source_array_key %q set but input is not an object", sourceArrayKey)
	}
	arr, ok := m[sourceArrayKey].([]any)
	if !ok {
		return nil, model.NewError(model.ErrMissingSourceArrayKey, "input object has no array at key %q", sourceArrayKey)
	}
	return arr, nil
}
