package scheduler

import (
	"context"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/noderuntime"
	"github.com/lyzr/dataflow-engine/internal/dataflow/router"
)

// facade is the concrete noderuntime.Facade the scheduler hands to a
// dispatched node's runtime. Every mutating call funnels through the
// scheduler's single-writer loop via requestApply/requestYield.
type facade struct {
	sched     *Scheduler
	nodeID    string
	config    map[string]any
	cancelled chan struct{}
}

var _ noderuntime.Facade = (*facade)(nil)

func (f *facade) NodeID() string         { return f.nodeID }
func (f *facade) DataflowID() string     { return f.sched.dataflowID }
func (f *facade) Config() map[string]any { return f.config }

func (f *facade) Inputs(ctx context.Context) ([]*model.Data, error) {
	items, err := f.sched.store.ListData(ctx, f.sched.dataflowID, model.ListFilter{
		NodeID: f.nodeID, DataType: string(model.DataNodeInput),
	})
	if err != nil {
		return nil, err
	}
	resolved := make([]*model.Data, len(items))
	for i, d := range items {
		if !d.IsReference() {
			resolved[i] = d
			continue
		}
		r, err := f.sched.store.GetData(ctx, f.sched.dataflowID, d.ID, true)
		if err != nil {
			return nil, err
		}
		resolved[i] = r
	}
	return resolved, nil
}

func (f *facade) CreateData(ctx context.Context, d model.Data) error {
	_, err := f.sched.requestApply(ctx, []model.Command{{
		Type: model.CommandCreateData,
		Payload: map[string]any{
			"data_id": model.NewID(), "data_type": string(d.DataType), "node_id": d.NodeID,
			"key": d.Key, "content": d.Content, "content_type": d.ContentType,
			"discriminator": d.Discriminator, "metadata": d.Metadata,
		},
	}})
	return err
}

func (f *facade) Command(ctx context.Context, cmds []model.Command) error {
	_, err := f.sched.requestApply(ctx, cmds)
	return err
}

func (f *facade) Yield(ctx context.Context, runNodes []string) error {
	return f.sched.requestYield(ctx, f.nodeID, runNodes)
}

func (f *facade) nodeExists(ctx context.Context) func(id string) bool {
	return func(id string) bool {
		_, err := f.sched.store.GetNode(ctx, f.sched.dataflowID, id)
		return err == nil
	}
}

func (f *facade) Complete(ctx context.Context, result any, message string) error {
	node, err := f.sched.store.GetNode(ctx, f.sched.dataflowID, f.nodeID)
	if err != nil {
		return err
	}
	cmds, err := f.sched.router.Route(node, true, result, "data_targets", f.nodeExists(ctx))
	if err != nil {
		return err
	}
	if message != "" {
		cmds[len(cmds)-1].Payload["message"] = message
	}
	_, err = f.sched.requestApply(ctx, cmds)
	return err
}

// Fail routes through the error targets and marks the node failed, except
// for the control-class codes (function_canceled/node_canceled), which
// terminate the node with status canceled and never route to error_targets
// (cancellation never produces an output artifact).
func (f *facade) Fail(ctx context.Context, code model.ErrorCode, message string) error {
	if code == model.ErrFunctionCanceled || code == model.ErrNodeCanceled {
		_, err := f.sched.requestApply(ctx, []model.Command{{
			Type: model.CommandUpdateNodeStatus,
			Payload: map[string]any{
				"node_id": f.nodeID, "status": string(model.NodeCanceled), "reason": message,
			},
		}})
		return err
	}

	node, err := f.sched.store.GetNode(ctx, f.sched.dataflowID, f.nodeID)
	if err != nil {
		return err
	}
	errVal := router.NewErrorValue(model.NewError(code, "%s", message), nil)
	cmds, err := f.sched.router.Route(node, false, errVal, "error_targets", f.nodeExists(ctx))
	if err != nil {
		return err
	}
	_, err = f.sched.requestApply(ctx, cmds)
	return err
}

func (f *facade) Cancelled() <-chan struct{} { return f.cancelled }
