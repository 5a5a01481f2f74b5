// Package commandlog implements takeover/crash-recovery bootstrap (§4.2): a
// process picking up a dataflow whose previous Scheduler crashed mid-run
// must reconcile the command log and node table before handing the
// dataflow to a fresh Scheduler.Run call.
//
// A running Scheduler's single-writer loop is the only writer for a
// dataflow, and every node in the running status is driven by a goroutine
// owned by that loop. When the process hosting it dies, those goroutines
// die with it: the running status on disk no longer corresponds to any
// live work. Recover finds every such orphaned node and fails it, so the
// resumed Scheduler's normal routing (error_targets, or surfacing the
// failure to the dataflow's terminal status) takes over from a consistent
// state instead of waiting forever on a node nothing will ever complete.
package commandlog

import (
	"context"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/store"
)

// SuspensionMirror is the subset of scheduler.SuspensionMirror Recover needs
// to clear stale entries for nodes it reconciles. Declared locally (rather
// than imported from scheduler) to avoid a commandlog -> scheduler import;
// scheduler.RedisMirror satisfies it.
type SuspensionMirror interface {
	ClearSuspension(ctx context.Context, dataflowID, parentNodeID string) error
}

// Report describes what Recover did, for logging and tests.
type Report struct {
	DataflowID    string
	OrphanedNodes []string
}

// Recover lists every node for dataflowID still in the running status,
// fails each one with model.ErrBackend, and clears any mirrored suspension
// naming it as a parent. It is idempotent: calling it again after a clean
// resume (no running nodes left) returns an empty Report.
func Recover(ctx context.Context, st store.Store, mirror SuspensionMirror, dataflowID string) (Report, error) {
	report := Report{DataflowID: dataflowID}

	nodes, err := st.ListNodes(ctx, dataflowID, model.ListFilter{Status: string(model.NodeRunning)})
	if err != nil {
		return report, err
	}
	if len(nodes) == 0 {
		return report, nil
	}

	seq, err := st.LastSequence(ctx, dataflowID)
	if err != nil {
		return report, err
	}

	cmds := make([]model.Command, 0, len(nodes))
	for _, n := range nodes {
		cmds = append(cmds, model.Command{
			Type: model.CommandFailNode,
			Payload: map[string]any{
				"node_id":       n.ID,
				"error_code":    string(model.ErrBackend),
				"error_message": "node was running when its scheduler process stopped and cannot be resumed in place",
			},
		})
		report.OrphanedNodes = append(report.OrphanedNodes, n.ID)
	}

	if _, err := st.AppendCommands(ctx, dataflowID, seq, cmds); err != nil {
		return report, err
	}

	if mirror != nil {
		for _, n := range nodes {
			// Best effort: a stale mirror entry is harmless once the node
			// it names is terminal, since the resumed Scheduler only ever
			// consults the mirror through a fresh Run's in-memory state.
			_ = mirror.ClearSuspension(ctx, dataflowID, n.ID)
		}
	}

	return report, nil
}
