// Package store defines the durable repository contract for dataflows,
// nodes, data items, and the command log, plus the single transactional
// write primitive every other component funnels mutations through.
package store

import (
	"context"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

// Store is the durable repository for dataflows, nodes, data items, and an
// append-only command log. Node and data writes go through AppendCommands
// so that a node's output and its status change land in one transaction;
// the dataflow's own top-level status is the one exception (see
// UpdateDataflowStatus).
type Store interface {
	GetDataflow(ctx context.Context, id string) (*model.Dataflow, error)
	ListDataflows(ctx context.Context, filter model.ListFilter) ([]*model.Dataflow, error)

	GetNode(ctx context.Context, dataflowID, id string) (*model.Node, error)
	ListNodes(ctx context.Context, dataflowID string, filter model.ListFilter) ([]*model.Node, error)

	GetData(ctx context.Context, dataflowID, id string, resolveReferences bool) (*model.Data, error)
	ListData(ctx context.Context, dataflowID string, filter model.ListFilter) ([]*model.Data, error)

	// AppendCommands performs compare-and-swap on the per-dataflow sequence
	// counter, applies every command in the batch in one transaction, and
	// returns the commands as persisted (with their assigned Seq/AppliedAt).
	// sequenceExpected is the caller's belief about the last applied
	// sequence number; a mismatch returns an EngineError with model.ErrConflict.
	AppendCommands(ctx context.Context, dataflowID string, sequenceExpected int64, commands []model.Command) ([]model.Command, error)

	// LastSequence returns the highest applied sequence number for a
	// dataflow (0 if none have been applied yet).
	LastSequence(ctx context.Context, dataflowID string) (int64, error)

	// ReplayCommands returns every applied command for a dataflow with
	// Seq > afterSeq, in order, for crash-recovery replay (§4.2).
	ReplayCommands(ctx context.Context, dataflowID string, afterSeq int64) ([]model.Command, error)

	// CreateDataflow inserts the initial dataflow row; it does not go
	// through AppendCommands since it precedes the first command.
	CreateDataflow(ctx context.Context, df *model.Dataflow) error

	// UpdateDataflowStatus persists the dataflow's top-level status and
	// bumps UpdatedAt. It does not go through AppendCommands: the scheduler
	// derives the dataflow's status from the nodes it already wrote through
	// AppendCommands, rather than this being part of the node/data state machine.
	UpdateDataflowStatus(ctx context.Context, dataflowID string, status model.DataflowStatus) error

	// GetTemplatePatch returns the most recently applied template-patch
	// operations (§2.3 of the expanded spec) scoped to parentNodeID, if
	// any has been recorded for this dataflow.
	GetTemplatePatch(ctx context.Context, dataflowID, parentNodeID string) (operations []map[string]any, ok bool, err error)
}
