// Package noderuntime declares the contract between the scheduler and a
// node type's execution logic (the function-node and map-reduce runtimes),
// so neither runtime needs to import the scheduler package directly.
package noderuntime

import (
	"context"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

// Facade is the minimal view of the scheduler a runtime needs: read its own
// config and inputs, produce data, yield to children, and report its own
// terminal outcome. The scheduler constructs one per dispatch.
type Facade interface {
	NodeID() string
	DataflowID() string

	// Config returns the dispatched node's config map.
	Config() map[string]any

	// Inputs returns every node.input data item owned by this node, with
	// one-hop references already resolved.
	Inputs(ctx context.Context) ([]*model.Data, error)

	// CreateData appends a single data item not tied to node completion.
	CreateData(ctx context.Context, d model.Data) error

	// Command applies an arbitrary batch of commands in one transaction,
	// for runtimes that need to emit more than a single data item (the
	// map-reduce runtime's per-batch clone creation).
	Command(ctx context.Context, cmds []model.Command) error

	// Yield suspends this node until every identifier in runNodes reaches a
	// terminal status, then resumes Run with the same context.
	Yield(ctx context.Context, runNodes []string) error

	// Complete routes result through the Data Router and marks the node
	// completed, in one command batch.
	Complete(ctx context.Context, result any, message string) error

	// Fail routes through the error targets and marks the node failed; the
	// control codes function_canceled/node_canceled instead mark the node
	// canceled without routing.
	Fail(ctx context.Context, code model.ErrorCode, message string) error

	// Cancelled is closed when the scheduler has signalled cancellation for
	// this specific node (dataflow cancel/terminate, or an individual
	// node-level cancel).
	Cancelled() <-chan struct{}
}

// Runtime executes one node type. Run blocks until the node reaches a
// terminal outcome (having called Complete or Fail on the facade) or
// observes Cancelled() and reports model.ErrNodeCanceled/ErrFunctionCanceled.
type Runtime interface {
	Run(ctx context.Context, f Facade)
}
