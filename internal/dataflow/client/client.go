// Package client provides the synchronous façade over the scheduler (§4.10):
// create a dataflow from an initial command batch, execute it to
// completion, and cancel or terminate a running execution.
package client

import (
	"context"
	"sync"

	"github.com/lyzr/dataflow-engine/internal/dataflow/commandlog"
	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/scheduler"
	"github.com/lyzr/dataflow-engine/internal/dataflow/store"
)

// SchedulerFactory builds a fresh Scheduler for one dataflow run. The
// engine constructs one per Execute call (or reuses an attached run, for
// a dataflow already executing) rather than the Client owning scheduling
// policy directly.
type SchedulerFactory func() *scheduler.Scheduler

// Client is the engine's external entry point.
type Client struct {
	store   store.Store
	factory SchedulerFactory
	mirror  commandlog.SuspensionMirror

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	status model.DataflowStatus
	err    error
}

// New constructs a Client backed by st, using factory to build a Scheduler
// per dataflow execution. mirror may be nil; when set, Execute reconciles
// orphaned running nodes (§4.2) before attaching a fresh Scheduler to a
// dataflow not already tracked in this process.
func New(st store.Store, factory SchedulerFactory, mirror commandlog.SuspensionMirror) *Client {
	return &Client{store: st, factory: factory, mirror: mirror, runs: make(map[string]*run)}
}

// CreateWorkflow validates and applies the initial command batch (the root
// node(s) plus their seed node.input items) and returns the new dataflow's
// identifier.
func (c *Client) CreateWorkflow(ctx context.Context, owner string, commands []model.Command) (string, error) {
	df := &model.Dataflow{ID: model.NewID(), Owner: owner, Status: model.DataflowPending}
	if err := c.store.CreateDataflow(ctx, df); err != nil {
		return "", err
	}
	if _, err := c.store.AppendCommands(ctx, df.ID, 0, commands); err != nil {
		return "", err
	}
	return df.ID, nil
}

// ExecuteResult is the outcome of a completed Execute call.
type ExecuteResult struct {
	Success bool
	Status  model.DataflowStatus
	Err     error
}

// Execute starts (or attaches to) the scheduler for dataflowID and blocks
// until it reaches a terminal status.
func (c *Client) Execute(ctx context.Context, dataflowID string) (ExecuteResult, error) {
	c.mu.Lock()
	r, attached := c.runs[dataflowID]
	if !attached {
		runCtx, cancel := context.WithCancel(context.Background())
		r = &run{cancel: cancel, done: make(chan struct{})}
		c.runs[dataflowID] = r
		sched := c.factory()
		go func() {
			if _, err := commandlog.Recover(runCtx, c.store, c.mirror, dataflowID); err != nil {
				r.status, r.err = model.DataflowFailed, err
				close(r.done)
				return
			}
			status, err := sched.Run(runCtx, dataflowID)
			r.status, r.err = status, err
			close(r.done)
		}()
	}
	c.mu.Unlock()

	select {
	case <-r.done:
		return ExecuteResult{Success: r.err == nil && r.status != model.DataflowFailed, Status: r.status, Err: r.err}, nil
	case <-ctx.Done():
		return ExecuteResult{}, ctx.Err()
	}
}

// Cancel requests a graceful cancellation of dataflowID and blocks until
// every non-terminal node is marked canceled or timeout elapses.
func (c *Client) Cancel(ctx context.Context, dataflowID string) error {
	c.mu.Lock()
	r, ok := c.runs[dataflowID]
	c.mu.Unlock()
	if !ok {
		return model.NewError(model.ErrNotFound, "no active run for dataflow %s", dataflowID)
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return model.NewError(model.ErrBackend, "cancel timed out waiting for dataflow %s to settle", dataflowID)
	}
}

// Terminate requests immediate termination: the scheduler stops dispatching
// new work, and running workers observe their cancellation tokens at their
// next suspension point. Terminate does not wait for workers to settle.
func (c *Client) Terminate(ctx context.Context, dataflowID string) error {
	c.mu.Lock()
	r, ok := c.runs[dataflowID]
	c.mu.Unlock()
	if !ok {
		return model.NewError(model.ErrNotFound, "no active run for dataflow %s", dataflowID)
	}
	r.cancel()
	return nil
}
