// Package scheduler is the single-writer-per-dataflow dispatch loop (§4.9):
// it owns the ready queue, the running set, and the suspension table, and
// is the only component that appends commands to the Store for a running
// dataflow. Node type runtimes (funcnode, mapreduce) execute in their own
// goroutine per dispatch and talk back to the loop only through the
// noderuntime.Facade this package implements.
package scheduler

import (
	"context"
	"runtime"
	"sync"

	"github.com/lyzr/dataflow-engine/internal/dataflow/lifecycle"
	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/noderuntime"
	"github.com/lyzr/dataflow-engine/internal/dataflow/router"
	"github.com/lyzr/dataflow-engine/internal/dataflow/store"
)

// Logger is the minimal logging surface the scheduler needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// SuspensionMirror mirrors the suspension table into a side channel (Redis)
// so a takeover process can rebuild it without rescanning the command log.
// Nil disables mirroring.
type SuspensionMirror interface {
	SetSuspension(ctx context.Context, dataflowID, parentNodeID string, childNodeIDs []string) error
	ClearSuspension(ctx context.Context, dataflowID, parentNodeID string) error
}

// DefaultConcurrency is max(2, 2*CPU) per §4.9/§5.
func DefaultConcurrency() int {
	c := 2 * runtime.NumCPU()
	if c < 2 {
		return 2
	}
	return c
}

type applyRequest struct {
	cmds []model.Command
	resp chan applyResponse
}

type applyResponse struct {
	applied []model.Command
	err     error
}

type workerDone struct {
	nodeID string
	status model.NodeStatus
}

type yieldRequest struct {
	parentNodeID string
	childNodeIDs []string
	resp         chan struct{}
}

// Scheduler runs the dispatch loop for exactly one dataflow.
type Scheduler struct {
	store      store.Store
	router     *router.Router
	runtimes   map[string]noderuntime.Runtime
	publisher  *lifecycle.Publisher
	mirror     SuspensionMirror
	logger     Logger
	concurrency int

	dataflowID string

	applyCh  chan applyRequest
	doneCh   chan workerDone
	yieldCh  chan yieldRequest

	mu         sync.Mutex
	nodeCancel map[string]chan struct{}
}

// New constructs a Scheduler for one dataflow. runtimes maps a node's Type
// to the noderuntime.Runtime that executes it; mirror and publisher may be
// nil (mirroring and lifecycle events become no-ops).
func New(st store.Store, rtr *router.Router, runtimes map[string]noderuntime.Runtime, publisher *lifecycle.Publisher, mirror SuspensionMirror, logger Logger, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency()
	}
	return &Scheduler{
		store:       st,
		router:      rtr,
		runtimes:    runtimes,
		publisher:   publisher,
		mirror:      mirror,
		logger:      logger,
		concurrency: concurrency,
		applyCh:     make(chan applyRequest),
		doneCh:      make(chan workerDone, 16),
		yieldCh:     make(chan yieldRequest),
		nodeCancel:  make(map[string]chan struct{}),
	}
}

// Run drives dataflowID to completion (or ctx cancellation) and returns the
// dataflow's final status. It blocks until no node is pending or running.
//
// Run assumes every node already in the running status has a live goroutine
// driving it (true for a Scheduler that has owned the dataflow since it last
// left the pending/running boundary). A takeover process resuming a dataflow
// after its original Scheduler crashed has no such goroutine and must first
// reconcile orphaned running nodes - see the commandlog package - before
// calling Run again.
func (s *Scheduler) Run(ctx context.Context, dataflowID string) (model.DataflowStatus, error) {
	s.dataflowID = dataflowID

	if err := s.transitionDataflow(ctx, dataflowID, model.DataflowRunning); err != nil {
		return "", err
	}

	running := make(map[string]bool)
	suspensions := make(map[string]*yieldRequest)
	suspensionPending := make(map[string]map[string]bool)
	// terminalSeen records nodes that reached a terminal status before any
	// suspension was registered for them: a yield's children can finish
	// between the yielding node's Command call and its Yield call reaching
	// the loop, since each dispatched node runs in its own goroutine.
	terminalSeen := make(map[string]bool)

	for {
		ready, err := s.computeReady(ctx)
		if err != nil {
			return "", err
		}

		for _, n := range ready {
			if len(running) >= s.concurrency {
				break
			}
			if running[n.ID] {
				continue
			}
			running[n.ID] = true
			s.dispatch(ctx, n)
		}

		if len(running) == 0 && len(suspensions) == 0 {
			status := s.terminalStatus(ctx, dataflowID)
			if err := s.transitionDataflow(ctx, dataflowID, status); err != nil {
				return "", err
			}
			return status, nil
		}

		select {
		case <-ctx.Done():
			s.cancelAll()
			// ctx is already Done: use a detached context so the
			// cancellation outcome still lands in the store.
			bg := context.Background()
			if err := s.transitionDataflow(bg, dataflowID, model.DataflowCanceled); err != nil {
				s.logger.Error("failed to persist canceled dataflow status", "dataflow_id", dataflowID, "error", err)
			}
			return model.DataflowCanceled, ctx.Err()

		case req := <-s.applyCh:
			applied, err := s.applyBatch(ctx, req.cmds)
			req.resp <- applyResponse{applied: applied, err: err}

		case d := <-s.doneCh:
			delete(running, d.nodeID)
			matched := false
			for parent, pending := range suspensionPending {
				if _, ok := pending[d.nodeID]; ok {
					matched = true
					delete(pending, d.nodeID)
					if len(pending) == 0 {
						if sus, ok := suspensions[parent]; ok {
							close(sus.resp)
							delete(suspensions, parent)
						}
						delete(suspensionPending, parent)
						if s.mirror != nil {
							s.mirror.ClearSuspension(ctx, dataflowID, parent)
						}
					}
				}
			}
			if !matched {
				terminalSeen[d.nodeID] = true
			}

		case y := <-s.yieldCh:
			pending := make(map[string]bool, len(y.childNodeIDs))
			for _, id := range y.childNodeIDs {
				if terminalSeen[id] {
					delete(terminalSeen, id)
					continue
				}
				pending[id] = true
			}
			if len(pending) == 0 {
				close(y.resp)
				continue
			}
			suspensions[y.parentNodeID] = &y
			suspensionPending[y.parentNodeID] = pending
			if s.mirror != nil {
				s.mirror.SetSuspension(ctx, dataflowID, y.parentNodeID, y.childNodeIDs)
			}
		}
	}
}

// computeReady lists pending nodes whose inputs are satisfied: at least one
// node.input item exists, per §4.9.
func (s *Scheduler) computeReady(ctx context.Context) ([]*model.Node, error) {
	nodes, err := s.store.ListNodes(ctx, s.dataflowID, model.ListFilter{Status: string(model.NodePending)})
	if err != nil {
		return nil, err
	}
	var ready []*model.Node
	for _, n := range nodes {
		inputs, err := s.store.ListData(ctx, s.dataflowID, model.ListFilter{NodeID: n.ID, DataType: string(model.DataNodeInput)})
		if err != nil {
			return nil, err
		}
		if len(inputs) > 0 {
			ready = append(ready, n)
		}
	}
	return ready, nil
}

func (s *Scheduler) terminalStatus(ctx context.Context, dataflowID string) model.DataflowStatus {
	nodes, err := s.store.ListNodes(ctx, dataflowID, model.ListFilter{})
	if err != nil {
		return model.DataflowFailed
	}
	for _, n := range nodes {
		if n.Status == model.NodeFailed && n.ParentNodeID == "" {
			return model.DataflowFailed
		}
	}
	return model.DataflowCompleted
}

// transitionDataflow persists dataflowID's top-level status and publishes
// the matching lifecycle event; a status already in effect is a no-op. This
// is the only place the dataflow's Store row is written, called both at the
// start of a run (pending -> running) and at every terminal outcome
// (completed/failed/canceled).
func (s *Scheduler) transitionDataflow(ctx context.Context, dataflowID string, status model.DataflowStatus) error {
	df, err := s.store.GetDataflow(ctx, dataflowID)
	if err != nil {
		return err
	}
	if df.Status == status {
		return nil
	}
	if err := s.store.UpdateDataflowStatus(ctx, dataflowID, status); err != nil {
		return err
	}
	df.Status = status
	if evt, ok := lifecycle.EventForStatus(status); ok && s.publisher != nil {
		s.publisher.Publish(ctx, df, evt)
	}
	return nil
}

// dispatch marks n running and spawns its runtime in its own goroutine.
func (s *Scheduler) dispatch(ctx context.Context, n *model.Node) {
	rt, ok := s.runtimes[n.Type]
	if !ok {
		s.logger.Error("no runtime registered for node type", "type", n.Type, "node_id", n.ID)
		return
	}

	if _, err := s.applyBatch(ctx, []model.Command{{
		Type:    model.CommandUpdateNodeStatus,
		Payload: map[string]any{"node_id": n.ID, "status": string(model.NodeRunning)},
	}}); err != nil {
		s.logger.Error("failed to mark node running", "node_id", n.ID, "error", err)
		return
	}

	s.mu.Lock()
	cancel := make(chan struct{})
	s.nodeCancel[n.ID] = cancel
	s.mu.Unlock()

	f := &facade{sched: s, nodeID: n.ID, config: n.Config, cancelled: cancel}

	go func() {
		rt.Run(ctx, f)
		final, err := s.store.GetNode(ctx, s.dataflowID, n.ID)
		status := model.NodeFailed
		if err == nil {
			status = final.Status
		}
		s.doneCh <- workerDone{nodeID: n.ID, status: status}
	}()
}

// applyBatch writes a command batch straight to the store at the current
// sequence. Only Run's own goroutine calls it (its apply branch, dispatch
// and cancelAll); worker goroutines go through requestApply instead.
func (s *Scheduler) applyBatch(ctx context.Context, cmds []model.Command) ([]model.Command, error) {
	seq, err := s.store.LastSequence(ctx, s.dataflowID)
	if err != nil {
		return nil, err
	}
	return s.store.AppendCommands(ctx, s.dataflowID, seq, cmds)
}

// requestApply is how a worker goroutine (via its facade) asks the loop to apply
// a batch; it blocks until the loop has processed it.
func (s *Scheduler) requestApply(ctx context.Context, cmds []model.Command) ([]model.Command, error) {
	resp := make(chan applyResponse, 1)
	select {
	case s.applyCh <- applyRequest{cmds: cmds, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.applied, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// requestYield is how a worker's Yield call registers a suspension and
// blocks until every child reaches a terminal status.
func (s *Scheduler) requestYield(ctx context.Context, parentNodeID string, childNodeIDs []string) error {
	resp := make(chan struct{})
	req := yieldRequest{parentNodeID: parentNodeID, childNodeIDs: childNodeIDs, resp: resp}
	select {
	case s.yieldCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cancelAll closes every dispatched node's cancellation channel and
// synchronously marks every non-terminal node canceled in the Store. It
// runs from the ctx.Done() branch of Run, after which nothing will ever
// drain applyCh/doneCh again, so it writes directly (like dispatch) rather
// than going through requestApply. It uses a context detached from the
// dataflow's (already-canceled) run context so the write still lands.
func (s *Scheduler) cancelAll() {
	s.mu.Lock()
	for id, ch := range s.nodeCancel {
		select {
		case <-ch:
		default:
			close(ch)
		}
		delete(s.nodeCancel, id)
	}
	s.mu.Unlock()

	ctx := context.Background()
	nodes, err := s.store.ListNodes(ctx, s.dataflowID, model.ListFilter{})
	if err != nil {
		s.logger.Error("failed to list nodes for cancellation", "dataflow_id", s.dataflowID, "error", err)
		return
	}
	var cmds []model.Command
	for _, n := range nodes {
		if n.Status.Terminal() || n.Status == model.NodeTemplate {
			continue
		}
		cmds = append(cmds, model.Command{
			Type:    model.CommandUpdateNodeStatus,
			Payload: map[string]any{"node_id": n.ID, "status": string(model.NodeCanceled)},
		})
	}
	if len(cmds) == 0 {
		return
	}
	if _, err := s.applyBatch(ctx, cmds); err != nil {
		s.logger.Error("failed to mark nodes canceled", "dataflow_id", s.dataflowID, "error", err)
	}
}

// CancelNode closes one dispatched node's cancellation channel. Dataflow-wide
// cancellation does not use it; Run's ctx.Done branch calls cancelAll.
func (s *Scheduler) CancelNode(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.nodeCancel[nodeID]; ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}
