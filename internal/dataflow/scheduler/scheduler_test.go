package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/dataflow-engine/internal/dataflow/condition"
	"github.com/lyzr/dataflow-engine/internal/dataflow/functions"
	"github.com/lyzr/dataflow-engine/internal/dataflow/funcnode"
	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/noderuntime"
	"github.com/lyzr/dataflow-engine/internal/dataflow/router"
	"github.com/lyzr/dataflow-engine/internal/dataflow/store"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

func newTestScheduler(st store.Store, runtimes map[string]noderuntime.Runtime) *Scheduler {
	rtr := router.New(condition.NewEvaluator(), nil)
	return New(st, rtr, runtimes, nil, nil, nopLogger{}, 4)
}

func seedChain(t *testing.T, st *store.MemoryStore, dataflowID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateDataflow(ctx, &model.Dataflow{ID: dataflowID, Owner: "alice", Status: model.DataflowRunning}))

	seq, err := st.LastSequence(ctx, dataflowID)
	require.NoError(t, err)
	_, err = st.AppendCommands(ctx, dataflowID, seq, []model.Command{
		{Type: model.CommandCreateNode, Payload: map[string]any{
			"node_id": "n1", "node_type": "func", "status": "pending",
			"config": map[string]any{
				"func_id": "echo",
				"data_targets": []any{
					map[string]any{"data_type": "node.input", "node_id": "n2"},
				},
			},
		}},
		{Type: model.CommandCreateNode, Payload: map[string]any{
			"node_id": "n2", "node_type": "func", "status": "pending",
			"config": map[string]any{"func_id": "echo"},
		}},
		{Type: model.CommandCreateData, Payload: map[string]any{
			"data_id": model.NewID(), "data_type": string(model.DataNodeInput), "node_id": "n1",
			"key": "default", "content": "hello", "content_type": model.ContentText,
		}},
	})
	require.NoError(t, err)
}

func TestRun_ChainedFuncNodesComplete(t *testing.T) {
	st := store.NewMemoryStore()
	seedChain(t, st, "df1")

	runtimes := map[string]noderuntime.Runtime{"func": funcnode.New(functions.NewRegistry())}
	sched := newTestScheduler(st, runtimes)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status, err := sched.Run(ctx, "df1")
	require.NoError(t, err)
	assert.Equal(t, model.DataflowCompleted, status)

	n2, err := st.GetNode(context.Background(), "df1", "n2")
	require.NoError(t, err)
	assert.Equal(t, model.NodeCompleted, n2.Status)
}

func TestRun_FailedRootNodeFailsDataflow(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.CreateDataflow(ctx, &model.Dataflow{ID: "df1", Owner: "alice", Status: model.DataflowRunning}))
	seq, err := st.LastSequence(ctx, "df1")
	require.NoError(t, err)
	_, err = st.AppendCommands(ctx, "df1", seq, []model.Command{
		{Type: model.CommandCreateNode, Payload: map[string]any{
			"node_id": "n1", "node_type": "func", "status": "pending", "config": map[string]any{},
		}},
		{Type: model.CommandCreateData, Payload: map[string]any{
			"data_id": model.NewID(), "data_type": string(model.DataNodeInput), "node_id": "n1",
			"key": "default", "content": "hello", "content_type": model.ContentText,
		}},
	})
	require.NoError(t, err)

	runtimes := map[string]noderuntime.Runtime{"func": funcnode.New(functions.NewRegistry())}
	sched := newTestScheduler(st, runtimes)

	runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status, err := sched.Run(runCtx, "df1")
	require.NoError(t, err)
	assert.Equal(t, model.DataflowFailed, status)
}

// blockingRuntime blocks until its facade is cancelled, then fails the node
// with model.ErrNodeCanceled - simulating a long-running function node that
// observes cooperative cancellation.
type blockingRuntime struct{ started chan struct{} }

func (r *blockingRuntime) Run(ctx context.Context, f noderuntime.Facade) {
	close(r.started)
	<-f.Cancelled()
	f.Fail(ctx, model.ErrNodeCanceled, "canceled")
}

func TestRun_ContextCancellationStopsDispatch(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.CreateDataflow(ctx, &model.Dataflow{ID: "df1", Owner: "alice", Status: model.DataflowRunning}))
	seq, err := st.LastSequence(ctx, "df1")
	require.NoError(t, err)
	_, err = st.AppendCommands(ctx, "df1", seq, []model.Command{
		{Type: model.CommandCreateNode, Payload: map[string]any{
			"node_id": "n1", "node_type": "slow", "status": "pending", "config": map[string]any{},
		}},
		{Type: model.CommandCreateData, Payload: map[string]any{
			"data_id": model.NewID(), "data_type": string(model.DataNodeInput), "node_id": "n1",
			"key": "default", "content": "hello", "content_type": model.ContentText,
		}},
	})
	require.NoError(t, err)

	slow := &blockingRuntime{started: make(chan struct{})}
	runtimes := map[string]noderuntime.Runtime{"slow": slow}
	sched := newTestScheduler(st, runtimes)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var status model.DataflowStatus
	go func() {
		status, _ = sched.Run(runCtx, "df1")
		close(done)
	}()

	select {
	case <-slow.started:
	case <-time.After(time.Second):
		t.Fatal("node was never dispatched")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, model.DataflowCanceled, status)

	n1, err := st.GetNode(context.Background(), "df1", "n1")
	require.NoError(t, err)
	assert.Equal(t, model.NodeCanceled, n1.Status, "non-terminal node must be marked canceled in the store")

	df, err := st.GetDataflow(context.Background(), "df1")
	require.NoError(t, err)
	assert.Equal(t, model.DataflowCanceled, df.Status, "dataflow status must be persisted, not just returned")
}

func TestDefaultConcurrency_AtLeastTwo(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultConcurrency(), 2)
}
