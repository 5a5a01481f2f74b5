package mapreduce

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/dataflow-engine/internal/dataflow/condition"
	"github.com/lyzr/dataflow-engine/internal/dataflow/functions"
	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/store"
)

// fakeFacade drives the runtime against a real MemoryStore, simulating the
// scheduler's Yield by immediately "executing" the suspended root nodes
// through onYield before returning control to the runtime.
type fakeFacade struct {
	st         *store.MemoryStore
	dataflowID string
	nodeID     string
	config     map[string]any
	cancelled  chan struct{}

	onYield func(nodeIDs []string) error

	done            chan struct{}
	completedResult any
	completedMsg    string
	failedCode      model.ErrorCode
	failedMsg       string
	commandBatches  int
}

func newFakeFacade(st *store.MemoryStore, dataflowID, nodeID string, config map[string]any) *fakeFacade {
	return &fakeFacade{
		st:         st,
		dataflowID: dataflowID,
		nodeID:     nodeID,
		config:     config,
		cancelled:  make(chan struct{}),
		done:       make(chan struct{}, 1),
	}
}

func (f *fakeFacade) NodeID() string         { return f.nodeID }
func (f *fakeFacade) DataflowID() string     { return f.dataflowID }
func (f *fakeFacade) Config() map[string]any { return f.config }

func (f *fakeFacade) Inputs(ctx context.Context) ([]*model.Data, error) {
	return f.st.ListData(ctx, f.dataflowID, model.ListFilter{NodeID: f.nodeID, DataType: string(model.DataNodeInput)})
}

func (f *fakeFacade) CreateData(ctx context.Context, d model.Data) error {
	return f.applyOne(ctx, model.Command{Type: model.CommandCreateData, Payload: map[string]any{
		"data_id": model.NewID(), "data_type": string(d.DataType), "node_id": d.NodeID,
		"key": d.Key, "content": d.Content, "content_type": d.ContentType,
	}})
}

func (f *fakeFacade) Command(ctx context.Context, cmds []model.Command) error {
	f.commandBatches++
	return f.applyBatch(ctx, cmds)
}

func (f *fakeFacade) Yield(ctx context.Context, runNodes []string) error {
	if f.onYield == nil {
		return nil
	}
	return f.onYield(runNodes)
}

func (f *fakeFacade) Complete(ctx context.Context, result any, message string) error {
	f.completedResult = result
	f.completedMsg = message
	f.done <- struct{}{}
	return nil
}

func (f *fakeFacade) Fail(ctx context.Context, code model.ErrorCode, message string) error {
	f.failedCode = code
	f.failedMsg = message
	f.done <- struct{}{}
	return nil
}

func (f *fakeFacade) Cancelled() <-chan struct{} { return f.cancelled }

func (f *fakeFacade) applyBatch(ctx context.Context, cmds []model.Command) error {
	seq, err := f.st.LastSequence(ctx, f.dataflowID)
	if err != nil {
		return err
	}
	_, err = f.st.AppendCommands(ctx, f.dataflowID, seq, cmds)
	return err
}

func (f *fakeFacade) applyOne(ctx context.Context, cmd model.Command) error {
	return f.applyBatch(ctx, []model.Command{cmd})
}

// completeEachAs marks every root node completed and writes node.output
// content for it, simulating a trivial pass-through function node.
func completeEachAs(st *store.MemoryStore, dataflowID string, transform func(nodeID string) any) func([]string) error {
	return func(nodeIDs []string) error {
		ctx := context.Background()
		for _, id := range nodeIDs {
			seq, err := st.LastSequence(ctx, dataflowID)
			if err != nil {
				return err
			}
			cmds := []model.Command{
				{Type: model.CommandUpdateNodeStatus, Payload: map[string]any{"node_id": id, "status": "running"}},
				{Type: model.CommandCreateData, Payload: map[string]any{
					"data_id": model.NewID(), "data_type": string(model.DataNodeOutput), "node_id": id,
					"content": transform(id), "content_type": model.ContentJSON,
				}},
				{Type: model.CommandCompleteNode, Payload: map[string]any{"node_id": id}},
			}
			if _, err := st.AppendCommands(ctx, dataflowID, seq, cmds); err != nil {
				return err
			}
		}
		return nil
	}
}

func failFirst(st *store.MemoryStore, dataflowID string) func([]string) error {
	return func(nodeIDs []string) error {
		ctx := context.Background()
		for i, id := range nodeIDs {
			seq, err := st.LastSequence(ctx, dataflowID)
			if err != nil {
				return err
			}
			var cmd model.Command
			if i == 0 {
				cmd = model.Command{Type: model.CommandFailNode, Payload: map[string]any{
					"node_id": id, "error_code": "boom", "error_message": "simulated failure",
				}}
			} else {
				cmd = model.Command{Type: model.CommandCompleteNode, Payload: map[string]any{"node_id": id}}
			}
			if _, err := st.AppendCommands(ctx, dataflowID, seq, []model.Command{
				{Type: model.CommandUpdateNodeStatus, Payload: map[string]any{"node_id": id, "status": "running"}},
				cmd,
			}); err != nil {
				return err
			}
		}
		return nil
	}
}

func seedMapReduceNode(t *testing.T, st *store.MemoryStore, dataflowID, nodeID string, items []any) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateDataflow(ctx, &model.Dataflow{ID: dataflowID, Owner: "alice", Status: model.DataflowRunning}))

	seq, err := st.LastSequence(ctx, dataflowID)
	require.NoError(t, err)
	cmds := []model.Command{
		{Type: model.CommandCreateNode, Payload: map[string]any{
			"node_id": nodeID, "node_type": "map_reduce", "status": "running",
		}},
		{Type: model.CommandCreateNode, Payload: map[string]any{
			"node_id": "tmpl1", "node_type": "func", "status": "template", "parent_node_id": nodeID,
			"config": map[string]any{},
		}},
		{Type: model.CommandCreateData, Payload: map[string]any{
			"data_id": model.NewID(), "data_type": string(model.DataNodeInput), "node_id": nodeID,
			"key": "default", "content": toAny(items), "content_type": model.ContentJSON,
		}},
	}
	_, err = st.AppendCommands(ctx, dataflowID, seq, cmds)
	require.NoError(t, err)
}

func toAny(items []any) any { return items }

func TestRun_Success(t *testing.T) {
	st := store.NewMemoryStore()
	seedMapReduceNode(t, st, "df1", "mr1", []any{"a", "b", "c"})

	rt := New(st, functions.NewRegistry(), condition.NewEvaluator())
	f := newFakeFacade(st, "df1", "mr1", map[string]any{"batch_size": 1})
	f.onYield = completeEachAs(st, "df1", func(nodeID string) any { return "done:" + nodeID })

	rt.Run(context.Background(), f)
	<-f.done

	require.Empty(t, f.failedCode)
	result, ok := f.completedResult.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, result["success_count"])
	assert.Equal(t, 0, result["failure_count"])
	assert.Equal(t, 3, result["total_iterations"])
	assert.Equal(t, 3, f.commandBatches)
}

func TestRun_InvalidBatchSize(t *testing.T) {
	st := store.NewMemoryStore()
	seedMapReduceNode(t, st, "df1", "mr1", []any{"a"})

	rt := New(st, functions.NewRegistry(), condition.NewEvaluator())
	f := newFakeFacade(st, "df1", "mr1", map[string]any{"batch_size": 0})
	rt.Run(context.Background(), f)
	<-f.done

	assert.Equal(t, model.ErrInvalidBatchSize, f.failedCode)
}

func TestRun_MissingSourceArrayKey(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.CreateDataflow(ctx, &model.Dataflow{ID: "df1", Owner: "alice", Status: model.DataflowRunning}))
	seq, err := st.LastSequence(ctx, "df1")
	require.NoError(t, err)
	_, err = st.AppendCommands(ctx, "df1", seq, []model.Command{
		{Type: model.CommandCreateNode, Payload: map[string]any{"node_id": "mr1", "node_type": "map_reduce", "status": "running"}},
		{Type: model.CommandCreateNode, Payload: map[string]any{"node_id": "tmpl1", "node_type": "func", "status": "template", "parent_node_id": "mr1"}},
		{Type: model.CommandCreateData, Payload: map[string]any{
			"data_id": model.NewID(), "data_type": string(model.DataNodeInput), "node_id": "mr1",
			"content": map[string]any{"not_an_array": 1}, "content_type": model.ContentJSON,
		}},
	})
	require.NoError(t, err)

	rt := New(st, functions.NewRegistry(), condition.NewEvaluator())
	f := newFakeFacade(st, "df1", "mr1", map[string]any{})
	rt.Run(context.Background(), f)
	<-f.done

	assert.Equal(t, model.ErrMissingSourceArrayKey, f.failedCode)
}

func TestRun_FailFastStopsAtFirstFailure(t *testing.T) {
	st := store.NewMemoryStore()
	seedMapReduceNode(t, st, "df1", "mr1", []any{"a", "b", "c"})

	rt := New(st, functions.NewRegistry(), condition.NewEvaluator())
	f := newFakeFacade(st, "df1", "mr1", map[string]any{"batch_size": 1, "failure_strategy": "fail_fast"})
	f.onYield = failFirst(st, "df1")

	rt.Run(context.Background(), f)
	<-f.done

	assert.Equal(t, model.ErrIterationFailed, f.failedCode)
	// Only the first batch's clones were ever created.
	assert.Equal(t, 1, f.commandBatches)
}

func TestRun_IgnoreFailuresCollectsOnlySuccesses(t *testing.T) {
	st := store.NewMemoryStore()
	seedMapReduceNode(t, st, "df1", "mr1", []any{"a", "b"})

	rt := New(st, functions.NewRegistry(), condition.NewEvaluator())
	f := newFakeFacade(st, "df1", "mr1", map[string]any{"batch_size": 2, "failure_strategy": "ignore_failures"})
	f.onYield = failFirst(st, "df1")

	rt.Run(context.Background(), f)
	<-f.done

	require.Empty(t, f.failedCode)
	successes, ok := f.completedResult.([]any)
	require.True(t, ok)
	assert.Len(t, successes, 1)
}
