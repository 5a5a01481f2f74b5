package client

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
	"github.com/lyzr/dataflow-engine/internal/dataflow/scheduler"
	"github.com/lyzr/dataflow-engine/internal/dataflow/store"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

func newTestClient(st *store.MemoryStore) *Client {
	registry := functions.NewRegistry()
	eval := condition.NewEvaluator()
	rtr := router.New(eval, nil)
	runtimes := map[string]noderuntime.Runtime{"func": funcnode.New(registry)}
	return New(st, func() *scheduler.Scheduler {
		return scheduler.New(st, rtr, runtimes, nil, nil, nopLogger{}, 4)
	}, nil)
}

func TestCreateWorkflowAndExecute_Success(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestClient(st)

	id, err := c.CreateWorkflow(context.Background(), "alice", []model.Command{
		{Type: model.CommandCreateNode, Payload: map[string]any{
			"node_id": "n1", "node_type": "func", "status": "pending",
			"config": map[string]any{"func_id": "echo"},
		}},
		{Type: model.CommandCreateData, Payload: map[string]any{
			"data_id": model.NewID(), "data_type": string(model.DataNodeInput), "node_id": "n1",
			"key": "default", "content": "hello", "content_type": model.ContentText,
		}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := c.Execute(ctx, id)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, model.DataflowCompleted, result.Status)

	node, err := st.GetNode(context.Background(), id, "n1")
	require.NoError(t, err)
	assert.Equal(t, model.NodeCompleted, node.Status)
}

func TestCreateWorkflowAndExecute_MissingFuncIDFailsDataflow(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestClient(st)

	id, err := c.CreateWorkflow(context.Background(), "alice", []model.Command{
		{Type: model.CommandCreateNode, Payload: map[string]any{
			"node_id": "n1", "node_type": "func", "status": "pending",
			"config": map[string]any{},
		}},
		{Type: model.CommandCreateData, Payload: map[string]any{
			"data_id": model.NewID(), "data_type": string(model.DataNodeInput), "node_id": "n1",
			"key": "default", "content": "hello", "content_type": model.ContentText,
		}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := c.Execute(ctx, id)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, model.DataflowFailed, result.Status)
}
