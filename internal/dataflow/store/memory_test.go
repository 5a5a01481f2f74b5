package store

import (
	"context"
	"testing"
	"time"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDataflow(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	require.NoError(t, s.CreateDataflow(context.Background(), &model.Dataflow{
		ID:        id,
		Owner:     "alice",
		Status:    model.DataflowPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))
}

func TestUpdateDataflowStatus_PersistsAndBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	newTestDataflow(t, s, "df1")

	before, err := s.GetDataflow(ctx, "df1")
	require.NoError(t, err)

	require.NoError(t, s.UpdateDataflowStatus(ctx, "df1", model.DataflowRunning))

	after, err := s.GetDataflow(ctx, "df1")
	require.NoError(t, err)
	assert.Equal(t, model.DataflowRunning, after.Status)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt) || after.UpdatedAt.Equal(before.UpdatedAt))
}

func TestUpdateDataflowStatus_UnknownDataflowNotFound(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpdateDataflowStatus(context.Background(), "missing", model.DataflowRunning)
	require.Error(t, err)
	assert.Equal(t, model.ErrNotFound, model.CodeOf(err))
}

func TestAppendCommands_CreateNodeAndData(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	newTestDataflow(t, s, "df1")

	applied, err := s.AppendCommands(ctx, "df1", 0, []model.Command{
		{Type: model.CommandCreateNode, Payload: map[string]any{
			"node_id": "n1", "node_type": "func", "status": "pending",
		}},
		{Type: model.CommandCreateData, Payload: map[string]any{
			"data_id": "d1", "data_type": "node.input", "node_id": "n1", "content": "hi", "content_type": "text/plain",
		}},
	})
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, int64(1), applied[0].Seq)
	assert.Equal(t, int64(2), applied[1].Seq)

	n, err := s.GetNode(ctx, "df1", "n1")
	require.NoError(t, err)
	assert.Equal(t, model.NodePending, n.Status)

	d, err := s.GetData(ctx, "df1", "d1", false)
	require.NoError(t, err)
	assert.Equal(t, "hi", d.Content)
}

func TestAppendCommands_SequenceConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	newTestDataflow(t, s, "df1")

	_, err := s.AppendCommands(ctx, "df1", 5, []model.Command{
		{Type: model.CommandCreateNode, Payload: map[string]any{"node_id": "n1", "node_type": "func"}},
	})
	require.Error(t, err)
	assert.Equal(t, model.ErrConflict, model.CodeOf(err))
}

func TestAppendCommands_IllegalTransitionRejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	newTestDataflow(t, s, "df1")

	_, err := s.AppendCommands(ctx, "df1", 0, []model.Command{
		{Type: model.CommandCreateNode, Payload: map[string]any{"node_id": "n1", "node_type": "func", "status": "pending"}},
		{Type: model.CommandCompleteNode, Payload: map[string]any{"node_id": "n1"}}, // pending -> completed illegal
	})
	require.Error(t, err)
	assert.Equal(t, model.ErrInvalidTransition, model.CodeOf(err))

	// batch should not have partially applied: sequence counter unchanged
	seq, _ := s.LastSequence(ctx, "df1")
	assert.Equal(t, int64(0), seq)
}

func TestGetData_ReferenceResolution(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	newTestDataflow(t, s, "df1")

	_, err := s.AppendCommands(ctx, "df1", 0, []model.Command{
		{Type: model.CommandCreateData, Payload: map[string]any{
			"data_id": "blob", "data_type": "workflow.input", "content": "big content", "content_type": "text/plain",
		}},
		{Type: model.CommandCreateData, Payload: map[string]any{
			"data_id": "ref", "data_type": "node.input", "node_id": "n1", "content": "blob", "content_type": "dataflow/reference",
		}},
	})
	require.NoError(t, err)

	resolved, err := s.GetData(ctx, "df1", "ref", true)
	require.NoError(t, err)
	assert.Equal(t, "big content", resolved.Content)

	raw, err := s.GetData(ctx, "df1", "ref", false)
	require.NoError(t, err)
	assert.Equal(t, "blob", raw.Content)
}

func TestReplayCommands_IsOrderedAndFiltersByAfterSeq(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	newTestDataflow(t, s, "df1")

	_, err := s.AppendCommands(ctx, "df1", 0, []model.Command{
		{Type: model.CommandCreateNode, Payload: map[string]any{"node_id": "n1", "node_type": "func"}},
	})
	require.NoError(t, err)
	_, err = s.AppendCommands(ctx, "df1", 1, []model.Command{
		{Type: model.CommandUpdateNodeStatus, Payload: map[string]any{"node_id": "n1", "status": "running"}},
	})
	require.NoError(t, err)

	cmds, err := s.ReplayCommands(ctx, "df1", 0)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, int64(1), cmds[0].Seq)
	assert.Equal(t, int64(2), cmds[1].Seq)

	tail, err := s.ReplayCommands(ctx, "df1", 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, model.CommandUpdateNodeStatus, tail[0].Type)
}

func TestListDataflows_PaginationCapped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		newTestDataflow(t, s, string(rune('a'+i)))
		time.Sleep(time.Millisecond)
	}
	out, err := s.ListDataflows(ctx, model.ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}
