package commandlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/store"
)

type fakeMirror struct{ cleared []string }

func (m *fakeMirror) ClearSuspension(ctx context.Context, dataflowID, parentNodeID string) error {
	m.cleared = append(m.cleared, parentNodeID)
	return nil
}

func TestRecover_FailsOrphanedRunningNodes(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.CreateDataflow(ctx, &model.Dataflow{ID: "df1", Owner: "alice", Status: model.DataflowRunning}))

	seq, err := st.LastSequence(ctx, "df1")
	require.NoError(t, err)
	_, err = st.AppendCommands(ctx, "df1", seq, []model.Command{
		{Type: model.CommandCreateNode, Payload: map[string]any{"node_id": "n1", "node_type": "func", "status": "running"}},
		{Type: model.CommandCreateNode, Payload: map[string]any{"node_id": "n2", "node_type": "func", "status": "pending"}},
	})
	require.NoError(t, err)

	mirror := &fakeMirror{}
	report, err := Recover(ctx, st, mirror, "df1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, report.OrphanedNodes)
	assert.Equal(t, []string{"n1"}, mirror.cleared)

	n1, err := st.GetNode(ctx, "df1", "n1")
	require.NoError(t, err)
	assert.Equal(t, model.NodeFailed, n1.Status)

	n2, err := st.GetNode(ctx, "df1", "n2")
	require.NoError(t, err)
	assert.Equal(t, model.NodePending, n2.Status)
}

func TestRecover_NoOrphansIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.CreateDataflow(ctx, &model.Dataflow{ID: "df1", Owner: "alice", Status: model.DataflowRunning}))
	seq, err := st.LastSequence(ctx, "df1")
	require.NoError(t, err)
	_, err = st.AppendCommands(ctx, "df1", seq, []model.Command{
		{Type: model.CommandCreateNode, Payload: map[string]any{"node_id": "n1", "node_type": "func", "status": "pending"}},
	})
	require.NoError(t, err)

	report, err := Recover(ctx, st, nil, "df1")
	require.NoError(t, err)
	assert.Empty(t, report.OrphanedNodes)
}
