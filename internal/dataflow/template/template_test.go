package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/store"
)

func seedDataflowWithTemplates(t *testing.T, s *store.MemoryStore, dataflowID, parent string, nodes []model.Command) {
	t.Helper()
	require.NoError(t, s.CreateDataflow(context.Background(), &model.Dataflow{ID: dataflowID, Owner: "alice", Status: model.DataflowRunning}))
	_, err := s.AppendCommands(context.Background(), dataflowID, 0, nodes)
	require.NoError(t, err)
}

func templateNodeCmd(id, parent string, config map[string]any) model.Command {
	return model.Command{Type: model.CommandCreateNode, Payload: map[string]any{
		"node_id": id, "node_type": "func", "status": "template", "parent_node_id": parent, "config": config,
	}}
}

func TestBuild_LinearChain(t *testing.T) {
	s := store.NewMemoryStore()
	seedDataflowWithTemplates(t, s, "df1", "p", []model.Command{
		templateNodeCmd("a", "p", map[string]any{"data_targets": []any{map[string]any{"node_id": "b"}}}),
		templateNodeCmd("b", "p", map[string]any{}),
	})

	g, err := Build(context.Background(), s, "df1", "p")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a"}, g.Roots)
	assert.True(t, g.Edges["a"]["b"])
}

func TestBuild_EmptyTemplateSetErrors(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateDataflow(context.Background(), &model.Dataflow{ID: "df1", Owner: "alice", Status: model.DataflowRunning}))

	_, err := Build(context.Background(), s, "df1", "p")
	require.Error(t, err)
	assert.Equal(t, model.ErrNoTemplates, model.CodeOf(err))
}

func TestBuild_CycleDetected(t *testing.T) {
	s := store.NewMemoryStore()
	seedDataflowWithTemplates(t, s, "df1", "p", []model.Command{
		templateNodeCmd("a", "p", map[string]any{"data_targets": []any{map[string]any{"node_id": "b"}}}),
		templateNodeCmd("b", "p", map[string]any{"data_targets": []any{map[string]any{"node_id": "a"}}}),
	})

	_, err := Build(context.Background(), s, "df1", "p")
	require.Error(t, err)
	assert.Equal(t, model.ErrTemplateDiscoveryFailed, model.CodeOf(err))
}

func TestBuild_TargetsOutsideSetAreIgnored(t *testing.T) {
	s := store.NewMemoryStore()
	seedDataflowWithTemplates(t, s, "df1", "p", []model.Command{
		templateNodeCmd("a", "p", map[string]any{"data_targets": []any{map[string]any{"node_id": "outside"}}}),
	})

	g, err := Build(context.Background(), s, "df1", "p")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a"}, g.Roots)
	assert.Empty(t, g.Edges["a"])
}
