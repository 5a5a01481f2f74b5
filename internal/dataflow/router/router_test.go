package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/dataflow-engine/internal/dataflow/condition"
	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

func TestRoute_Success_CreatesDataAndCompletesNode(t *testing.T) {
	r := New(condition.NewEvaluator(), nil)
	node := &model.Node{ID: "n1", Config: map[string]any{
		"data_targets": []any{map[string]any{"data_type": "node.input", "node_id": "n2", "key": "default"}},
	}}

	cmds, err := r.Route(node, true, map[string]any{"ok": true}, "data_targets", nil)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, model.CommandCreateData, cmds[0].Type)
	assert.Equal(t, "success", cmds[0].Payload["discriminator"])
	assert.Equal(t, model.CommandCompleteNode, cmds[1].Type)
}

func TestRoute_ErrorUsesErrorTargetsAndFailsNode(t *testing.T) {
	r := New(condition.NewEvaluator(), nil)
	node := &model.Node{ID: "n1", Config: map[string]any{
		"error_targets": []any{map[string]any{"data_type": "workflow.output", "key": "err"}},
	}}

	errVal := NewErrorValue(model.NewError(model.ErrFunctionExecutionFailed, "boom"), map[string]any{"detail": "boom"})
	cmds, err := r.Route(node, false, errVal, "error_targets", nil)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "error", cmds[0].Payload["discriminator"])
	assert.Equal(t, model.CommandFailNode, cmds[1].Type)
	assert.Equal(t, string(model.ErrFunctionExecutionFailed), cmds[1].Payload["error_code"])
}

func TestRoute_WhenPredicateSkipsTarget(t *testing.T) {
	r := New(condition.NewEvaluator(), nil)
	node := &model.Node{ID: "n1", Config: map[string]any{
		"data_targets": []any{map[string]any{"data_type": "workflow.output", "when": "output.ok == true"}},
	}}

	cmds, err := r.Route(node, true, map[string]any{"ok": false}, "data_targets", nil)
	require.NoError(t, err)
	require.Len(t, cmds, 1) // only the completion command, target skipped
	assert.Equal(t, model.CommandCompleteNode, cmds[0].Type)
}

func TestRoute_DropsTargetForMissingNode(t *testing.T) {
	r := New(condition.NewEvaluator(), nil)
	node := &model.Node{ID: "n1", Config: map[string]any{
		"data_targets": []any{map[string]any{"data_type": "node.input", "node_id": "ghost"}},
	}}

	cmds, err := r.Route(node, true, "value", "data_targets", func(id string) bool { return id != "ghost" })
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, model.CommandCompleteNode, cmds[0].Type)
}

func TestRoute_MultipleTargetsFromOneOutput(t *testing.T) {
	r := New(condition.NewEvaluator(), nil)
	node := &model.Node{ID: "n1", Config: map[string]any{
		"data_targets": []any{
			map[string]any{"data_type": "node.input", "node_id": "a"},
			map[string]any{"data_type": "node.input", "node_id": "b"},
		},
	}}

	cmds, err := r.Route(node, true, "value", "data_targets", nil)
	require.NoError(t, err)
	assert.Len(t, cmds, 3)
}
