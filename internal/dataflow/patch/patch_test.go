package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

func TestValidateOperations_RequiresOpAndPath(t *testing.T) {
	v := NewValidator()
	err := v.ValidateOperations([]map[string]any{{"path": "/0/config"}})
	assert.Error(t, err)

	err = v.ValidateOperations([]map[string]any{{"op": "replace"}})
	assert.Error(t, err)
}

func TestValidateOperations_AddReplaceRequireValue(t *testing.T) {
	v := NewValidator()
	err := v.ValidateOperations([]map[string]any{{"op": "add", "path": "/0/config"}})
	assert.Error(t, err)
}

func TestValidateOperations_RemoveNeedsNoValue(t *testing.T) {
	v := NewValidator()
	err := v.ValidateOperations([]map[string]any{{"op": "remove", "path": "/0/metadata/flag"}})
	assert.NoError(t, err)
}

func TestValidateOperations_RejectsUnknownOp(t *testing.T) {
	v := NewValidator()
	err := v.ValidateOperations([]map[string]any{{"op": "move", "path": "/0"}})
	assert.Error(t, err)
}

func TestValidateOperations_EmptyIsRejected(t *testing.T) {
	v := NewValidator()
	assert.Error(t, v.ValidateOperations(nil))
}

func TestApply_ReplacesConfigField(t *testing.T) {
	prototypes := []*model.Node{
		{ID: "p1", Status: model.NodeTemplate, Config: map[string]any{"func_id": "old"}},
	}
	ops := []map[string]any{
		{"op": "replace", "path": "/0/config/func_id", "value": "new"},
	}

	out, err := Apply(prototypes, ops)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "new", out[0].Config["func_id"])
}

func TestApply_NoOperationsIsNoop(t *testing.T) {
	prototypes := []*model.Node{{ID: "p1"}}
	out, err := Apply(prototypes, nil)
	require.NoError(t, err)
	assert.Same(t, prototypes[0], out[0])
}
