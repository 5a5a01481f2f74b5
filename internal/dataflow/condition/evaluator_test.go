package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateBool(t *testing.T) {
	e := NewEvaluator()

	ok, err := e.EvaluateBool(`output.approved == true`, map[string]any{"approved": true}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateBool(`output.approved == true`, map[string]any{"approved": false}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateBool_NonBooleanResultErrors(t *testing.T) {
	e := NewEvaluator()
	_, err := e.EvaluateBool(`output.count`, map[string]any{"count": 3}, nil)
	assert.Error(t, err)
}

func TestEvaluateBool_CompileErrorSurfaces(t *testing.T) {
	e := NewEvaluator()
	_, err := e.EvaluateBool(`output.(((`, nil, nil)
	assert.Error(t, err)
}

func TestEvaluate_ReturnsRawValue(t *testing.T) {
	e := NewEvaluator()
	v, err := e.Evaluate(`output.score * 2.0`, map[string]any{"score": 3.5}, nil)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
}

func TestProgramCacheIsReused(t *testing.T) {
	e := NewEvaluator()
	expr := `output.ok`
	_, err := e.EvaluateBool(expr, map[string]any{"ok": true}, nil)
	require.NoError(t, err)
	_, cached := e.cache[expr]
	assert.True(t, cached)
}
