package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRisorEngineCompileAndEvaluate(t *testing.T) {
	ctx := context.Background()
	engine := NewRisorEngine(DefaultGlobals())

	t.Run("arithmetic", func(t *testing.T) {
		compiled, err := engine.Compile(ctx, "40 + 2")
		require.NoError(t, err)
		value, err := compiled.Evaluate(ctx, nil)
		require.NoError(t, err)
		f, ok := value.Float()
		require.True(t, ok)
		require.Equal(t, float64(42), f)
	})

	t.Run("globals injected at evaluation", func(t *testing.T) {
		compiled, err := engine.Compile(ctx, `state["count"] > 3`)
		require.NoError(t, err)

		value, err := compiled.Evaluate(ctx, map[string]any{
			"state": map[string]any{"count": 5},
		})
		require.NoError(t, err)
		require.True(t, value.IsTruthy())

		value, err = compiled.Evaluate(ctx, map[string]any{
			"state": map[string]any{"count": 1},
		})
		require.NoError(t, err)
		require.False(t, value.IsTruthy())
	})

	t.Run("compile error", func(t *testing.T) {
		_, err := engine.Compile(ctx, "1 +")
		require.Error(t, err)
	})

	t.Run("string value", func(t *testing.T) {
		compiled, err := engine.Compile(ctx, `"status: " + state["status"]`)
		require.NoError(t, err)
		value, err := compiled.Evaluate(ctx, map[string]any{
			"state": map[string]any{"status": "ok"},
		})
		require.NoError(t, err)
		require.Equal(t, "status: ok", value.String())
	})

	t.Run("map value converts to Go", func(t *testing.T) {
		compiled, err := engine.Compile(ctx, `{"passed": true, "score": 0.9}`)
		require.NoError(t, err)
		value, err := compiled.Evaluate(ctx, nil)
		require.NoError(t, err)
		result, ok := value.Value().(map[string]any)
		require.True(t, ok)
		require.Equal(t, true, result["passed"])
		require.Equal(t, 0.9, result["score"])
	})
}

func TestRisorValueTruthiness(t *testing.T) {
	ctx := context.Background()
	engine := NewRisorEngine(DefaultGlobals())

	tests := []struct {
		code   string
		truthy bool
	}{
		{"true", true},
		{"false", false},
		{"1", true},
		{"0", false},
		{`"text"`, true},
		{`""`, false},
		{`"false"`, false},
		{"[1]", true},
		{"[]", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			compiled, err := engine.Compile(ctx, tt.code)
			require.NoError(t, err)
			value, err := compiled.Evaluate(ctx, nil)
			require.NoError(t, err)
			require.Equal(t, tt.truthy, value.IsTruthy())
		})
	}
}
