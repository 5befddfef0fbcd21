package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateApply(t *testing.T) {
	t.Run("set overwrites current values", func(t *testing.T) {
		s := NewState(map[string]any{"query": "original"})
		err := s.Apply(&Patch{Set: map[string]any{"query": "rewritten", "attempt": float64(2)}})
		require.NoError(t, err)

		value, ok := s.Get("query")
		require.True(t, ok)
		require.Equal(t, "rewritten", value)

		value, ok = s.Get("attempt")
		require.True(t, ok)
		require.Equal(t, float64(2), value)
	})

	t.Run("append adds to history fields", func(t *testing.T) {
		s := NewState(map[string]any{StateKeyGateHistory: []any{}})
		err := s.Apply(&Patch{Append: map[string][]any{
			StateKeyGateHistory: {map[string]any{"node": "a", "passed": true}},
		}})
		require.NoError(t, err)
		err = s.Apply(&Patch{Append: map[string][]any{
			StateKeyGateHistory: {map[string]any{"node": "b", "passed": false}},
		}})
		require.NoError(t, err)

		value, ok := s.Get(StateKeyGateHistory)
		require.True(t, ok)
		history, ok := value.([]any)
		require.True(t, ok)
		require.Len(t, history, 2)
		first, ok := history[0].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "a", first["node"])
	})

	t.Run("append creates missing field", func(t *testing.T) {
		s := NewState(nil)
		err := s.Apply(&Patch{Append: map[string][]any{"events": {"x"}}})
		require.NoError(t, err)
		value, ok := s.Get("events")
		require.True(t, ok)
		require.Equal(t, []any{"x"}, value)
	})

	t.Run("append to non-list fails", func(t *testing.T) {
		s := NewState(map[string]any{"query": "text"})
		err := s.Apply(&Patch{Append: map[string][]any{"query": {"more"}}})
		require.Error(t, err)
		require.Contains(t, err.Error(), "not appendable")
	})

	t.Run("delete removes fields", func(t *testing.T) {
		s := NewState(map[string]any{StateKeyFeedback: map[string]any{"from": "review"}})
		err := s.Apply(&Patch{Delete: []string{StateKeyFeedback}})
		require.NoError(t, err)
		_, ok := s.Get(StateKeyFeedback)
		require.False(t, ok)
	})

	t.Run("nil patch is a no-op", func(t *testing.T) {
		s := NewState(map[string]any{"query": "text"})
		require.NoError(t, s.Apply(nil))
		value, _ := s.Get("query")
		require.Equal(t, "text", value)
	})
}

func TestStateSnapshotRestore(t *testing.T) {
	s := NewState(map[string]any{"query": "q", "count": float64(3)})
	snapshot := s.Snapshot()

	// Mutating the snapshot must not touch the state.
	snapshot["query"] = "mutated"
	value, _ := s.Get("query")
	require.Equal(t, "q", value)

	restored := NewState(nil)
	restored.Restore(s.Snapshot())
	require.Equal(t, s.Snapshot(), restored.Snapshot())
	require.Equal(t, []string{"count", "query"}, restored.Keys())
}

func TestStateMergeEdits(t *testing.T) {
	t.Run("edits overwrite top-level fields", func(t *testing.T) {
		s := NewState(map[string]any{"query": "latest climate data", "attempt": float64(1)})
		err := s.MergeEdits(map[string]any{"query": "climate data since 2020"})
		require.NoError(t, err)

		value, _ := s.Get("query")
		require.Equal(t, "climate data since 2020", value)
		value, _ = s.Get("attempt")
		require.Equal(t, float64(1), value)
	})

	t.Run("nested maps are deep merged", func(t *testing.T) {
		s := NewState(map[string]any{
			"plan": map[string]any{"steps": float64(4), "owner": "analysis"},
		})
		err := s.MergeEdits(map[string]any{
			"plan": map[string]any{"steps": float64(2)},
		})
		require.NoError(t, err)

		value, _ := s.Get("plan")
		plan, ok := value.(map[string]any)
		require.True(t, ok)
		require.Equal(t, float64(2), plan["steps"])
		require.Equal(t, "analysis", plan["owner"])
	})

	t.Run("zero-valued edits still win", func(t *testing.T) {
		s := NewState(map[string]any{
			"approved": true,
			"query":    "original",
			"attempt":  float64(3),
		})
		err := s.MergeEdits(map[string]any{
			"approved": false,
			"query":    "",
			"attempt":  float64(0),
		})
		require.NoError(t, err)

		value, _ := s.Get("approved")
		require.Equal(t, false, value)
		value, _ = s.Get("query")
		require.Equal(t, "", value)
		value, _ = s.Get("attempt")
		require.Equal(t, float64(0), value)
	})

	t.Run("zero values win inside nested maps", func(t *testing.T) {
		s := NewState(map[string]any{
			"review": map[string]any{"approved": true, "owner": "security"},
		})
		err := s.MergeEdits(map[string]any{
			"review": map[string]any{"approved": false},
		})
		require.NoError(t, err)

		value, _ := s.Get("review")
		review, ok := value.(map[string]any)
		require.True(t, ok)
		require.Equal(t, false, review["approved"])
		require.Equal(t, "security", review["owner"])
	})

	t.Run("edits replace non-map values with maps", func(t *testing.T) {
		s := NewState(map[string]any{"plan": "draft"})
		err := s.MergeEdits(map[string]any{"plan": map[string]any{"steps": float64(2)}})
		require.NoError(t, err)

		value, _ := s.Get("plan")
		require.Equal(t, map[string]any{"steps": float64(2)}, value)
	})

	t.Run("empty edits are a no-op", func(t *testing.T) {
		s := NewState(map[string]any{"query": "q"})
		require.NoError(t, s.MergeEdits(nil))
		value, _ := s.Get("query")
		require.Equal(t, "q", value)
	})
}
