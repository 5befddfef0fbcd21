package gateway

import (
	"fmt"
	"sort"

	"dario.cat/mergo"
)

// Well-known state fields maintained by the executor. History fields are
// append-only; all other fields are overwrite-for-current.
const (
	StateKeyGateHistory    = "quality_gate_history"
	StateKeyRerouteHistory = "reroute_history"
	StateKeyFeedback       = "feedback"
)

// StateReader provides read-only access to workflow state. Agents, gate
// checks, and edge conditions receive a StateReader; only the executor
// mutates state, by applying patches.
type StateReader interface {
	// Get returns the value for a state field
	Get(key string) (any, bool)

	// Snapshot returns a copy of all state fields
	Snapshot() map[string]any
}

// State is the data record carried between nodes of a workflow instance.
// Every value must be JSON-serializable so the state can be checkpointed at
// each step; the executor stores only JSON-native values (strings, numbers,
// booleans, []any, map[string]any).
type State struct {
	values map[string]any
}

// NewState creates a workflow state seeded with the given initial values.
func NewState(initial map[string]any) *State {
	s := &State{values: make(map[string]any, len(initial))}
	for k, v := range initial {
		s.values[k] = v
	}
	return s
}

// Get retrieves a state field.
func (s *State) Get(key string) (any, bool) {
	value, exists := s.values[key]
	return value, exists
}

// Keys returns the sorted names of all state fields.
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy of the state values.
func (s *State) Snapshot() map[string]any {
	return copyMap(s.values)
}

// Restore replaces all state values. Used when reloading from a checkpoint.
func (s *State) Restore(values map[string]any) {
	s.values = copyMap(values)
}

// Patch is a partial state update returned by engine components and applied
// exclusively by the executor. Set overwrites current-value fields, Append
// adds records to append-only history fields, and Delete removes fields.
type Patch struct {
	Set    map[string]any   `json:"set,omitempty"`
	Append map[string][]any `json:"append,omitempty"`
	Delete []string         `json:"delete,omitempty"`
}

// Apply merges a patch into the state. Appends to a field that is not a list
// are a programming error and fail rather than silently clobbering data.
func (s *State) Apply(patch *Patch) error {
	if patch == nil {
		return nil
	}
	for key, value := range patch.Set {
		s.values[key] = value
	}
	for key, records := range patch.Append {
		existing, ok := s.values[key]
		if !ok {
			existing = []any{}
		}
		list, ok := existing.([]any)
		if !ok {
			return fmt.Errorf("state field %q is not appendable", key)
		}
		s.values[key] = append(list, records...)
	}
	for _, key := range patch.Delete {
		delete(s.values, key)
	}
	return nil
}

// MergeEdits deep-merges human-supplied field overrides into the state. Used
// for reject-with-edits decisions; nested maps are merged field by field.
// Edits win unconditionally, including zero values like false, "", and 0.
func (s *State) MergeEdits(edits map[string]any) error {
	for key, value := range edits {
		editMap, editIsMap := value.(map[string]any)
		currentMap, currentIsMap := s.values[key].(map[string]any)
		if editIsMap && currentIsMap {
			merged := copyMap(currentMap)
			if err := mergo.Merge(&merged, editMap, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
				return fmt.Errorf("failed to merge edits: %w", err)
			}
			s.values[key] = merged
			continue
		}
		s.values[key] = value
	}
	return nil
}

// copyMap creates a shallow copy of a map
func copyMap(m map[string]any) map[string]any {
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
