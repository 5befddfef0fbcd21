package gateway

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryCheckpointer stores checkpoints in memory. Snapshots round-trip
// through JSON so stored and loaded values behave exactly like a durable
// store's; useful for tests and embedded use.
type MemoryCheckpointer struct {
	mutex       sync.RWMutex
	checkpoints map[string][]byte
}

// NewMemoryCheckpointer creates an in-memory checkpoint store.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{checkpoints: map[string][]byte{}}
}

func (c *MemoryCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.checkpoints[checkpoint.WorkflowID] = data
	return nil
}

func (c *MemoryCheckpointer) LoadCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error) {
	c.mutex.RLock()
	data, ok := c.checkpoints[workflowID]
	c.mutex.RUnlock()
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, err
	}
	return &checkpoint, nil
}

func (c *MemoryCheckpointer) DeleteCheckpoint(ctx context.Context, workflowID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.checkpoints, workflowID)
	return nil
}

// ListWorkflows returns summaries for all stored workflows, newest first.
func (c *MemoryCheckpointer) ListWorkflows(ctx context.Context) ([]*RunSummary, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	summaries := make([]*RunSummary, 0, len(c.checkpoints))
	for _, data := range c.checkpoints {
		var checkpoint Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			continue
		}
		summaries = append(summaries, checkpoint.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
	return summaries, nil
}
