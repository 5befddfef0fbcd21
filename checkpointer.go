package gateway

import (
	"context"
)

// Checkpointer persists workflow instance snapshots. SaveCheckpoint must be
// durable before returning: it is the correctness boundary for crash
// recovery, and the executor treats a failed save as fatal.
//
// Each instance owns exclusively the record keyed by its workflow ID, so
// implementations need no cross-instance coordination beyond their own
// internal safety.
type Checkpointer interface {
	// SaveCheckpoint durably persists the latest snapshot for a workflow
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// LoadCheckpoint loads the latest snapshot for a workflow, or
	// ErrCheckpointNotFound
	LoadCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error)

	// DeleteCheckpoint removes checkpoint data for a workflow
	DeleteCheckpoint(ctx context.Context, workflowID string) error
}

// CheckpointLister is implemented by stores that can enumerate workflows.
type CheckpointLister interface {
	ListWorkflows(ctx context.Context) ([]*RunSummary, error)
}
