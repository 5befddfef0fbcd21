package gateway

import "context"

// NullCheckpointer discards checkpoints. Runs using it cannot be resumed or
// recovered after a crash.
type NullCheckpointer struct{}

func NewNullCheckpointer() *NullCheckpointer {
	return &NullCheckpointer{}
}

func (c *NullCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	return nil
}

func (c *NullCheckpointer) LoadCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error) {
	return nil, ErrCheckpointNotFound
}

func (c *NullCheckpointer) DeleteCheckpoint(ctx context.Context, workflowID string) error {
	return nil
}
