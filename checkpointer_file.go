package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileCheckpointer persists checkpoints as JSON files on disk, one directory
// per workflow. Writes go through a temp file, fsync, and rename so a saved
// checkpoint is durable and never observed half-written.
type FileCheckpointer struct {
	dataDir string
}

// NewFileCheckpointer creates a file-based checkpoint store rooted at
// dataDir, defaulting to ~/.gateway/workflows.
func NewFileCheckpointer(dataDir string) (*FileCheckpointer, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".gateway", "workflows")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileCheckpointer{dataDir: dataDir}, nil
}

// SaveCheckpoint writes the checkpoint for the workflow, replacing any prior
// snapshot. A per-step history file is kept alongside the latest snapshot
// for debugging.
func (c *FileCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	workflowDir := filepath.Join(c.dataDir, checkpoint.WorkflowID)
	if err := os.MkdirAll(workflowDir, 0755); err != nil {
		return fmt.Errorf("failed to create workflow directory: %w", err)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	stepPath := filepath.Join(workflowDir, fmt.Sprintf("step-%06d.json", checkpoint.Step))
	if err := writeFileSync(stepPath, data); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := replaceFileSync(filepath.Join(workflowDir, "latest.json"), data); err != nil {
		return fmt.Errorf("failed to update latest checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint loads the latest checkpoint for a workflow
func (c *FileCheckpointer) LoadCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error) {
	latestPath := filepath.Join(c.dataDir, workflowID, "latest.json")
	data, err := os.ReadFile(latestPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// DeleteCheckpoint removes all checkpoint data for a workflow
func (c *FileCheckpointer) DeleteCheckpoint(ctx context.Context, workflowID string) error {
	workflowDir := filepath.Join(c.dataDir, workflowID)
	if err := os.RemoveAll(workflowDir); err != nil {
		return fmt.Errorf("failed to delete workflow directory: %w", err)
	}
	return nil
}

// ListWorkflows returns a summary of every workflow with a stored
// checkpoint, newest first.
func (c *FileCheckpointer) ListWorkflows(ctx context.Context) ([]*RunSummary, error) {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*RunSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	var summaries []*RunSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		checkpoint, err := c.LoadCheckpoint(ctx, entry.Name())
		if err != nil {
			// Skip workflows we can't read
			continue
		}
		summaries = append(summaries, checkpoint.Summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
	return summaries, nil
}

// writeFileSync writes data and syncs it to stable storage before returning
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// replaceFileSync atomically replaces path with the given contents
func replaceFileSync(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := writeFileSync(tmp, data); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
