package gateway

import (
	"context"
	"fmt"
)

// RunHistory is the read-only, step-by-step audit view of one workflow
// instance, assembled from its latest checkpoint.
type RunHistory struct {
	WorkflowID       string         `json:"workflow_id"`
	GraphName        string         `json:"graph_name"`
	Status           RunStatus      `json:"status"`
	CurrentNode      string         `json:"current_node"`
	Step             int            `json:"step"`
	RetryCounts      map[string]int `json:"retry_counts,omitempty"`
	GateHistory      []GateRecord   `json:"gate_history,omitempty"`
	RerouteHistory   []RerouteEntry `json:"reroute_history,omitempty"`
	PendingInterrupt *Interrupt     `json:"pending_interrupt,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// Inspector provides the read-only operational surface over a checkpoint
// store: per-instance histories for debugging and audit, and run listings.
type Inspector struct {
	checkpointer Checkpointer
}

// NewInspector creates an inspector over a checkpoint store.
func NewInspector(checkpointer Checkpointer) *Inspector {
	return &Inspector{checkpointer: checkpointer}
}

// History returns the full reroute and quality-gate history for a workflow.
func (i *Inspector) History(ctx context.Context, workflowID string) (*RunHistory, error) {
	checkpoint, err := i.checkpointer.LoadCheckpoint(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return &RunHistory{
		WorkflowID:       checkpoint.WorkflowID,
		GraphName:        checkpoint.GraphName,
		Status:           checkpoint.Status,
		CurrentNode:      checkpoint.CurrentNode,
		Step:             checkpoint.Step,
		RetryCounts:      checkpoint.RetryCounts,
		GateHistory:      checkpoint.GateHistory,
		RerouteHistory:   checkpoint.Reroutes,
		PendingInterrupt: checkpoint.PendingInterrupt,
		Error:            checkpoint.Error,
	}, nil
}

// Summary returns the summary view for a workflow.
func (i *Inspector) Summary(ctx context.Context, workflowID string) (*RunSummary, error) {
	checkpoint, err := i.checkpointer.LoadCheckpoint(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return checkpoint.Summary(), nil
}

// List enumerates stored workflows, newest first. The underlying store must
// support listing.
func (i *Inspector) List(ctx context.Context) ([]*RunSummary, error) {
	lister, ok := i.checkpointer.(CheckpointLister)
	if !ok {
		return nil, fmt.Errorf("checkpoint store does not support listing")
	}
	return lister.ListWorkflows(ctx)
}
