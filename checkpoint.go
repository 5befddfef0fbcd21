package gateway

import "time"

// GateRecord is one quality-gate evaluation as recorded in the audit
// history.
type GateRecord struct {
	Step           int         `json:"step"`
	Node           string      `json:"node"`
	Passed         bool        `json:"passed"`
	Score          *float64    `json:"score,omitempty"`
	Violations     []Violation `json:"violations,omitempty"`
	Warnings       []Violation `json:"warnings,omitempty"`
	FeedbackTarget string      `json:"feedback_target,omitempty"`
	At             time.Time   `json:"at"`
}

// Checkpoint is a complete snapshot of one workflow instance, sufficient to
// resume from exactly where it left off. One is written before every node
// transition and before every suspension; loading it back must reproduce the
// saved snapshot exactly.
type Checkpoint struct {
	WorkflowID       string         `json:"workflow_id"`
	GraphName        string         `json:"graph_name"`
	Status           RunStatus      `json:"status"`
	CurrentNode      string         `json:"current_node"`
	Step             int            `json:"step"`
	State            map[string]any `json:"state"`
	Inputs           map[string]any `json:"inputs"`
	Outputs          map[string]any `json:"outputs,omitempty"`
	RetryCounts      map[string]int `json:"retry_counts"`
	Reroutes         []RerouteEntry `json:"reroutes,omitempty"`
	GateHistory      []GateRecord   `json:"gate_history,omitempty"`
	PendingInterrupt *Interrupt     `json:"pending_interrupt,omitempty"`
	Error            string         `json:"error,omitempty"`
	StartTime        time.Time      `json:"start_time,omitzero"`
	EndTime          time.Time      `json:"end_time,omitzero"`
	CheckpointAt     time.Time      `json:"checkpoint_at"`
}

// RunSummary provides a summary view of one workflow instance, derived from
// its latest checkpoint.
type RunSummary struct {
	WorkflowID  string    `json:"workflow_id"`
	GraphName   string    `json:"graph_name"`
	Status      RunStatus `json:"status"`
	CurrentNode string    `json:"current_node"`
	Step        int       `json:"step"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time,omitzero"`
	Error       string    `json:"error,omitempty"`
}

// Summary derives a RunSummary from a checkpoint.
func (c *Checkpoint) Summary() *RunSummary {
	return &RunSummary{
		WorkflowID:  c.WorkflowID,
		GraphName:   c.GraphName,
		Status:      c.Status,
		CurrentNode: c.CurrentNode,
		Step:        c.Step,
		StartTime:   c.StartTime,
		EndTime:     c.EndTime,
		Error:       c.Error,
	}
}
