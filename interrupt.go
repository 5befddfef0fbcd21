package gateway

import (
	"time"

	"go.jetify.com/typeid"
)

// NewInterruptID returns a new identifier for a human-review interrupt
func NewInterruptID() string {
	id, err := typeid.WithPrefix("int")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// InterruptStatus is the lifecycle state of an interrupt. An interrupt is
// PENDING from creation until it is consumed exactly once (RESOLVED) or its
// optional expiry passes (EXPIRED).
type InterruptStatus string

const (
	InterruptPending  InterruptStatus = "pending"
	InterruptResolved InterruptStatus = "resolved"
	InterruptExpired  InterruptStatus = "expired"
)

// DecisionKind is the human reviewer's verdict.
type DecisionKind string

const (
	// DecisionApprove lets the workflow proceed forward, exactly as if the
	// gate had passed.
	DecisionApprove DecisionKind = "approve"

	// DecisionReject reroutes to the feedback target with a patch identical
	// in shape to an automatic gate failure: downstream agents cannot tell a
	// human rejection from an automatic one.
	DecisionReject DecisionKind = "reject"

	// DecisionRejectWithEdits additionally merges the supplied field
	// overrides into the workflow state before rerouting.
	DecisionRejectWithEdits DecisionKind = "reject_with_edits"
)

// Decision is an externally supplied resolution for a pending interrupt.
type Decision struct {
	InterruptID string         `json:"interrupt_id"`
	Kind        DecisionKind   `json:"kind"`
	Edits       map[string]any `json:"edits,omitempty"`
	Note        string         `json:"note,omitempty"`
}

// Valid reports whether the decision kind is one of the known verdicts.
func (d Decision) Valid() bool {
	switch d.Kind {
	case DecisionApprove, DecisionReject, DecisionRejectWithEdits:
		return true
	}
	return false
}

// Interrupt is a durable suspension descriptor. It is written into the
// checkpoint when the executor suspends, survives process restarts, and is
// consumed exactly once by a matching resume; replays are rejected.
type Interrupt struct {
	ID           string            `json:"id"`
	Node         string            `json:"node"`
	Target       string            `json:"target,omitempty"`
	Payload      map[string]any    `json:"payload,omitempty"`
	ResumeSchema map[string]string `json:"resume_schema,omitempty"`
	Status       InterruptStatus   `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at,omitzero"`
}

// NewInterrupt creates a pending interrupt for a human-review route
// decision. The decision's violations become the presented payload.
func NewInterrupt(node *Node, decision *RouteDecision, now time.Time) *Interrupt {
	violations := make([]any, 0, len(decision.Feedback))
	for _, v := range decision.Feedback {
		violations = append(violations, map[string]any{
			"kind":        v.Kind,
			"detail":      v.Detail,
			"remediation": v.Remediation,
		})
	}
	interrupt := &Interrupt{
		ID:     NewInterruptID(),
		Node:   node.Name,
		Target: decision.Target,
		Payload: map[string]any{
			"node":       node.Name,
			"detail":     decision.Detail,
			"violations": violations,
		},
		ResumeSchema: map[string]string{
			"kind":  "approve | reject | reject_with_edits",
			"edits": "state field overrides, required for reject_with_edits",
		},
		Status:    InterruptPending,
		CreatedAt: now,
	}
	if node.ReviewExpiry > 0 {
		interrupt.ExpiresAt = now.Add(node.ReviewExpiry)
	}
	return interrupt
}

// Expired reports whether the interrupt's expiry has passed. Interrupts
// without an expiry wait indefinitely: human availability is not bounded by
// the orchestrator.
func (i *Interrupt) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// Violations reconstructs the violations carried in the presented payload.
func (i *Interrupt) Violations() []Violation {
	raw, _ := i.Payload["violations"].([]any)
	violations := make([]Violation, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		v := Violation{}
		v.Kind, _ = m["kind"].(string)
		v.Detail, _ = m["detail"].(string)
		v.Remediation, _ = m["remediation"].(string)
		violations = append(violations, v)
	}
	return violations
}
