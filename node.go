package gateway

import "time"

// Edge declares a forward transition out of a node. When is an optional
// condition expression evaluated against the workflow state; the first edge
// whose condition holds (or that has no condition) is taken.
type Edge struct {
	To   string `json:"to" yaml:"to"`
	When string `json:"when,omitempty" yaml:"when,omitempty"`
}

// CheckSeverity distinguishes hard checks, which fail the gate and
// short-circuit evaluation, from soft checks, which are collected as
// warnings without blocking forward progress.
type CheckSeverity string

const (
	CheckHard CheckSeverity = "hard"
	CheckSoft CheckSeverity = "soft"
)

// Check declares a single quality-gate criterion. Exactly one of Expr or Fn
// must be set: Expr is a script expression evaluated over the agent output
// and state, Fn names a check function registered with the execution.
//
// A check producing a numeric value is normalized by Scale (the external
// score scale, e.g. 10 or 100) before being compared to Threshold, so
// thresholds are always on the internal 0..1 scale. Normalization happens
// here, at the declaration boundary, never inside the evaluator.
type Check struct {
	Name        string        `json:"name" yaml:"name"`
	Severity    CheckSeverity `json:"severity,omitempty" yaml:"severity,omitempty"`
	Kind        string        `json:"kind,omitempty" yaml:"kind,omitempty"`
	Expr        string        `json:"expr,omitempty" yaml:"expr,omitempty"`
	Fn          string        `json:"fn,omitempty" yaml:"fn,omitempty"`
	Threshold   float64       `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Scale       float64       `json:"scale,omitempty" yaml:"scale,omitempty"`
	Remediation string        `json:"remediation,omitempty" yaml:"remediation,omitempty"`
}

// ViolationKind returns the violation kind reported when this check fails.
func (c *Check) ViolationKind() string {
	if c.Kind != "" {
		return c.Kind
	}
	return c.Name
}

// Gate declares the quality gate for a node: an ordered list of checks plus
// the static routing configuration for failures.
//
// FeedbackTarget names the upstream node responsible for fixing failures,
// which is not necessarily the node that ran (a security gate's findings
// route back to the code producer, not to the security node). Targets maps
// specific violation kinds to alternative reroute targets. ReviewKinds lists
// violation kinds that suspend for human review instead of rerouting
// automatically; "*" matches every kind.
type Gate struct {
	Checks         []*Check          `json:"checks,omitempty" yaml:"checks,omitempty"`
	FeedbackTarget string            `json:"feedback_target,omitempty" yaml:"feedback_target,omitempty"`
	Targets        map[string]string `json:"targets,omitempty" yaml:"targets,omitempty"`
	ReviewKinds    []string          `json:"review_kinds,omitempty" yaml:"review_kinds,omitempty"`
}

// RequiresReview reports whether a violation kind is configured for human
// review.
func (g *Gate) RequiresReview(kind string) bool {
	for _, k := range g.ReviewKinds {
		if k == "*" || k == kind {
			return true
		}
	}
	return false
}

// Node is a single step in the workflow graph, bound to one agent and
// optionally one quality gate.
type Node struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Agent       string         `json:"agent" yaml:"agent"`
	Task        map[string]any `json:"task,omitempty" yaml:"task,omitempty"`
	Store       string         `json:"store,omitempty" yaml:"store,omitempty"`
	Gate        *Gate          `json:"gate,omitempty" yaml:"gate,omitempty"`
	Next        []*Edge        `json:"next,omitempty" yaml:"next,omitempty"`
	Terminal    bool           `json:"terminal,omitempty" yaml:"terminal,omitempty"`

	// MaxRetries bounds how many times this node may be rerouted to as a
	// feedback target before the instance fails terminally. Zero means the
	// graph default applies.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// Rewrite marks this node as a query/requirement reformulation step;
	// reroutes targeting it are reported as rewrite loops.
	Rewrite bool `json:"rewrite,omitempty" yaml:"rewrite,omitempty"`

	// ReviewExpiry optionally bounds how long a human-review interrupt
	// raised at this node stays resumable. Zero means no expiry: pending
	// interrupts wait indefinitely for an explicit decision.
	ReviewExpiry time.Duration `json:"review_expiry,omitempty" yaml:"review_expiry,omitempty"`
}

// IsTerminal reports whether reaching this node ends the workflow. A node
// with no outgoing edges is terminal by construction.
func (n *Node) IsTerminal() bool {
	return n.Terminal || len(n.Next) == 0
}
