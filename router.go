package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/gateway/script"
)

// RouteReason classifies a routing decision.
type RouteReason string

const (
	ReasonForward         RouteReason = "forward"
	ReasonReroute         RouteReason = "reroute"
	ReasonRewriteLoop     RouteReason = "rewrite_loop"
	ReasonHumanReview     RouteReason = "human_review"
	ReasonTerminalSuccess RouteReason = "terminal_success"
	ReasonTerminalFailure RouteReason = "terminal_failure"
)

// Terminal reports whether the reason ends the workflow instance.
func (r RouteReason) Terminal() bool {
	return r == ReasonTerminalSuccess || r == ReasonTerminalFailure
}

// RouteDecision is the router's verdict on what runs next.
type RouteDecision struct {
	NextNode string      `json:"next_node,omitempty"`
	Reason   RouteReason `json:"reason"`
	Target   string      `json:"target,omitempty"`
	Feedback []Violation `json:"feedback,omitempty"`
	Detail   string      `json:"detail,omitempty"`
}

// RerouteEntry records one routing decision in the instance's reroute
// history. The trail of entries feeds stagnation detection and the audit
// surface.
type RerouteEntry struct {
	From   string      `json:"from"`
	Target string      `json:"target,omitempty"`
	Reason RouteReason `json:"reason"`
	Score  *float64    `json:"score,omitempty"`
	Detail string      `json:"detail,omitempty"`
	At     time.Time   `json:"at"`
}

// stagnationWindow is how many consecutive identical (node, target) reroute
// cycles without score improvement trigger early escalation to human review.
const stagnationWindow = 2

// Router computes the next node from the current node, its gate result, and
// the instance's retry counters. All routing policy is static graph
// configuration; the router never infers targets at runtime.
//
// Retry counters are monotone within an instance: the router increments them
// on every reroute and never resets them, which is what makes the
// termination bound provable.
type Router struct {
	graph    *Graph
	compiler script.Compiler
	edges    map[string]script.Script
}

// NewRouter creates a router for the graph.
func NewRouter(graph *Graph, compiler script.Compiler) *Router {
	return &Router{
		graph:    graph,
		compiler: compiler,
		edges:    map[string]script.Script{},
	}
}

// Prepare compiles every conditional edge so malformed conditions surface as
// a ConfigurationError before execution begins.
func (r *Router) Prepare(ctx context.Context) error {
	for _, node := range r.graph.Nodes() {
		for _, edge := range node.Next {
			if edge.When == "" {
				continue
			}
			compiled, err := r.compiler.Compile(ctx, edge.When)
			if err != nil {
				return NewConfigurationError("node %q edge to %q: %v", node.Name, edge.To, err)
			}
			r.edges[exprKey(node.Name, edge.To)] = compiled
		}
	}
	return nil
}

// Route decides what runs next. A passing gate moves forward along the first
// matching edge (or terminates successfully). A failing gate reroutes to the
// feedback target, unless the target's retry budget is exhausted (terminal
// failure), the violation class is configured for human review, or the same
// reroute has stagnated (early escalation to human review).
func (r *Router) Route(ctx context.Context, node *Node, gate *GateResult, counters *RetryCounters, trail []RerouteEntry, state StateReader) (*RouteDecision, error) {
	if gate.Passed {
		return r.forward(ctx, node, state)
	}

	target := gate.FeedbackTarget
	targetNode, ok := r.graph.GetNode(target)
	if !ok {
		// Validated at graph build; only reachable with a hand-built result.
		return nil, NewConfigurationError("feedback target %q not found", target)
	}

	if counters.Count(target) >= r.graph.MaxRetriesFor(targetNode) {
		return &RouteDecision{
			Reason:   ReasonTerminalFailure,
			Target:   target,
			Feedback: gate.Violations,
			Detail:   fmt.Sprintf("retry budget for %q exhausted after %d reroutes", target, counters.Count(target)),
		}, nil
	}

	if node.Gate != nil {
		for _, v := range gate.Violations {
			if node.Gate.RequiresReview(v.Kind) {
				return &RouteDecision{
					NextNode: node.Name,
					Reason:   ReasonHumanReview,
					Target:   target,
					Feedback: gate.Violations,
					Detail:   fmt.Sprintf("violation kind %q requires human review", v.Kind),
				}, nil
			}
		}
	}

	if stagnant(trail, node.Name, target, gate.Score) {
		return &RouteDecision{
			NextNode: node.Name,
			Reason:   ReasonHumanReview,
			Target:   target,
			Feedback: gate.Violations,
			Detail:   fmt.Sprintf("reroute %s -> %s stagnated with no score improvement", node.Name, target),
		}, nil
	}

	counters.Increment(target)
	reason := ReasonReroute
	if targetNode.Rewrite {
		reason = ReasonRewriteLoop
	}
	return &RouteDecision{
		NextNode: target,
		Reason:   reason,
		Target:   target,
		Feedback: gate.Violations,
	}, nil
}

// forward selects the next node along the statically declared edges. Edges
// are considered in declaration order; a conditional edge is taken when its
// condition is truthy against the current state, an unconditional edge is
// always taken.
func (r *Router) forward(ctx context.Context, node *Node, state StateReader) (*RouteDecision, error) {
	if node.IsTerminal() {
		return &RouteDecision{Reason: ReasonTerminalSuccess}, nil
	}
	for _, edge := range node.Next {
		if edge.When == "" {
			return &RouteDecision{NextNode: edge.To, Reason: ReasonForward}, nil
		}
		compiled, ok := r.edges[exprKey(node.Name, edge.To)]
		if !ok {
			var err error
			compiled, err = r.compiler.Compile(ctx, edge.When)
			if err != nil {
				return nil, NewConfigurationError("node %q edge to %q: %v", node.Name, edge.To, err)
			}
			r.edges[exprKey(node.Name, edge.To)] = compiled
		}
		value, err := compiled.Evaluate(ctx, map[string]any{"state": state.Snapshot()})
		if err != nil {
			// A data-dependent condition failure terminates the instance
			// through the normal route path, with the cause on record.
			return &RouteDecision{
				Reason:   ReasonTerminalFailure,
				Feedback: []Violation{{Kind: FailureKindExpression, Detail: err.Error()}},
				Detail:   fmt.Sprintf("edge %s -> %s condition failed: %v", node.Name, edge.To, err),
			}, nil
		}
		if value.IsTruthy() {
			return &RouteDecision{NextNode: edge.To, Reason: ReasonForward}, nil
		}
	}
	return &RouteDecision{
		Reason: ReasonTerminalFailure,
		Detail: fmt.Sprintf("no edge out of %q matched the current state", node.Name),
	}, nil
}

// stagnant reports whether the (from, target) reroute has repeated for
// stagnationWindow consecutive cycles with no score improvement, counting
// the failure under consideration as the latest cycle. Stagnation only
// applies to scored gates: without scores there is no notion of progress,
// and the retry budget alone bounds the loop.
func stagnant(trail []RerouteEntry, from, target string, score *float64) bool {
	if score == nil {
		return false
	}
	var cycles []RerouteEntry
	for i := len(trail) - 1; i >= 0 && len(cycles) < stagnationWindow; i-- {
		entry := trail[i]
		if entry.Reason != ReasonReroute && entry.Reason != ReasonRewriteLoop {
			continue
		}
		if entry.From != from || entry.Target != target {
			break
		}
		cycles = append(cycles, entry)
	}
	if len(cycles) < stagnationWindow {
		return false
	}
	// cycles[0] is the most recent prior reroute. Any strict improvement
	// along the chain counts as progress.
	prev := cycles[0].Score
	if prev == nil || *score > *prev {
		return false
	}
	for i := 0; i < len(cycles)-1; i++ {
		older := cycles[i+1].Score
		if older == nil || *cycles[i].Score > *older {
			return false
		}
	}
	return true
}
