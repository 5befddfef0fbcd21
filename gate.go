package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/gateway/script"
)

// Violation describes one failed gate criterion.
type Violation struct {
	Kind        string `json:"kind"`
	Detail      string `json:"detail"`
	Remediation string `json:"remediation,omitempty"`
}

// GateResult is the outcome of one quality-gate evaluation. It is produced
// once per evaluation and never mutated. When Passed is false, Violations is
// non-empty and FeedbackTarget names the node that should receive them.
type GateResult struct {
	Node           string      `json:"node"`
	Passed         bool        `json:"passed"`
	Score          *float64    `json:"score,omitempty"`
	Violations     []Violation `json:"violations,omitempty"`
	Warnings       []Violation `json:"warnings,omitempty"`
	FeedbackTarget string      `json:"feedback_target,omitempty"`
}

// CheckOutcome is what a check function reports. Score, when present, is on
// the check's declared external scale.
type CheckOutcome struct {
	Passed bool
	Score  *float64
	Detail string
}

// CheckFunc is a registered gate check. Check functions must be pure: the
// evaluator's determinism depends on it.
type CheckFunc func(result *AgentResult, state StateReader) CheckOutcome

// Evaluator scores agent results against each node's declared gate criteria.
// Evaluate is a pure function of its inputs: expressions are compiled up
// front and check functions are required to be deterministic, so identical
// inputs always produce identical results.
type Evaluator struct {
	compiler script.Compiler
	checks   map[string]CheckFunc
	exprs    map[string]script.Script
}

// NewEvaluator creates an evaluator over the given expression compiler and
// registered check functions.
func NewEvaluator(compiler script.Compiler, checks map[string]CheckFunc) *Evaluator {
	if checks == nil {
		checks = map[string]CheckFunc{}
	}
	return &Evaluator{
		compiler: compiler,
		checks:   checks,
		exprs:    map[string]script.Script{},
	}
}

// Prepare compiles every gate expression in the graph and verifies that all
// referenced check functions are registered. Called once before execution so
// gate misconfiguration surfaces eagerly as a ConfigurationError.
func (e *Evaluator) Prepare(ctx context.Context, g *Graph) error {
	for _, node := range g.Nodes() {
		if node.Gate == nil {
			continue
		}
		for _, check := range node.Gate.Checks {
			switch {
			case check.Expr != "":
				compiled, err := e.compiler.Compile(ctx, check.Expr)
				if err != nil {
					return NewConfigurationError("node %q check %q: %v", node.Name, check.Name, err)
				}
				e.exprs[exprKey(node.Name, check.Name)] = compiled
			case check.Fn != "":
				if _, ok := e.checks[check.Fn]; !ok {
					return NewConfigurationError("node %q check %q: check function %q not registered", node.Name, check.Name, check.Fn)
				}
			default:
				return NewConfigurationError("node %q check %q: neither expr nor fn declared", node.Name, check.Name)
			}
		}
	}
	return nil
}

// Evaluate scores an agent result against the node's gate. A node with no
// gate (or no checks) passes unconditionally. A failed agent result fails
// the gate automatically, without running any checks; the failure routes
// exactly like a substantive quality failure.
func (e *Evaluator) Evaluate(ctx context.Context, node *Node, result *AgentResult, state StateReader) (*GateResult, error) {
	gate := node.Gate

	if !result.Success {
		kind := FailureKindAgent
		if fk, ok := result.Metadata["failure_kind"].(string); ok && fk != "" {
			kind = fk
		}
		violations := []Violation{{
			Kind:   kind,
			Detail: result.Error,
		}}
		return &GateResult{
			Node:           node.Name,
			Passed:         false,
			Violations:     violations,
			FeedbackTarget: e.feedbackTarget(node, violations),
		}, nil
	}

	if gate == nil || len(gate.Checks) == 0 {
		return &GateResult{Node: node.Name, Passed: true}, nil
	}

	var violations []Violation
	var warnings []Violation
	var score *float64

	for _, check := range gate.Checks {
		outcome, err := e.runCheck(ctx, node, check, result, state)
		if err != nil {
			var cfg *ConfigurationError
			if errors.As(err, &cfg) {
				return nil, err
			}
			// Data-dependent evaluation failures (a risor key error on a
			// missing field, say) fail the gate like any hard violation, so
			// the instance routes and records rather than aborting.
			violations = append(violations, Violation{
				Kind:        FailureKindExpression,
				Detail:      err.Error(),
				Remediation: check.Remediation,
			})
			break
		}
		if outcome.Score != nil {
			normalized := normalizeScore(*outcome.Score, check.Scale)
			if score == nil || normalized < *score {
				score = &normalized
			}
		}
		if outcome.Passed {
			continue
		}
		violation := Violation{
			Kind:        check.ViolationKind(),
			Detail:      outcome.Detail,
			Remediation: check.Remediation,
		}
		if check.Severity == CheckSoft {
			warnings = append(warnings, violation)
			continue
		}
		// First hard failure short-circuits the remaining checks.
		violations = append(violations, violation)
		break
	}

	gr := &GateResult{
		Node:       node.Name,
		Passed:     len(violations) == 0,
		Score:      score,
		Violations: violations,
		Warnings:   warnings,
	}
	if !gr.Passed {
		gr.FeedbackTarget = e.feedbackTarget(node, violations)
	}
	return gr, nil
}

// runCheck evaluates one criterion and reports pass/fail plus any raw score
func (e *Evaluator) runCheck(ctx context.Context, node *Node, check *Check, result *AgentResult, state StateReader) (*CheckOutcome, error) {
	if check.Fn != "" {
		fn, ok := e.checks[check.Fn]
		if !ok {
			return nil, NewConfigurationError("check function %q not registered", check.Fn)
		}
		outcome := fn(result, state)
		if outcome.Score != nil && check.Threshold > 0 {
			normalized := normalizeScore(*outcome.Score, check.Scale)
			outcome.Passed = normalized >= check.Threshold
			if !outcome.Passed && outcome.Detail == "" {
				outcome.Detail = fmt.Sprintf("score %.3f below threshold %.3f", normalized, check.Threshold)
			}
		}
		return &outcome, nil
	}

	compiled, ok := e.exprs[exprKey(node.Name, check.Name)]
	if !ok {
		var err error
		compiled, err = e.compiler.Compile(ctx, check.Expr)
		if err != nil {
			return nil, NewConfigurationError("node %q check %q: %v", node.Name, check.Name, err)
		}
		e.exprs[exprKey(node.Name, check.Name)] = compiled
	}

	value, err := compiled.Evaluate(ctx, map[string]any{
		"output":   result.Output,
		"metadata": result.Metadata,
		"success":  result.Success,
		"state":    state.Snapshot(),
	})
	if err != nil {
		return nil, fmt.Errorf("node %q check %q evaluation failed: %w", node.Name, check.Name, err)
	}

	// Numeric values are scores, compared against the threshold after
	// normalization; anything else is a plain pass/fail predicate.
	if raw, isNumeric := value.Float(); isNumeric {
		normalized := normalizeScore(raw, check.Scale)
		outcome := &CheckOutcome{
			Passed: normalized >= check.Threshold,
			Score:  &raw,
		}
		if !outcome.Passed {
			outcome.Detail = fmt.Sprintf("score %.3f below threshold %.3f", normalized, check.Threshold)
		}
		return outcome, nil
	}
	outcome := &CheckOutcome{Passed: value.IsTruthy()}
	if !outcome.Passed {
		outcome.Detail = fmt.Sprintf("check %q did not hold", check.Name)
	}
	return outcome, nil
}

// feedbackTarget resolves which upstream node receives the violations. The
// Targets mapping for the first mapped violation kind wins, then the gate's
// declared feedback target, then the node itself (the default producer of
// the evaluated output).
func (e *Evaluator) feedbackTarget(node *Node, violations []Violation) string {
	if gate := node.Gate; gate != nil {
		for _, v := range violations {
			if target, ok := gate.Targets[v.Kind]; ok {
				return target
			}
		}
		if gate.FeedbackTarget != "" {
			return gate.FeedbackTarget
		}
	}
	return node.Name
}

// normalizeScore maps a raw score on an external scale onto 0..1.
func normalizeScore(raw, scale float64) float64 {
	if scale <= 0 || scale == 1 {
		return raw
	}
	return raw / scale
}

func exprKey(node, check string) string {
	return node + "\x00" + check
}
