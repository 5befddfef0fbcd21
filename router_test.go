package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/gateway/script"
	"github.com/stretchr/testify/require"
)

func newResearchGraph(t *testing.T) *Graph {
	t.Helper()
	graph, err := NewGraph(GraphOptions{
		Name: "research",
		Nodes: []*Node{
			{Name: "query_rewrite", Agent: "rewriter", Rewrite: true, Next: []*Edge{{To: "retrieval"}}},
			{
				Name:  "retrieval",
				Agent: "retriever",
				Gate: &Gate{
					FeedbackTarget: "query_rewrite",
					Checks:         []*Check{{Name: "relevance", Fn: "relevance", Threshold: 0.8}},
				},
				Next: []*Edge{{To: "answer"}},
			},
			{Name: "answer", Agent: "answerer", Terminal: true},
		},
	})
	require.NoError(t, err)
	return graph
}

func newTestRouter(t *testing.T, graph *Graph) *Router {
	t.Helper()
	router := NewRouter(graph, script.NewRisorEngine(script.DefaultGlobals()))
	require.NoError(t, router.Prepare(context.Background()))
	return router
}

func failedGate(node, target string, score *float64) *GateResult {
	return &GateResult{
		Node:           node,
		Passed:         false,
		Score:          score,
		Violations:     []Violation{{Kind: "relevance", Detail: "results off-topic"}},
		FeedbackTarget: target,
	}
}

func scoreOf(v float64) *float64 { return &v }

func TestRouteForward(t *testing.T) {
	ctx := context.Background()
	graph := newResearchGraph(t)
	router := newTestRouter(t, graph)
	state := NewState(nil)

	t.Run("passing gate follows the declared edge", func(t *testing.T) {
		node, _ := graph.GetNode("retrieval")
		decision, err := router.Route(ctx, node, &GateResult{Node: "retrieval", Passed: true}, NewRetryCounters(), nil, state)
		require.NoError(t, err)
		require.Equal(t, ReasonForward, decision.Reason)
		require.Equal(t, "answer", decision.NextNode)
	})

	t.Run("terminal node completes", func(t *testing.T) {
		node, _ := graph.GetNode("answer")
		decision, err := router.Route(ctx, node, &GateResult{Node: "answer", Passed: true}, NewRetryCounters(), nil, state)
		require.NoError(t, err)
		require.Equal(t, ReasonTerminalSuccess, decision.Reason)
	})
}

func TestRouteConditionalEdges(t *testing.T) {
	ctx := context.Background()
	graph, err := NewGraph(GraphOptions{
		Name: "branches",
		Nodes: []*Node{
			{
				Name:  "triage",
				Agent: "triager",
				Next: []*Edge{
					{To: "deep", When: `state["depth"] == "full"`},
					{To: "quick"},
				},
			},
			{Name: "deep", Agent: "analyst", Terminal: true},
			{Name: "quick", Agent: "analyst", Terminal: true},
		},
	})
	require.NoError(t, err)
	router := newTestRouter(t, graph)
	node, _ := graph.GetNode("triage")

	t.Run("condition holds", func(t *testing.T) {
		decision, err := router.Route(ctx, node, &GateResult{Passed: true}, NewRetryCounters(), nil,
			NewState(map[string]any{"depth": "full"}))
		require.NoError(t, err)
		require.Equal(t, "deep", decision.NextNode)
	})

	t.Run("falls through to the unconditional edge", func(t *testing.T) {
		decision, err := router.Route(ctx, node, &GateResult{Passed: true}, NewRetryCounters(), nil,
			NewState(map[string]any{"depth": "summary"}))
		require.NoError(t, err)
		require.Equal(t, "quick", decision.NextNode)
	})

	t.Run("condition evaluation failure is a terminal decision", func(t *testing.T) {
		// "depth" is absent, so the index errors at evaluation time.
		decision, err := router.Route(ctx, node, &GateResult{Passed: true}, NewRetryCounters(), nil,
			NewState(nil))
		require.NoError(t, err)
		require.Equal(t, ReasonTerminalFailure, decision.Reason)
		require.Contains(t, decision.Detail, "condition failed")
		require.Len(t, decision.Feedback, 1)
		require.Equal(t, FailureKindExpression, decision.Feedback[0].Kind)
	})
}

func TestRouteNoEdgeMatched(t *testing.T) {
	ctx := context.Background()
	graph, err := NewGraph(GraphOptions{
		Name: "strict",
		Nodes: []*Node{
			{
				Name:  "triage",
				Agent: "triager",
				Next:  []*Edge{{To: "deep", When: `state["depth"] == "full"`}},
			},
			{Name: "deep", Agent: "analyst", Terminal: true},
		},
	})
	require.NoError(t, err)
	router := newTestRouter(t, graph)
	node, _ := graph.GetNode("triage")

	decision, err := router.Route(ctx, node, &GateResult{Passed: true}, NewRetryCounters(), nil,
		NewState(map[string]any{"depth": "summary"}))
	require.NoError(t, err)
	require.Equal(t, ReasonTerminalFailure, decision.Reason)
	require.Contains(t, decision.Detail, "no edge")
}

func TestRouteReroute(t *testing.T) {
	ctx := context.Background()
	graph := newResearchGraph(t)
	router := newTestRouter(t, graph)
	node, _ := graph.GetNode("retrieval")

	t.Run("failure reroutes to the feedback target", func(t *testing.T) {
		counters := NewRetryCounters()
		decision, err := router.Route(ctx, node, failedGate("retrieval", "query_rewrite", nil), counters, nil, NewState(nil))
		require.NoError(t, err)
		// Target is a rewrite node, so the reroute is a rewrite loop.
		require.Equal(t, ReasonRewriteLoop, decision.Reason)
		require.Equal(t, "query_rewrite", decision.NextNode)
		require.Len(t, decision.Feedback, 1)
		require.Equal(t, 1, counters.Count("query_rewrite"))
	})

	t.Run("non-rewrite target reports a plain reroute", func(t *testing.T) {
		g, err := NewGraph(GraphOptions{
			Name: "plain",
			Nodes: []*Node{
				{Name: "generate", Agent: "generator", Next: []*Edge{{To: "review"}}},
				{
					Name:     "review",
					Agent:    "reviewer",
					Terminal: true,
					Gate: &Gate{
						FeedbackTarget: "generate",
						Checks:         []*Check{{Name: "complete", Fn: "complete"}},
					},
				},
			},
		})
		require.NoError(t, err)
		r := newTestRouter(t, g)
		reviewNode, _ := g.GetNode("review")
		counters := NewRetryCounters()
		decision, err := r.Route(ctx, reviewNode, failedGate("review", "generate", nil), counters, nil, NewState(nil))
		require.NoError(t, err)
		require.Equal(t, ReasonReroute, decision.Reason)
		require.Equal(t, "generate", decision.NextNode)
	})
}

func TestRouteRetryExhaustion(t *testing.T) {
	ctx := context.Background()
	graph := newResearchGraph(t)
	router := newTestRouter(t, graph)
	node, _ := graph.GetNode("retrieval")

	counters := NewRetryCounters()
	for i := 0; i < DefaultMaxRetries; i++ {
		counters.Increment("query_rewrite")
	}

	decision, err := router.Route(ctx, node, failedGate("retrieval", "query_rewrite", nil), counters, nil, NewState(nil))
	require.NoError(t, err)
	require.Equal(t, ReasonTerminalFailure, decision.Reason)
	require.Contains(t, decision.Detail, "retry budget")
	require.Len(t, decision.Feedback, 1)
	// Exhaustion does not consume another retry.
	require.Equal(t, DefaultMaxRetries, counters.Count("query_rewrite"))
}

func TestRouteHumanReviewKinds(t *testing.T) {
	ctx := context.Background()
	graph, err := NewGraph(GraphOptions{
		Name: "secure",
		Nodes: []*Node{
			{Name: "code_generation", Agent: "generator", Next: []*Edge{{To: "security_analysis"}}},
			{
				Name:     "security_analysis",
				Agent:    "security",
				Terminal: true,
				Gate: &Gate{
					FeedbackTarget: "code_generation",
					ReviewKinds:    []string{"critical_finding"},
					Checks:         []*Check{{Name: "no_criticals", Fn: "no_criticals", Kind: "critical_finding"}},
				},
			},
		},
	})
	require.NoError(t, err)
	router := newTestRouter(t, graph)
	node, _ := graph.GetNode("security_analysis")

	gate := &GateResult{
		Node:           "security_analysis",
		Passed:         false,
		Violations:     []Violation{{Kind: "critical_finding", Detail: "sql injection"}},
		FeedbackTarget: "code_generation",
	}
	counters := NewRetryCounters()
	decision, err := router.Route(ctx, node, gate, counters, nil, NewState(nil))
	require.NoError(t, err)
	require.Equal(t, ReasonHumanReview, decision.Reason)
	require.Equal(t, "code_generation", decision.Target)
	// Suspension does not consume a retry.
	require.Equal(t, 0, counters.Count("code_generation"))
}

func TestRouteStagnation(t *testing.T) {
	ctx := context.Background()
	graph := newResearchGraph(t)
	router := newTestRouter(t, graph)
	node, _ := graph.GetNode("retrieval")
	now := time.Now()

	trailOf := func(scores ...*float64) []RerouteEntry {
		var trail []RerouteEntry
		for _, s := range scores {
			trail = append(trail, RerouteEntry{
				From:   "retrieval",
				Target: "query_rewrite",
				Reason: ReasonRewriteLoop,
				Score:  s,
				At:     now,
			})
		}
		return trail
	}

	t.Run("two flat cycles escalate on the third failure", func(t *testing.T) {
		trail := trailOf(scoreOf(0.5), scoreOf(0.5))
		decision, err := router.Route(ctx, node, failedGate("retrieval", "query_rewrite", scoreOf(0.5)),
			NewRetryCounters(), trail, NewState(nil))
		require.NoError(t, err)
		require.Equal(t, ReasonHumanReview, decision.Reason)
		require.Contains(t, decision.Detail, "stagnated")
	})

	t.Run("an improving score is progress", func(t *testing.T) {
		trail := trailOf(scoreOf(0.4), scoreOf(0.5))
		decision, err := router.Route(ctx, node, failedGate("retrieval", "query_rewrite", scoreOf(0.6)),
			NewRetryCounters(), trail, NewState(nil))
		require.NoError(t, err)
		require.Equal(t, ReasonRewriteLoop, decision.Reason)
	})

	t.Run("one prior cycle is not enough", func(t *testing.T) {
		trail := trailOf(scoreOf(0.5))
		decision, err := router.Route(ctx, node, failedGate("retrieval", "query_rewrite", scoreOf(0.5)),
			NewRetryCounters(), trail, NewState(nil))
		require.NoError(t, err)
		require.Equal(t, ReasonRewriteLoop, decision.Reason)
	})

	t.Run("scoreless gates never stagnate", func(t *testing.T) {
		trail := trailOf(nil, nil)
		decision, err := router.Route(ctx, node, failedGate("retrieval", "query_rewrite", nil),
			NewRetryCounters(), trail, NewState(nil))
		require.NoError(t, err)
		require.Equal(t, ReasonRewriteLoop, decision.Reason)
	})

	t.Run("a different reroute pair resets the window", func(t *testing.T) {
		trail := []RerouteEntry{
			{From: "retrieval", Target: "query_rewrite", Reason: ReasonRewriteLoop, Score: scoreOf(0.5), At: now},
			{From: "answer", Target: "retrieval", Reason: ReasonReroute, Score: scoreOf(0.3), At: now},
			{From: "retrieval", Target: "query_rewrite", Reason: ReasonRewriteLoop, Score: scoreOf(0.5), At: now},
		}
		// The intervening answer->retrieval reroute breaks the chain, so
		// only one consecutive retrieval cycle counts.
		decision, err := router.Route(ctx, node, failedGate("retrieval", "query_rewrite", scoreOf(0.5)),
			NewRetryCounters(), trail, NewState(nil))
		require.NoError(t, err)
		require.Equal(t, ReasonRewriteLoop, decision.Reason)
	})
}
