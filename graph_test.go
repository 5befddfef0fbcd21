package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGraph(t *testing.T) {
	t.Run("valid graph", func(t *testing.T) {
		graph, err := NewGraph(GraphOptions{
			Name: "pipeline",
			Nodes: []*Node{
				{Name: "plan", Agent: "planner", Next: []*Edge{{To: "execute"}}},
				{Name: "execute", Agent: "worker", Terminal: true},
			},
		})
		require.NoError(t, err)
		require.Equal(t, "pipeline", graph.Name())
		require.Equal(t, "plan", graph.Start().Name)
		require.Equal(t, []string{"execute", "plan"}, graph.NodeNames())

		node, ok := graph.GetNode("execute")
		require.True(t, ok)
		require.True(t, node.IsTerminal())
	})

	t.Run("name required", func(t *testing.T) {
		_, err := NewGraph(GraphOptions{Nodes: []*Node{{Name: "a", Agent: "x"}}})
		require.Error(t, err)
		var configErr *ConfigurationError
		require.ErrorAs(t, err, &configErr)
	})

	t.Run("nodes required", func(t *testing.T) {
		_, err := NewGraph(GraphOptions{Name: "empty"})
		require.Error(t, err)
	})

	t.Run("duplicate node names rejected", func(t *testing.T) {
		_, err := NewGraph(GraphOptions{
			Name: "dup",
			Nodes: []*Node{
				{Name: "a", Agent: "x", Terminal: true},
				{Name: "a", Agent: "y", Terminal: true},
			},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "duplicate node name")
	})

	t.Run("dangling edge rejected", func(t *testing.T) {
		_, err := NewGraph(GraphOptions{
			Name: "dangling",
			Nodes: []*Node{
				{Name: "a", Agent: "x", Next: []*Edge{{To: "missing"}}},
			},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "unknown node")
	})

	t.Run("dangling feedback target rejected", func(t *testing.T) {
		_, err := NewGraph(GraphOptions{
			Name: "dangling-target",
			Nodes: []*Node{
				{
					Name:     "review",
					Agent:    "reviewer",
					Terminal: true,
					Gate: &Gate{
						FeedbackTarget: "missing",
						Checks:         []*Check{{Name: "ok", Expr: "true"}},
					},
				},
			},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "feedback target")
	})

	t.Run("dangling kind target rejected", func(t *testing.T) {
		_, err := NewGraph(GraphOptions{
			Name: "dangling-kind-target",
			Nodes: []*Node{
				{
					Name:     "review",
					Agent:    "reviewer",
					Terminal: true,
					Gate: &Gate{
						Targets: map[string]string{"security": "missing"},
						Checks:  []*Check{{Name: "ok", Expr: "true"}},
					},
				},
			},
		})
		require.Error(t, err)
	})

	t.Run("check with both expr and fn rejected", func(t *testing.T) {
		_, err := NewGraph(GraphOptions{
			Name: "both",
			Nodes: []*Node{
				{
					Name:     "review",
					Agent:    "reviewer",
					Terminal: true,
					Gate: &Gate{
						Checks: []*Check{{Name: "ok", Expr: "true", Fn: "ok"}},
					},
				},
			},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "both expr and fn")
	})

	t.Run("no reachable terminal rejected", func(t *testing.T) {
		_, err := NewGraph(GraphOptions{
			Name: "loop",
			Nodes: []*Node{
				{Name: "a", Agent: "x", Next: []*Edge{{To: "b"}}},
				{Name: "b", Agent: "y", Next: []*Edge{{To: "a"}}},
			},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "no terminal node reachable")
	})
}

func TestGraphMaxRetriesFor(t *testing.T) {
	graph, err := NewGraph(GraphOptions{
		Name:       "retries",
		MaxRetries: 5,
		Nodes: []*Node{
			{Name: "a", Agent: "x", Next: []*Edge{{To: "b"}}},
			{Name: "b", Agent: "y", MaxRetries: 1, Terminal: true},
		},
	})
	require.NoError(t, err)

	a, _ := graph.GetNode("a")
	b, _ := graph.GetNode("b")
	require.Equal(t, 5, graph.MaxRetriesFor(a))
	require.Equal(t, 1, graph.MaxRetriesFor(b))
}

func TestGraphDefaultMaxRetries(t *testing.T) {
	graph, err := NewGraph(GraphOptions{
		Name:  "defaults",
		Nodes: []*Node{{Name: "a", Agent: "x", Terminal: true}},
	})
	require.NoError(t, err)
	a, _ := graph.GetNode("a")
	require.Equal(t, DefaultMaxRetries, graph.MaxRetriesFor(a))
}

func TestLoadString(t *testing.T) {
	t.Run("full graph", func(t *testing.T) {
		graph, err := LoadString(`
name: research-pipeline
description: Query refinement with a relevance gate
inputs:
  - name: query
    type: string
    required: true
outputs:
  - name: answer
    field: answer
max_retries: 2
nodes:
  - name: query_rewrite
    agent: rewriter
    rewrite: true
    next:
      - to: retrieval
  - name: retrieval
    agent: retriever
    gate:
      feedback_target: query_rewrite
      checks:
        - name: relevance
          fn: relevance
          threshold: 0.8
          scale: 10
    next:
      - to: answer
  - name: answer
    agent: answerer
    terminal: true
`)
		require.NoError(t, err)
		require.Equal(t, "research-pipeline", graph.Name())
		require.Len(t, graph.Inputs(), 1)
		require.Len(t, graph.Outputs(), 1)

		rewrite, ok := graph.GetNode("query_rewrite")
		require.True(t, ok)
		require.True(t, rewrite.Rewrite)

		retrieval, ok := graph.GetNode("retrieval")
		require.True(t, ok)
		require.NotNil(t, retrieval.Gate)
		require.Equal(t, "query_rewrite", retrieval.Gate.FeedbackTarget)
		require.Equal(t, 0.8, retrieval.Gate.Checks[0].Threshold)
		require.Equal(t, float64(10), retrieval.Gate.Checks[0].Scale)
		require.Equal(t, 2, graph.MaxRetriesFor(retrieval))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadString("nodes: [")
		require.Error(t, err)
	})

	t.Run("conditional edges", func(t *testing.T) {
		graph, err := LoadString(`
name: branches
nodes:
  - name: triage
    agent: triager
    next:
      - to: deep
        when: 'state["depth"] == "full"'
      - to: quick
  - name: deep
    agent: analyst
    terminal: true
  - name: quick
    agent: analyst
    terminal: true
`)
		require.NoError(t, err)
		triage, _ := graph.GetNode("triage")
		require.Len(t, triage.Next, 2)
		require.NotEmpty(t, triage.Next[0].When)
		require.Empty(t, triage.Next[1].When)
	})
}
