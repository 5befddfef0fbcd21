package gateway

import (
	"context"
)

// AgentResult is the uniform outcome of one agent invocation. It is produced
// by the invoker and never mutated afterwards.
type AgentResult struct {
	Output   map[string]any `json:"output,omitempty"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Agent is the contract every external processing agent implements. Agents
// must be stateless from the orchestrator's perspective: any internal memory
// or caching is the agent's own concern and invisible to the graph.
type Agent interface {

	// Name returns the name of the Agent
	Name() string

	// Execute the agent against the declared task with a read view of state.
	Execute(ctx context.Context, task map[string]any, state StateReader) (*AgentResult, error)
}

// AgentRegistry is a map of agent names to agents
type AgentRegistry map[string]Agent

// AgentFunction is a function that can be used as an agent
type AgentFunction struct {
	name string
	fn   func(ctx context.Context, task map[string]any, state StateReader) (*AgentResult, error)
}

// NewAgentFunction creates a new AgentFunction
func NewAgentFunction(name string, fn func(ctx context.Context, task map[string]any, state StateReader) (*AgentResult, error)) *AgentFunction {
	return &AgentFunction{name: name, fn: fn}
}

func (a *AgentFunction) Name() string {
	return a.name
}

func (a *AgentFunction) Execute(ctx context.Context, task map[string]any, state StateReader) (*AgentResult, error) {
	return a.fn(ctx, task, state)
}
