package gateway

import (
	"context"
	"time"
)

// ExecutionCallbacks receives notifications for workflow execution events.
type ExecutionCallbacks interface {
	// Workflow-level callbacks
	BeforeWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent)
	AfterWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent)

	// Node-level callbacks
	BeforeNodeExecution(ctx context.Context, event *NodeExecutionEvent)
	AfterNodeExecution(ctx context.Context, event *NodeExecutionEvent)

	// Gate and routing callbacks
	AfterGateEvaluation(ctx context.Context, event *GateEvent)
	AfterRouteDecision(ctx context.Context, event *RouteEvent)
}

// WorkflowExecutionEvent provides context for workflow-level events
type WorkflowExecutionEvent struct {
	WorkflowID string
	GraphName  string
	Status     RunStatus
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Inputs     map[string]any
	Outputs    map[string]any
	Steps      int
	Error      error
}

// NodeExecutionEvent provides context for a single agent invocation
type NodeExecutionEvent struct {
	WorkflowID string
	GraphName  string
	Node       string
	Agent      string
	Step       int
	Task       map[string]any
	Result     *AgentResult
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
}

// GateEvent provides context for one quality-gate evaluation
type GateEvent struct {
	WorkflowID string
	Node       string
	Step       int
	Result     *GateResult
}

// RouteEvent provides context for one routing decision
type RouteEvent struct {
	WorkflowID string
	Node       string
	Step       int
	Decision   *RouteDecision
}

// BaseExecutionCallbacks provides a default implementation that does nothing.
// Embed this in your own callbacks to override only the events you need.
type BaseExecutionCallbacks struct{}

func (n *BaseExecutionCallbacks) BeforeWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) BeforeNodeExecution(ctx context.Context, event *NodeExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterNodeExecution(ctx context.Context, event *NodeExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterGateEvaluation(ctx context.Context, event *GateEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterRouteDecision(ctx context.Context, event *RouteEvent) {
	// noop
}

// CallbackChain fans events out to multiple callback implementations in
// order.
type CallbackChain struct {
	callbacks []ExecutionCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...ExecutionCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

func (c *CallbackChain) BeforeWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent) {
	for _, cb := range c.callbacks {
		cb.BeforeWorkflowExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent) {
	for _, cb := range c.callbacks {
		cb.AfterWorkflowExecution(ctx, event)
	}
}

func (c *CallbackChain) BeforeNodeExecution(ctx context.Context, event *NodeExecutionEvent) {
	for _, cb := range c.callbacks {
		cb.BeforeNodeExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterNodeExecution(ctx context.Context, event *NodeExecutionEvent) {
	for _, cb := range c.callbacks {
		cb.AfterNodeExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterGateEvaluation(ctx context.Context, event *GateEvent) {
	for _, cb := range c.callbacks {
		cb.AfterGateEvaluation(ctx, event)
	}
}

func (c *CallbackChain) AfterRouteDecision(ctx context.Context, event *RouteEvent) {
	for _, cb := range c.callbacks {
		cb.AfterRouteDecision(ctx, event)
	}
}
