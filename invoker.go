package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deepnoodle-ai/gateway/retry"
)

// DefaultAgentTimeout bounds a single agent invocation.
const DefaultAgentTimeout = 5 * time.Minute

// Invoker calls agents through the uniform contract, enforcing the
// per-invocation timeout and capturing errors and panics. Invocation
// problems never escape as raw errors: they become failed AgentResults and
// flow through the quality-gate failure path like any substantive failure.
type Invoker struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewInvoker creates an invoker with the given per-invocation timeout.
func NewInvoker(timeout time.Duration, logger *slog.Logger) *Invoker {
	if timeout <= 0 {
		timeout = DefaultAgentTimeout
	}
	return &Invoker{timeout: timeout, logger: logger}
}

// Invoke runs one agent invocation and always returns a result.
func (i *Invoker) Invoke(ctx context.Context, agent Agent, task map[string]any, state StateReader) *AgentResult {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	result, err := i.invoke(ctx, agent, task, state)
	if err != nil {
		kind := FailureKindAgent
		if retry.IsTimeout(err) {
			kind = FailureKindTimeout
		}
		i.logger.Error("agent invocation failed",
			"agent", agent.Name(),
			"kind", kind,
			"recoverable", retry.IsRecoverable(err),
			"error", err)
		return &AgentResult{
			Success: false,
			Error:   err.Error(),
			Metadata: map[string]any{
				"failure_kind": kind,
			},
		}
	}
	if result == nil {
		i.logger.Error("agent returned a nil result", "agent", agent.Name())
		return &AgentResult{
			Success: false,
			Error:   fmt.Sprintf("agent %q returned a nil result", agent.Name()),
			Metadata: map[string]any{
				"failure_kind": FailureKindMalformed,
			},
		}
	}
	return result
}

// invoke guards the agent call against panics
func (i *Invoker) invoke(ctx context.Context, agent Agent, task map[string]any, state StateReader) (result *AgentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("agent %q panicked: %v", agent.Name(), r)
		}
	}()
	return agent.Execute(ctx, task, state)
}
