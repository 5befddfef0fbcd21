package gateway

import (
	"errors"
	"fmt"
)

// ErrCheckpointNotFound is returned by checkpoint stores when no checkpoint
// exists for the requested workflow ID.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ConfigurationError indicates a malformed graph or invalid run options:
// missing nodes, dangling edges, unreachable terminals, or missing required
// inputs. It is always detected before any agent is invoked.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// NewConfigurationError creates a ConfigurationError with a formatted message.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// CheckpointWriteError indicates that a checkpoint write failed. This is
// always fatal for the workflow instance: proceeding past an unpersisted step
// would make crash recovery inconsistent.
type CheckpointWriteError struct {
	WorkflowID string
	Err        error
}

func (e *CheckpointWriteError) Error() string {
	return fmt.Sprintf("checkpoint write failed for workflow %s: %v", e.WorkflowID, e.Err)
}

func (e *CheckpointWriteError) Unwrap() error {
	return e.Err
}

// DuplicateResumeError indicates that a resume arrived for an interrupt that
// was already consumed, or that names an unknown interrupt ID. Interrupts are
// single-use: the workflow instance's state is not affected by the rejected
// call.
type DuplicateResumeError struct {
	InterruptID string
}

func (e *DuplicateResumeError) Error() string {
	return fmt.Sprintf("interrupt %s has already been resolved or does not exist", e.InterruptID)
}

// InterruptExpiredError indicates that a resume arrived after the interrupt's
// configured expiry.
type InterruptExpiredError struct {
	InterruptID string
}

func (e *InterruptExpiredError) Error() string {
	return fmt.Sprintf("interrupt %s has expired", e.InterruptID)
}

// Failure kinds recorded in violations produced by the engine itself (as
// opposed to kinds declared by gate checks). Agent invocation problems are
// folded into the normal quality-gate failure path using these kinds.
const (
	FailureKindAgent      = "agent_failure"
	FailureKindTimeout    = "agent_timeout"
	FailureKindMalformed  = "malformed_result"
	FailureKindExpression = "expression_failure"
	FailureKindExhausted  = "retry_exhausted"
	FailureKindCancelled  = "cancelled"
	FailureKindRejected   = "human_rejected"
)
