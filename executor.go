package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/deepnoodle-ai/gateway/script"
	"go.jetify.com/typeid"
)

// NewWorkflowID returns a new identifier for a workflow instance
func NewWorkflowID() string {
	id, err := typeid.WithPrefix("wf")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// defaultMaxSteps bounds the step loop for instances whose options do not
// set a budget. Gate retry budgets bound reroute loops, but a forward cycle
// of conditional edges is only bounded by the step budget.
const defaultMaxSteps = 100

// RunStatus represents the status of a workflow instance
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuspended RunStatus = "suspended"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Result is the externally visible outcome of driving a workflow instance:
// either terminal (completed or failed, with the full diagnostic history
// attached) or suspended awaiting a human decision. Agent failures never
// surface as raw errors here; they arrive as recorded violations.
type Result struct {
	WorkflowID  string         `json:"workflow_id"`
	Status      RunStatus      `json:"status"`
	Reason      RouteReason    `json:"reason,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Interrupt   *Interrupt     `json:"interrupt,omitempty"`
	Violations  []Violation    `json:"violations,omitempty"`
	GateHistory []GateRecord   `json:"gate_history,omitempty"`
	Reroutes    []RerouteEntry `json:"reroutes,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Suspended reports whether the instance is awaiting a human decision.
func (r *Result) Suspended() bool {
	return r.Status == RunStatusSuspended
}

// Failed reports whether the instance terminated unsuccessfully.
func (r *Result) Failed() bool {
	return r.Status == RunStatusFailed
}

// ExecutionOptions configures a workflow instance.
type ExecutionOptions struct {
	Graph          *Graph
	Inputs         map[string]any
	Agents         []Agent
	Checks         map[string]CheckFunc
	Checkpointer   Checkpointer
	Logger         *slog.Logger
	Callbacks      ExecutionCallbacks
	ScriptCompiler script.Compiler
	AgentTimeout   time.Duration
	MaxSteps       int
	WorkflowID     string
}

// resolveInputs checks provided input values against the graph's
// declarations and fills in declared defaults.
func resolveInputs(graph *Graph, provided map[string]any) (map[string]any, error) {
	inputs := make(map[string]any, len(provided))
	for _, input := range graph.Inputs() {
		if v, ok := provided[input.Name]; ok {
			inputs[input.Name] = v
			continue
		}
		if input.Required && input.Default == nil {
			return nil, NewConfigurationError("input %q is required", input.Name)
		}
		if input.Default != nil {
			inputs[input.Name] = input.Default
		}
	}
	for k := range provided {
		if _, ok := inputs[k]; !ok {
			return nil, NewConfigurationError("unknown input %q", k)
		}
	}
	return inputs, nil
}

// Execution drives one workflow instance: invoke the current node's agent,
// evaluate its quality gate, route, apply the resulting patches, checkpoint,
// and continue until a terminal decision or a human-review suspension.
//
// One Execution runs its step loop on a single logical thread of control, so
// instance state needs no locking; independent instances may run
// concurrently because nothing is shared except the checkpoint store, whose
// records are keyed by workflow ID.
type Execution struct {
	graph      *Graph
	workflowID string
	rawInputs  map[string]any
	inputs     map[string]any

	// Per-instance state, checkpointed at every step
	state            *State
	currentNode      string
	counters         *RetryCounters
	trail            []RerouteEntry
	gateHistory      []GateRecord
	pendingInterrupt *Interrupt
	step             int
	maxSteps         int
	status           RunStatus
	startTime        time.Time
	endTime          time.Time
	errMsg           string

	// Collaborators
	agents       AgentRegistry
	invoker      *Invoker
	evaluator    *Evaluator
	router       *Router
	checkpointer Checkpointer
	callbacks    ExecutionCallbacks
	logger       *slog.Logger

	mutex    sync.Mutex
	started  bool
	prepared bool
}

// NewExecution creates a workflow instance. Nodes referencing unregistered
// agents fail here with a ConfigurationError; input values are resolved when
// Run starts, so the same options can resume or recover an instance whose
// inputs live in its checkpoint.
func NewExecution(opts ExecutionOptions) (*Execution, error) {
	if opts.Graph == nil {
		return nil, NewConfigurationError("graph is required")
	}
	if len(opts.Agents) == 0 {
		return nil, NewConfigurationError("agents are required")
	}
	if opts.ScriptCompiler == nil {
		opts.ScriptCompiler = script.NewRisorEngine(script.DefaultGlobals())
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewNullCheckpointer()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseExecutionCallbacks{}
	}
	if opts.WorkflowID == "" {
		opts.WorkflowID = NewWorkflowID()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}

	agents := make(AgentRegistry, len(opts.Agents))
	for _, agent := range opts.Agents {
		agents[agent.Name()] = agent
	}
	for _, node := range opts.Graph.Nodes() {
		if _, ok := agents[node.Agent]; !ok {
			return nil, NewConfigurationError("node %q references unknown agent %q", node.Name, node.Agent)
		}
	}

	logger := opts.Logger.With("workflow_id", opts.WorkflowID)

	return &Execution{
		graph:        opts.Graph,
		workflowID:   opts.WorkflowID,
		rawInputs:    opts.Inputs,
		state:        NewState(nil),
		currentNode:  opts.Graph.Start().Name,
		counters:     NewRetryCounters(),
		maxSteps:     opts.MaxSteps,
		status:       RunStatusPending,
		agents:       agents,
		invoker:      NewInvoker(opts.AgentTimeout, logger),
		evaluator:    NewEvaluator(opts.ScriptCompiler, opts.Checks),
		router:       NewRouter(opts.Graph, opts.ScriptCompiler),
		checkpointer: opts.Checkpointer,
		callbacks:    opts.Callbacks,
		logger:       logger,
	}, nil
}

// ID returns the workflow instance ID
func (e *Execution) ID() string {
	return e.workflowID
}

// Status returns the current instance status
func (e *Execution) Status() RunStatus {
	return e.status
}

// Checkpointer returns the checkpoint store backing this instance
func (e *Execution) Checkpointer() Checkpointer {
	return e.checkpointer
}

func (e *Execution) start() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.started {
		return fmt.Errorf("execution already started")
	}
	e.started = true
	return nil
}

// prepare compiles gate expressions and edge conditions so configuration
// problems surface before the first agent invocation
func (e *Execution) prepare(ctx context.Context) error {
	if e.prepared {
		return nil
	}
	if err := e.evaluator.Prepare(ctx, e.graph); err != nil {
		return err
	}
	if err := e.router.Prepare(ctx); err != nil {
		return err
	}
	e.prepared = true
	return nil
}

// Run drives a fresh workflow instance until a terminal decision or a
// human-review suspension. The returned error is reserved for
// configuration and checkpoint-durability failures; everything else is
// reported through the Result.
func (e *Execution) Run(ctx context.Context) (*Result, error) {
	if err := e.start(); err != nil {
		return nil, err
	}
	if err := e.prepare(ctx); err != nil {
		return nil, err
	}

	inputs, err := resolveInputs(e.graph, e.rawInputs)
	if err != nil {
		return nil, err
	}
	e.inputs = inputs
	initial := copyMap(e.graph.InitialState())
	for k, v := range inputs {
		initial[k] = v
	}
	initial[StateKeyGateHistory] = []any{}
	initial[StateKeyRerouteHistory] = []any{}
	e.state.Restore(initial)

	e.status = RunStatusRunning
	e.startTime = time.Now()
	e.callbacks.BeforeWorkflowExecution(ctx, e.workflowEvent(nil))
	e.logger.Info("workflow started", "graph", e.graph.Name(), "start_node", e.currentNode)

	// Checkpoint at workflow start so the instance is recoverable from step
	// zero onward.
	if err := e.saveCheckpoint(ctx); err != nil {
		return nil, err
	}
	return e.loop(ctx)
}

// Resume applies a human decision to a suspended instance and continues the
// step loop. A decision naming an unknown or already-consumed interrupt
// fails with DuplicateResumeError and leaves the instance untouched.
func (e *Execution) Resume(ctx context.Context, decision Decision) (*Result, error) {
	if err := e.start(); err != nil {
		return nil, err
	}

	checkpoint, err := e.checkpointer.LoadCheckpoint(ctx, e.workflowID)
	if err != nil {
		return nil, err
	}
	e.restore(checkpoint)

	interrupt := e.pendingInterrupt
	if interrupt == nil || interrupt.ID != decision.InterruptID || interrupt.Status != InterruptPending {
		return nil, &DuplicateResumeError{InterruptID: decision.InterruptID}
	}
	if !decision.Valid() {
		return nil, fmt.Errorf("invalid decision kind %q", decision.Kind)
	}
	if interrupt.Expired(time.Now()) {
		interrupt.Status = InterruptExpired
		if err := e.saveCheckpoint(ctx); err != nil {
			return nil, err
		}
		return nil, &InterruptExpiredError{InterruptID: interrupt.ID}
	}
	if err := e.prepare(ctx); err != nil {
		return nil, err
	}

	// Consume the interrupt: it is single-use from here on.
	interrupt.Status = InterruptResolved
	e.pendingInterrupt = nil
	e.status = RunStatusRunning
	e.logger.Info("interrupt resolved",
		"interrupt_id", interrupt.ID,
		"node", interrupt.Node,
		"decision", decision.Kind)

	node, ok := e.graph.GetNode(interrupt.Node)
	if !ok {
		return nil, NewConfigurationError("interrupt node %q not found", interrupt.Node)
	}

	switch decision.Kind {
	case DecisionApprove:
		forward, err := e.router.forward(ctx, node, e.state)
		if err != nil {
			return nil, err
		}
		if forward.Reason.Terminal() {
			if err := e.applyDecisionStep(ctx, node, forward, &Patch{Delete: []string{StateKeyFeedback}}, nil); err != nil {
				return nil, err
			}
			return e.finish(ctx, forward, nil)
		}
		e.currentNode = forward.NextNode
		if err := e.applyDecisionStep(ctx, node, forward, &Patch{Delete: []string{StateKeyFeedback}}, nil); err != nil {
			return nil, err
		}

	case DecisionReject, DecisionRejectWithEdits:
		if decision.Kind == DecisionRejectWithEdits {
			if err := e.state.MergeEdits(decision.Edits); err != nil {
				return nil, err
			}
		}
		violations := interrupt.Violations()
		reroute := e.rejectDecision(node, interrupt.Target, violations)
		if reroute.Reason == ReasonTerminalFailure {
			if err := e.applyDecisionStep(ctx, node, reroute, nil, violations); err != nil {
				return nil, err
			}
			return e.finish(ctx, reroute, violations)
		}
		// A human rejection carries feedback in exactly the shape of an
		// automatic gate failure.
		e.currentNode = reroute.NextNode
		if err := e.applyDecisionStep(ctx, node, reroute, feedbackPatch(node.Name, violations), violations); err != nil {
			return nil, err
		}
	}

	return e.loop(ctx)
}

// Recover continues an instance that stopped mid-run (process restart or
// crash) from its last checkpoint. Completed and failed instances return
// their recorded terminal result; suspended instances return the pending
// interrupt again.
func (e *Execution) Recover(ctx context.Context) (*Result, error) {
	if err := e.start(); err != nil {
		return nil, err
	}
	checkpoint, err := e.checkpointer.LoadCheckpoint(ctx, e.workflowID)
	if err != nil {
		return nil, err
	}
	e.restore(checkpoint)

	switch e.status {
	case RunStatusCompleted, RunStatusFailed:
		return e.result(), nil
	case RunStatusSuspended:
		return e.result(), nil
	}
	if err := e.prepare(ctx); err != nil {
		return nil, err
	}
	e.status = RunStatusRunning
	e.logger.Info("recovered workflow from checkpoint", "node", e.currentNode, "step", e.step)
	return e.loop(ctx)
}

// loop is the step loop: invoke, evaluate, route, patch, checkpoint. It
// exits only on a terminal decision, a suspension, a cancellation between
// steps, an exhausted step budget, or a checkpoint-durability failure.
func (e *Execution) loop(ctx context.Context) (*Result, error) {
	for {
		if ctx.Err() != nil {
			cancelled := &RouteDecision{
				Reason: ReasonTerminalFailure,
				Detail: "cancelled",
			}
			violations := []Violation{{Kind: FailureKindCancelled, Detail: ctx.Err().Error()}}
			e.recordRoute(e.currentNode, cancelled, nil)
			return e.finish(context.WithoutCancel(ctx), cancelled, violations)
		}

		// Retry budgets bound reroute loops, but a forward cycle through
		// conditional edges moves no counter. The step budget bounds those.
		if e.step >= e.maxSteps {
			exhausted := &RouteDecision{
				Reason: ReasonTerminalFailure,
				Detail: fmt.Sprintf("step budget of %d exhausted at node %q", e.maxSteps, e.currentNode),
			}
			e.recordRoute(e.currentNode, exhausted, nil)
			return e.finish(ctx, exhausted, nil)
		}

		node, ok := e.graph.GetNode(e.currentNode)
		if !ok {
			return nil, NewConfigurationError("node %q not found", e.currentNode)
		}
		e.step++

		result := e.invokeNode(ctx, node)

		gateResult, err := e.evaluator.Evaluate(ctx, node, result, e.state)
		if err != nil {
			return nil, err
		}
		e.recordGate(node, gateResult)
		e.callbacks.AfterGateEvaluation(ctx, &GateEvent{
			WorkflowID: e.workflowID,
			Node:       node.Name,
			Step:       e.step,
			Result:     gateResult,
		})

		decision, err := e.router.Route(ctx, node, gateResult, e.counters, e.trail, e.state)
		if err != nil {
			return nil, err
		}
		e.recordRoute(node.Name, decision, gateResult.Score)
		e.callbacks.AfterRouteDecision(ctx, &RouteEvent{
			WorkflowID: e.workflowID,
			Node:       node.Name,
			Step:       e.step,
			Decision:   decision,
		})

		switch decision.Reason {
		case ReasonForward:
			e.currentNode = decision.NextNode
			if err := e.applyAndCheckpoint(ctx, &Patch{Delete: []string{StateKeyFeedback}}); err != nil {
				return nil, err
			}

		case ReasonReroute, ReasonRewriteLoop:
			e.logger.Info("rerouting on gate failure",
				"node", node.Name,
				"target", decision.NextNode,
				"violations", len(decision.Feedback))
			e.currentNode = decision.NextNode
			if err := e.applyAndCheckpoint(ctx, feedbackPatch(node.Name, decision.Feedback)); err != nil {
				return nil, err
			}

		case ReasonHumanReview:
			return e.suspend(ctx, node, decision)

		case ReasonTerminalSuccess:
			return e.finish(ctx, decision, nil)

		case ReasonTerminalFailure:
			return e.finish(ctx, decision, decision.Feedback)
		}
	}
}

// invokeNode runs one agent invocation and merges its output into state
func (e *Execution) invokeNode(ctx context.Context, node *Node) *AgentResult {
	agent := e.agents[node.Agent]
	startTime := time.Now()
	event := &NodeExecutionEvent{
		WorkflowID: e.workflowID,
		GraphName:  e.graph.Name(),
		Node:       node.Name,
		Agent:      agent.Name(),
		Step:       e.step,
		Task:       copyMap(node.Task),
		StartTime:  startTime,
	}
	e.callbacks.BeforeNodeExecution(ctx, event)

	result := e.invoker.Invoke(ctx, agent, node.Task, e.state)

	event.Result = result
	event.EndTime = time.Now()
	event.Duration = event.EndTime.Sub(startTime)
	e.callbacks.AfterNodeExecution(ctx, event)
	e.logger.Debug("agent invoked",
		"node", node.Name,
		"agent", agent.Name(),
		"success", result.Success,
		"duration", event.Duration)

	if result.Success && result.Output != nil {
		patch := &Patch{Set: map[string]any{}}
		if node.Store != "" {
			patch.Set[node.Store] = result.Output
		} else {
			for k, v := range result.Output {
				patch.Set[k] = v
			}
		}
		// State apply only fails on misuse of history fields.
		if err := e.state.Apply(patch); err != nil {
			e.logger.Error("failed to apply agent output", "node", node.Name, "error", err)
		}
	}
	return result
}

// suspend persists a pending interrupt and hands control back to the caller
func (e *Execution) suspend(ctx context.Context, node *Node, decision *RouteDecision) (*Result, error) {
	interrupt := NewInterrupt(node, decision, time.Now())
	e.pendingInterrupt = interrupt
	e.status = RunStatusSuspended
	if err := e.saveCheckpoint(ctx); err != nil {
		return nil, err
	}
	e.logger.Info("workflow suspended for human review",
		"node", node.Name,
		"interrupt_id", interrupt.ID,
		"detail", decision.Detail)
	return e.result(), nil
}

// finish records the terminal status, extracts outputs on success, and
// writes the final checkpoint.
func (e *Execution) finish(ctx context.Context, decision *RouteDecision, violations []Violation) (*Result, error) {
	e.endTime = time.Now()

	if decision.Reason == ReasonTerminalSuccess {
		e.status = RunStatusCompleted
		e.errMsg = ""
		if err := e.extractOutputs(); err != nil {
			e.status = RunStatusFailed
			e.errMsg = err.Error()
		}
	} else {
		e.status = RunStatusFailed
		e.errMsg = decision.Detail
	}

	if err := e.saveCheckpoint(ctx); err != nil {
		return nil, err
	}

	result := e.result()
	result.Reason = decision.Reason
	result.Violations = violations

	duration := e.endTime.Sub(e.startTime)
	e.callbacks.AfterWorkflowExecution(ctx, e.workflowEvent(result))
	if e.status == RunStatusCompleted {
		e.logger.Info("workflow completed", "steps", e.step, "duration", duration)
	} else {
		e.logger.Error("workflow failed", "steps", e.step, "duration", duration, "error", e.errMsg)
	}
	return result, nil
}

// rejectDecision builds the routing decision for a human rejection, honoring
// the target's retry budget exactly like the automatic path.
func (e *Execution) rejectDecision(node *Node, target string, violations []Violation) *RouteDecision {
	targetNode, ok := e.graph.GetNode(target)
	if !ok {
		return &RouteDecision{
			Reason: ReasonTerminalFailure,
			Detail: fmt.Sprintf("reject target %q not found", target),
		}
	}
	if e.counters.Count(target) >= e.graph.MaxRetriesFor(targetNode) {
		return &RouteDecision{
			Reason:   ReasonTerminalFailure,
			Target:   target,
			Feedback: violations,
			Detail:   fmt.Sprintf("retry budget for %q exhausted after %d reroutes", target, e.counters.Count(target)),
		}
	}
	e.counters.Increment(target)
	reason := ReasonReroute
	if targetNode.Rewrite {
		reason = ReasonRewriteLoop
	}
	return &RouteDecision{
		NextNode: target,
		Reason:   reason,
		Target:   target,
		Feedback: violations,
		Detail:   "rejected by human review",
	}
}

// applyDecisionStep records a resume decision's route, applies its patch,
// and checkpoints before the transition.
func (e *Execution) applyDecisionStep(ctx context.Context, node *Node, decision *RouteDecision, patch *Patch, violations []Violation) error {
	e.step++
	record := &RouteDecision{
		NextNode: decision.NextNode,
		Reason:   decision.Reason,
		Target:   decision.Target,
		Feedback: violations,
		Detail:   decision.Detail,
	}
	e.recordRoute(node.Name, record, nil)
	return e.applyAndCheckpoint(ctx, patch)
}

// applyAndCheckpoint applies a patch and durably checkpoints the step. A
// checkpoint write failure is fatal: the executor must not proceed past a
// step that is not persisted.
func (e *Execution) applyAndCheckpoint(ctx context.Context, patch *Patch) error {
	if err := e.state.Apply(patch); err != nil {
		return err
	}
	return e.saveCheckpoint(ctx)
}

func (e *Execution) saveCheckpoint(ctx context.Context) error {
	checkpoint := e.buildCheckpoint()
	if err := e.checkpointer.SaveCheckpoint(ctx, checkpoint); err != nil {
		return &CheckpointWriteError{WorkflowID: e.workflowID, Err: err}
	}
	return nil
}

func (e *Execution) buildCheckpoint() *Checkpoint {
	return &Checkpoint{
		WorkflowID:       e.workflowID,
		GraphName:        e.graph.Name(),
		Status:           e.status,
		CurrentNode:      e.currentNode,
		Step:             e.step,
		State:            e.state.Snapshot(),
		Inputs:           copyMap(e.inputs),
		Outputs:          e.outputs(),
		RetryCounts:      e.counters.Snapshot(),
		Reroutes:         append([]RerouteEntry(nil), e.trail...),
		GateHistory:      append([]GateRecord(nil), e.gateHistory...),
		PendingInterrupt: e.pendingInterrupt,
		Error:            e.errMsg,
		StartTime:        e.startTime,
		EndTime:          e.endTime,
		CheckpointAt:     time.Now(),
	}
}

// restore loads instance state from a checkpoint
func (e *Execution) restore(checkpoint *Checkpoint) {
	e.state.Restore(checkpoint.State)
	e.inputs = copyMap(checkpoint.Inputs)
	e.currentNode = checkpoint.CurrentNode
	e.step = checkpoint.Step
	e.counters.Restore(checkpoint.RetryCounts)
	e.trail = append([]RerouteEntry(nil), checkpoint.Reroutes...)
	e.gateHistory = append([]GateRecord(nil), checkpoint.GateHistory...)
	e.pendingInterrupt = checkpoint.PendingInterrupt
	e.status = checkpoint.Status
	e.startTime = checkpoint.StartTime
	e.endTime = checkpoint.EndTime
	e.errMsg = checkpoint.Error
}

// recordGate appends a gate evaluation to the audit history, both in the
// typed checkpoint history and in the state's append-only history field.
func (e *Execution) recordGate(node *Node, gateResult *GateResult) {
	record := GateRecord{
		Step:           e.step,
		Node:           node.Name,
		Passed:         gateResult.Passed,
		Score:          gateResult.Score,
		Violations:     gateResult.Violations,
		Warnings:       gateResult.Warnings,
		FeedbackTarget: gateResult.FeedbackTarget,
		At:             time.Now(),
	}
	e.gateHistory = append(e.gateHistory, record)

	entry := map[string]any{
		"step":   float64(record.Step),
		"node":   record.Node,
		"passed": record.Passed,
	}
	if record.Score != nil {
		entry["score"] = *record.Score
	}
	if len(record.Violations) > 0 {
		entry["violations"] = violationMaps(record.Violations)
	}
	if err := e.state.Apply(&Patch{Append: map[string][]any{StateKeyGateHistory: {entry}}}); err != nil {
		e.logger.Error("failed to record gate history", "error", err)
	}
}

// recordRoute appends a routing decision to the reroute trail and the
// state's append-only history field.
func (e *Execution) recordRoute(from string, decision *RouteDecision, score *float64) {
	entry := RerouteEntry{
		From:   from,
		Target: decision.Target,
		Reason: decision.Reason,
		Score:  score,
		Detail: decision.Detail,
		At:     time.Now(),
	}
	e.trail = append(e.trail, entry)

	record := map[string]any{
		"from":   from,
		"reason": string(decision.Reason),
	}
	if decision.Target != "" {
		record["target"] = decision.Target
	}
	if decision.Detail != "" {
		record["detail"] = decision.Detail
	}
	if err := e.state.Apply(&Patch{Append: map[string][]any{StateKeyRerouteHistory: {record}}}); err != nil {
		e.logger.Error("failed to record reroute history", "error", err)
	}
}

// extractOutputs resolves declared graph outputs from state fields
func (e *Execution) extractOutputs() error {
	for _, output := range e.graph.Outputs() {
		field := output.Field
		if field == "" {
			field = output.Name
		}
		if _, ok := e.state.Get(field); !ok {
			return fmt.Errorf("workflow output field %q not found", field)
		}
	}
	return nil
}

// outputs resolves declared output values from the current state
func (e *Execution) outputs() map[string]any {
	declared := e.graph.Outputs()
	if len(declared) == 0 {
		return nil
	}
	outputs := make(map[string]any, len(declared))
	for _, output := range declared {
		field := output.Field
		if field == "" {
			field = output.Name
		}
		if value, ok := e.state.Get(field); ok {
			outputs[output.Name] = value
		}
	}
	return outputs
}

func (e *Execution) result() *Result {
	result := &Result{
		WorkflowID:  e.workflowID,
		Status:      e.status,
		Outputs:     e.outputs(),
		Interrupt:   e.pendingInterrupt,
		GateHistory: append([]GateRecord(nil), e.gateHistory...),
		Reroutes:    append([]RerouteEntry(nil), e.trail...),
		Error:       e.errMsg,
	}
	switch e.status {
	case RunStatusCompleted:
		result.Reason = ReasonTerminalSuccess
	case RunStatusFailed:
		result.Reason = ReasonTerminalFailure
	case RunStatusSuspended:
		result.Reason = ReasonHumanReview
	}
	return result
}

func (e *Execution) workflowEvent(result *Result) *WorkflowExecutionEvent {
	event := &WorkflowExecutionEvent{
		WorkflowID: e.workflowID,
		GraphName:  e.graph.Name(),
		Status:     e.status,
		StartTime:  e.startTime,
		EndTime:    e.endTime,
		Inputs:     copyMap(e.inputs),
		Steps:      e.step,
	}
	if !e.endTime.IsZero() {
		event.Duration = e.endTime.Sub(e.startTime)
	}
	if result != nil {
		event.Outputs = result.Outputs
		if result.Error != "" {
			event.Error = fmt.Errorf("%s", result.Error)
		}
	}
	return event
}

// feedbackPatch builds the patch that carries gate violations to the
// feedback target's next invocation. Human rejections use this same
// construction, so a downstream agent cannot distinguish a human rejection
// from an automatic gate failure.
func feedbackPatch(from string, violations []Violation) *Patch {
	return &Patch{
		Set: map[string]any{
			StateKeyFeedback: map[string]any{
				"from":       from,
				"violations": violationMaps(violations),
			},
		},
	}
}

// violationMaps converts violations to JSON-native records for state fields
func violationMaps(violations []Violation) []any {
	records := make([]any, 0, len(violations))
	for _, v := range violations {
		record := map[string]any{
			"kind":   v.Kind,
			"detail": v.Detail,
		}
		if v.Remediation != "" {
			record["remediation"] = v.Remediation
		}
		records = append(records, record)
	}
	return records
}
