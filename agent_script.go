package gateway

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/gateway/script"
)

// ScriptAgent evaluates a script declared in the node's task configuration
// (task parameter "script") against the workflow state. A script returning a
// map becomes the agent output; any other value is stored under "result".
// Useful for data plumbing nodes and for exercising graphs without wiring
// real agents.
type ScriptAgent struct {
	name     string
	compiler script.Compiler
}

// NewScriptAgent creates a script-evaluating agent with the given name.
func NewScriptAgent(name string, compiler script.Compiler) *ScriptAgent {
	if compiler == nil {
		compiler = script.NewRisorEngine(script.DefaultGlobals())
	}
	return &ScriptAgent{name: name, compiler: compiler}
}

func (a *ScriptAgent) Name() string {
	return a.name
}

func (a *ScriptAgent) Execute(ctx context.Context, task map[string]any, state StateReader) (*AgentResult, error) {
	code, ok := task["script"].(string)
	if !ok || code == "" {
		return nil, fmt.Errorf("script agent %q requires a %q task parameter", a.name, "script")
	}
	compiled, err := a.compiler.Compile(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}
	value, err := compiled.Evaluate(ctx, map[string]any{
		"state": state.Snapshot(),
		"task":  task,
	})
	if err != nil {
		return nil, err
	}

	output, ok := value.Value().(map[string]any)
	if !ok {
		output = map[string]any{"result": value.Value()}
	}
	return &AgentResult{Output: output, Success: true}, nil
}
