package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/deepnoodle-ai/gateway"
	"github.com/deepnoodle-ai/gateway/script"
	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// CLI configuration
type Config struct {
	GraphFile   string
	Inputs      map[string]any
	DataDir     string
	PostgresDSN string
	Timeout     time.Duration
	Verbose     bool

	ResumeID    string
	InterruptID string
	Decision    string
	Edits       string
	InspectID   string
	List        bool
}

func main() {
	config := parseFlags()
	logger := setupLogger(config.Verbose)

	ctx := context.Background()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	checkpointer, err := newCheckpointer(ctx, config)
	if err != nil {
		log.Fatalf("Failed to create checkpoint store: %v", err)
	}

	switch {
	case config.List:
		listWorkflows(ctx, checkpointer)
	case config.InspectID != "":
		inspectWorkflow(ctx, checkpointer, config.InspectID)
	case config.ResumeID != "":
		resumeWorkflow(ctx, config, checkpointer, logger)
	case config.GraphFile != "":
		runWorkflow(ctx, config, checkpointer, logger)
	default:
		color.Red("Error: one of -graph, -resume, -inspect, or -list is required")
		flag.Usage()
		os.Exit(1)
	}
}

func parseFlags() Config {
	config := Config{Inputs: map[string]any{}}

	flag.StringVar(&config.GraphFile, "graph", "", "Path to the workflow graph YAML file")
	flag.StringVar(&config.DataDir, "data", "", "Checkpoint directory (default ~/.gateway/workflows)")
	flag.StringVar(&config.PostgresDSN, "postgres", "", "Postgres DSN for the checkpoint store (overrides -data)")
	flag.DurationVar(&config.Timeout, "timeout", 0, "Overall timeout (e.g. 5m)")
	flag.BoolVar(&config.Verbose, "verbose", false, "Enable debug logging")
	flag.StringVar(&config.ResumeID, "resume", "", "Workflow ID to resume")
	flag.StringVar(&config.InterruptID, "interrupt", "", "Interrupt ID to resolve (with -resume)")
	flag.StringVar(&config.Decision, "decision", "", "Decision: approve, reject, or reject_with_edits")
	flag.StringVar(&config.Edits, "edits", "", "JSON state edits for reject_with_edits")
	flag.StringVar(&config.InspectID, "inspect", "", "Workflow ID to inspect")
	flag.BoolVar(&config.List, "list", false, "List stored workflows")

	var inputsFlag string
	flag.StringVar(&inputsFlag, "inputs", "", "Comma-separated key=value workflow inputs")
	flag.Parse()

	for _, pair := range strings.Split(inputsFlag, ",") {
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			color.Red("Error: invalid input %q, expected key=value", pair)
			os.Exit(1)
		}
		config.Inputs[parts[0]] = parts[1]
	}
	return config
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}

func newCheckpointer(ctx context.Context, config Config) (gateway.Checkpointer, error) {
	if config.PostgresDSN != "" {
		db, err := gateway.OpenPostgres(ctx, config.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return gateway.NewPostgresCheckpointer(ctx, db)
	}
	return gateway.NewFileCheckpointer(config.DataDir)
}

func runWorkflow(ctx context.Context, config Config, checkpointer gateway.Checkpointer, logger *slog.Logger) {
	graph, err := gateway.LoadFile(config.GraphFile)
	if err != nil {
		log.Fatalf("Failed to load graph: %v", err)
	}
	color.Cyan("Graph: %s", graph.Name())
	if graph.Description() != "" {
		color.White("Description: %s", graph.Description())
	}

	execution, err := gateway.NewExecution(gateway.ExecutionOptions{
		Graph:        graph,
		Inputs:       config.Inputs,
		Agents:       builtinAgents(),
		Checkpointer: checkpointer,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("Failed to create execution: %v", err)
	}

	result, err := execution.Run(ctx)
	if err != nil {
		log.Fatalf("Execution error: %v", err)
	}
	printResult(result)
}

func resumeWorkflow(ctx context.Context, config Config, checkpointer gateway.Checkpointer, logger *slog.Logger) {
	if config.GraphFile == "" {
		log.Fatal("Resume requires -graph to rebuild the topology")
	}
	if config.InterruptID == "" || config.Decision == "" {
		log.Fatal("Resume requires -interrupt and -decision")
	}
	graph, err := gateway.LoadFile(config.GraphFile)
	if err != nil {
		log.Fatalf("Failed to load graph: %v", err)
	}

	decision := gateway.Decision{
		InterruptID: config.InterruptID,
		Kind:        gateway.DecisionKind(config.Decision),
	}
	if config.Edits != "" {
		if err := json.Unmarshal([]byte(config.Edits), &decision.Edits); err != nil {
			log.Fatalf("Failed to parse -edits JSON: %v", err)
		}
	}

	execution, err := gateway.NewExecution(gateway.ExecutionOptions{
		Graph:        graph,
		Inputs:       config.Inputs,
		Agents:       builtinAgents(),
		Checkpointer: checkpointer,
		Logger:       logger,
		WorkflowID:   config.ResumeID,
	})
	if err != nil {
		log.Fatalf("Failed to create execution: %v", err)
	}

	result, err := execution.Resume(ctx, decision)
	if err != nil {
		log.Fatalf("Resume error: %v", err)
	}
	printResult(result)
}

func inspectWorkflow(ctx context.Context, checkpointer gateway.Checkpointer, workflowID string) {
	history, err := gateway.NewInspector(checkpointer).History(ctx, workflowID)
	if err != nil {
		log.Fatalf("Failed to inspect workflow: %v", err)
	}
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		log.Fatalf("Failed to render history: %v", err)
	}
	fmt.Println(string(data))
}

func listWorkflows(ctx context.Context, checkpointer gateway.Checkpointer) {
	summaries, err := gateway.NewInspector(checkpointer).List(ctx)
	if err != nil {
		log.Fatalf("Failed to list workflows: %v", err)
	}
	if len(summaries) == 0 {
		color.Yellow("No stored workflows")
		return
	}
	for _, summary := range summaries {
		line := fmt.Sprintf("%s  %-10s  %s (step %d)",
			summary.WorkflowID, summary.Status, summary.GraphName, summary.Step)
		switch summary.Status {
		case gateway.RunStatusCompleted:
			color.Green(line)
		case gateway.RunStatusFailed:
			color.Red(line)
		case gateway.RunStatusSuspended:
			color.Yellow(line)
		default:
			color.White(line)
		}
	}
}

// builtinAgents returns the agents available to CLI-driven graphs. Graph
// nodes reference the "script" agent and declare their behavior in the
// node's task configuration.
func builtinAgents() []gateway.Agent {
	compiler := script.NewRisorEngine(script.DefaultGlobals())
	return []gateway.Agent{
		gateway.NewScriptAgent("script", compiler),
	}
}

func printResult(result *gateway.Result) {
	fmt.Println()
	switch {
	case result.Suspended():
		color.Yellow("Suspended for human review")
		color.White("Workflow ID:  %s", result.WorkflowID)
		color.White("Interrupt ID: %s", result.Interrupt.ID)
		color.White("Node:         %s", result.Interrupt.Node)
		if payload, err := json.MarshalIndent(result.Interrupt.Payload, "", "  "); err == nil {
			fmt.Println(string(payload))
		}
	case result.Failed():
		color.Red("Workflow failed: %s", result.Error)
		for _, v := range result.Violations {
			color.Red("  - [%s] %s", v.Kind, v.Detail)
		}
	default:
		color.Green("Workflow completed")
		if len(result.Outputs) > 0 {
			if outputs, err := json.MarshalIndent(result.Outputs, "", "  "); err == nil {
				fmt.Println(string(outputs))
			}
		}
	}
}
