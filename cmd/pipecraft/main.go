// ABOUTME: CLI entrypoint for the pipecraft pipeline runner: run, validate, and serve subcommands.
// ABOUTME: Wires the runtime Runner / api.Server together with retry policies and signal handling.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pipecraft/pipecraft/api"
	"github.com/pipecraft/pipecraft/graph"
	"github.com/pipecraft/pipecraft/runtime"
)

var version = "dev"

func main() {
	os.Exit(runMain(os.Args[1:]))
}

func runMain(args []string) int {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return 1
	}

	switch args[0] {
	case "run":
		return cmdRun(args[1:])
	case "validate":
		return cmdValidate(args[1:])
	case "serve":
		return cmdServe(args[1:])
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return 0
	case "-v", "--version", "version":
		fmt.Printf("pipecraft %s\n", version)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "pipecraft: unknown command %q\n\n", args[0])
		printUsage(os.Stderr)
		return 1
	}
}

// cmdRun implements "pipecraft run <file> [flags]".
func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	simulate := fs.Bool("simulate", false, "")
	autoApprove := fs.Bool("auto-approve", false, "")
	logsDir := fs.String("logs-dir", "", "")
	provider := fs.String("provider", "", "")
	model := fs.String("model", "", "")
	retryName := fs.String("retry", "", "")
	verbose := fs.Bool("verbose", false, "")
	overrides := make(varOverrides)
	fs.Var(overrides, "set", "")
	fs.Usage = func() { printUsage(os.Stderr) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "error: pipecraft run requires a pipeline file")
		printUsage(os.Stderr)
		return 1
	}
	pipelineFile := fs.Arg(0)

	fileCfg, err := loadFileConfig("pipecraft.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	effLogsDir := firstNonEmpty(*logsDir, fileCfg.LogsDir, "artifacts")
	effProvider := firstNonEmpty(*provider, fileCfg.Provider)
	effModel := firstNonEmpty(*model, fileCfg.Model)
	effRetry := firstNonEmpty(*retryName, fileCfg.RetryPolicy, "none")

	source, err := os.ReadFile(pipelineFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	g, err := graph.Parse(string(source))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if diags, err := graph.ValidateOrError(g); err != nil {
		printDiagnostics(os.Stderr, diags)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	} else if len(diags) > 0 && *verbose {
		printDiagnostics(os.Stderr, diags)
	}

	var interviewer runtime.Interviewer
	if *autoApprove || *simulate {
		interviewer = &runtime.ConsoleInterviewer{}
	} else {
		interviewer = newStdinInterviewer(os.Stdin, os.Stdout)
	}

	cfg := runtime.RunConfig{
		ArtifactsBaseDir: effLogsDir,
		GraphDir:         filepath.Dir(pipelineFile),
		VarOverrides:     map[string]string(overrides),
		DefaultRetry:     runtime.NamedRetryPolicy(effRetry),
		DefaultProvider:  effProvider,
		DefaultModel:     effModel,
		Interviewer:      interviewer,
		Observer:         runtime.NoopObserver{},
	}
	if *verbose {
		cfg.EventHandler = verboseEventHandler
	}
	// Concrete LLM backends are out of scope for this engine (spec.md 1); the
	// codergen handler always runs in stub mode, with -simulate documenting
	// that behavior rather than switching it on.

	runner := runtime.NewRunner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupted, cancelling run...")
		cancel()
	}()

	result, runErr := runner.RunGraph(ctx, g)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		return 1
	}

	fmt.Printf("completed nodes: %v\n", result.CompletedNodes)
	if result.FinalOutcome != nil {
		fmt.Printf("final status: %s\n", result.FinalOutcome.Status)
		if result.FinalOutcome.Status == runtime.StatusFail {
			if result.FinalOutcome.FailureReason != "" {
				fmt.Fprintf(os.Stderr, "failure reason: %s\n", result.FinalOutcome.FailureReason)
			}
			return 1
		}
	}
	fmt.Printf("artifacts: %s\n", result.ArtifactDir)
	return 0
}

// cmdValidate implements "pipecraft validate <file>".
func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	resumeCheck := fs.String("resume-check", "", "")
	fs.Usage = func() { printUsage(os.Stderr) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "error: pipecraft validate requires a pipeline file")
		return 1
	}

	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	g, err := graph.Parse(string(source))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	diags, err := graph.ValidateOrError(g)
	if *resumeCheck != "" {
		if d, checkErr := resumeCompatibilityDiagnostic(*resumeCheck, string(source)); checkErr != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", checkErr)
			return 1
		} else if d != nil {
			diags = append(diags, *d)
		}
	}
	printDiagnostics(os.Stdout, diags)
	if err != nil {
		return 1
	}
	fmt.Println("ok")
	return 0
}

// resumeCompatibilityDiagnostic compares a checkpoint's recorded source hash
// against the current graph source, reading only the source_hash field with
// gjson rather than fully unmarshaling the (potentially large) context
// snapshot the checkpoint also carries. A mismatch is a WARNING, not an
// ERROR: the run still resumes per spec.md 5's source-hashing supplement.
func resumeCompatibilityDiagnostic(checkpointPath, source string) (*graph.Diagnostic, error) {
	data, err := os.ReadFile(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", checkpointPath, err)
	}
	recorded := gjson.GetBytes(data, "source_hash").String()
	if recorded == "" || recorded == runtime.SourceHash(source) {
		return nil, nil
	}
	return &graph.Diagnostic{
		Rule:     "resume-source-hash",
		Severity: graph.SeverityWarning,
		Message:  fmt.Sprintf("checkpoint %s was recorded against a different graph source (hash %s), current source hashes to %s", checkpointPath, recorded, runtime.SourceHash(source)),
	}, nil
}

// cmdServe implements "pipecraft serve [flags]".
func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	host := fs.String("host", "127.0.0.1", "")
	port := fs.Int("port", 8420, "")
	logsDir := fs.String("logs-dir", "", "")
	fs.Usage = func() { printUsage(os.Stderr) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	fileCfg, err := loadFileConfig("pipecraft.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	effLogsDir := firstNonEmpty(*logsDir, fileCfg.LogsDir, "artifacts")

	srv := api.NewServer(api.ServerConfig{
		Addr:             fmt.Sprintf("%s:%d", *host, *port),
		ArtifactsBaseDir: effLogsDir,
		DefaultRetry:     runtime.NamedRetryPolicy(firstNonEmpty(fileCfg.RetryPolicy, "none")),
		Observer:         runtime.NoopObserver{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupted, shutting down...")
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "listening on %s:%d\n", *host, *port)
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func printDiagnostics(w *os.File, diags []graph.Diagnostic) {
	for _, d := range diags {
		if d.NodeID != "" {
			fmt.Fprintf(w, "[%s] %s: %s (node %s)\n", d.Severity, d.Rule, d.Message, d.NodeID)
		} else {
			fmt.Fprintf(w, "[%s] %s: %s\n", d.Severity, d.Rule, d.Message)
		}
	}
}

// verboseEventHandler prints run lifecycle events to stderr.
func verboseEventHandler(evt runtime.Event) {
	ts := evt.Timestamp.Format(time.RFC3339)
	switch evt.Kind {
	case runtime.EventPipelineStarted:
		fmt.Fprintf(os.Stderr, "%s [pipeline] started\n", ts)
	case runtime.EventStageStarted:
		fmt.Fprintf(os.Stderr, "%s [stage] %s started\n", ts, evt.NodeID)
	case runtime.EventStageCompleted:
		fmt.Fprintf(os.Stderr, "%s [stage] %s completed\n", ts, evt.NodeID)
	case runtime.EventStageRetrying:
		fmt.Fprintf(os.Stderr, "%s [stage] %s retrying: %v\n", ts, evt.NodeID, evt.Data["reason"])
	case runtime.EventStageFailed:
		fmt.Fprintf(os.Stderr, "%s [stage] %s failed: %v\n", ts, evt.NodeID, evt.Data["reason"])
	case runtime.EventCheckpointSaved:
		fmt.Fprintf(os.Stderr, "%s [checkpoint] saved at %s\n", ts, evt.NodeID)
	case runtime.EventCheckpointResumed:
		fmt.Fprintf(os.Stderr, "%s [checkpoint] resumed at %s\n", ts, evt.NodeID)
	case runtime.EventLoopRestarted:
		fmt.Fprintf(os.Stderr, "%s [loop] restarted from %s to %v\n", ts, evt.NodeID, evt.Data["target"])
	case runtime.EventInterviewStarted:
		fmt.Fprintf(os.Stderr, "%s [interview] started for %s\n", ts, evt.NodeID)
	case runtime.EventPipelineCompleted:
		fmt.Fprintf(os.Stderr, "%s [pipeline] completed\n", ts)
	case runtime.EventPipelineFailed:
		fmt.Fprintf(os.Stderr, "%s [pipeline] failed: %v\n", ts, evt.Data["error"])
	}
}
