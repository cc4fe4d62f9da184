// Command agentify runs one orchestration turn from the command line.
// Events are written to stdout as JSON lines; logs and progress go to
// stderr so the event stream stays machine-readable.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/peerjakobsen/agentify-release/internal/adapter/agenthttp"
	"github.com/peerjakobsen/agentify-release/internal/adapter/jsonl"
	"github.com/peerjakobsen/agentify-release/internal/adapter/llm"
	agotel "github.com/peerjakobsen/agentify-release/internal/adapter/otel"
	"github.com/peerjakobsen/agentify-release/internal/config"
	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/session"
	"github.com/peerjakobsen/agentify-release/internal/domain/taskgraph"
	"github.com/peerjakobsen/agentify-release/internal/logger"
	"github.com/peerjakobsen/agentify-release/internal/resilience"
	"github.com/peerjakobsen/agentify-release/internal/service"
)

const (
	exitFailure   = 1
	exitInterrupt = 130
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentify: %v\n", err)
	}
	os.Exit(code)
}

// turnArgs is the parsed CLI turn input, validated before anything is
// invoked or emitted.
type turnArgs struct {
	pattern      string
	prompt       string
	workflowID   string
	traceID      string
	turnNumber   int
	conversation string
	workflow     string
	configPath   string
	registryPath string
}

func run(args []string) (int, error) {
	ta, err := parseArgs(args)
	if err != nil {
		return exitFailure, err
	}

	cfgPath := config.DefaultConfigFile
	if ta.configPath != "" {
		cfgPath = ta.configPath
	}
	cfg, err := config.LoadFrom(cfgPath)
	if err != nil {
		return exitFailure, fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	// Validate the turn input before touching any agent.
	sess, err := session.New(ta.workflowID, ta.traceID, ta.turnNumber, ta.prompt)
	if err != nil {
		return exitFailure, err
	}
	if ta.conversation != "" {
		conv, err := session.ParseConversation(ta.conversation)
		if err != nil {
			return exitFailure, err
		}
		sess = sess.WithConversation(conv)
	}

	registryPath := cfg.Registry.Path
	if ta.registryPath != "" {
		registryPath = ta.registryPath
	}
	reg, err := agent.Load(registryPath)
	if err != nil {
		return exitFailure, err
	}

	var graph taskgraph.Graph
	if ta.pattern == "workflow" {
		graph, err = reg.Workflow(ta.workflow)
		if err != nil {
			return exitFailure, err
		}
		if err := taskgraph.Validate(graph); err != nil {
			return exitFailure, err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := agotel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return exitFailure, fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownOtel(context.Background()) }()

	metrics, err := agotel.NewMetrics()
	if err != nil {
		return exitFailure, fmt.Errorf("metrics: %w", err)
	}

	emitter := service.NewEmitter(log, jsonl.NewWriter(os.Stdout))

	inv := agenthttp.NewClient(reg, log)
	inv.SetBreakers(resilience.NewGroup(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	var arb *service.Arbiter
	if cfg.Routing.UseArbiter {
		gateway := llm.NewClient(cfg.Gateway.URL, cfg.Gateway.APIKey)
		gateway.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

		guidance := ""
		if cfg.Routing.GuidancePath != "" {
			guidance, err = service.LoadGuidance(cfg.Routing.GuidancePath)
			if err != nil {
				log.Warn("routing guidance unavailable", "path", cfg.Routing.GuidancePath, "error", err)
			}
		}
		arb = service.NewArbiter(gateway, reg, emitter, metrics, cfg.Routing, guidance, log)
		arb.SetConsole(os.Stderr)
	}

	pool := service.NewPool(cfg.Routing.MaxWorkers)

	res, err := runTurn(ctx, ta, cfg, reg, inv, arb, emitter, metrics, pool, log, sess, graph)
	printSummary(ta.pattern, sess, res, err)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return exitInterrupt, nil
		}
		return exitFailure, nil
	}
	return 0, nil
}

func runTurn(
	ctx context.Context,
	ta turnArgs,
	cfg *config.Config,
	reg *agent.Registry,
	inv *agenthttp.Client,
	arb *service.Arbiter,
	emitter *service.Emitter,
	metrics *agotel.Metrics,
	pool *service.Pool,
	log *slog.Logger,
	sess *session.Context,
	graph taskgraph.Graph,
) (*service.TurnResult, error) {
	switch ta.pattern {
	case "graph":
		router := service.NewRouter(reg.Graph, cfg.Routing, arb, log)
		svc := service.NewGraphService(reg, inv, router, emitter, metrics, cfg.Routing, log)
		svc.SetConsole(os.Stderr)
		return svc.RunTurn(ctx, sess)
	case "swarm":
		resolver := service.NewHandoffResolver(reg, cfg.Routing, arb, log)
		resolver.SetConsole(os.Stderr)
		svc := service.NewSwarmService(reg, inv, resolver, emitter, metrics, pool, cfg.Routing, log)
		svc.SetConsole(os.Stderr)
		return svc.RunTurn(ctx, sess)
	case "workflow":
		svc := service.NewWorkflowService(reg, inv, emitter, metrics, pool, cfg.Routing, log)
		svc.SetConsole(os.Stderr)
		return svc.RunTurn(ctx, sess, graph)
	default:
		return nil, fmt.Errorf("unknown pattern %q", ta.pattern)
	}
}

func parseArgs(args []string) (turnArgs, error) {
	if len(args) == 0 {
		printUsage()
		return turnArgs{}, errors.New("pattern argument required")
	}
	pattern := args[0]
	switch pattern {
	case "graph", "swarm", "workflow":
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	default:
		printUsage()
		return turnArgs{}, fmt.Errorf("unknown pattern %q", pattern)
	}

	fs := flag.NewFlagSet("agentify "+pattern, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	prompt := fs.String("prompt", "", "user prompt for this turn (required)")
	workflowID := fs.String("workflow-id", "", "caller-supplied workflow id (required)")
	traceID := fs.String("trace-id", "", "32 lowercase hex trace id (required)")
	turnNumber := fs.Int("turn-number", 1, "turn number within the conversation (>= 1)")
	conversation := fs.String("conversation-context", "", "JSON conversation context from prior turns")
	workflow := fs.String("workflow", "", "named task graph from the registry (workflow pattern)")
	configPath := fs.String("config", "", "path to YAML config file")
	registryPath := fs.String("registry", "", "path to the agent registry file")

	if err := fs.Parse(args[1:]); err != nil {
		return turnArgs{}, err
	}
	if *prompt == "" {
		return turnArgs{}, errors.New("-prompt is required")
	}
	if *workflowID == "" {
		return turnArgs{}, errors.New("-workflow-id is required")
	}
	if *traceID == "" {
		return turnArgs{}, errors.New("-trace-id is required")
	}

	return turnArgs{
		pattern:      pattern,
		prompt:       *prompt,
		workflowID:   *workflowID,
		traceID:      *traceID,
		turnNumber:   *turnNumber,
		conversation: *conversation,
		workflow:     *workflow,
		configPath:   *configPath,
		registryPath: *registryPath,
	}, nil
}

// printSummary writes the end-of-turn banner to stderr.
func printSummary(pattern string, sess *session.Context, res *service.TurnResult, err error) {
	fmt.Fprintf(os.Stderr, "\n%s\n", sep)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s turn FAILED\n", pattern)
		fmt.Fprintf(os.Stderr, "Workflow: %s\n", sess.WorkflowID)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if res != nil && len(res.AgentsInvoked) > 0 {
			fmt.Fprintf(os.Stderr, "Agents invoked before failure: %v\n", res.AgentsInvoked)
		}
		fmt.Fprintf(os.Stderr, "%s\n", sep)
		return
	}
	fmt.Fprintf(os.Stderr, "%s turn complete\n", pattern)
	fmt.Fprintf(os.Stderr, "Workflow: %s\n", sess.WorkflowID)
	fmt.Fprintf(os.Stderr, "Agents invoked: %v\n", res.AgentsInvoked)
	fmt.Fprintf(os.Stderr, "Final agent: %s\n", res.FinalAgent)
	fmt.Fprintf(os.Stderr, "%s\n\n%s\n", sep, res.FinalResponse)
}

const sep = "============================================================"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: agentify <pattern> [options]

Patterns:
  graph      conditional sequential routing
  swarm      autonomous peer handoffs with parallel fan-out
  workflow   dependency-graph task execution

Options:
  -prompt                user prompt for this turn (required)
  -workflow-id           caller-supplied workflow id (required)
  -trace-id              32 lowercase hex trace id (required)
  -turn-number           turn number, >= 1 (default 1)
  -conversation-context  JSON conversation context from prior turns
  -workflow              named task graph from the registry (workflow pattern)
  -config                path to YAML config file (default agentify.yaml)
  -registry              path to the agent registry file

Events are emitted to stdout as JSON lines; logs go to stderr.
`)
}
