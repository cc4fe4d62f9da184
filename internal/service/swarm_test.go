package service_test

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/peerjakobsen/agentify-release/internal/config"
	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/event"
	"github.com/peerjakobsen/agentify-release/internal/port/invoker"
	"github.com/peerjakobsen/agentify-release/internal/service"
)

func newSwarm(t *testing.T, reg *agent.Registry, inv invoker.Invoker, cfg config.Routing) (*service.SwarmService, *sinkRecorder) {
	t.Helper()
	emitter, rec := newRecordingEmitter()
	resolver := service.NewHandoffResolver(reg, cfg, nil, testLogger())
	s := service.NewSwarmService(reg, inv, resolver, emitter, newTestMetrics(t), service.NewPool(4), cfg, testLogger())
	return s, rec
}

func TestSwarmSequentialHandoffs(t *testing.T) {
	reg := parseRegistry(t, swarmRegistryYAML)
	analyzerRaw := `Initial review done. {"handoff_to": "legal"}`
	inv := &scriptedInvoker{replies: map[string]string{
		"analyzer": analyzerRaw,
		"legal":    "Clauses are sound.",
	}}
	s, rec := newSwarm(t, reg, inv, config.Routing{})
	sess := testSession(t)

	res, err := s.RunTurn(context.Background(), sess)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !reflect.DeepEqual(res.AgentsInvoked, []string{"analyzer", "legal"}) {
		t.Fatalf("AgentsInvoked = %v", res.AgentsInvoked)
	}
	if res.FinalAgent != "legal" || res.FinalResponse != "Clauses are sound." {
		t.Fatalf("final = %s / %q", res.FinalAgent, res.FinalResponse)
	}

	wantPrompt := "Handoff from Contract Analyzer:\n" + analyzerRaw + "\n\nOriginal request: analyze the contract"
	if got := inv.promptFor(t, "legal"); got != wantPrompt {
		t.Fatalf("handoff prompt = %q, want %q", got, wantPrompt)
	}

	wantTypes := []event.Type{
		event.TypeGraphStructure,
		event.TypeNodeStart, event.TypeNodeStop,
		event.TypeNodeStart, event.TypeNodeStop,
		event.TypeWorkflowComplete,
	}
	if !reflect.DeepEqual(rec.types(), wantTypes) {
		t.Fatalf("event sequence = %v", rec.types())
	}
	starts := rec.byType(event.TypeNodeStart)
	if starts[1].FromAgent != "Contract Analyzer" {
		t.Fatalf("second node_start FromAgent = %q", starts[1].FromAgent)
	}

	structure := rec.byType(event.TypeGraphStructure)[0]
	if len(structure.Graph.Nodes) != 4 || len(structure.Graph.Edges) != 0 {
		t.Fatalf("swarm structure = %+v", structure.Graph)
	}
}

func TestSwarmHandoffCeiling(t *testing.T) {
	reg := parseRegistry(t, swarmRegistryYAML)
	inv := &scriptedInvoker{replies: map[string]string{
		"analyzer": `ping {"handoff_to": "legal"}`,
		"legal":    `pong {"handoff_to": "analyzer"}`,
	}}
	s, rec := newSwarm(t, reg, inv, config.Routing{MaxHandoffs: 5})

	res, err := s.RunTurn(context.Background(), testSession(t))
	if !errors.Is(err, service.ErrHandoffLimit) {
		t.Fatalf("err = %v, want ErrHandoffLimit", err)
	}
	want := []string{"analyzer", "legal", "analyzer", "legal", "analyzer"}
	if !reflect.DeepEqual(res.AgentsInvoked, want) {
		t.Fatalf("AgentsInvoked = %v", res.AgentsInvoked)
	}
	if len(rec.byType(event.TypeWorkflowError)) != 1 {
		t.Fatal("expected a workflow_error event")
	}
}

func TestSwarmParallelConvergence(t *testing.T) {
	reg := parseRegistry(t, swarmRegistryYAML)
	analyzerRaw := `Splitting the review. {"handoff_to": ["legal", "financial"], "converge_at": "risk"}`
	inv := &scriptedInvoker{replies: map[string]string{
		"analyzer":  analyzerRaw,
		"legal":     "Legal: acceptable risk.",
		"financial": "Financial: within budget.",
		"risk":      "Overall: proceed.",
	}}
	s, rec := newSwarm(t, reg, inv, config.Routing{})
	sess := testSession(t)

	res, err := s.RunTurn(context.Background(), sess)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.FinalAgent != "risk" || res.FinalResponse != "Overall: proceed." {
		t.Fatalf("final = %s / %q", res.FinalAgent, res.FinalResponse)
	}
	if len(res.AgentsInvoked) != 4 || res.AgentsInvoked[0] != "analyzer" || res.AgentsInvoked[3] != "risk" {
		t.Fatalf("AgentsInvoked = %v", res.AgentsInvoked)
	}

	// Both members receive the same fan-out prompt built from the raw reply.
	wantMember := "Parallel analysis from Contract Analyzer:\n" + analyzerRaw + "\n\nOriginal request: analyze the contract"
	if got := inv.promptFor(t, "legal"); got != wantMember {
		t.Fatalf("member prompt = %q", got)
	}

	wantTypes := []event.Type{
		event.TypeGraphStructure,
		event.TypeNodeStart, event.TypeNodeStop,
		event.TypeParallelNodeStart,
		event.TypeParallelNodeStop, event.TypeParallelNodeStop,
		event.TypeConvergenceReady,
		event.TypeNodeStart, event.TypeNodeStop,
		event.TypeWorkflowComplete,
	}
	if !reflect.DeepEqual(rec.types(), wantTypes) {
		t.Fatalf("event sequence = %v", rec.types())
	}

	fanStart := rec.byType(event.TypeParallelNodeStart)[0]
	if !reflect.DeepEqual(fanStart.NodeIDs, []string{"legal", "financial"}) {
		t.Fatalf("parallel_node_start ids = %v", fanStart.NodeIDs)
	}
	if !reflect.DeepEqual(fanStart.NodeNames, []string{"Legal Reviewer", "Financial Reviewer"}) {
		t.Fatalf("parallel_node_start names = %v", fanStart.NodeNames)
	}
	if fanStart.FromAgent != "analyzer" {
		t.Fatalf("parallel_node_start FromAgent = %q", fanStart.FromAgent)
	}

	stops := rec.byType(event.TypeParallelNodeStop)
	counts := []int{stops[0].CompletedCount, stops[1].CompletedCount}
	sort.Ints(counts)
	if !reflect.DeepEqual(counts, []int{1, 2}) || stops[0].TotalCount != 2 {
		t.Fatalf("parallel_node_stop progress = %+v", stops)
	}

	ready := rec.byType(event.TypeConvergenceReady)[0]
	if ready.ConvergenceNode != "risk" {
		t.Fatalf("convergence_ready = %+v", ready)
	}
	gotAgents := append([]string(nil), ready.CompletedAgents...)
	sort.Strings(gotAgents)
	if !reflect.DeepEqual(gotAgents, []string{"financial", "legal"}) {
		t.Fatalf("CompletedAgents = %v", ready.CompletedAgents)
	}

	convPrompt := inv.promptFor(t, "risk")
	for _, want := range []string{
		"You are receiving consolidated results from parallel specialist analyses.",
		"## Results from Legal Reviewer\n\nLegal: acceptable risk.",
		"## Results from Financial Reviewer\n\nFinancial: within budget.",
		"## Original Request\nanalyze the contract",
		"Do NOT hand off to the specialists listed above",
	} {
		if !strings.Contains(convPrompt, want) {
			t.Fatalf("convergence prompt missing %q:\n%s", want, convPrompt)
		}
	}

	riskStart := rec.byType(event.TypeNodeStart)[1]
	if riskStart.NodeID != "risk" || riskStart.FromAgent != "Parallel: Legal Reviewer, Financial Reviewer" {
		t.Fatalf("convergence node_start = %+v", riskStart)
	}
}

func TestSwarmParallelMemberFailureTolerated(t *testing.T) {
	reg := parseRegistry(t, swarmRegistryYAML)
	inv := &scriptedInvoker{
		replies: map[string]string{
			"analyzer":  `{"handoff_to": ["legal", "financial"], "converge_at": "risk"}`,
			"financial": "Financial: within budget.",
			"risk":      "Proceed with caution.",
		},
		errs: map[string]error{"legal": errors.New("legal hold")},
	}
	s, rec := newSwarm(t, reg, inv, config.Routing{})
	var console bytes.Buffer
	s.SetConsole(&console)

	res, err := s.RunTurn(context.Background(), testSession(t))
	if err != nil {
		t.Fatalf("a member failure must not abort the turn: %v", err)
	}
	if res.FinalAgent != "risk" {
		t.Fatalf("FinalAgent = %q", res.FinalAgent)
	}
	for _, got := range res.AgentsInvoked {
		if got == "legal" {
			t.Fatalf("failed member recorded as invoked: %v", res.AgentsInvoked)
		}
	}

	var failedStop event.Event
	for _, ev := range rec.byType(event.TypeParallelNodeStop) {
		if ev.NodeID == "legal" {
			failedStop = ev
		}
	}
	if failedStop.Status != event.StatusError || failedStop.Error != "legal hold" {
		t.Fatalf("failed member stop = %+v", failedStop)
	}

	convPrompt := inv.promptFor(t, "risk")
	if !strings.Contains(convPrompt, "## Results from Legal Reviewer\n\n[ERROR: legal hold]") {
		t.Fatalf("convergence prompt missing failure section:\n%s", convPrompt)
	}
	if !strings.Contains(console.String(), "Parallel agent legal failed: legal hold") {
		t.Fatalf("console = %q", console.String())
	}
}

func TestSwarmParallelWithoutConvergence(t *testing.T) {
	reg := parseRegistry(t, swarmRegistryYAML)
	inv := &scriptedInvoker{
		replies: map[string]string{
			"analyzer": `{"handoff_to": ["legal", "financial"]}`,
			"legal":    "Legal: acceptable risk.",
		},
		errs: map[string]error{"financial": errors.New("ledger offline")},
	}
	s, rec := newSwarm(t, reg, inv, config.Routing{})

	res, err := s.RunTurn(context.Background(), testSession(t))
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	// With no convergence node the last successful member is the final word.
	if res.FinalAgent != "legal" || res.FinalResponse != "Legal: acceptable risk." {
		t.Fatalf("final = %s / %q", res.FinalAgent, res.FinalResponse)
	}
	if len(rec.byType(event.TypeConvergenceReady)) != 0 {
		t.Fatal("no convergence_ready expected")
	}
	if len(rec.byType(event.TypeNodeStart)) != 1 {
		t.Fatal("no agent may run after a convergence-less fan-out")
	}
	if len(rec.byType(event.TypeWorkflowComplete)) != 1 {
		t.Fatal("expected workflow_complete")
	}
}

func TestSwarmParallelTimeout(t *testing.T) {
	reg := parseRegistry(t, swarmRegistryYAML)
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	inv := invoker.Func(func(ctx context.Context, agentID, prompt, sessionID string) (string, error) {
		switch agentID {
		case "analyzer":
			return `{"handoff_to": ["legal", "financial"], "converge_at": "risk"}`, nil
		case "legal":
			return "Legal: acceptable risk.", nil
		case "financial":
			<-block
			return "late", nil
		case "risk":
			return "Proceeding without financials.", nil
		}
		return "", errors.New("unexpected agent " + agentID)
	})

	cfg := config.Routing{ParallelTimeout: 200 * time.Millisecond}
	s, rec := newSwarm(t, reg, inv, cfg)

	res, err := s.RunTurn(context.Background(), testSession(t))
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.FinalAgent != "risk" {
		t.Fatalf("FinalAgent = %q", res.FinalAgent)
	}

	// The timed-out member gets no stop event.
	stops := rec.byType(event.TypeParallelNodeStop)
	if len(stops) != 1 || stops[0].NodeID != "legal" {
		t.Fatalf("parallel_node_stop events = %+v", stops)
	}

	ready := rec.byType(event.TypeConvergenceReady)[0]
	if !reflect.DeepEqual(ready.CompletedAgents, []string{"legal", "financial"}) {
		t.Fatalf("CompletedAgents = %v", ready.CompletedAgents)
	}

	var riskPrompt string
	for _, ev := range rec.byType(event.TypeNodeStart) {
		if ev.NodeID == "risk" {
			riskPrompt = ev.HandoffPrompt
		}
	}
	if !strings.Contains(riskPrompt, "## Results from Financial Reviewer\n\n[ERROR: timeout]") {
		t.Fatalf("convergence prompt missing timeout section:\n%s", riskPrompt)
	}
}

func TestSwarmUnknownHandoffTargetCompletes(t *testing.T) {
	reg := parseRegistry(t, swarmRegistryYAML)
	inv := &scriptedInvoker{replies: map[string]string{
		"analyzer": `Review done. {"handoff_to": "supreme_court"}`,
	}}
	s, rec := newSwarm(t, reg, inv, config.Routing{})

	res, err := s.RunTurn(context.Background(), testSession(t))
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.FinalAgent != "analyzer" {
		t.Fatalf("FinalAgent = %q", res.FinalAgent)
	}
	if len(rec.byType(event.TypeNodeStart)) != 1 {
		t.Fatal("unknown target must not be invoked")
	}
	if len(rec.byType(event.TypeWorkflowComplete)) != 1 {
		t.Fatal("expected workflow_complete")
	}
}

func TestSwarmEntryAgentMissing(t *testing.T) {
	reg := parseRegistry(t, "agents:\n  - id: analyzer\n    name: Contract Analyzer\n")
	s, rec := newSwarm(t, reg, &scriptedInvoker{}, config.Routing{})

	_, err := s.RunTurn(context.Background(), testSession(t))
	if err == nil || !strings.Contains(err.Error(), "swarm entry agent not configured") {
		t.Fatalf("err = %v", err)
	}
	if len(rec.byType(event.TypeNodeStart)) != 0 {
		t.Fatal("no agent may be invoked without an entry agent")
	}
}
