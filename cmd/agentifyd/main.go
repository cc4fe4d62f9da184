// Command agentifyd is the Agentify control-plane daemon: an HTTP API for
// launching orchestration turns, a persisted and broadcast event stream, an
// A2A discovery surface, and an MCP tool server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/peerjakobsen/agentify-release/internal/adapter/agenthttp"
	aghttp "github.com/peerjakobsen/agentify-release/internal/adapter/http"
	"github.com/peerjakobsen/agentify-release/internal/adapter/llm"
	agmcp "github.com/peerjakobsen/agentify-release/internal/adapter/mcp"
	agnats "github.com/peerjakobsen/agentify-release/internal/adapter/nats"
	agotel "github.com/peerjakobsen/agentify-release/internal/adapter/otel"
	"github.com/peerjakobsen/agentify-release/internal/adapter/postgres"
	"github.com/peerjakobsen/agentify-release/internal/adapter/ristretto"
	"github.com/peerjakobsen/agentify-release/internal/adapter/ws"
	"github.com/peerjakobsen/agentify-release/internal/config"
	"github.com/peerjakobsen/agentify-release/internal/domain/agent"
	"github.com/peerjakobsen/agentify-release/internal/domain/event"
	"github.com/peerjakobsen/agentify-release/internal/logger"
	"github.com/peerjakobsen/agentify-release/internal/middleware"
	"github.com/peerjakobsen/agentify-release/internal/port/a2a"
	"github.com/peerjakobsen/agentify-release/internal/port/cache"
	"github.com/peerjakobsen/agentify-release/internal/port/eventsink"
	"github.com/peerjakobsen/agentify-release/internal/resilience"
	"github.com/peerjakobsen/agentify-release/internal/service"
)

const (
	idempotencyBucket = "agentify_idempotency"
	idempotencyTTL    = 24 * time.Hour
	janitorInterval   = 10 * time.Minute
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "agentifyd admin: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return err
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"registry", cfg.Registry.Path,
		"use_arbiter", cfg.Routing.UseArbiter,
	)

	ctx := context.Background()

	shutdownOtel, err := agotel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownOtel(context.Background()) }()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	bus, err := agnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = bus.Close() }()

	reg, err := agent.Load(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("agent registry: %w", err)
	}
	log.Info("agent registry loaded", "agents", len(reg.Agents), "workflows", len(reg.Workflows))

	// --- Event pipeline ---

	eventStore := postgres.NewEventStore(pool, cfg.Events.RetentionTTL)
	hub := ws.NewHub()

	storeSink := eventsink.Func(func(ctx context.Context, ev event.Event) error {
		return eventStore.Append(ctx, &ev)
	})
	wsSink := eventsink.Func(func(ctx context.Context, ev event.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		hub.Broadcast(ctx, ev.WorkflowID, data)
		return nil
	})
	emitter := service.NewEmitter(log, storeSink, bus, wsSink)

	// --- Engine ---

	metrics, err := agotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

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
	}

	router := service.NewRouter(reg.Graph, cfg.Routing, arb, log)
	resolver := service.NewHandoffResolver(reg, cfg.Routing, arb, log)
	invPool := service.NewPool(cfg.Routing.MaxWorkers)

	graphSvc := service.NewGraphService(reg, inv, router, emitter, metrics, cfg.Routing, log)
	swarmSvc := service.NewSwarmService(reg, inv, resolver, emitter, metrics, invPool, cfg.Routing, log)
	workflowSvc := service.NewWorkflowService(reg, inv, emitter, metrics, invPool, cfg.Routing, log)

	var memSvc *service.MemoryService
	if cfg.Memory.Enabled {
		var memCache cache.Cache
		if c, err := ristretto.New(cfg.Memory.CacheMaxMB << 20); err != nil {
			log.Warn("memory cache disabled", "error", err)
		} else {
			defer c.Close()
			memCache = c
		}
		memSvc = service.NewMemoryService(postgres.NewMemoryStore(pool), memCache, log)
		graphSvc.SetMemory(memSvc)
		swarmSvc.SetMemory(memSvc)
		workflowSvc.SetMemory(memSvc)
	}

	turns := service.NewTurnService(graphSvc, swarmSvc, workflowSvc, reg, log)
	keys := service.NewKeyService(postgres.NewKeyStore(pool), log)

	// --- HTTP ---

	handlers := &aghttp.Handlers{
		Turns:    turns,
		Registry: reg,
		Events:   eventStore,
		Memory:   memSvc,
		Emitter:  emitter,
		DB:       pool,
		Broker:   bus,
	}

	r := chi.NewRouter()
	r.Use(aghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(aghttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(aghttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(agotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(middleware.Auth(keys, cfg.Auth.Enabled))

	limiter := middleware.NewRateLimiter(50, 100)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()
	r.Use(limiter.Handler)

	if kv, err := bus.KeyValue(ctx, idempotencyBucket, idempotencyTTL); err != nil {
		log.Warn("idempotency disabled", "error", err)
	} else {
		r.Use(middleware.Idempotency(kv))
	}

	r.Get("/ws", hub.HandleWS)
	a2a.NewHandler(cfg.Server.BaseURL, launchFunc(turns), eventStore).MountRoutes(r)
	aghttp.MountRoutes(r, handlers)

	// --- MCP ---

	if cfg.MCP.Enabled {
		mcpSrv := agmcp.NewServer(agmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "agentify",
			Version: "0.1.0",
			APIKey:  cfg.MCP.APIKey,
		}, agmcp.ServerDeps{
			Registry:  reg,
			Workflows: eventStore,
		})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpSrv.Stop(stopCtx)
		}()
	}

	// Expired-event janitor.
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go runJanitor(janitorCtx, eventStore, log)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Let in-flight turns finish before the stores go away.
	waitCtx, cancelWait := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelWait()
	if err := turns.Wait(waitCtx); err != nil {
		log.Warn("turns still running at shutdown", "error", err)
	}
	return nil
}

// launchFunc adapts the turn service to the A2A task surface.
func launchFunc(turns *service.TurnService) a2a.LaunchFunc {
	return func(ctx context.Context, skill string, input map[string]any) (string, error) {
		req := service.TurnRequest{Pattern: skill}
		if v, ok := input["prompt"].(string); ok {
			req.Prompt = v
		}
		if v, ok := input["workflow_id"].(string); ok {
			req.WorkflowID = v
		}
		if req.WorkflowID == "" {
			req.WorkflowID = "a2a-" + uuid.NewString()[:8]
		}
		if v, ok := input["trace_id"].(string); ok {
			req.TraceID = v
		}
		if v, ok := input["turn_number"].(float64); ok {
			req.TurnNumber = int(v)
		}
		if v, ok := input["conversation_context"].(string); ok {
			req.ConversationContext = v
		}
		if v, ok := input["workflow"].(string); ok {
			req.Workflow = v
		}

		sess, err := turns.Launch(ctx, req)
		if err != nil {
			return "", err
		}
		return sess.WorkflowID, nil
	}
}

// runJanitor deletes events past the retention horizon on a fixed interval.
func runJanitor(ctx context.Context, store *postgres.EventStore, log *slog.Logger) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				log.Warn("event retention sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("expired events deleted", "count", n)
			}
		}
	}
}
