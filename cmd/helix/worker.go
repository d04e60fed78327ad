package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"helix/internal/domain/helix"
	helixerrors "helix/internal/errors"
	"helix/internal/evolution"
	"helix/internal/infra/schema"
	"helix/internal/infra/store"
	"helix/internal/janitor"
	"helix/internal/logging"
	"helix/internal/observability"
	"helix/internal/orchestrator"
	"helix/internal/worker"
	"helix/internal/workflow"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the HELIX worker fleet: per-agent workers, Orchestrator, Evolution Coordinator, and Janitor",
		RunE:  runWorkerFleet,
	}
}

func runWorkerFleet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.DefaultLogger.Info("starting worker fleet with %s", cfg.SafeSummary())

	shutdownTracing, err := setupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	pgStore := store.NewPostgresStore(pool)
	if err := pgStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	// Every component below shares one breaker over the one Postgres
	// instance (§A.3): a downed database trips it open for the whole
	// fleet instead of each Worker/Orchestrator/Janitor queuing its own
	// timeouts against it.
	storeBreaker := helixerrors.NewCircuitBreaker("state-store", helixerrors.DefaultCircuitBreakerConfig())
	var s helix.Store = store.NewBreakerStore(pgStore, storeBreaker)

	def, err := workflow.Load(cfg.WorkflowPath)
	if err != nil {
		return fmt.Errorf("load workflow definition: %w", err)
	}

	registry, err := schema.NewRegistry(schema.Config{CacheSize: 128})
	if err != nil {
		return fmt.Errorf("build schema registry: %w", err)
	}
	if cfg.SchemaDir != "" {
		if err := registry.LoadDir(cfg.SchemaDir); err != nil {
			return fmt.Errorf("load schema directory %s: %w", cfg.SchemaDir, err)
		}
	}

	agentIDs := make([]string, 0, len(def.Agents()))
	for _, step := range def.Agents() {
		agentIDs = append(agentIDs, step.AgentID)
	}
	if err := installBaselinePrompts(ctx, s, cfg.PromptBaselineDir, agentIDs); err != nil {
		return fmt.Errorf("install baseline prompts: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWithRegisterer(reg)

	orch := orchestrator.New(s, def, metrics)
	coordinator := evolution.New(evolution.Config{MaxAttemptsPerJob: cfg.EvolutionAttemptsPerJob}, s, unconfiguredExecutor{}, orch, metrics)

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		startMetricsServer(group, groupCtx, cfg.MetricsAddr, reg)
	}

	for _, step := range def.Agents() {
		agentID := step.AgentID
		w := worker.New(worker.Config{
			AgentID:           agentID,
			OwnerID:           ownerID(agentID),
			PollInterval:      cfg.RetryDelay(),
			HeartbeatInterval: cfg.HeartbeatInterval(),
			Timeout:           def.Timeout(agentID, cfg.Timeout()),
			MaxRetries:        def.RetryCount(agentID, cfg.MaxRetries),
		}, s, unconfiguredExecutor{}, registry, def, metrics, coordinator)

		group.Go(func() error { return w.Run(groupCtx) })
	}

	j := janitor.New(janitor.Config{
		Interval:                cfg.JanitorInterval(),
		ZombieThreshold:         cfg.ZombieThreshold(),
		EventRetention:          cfg.EventRetention(),
		PromptRetentionVersions: cfg.PromptRetentionVersions,
		Agents:                  agentIDs,
	}, s, metrics)
	group.Go(func() error { return j.Run(groupCtx) })

	if err := group.Wait(); err != nil && groupCtx.Err() == nil {
		return err
	}
	logging.DefaultLogger.Info("worker fleet stopped")
	return nil
}

// ownerID derives a unique claim owner per agent per process. A single
// process runs at most one Worker per agent_id, so the agent_id itself
// plus the PID disambiguates across restarts and co-located processes.
func ownerID(agentID string) string {
	return fmt.Sprintf("%s-%d", agentID, os.Getpid())
}

func startMetricsServer(group *errgroup.Group, ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	group.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// installBaselinePrompts loads each agent's v0 prompt document (spec.md
// §6.5: plain text per agent, inserted only if no v0 row exists yet)
// from <dir>/<agent_id>.txt.
func installBaselinePrompts(ctx context.Context, s helix.Store, dir string, agentIDs []string) error {
	for _, agentID := range agentIDs {
		path := filepath.Join(dir, agentID+".txt")
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				logging.DefaultLogger.Warn("no baseline prompt file for agent %s at %s, skipping", agentID, path)
				continue
			}
			return fmt.Errorf("read baseline prompt %s: %w", path, err)
		}
		if err := s.EnsureBaselinePrompt(ctx, agentID, strings.TrimRight(string(raw), "\n")); err != nil {
			return fmt.Errorf("ensure baseline prompt for %s: %w", agentID, err)
		}
	}
	return nil
}
