// Package factory builds the fully wired set of services cmd/storyforge's
// subcommands run against: the Store Gateway, the LLM provider registry,
// the gate registry, the Context Loader, a Production Worker, a
// Scheduler, and a Publisher. Grounded on the teacher's cmd/shelf/serve.go
// construction sequence (resolve config -> build pipeline deps -> hand
// them to a long-lived server), generalized from one DefraDB-backed
// pipeline to the Postgres-backed story production pipeline.
package factory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/storyforge/internal/config"
	storycontext "github.com/taibuivan/storyforge/internal/context"
	"github.com/taibuivan/storyforge/internal/costquery"
	"github.com/taibuivan/storyforge/internal/gates"
	"github.com/taibuivan/storyforge/internal/llmcall"
	"github.com/taibuivan/storyforge/internal/providers"
	"github.com/taibuivan/storyforge/internal/publisher"
	"github.com/taibuivan/storyforge/internal/ratelease"
	"github.com/taibuivan/storyforge/internal/rewriter"
	"github.com/taibuivan/storyforge/internal/scheduler"
	"github.com/taibuivan/storyforge/internal/store"
	"github.com/taibuivan/storyforge/internal/store/postgres"
	"github.com/taibuivan/storyforge/internal/svcctx"
	"github.com/taibuivan/storyforge/internal/worker"
	"github.com/taibuivan/storyforge/internal/writer"
)

// Factory owns every long-lived service the control plane needs. Its
// Services method packages the same services as an svcctx.Services, so
// HTTP handlers can pull what they need off the request context instead
// of closing over a Factory reference directly.
type Factory struct {
	Pool *pgxpool.Pool

	Gateway      store.Gateway
	Registry     *providers.Registry
	Gates        *gates.Registry
	ContextLoader *storycontext.Loader
	CostQuery    *costquery.Query
	LLMCallStore *llmcall.Store

	Worker     *worker.Worker
	Scheduler  *scheduler.Scheduler
	Publisher  *publisher.Publisher

	ConfigMgr *config.Manager
	Logger    *slog.Logger

	// Leases is nil unless a Redis URL was configured; RunFleet tolerates
	// a nil Leases, so Redis stays optional.
	Leases *ratelease.Store
}

// Options carries what only the caller (cmd/storyforge) knows: resolved
// file paths and process-level overrides that don't belong in the
// on-disk Config schema.
type Options struct {
	ConfigFile string
	RedisURL   string // empty disables the ratelease heartbeat
	WorkerName string // defaults to "storyforge-worker"
}

// New resolves cfgFile into a config.Manager, connects Postgres (and,
// if configured, Redis), and wires every downstream service. The
// returned Factory's Gateway, Registry, and Scheduler are ready to use
// immediately; callers that want live config reload should also call
// cfgMgr.WatchConfig() themselves once startup has otherwise succeeded.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfgMgr, err := config.NewManager(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("factory: load config: %w", err)
	}
	cfg := cfgMgr.Get()

	pool, err := postgres.NewPool(ctx, cfg.Database.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("factory: connect postgres: %w", err)
	}

	gw := postgres.New(pool)
	registry := providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig())
	registry.SetLogger(logger)

	gateReg := gates.NewRegistry()
	for _, g := range []gates.Gate{
		gates.NewQualityGate(1600, 2400),
		gates.NewCostCacheGate(),
		gates.NewCanonGate(),
		gates.NewBeatLedgerGate(),
		gates.NewPowerTrackerGate(),
		gates.NewConsistencyGate(),
	} {
		if err := gateReg.Register(g); err != nil {
			return nil, fmt.Errorf("factory: register gate %s: %w", g.Name(), err)
		}
	}

	loader := storycontext.NewLoader(gw, nil, logger)
	costQuery := costquery.NewQuery(pool)
	llmStore := llmcall.NewStore(pool)
	recorder := llmcall.NewRecorder(pool)

	client, err := registry.GetLLM(cfg.Defaults.LLMProvider)
	if err != nil {
		return nil, fmt.Errorf("factory: resolve default LLM provider %q: %w", cfg.Defaults.LLMProvider, err)
	}
	gen := &writer.LLMGenerator{Client: client, Recorder: recorder, Logger: logger}

	workerName := opts.WorkerName
	if workerName == "" {
		workerName = "storyforge-worker"
	}
	w := worker.New(workerName, gw, loader, gen, gateReg, nil, logger)
	w.RewriteParams = rewriter.Params{MaxAttempts: cfg.Defaults.MaxRewriteAttempts}
	w.WriteParams = writer.WriteParams{WordCountTarget: 2000}
	w.CostQuery = costQuery

	sch := scheduler.New(w, logger)
	pub := publisher.New(gw, logger)

	f := &Factory{
		Pool:          pool,
		Gateway:       gw,
		Registry:      registry,
		Gates:         gateReg,
		ContextLoader: loader,
		CostQuery:     costQuery,
		LLMCallStore:  llmStore,
		Worker:        w,
		Scheduler:     sch,
		Publisher:     pub,
		ConfigMgr:     cfgMgr,
		Logger:        logger,
	}

	if opts.RedisURL != "" {
		redisClient, err := ratelease.NewClient(ctx, opts.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("factory: connect redis: %w", err)
		}
		f.Leases = ratelease.New(redisClient)
	}

	cfgMgr.OnChange(func(c *config.Config) {
		registry.Reload(c.ToProviderRegistryConfig())
	})

	return f, nil
}

// FleetConfig builds a scheduler.FleetConfig from cfg.Defaults and f's
// optional Redis lease store.
func (f *Factory) FleetConfig() scheduler.FleetConfig {
	return scheduler.FleetConfig{
		MaxWorkers: f.ConfigMgr.Get().Defaults.MaxConcurrentProjects,
		Leases:     f.Leases,
	}
}

// Close releases the Postgres pool. Redis, if connected, is left open
// since go-redis has no explicit drain step cmd/storyforge needs here.
func (f *Factory) Close() {
	f.Pool.Close()
}

// Services packages f's services as an svcctx.Services for injection into
// a request context.
func (f *Factory) Services() *svcctx.Services {
	return &svcctx.Services{
		Gateway:      f.Gateway,
		Registry:     f.Registry,
		ConfigMgr:    f.ConfigMgr,
		Logger:       f.Logger,
		CostQuery:    f.CostQuery,
		LLMCallStore: f.LLMCallStore,
		Scheduler:    f.Scheduler,
		Publisher:    f.Publisher,
	}
}
