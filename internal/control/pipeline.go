package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/waltergaltieri/postia/internal/api"
	"github.com/waltergaltieri/postia/internal/core/config"
	"github.com/waltergaltieri/postia/internal/core/worker"
	"github.com/waltergaltieri/postia/internal/infra/redis"
	"github.com/waltergaltieri/postia/internal/infra/storage"
	"github.com/waltergaltieri/postia/internal/infra/storage/memory"
	"github.com/waltergaltieri/postia/internal/infra/storage/postgres"
	"github.com/waltergaltieri/postia/internal/pipeline/audit"
	"github.com/waltergaltieri/postia/internal/pipeline/generator"
	"github.com/waltergaltieri/postia/internal/pipeline/ledger"
	"github.com/waltergaltieri/postia/internal/pipeline/orchestrator"
	"github.com/waltergaltieri/postia/internal/pipeline/pricing"
	"github.com/waltergaltieri/postia/internal/pipeline/recovery"
)

// Pipeline is the main application struct that wires the execution core and
// manages its lifecycle.
type Pipeline struct {
	cfg         config.AppConfig
	orch        *orchestrator.Orchestrator
	tokens      *ledger.Service
	sink        *audit.Sink
	scheduler   *worker.Scheduler
	sweeper     *worker.Sweeper
	apiServer   *api.Server
	db          *postgres.DB
	redisClient *redis.Client
	log         *slog.Logger
}

// NewPipeline creates a Pipeline with all dependencies initialized.
// capability is the generation backend; pass nil to use the local
// deterministic backend.
func NewPipeline(cfg config.AppConfig, capability generator.Capability, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}

	// 1. Storage
	var jobRepo storage.JobRepository
	var stepRepo storage.StepResultRepository
	var ledgerRepo storage.LedgerRepository
	var auditRepo storage.AuditRepository
	var db *postgres.DB

	checks := make(map[string]api.HealthChecker)

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate("migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		jobRepo = postgres.NewJobRepo(db)
		stepRepo = postgres.NewStepResultRepo(db)
		ledgerRepo = postgres.NewLedgerRepo(db)
		auditRepo = postgres.NewAuditRepo(db)
		checks["database"] = db

		log.Info("using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		jobRepo = memory.NewJobRepo(store)
		stepRepo = memory.NewStepResultRepo(store)
		ledgerRepo = memory.NewLedgerRepo(store)
		auditRepo = memory.NewAuditRepo(store)

		log.Info("using memory storage")
	}

	// 2. Redis notifier (optional)
	var redisClient *redis.Client
	var notifier recovery.Notifier = NewLogNotifier(log)
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redis.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("failed to connect to Redis, notifications fall back to logs", "error", err)
		} else {
			notifier = redisClient
			checks["redis"] = redisClient
		}
	}

	// 3. Core services
	sink := audit.NewSink(auditRepo, log)
	table := pricing.New(cfg.Pricing.Overrides)
	tokens := ledger.NewService(ledgerRepo, table, sink, log)

	classifier := recovery.NewClassifier(cfg.Pipeline.Recovery)
	executor := recovery.NewExecutor(
		stepRepo,
		generator.NewFallback(),
		notifier,
		sink,
		cfg.Pipeline.Backoff,
		log,
	)

	if capability == nil {
		capability = NewLocalCapability()
		log.Info("using local generation backend")
	}

	orch := orchestrator.New(jobRepo, stepRepo, tokens, capability, classifier, executor, sink, log)

	// 4. Workers
	scheduler := worker.NewScheduler(
		stepRepo,
		orch,
		cfg.Pipeline.SchedulerInterval,
		cfg.Pipeline.SchedulerBatch,
		log,
	)
	sweeper := worker.NewSweeper(sink, cfg.Audit.RetentionDays, cfg.Audit.SweepInterval, log)

	// 5. API
	apiServer := api.NewServer(orch, tokens, checks, cfg.Server.Port, log)

	return &Pipeline{
		cfg:         cfg,
		orch:        orch,
		tokens:      tokens,
		sink:        sink,
		scheduler:   scheduler,
		sweeper:     sweeper,
		apiServer:   apiServer,
		db:          db,
		redisClient: redisClient,
		log:         log,
	}, nil
}

// Orchestrator exposes the job orchestrator, mainly for the CLI.
func (p *Pipeline) Orchestrator() *orchestrator.Orchestrator { return p.orch }

// Tokens exposes the token ledger service, mainly for the CLI.
func (p *Pipeline) Tokens() *ledger.Service { return p.tokens }

// Audit exposes the audit sink, mainly for the CLI.
func (p *Pipeline) Audit() *audit.Sink { return p.sink }

// Start starts the API server and background workers.
func (p *Pipeline) Start(ctx context.Context) error {
	go func() {
		p.log.Info("starting API server", "port", p.cfg.Server.Port)
		if err := p.apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Error("API server failed", "error", err)
		}
	}()

	if p.db != nil {
		p.db.StartMetricsCollector(ctx)
	}

	go p.scheduler.Start(ctx)
	go p.sweeper.Start(ctx)

	return nil
}

// Stop stops the pipeline.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.log.Info("stopping pipeline...")

	if p.redisClient != nil {
		if err := p.redisClient.Close(); err != nil {
			p.log.Warn("failed to close Redis", "error", err)
		}
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			p.log.Warn("failed to close database", "error", err)
		}
	}

	return p.apiServer.Stop(ctx)
}
