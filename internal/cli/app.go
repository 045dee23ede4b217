package cli

import (
	"context"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/clientpool"
	"github.com/kailas-cloud/docbench/internal/config"
	dbRedis "github.com/kailas-cloud/docbench/internal/db/redis"
	"github.com/kailas-cloud/docbench/internal/domain"
	logpkg "github.com/kailas-cloud/docbench/internal/logger"
	"github.com/kailas-cloud/docbench/internal/metrics"
	"github.com/kailas-cloud/docbench/internal/ratelimit"
	budgetrepo "github.com/kailas-cloud/docbench/internal/repository/budget"
	"github.com/kailas-cloud/docbench/internal/repository/embcache"
	runrepo "github.com/kailas-cloud/docbench/internal/repository/run"
	"github.com/kailas-cloud/docbench/internal/retry"
	openaiTransport "github.com/kailas-cloud/docbench/internal/transport/openai"
	"github.com/kailas-cloud/docbench/internal/transport/ops"
	"github.com/kailas-cloud/docbench/internal/transport/vectapi"
	budgetuc "github.com/kailas-cloud/docbench/internal/usecase/budget"
	healthuc "github.com/kailas-cloud/docbench/internal/usecase/health"
	"github.com/kailas-cloud/docbench/internal/usecase/progress"
)

// app is the composition root of one CLI invocation.
type app struct {
	cfg    config.Config
	env    string
	logger *zap.Logger
	runID  string

	store *dbRedis.Store // nil when no database is configured
	runs  *runrepo.Repo
	board *progress.Board

	budgets map[string]*budgetuc.Tracker
	checks  map[string]healthuc.Checker
}

func newApp(ctx context.Context, opts rootOptions) (*app, error) {
	env := opts.env
	if env == "" {
		env = config.GetEnv()
	}

	var (
		cfg config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	base, err := logpkg.NewLogger(env, logpkg.Options{Level: level, File: cfg.Logging.File})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	// Register metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterHTTPMetrics()

	a := &app{
		cfg:     cfg,
		env:     env,
		logger:  base,
		runID:   logpkg.NewRunID(),
		budgets: map[string]*budgetuc.Tracker{},
		checks:  map[string]healthuc.Checker{},
	}

	if len(cfg.Database.Addrs) > 0 {
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("create database store: %w", err)
		}
		if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			store.Close()
			return nil, fmt.Errorf("database not ready: %w", err)
		}
		a.store = store
		a.runs = runrepo.New(store, time.Duration(cfg.Database.RunTTLHours)*time.Hour)
		base.Info("Connected to database", zap.Strings("addrs", cfg.Database.Addrs))
	}

	// Pass a nil interface, not a typed nil pointer, when runs are in-memory only.
	var recorder progress.Recorder
	if a.runs != nil {
		recorder = a.runs
	}
	a.board = progress.NewBoard(a.runID, recorder, base)
	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync()
}

// stageLogger tags entries with the run ID and stage.
func (a *app) stageLogger(stage domain.Stage) *zap.Logger {
	return logpkg.ForRun(a.logger, a.runID, string(stage))
}

// budget returns the shared tracker of a provider. Zero limits only count usage.
func (a *app) budget(ctx context.Context, provider string) *budgetuc.Tracker {
	if b, ok := a.budgets[provider]; ok {
		return b
	}
	bc := a.cfg.Budget
	b := budgetuc.NewTracker(
		provider, bc.DailyTokenLimit, bc.MonthlyTokenLimit, budgetuc.ParseAction(bc.Action), a.logger,
	)
	if a.store != nil {
		b.WithStore(ctx, budgetrepo.New(a.store, 48*time.Hour, 62*24*time.Hour))
	}
	a.budgets[provider] = b
	return b
}

func providerConfig(p config.ProviderConfig, logger *zap.Logger) *openaiTransport.Config {
	return &openaiTransport.Config{
		APIKey:      p.APIKey,
		BaseURL:     p.BaseURL,
		Model:       p.Model,
		Provider:    p.Name,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Timeout:     time.Duration(p.RequestTimeoutSec) * time.Second,
		Logger:      logger,
	}
}

// generators builds the round-robin pool of instrumented query generators.
func (a *app) generators(ctx context.Context, logger *zap.Logger) (*clientpool.Pool[domain.QueryGenerator], error) {
	gc := a.cfg.Generation
	prompts := make(map[domain.Language]string, len(gc.Prompts))
	for k, v := range gc.Prompts {
		lang, err := domain.ParseLanguage(k)
		if err != nil {
			return nil, fmt.Errorf("generation.prompts: %w", err)
		}
		prompts[lang] = v
	}

	budget := a.budget(ctx, gc.Provider.Name)
	pool, err := clientpool.New(gc.PoolSize, func(int) domain.QueryGenerator {
		g := openaiTransport.NewGenerator(providerConfig(gc.Provider, logger), prompts, gc.UserPrompt)
		return budgetuc.NewInstrumentedGenerator(g, gc.Provider.Model, budget, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("generator pool: %w", err)
	}

	// One handle is enough for the health check: all share the endpoint.
	a.checks[gc.Provider.Name] = openaiTransport.NewGenerator(providerConfig(gc.Provider, logger), prompts, gc.UserPrompt)
	return pool, nil
}

// limiter builds the generation rate limiter and the throughput meter.
func (a *app) limiter() (*ratelimit.Limiter, *ratelimit.Meter, error) {
	l, err := ratelimit.New(a.cfg.RateLimit.RequestsPerSecond)
	if err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}
	l.WithWaitObserver(metrics.RateLimitWaitSeconds)
	m := ratelimit.NewMeter(ratelimit.DefaultMeterWindow).WithGauge(metrics.ActualRPS)
	return l, m, nil
}

func (a *app) retrier(logger *zap.Logger) *retry.Executor {
	return retry.New(retry.Policy{
		MaxAttempts: a.cfg.Retry.MaxRetries,
		BaseDelay:   time.Duration(a.cfg.Retry.BaseDelaySec * float64(time.Second)),
	}, logger)
}

// embedder assembles the decorator chain: provider -> cache -> instrumented -> instruction.
func (a *app) embedder(ctx context.Context, logger *zap.Logger) domain.MultimodalEmbedder {
	ec := a.cfg.Embedding
	timeout := time.Duration(ec.TimeoutSec) * time.Second

	var base domain.MultimodalEmbedder
	switch ec.Driver {
	case "openai":
		base = openaiTransport.NewEmbedder(&openaiTransport.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
			Provider:   ec.Provider,
			Timeout:    timeout,
			Logger:     logger,
		})
	default:
		base = vectapi.New(&vectapi.Config{
			ImageURL: ec.ImageURL,
			TextURL:  ec.TextURL,
			APIKey:   ec.APIKey,
			Provider: ec.Provider,
			Timeout:  timeout,
			Logger:   logger,
		})
	}
	if hc, ok := base.(domain.HealthChecker); ok {
		a.checks["embedding"] = hc
	}

	embedder := base
	if a.store != nil && ec.Cache {
		embedder = embcache.New(
			base, a.store, ec.Provider+":"+ec.Model,
			time.Duration(a.cfg.Database.CacheTTLHours)*time.Hour,
			metrics.EmbeddingCacheTotal, logger,
		)
	}

	embedder = budgetuc.NewInstrumentedEmbedder(embedder, ec.Provider, a.budget(ctx, ec.Provider), logger)

	// Outermost, so cached query vectors are keyed on the instructed text.
	return domain.WithQueryInstruction(embedder, ec.QueryInstruction)
}

func (a *app) ranker(ctx context.Context, logger *zap.Logger) domain.PageRanker {
	rc := a.cfg.Rerank
	r := openaiTransport.NewRanker(providerConfig(rc.Provider, logger), rc.Prompt)
	return budgetuc.NewInstrumentedRanker(r, rc.Provider.Model, a.budget(ctx, rc.Provider.Name), logger)
}

// serveOps starts the ops server in the background when a port is configured.
// The returned func stops it and waits for shutdown.
func (a *app) serveOps(ctx context.Context) func() {
	if a.cfg.Ops.Port <= 0 {
		return func() {}
	}

	var cache healthuc.Pinger
	if a.store != nil {
		cache = a.store
	}
	var runs ops.RunStore
	if a.runs != nil {
		runs = a.runs
	}
	budgets := make([]ops.BudgetReader, 0, len(a.budgets))
	for _, name := range sortedKeys(a.budgets) {
		budgets = append(budgets, a.budgets[name])
	}

	srv := ops.NewServer(healthuc.New(cache, maps.Clone(a.checks)), a.board, runs, budgets, a.logger)
	handler := ops.NewRouter(srv, a.cfg.Ops.APIKeys, a.logger)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		addr := fmt.Sprintf(":%d", a.cfg.Ops.Port)
		shutdown := time.Duration(a.cfg.Ops.ShutdownSec) * time.Second
		if err := ops.Serve(ctx, addr, handler, shutdown, a.logger); err != nil {
			a.logger.Error("Ops server error", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
