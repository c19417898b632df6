package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"SpectrumRanker/internal/comparator"
	"SpectrumRanker/internal/config"
	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/httpapi"
	"SpectrumRanker/internal/infrastructure/scheduler"
	"SpectrumRanker/internal/infrastructure/storage"
	"SpectrumRanker/internal/infrastructure/telegram"
	"SpectrumRanker/internal/logging"
	"SpectrumRanker/internal/memo"
	"SpectrumRanker/internal/metrics"
	"SpectrumRanker/internal/ports"
	"SpectrumRanker/internal/retry"
	"SpectrumRanker/internal/spectrum"
	"SpectrumRanker/internal/usecase"
	"SpectrumRanker/pkg/logger"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	db         *storage.DB
	repo       *storage.Repository
	registry   *comparator.Registry
	cache      *memo.Cache
	metricsReg *prometheus.Registry

	items      *usecase.Items
	ranker     *usecase.Ranker
	classifier *usecase.Classifier
	scheduler  *usecase.Scheduler
}

// Option customizes New.
type Option func(*options)

type options struct {
	prompter comparator.Prompter
}

// WithPrompter sets how the human comparator obtains answers. Without it
// human comparisons report ErrHumanPending until recorded through the API.
func WithPrompter(p comparator.Prompter) Option {
	return func(o *options) { o.prompter = p }
}

// New opens storage, migrates it and builds every use case.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts ...Option) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{prompter: comparator.DeferredPrompter{}}
	for _, opt := range opts {
		opt(&o)
	}

	strategy, err := spectrum.ParseStrategy(cfg.Ranking.Strategy)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	dialect, err := storage.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(ctx, dialect, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	repo := storage.NewRepository(db)

	registry, err := buildRegistry(cfg, o.prompter)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	cache := memo.New(repo)
	gateway := comparator.NewGateway(cache, comparator.GatewayConfig{
		Retry: retry.Policy{
			MaxAttempts:     cfg.Gateway.MaxAttempts,
			InitialInterval: cfg.Gateway.InitialInterval,
			MaxInterval:     cfg.Gateway.MaxInterval,
			Multiplier:      cfg.Gateway.Multiplier,
			Jitter:          cfg.Gateway.Jitter,
		},
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
		AttemptTimeout:    cfg.Gateway.AttemptTimeout,
	}, m, baseLogger)

	var notifier ports.Notifier
	if tg := telegram.NewNotifier(cfg.Notifications.Telegram); tg.Configured() {
		notifier = tg
	}

	items := usecase.NewItems(repo, m, baseLogger)
	ranker := usecase.NewRanker(usecase.RankerDeps{
		Items:      repo,
		Criteria:   repo,
		Containers: repo,
		Store:      repo,
		Registry:   registry,
		Gateway:    gateway,
		Notifier:   notifier,
		Metrics:    m,
		Logger:     baseLogger,
		Config: usecase.RankerConfig{
			Strategy:          strategy,
			MaxSpliceAttempts: cfg.Ranking.MaxSpliceAttempts,
			PublishReports:    cfg.Ranking.PublishReports,
			RunHistory:        cfg.Ranking.RunHistory,
		},
	})
	classifier := usecase.NewClassifier(usecase.ClassifierDeps{
		Items:         items,
		Scope:         repo,
		Criteria:      repo,
		Containers:    repo,
		Registry:      registry,
		Gateway:       gateway,
		Logger:        baseLogger,
		Actionable:    domain.CriterionID(cfg.Classification.ActionableCriterion),
		NonActionable: domain.CriterionID(cfg.Classification.NonActionableCriterion),
	})

	cron := scheduler.NewCronScheduler(cfg.Scheduler.Location(), logger.New(baseLogger, "cron", slog.LevelWarn))
	sched := usecase.NewScheduler(cron, ranker, scheduledRuns(cfg.Scheduler.Jobs), baseLogger)

	return &Application{
		cfg:        cfg,
		logger:     baseLogger.With("component", "app"),
		db:         db,
		repo:       repo,
		registry:   registry,
		cache:      cache,
		metricsReg: reg,
		items:      items,
		ranker:     ranker,
		classifier: classifier,
		scheduler:  sched,
	}, nil
}

// Serve runs the HTTP API and scheduled rankings until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	router := httpapi.NewRouter(httpapi.Deps{
		Ranker:      a.ranker,
		Items:       a.items,
		Lists:       a.repo,
		Comparisons: a.repo,
		Memo:        a.cache,
		Gatherer:    a.metricsReg,
		Logger:      a.logger,
	})
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		ErrorLog:          logger.New(a.logger, "http_server", slog.LevelError),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http api listening", "addr", srv.Addr, "models", a.registry.Models())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.scheduler.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()

		a.logger.Info("shutting down")
		return errors.Join(
			srv.Shutdown(shutdownCtx),
			a.scheduler.Stop(shutdownCtx),
			a.ranker.Shutdown(shutdownCtx),
		)
	})
	return g.Wait()
}

// Rank runs one ranking in the foreground.
func (a *Application) Rank(ctx context.Context, req usecase.RankRequest) (usecase.RunReport, error) {
	return a.ranker.Run(ctx, req)
}

// Classify reclassifies items as actionable or not. An empty model uses the
// configured classification model.
func (a *Application) Classify(ctx context.Context, req usecase.ClassifyRequest) (usecase.ClassifyReport, error) {
	if req.Model == "" {
		req.Model = a.cfg.Classification.Model
	}
	return a.classifier.Classify(ctx, req)
}

// Alignment compares two models' decisions.
func (a *Application) Alignment(ctx context.Context, modelA, modelB string) (usecase.AlignmentReport, error) {
	return usecase.Alignment(ctx, a.repo, modelA, modelB)
}

// Models lists the registered comparison models.
func (a *Application) Models() []string { return a.registry.Models() }

// Close releases the database.
func (a *Application) Close() error {
	return a.db.Close()
}

func (a *Application) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
