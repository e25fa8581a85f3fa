// Package server builds the process dependency graph from configuration and
// runs the HTTP API and worker pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shivamtherexpandey/usm-app/internal/api"
	"github.com/shivamtherexpandey/usm-app/internal/auth"
	"github.com/shivamtherexpandey/usm-app/internal/clock/system"
	"github.com/shivamtherexpandey/usm-app/internal/config"
	"github.com/shivamtherexpandey/usm-app/internal/dispatcher"
	"github.com/shivamtherexpandey/usm-app/internal/fetcher"
	collyfetcher "github.com/shivamtherexpandey/usm-app/internal/fetcher/colly"
	headlessfetcher "github.com/shivamtherexpandey/usm-app/internal/fetcher/headless"
	"github.com/shivamtherexpandey/usm-app/internal/gateway"
	"github.com/shivamtherexpandey/usm-app/internal/hash/sha256"
	"github.com/shivamtherexpandey/usm-app/internal/headless/detector"
	"github.com/shivamtherexpandey/usm-app/internal/id/uuid"
	"github.com/shivamtherexpandey/usm-app/internal/identity"
	"github.com/shivamtherexpandey/usm-app/internal/llm"
	"github.com/shivamtherexpandey/usm-app/internal/logging"
	"github.com/shivamtherexpandey/usm-app/internal/metrics"
	"github.com/shivamtherexpandey/usm-app/internal/policy/ratelimit"
	"github.com/shivamtherexpandey/usm-app/internal/probe"
	memoryqueue "github.com/shivamtherexpandey/usm-app/internal/queue/memory"
	pubsubqueue "github.com/shivamtherexpandey/usm-app/internal/queue/pubsub"
	redisqueue "github.com/shivamtherexpandey/usm-app/internal/queue/redis"
	gcsstorage "github.com/shivamtherexpandey/usm-app/internal/storage/gcs"
	localstorage "github.com/shivamtherexpandey/usm-app/internal/storage/local"
	memorystorage "github.com/shivamtherexpandey/usm-app/internal/storage/memory"
	pgstore "github.com/shivamtherexpandey/usm-app/internal/storage/postgres"
	"github.com/shivamtherexpandey/usm-app/internal/summarizer"
	"github.com/shivamtherexpandey/usm-app/internal/summary"
	"github.com/shivamtherexpandey/usm-app/internal/telemetry"
	"github.com/shivamtherexpandey/usm-app/internal/worker"
)

// Mode selects which halves of the system a process runs.
type Mode int

const (
	// ModeServe runs the HTTP API, plus workers when worker.embedded is set.
	ModeServe Mode = iota
	// ModeWorker runs only the worker pool.
	ModeWorker
)

// JobStorePinger is a job store that can report readiness.
type JobStorePinger interface {
	summary.JobStore
	Ping(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg      *config.Config
	mode     Mode
	logger   *zap.Logger
	clock    summary.Clock
	jobs     JobStorePinger
	users    identity.Store
	queue    summary.Queue
	checks   map[string]api.Pinger
	api      *api.Server
	dispatch *dispatcher.Dispatcher
	closers  []func(context.Context)

	withWorkers bool
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, mode Mode) (*App, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Service:     cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{
		cfg:    cfg,
		mode:   mode,
		logger: logger,
		clock:  system.New(),
		checks: make(map[string]api.Pinger),
	}
	app.withWorkers = cfg.NeedsModel(mode == ModeWorker)
	if mode == ModeServe && app.withWorkers && cfg.LLM.APIKey == "" {
		logger.Warn("llm.api_key not set, embedded workers disabled")
		app.withWorkers = false
	}
	built := false
	defer func() {
		if !built {
			app.close(context.WithoutCancel(ctx))
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Telemetry.Environment,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.onClose(func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	})

	if err := setupStores(ctx, app); err != nil {
		return nil, err
	}
	if err := setupQueue(ctx, app); err != nil {
		return nil, err
	}

	var workers []*worker.Worker
	if app.withWorkers {
		workers, err = setupWorkers(ctx, app)
		if err != nil {
			return nil, err
		}
	}
	app.dispatch = dispatcher.New(app.queue, workers, logger.Named("dispatcher"))

	if mode == ModeServe {
		if err := setupAPI(app); err != nil {
			return nil, err
		}
	}

	logger.Info("application built",
		zap.Int("port", cfg.Server.Port),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.Bool("postgres", cfg.Database.DSN != ""),
		zap.String("archive_backend", cfg.Storage.Backend),
		zap.Int("workers", len(workers)),
	)
	built = true
	return app, nil
}

func (a *App) onClose(fn func(context.Context)) {
	a.closers = append(a.closers, fn)
}

// Handler exposes the HTTP handler, or nil for worker processes.
func (a *App) Handler() http.Handler {
	if a.api == nil {
		return nil
	}
	return a.api.Handler()
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.dispatch.Run(ctx)
	}()

	var srv *http.Server
	serveErr := make(chan error, 1)
	if a.api != nil {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
				stop()
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}
	a.close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// close runs shutdown hooks in reverse order of registration.
func (a *App) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func setupStores(ctx context.Context, app *App) error {
	cfg := app.cfg.Database
	if cfg.DSN == "" {
		app.logger.Warn("no database.dsn configured, using in-memory stores")
		app.jobs = memorystorage.NewJobStore(app.clock)
		app.users = memorystorage.NewUserStore(app.clock)
		app.checks["job_store"] = app.jobs
		return nil
	}
	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	app.onClose(func(context.Context) { pool.Close() })

	if cfg.AutoMigrate {
		if err := pgstore.Migrate(ctx, pool, cfg.SummariesTable); err != nil {
			return fmt.Errorf("auto migrate failed: %w", err)
		}
		app.logger.Info("schema migrated", zap.String("summaries_table", cfg.SummariesTable))
	}
	jobs, err := pgstore.NewJobStore(pool, cfg.SummariesTable, app.clock)
	if err != nil {
		return fmt.Errorf("job store init failed: %w", err)
	}
	users, err := pgstore.NewUserStore(pool, app.clock)
	if err != nil {
		return fmt.Errorf("user store init failed: %w", err)
	}
	app.jobs = jobs
	app.users = users
	app.checks["postgres"] = jobs
	return nil
}

type redisPinger struct{ client redis.UniversalClient }

func (p redisPinger) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

type processingRequeuer interface {
	RequeueProcessing(ctx context.Context) (int, error)
}

// requeueInFlight recovers deliveries left unsettled by a crashed consumer.
// Other live consumers would have their in-flight work redelivered, so it
// only runs when enabled.
func requeueInFlight(ctx context.Context, q processingRequeuer, enabled bool, logger *zap.Logger) error {
	if !enabled {
		return nil
	}
	n, err := q.RequeueProcessing(ctx)
	if err != nil {
		return fmt.Errorf("requeue in-flight jobs: %w", err)
	}
	if n > 0 {
		logger.Info("requeued in-flight jobs", zap.Int("count", n))
	}
	return nil
}

func setupQueue(ctx context.Context, app *App) error {
	cfg := app.cfg
	switch cfg.Queue.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.onClose(func(context.Context) {
			if err := client.Close(); err != nil {
				app.logger.Warn("redis client close failed", zap.Error(err))
			}
		})
		q, err := redisqueue.New(client, redisqueue.Config{
			Name:         cfg.Queue.Name,
			PollInterval: cfg.Redis.PollInterval,
			PromoteBatch: cfg.Redis.PromoteBatch,
		})
		if err != nil {
			return fmt.Errorf("redis queue init failed: %w", err)
		}
		if err := requeueInFlight(ctx, q, app.withWorkers && cfg.Redis.RequeueOnStart, app.logger); err != nil {
			return err
		}
		app.queue = q
		app.checks["redis"] = redisPinger{client: client}
		app.logger.Info("using redis queue", zap.String("addr", cfg.Redis.Addr), zap.String("queue", cfg.Queue.Name))
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.onClose(func(context.Context) {
			if err := client.Close(); err != nil {
				app.logger.Warn("pubsub client close failed", zap.Error(err))
			}
		})
		q, err := pubsubqueue.New(client, pubsubqueue.Config{
			Topic:        cfg.PubSub.Topic,
			Subscription: cfg.PubSub.Subscription,
		}, app.logger.Named("pubsub"))
		if err != nil {
			return fmt.Errorf("pubsub queue init failed: %w", err)
		}
		app.onClose(func(context.Context) { q.Close() })
		app.queue = q
		app.logger.Info("using pubsub queue",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.Topic),
			zap.String("subscription", cfg.PubSub.Subscription),
		)
	default:
		q := memoryqueue.NewQueue(cfg.Queue.Capacity)
		app.onClose(func(context.Context) { q.Close() })
		app.queue = q
		app.logger.Info("using in-memory queue", zap.Int("capacity", cfg.Queue.Capacity))
	}
	return nil
}

func setupArchive(ctx context.Context, app *App) (*worker.Archive, error) {
	cfg := app.cfg.Storage
	var blobs summary.BlobStore
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.onClose(func(context.Context) {
			if err := client.Close(); err != nil {
				app.logger.Warn("gcs client close failed", zap.Error(err))
			}
		})
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		blobs = store
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		blobs = store
	case "memory":
		blobs = memorystorage.NewBlobStore()
	default:
		app.logger.Info("summary archive disabled")
		return nil, nil
	}
	app.logger.Info("summary archive enabled", zap.String("backend", cfg.Backend), zap.String("prefix", cfg.Prefix))
	return worker.NewArchive(blobs, sha256.New(), cfg.Prefix), nil
}

func setupLoader(app *App) (*collyfetcher.Loader, error) {
	cfg := app.cfg
	opts := []collyfetcher.Option{
		collyfetcher.WithLogger(app.logger.Named("loader")),
		collyfetcher.WithWaiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.RPS,
			DefaultBurst: cfg.RateLimit.Burst,
			HostRPS:      cfg.RateLimit.HostRPS(),
		})),
	}
	if cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			NavigationTimeout: cfg.Headless.NavigationTimeout,
			Settle:            cfg.Headless.Settle,
		})
		if err != nil {
			return nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		app.onClose(func(context.Context) { renderer.Close() })
		var detect fetcher.Detector = detector.NewHeuristic(cfg.Headless.PromotionThreshold)
		opts = append(opts, collyfetcher.WithRenderer(renderer, detect))
		app.logger.Info("headless rendering enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Fetcher.UserAgent,
		Timeout:     cfg.Fetcher.Timeout,
		MaxBodySize: cfg.Fetcher.MaxBodySize,
	}, opts...), nil
}

func setupWorkers(ctx context.Context, app *App) ([]*worker.Worker, error) {
	cfg := app.cfg
	if cfg.LLM.APIKey == "" {
		return nil, errors.New("llm.api_key is required to run workers")
	}
	loader, err := setupLoader(app)
	if err != nil {
		return nil, err
	}
	archive, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}
	model := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	sum := summarizer.New(loader, model, summarizer.Config{
		ChunkSize:   cfg.Summarizer.ChunkSize,
		TokenMax:    cfg.Summarizer.TokenMax,
		MaxParallel: cfg.Summarizer.MaxParallel,
	},
		summarizer.WithRetryPolicy(summary.NewExponentialRetryPolicy(
			cfg.Summarizer.RetryAttempts,
			cfg.Summarizer.RetryInitialDelay,
			cfg.Summarizer.RetryMaxDelay,
		)),
		summarizer.WithLogger(app.logger.Named("summarizer")),
	)
	exec := worker.NewExecutor(app.jobs, sum, archive, cfg.Worker.JobTimeout, app.logger.Named("executor"))

	count := cfg.Worker.Count
	if count <= 0 {
		count = 1
	}
	workerCfg := worker.Config{
		MaxAttempts: cfg.Worker.MaxAttempts,
		RetryDelay:  cfg.Worker.RetryDelay,
	}
	app.logger.Info("worker config",
		zap.Int("count", count),
		zap.Int("max_attempts", workerCfg.MaxAttempts),
		zap.Duration("retry_delay", workerCfg.RetryDelay),
		zap.Duration("job_timeout", cfg.Worker.JobTimeout),
		zap.String("model", cfg.LLM.Model),
	)
	workers := make([]*worker.Worker, 0, count)
	for i := range count {
		workers = append(workers, worker.New(app.queue, exec, workerCfg, app.logger.Named("worker").With(zap.Int("index", i))))
	}
	return workers, nil
}

// newProber builds the submission probe. It keeps its own user agent rather
// than the fetcher's, falling back to probe.DefaultUserAgent.
func newProber(cfg config.ProbeConfig, client *http.Client, logger *zap.Logger) *probe.Prober {
	return probe.New(probe.Config{
		Timeout:          cfg.Timeout,
		MinContentLength: cfg.MinContentLength,
		UserAgent:        cfg.UserAgent,
	}, client, logger)
}

func setupAPI(app *App) error {
	cfg := app.cfg
	tokens, err := auth.NewTokens(cfg.Auth.SecretKey, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("token signer init failed: %w", err)
	}
	prober := newProber(cfg.Probe, nil, app.logger.Named("probe"))

	summaries := gateway.NewService(app.jobs, app.dispatch, prober, uuid.New(), app.clock, app.logger.Named("gateway"))
	accounts := identity.NewService(app.users, identity.NewBcryptHasher(cfg.Auth.BcryptCost), tokens, app.logger.Named("identity"))
	authn := auth.NewMiddleware(tokens, app.users, cfg.Auth.ExcludedPaths, app.logger.Named("auth"))

	app.api = api.NewServer(summaries, accounts, authn, app.checks, api.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	}, app.logger.Named("api"))
	return nil
}
