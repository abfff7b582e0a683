// Package server builds the application's dependencies and runs its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/api"
	"github.com/JakeFAU/jobboard-crawler/internal/clock/system"
	"github.com/JakeFAU/jobboard-crawler/internal/config"
	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/dispatcher"
	"github.com/JakeFAU/jobboard-crawler/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/jobboard-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/jobboard-crawler/internal/fetcher/detector"
	headlessfetcher "github.com/JakeFAU/jobboard-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/jobboard-crawler/internal/hash/sha256"
	"github.com/JakeFAU/jobboard-crawler/internal/id/uuid"
	"github.com/JakeFAU/jobboard-crawler/internal/planner"
	"github.com/JakeFAU/jobboard-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/jobboard-crawler/internal/progress"
	"github.com/JakeFAU/jobboard-crawler/internal/progress/sinks"
	pubmemory "github.com/JakeFAU/jobboard-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/jobboard-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/jobboard-crawler/internal/queue/memory"
	"github.com/JakeFAU/jobboard-crawler/internal/registry"
	"github.com/JakeFAU/jobboard-crawler/internal/results"
	"github.com/JakeFAU/jobboard-crawler/internal/runner"
	"github.com/JakeFAU/jobboard-crawler/internal/service"
	"github.com/JakeFAU/jobboard-crawler/internal/storage"
	pgstore "github.com/JakeFAU/jobboard-crawler/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	registry  *registry.Registry
	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	svc       *service.Service
	apiServer *api.Server
	blobs     crawler.BlobStore
	records   *pgstore.RecordStore
	events    *progress.Hub

	closers []namedCloser

	workersMu   sync.Mutex
	workersDone chan struct{}
}

type namedCloser struct {
	name  string
	close func() error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	sessions crawler.SessionProvider
	blobs    crawler.BlobStore
}

// WithSessionProvider replaces the browser built from config.
func WithSessionProvider(p crawler.SessionProvider) Option {
	return func(o *buildOptions) { o.sessions = p }
}

// WithBlobStore replaces the archive built from config.
func WithBlobStore(b crawler.BlobStore) Option {
	return func(o *buildOptions) { o.blobs = b }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("browser", cfg.Browser.Mode),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("dispatcher_concurrency", cfg.Dispatcher.Concurrency),
		zap.Int("runner_workers", cfg.Runner.Workers),
	)

	ok := false
	defer func() {
		if !ok {
			app.closeAll()
		}
	}()

	clock := system.New()
	app.registry = registry.New(uuid.New(), clock)
	app.queue = queueMemory.NewQueue(cfg.Dispatcher.QueueDepth)

	sink, err := app.setupResults(ctx, o.blobs)
	if err != nil {
		return nil, err
	}

	app.setupEvents()

	sessions := o.sessions
	if sessions == nil {
		sessions, err = app.setupBrowser()
		if err != nil {
			return nil, err
		}
	}

	plan := planner.New(planner.Config{
		ListingSelector: cfg.Planner.ListingSelector,
		LinkContains:    cfg.Planner.LinkContains,
		MaxTargets:      cfg.Planner.MaxTargets,
		Timeout:         cfg.Planner.Timeout,
	}, logger)

	pacer := ratelimit.New(ratelimit.Config{
		Delay: cfg.RateLimit.Delay,
		Burst: cfg.RateLimit.Burst,
	})

	run := runner.New(
		app.registry,
		sessions,
		plan,
		pacer,
		sink,
		clock,
		runner.RetryPolicy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
		},
		runner.Config{
			Workers:           cfg.Runner.Workers,
			DetailSelectors:   cfg.Runner.DetailSelectors,
			DetailTimeout:     cfg.Runner.DetailTimeout,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
			Rules:             cfg.Runner.Rules,
			SinkTimeout:       cfg.Runner.SinkTimeout,
			Events:            app.emitter(),
		},
		logger,
	)
	app.dispatch = dispatcher.New(app.queue, run, cfg.Dispatcher.Concurrency, logger)

	app.svc = service.New(app.registry, app.queue, clock, service.Config{
		AllowedHosts: cfg.Service.AllowedHosts,
		PathPrefix:   cfg.Service.PathPrefix,
	}, logger)

	app.apiServer = api.NewServer(app.svc, api.Config{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
		Ready:          app.queue.Ready,
	}, logger)

	ok = true
	return app, nil
}

func (a *App) setupBrowser() (crawler.SessionProvider, error) {
	switch a.cfg.Browser.Mode {
	case config.BrowserStatic:
		a.logger.Info("using static session provider", zap.String("user_agent", a.cfg.Browser.UserAgent))
		return a.staticProvider(), nil
	case config.BrowserAuto:
		browser, err := a.headlessProvider()
		if err != nil {
			return nil, err
		}
		provider, err := auto.New(a.staticProvider(), browser,
			detector.NewHeuristic(a.cfg.Browser.PromotionMinText), a.logger)
		if err != nil {
			return nil, fmt.Errorf("auto session provider: %w", err)
		}
		a.logger.Info("using auto session provider",
			zap.Int("max_tabs", a.cfg.Browser.MaxTabs),
			zap.Int("promotion_min_text", a.cfg.Browser.PromotionMinText),
		)
		return provider, nil
	default:
		provider, err := a.headlessProvider()
		if err != nil {
			return nil, err
		}
		a.logger.Info("using headless session provider", zap.Int("max_tabs", a.cfg.Browser.MaxTabs))
		return provider, nil
	}
}

func (a *App) staticProvider() *collyfetcher.Provider {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Browser.UserAgent,
		RespectRobots: a.cfg.Browser.RespectRobots,
		Timeout:       a.cfg.Browser.NavigationTimeout,
	})
}

func (a *App) headlessProvider() (*headlessfetcher.Provider, error) {
	provider, err := headlessfetcher.New(headlessfetcher.Config{
		MaxTabs:           a.cfg.Browser.MaxTabs,
		UserAgent:         a.cfg.Browser.UserAgent,
		NavigationTimeout: a.cfg.Browser.NavigationTimeout,
		ExecPath:          a.cfg.Browser.ExecPath,
		WindowWidth:       a.cfg.Browser.WindowWidth,
		WindowHeight:      a.cfg.Browser.WindowHeight,
		NoSandbox:         a.cfg.Browser.NoSandbox,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("headless browser init failed: %w", err)
	}
	a.addCloser("browser", func() error {
		provider.Close()
		return nil
	})
	return provider, nil
}

func (a *App) setupResults(ctx context.Context, blobs crawler.BlobStore) (crawler.ResultSink, error) {
	if blobs == nil {
		store, closeStore, err := storage.New(ctx, a.cfg.Storage, a.logger)
		if err != nil {
			return nil, fmt.Errorf("storage init failed: %w", err)
		}
		a.addCloser("storage", closeStore)
		blobs = store
	}
	a.blobs = blobs

	var records crawler.RecordStore
	if a.cfg.Database.DSN != "" {
		store, err := pgstore.NewRecordStore(ctx, a.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("record store init failed: %w", err)
		}
		a.addCloser("record store", func() error {
			store.Close()
			return nil
		})
		records = store
		a.records = store
		a.logger.Info("record store initialized", zap.String("table", a.cfg.Database.Table))
	} else {
		a.logger.Warn("no database dsn configured, records are not persisted")
	}

	var publisher crawler.Publisher
	switch {
	case a.cfg.PubSub.Topic == "":
	case a.cfg.PubSub.Backend == config.PubSubMemory:
		publisher = pubmemory.New(pubmemory.WithLogger(a.logger), pubmemory.WithCapacity(256))
		a.logger.Info("in-memory publisher initialized", zap.String("topic", a.cfg.PubSub.Topic))
	default:
		pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub init failed: %w", err)
		}
		a.addCloser("pubsub", pub.Close)
		publisher = pub
		a.logger.Info("pubsub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	}

	formats, err := a.cfg.ArchiveFormats()
	if err != nil {
		return nil, err
	}
	return results.New(blobs, records, publisher, results.Config{
		Formats: formats,
		Topic:   a.cfg.PubSub.Topic,
		Hasher:  sha256.New(),
	}, a.logger), nil
}

// setupEvents starts the job event hub when at least one sink is configured.
// It must run after setupResults so the record store can be reused.
func (a *App) setupEvents() {
	var eventSinks []progress.Sink
	if a.cfg.Events.Log {
		eventSinks = append(eventSinks, sinks.NewLogSink(a.logger))
	}
	if a.cfg.Events.Persist && a.records != nil {
		eventSinks = append(eventSinks, sinks.NewStoreSink(a.records, a.logger))
	}
	if len(eventSinks) == 0 {
		return
	}
	hub := progress.NewHub(a.cfg.Events.Hub, a.logger, eventSinks...)
	a.events = hub
	a.addCloser("events", func() error {
		timeout := a.cfg.Events.Hub.SinkTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return hub.Close(ctx)
	})
	a.logger.Info("job event stream enabled", zap.Int("sinks", len(eventSinks)))
}

// emitter avoids handing the runner a typed nil.
func (a *App) emitter() progress.Emitter {
	if a.events == nil {
		return nil
	}
	return a.events
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Service exposes the job facade.
func (a *App) Service() *service.Service { return a.svc }

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// BlobStore returns the archive in use, or nil when archiving is off.
func (a *App) BlobStore() crawler.BlobStore { return a.blobs }

// StartWorkers runs the dispatcher in the background until ctx ends or the
// queue is closed. Calling it twice is a no-op.
func (a *App) StartWorkers(ctx context.Context) {
	a.workersMu.Lock()
	defer a.workersMu.Unlock()
	if a.workersDone != nil {
		return
	}
	done := make(chan struct{})
	a.workersDone = done
	go func() {
		defer close(done)
		a.logger.Info("dispatcher started", zap.Int("concurrency", a.cfg.Dispatcher.Concurrency))
		a.dispatch.Run(ctx)
		a.logger.Info("dispatcher stopped")
	}()
}

// Run serves HTTP and processes jobs until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.StartWorkers(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return closeErr
}

// Close stops accepting jobs, waits for the dispatcher (bounded by ctx) and
// releases infrastructure.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()

	a.workersMu.Lock()
	done := a.workersDone
	a.workersMu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			a.logger.Warn("dispatcher did not stop before shutdown deadline")
		}
	}

	err := a.closeAll()
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
