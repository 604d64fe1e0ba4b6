// Package app builds and owns the long-lived services of a shardkit process,
// acting as the dependency injection container handed to commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/shardkit/internal/api"
	"github.com/JakeFAU/shardkit/internal/clock/system"
	"github.com/JakeFAU/shardkit/internal/config"
	"github.com/JakeFAU/shardkit/internal/dispatcher"
	idgen "github.com/JakeFAU/shardkit/internal/id/uuid"
	"github.com/JakeFAU/shardkit/internal/logging"
	"github.com/JakeFAU/shardkit/internal/metrics"
	"github.com/JakeFAU/shardkit/internal/policy/ratelimit"
	"github.com/JakeFAU/shardkit/internal/proc"
	"github.com/JakeFAU/shardkit/internal/progress"
	progresssinks "github.com/JakeFAU/shardkit/internal/progress/sinks"
	"github.com/JakeFAU/shardkit/internal/publisher"
	memorypublisher "github.com/JakeFAU/shardkit/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/shardkit/internal/publisher/pubsub"
	"github.com/JakeFAU/shardkit/internal/stats"
	"github.com/JakeFAU/shardkit/internal/storage"
	gcsstorage "github.com/JakeFAU/shardkit/internal/storage/gcs"
	localstorage "github.com/JakeFAU/shardkit/internal/storage/local"
	memorystorage "github.com/JakeFAU/shardkit/internal/storage/memory"
	pgstore "github.com/JakeFAU/shardkit/internal/storage/postgres"
	"github.com/JakeFAU/shardkit/internal/store"
	"github.com/JakeFAU/shardkit/internal/telemetry"
	"github.com/JakeFAU/shardkit/internal/worker"
)

// RunCompleted is published on the run topic when a consume run ends.
type RunCompleted struct {
	RunID      uuid.UUID       `json:"run_id"`
	Status     store.RunStatus `json:"status"`
	Items      int64           `json:"items"`
	Shards     int             `json:"shards"`
	Workers    int             `json:"workers"`
	Elapsed    time.Duration   `json:"elapsed_ns"`
	Throughput float64         `json:"items_per_second"`
	Error      string          `json:"error,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Option customises Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger        *zap.Logger
	registry      *prometheus.Registry
	expected      int64
	barWriter     io.Writer
	publisher     publisher.Publisher
	blobs         storage.BlobStore
	spanProcessor sdktrace.SpanProcessor
}

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) {
		o.logger = logger
	}
}

// WithRegistry uses reg for every Prometheus collector.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *buildOptions) {
		o.registry = reg
	}
}

// WithExpectedItems sizes the progress bar.
func WithExpectedItems(n int64) Option {
	return func(o *buildOptions) {
		o.expected = n
	}
}

// WithBarWriter redirects the progress bar.
func WithBarWriter(w io.Writer) Option {
	return func(o *buildOptions) {
		o.barWriter = w
	}
}

// WithPublisher overrides the publisher selected from configuration.
func WithPublisher(pub publisher.Publisher) Option {
	return func(o *buildOptions) {
		o.publisher = pub
	}
}

// WithBlobStore overrides the blob store selected from configuration.
func WithBlobStore(blobs storage.BlobStore) Option {
	return func(o *buildOptions) {
		o.blobs = blobs
	}
}

// WithSpanProcessor attaches an extra span processor when tracing is enabled.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *buildOptions) {
		o.spanProcessor = sp
	}
}

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	clock    *system.Clock
	ids      *idgen.Generator

	sessions *stats.Manager
	gate     *proc.Gate
	limiter  *ratelimit.Limiter
	pool     *dispatcher.Pool
	hub      *progress.Hub
	bar      *progresssinks.BarSink

	blobs        storage.BlobStore
	runs         store.ProgressRepository
	pgStore      *pgstore.ProgressStore
	publisher    publisher.Publisher
	pubsubClient *pubsub.Client
	gcpPublisher *gcppublisher.Publisher
	gcsClient    *gcsclient.Client
	tracer       *sdktrace.TracerProvider
	apiServer    *api.Server
}

// Build creates the application's dependencies. ctx must be the main
// routine's context: the statistic manager and gate record it as home.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, clock: system.New(), ids: idgen.New()}
	if err := a.setupObservability(ctx, &o); err != nil {
		return nil, err
	}
	a.logger.Info("building application dependencies",
		zap.Int("num_proc", cfg.Consume.NumProc),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	steps := []func(context.Context, *buildOptions) error{
		a.setupStorage,
		a.setupDatabase,
		a.setupPublisher,
		a.setupProgress,
	}
	for _, step := range steps {
		if err := step(ctx, &o); err != nil {
			a.Close(context.WithoutCancel(ctx))
			return nil, err
		}
	}

	a.sessions = stats.NewManager(
		stats.WithLogger(a.logger.Named("stats")),
		stats.WithDropObserver(a.metrics),
	)
	a.gate = proc.NewGate(ctx, a.metrics, a.logger.Named("gate"))
	a.limiter = ratelimit.New(ratelimit.Config{
		PerSecond: cfg.Consume.MaxItemsPerSecond,
		Burst:     cfg.Consume.RateBurst,
	}, a.metrics)

	poolOpts := []dispatcher.Option{
		dispatcher.WithObserver(a.metrics),
		dispatcher.WithLogger(a.logger.Named("dispatcher")),
		dispatcher.WithClock(a.clock),
	}
	if a.hub != nil {
		poolOpts = append(poolOpts, dispatcher.WithEmitter(a.hub))
	}
	if a.tracer != nil {
		poolOpts = append(poolOpts, dispatcher.WithTracer(a.tracer.Tracer("github.com/JakeFAU/shardkit")))
	}
	a.pool = dispatcher.New(dispatcher.Config{
		NumProc: cfg.Consume.NumProc,
		Worker: worker.Config{
			ThrottleInterval: cfg.Consume.ThrottleInterval,
			PopWait:          cfg.Consume.PopWait,
		},
	}, poolOpts...)

	a.apiServer = api.NewServer(api.Deps{
		Progress: a.pool,
		Sessions: a.sessions,
		Runs:     a.runs,
		Metrics:  a.metrics,
		Ready:    a.ready,
		APIKey:   cfg.Server.APIKey,
	}, a.logger.Named("api"))

	return a, nil
}

func (a *App) setupObservability(ctx context.Context, o *buildOptions) error {
	a.logger = o.logger
	if a.logger == nil {
		logger, err := logging.NewWithLevel(a.cfg.Logging.Development, a.cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("logger init failed: %w", err)
		}
		a.logger = logger
	}

	a.registry = o.registry
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m, err := metrics.New(a.registry)
	if err != nil {
		return fmt.Errorf("metrics init failed: %w", err)
	}
	a.metrics = m

	if a.cfg.Tracing.Enabled {
		var processors []sdktrace.SpanProcessor
		if o.spanProcessor != nil {
			processors = append(processors, o.spanProcessor)
		}
		tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Tracing.ServiceName, processors...)
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.tracer = tp
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context, o *buildOptions) error {
	if o.blobs != nil {
		a.blobs = o.blobs
		return nil
	}
	var err error
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		a.gcsClient, err = gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case config.BackendLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		a.blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
	default:
		a.logger.Info("using in-memory storage backend")
		a.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context, _ *buildOptions) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no DSN specified, keeping run progress in memory")
		a.runs = memorystorage.NewProgressStore()
		return nil
	}
	pg, err := pgstore.NewProgressStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("progress store init failed: %w", err)
	}
	a.pgStore = pg
	a.runs = pg
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("progress store migrate failed: %w", err)
	}
	a.logger.Info("postgres progress store initialized")
	return nil
}

func (a *App) setupPublisher(ctx context.Context, o *buildOptions) error {
	if o.publisher != nil {
		a.publisher = o.publisher
		return nil
	}
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub project configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.gcpPublisher, err = gcppublisher.New(a.pubsubClient)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = a.gcpPublisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context, o *buildOptions) error {
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		promSink,
		progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")),
	}
	if a.cfg.PubSub.ShardTopic != "" {
		sinkList = append(sinkList,
			progresssinks.NewPublishSink(a.publisher, a.cfg.PubSub.ShardTopic, a.logger.Named("progress_publish")))
	}
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	a.bar = progresssinks.NewBarSink(progresssinks.BarOptions{
		Enabled:     a.cfg.Progress.Bar,
		Description: a.cfg.Progress.Description,
		Total:       o.expected,
		Width:       a.cfg.Progress.Width,
		Throttle:    100 * time.Millisecond,
		Writer:      o.barWriter,
	})
	sinkList = append(sinkList, a.bar)

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Pool returns the worker pool.
func (a *App) Pool() *dispatcher.Pool { return a.pool }

// Sessions returns the statistic session manager.
func (a *App) Sessions() *stats.Manager { return a.sessions }

// Gate returns the execution gate homed on the build context.
func (a *App) Gate() *proc.Gate { return a.gate }

// Limiter returns the consumption rate limiter built from configuration.
func (a *App) Limiter() *ratelimit.Limiter { return a.limiter }

// Blobs returns the output object store.
func (a *App) Blobs() storage.BlobStore { return a.blobs }

// Runs returns the run progress repository.
func (a *App) Runs() store.ProgressRepository { return a.runs }

// Publisher returns the notification publisher.
func (a *App) Publisher() publisher.Publisher { return a.publisher }

// Metrics returns the Prometheus collectors.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// NewRunID allocates a time-ordered run identifier.
func (a *App) NewRunID() (uuid.UUID, error) { return a.ids.NewRunID() }

func (a *App) ready(ctx context.Context) error {
	if a.pgStore == nil {
		return nil
	}
	_, err := a.pgStore.GetRun(ctx, uuid.Nil)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("progress store: %w", err)
	}
	return nil
}

// Track records a run in the progress repository around consume and
// publishes a RunCompleted message on the run topic. consume receives the
// run id it must pass to the pool.
func (a *App) Track(
	ctx context.Context,
	runID uuid.UUID,
	shards int,
	consume func(ctx context.Context, runID uuid.UUID) (dispatcher.Result, error),
) (dispatcher.Result, error) {
	workers := min(a.pool.Config().NumProc, shards)
	if err := a.runs.StartRun(ctx, runID, a.clock.Now(), shards, workers); err != nil {
		return dispatcher.Result{}, fmt.Errorf("start run: %w", err)
	}

	res, runErr := consume(ctx, runID)

	finished := a.clock.Now()
	status := store.RunSuccess
	var errMsg *string
	msg := RunCompleted{
		RunID:      runID,
		Items:      res.Items,
		Shards:     shards,
		Workers:    res.Workers,
		Elapsed:    res.Elapsed,
		Throughput: res.Throughput,
		FinishedAt: finished,
	}
	if runErr != nil {
		status = store.RunError
		text := runErr.Error()
		errMsg = &text
		msg.Error = text
	}
	msg.Status = status

	// The run may have been cancelled; bookkeeping still has to land.
	bg := context.WithoutCancel(ctx)
	if err := a.runs.CompleteRun(bg, runID, finished, status, res.Items, errMsg); err != nil {
		a.logger.Warn("complete run failed", zap.Error(err))
	}
	if topic := a.cfg.PubSub.TopicName; topic != "" {
		if _, err := a.publisher.Publish(bg, topic, msg); err != nil {
			a.logger.Warn("publish run completion failed", zap.Error(err))
		}
	}
	return res, runErr
}

// Serve runs the HTTP API until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// Close flushes progress and releases every client. It is safe to call on a
// partially built App.
func (a *App) Close(ctx context.Context) {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		if dropped := a.hub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events dropped", zap.Int64("dropped", dropped))
		}
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			a.logger.Warn("statistic sessions close failed", zap.Error(err))
		}
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
