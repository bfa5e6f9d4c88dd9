// Package server builds the control plane's dependencies from configuration
// and runs the HTTP server until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-control-plane/internal/api"
	"github.com/JakeFAU/crawl-control-plane/internal/clock/system"
	"github.com/JakeFAU/crawl-control-plane/internal/config"
	"github.com/JakeFAU/crawl-control-plane/internal/crawl"
	"github.com/JakeFAU/crawl-control-plane/internal/events"
	eventsinks "github.com/JakeFAU/crawl-control-plane/internal/events/sinks"
	"github.com/JakeFAU/crawl-control-plane/internal/guard"
	memorypublisher "github.com/JakeFAU/crawl-control-plane/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/crawl-control-plane/internal/publisher/pubsub"
	"github.com/JakeFAU/crawl-control-plane/internal/results"
	"github.com/JakeFAU/crawl-control-plane/internal/search"
	collysearch "github.com/JakeFAU/crawl-control-plane/internal/search/colly"
	"github.com/JakeFAU/crawl-control-plane/internal/storage/elastic"
	gcsstorage "github.com/JakeFAU/crawl-control-plane/internal/storage/gcs"
	memorystorage "github.com/JakeFAU/crawl-control-plane/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-control-plane/internal/storage/postgres"
	"github.com/JakeFAU/crawl-control-plane/internal/terminator"
	"github.com/JakeFAU/crawl-control-plane/internal/translate"
	"github.com/JakeFAU/crawl-control-plane/internal/translate/libre"
)

// StaticDefaultKey is the search.static entry returned for unmatched queries.
const StaticDefaultKey = "default"

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	apiServer  *api.Server
	crawls     *crawl.Service
	hub        *events.Hub
	terminator *terminator.Terminator
	publisher  *gcppublisher.Publisher
	archive    *gcsstorage.BlobStore
	eventStore *pgstore.EventStore
	redis      *redis.Client
	translator *translate.Cached

	// registerer receives the lifecycle event collectors.
	registerer prometheus.Registerer
}

// Option customizes Build.
type Option func(*App)

// WithRegisterer registers lifecycle metrics somewhere other than the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

type stores struct {
	crawls  crawl.Store
	results results.Store
	getter  results.CrawlGetter
	pinger  api.Pinger
}

// Build creates the application's dependencies. Anything it opened is
// released again when it fails.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	built := false
	defer func() {
		if !built {
			app.closeInfrastructure(context.Background())
		}
	}()
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Bool("elastic", cfg.Elastic.Enabled),
		zap.String("search_provider", cfg.Search.Provider),
		zap.String("translate_provider", cfg.Translate.Provider),
	)

	st, err := app.setupStores(ctx)
	if err != nil {
		return nil, err
	}
	provider, err := app.setupSearch()
	if err != nil {
		return nil, err
	}
	translator, err := app.setupTranslator(ctx)
	if err != nil {
		return nil, err
	}
	archive, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	if err := app.setupEvents(ctx); err != nil {
		return nil, err
	}

	clock := system.New()
	app.crawls = crawl.NewService(
		st.crawls,
		provider,
		translator,
		clock,
		app.hub,
		archive,
		crawl.ServiceConfig{
			SourceLanguage: cfg.Translate.SourceLanguage,
			ArchivePrefix:  cfg.Storage.Prefix,
		},
		logger.Named("crawl"),
	)
	resultService := results.NewService(st.results, st.getter)

	if cfg.Terminator.Enabled {
		app.terminator = terminator.New(app.crawls, resultService, clock, logger.Named("terminator"))
	}

	app.apiServer = api.NewServer(app.crawls, resultService, st.pinger, api.Options{
		CORSOrigins:        cfg.Server.CORSOrigins,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		RequestTimeout:     config.Seconds(cfg.Server.WriteTimeoutSeconds),
		Languages:          cfg.Capabilities.Languages,
		Countries:          cfg.Capabilities.Countries,
	}, logger.Named("api"))
	built = true
	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and the terminator until ctx is canceled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if a.terminator != nil {
		if err := a.terminator.Start(a.cfg.Terminator.Schedule); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       config.Seconds(a.cfg.Server.ReadTimeoutSeconds),
	}
	if a.cfg.Server.WriteTimeoutSeconds > 0 {
		srv.WriteTimeout = config.Seconds(a.cfg.Server.WriteTimeoutSeconds) + 5*time.Second
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := config.Seconds(a.cfg.Server.ShutdownTimeoutSeconds)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return err
	default:
		return closeErr
	}
}

// Close stops background work and releases clients.
func (a *App) Close(ctx context.Context) error {
	if a.terminator != nil {
		a.terminator.Stop(ctx)
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.eventStore != nil {
		a.eventStore.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.translator != nil {
		a.translator.Close()
	}
}

func (a *App) setupStores(ctx context.Context) (stores, error) {
	if !a.cfg.Elastic.Enabled {
		a.logger.Warn("elasticsearch disabled, using in-memory stores")
		crawlStore := memorystorage.NewCrawlStore()
		return stores{
			crawls:  crawlStore,
			results: memorystorage.NewResultStore(),
			getter:  crawlStore,
			pinger:  crawlStore,
		}, nil
	}
	es, err := elastic.New(elastic.Config{
		Addresses:     a.cfg.Elastic.Addresses,
		Username:      a.cfg.Elastic.Username,
		Password:      a.cfg.Elastic.Password,
		APIKey:        a.cfg.Elastic.APIKey,
		RegistryIndex: a.cfg.Elastic.RegistryIndex,
		ResultsIndex:  a.cfg.Elastic.ResultsIndex,
	}, a.logger.Named("elastic"))
	if err != nil {
		return stores{}, fmt.Errorf("elasticsearch init failed: %w", err)
	}
	if a.cfg.Elastic.EnsureResultsIndex {
		if err := es.EnsureResultsIndex(ctx); err != nil {
			return stores{}, fmt.Errorf("ensure results index: %w", err)
		}
	}
	a.logger.Info("using elasticsearch stores",
		zap.Strings("addresses", a.cfg.Elastic.Addresses),
		zap.String("registry_index", a.cfg.Elastic.RegistryIndex),
		zap.String("results_index", a.cfg.Elastic.ResultsIndex),
	)
	return stores{crawls: es, results: es, getter: es, pinger: es}, nil
}

func guardConfig(name string, g config.GuardConfig) guard.Config {
	return guard.Config{
		Name:              name,
		RequestsPerSecond: g.RequestsPerSecond,
		Burst:             g.Burst,
		MinRequests:       g.MinRequests,
		FailureRatio:      g.FailureRatio,
		OpenTimeout:       config.Seconds(g.OpenTimeoutSeconds),
	}
}

func (a *App) setupSearch() (crawl.SearchProvider, error) {
	var provider crawl.SearchProvider
	switch a.cfg.Search.Provider {
	case "colly":
		p, err := collysearch.New(collysearch.Config{
			Endpoint:      a.cfg.Search.Endpoint,
			LinkSelector:  a.cfg.Search.LinkSelector,
			RedirectParam: a.cfg.Search.RedirectParam,
			UserAgent:     a.cfg.Search.UserAgent,
			Timeout:       config.Seconds(a.cfg.Search.TimeoutSeconds),
		})
		if err != nil {
			return nil, fmt.Errorf("search provider init failed: %w", err)
		}
		a.logger.Info("using colly search provider", zap.String("endpoint", a.cfg.Search.Endpoint))
		provider = p
	default:
		entries := make(map[string][]string, len(a.cfg.Search.Static))
		for k, v := range a.cfg.Search.Static {
			entries[k] = v
		}
		fallback := entries[StaticDefaultKey]
		delete(entries, StaticDefaultKey)
		static := search.NewStatic(entries)
		static.Default = fallback
		a.logger.Info("using static search provider", zap.Int("queries", len(entries)))
		provider = static
	}
	g := guard.New(guardConfig("search", a.cfg.Search.Guard), a.logger.Named("search_guard"))
	return search.NewGuarded(provider, g), nil
}

func (a *App) setupTranslator(ctx context.Context) (crawl.Translator, error) {
	var next crawl.Translator = translate.Identity{}
	if a.cfg.Translate.Provider == "libre" {
		g := guard.New(guardConfig("translate", a.cfg.Translate.Guard), a.logger.Named("translate_guard"))
		client, err := libre.New(libre.Config{
			URL:     a.cfg.Translate.URL,
			APIKey:  a.cfg.Translate.APIKey,
			Timeout: config.Seconds(a.cfg.Translate.TimeoutSeconds),
		}, g)
		if err != nil {
			return nil, fmt.Errorf("translator init failed: %w", err)
		}
		a.logger.Info("using libretranslate", zap.String("url", a.cfg.Translate.URL))
		next = client
	}

	var rdb redis.Cmdable
	if a.cfg.Redis.Addr != "" {
		client, err := translate.NewRedisClient(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		a.redis = client
		rdb = client
		a.logger.Info("translation cache backed by redis")
	}
	a.translator = translate.NewCached(next, rdb, translate.CacheConfig{
		TTL: time.Duration(a.cfg.Translate.CacheTTLHours) * time.Hour,
	}, a.logger.Named("translate_cache"))
	return a.translator, nil
}

func (a *App) setupArchive(ctx context.Context) (crawl.BlobStore, error) {
	if a.cfg.Storage.GCSBucket == "" {
		a.logger.Info("using in-memory crawl archive")
		return memorystorage.NewBlobStore(), nil
	}
	store, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket}, a.logger.Named("gcs"))
	if err != nil {
		return nil, fmt.Errorf("gcs archive init failed: %w", err)
	}
	a.archive = store
	a.logger.Info("archiving crawls to gcs", zap.String("bucket", a.cfg.Storage.GCSBucket))
	return store, nil
}

func (a *App) setupEvents(ctx context.Context) error {
	sinkList := []events.Sink{eventsinks.NewLogSink(a.logger.Named("events_log"))}

	promSink, err := eventsinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return fmt.Errorf("event metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if a.cfg.Database.DSN != "" {
		a.eventStore, err = pgstore.NewEventStore(ctx, pgstore.EventStoreConfig{
			DSN:             a.cfg.Database.DSN,
			Table:           a.cfg.Database.Table,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.Database.MaxConnLifetime) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("event store init failed: %w", err)
		}
		if a.cfg.Database.Migrate {
			if err := a.eventStore.Migrate(ctx); err != nil {
				return fmt.Errorf("event store migration failed: %w", err)
			}
		}
		sinkList = append(sinkList, eventsinks.NewStoreSink(a.eventStore, a.logger.Named("events_store")))
		a.logger.Info("lifecycle audit enabled", zap.String("table", a.cfg.Database.Table))
	} else {
		a.logger.Warn("no DSN specified for database, skipping lifecycle audit")
	}

	stages := make([]events.Stage, 0, len(a.cfg.PubSub.Stages))
	for _, s := range a.cfg.PubSub.Stages {
		stages = append(stages, events.Stage(s))
	}
	if a.cfg.PubSub.ProjectID != "" {
		a.publisher, err = gcppublisher.NewFromProject(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		sinkList = append(sinkList, eventsinks.NewPublishSink(a.publisher, a.cfg.PubSub.TopicName, stages...))
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	} else {
		a.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		sinkList = append(sinkList, eventsinks.NewPublishSink(memorypublisher.New(), a.cfg.PubSub.TopicName, stages...))
	}

	hubCfg := events.Config{
		BufferSize:     a.cfg.Events.BufferSize,
		MaxBatchEvents: a.cfg.Events.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Events.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Events.SinkTimeoutMs) * time.Millisecond,
		Logger:         a.logger.Named("events_hub"),
	}
	a.hub = events.NewHub(hubCfg, sinkList...)
	a.logger.Info("event hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}
