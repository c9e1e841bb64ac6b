package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bireport/internal/clustering"
	"bireport/internal/config"
	"bireport/internal/core"
	"bireport/internal/delivery"
	"bireport/internal/embedcache"
	"bireport/internal/llm"
	"bireport/internal/logger"
	"bireport/internal/metrics"
	"bireport/internal/parser"
	"bireport/internal/render"
	"bireport/internal/retry"
	"bireport/internal/sources"
	"bireport/internal/store"
	"bireport/internal/summarize"

	"google.golang.org/api/option"
)

// App is a wired orchestrator together with the resources it owns.
type App struct {
	Orchestrator *Orchestrator
	Sources      *sources.Manager
	Delivery     *delivery.Service // nil when delivery is disabled
	Store        *store.Store
	Cache        *embedcache.Cache
	Metrics      *metrics.Metrics
	Options      Options
	Config       *config.Config
}

// DefaultSelector returns the configured sources.
func (a *App) DefaultSelector() core.SourceSelector {
	return sources.DefaultSelector(a.Config.Sources)
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// Builder helps construct a fully configured App
type Builder struct {
	cfg           *config.Config
	embedder      core.Embedder
	generator     core.Generator
	metrics       *metrics.Metrics
	googleOptions []option.ClientOption
	skipDelivery  bool
}

// NewBuilder creates a builder for cfg
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg}
}

// WithEmbedder overrides the Gemini embedder
func (b *Builder) WithEmbedder(e core.Embedder) *Builder {
	b.embedder = e
	return b
}

// WithGenerator overrides the Gemini generator
func (b *Builder) WithGenerator(g core.Generator) *Builder {
	b.generator = g
	return b
}

// WithMetrics sets the metrics registry
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// WithGoogleOptions passes extra client options to the Drive and Docs clients
func (b *Builder) WithGoogleOptions(opts ...option.ClientOption) *Builder {
	b.googleOptions = append(b.googleOptions, opts...)
	return b
}

// WithoutDelivery disables rendering and uploading
func (b *Builder) WithoutDelivery() *Builder {
	b.skipDelivery = true
	return b
}

// Build constructs the App
func (b *Builder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, errors.New("configuration is required")
	}
	cfg := b.cfg

	opts, err := OptionsFromConfig(cfg.Pipeline)
	if err != nil {
		return nil, err
	}

	if b.embedder == nil || b.generator == nil {
		client, err := llm.NewClient(ctx, llm.Config{
			APIKey:              cfg.AI.Gemini.APIKey,
			Model:               cfg.AI.Gemini.Model,
			EmbeddingModel:      cfg.AI.Gemini.EmbeddingModel,
			EmbeddingDimensions: cfg.AI.Gemini.EmbeddingDimensions,
			MaxTokens:           cfg.AI.Gemini.MaxTokens,
			Temperature:         cfg.AI.Gemini.Temperature,
			Timeout:             config.Duration(cfg.AI.Gemini.Timeout, 60*time.Second),
			RequestsPerSecond:   cfg.AI.Gemini.RequestsPerSecond,
			Burst:               cfg.AI.Gemini.Burst,
		}, b.metrics)
		if err != nil {
			return nil, err
		}
		if b.embedder == nil {
			b.embedder = client
		}
		if b.generator == nil {
			b.generator = client
		}
	}

	st, err := store.NewStore(cfg.Cache.Directory)
	if err != nil {
		return nil, err
	}
	app := &App{Store: st, Metrics: b.metrics, Options: opts, Config: cfg}

	if cfg.Cache.Persistent {
		expireEmbeddings(ctx, st, config.Duration(cfg.Cache.MaxAge, 0))
	}

	cacheOpts := embedcache.Options{
		Retry:       opts.Retry,
		CallTimeout: opts.CallTimeout,
		Metrics:     b.metrics,
	}
	if cfg.Cache.Persistent {
		cacheOpts.Store = st
	}
	app.Cache = embedcache.New(b.embedder, cacheOpts)

	summaryOpts := summarize.DefaultOptions()
	summaryOpts.InputTokenBudget = cfg.Pipeline.InputTokenBudget
	summaryOpts.ReportTitle = cfg.Report.Title
	summaryOpts.AudienceProfile = cfg.Pipeline.AudienceProfile
	summaryOpts.Retry = opts.Retry
	summaryOpts.CallTimeout = opts.CallTimeout
	summarizer := summarize.New(b.generator, summarize.NewTokenCounter(""), summaryOpts, b.metrics)

	app.Sources, err = sources.FromConfig(ctx, cfg.Sources, sources.Options{
		Retry:         opts.Retry,
		GoogleOptions: b.googleOptions,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var deliverer Deliverer
	if !b.skipDelivery {
		app.Delivery, err = b.buildDelivery(ctx, st, opts)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		deliverer = app.Delivery
	}
	opts.Deliver = !b.skipDelivery
	app.Options = opts

	app.Orchestrator = NewOrchestrator(Components{
		Extractors: app.Sources.Extractors(),
		Parser:     parser.NewParser(),
		Cache:      app.Cache,
		Clusterer: clustering.New().
			WithKMeansConfig(KMeansSettings(cfg.Pipeline.KMeans)).
			WithLouvainConfig(LouvainSettings(cfg.Pipeline.Louvain)),
		Summarizer: summarizer,
		Deliverer:  deliverer,
		Metrics:    b.metrics,
		Title:      cfg.Report.Title,
	})
	return app, nil
}

func (b *Builder) buildDelivery(ctx context.Context, st *store.Store, opts Options) (*delivery.Service, error) {
	html, err := render.NewHTMLRenderer()
	if err != nil {
		return nil, err
	}

	dopts := delivery.Options{
		Renderers: []core.Renderer{html, render.NewMarkdownRenderer()},
		Local:     delivery.NewLocalUploader(b.cfg.Report.OutputDir),
		Recorder:  st,
		Retry:     opts.Retry,
		Metrics:   b.metrics,
	}
	if folder := b.cfg.Report.DriveOutputFolderID; folder != "" {
		services, err := sources.NewGoogleServices(ctx, b.cfg.Sources.CredentialsFile, b.googleOptions...)
		if err != nil {
			return nil, err
		}
		dopts.Remote = delivery.NewDriveUploader(services.Drive, folder)
	}
	return delivery.New(dopts)
}

// expireEmbeddings drops persisted embeddings older than maxAge. A zero maxAge
// keeps everything. Failures are logged, the cache still works without it.
func expireEmbeddings(ctx context.Context, st *store.Store, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	log := logger.Component("pipeline")
	n, err := st.CleanupOldEmbeddings(ctx, maxAge)
	if err != nil {
		log.Warn().Err(err).Dur("max_age", maxAge).Msg("expiring cached embeddings failed")
		return
	}
	if n > 0 {
		log.Info().Int64("removed", n).Dur("max_age", maxAge).Msg("expired cached embeddings")
	}
}

// KMeansSettings applies the configured k-means values over the defaults.
func KMeansSettings(c config.KMeans) clustering.KMeansConfig {
	kc := clustering.DefaultKMeansConfig()
	if c.MaxIterations > 0 {
		kc.MaxIterations = c.MaxIterations
	}
	if c.MinSilhouette != 0 {
		kc.MinSilhouette = c.MinSilhouette
	}
	return kc
}

// LouvainSettings applies the configured Louvain values over the defaults.
func LouvainSettings(c config.Louvain) clustering.LouvainConfig {
	lc := clustering.DefaultLouvainConfig()
	if c.Resolution > 0 {
		lc.Resolution = c.Resolution
	}
	if c.MinSimilarity != 0 {
		lc.MinSimilarity = c.MinSimilarity
	}
	if c.MaxNeighbors > 0 {
		lc.MaxNeighbors = c.MaxNeighbors
	}
	return lc
}

// OptionsFromConfig converts the pipeline section into run options.
func OptionsFromConfig(p config.Pipeline) (Options, error) {
	opts := DefaultOptions()
	strategy, err := clustering.ParseStrategy(p.ClusteringStrategy)
	if err != nil {
		return Options{}, fmt.Errorf("pipeline options: %w", err)
	}
	opts.Strategy = strategy
	if p.MaxTopics > 0 {
		opts.MaxTopics = p.MaxTopics
	}
	if p.MinTopicSize > 0 {
		opts.MinTopicSize = p.MinTopicSize
	}
	if p.Workers > 0 {
		opts.Workers = p.Workers
	}
	opts.CallTimeout = config.Duration(p.CallTimeout, opts.CallTimeout)
	opts.Retry = RetryPolicy(p.Retry)
	return opts, nil
}

// RetryPolicy converts the retry section into a policy.
func RetryPolicy(r config.Retry) retry.Policy {
	p := retry.DefaultPolicy()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	p.BaseDelay = config.Duration(r.BaseDelay, p.BaseDelay)
	p.MaxDelay = config.Duration(r.MaxDelay, p.MaxDelay)
	return p
}
