// Package pipeline orchestrates report runs: extract, parse, embed, cluster,
// summarize, assemble and deliver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bireport/internal/clustering"
	"bireport/internal/core"
	"bireport/internal/embedcache"
	"bireport/internal/logger"
	"bireport/internal/metrics"
	"bireport/internal/retry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options holds per-run settings
type Options struct {
	MaxTopics    int
	MinTopicSize int
	Strategy     clustering.Strategy

	// Processing settings
	Workers       int
	CallTimeout   time.Duration // Bound for each parse call
	SourceTimeout time.Duration // Bound for listing one source
	Retry         retry.Policy  // Applied to source listing

	// Output settings
	Deliver bool
}

// DefaultOptions returns sensible default options
func DefaultOptions() Options {
	return Options{
		MaxTopics:     10,
		MinTopicSize:  3,
		Strategy:      clustering.StrategyKMeans,
		Workers:       4,
		CallTimeout:   90 * time.Second,
		SourceTimeout: 10 * time.Minute,
		Retry:         retry.DefaultPolicy(),
		Deliver:       true,
	}
}

// Components are the collaborators an Orchestrator drives.
type Components struct {
	Extractors []core.Extractor
	Parser     core.Parser
	Cache      EmbeddingCache
	Clusterer  TopicClusterer
	Summarizer TopicSummarizer
	Deliverer  Deliverer // Optional
	Metrics    *metrics.Metrics
	Title      string
}

// Orchestrator runs the pipeline. At most one run is in flight at a time.
type Orchestrator struct {
	extractors map[string]core.Extractor
	parser     core.Parser
	cache      EmbeddingCache
	clusterer  TopicClusterer
	summarizer TopicSummarizer
	deliverer  Deliverer
	metrics    *metrics.Metrics
	title      string
	log        zerolog.Logger

	mu     sync.RWMutex
	state  RunState
	last   *core.PipelineResult
	done   chan struct{}
	cancel atomic.Bool
}

// NewOrchestrator creates an idle Orchestrator.
func NewOrchestrator(c Components) *Orchestrator {
	extractors := make(map[string]core.Extractor, len(c.Extractors))
	for _, ex := range c.Extractors {
		extractors[ex.Name()] = ex
	}
	done := make(chan struct{})
	close(done)
	return &Orchestrator{
		extractors: extractors,
		parser:     c.Parser,
		cache:      c.Cache,
		clusterer:  c.Clusterer,
		summarizer: c.Summarizer,
		deliverer:  c.Deliverer,
		metrics:    c.Metrics,
		title:      c.Title,
		log:        logger.Component("pipeline"),
		state:      RunState{Phase: PhaseIdle},
		done:       done,
	}
}

// Extractors lists the registered extractor names.
func (o *Orchestrator) Extractors() []string {
	names := make([]string, 0, len(o.extractors))
	for name := range o.extractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches a run in the background and returns its ID. The run does not
// inherit ctx cancellation; use Cancel to stop it.
func (o *Orchestrator) Start(ctx context.Context, sel core.SourceSelector, opts Options) (string, error) {
	runID, err := o.begin()
	if err != nil {
		return "", err
	}
	go func() {
		_, _ = o.execute(context.WithoutCancel(ctx), runID, sel, opts)
	}()
	return runID, nil
}

// Run executes a run synchronously. Cancelling ctx acts like Cancel: calls in
// flight finish and the run stops at the next stage boundary.
func (o *Orchestrator) Run(ctx context.Context, sel core.SourceSelector, opts Options) (*core.PipelineResult, error) {
	runID, err := o.begin()
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { o.cancelRun(runID) })
	defer stop()
	return o.execute(context.WithoutCancel(ctx), runID, sel, opts)
}

// Wait blocks until the current run, if any, has finished.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.RLock()
	done := o.done
	o.mu.RUnlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel asks the running run to stop at its next stage boundary. It reports
// whether a run was in flight.
func (o *Orchestrator) Cancel() bool {
	return o.cancelRun("")
}

// cancelRun flags the run in flight, but only if it is runID when runID is
// set. The flag is written under the lock begin uses to clear it, so a request
// aimed at a finished run never reaches the next one.
func (o *Orchestrator) cancelRun(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Phase != PhaseRunning || (runID != "" && o.state.RunID != runID) {
		return false
	}
	o.cancel.Store(true)
	o.log.Info().Str("run_id", o.state.RunID).Msg("cancellation requested")
	return true
}

// Reset moves a completed or failed orchestrator back to idle.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Phase == PhaseRunning {
		return core.ErrAlreadyRunning
	}
	o.state = RunState{Phase: PhaseIdle}
	return nil
}

// Status returns a snapshot of the run state.
func (o *Orchestrator) Status() StatusSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.snapshot(o.last != nil)
}

// LastResult returns the most recent completed result, or nil. The result
// must not be modified.
func (o *Orchestrator) LastResult() *core.PipelineResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// ClearCache drops every cached embedding.
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	if err := o.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear embedding cache: %w", err)
	}
	o.log.Info().Msg("embedding cache cleared")
	return nil
}

// CacheStats returns embedding cache statistics.
func (o *Orchestrator) CacheStats() core.CacheStats {
	return o.cache.Stats()
}

func (o *Orchestrator) begin() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Phase == PhaseRunning {
		return "", core.ErrAlreadyRunning
	}

	now := time.Now()
	runID := uuid.NewString()
	o.state = RunState{
		Phase:     PhaseRunning,
		RunID:     runID,
		StartedAt: now,
		Stats:     core.ProcessingStats{StartTime: now},
	}
	o.done = make(chan struct{})
	o.cancel.Store(false)
	o.metrics.RunStarted()
	o.log.Info().Str("run_id", runID).Msg("run started")
	return runID, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID string, sel core.SourceSelector, opts Options) (res *core.PipelineResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: panic: %v", core.ErrDataIntegrity, r)
		}
		o.finish(runID, res, err)
	}()
	return o.runStages(ctx, sel, normalize(opts))
}

func (o *Orchestrator) finish(runID string, res *core.PipelineResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	o.state.FinishedAt = now
	o.state.Stats.EndTime = now
	o.state.Stats.ProcessingTime = now.Sub(o.state.StartedAt)

	outcome := "completed"
	if err != nil {
		o.state.Phase = PhaseFailed
		o.state.Err = err
		var se *core.StageError
		if errors.As(err, &se) {
			o.state.ErrStage = se.Stage
		}
		outcome = "failed"
		if errors.Is(err, core.ErrCancelled) {
			outcome = "cancelled"
		}
		o.log.Error().Err(err).
			Str("run_id", runID).
			Str("stage", o.state.ErrStage).
			Str("kind", core.Kind(err)).
			Msg("run failed")
	} else {
		o.state.Phase = PhaseCompleted
		o.state.Stage = ""
		res.Stats = o.state.Stats
		o.last = res
		o.log.Info().
			Str("run_id", runID).
			Int("documents", res.DocumentCount).
			Int("topics", len(res.Topics)).
			Dur("elapsed", o.state.Stats.ProcessingTime).
			Msg("run completed")
	}
	o.metrics.RunFinished(outcome)
	close(o.done)
}

func normalize(opts Options) Options {
	def := DefaultOptions()
	if opts.MaxTopics < 1 {
		opts.MaxTopics = def.MaxTopics
	}
	if opts.MinTopicSize < 1 {
		opts.MinTopicSize = def.MinTopicSize
	}
	if opts.Workers < 1 {
		opts.Workers = def.Workers
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = def.SourceTimeout
	}
	if opts.Strategy == "" {
		opts.Strategy = def.Strategy
	}
	return opts
}

func (o *Orchestrator) update(fn func(rs *RunState)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.state)
}

// stage runs fn after the cancellation checkpoint and records timing.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func() error) error {
	if o.cancel.Load() {
		return &core.StageError{Stage: name, Err: core.ErrCancelled}
	}
	if err := ctx.Err(); err != nil {
		return &core.StageError{Stage: name, Err: fmt.Errorf("%w: %w", core.ErrCancelled, err)}
	}

	o.update(func(rs *RunState) { rs.Stage = name })
	o.log.Info().Str("stage", name).Msg("stage started")
	start := time.Now()

	err := fn()
	elapsed := time.Since(start)
	o.metrics.ObserveStage(name, elapsed)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, core.ErrCancelled) {
			err = fmt.Errorf("%w: %w", core.ErrCancelled, err)
		}
		return &core.StageError{Stage: name, Err: err}
	}
	o.log.Info().Str("stage", name).Dur("elapsed", elapsed).Msg("stage finished")
	return nil
}

func (o *Orchestrator) runStages(ctx context.Context, sel core.SourceSelector, opts Options) (*core.PipelineResult, error) {
	var (
		raws     []core.RawDocument
		docs     []core.Document
		embedded []core.Document
		failed   []string
		grouping clustering.Result
		topics   []core.Topic
		exec     string
		result   *core.PipelineResult
	)

	err := o.stage(ctx, StageExtract, func() (err error) {
		raws, err = o.extract(ctx, sel, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = o.stage(ctx, StageParse, func() (err error) {
		docs, err = o.parse(ctx, raws, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = o.stage(ctx, StageEmbed, func() (err error) {
		embedded, failed, err = o.embed(ctx, docs, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = o.stage(ctx, StageCluster, func() (err error) {
		grouping, err = o.clusterer.Cluster(ctx, embedded, clustering.Options{
			MaxTopics:    opts.MaxTopics,
			MinTopicSize: opts.MinTopicSize,
			Strategy:     opts.Strategy,
		})
		if err == nil {
			o.update(func(rs *RunState) { rs.Stats.TopicsIdentified = len(grouping.Topics) })
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	err = o.stage(ctx, StageSummarize, func() (err error) {
		topics, exec, err = o.summarize(ctx, grouping.Topics, embedded, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = o.stage(ctx, StageAssemble, func() error {
		o.mu.RLock()
		state := o.state
		o.mu.RUnlock()

		if failed == nil {
			failed = []string{}
		}
		unclustered := grouping.Unclustered
		if unclustered == nil {
			unclustered = []string{}
		}
		result = &core.PipelineResult{
			RunID:             state.RunID,
			Title:             o.title,
			StartedAt:         state.StartedAt,
			FinishedAt:        time.Now(),
			Topics:            topics,
			ExecutiveSummary:  exec,
			DocumentCount:     len(docs),
			FailedDocumentIDs: failed,
			UnclusteredIDs:    unclustered,
			Documents:         docs,
			Stats:             state.Stats,
		}
		return result.CheckMembership()
	})
	if err != nil {
		return nil, err
	}

	if o.deliverer != nil && opts.Deliver {
		err = o.stage(ctx, StageDeliver, func() error {
			result.Delivery = o.deliverer.Deliver(ctx, result)
			o.update(func(rs *RunState) { rs.Delivery = result.Delivery })
			if !result.Delivery.Successful {
				o.log.Warn().
					Str("render_error", result.Delivery.RenderErr).
					Str("upload_error", result.Delivery.UploadErr).
					Msg("report delivery incomplete")
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (o *Orchestrator) extract(ctx context.Context, sel core.SourceSelector, opts Options) ([]core.RawDocument, error) {
	var raws []core.RawDocument
	var errs []error
	listed := 0

	for _, src := range sel.Sources {
		ex, ok := o.extractors[src.Extractor]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: unknown extractor %q", core.ErrSourceUnavailable, src.Extractor))
			continue
		}

		wrapped := NewRetryingExtractor(ex, opts.Retry, opts.SourceTimeout, o.metrics, o.log)
		docs, err := wrapped.ListDocuments(ctx, src.Ref)
		if err != nil {
			o.log.Warn().Err(err).Str("extractor", src.Extractor).Str("ref", src.Ref).Msg("source unavailable")
			errs = append(errs, fmt.Errorf("%s %q: %w", src.Extractor, src.Ref, err))
			continue
		}

		listed++
		o.log.Info().Str("extractor", src.Extractor).Int("documents", len(docs)).Msg("source listed")
		raws = append(raws, docs...)
	}

	o.update(func(rs *RunState) { rs.Stats.SourcesListed = listed })

	if len(raws) == 0 {
		if len(errs) > 0 {
			return nil, fmt.Errorf("%w: %w", core.ErrNoDocuments, errors.Join(errs...))
		}
		return nil, fmt.Errorf("%w: sources returned nothing", core.ErrNoDocuments)
	}
	return raws, nil
}

// parse converts raw documents on a worker pool. Failures are dropped before
// IDs are assigned, so IDs stay dense in extraction order.
func (o *Orchestrator) parse(ctx context.Context, raws []core.RawDocument, opts Options) ([]core.Document, error) {
	parsed := make([]*core.ParsedDocument, len(raws))

	parser := NewTimedParser(o.parser, opts.CallTimeout)

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for i, raw := range raws {
		g.Go(func() error {
			pd, err := parser.Parse(ctx, raw)
			if err == nil && strings.TrimSpace(pd.Text) == "" {
				err = fmt.Errorf("%w: no text extracted", core.ErrParse)
			}
			if err == nil {
				if pd.SourceType == "" {
					pd.SourceType = raw.SourceType
				}
				err = pd.SourceType.Validate()
			}
			if err != nil {
				o.log.Warn().Err(err).Str("uri", raw.URI).Str("kind", core.Kind(err)).Msg("document skipped")
				return nil
			}
			if pd.OriginURI == "" {
				pd.OriginURI = raw.URI
			}
			if pd.Title == "" {
				pd.Title = raw.Name
			}
			parsed[i] = &pd
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now()
	docs := make([]core.Document, 0, len(raws))
	for _, pd := range parsed {
		if pd == nil {
			continue
		}
		ordinal := len(docs)
		docs = append(docs, core.Document{
			ID:      core.DocumentID(ordinal),
			Ordinal: ordinal,
			Text:    pd.Text,
			Metadata: core.Metadata{
				SourceType:  pd.SourceType,
				OriginURI:   pd.OriginURI,
				Title:       pd.Title,
				RetrievedAt: now,
			},
		})
	}

	failures := len(raws) - len(docs)
	o.metrics.Documents("parsed", len(docs))
	o.metrics.Documents("parse_failed", failures)
	o.update(func(rs *RunState) {
		rs.Stats.DocumentsParsed = len(docs)
		rs.Stats.ParseFailures = failures
	})

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: all %d documents failed to parse", core.ErrNoDocuments, len(raws))
	}
	return docs, nil
}

// embed resolves a vector for every document. It returns the embedded
// documents in ordinal order and the IDs that failed.
func (o *Orchestrator) embed(ctx context.Context, docs []core.Document, opts Options) ([]core.Document, []string, error) {
	results := make([]embedcache.Embedding, len(docs))
	errs := make([]error, len(docs))

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for i, d := range docs {
		g.Go(func() error {
			results[i], errs[i] = o.cache.Resolve(ctx, d.Text)
			return nil
		})
	}
	_ = g.Wait()

	var embedded []core.Document
	var failed []string
	var firstErr error
	cached, created := 0, 0
	for i := range docs {
		if errs[i] != nil {
			failed = append(failed, docs[i].ID)
			if firstErr == nil {
				firstErr = &core.DocumentError{DocumentID: docs[i].ID, Err: errs[i]}
			}
			o.log.Warn().Err(errs[i]).Str("document", docs[i].ID).Msg("embedding failed")
			continue
		}
		docs[i].Embedding = results[i].Vector
		embedded = append(embedded, docs[i])
		if results[i].Cached {
			cached++
		} else {
			created++
		}
	}

	o.metrics.Documents("embedded", len(embedded))
	o.metrics.Documents("embed_failed", len(failed))
	o.update(func(rs *RunState) {
		rs.Stats.EmbeddingsCached = cached
		rs.Stats.EmbeddingsCreated = created
		rs.Stats.EmbeddingFailures = len(failed)
	})

	if len(embedded) == 0 {
		return nil, failed, fmt.Errorf("%w: every document failed embedding: %w", core.ErrNoDocuments, firstErr)
	}
	return embedded, failed, nil
}

// summarize fills in topic summaries on a worker pool, then writes the
// executive summary. Any topic failure fails the stage.
func (o *Orchestrator) summarize(ctx context.Context, topics []core.Topic, docs []core.Document, opts Options) ([]core.Topic, string, error) {
	byID := make(map[string]core.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	out := make([]core.Topic, len(topics))
	copy(out, topics)

	var failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range out {
		g.Go(func() error {
			summary, err := o.summarizer.SummarizeTopic(gctx, out[i], byID)
			if err != nil {
				failures.Add(1)
				return err
			}
			out[i].Summary = summary
			return nil
		})
	}
	err := g.Wait()
	o.update(func(rs *RunState) { rs.Stats.SummaryFailures = int(failures.Load()) })
	if err != nil {
		return nil, "", err
	}

	exec, err := o.summarizer.SummarizeExecutive(ctx, out)
	if err != nil {
		return nil, "", err
	}
	return out, exec, nil
}
