package pipeline

import (
	"context"
	"time"

	"bireport/internal/core"
	"bireport/internal/metrics"
	"bireport/internal/retry"

	"github.com/rs/zerolog"
)

// RetryingExtractor wraps an Extractor so each listing runs under a timeout
// and transient failures are retried.
type RetryingExtractor struct {
	inner   core.Extractor
	policy  retry.Policy
	timeout time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewRetryingExtractor creates the adapter. A zero timeout leaves calls
// unbounded.
func NewRetryingExtractor(inner core.Extractor, policy retry.Policy, timeout time.Duration, m *metrics.Metrics, log zerolog.Logger) *RetryingExtractor {
	return &RetryingExtractor{
		inner:   inner,
		policy:  policy,
		timeout: timeout,
		metrics: m,
		log:     log,
	}
}

func (r *RetryingExtractor) Name() string { return r.inner.Name() }

func (r *RetryingExtractor) ListDocuments(ctx context.Context, ref string) ([]core.RawDocument, error) {
	policy := r.policy
	policy.OnRetry = func(attempt int, err error) {
		r.metrics.Retry("extract")
		r.log.Warn().Err(err).
			Str("extractor", r.inner.Name()).
			Str("ref", ref).
			Int("attempt", attempt).
			Msg("retrying source listing")
	}

	docs, err := retry.DoValue(ctx, policy, core.IsTransient, func(ctx context.Context) ([]core.RawDocument, error) {
		callCtx, cancel := r.callContext(ctx)
		defer cancel()
		return r.inner.ListDocuments(callCtx, ref)
	})
	r.metrics.ServiceCall("extract_"+r.inner.Name(), err)
	return docs, err
}

func (r *RetryingExtractor) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// TimedParser bounds every Parse call with a timeout.
type TimedParser struct {
	inner   core.Parser
	timeout time.Duration
}

func NewTimedParser(inner core.Parser, timeout time.Duration) *TimedParser {
	return &TimedParser{inner: inner, timeout: timeout}
}

func (p *TimedParser) Parse(ctx context.Context, raw core.RawDocument) (core.ParsedDocument, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.inner.Parse(ctx, raw)
}
