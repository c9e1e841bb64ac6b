package embedcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bireport/internal/core"
	"bireport/internal/retry"
	"bireport/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockEmbedder counts calls and can fail the first N of them.
type MockEmbedder struct {
	calls     atomic.Int64
	failFirst int64
	failErr   error
	gate      chan struct{}
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	n := m.calls.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	if n <= m.failFirst {
		return nil, m.failErr
	}
	return []float64{float64(len(text)), 1, 0.5}, nil
}

func (m *MockEmbedder) Model() string { return "mock-embedding" }

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestFingerprintNormalization(t *testing.T) {
	assert.Equal(t, Fingerprint("Revenue  grew\n\t10%"), Fingerprint(" Revenue grew 10% "))
	// NFKC folds the ligature and full-width digits
	assert.Equal(t, Fingerprint("ﬁnance １"), Fingerprint("finance 1"))
	assert.NotEqual(t, Fingerprint("Revenue"), Fingerprint("revenue"))
	assert.Len(t, Fingerprint("x"), 64)
}

func TestDuplicateContentEmbedsOnce(t *testing.T) {
	emb := &MockEmbedder{}
	c := New(emb, Options{Retry: fastRetry()})
	ctx := context.Background()

	first, err := c.GetOrCompute(ctx, "Quarterly revenue rose sharply.")
	require.NoError(t, err)
	second, err := c.GetOrCompute(ctx, "Quarterly   revenue rose sharply.")
	require.NoError(t, err)
	third, err := c.GetOrCompute(ctx, "Quarterly revenue rose sharply.\n")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, third)
	assert.EqualValues(t, 1, emb.calls.Load())

	stats := c.Stats()
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestConcurrentCallersShareOneComputation(t *testing.T) {
	emb := &MockEmbedder{gate: make(chan struct{})}
	c := New(emb, Options{Retry: fastRetry()})

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]float64, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), "shared content")
		}(i)
	}

	// Let the single in-flight call finish once everyone is waiting on it
	require.Eventually(t, func() bool { return emb.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(emb.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.EqualValues(t, 1, emb.calls.Load())
}

func TestTransientFailuresAreRetried(t *testing.T) {
	emb := &MockEmbedder{failFirst: 2, failErr: core.NewServiceError("embed", 503, errors.New("overloaded"))}
	c := New(emb, Options{Retry: fastRetry()})

	vec, err := c.GetOrCompute(context.Background(), "doc")
	require.NoError(t, err)
	assert.NotEmpty(t, vec)
	assert.EqualValues(t, 3, emb.calls.Load())
}

func TestExhaustedRetriesReturnEmbeddingError(t *testing.T) {
	emb := &MockEmbedder{failFirst: 10, failErr: core.NewServiceError("embed", 429, errors.New("quota"))}
	c := New(emb, Options{Retry: fastRetry()})

	_, err := c.GetOrCompute(context.Background(), "doc")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmbedding)
	assert.ErrorIs(t, err, core.ErrService)
	assert.EqualValues(t, 3, emb.calls.Load())
	assert.Zero(t, c.Stats().Entries)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	emb := &MockEmbedder{failFirst: 10, failErr: core.NewServiceError("embed", 401, errors.New("bad key"))}
	c := New(emb, Options{Retry: fastRetry()})

	_, err := c.GetOrCompute(context.Background(), "doc")
	assert.ErrorIs(t, err, core.ErrEmbedding)
	assert.EqualValues(t, 1, emb.calls.Load())
}

func TestClearForcesRecomputation(t *testing.T) {
	emb := &MockEmbedder{}
	c := New(emb, Options{Retry: fastRetry()})
	ctx := context.Background()

	texts := []string{"alpha", "beta", "gamma"}
	for _, text := range texts {
		_, err := c.GetOrCompute(ctx, text)
		require.NoError(t, err)
	}
	require.NoError(t, c.Clear(ctx))
	assert.Zero(t, c.Stats().Entries)
	assert.False(t, c.Stats().LastCleared.IsZero())

	for _, text := range texts {
		_, err := c.GetOrCompute(ctx, text)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 6, emb.calls.Load())
}

func TestPersistentStoreSurvivesRestart(t *testing.T) {
	s, err := store.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	emb := &MockEmbedder{}
	first := New(emb, Options{Store: s, Retry: fastRetry()})
	want, err := first.GetOrCompute(ctx, "persisted text")
	require.NoError(t, err)

	// A fresh cache over the same store answers without calling the service
	second := New(emb, Options{Store: s, Retry: fastRetry()})
	got, err := second.GetOrCompute(ctx, "persisted text")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.EqualValues(t, 1, emb.calls.Load())
	assert.Equal(t, 1, second.Stats().Persisted)

	// Clearing wipes the persistent layer as well
	require.NoError(t, second.Clear(ctx))
	assert.Zero(t, second.Stats().Persisted)
	third := New(emb, Options{Store: s, Retry: fastRetry()})
	_, err = third.GetOrCompute(ctx, "persisted text")
	require.NoError(t, err)
	assert.EqualValues(t, 2, emb.calls.Load())
}

func TestReturnedVectorsAreCopies(t *testing.T) {
	c := New(&MockEmbedder{}, Options{Retry: fastRetry()})
	ctx := context.Background()

	v1, err := c.GetOrCompute(ctx, "abc")
	require.NoError(t, err)
	v1[0] = -100

	v2, err := c.GetOrCompute(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v2[0])
}

func TestMemoryOnlyCacheReportsNoPersistedEntries(t *testing.T) {
	c := New(&MockEmbedder{}, Options{Retry: fastRetry()})
	_, err := c.GetOrCompute(context.Background(), "abc")
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Zero(t, stats.Persisted)
}

// hangingEmbedder blocks until the call context ends for its first hangFirst
// calls.
type hangingEmbedder struct {
	calls     atomic.Int64
	hangFirst int64
}

func (h *hangingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if h.calls.Add(1) <= h.hangFirst {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []float64{1, 2}, nil
}

func (h *hangingEmbedder) Model() string { return "hanging-embedding" }

func TestCallPastTimeoutIsRetried(t *testing.T) {
	emb := &hangingEmbedder{hangFirst: 1}
	c := New(emb, Options{Retry: fastRetry(), CallTimeout: 20 * time.Millisecond})

	vec, err := c.GetOrCompute(context.Background(), "slow document")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, vec)
	assert.EqualValues(t, 2, emb.calls.Load())
}

func TestEveryCallPastTimeoutExhaustsRetries(t *testing.T) {
	emb := &hangingEmbedder{hangFirst: 10}
	c := New(emb, Options{Retry: fastRetry(), CallTimeout: 10 * time.Millisecond})

	_, err := c.GetOrCompute(context.Background(), "slow document")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmbedding)
	assert.EqualValues(t, 3, emb.calls.Load())
}
