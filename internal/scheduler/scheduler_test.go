package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"bireport/internal/core"
	"bireport/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrigger struct {
	mu      sync.Mutex
	calls   []core.SourceSelector
	running bool
}

func (f *fakeTrigger) Start(ctx context.Context, sel core.SourceSelector, opts pipeline.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return "", core.ErrAlreadyRunning
	}
	f.calls = append(f.calls, sel)
	return "run-1", nil
}

func (f *fakeTrigger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func selector() core.SourceSelector {
	return core.SourceSelector{Sources: []core.SourceRef{{Extractor: "drive", Ref: "folder-1"}}}
}

func TestNewValidatesCronExpression(t *testing.T) {
	_, err := New(&fakeTrigger{}, "every tuesday", selector, pipeline.DefaultOptions())
	assert.Error(t, err)

	_, err = New(nil, DefaultSpec, selector, pipeline.DefaultOptions())
	assert.Error(t, err)

	s, err := New(&fakeTrigger{}, "", selector, pipeline.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, DefaultSpec, s.spec)
	assert.True(t, s.Next().IsZero())
}

func TestRunNow(t *testing.T) {
	trigger := &fakeTrigger{}
	s, err := New(trigger, DefaultSpec, selector, pipeline.DefaultOptions())
	require.NoError(t, err)

	runID, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	assert.Equal(t, []core.SourceSelector{selector()}, trigger.calls)

	trigger.running = true
	_, err = s.RunNow(context.Background())
	assert.ErrorIs(t, err, core.ErrAlreadyRunning)
	assert.Equal(t, 1, trigger.count())
}

func TestRunNowWithoutSources(t *testing.T) {
	trigger := &fakeTrigger{}
	s, err := New(trigger, DefaultSpec, func() core.SourceSelector { return core.SourceSelector{} }, pipeline.DefaultOptions())
	require.NoError(t, err)

	_, err = s.RunNow(context.Background())
	assert.ErrorIs(t, err, core.ErrNoDocuments)
	assert.Zero(t, trigger.count())
}

func TestStartRunsOnStartup(t *testing.T) {
	trigger := &fakeTrigger{}
	s, err := New(trigger, DefaultSpec, selector, pipeline.DefaultOptions())
	require.NoError(t, err)

	s.Start(context.Background(), true)
	defer s.Stop()

	assert.Equal(t, 1, trigger.count())
	next := s.Next()
	assert.False(t, next.IsZero())
	assert.Equal(t, 1, next.Day())
	assert.True(t, next.After(time.Now()))
}

func TestScheduledTick(t *testing.T) {
	trigger := &fakeTrigger{}
	s, err := New(trigger, "@every 1s", selector, pipeline.DefaultOptions())
	require.NoError(t, err)

	s.Start(context.Background(), false)
	defer s.Stop()

	assert.Eventually(t, func() bool { return trigger.count() >= 1 }, 3*time.Second, 50*time.Millisecond)
}
