// Package scheduler triggers pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bireport/internal/core"
	"bireport/internal/logger"
	"bireport/internal/pipeline"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSpec runs at midnight on the first day of every month.
const DefaultSpec = "0 0 1 * *"

// Trigger starts a run in the background
type Trigger interface {
	Start(ctx context.Context, sel core.SourceSelector, opts pipeline.Options) (string, error)
}

// Scheduler starts runs on a standard five-field cron expression. A tick
// that finds a run in progress is skipped.
type Scheduler struct {
	cron     *cron.Cron
	spec     string
	trigger  Trigger
	selector func() core.SourceSelector
	opts     pipeline.Options
	log      zerolog.Logger
	entry    cron.EntryID
}

// New validates spec and creates a stopped scheduler.
func New(trigger Trigger, spec string, selector func() core.SourceSelector, opts pipeline.Options) (*Scheduler, error) {
	if trigger == nil || selector == nil {
		return nil, errors.New("scheduler: trigger and selector are required")
	}
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	log := logger.Component("scheduler")
	s := &Scheduler{
		cron:     cron.New(cron.WithLogger(cronLogger{log: log})),
		spec:     spec,
		trigger:  trigger,
		selector: selector,
		opts:     opts,
		log:      log,
	}

	id, err := s.cron.AddFunc(spec, func() { _, _ = s.RunNow(context.Background()) })
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins ticking. With runOnStartup a run is started immediately.
func (s *Scheduler) Start(ctx context.Context, runOnStartup bool) {
	s.cron.Start()
	s.log.Info().Str("cron", s.spec).Time("next", s.Next()).Msg("scheduler started")
	if runOnStartup {
		_, _ = s.RunNow(ctx)
	}
}

// Stop halts the schedule. The returned context is done once no job is
// executing.
func (s *Scheduler) Stop() context.Context {
	s.log.Info().Msg("scheduler stopped")
	return s.cron.Stop()
}

// Next returns the next scheduled time, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunNow starts a run with the configured sources.
func (s *Scheduler) RunNow(ctx context.Context) (string, error) {
	sel := s.selector()
	if len(sel.Sources) == 0 {
		s.log.Warn().Msg("scheduled run skipped, no sources configured")
		return "", fmt.Errorf("%w: no sources configured", core.ErrNoDocuments)
	}

	runID, err := s.trigger.Start(ctx, sel, s.opts)
	switch {
	case errors.Is(err, core.ErrAlreadyRunning):
		s.log.Info().Msg("scheduled run skipped, a run is already in progress")
		return "", err
	case err != nil:
		s.log.Error().Err(err).Msg("scheduled run failed to start")
		return "", err
	}
	s.log.Info().Str("run_id", runID).Msg("scheduled run started")
	return runID, nil
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
