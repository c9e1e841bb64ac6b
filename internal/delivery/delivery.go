// Package delivery renders completed results and stores the reports locally
// and, optionally, in Google Drive.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bireport/internal/core"
	"bireport/internal/logger"
	"bireport/internal/metrics"
	"bireport/internal/render"
	"bireport/internal/retry"
	"bireport/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReportRecorder keeps a history of delivered reports
type ReportRecorder interface {
	RecordReport(ctx context.Context, r store.ReportRecord) error
}

// Options configures a Service.
type Options struct {
	// Renderers produce the report formats; the first one is the primary
	// report that is uploaded remotely and served for download.
	Renderers []core.Renderer
	Local     *LocalUploader
	Remote    core.Uploader  // Optional
	Recorder  ReportRecorder // Optional
	Retry     retry.Policy
	Timeout   time.Duration // Per upload call
	Metrics   *metrics.Metrics
}

// Report is the most recently delivered primary report.
type Report struct {
	ID          string
	Name        string
	ContentType string
	Body        []byte
	Outcome     core.DeliveryOutcome
	CreatedAt   time.Time
}

// Service renders results and hands them to the uploaders.
type Service struct {
	renderers []core.Renderer
	local     *LocalUploader
	remote    core.Uploader
	recorder  ReportRecorder
	retry     retry.Policy
	timeout   time.Duration
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	latest *Report
}

// New creates a delivery service. At least one renderer is required.
func New(opts Options) (*Service, error) {
	if len(opts.Renderers) == 0 {
		return nil, errors.New("delivery: no renderers configured")
	}
	if opts.Local == nil {
		opts.Local = NewLocalUploader("")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Service{
		renderers: opts.Renderers,
		local:     opts.Local,
		remote:    opts.Remote,
		recorder:  opts.Recorder,
		retry:     opts.Retry,
		timeout:   opts.Timeout,
		metrics:   opts.Metrics,
		log:       logger.Component("delivery"),
		now:       time.Now,
	}, nil
}

// Deliver renders result in every format, writes each file locally and
// uploads the primary report. Problems are reported in the outcome.
func (s *Service) Deliver(ctx context.Context, result *core.PipelineResult) core.DeliveryOutcome {
	created := s.now().UTC()
	out := core.DeliveryOutcome{
		ReportID:  uuid.NewString(),
		Attempted: true,
	}

	var primary []byte
	var primaryName string
	var renderErrs, uploadErrs []string

	for i, r := range s.renderers {
		body, err := r.Render(ctx, result, out.ReportID)
		if err != nil {
			if !errors.Is(err, core.ErrRender) {
				err = fmt.Errorf("%w: %w", core.ErrRender, err)
			}
			s.log.Error().Err(err).Str("format", r.Extension()).Msg("render failed")
			renderErrs = append(renderErrs, err.Error())
			if i == 0 {
				break
			}
			continue
		}

		name := render.ReportFilename(created, r.Extension())
		path, err := s.local.Upload(ctx, out.ReportID, name, body)
		if err != nil {
			s.log.Error().Err(err).Str("file", name).Msg("local write failed")
			uploadErrs = append(uploadErrs, err.Error())
		}

		if i == 0 {
			primary, primaryName = body, name
			out.LocalPath = path
		}
	}

	if primary != nil && s.remote != nil {
		url, err := s.upload(ctx, out.ReportID, primaryName, primary)
		s.metrics.ServiceCall("upload", err)
		if err != nil {
			s.log.Error().Err(err).Str("report_id", out.ReportID).Msg("remote upload failed")
			uploadErrs = append(uploadErrs, err.Error())
		} else {
			out.RemoteURL = url
		}
	}

	out.RenderErr = strings.Join(renderErrs, "; ")
	out.UploadErr = strings.Join(uploadErrs, "; ")
	out.Successful = primary != nil && len(renderErrs) == 0 && len(uploadErrs) == 0

	if primary != nil {
		s.remember(&Report{
			ID:          out.ReportID,
			Name:        primaryName,
			ContentType: contentType(primaryName),
			Body:        primary,
			Outcome:     out,
			CreatedAt:   created,
		})
		s.record(ctx, result, out, created)
	}

	s.log.Info().
		Str("report_id", out.ReportID).
		Str("local_path", out.LocalPath).
		Str("remote_url", out.RemoteURL).
		Bool("successful", out.Successful).
		Msg("report delivered")
	return out
}

func (s *Service) upload(ctx context.Context, reportID, name string, body []byte) (string, error) {
	return retry.DoValue(ctx, s.retry, core.IsTransient, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.remote.Upload(callCtx, reportID, name, body)
	})
}

func (s *Service) record(ctx context.Context, result *core.PipelineResult, out core.DeliveryOutcome, created time.Time) {
	if s.recorder == nil || result == nil {
		return
	}
	err := s.recorder.RecordReport(ctx, store.ReportRecord{
		ID:        out.ReportID,
		RunID:     result.RunID,
		Title:     result.Title,
		LocalPath: out.LocalPath,
		RemoteURL: out.RemoteURL,
		Topics:    len(result.Topics),
		Documents: result.DocumentCount,
		CreatedAt: created,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("report_id", out.ReportID).Msg("failed to record report")
	}
}

func (s *Service) remember(r *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = r
}

// Latest returns the most recently delivered primary report.
func (s *Service) Latest() (*Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, false
	}
	r := *s.latest
	return &r, true
}

// OutputDir returns where local copies are written
func (s *Service) OutputDir() string { return s.local.Dir() }

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(name, ".md"):
		return "text/markdown; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
