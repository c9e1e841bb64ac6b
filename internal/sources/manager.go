// Package sources lists raw documents from local folders, the web and Google
// Drive.
package sources

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bireport/internal/config"
	"bireport/internal/core"
	"bireport/internal/logger"
	"bireport/internal/retry"

	"google.golang.org/api/option"
)

// Manager is the set of extractors available to runs
type Manager struct {
	extractors map[string]core.Extractor
}

// NewManager creates a manager holding the given extractors
func NewManager(extractors ...core.Extractor) *Manager {
	m := &Manager{extractors: make(map[string]core.Extractor)}
	for _, ex := range extractors {
		m.Register(ex)
	}
	return m
}

// Register adds or replaces an extractor under its name
func (m *Manager) Register(ex core.Extractor) {
	m.extractors[ex.Name()] = ex
}

// Get returns the extractor registered under name
func (m *Manager) Get(name string) (core.Extractor, bool) {
	ex, ok := m.extractors[name]
	return ex, ok
}

// Names returns the registered extractor names, sorted
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.extractors))
	for name := range m.extractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extractors returns the registered extractors in name order
func (m *Manager) Extractors() []core.Extractor {
	out := make([]core.Extractor, 0, len(m.extractors))
	for _, name := range m.Names() {
		out = append(out, m.extractors[name])
	}
	return out
}

// Validate checks that every source in sel names a registered extractor
func (m *Manager) Validate(sel core.SourceSelector) error {
	if len(sel.Sources) == 0 {
		return fmt.Errorf("%w: no sources selected", core.ErrNoDocuments)
	}
	for _, src := range sel.Sources {
		if _, ok := m.extractors[src.Extractor]; !ok {
			return fmt.Errorf("%w: unknown extractor %q (available: %s)",
				core.ErrSourceUnavailable, src.Extractor, strings.Join(m.Names(), ", "))
		}
	}
	return nil
}

// Options configures FromConfig.
type Options struct {
	Retry         retry.Policy
	GoogleOptions []option.ClientOption // Extra client options, mainly for tests
}

// FromConfig builds the manager for cfg. Google extractors are registered
// only when Drive credentials or a source ID is configured.
func FromConfig(ctx context.Context, cfg config.Sources, opts Options) (*Manager, error) {
	fetcher := NewFetcher(FetcherOptions{
		UserAgent: cfg.UserAgent,
		Timeout:   config.Duration(cfg.FetchTimeout, 30*time.Second),
		Retry:     opts.Retry,
	})

	m := NewManager(NewLocalExtractor(), NewURLExtractor(fetcher))

	if cfg.CredentialsFile != "" || cfg.PDFFolderID != "" || cfg.LinkDocID != "" || len(opts.GoogleOptions) > 0 {
		services, err := NewGoogleServices(ctx, cfg.CredentialsFile, opts.GoogleOptions...)
		if err != nil {
			return nil, err
		}
		m.Register(NewDriveFolderExtractor(services.Drive))
		m.Register(NewDocLinksExtractor(services, fetcher))
	}

	logger.Info("source extractors registered", "extractors", strings.Join(m.Names(), ","))
	return m, nil
}

// DefaultSelector is the configured "specific sources" run: the Drive PDF
// folder, the link document, the local directory and the URL list, in that
// order, skipping whatever is not configured.
func DefaultSelector(cfg config.Sources) core.SourceSelector {
	var sel core.SourceSelector
	if cfg.PDFFolderID != "" {
		sel.Sources = append(sel.Sources, core.SourceRef{Extractor: "drive", Ref: cfg.PDFFolderID})
	}
	if cfg.LinkDocID != "" {
		sel.Sources = append(sel.Sources, core.SourceRef{Extractor: "gdoc_links", Ref: cfg.LinkDocID})
	}
	if cfg.LocalDir != "" {
		sel.Sources = append(sel.Sources, core.SourceRef{Extractor: "local", Ref: cfg.LocalDir})
	}
	if len(cfg.URLs) > 0 {
		sel.Sources = append(sel.Sources, core.SourceRef{Extractor: "urls", Ref: strings.Join(cfg.URLs, "\n")})
	}
	return sel
}

// ParseSelector parses "extractor=ref" pairs, as given on the command line.
func ParseSelector(specs []string) (core.SourceSelector, error) {
	var sel core.SourceSelector
	for _, spec := range specs {
		name, ref, ok := strings.Cut(spec, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(ref) == "" {
			return core.SourceSelector{}, fmt.Errorf("invalid source %q, want extractor=ref", spec)
		}
		sel.Sources = append(sel.Sources, core.SourceRef{Extractor: strings.TrimSpace(name), Ref: strings.TrimSpace(ref)})
	}
	return sel, nil
}
