package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"bireport/internal/core"
	"bireport/internal/logger"
	"bireport/internal/parser"
	"bireport/internal/retry"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultUserAgent   = "bireport/1.0 (+https://github.com/bireport)"
	DefaultMaxBodySize = 20 << 20
)

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Client      *http.Client
	UserAgent   string
	Timeout     time.Duration // Per request
	MaxBodySize int64
	Concurrency int
	Retry       retry.Policy
}

// Fetcher downloads web pages and files over HTTP.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	timeout     time.Duration
	maxBodySize int64
	concurrency int
	retry       retry.Policy
	log         zerolog.Logger
}

// NewFetcher creates a Fetcher, filling unset options with defaults.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	return &Fetcher{
		client:      opts.Client,
		userAgent:   opts.UserAgent,
		timeout:     opts.Timeout,
		maxBodySize: opts.MaxBodySize,
		concurrency: opts.Concurrency,
		retry:       opts.Retry,
		log:         logger.Component("fetcher"),
	}
}

// Fetch downloads one URL. Transient failures (timeouts, 429, 5xx) are
// retried.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (core.RawDocument, error) {
	return retry.DoValue(ctx, f.retry, core.IsTransient, func(ctx context.Context) (core.RawDocument, error) {
		return f.fetchOnce(ctx, rawURL)
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (core.RawDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return core.RawDocument{}, fmt.Errorf("%w: %s: %w", core.ErrSourceUnavailable, rawURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return core.RawDocument{}, core.NewServiceError("fetch", 0, fmt.Errorf("%s: %w", rawURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.RawDocument{}, core.NewServiceError("fetch", resp.StatusCode, fmt.Errorf("%w: %s: status code %d", core.ErrSourceUnavailable, rawURL, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return core.RawDocument{}, core.NewServiceError("fetch", 0, fmt.Errorf("read %s: %w", rawURL, err))
	}
	if int64(len(body)) > f.maxBodySize {
		return core.RawDocument{}, fmt.Errorf("%w: %s exceeds %d bytes", core.ErrSourceUnavailable, rawURL, f.maxBodySize)
	}

	contentType := resp.Header.Get("Content-Type")
	return core.RawDocument{
		Name:        nameFromURL(resp.Request.URL.Path, rawURL),
		URI:         rawURL,
		ContentType: contentType,
		SourceType:  webSourceType(contentType, rawURL),
		Bytes:       body,
	}, nil
}

// FetchAll downloads urls concurrently. Failed URLs are logged and skipped;
// the result keeps the input order. It fails only when every URL failed.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([]core.RawDocument, error) {
	docs := make([]core.RawDocument, len(urls))
	errs := make([]error, len(urls))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			docs[i], errs[i] = f.Fetch(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]core.RawDocument, 0, len(urls))
	var failed []error
	for i := range urls {
		if errs[i] != nil {
			f.log.Warn().Err(errs[i]).Str("url", urls[i]).Msg("skipping url")
			failed = append(failed, errs[i])
			continue
		}
		out = append(out, docs[i])
	}
	if len(out) == 0 && len(failed) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: all %d urls failed: %w", core.ErrSourceUnavailable, len(urls), errors.Join(failed...))
	}
	return out, nil
}

func webSourceType(contentType, rawURL string) core.SourceType {
	media, _, _ := mime.ParseMediaType(contentType)
	switch {
	case media == "application/pdf", strings.HasSuffix(strings.ToLower(rawURL), ".pdf"):
		return core.SourceTypePDF
	case media == "text/plain":
		return core.SourceTypeText
	default:
		return core.SourceTypeWeb
	}
}

func nameFromURL(p, fallback string) string {
	if base := path.Base(p); base != "." && base != "/" && base != "" {
		return base
	}
	return fallback
}

// URLExtractor lists the pages named in its ref: URLs separated by
// whitespace or commas, or free text containing links.
type URLExtractor struct {
	fetcher *Fetcher
}

func NewURLExtractor(f *Fetcher) *URLExtractor {
	return &URLExtractor{fetcher: f}
}

func (e *URLExtractor) Name() string { return "urls" }

func (e *URLExtractor) ListDocuments(ctx context.Context, ref string) ([]core.RawDocument, error) {
	urls := parser.ExtractLinks(strings.ReplaceAll(ref, ",", "\n"))
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no valid urls in %q", core.ErrSourceUnavailable, ref)
	}
	return e.fetcher.FetchAll(ctx, urls)
}
