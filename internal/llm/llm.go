// Package llm wraps the Gemini API for embeddings and text generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bireport/internal/core"
	"bireport/internal/logger"
	"bireport/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	// DefaultModel is the default Gemini model used for summaries.
	DefaultModel = "gemini-2.5-flash"
	// DefaultEmbeddingModel is the default model for generating embeddings
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimensions is the output dimension for embeddings (Matryoshka)
	DefaultEmbeddingDimensions = int32(768)
)

// Config configures a Client.
type Config struct {
	APIKey              string
	Model               string
	EmbeddingModel      string
	EmbeddingDimensions int32
	MaxTokens           int32
	Temperature         float32
	Timeout             time.Duration
	RequestsPerSecond   float64 // <= 0 disables client-side rate limiting
	Burst               int
	BaseURL             string // Overrides the API endpoint, used in tests
}

// Client talks to Gemini. It satisfies core.Embedder and core.Generator.
type Client struct {
	gClient        *genai.Client
	model          string
	embeddingModel string
	dims           int32
	maxTokens      int32
	temperature    float32
	limiter        *rate.Limiter
	metrics        *metrics.Metrics
	log            zerolog.Logger
}

// NewClient creates a Gemini client from cfg.
func NewClient(ctx context.Context, cfg Config, m *metrics.Metrics) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		timeout := cfg.Timeout
		cc.HTTPOptions.Timeout = &timeout
	}
	gClient, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		gClient:        gClient,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dims:           cfg.EmbeddingDimensions,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
		limiter:        limiter,
		metrics:        m,
		log:            logger.Component("llm"),
	}, nil
}

// Model is the embedding model name; cached vectors are keyed by it.
func (c *Client) Model() string {
	return c.embeddingModel
}

// GenerationModel is the model used by Generate.
func (c *Client) GenerationModel() string {
	return c.model
}

// Embed generates a vector embedding for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	const op = "embed"
	if strings.TrimSpace(text) == "" {
		return nil, core.NewServiceError(op, http.StatusBadRequest, errors.New("empty text"))
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}
	dims := c.dims
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	}

	start := time.Now()
	resp, err := c.gClient.Models.EmbedContent(ctx, c.embeddingModel, contents, config)
	if err != nil {
		err = classify(op, err)
		c.metrics.ServiceCall(op, err)
		c.log.Debug().Err(err).Dur("elapsed", time.Since(start)).Msg("embedding failed")
		return nil, err
	}
	c.metrics.ServiceCall(op, nil)

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: no embedding values returned from API", core.ErrInvalidOutput)
	}

	values := resp.Embeddings[0].Values
	embedding := make([]float64, len(values))
	for i, val := range values {
		embedding[i] = float64(val)
	}
	return embedding, nil
}

// Generate returns the model's text response to prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	const op = "generate"
	if prompt == "" {
		return "", core.NewServiceError(op, http.StatusBadRequest, errors.New("prompt cannot be empty"))
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	var config *genai.GenerateContentConfig
	if c.maxTokens > 0 || c.temperature > 0 {
		config = &genai.GenerateContentConfig{}
		if c.maxTokens > 0 {
			config.MaxOutputTokens = c.maxTokens
		}
		if c.temperature > 0 {
			temp := c.temperature
			config.Temperature = &temp
		}
	}

	start := time.Now()
	resp, err := c.gClient.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		err = classify(op, err)
		c.metrics.ServiceCall(op, err)
		c.log.Debug().Err(err).Dur("elapsed", time.Since(start)).Msg("generation failed")
		return "", err
	}
	c.metrics.ServiceCall(op, nil)

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty response from model", core.ErrInvalidOutput)
	}
	return text, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// classify turns SDK errors into core.ServiceError so callers can decide
// whether to retry.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return core.NewServiceError(op, apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return core.NewServiceError(op, apiErrPtr.Code, err)
	}
	return core.NewServiceError(op, 0, err)
}
