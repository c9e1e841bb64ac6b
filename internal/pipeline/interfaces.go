package pipeline

import (
	"context"

	"bireport/internal/clustering"
	"bireport/internal/core"
	"bireport/internal/embedcache"
)

// EmbeddingCache resolves document text to vectors
type EmbeddingCache interface {
	// Resolve returns the vector for text, computing it at most once per fingerprint
	Resolve(ctx context.Context, text string) (embedcache.Embedding, error)

	// Clear drops every cached vector
	Clear(ctx context.Context) error

	// Stats returns cache statistics
	Stats() core.CacheStats
}

// TopicClusterer groups embedded documents into topics
type TopicClusterer interface {
	Cluster(ctx context.Context, docs []core.Document, opts clustering.Options) (clustering.Result, error)
}

// TopicSummarizer writes topic and executive summaries
type TopicSummarizer interface {
	// SummarizeTopic summarizes one topic from its member documents
	SummarizeTopic(ctx context.Context, topic core.Topic, docs map[string]core.Document) (string, error)

	// SummarizeExecutive synthesizes all topic summaries
	SummarizeExecutive(ctx context.Context, topics []core.Topic) (string, error)
}

// Deliverer renders a completed result and stores it. Failures are reported
// in the outcome, never as an error.
type Deliverer interface {
	Deliver(ctx context.Context, result *core.PipelineResult) core.DeliveryOutcome
}
