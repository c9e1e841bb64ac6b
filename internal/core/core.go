package core

import (
	"fmt"
	"time"
)

// SourceType identifies where a document came from. The set is closed.
type SourceType string

const (
	SourceTypePDF  SourceType = "pdf"  // PDF report
	SourceTypeWeb  SourceType = "web"  // Scraped web article
	SourceTypeText SourceType = "text" // Plain text or markdown
	SourceTypeDoc  SourceType = "doc"  // Google Doc or word processor export
)

// SourceTypes lists every known source type in a stable order.
var SourceTypes = []SourceType{SourceTypePDF, SourceTypeWeb, SourceTypeText, SourceTypeDoc}

// Validate reports a DataIntegrityError for unknown source types.
func (s SourceType) Validate() error {
	switch s {
	case SourceTypePDF, SourceTypeWeb, SourceTypeText, SourceTypeDoc:
		return nil
	default:
		return fmt.Errorf("%w: unknown source type %q", ErrDataIntegrity, string(s))
	}
}

// RawDocument is the byte payload an extractor hands to a parser.
type RawDocument struct {
	Name        string     `json:"name"`         // File name or page title hint
	URI         string     `json:"uri"`          // Origin URI (file path, Drive ID, URL)
	ContentType string     `json:"content_type"` // MIME type when known
	SourceType  SourceType `json:"source_type"`  // Source type chosen by the extractor
	Bytes       []byte     `json:"-"`            // Raw content
}

// ParsedDocument is a parser's output before the orchestrator assigns an ID.
type ParsedDocument struct {
	Title      string     `json:"title"`
	Text       string     `json:"text"`
	SourceType SourceType `json:"source_type"`
	OriginURI  string     `json:"origin_uri"`
}

// Metadata describes a Document's provenance.
type Metadata struct {
	SourceType  SourceType `json:"source_type"`  // Tagged variant of the document
	OriginURI   string     `json:"origin_uri"`   // Where the document was retrieved from
	Title       string     `json:"title"`        // Best-effort title
	RetrievedAt time.Time  `json:"retrieved_at"` // When the extractor fetched it
}

// Document is one unit of text participating in a run.
// Embedding is set once during the embedding stage and never changed afterwards.
type Document struct {
	ID        string    `json:"id"`                  // Run-unique ID (doc-0001, doc-0002, ...)
	Ordinal   int       `json:"ordinal"`             // Extraction order, used for tie-breaks
	Text      string    `json:"text"`                // Extracted plain text
	Metadata  Metadata  `json:"metadata"`            // Provenance
	Embedding []float64 `json:"embedding,omitempty"` // Vector attached by the embedding stage
}

// DocumentID formats the run-local ID for the given ordinal.
func DocumentID(ordinal int) string {
	return fmt.Sprintf("doc-%04d", ordinal+1)
}

// Topic is a group of semantically related documents.
type Topic struct {
	ID        string    `json:"id"`         // topic-01, topic-02, ... in output order
	Label     string    `json:"label"`      // Human-readable, deterministic label
	Keywords  []string  `json:"keywords"`   // Most frequent terms across members
	MemberIDs []string  `json:"member_ids"` // Ordered by distance to centroid, then ordinal
	Centroid  []float64 `json:"centroid"`   // Mean of member embeddings
	Summary   string    `json:"summary"`    // Filled by the summarization stage
}

// Size returns the member count.
func (t Topic) Size() int { return len(t.MemberIDs) }

// ProcessingStats tracks per-stage counters for a run.
type ProcessingStats struct {
	SourcesListed     int           `json:"sources_listed"`
	DocumentsParsed   int           `json:"documents_parsed"`
	ParseFailures     int           `json:"parse_failures"`
	EmbeddingsCached  int           `json:"embeddings_cached"`
	EmbeddingsCreated int           `json:"embeddings_created"`
	EmbeddingFailures int           `json:"embedding_failures"`
	TopicsIdentified  int           `json:"topics_identified"`
	SummaryFailures   int           `json:"summary_failures"`
	ProcessingTime    time.Duration `json:"processing_time"`
	StartTime         time.Time     `json:"start_time"`
	EndTime           time.Time     `json:"end_time"`
}

// DeliveryOutcome records what happened to the rendered report. Failures here
// never change the run outcome.
type DeliveryOutcome struct {
	ReportID   string `json:"report_id,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
	RemoteURL  string `json:"remote_url,omitempty"`
	RenderErr  string `json:"render_error,omitempty"`
	UploadErr  string `json:"upload_error,omitempty"`
	Attempted  bool   `json:"attempted"`
	Successful bool   `json:"successful"`
}

// PipelineResult is the output of one completed run.
type PipelineResult struct {
	RunID             string          `json:"run_id"`
	Title             string          `json:"title"`
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        time.Time       `json:"finished_at"`
	Topics            []Topic         `json:"topics"`
	ExecutiveSummary  string          `json:"executive_summary"`
	DocumentCount     int             `json:"document_count"`
	FailedDocumentIDs []string        `json:"failed_document_ids"`
	UnclusteredIDs    []string        `json:"unclustered_ids"`
	Documents         []Document      `json:"-"`
	Stats             ProcessingStats `json:"stats"`
	Delivery          DeliveryOutcome `json:"delivery"`
}

// ClusteredCount returns the number of documents that landed in a topic.
func (r *PipelineResult) ClusteredCount() int {
	n := 0
	for _, t := range r.Topics {
		n += t.Size()
	}
	return n
}

// CheckMembership verifies that every successfully embedded document is either
// in exactly one topic or in the unclustered bucket.
func (r *PipelineResult) CheckMembership() error {
	embedded := r.DocumentCount - len(r.FailedDocumentIDs)
	if got := r.ClusteredCount() + len(r.UnclusteredIDs); got != embedded {
		return fmt.Errorf("%w: %d documents accounted for, %d embedded", ErrDataIntegrity, got, embedded)
	}
	seen := make(map[string]struct{}, embedded)
	for _, t := range r.Topics {
		for _, id := range t.MemberIDs {
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: document %s in more than one topic", ErrDataIntegrity, id)
			}
			seen[id] = struct{}{}
		}
	}
	for _, id := range r.UnclusteredIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: document %s both clustered and unclustered", ErrDataIntegrity, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// DocumentByID returns the document with the given ID.
func (r *PipelineResult) DocumentByID(id string) (Document, bool) {
	for _, d := range r.Documents {
		if d.ID == id {
			return d, true
		}
	}
	return Document{}, false
}

// SourceRef names one extractor and the reference it should list.
type SourceRef struct {
	Extractor string `json:"extractor"` // Registered extractor name (local, drive, gdoc_links, urls)
	Ref       string `json:"ref"`       // Folder path, Drive folder ID, document ID, URL list
}

// SourceSelector describes which sources a run should read.
type SourceSelector struct {
	Sources []SourceRef `json:"sources"`
}

// CacheStats summarizes embedding cache activity.
type CacheStats struct {
	Entries      int       `json:"entries"`       // In-memory entries
	Persisted    int       `json:"persisted"`     // Rows in the persistent store
	Hits         int64     `json:"hits"`          // Lookups answered from cache
	Misses       int64     `json:"misses"`        // Lookups that needed a computation
	Computations int64     `json:"computations"`  // External embedding calls made
	LastCleared  time.Time `json:"last_cleared"`  // Zero if never cleared
}
