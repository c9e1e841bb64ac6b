package core

import "context"

// Extractor lists raw documents from one kind of source.
type Extractor interface {
	// Name is the key used in SourceRef.Extractor
	Name() string

	// ListDocuments returns every document behind ref.
	// Fails with ErrSourceUnavailable when the source cannot be reached.
	ListDocuments(ctx context.Context, ref string) ([]RawDocument, error)
}

// Parser turns raw bytes into text.
type Parser interface {
	// Parse fails with ErrUnsupportedFormat or ErrParse
	Parse(ctx context.Context, raw RawDocument) (ParsedDocument, error)
}

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)

	// Model identifies the embedding model; cached vectors are keyed by it
	Model() string
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Renderer turns a result into a report document.
type Renderer interface {
	Render(ctx context.Context, result *PipelineResult, reportID string) ([]byte, error)

	// Extension is the file extension of rendered reports, including the dot
	Extension() string
}

// Uploader stores a rendered report and returns where it can be found.
type Uploader interface {
	Upload(ctx context.Context, reportID, name string, body []byte) (string, error)
}
