// Package parser turns raw document bytes into plain text.
package parser

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"bireport/internal/core"
)

// Format is a detected document encoding.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
	FormatDOCX Format = "docx"
	FormatText Format = "text"
)

// FormatParser extracts text from one format.
type FormatParser interface {
	Parse(ctx context.Context, raw core.RawDocument) (core.ParsedDocument, error)
}

// Parser dispatches raw documents to the parser for their format. It
// implements core.Parser.
type Parser struct {
	formats map[Format]FormatParser
}

// NewParser creates a Parser with every built-in format registered
func NewParser() *Parser {
	return &Parser{
		formats: map[Format]FormatParser{
			FormatPDF:  PDFParser{},
			FormatHTML: HTMLParser{},
			FormatDOCX: DOCXParser{},
			FormatText: TextParser{},
		},
	}
}

// Register replaces the parser for a format.
func (p *Parser) Register(f Format, fp FormatParser) {
	p.formats[f] = fp
}

// Parse detects the format of raw and extracts its text.
func (p *Parser) Parse(ctx context.Context, raw core.RawDocument) (core.ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return core.ParsedDocument{}, err
	}

	format, ok := DetectFormat(raw)
	if !ok {
		return core.ParsedDocument{}, fmt.Errorf("%w: %s (content type %q)", core.ErrUnsupportedFormat, raw.Name, raw.ContentType)
	}
	fp, ok := p.formats[format]
	if !ok {
		return core.ParsedDocument{}, fmt.Errorf("%w: no parser for %s", core.ErrUnsupportedFormat, format)
	}

	doc, err := fp.Parse(ctx, raw)
	if err != nil {
		return core.ParsedDocument{}, err
	}
	if doc.SourceType == "" {
		doc.SourceType = raw.SourceType
	}
	if doc.SourceType == "" {
		doc.SourceType = sourceTypeFor(format)
	}
	if doc.OriginURI == "" {
		doc.OriginURI = raw.URI
	}
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(raw.Name, path.Ext(raw.Name))
	}
	return doc, nil
}

// DetectFormat picks a format from the content type, the file extension and
// finally the leading bytes.
func DetectFormat(raw core.RawDocument) (Format, bool) {
	ct := strings.ToLower(raw.ContentType)
	ext := strings.ToLower(path.Ext(raw.Name))
	if ext == "" {
		ext = strings.ToLower(path.Ext(raw.URI))
	}

	switch {
	case strings.Contains(ct, "pdf"), ext == ".pdf", bytes.HasPrefix(raw.Bytes, []byte("%PDF-")):
		return FormatPDF, true
	case strings.Contains(ct, "wordprocessingml"), ext == ".docx":
		return FormatDOCX, true
	case strings.Contains(ct, "html"), ext == ".html", ext == ".htm":
		return FormatHTML, true
	case strings.HasPrefix(ct, "text/"), ext == ".txt", ext == ".md", ext == ".markdown":
		return FormatText, true
	case ct == "" && utf8.Valid(raw.Bytes) && looksLikeHTML(raw.Bytes):
		return FormatHTML, true
	case ct == "" && utf8.Valid(raw.Bytes):
		return FormatText, true
	}
	return "", false
}

func looksLikeHTML(b []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(b[:min(len(b), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func sourceTypeFor(f Format) core.SourceType {
	switch f {
	case FormatPDF:
		return core.SourceTypePDF
	case FormatHTML:
		return core.SourceTypeWeb
	case FormatDOCX:
		return core.SourceTypeDoc
	default:
		return core.SourceTypeText
	}
}

// firstLineTitle returns the first line that looks like a heading.
func firstLineTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if len(line) < 4 {
			continue
		}
		if runes := []rune(line); len(runes) > 120 {
			return strings.TrimSpace(string(runes[:120])) + "..."
		}
		return line
	}
	return ""
}
