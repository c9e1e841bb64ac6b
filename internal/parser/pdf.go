package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"bireport/internal/core"
	"bireport/internal/logger"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts page text with ledongthuc/pdf.
type PDFParser struct{}

func (PDFParser) Parse(ctx context.Context, raw core.RawDocument) (doc core.ParsedDocument, err error) {
	// The PDF reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: malformed pdf: %v", core.ErrParse, raw.Name, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw.Bytes), int64(len(raw.Bytes)))
	if err != nil {
		return core.ParsedDocument{}, fmt.Errorf("%w: %s: %w", core.ErrParse, raw.Name, err)
	}

	var text strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return core.ParsedDocument{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			logger.Warn("failed to extract pdf page", "document", raw.Name, "page", i, "error", err)
			continue
		}
		text.WriteString(pageText)
		text.WriteString("\n\n")
	}

	cleaned := cleanPDFText(text.String())
	return core.ParsedDocument{
		Title:      pdfTitle(cleaned, raw.Name),
		Text:       cleaned,
		SourceType: core.SourceTypePDF,
		OriginURI:  raw.URI,
	}, nil
}

// cleanPDFText drops blank and very short lines
func cleanPDFText(rawText string) string {
	var lines []string
	for _, line := range strings.Split(rawText, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 2 {
			lines = append(lines, trimmed)
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// pdfTitle picks the first substantial line that is not a URL or a long
// all-caps banner.
func pdfTitle(content, name string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) <= 10 || len(trimmed) >= 200 {
			continue
		}
		if strings.Contains(trimmed, "http") {
			continue
		}
		if len(trimmed) < 50 || !isAllUpperCase(trimmed) {
			return trimmed
		}
	}
	return strings.TrimSuffix(name, ".pdf")
}

func isAllUpperCase(s string) bool {
	return strings.ToUpper(s) == s && strings.ToLower(s) != s
}
