package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"bireport/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		raw  core.RawDocument
		want Format
		ok   bool
	}{
		{"pdf content type", core.RawDocument{Name: "q3", ContentType: "application/pdf"}, FormatPDF, true},
		{"pdf extension", core.RawDocument{Name: "q3.PDF"}, FormatPDF, true},
		{"pdf magic", core.RawDocument{Name: "blob", Bytes: []byte("%PDF-1.7\n")}, FormatPDF, true},
		{"docx", core.RawDocument{Name: "memo.docx"}, FormatDOCX, true},
		{"html content type", core.RawDocument{Name: "page", ContentType: "text/html; charset=utf-8"}, FormatHTML, true},
		{"html sniffed", core.RawDocument{Name: "page", Bytes: []byte("<!DOCTYPE html><html></html>")}, FormatHTML, true},
		{"markdown", core.RawDocument{Name: "notes.md"}, FormatText, true},
		{"extension from uri", core.RawDocument{URI: "https://example.com/report.pdf"}, FormatPDF, true},
		{"plain bytes", core.RawDocument{Name: "notes", Bytes: []byte("hello")}, FormatText, true},
		{"image", core.RawDocument{Name: "chart", ContentType: "image/png", Bytes: []byte{0x89, 0x50}}, "", false},
		{"binary", core.RawDocument{Name: "blob", Bytes: []byte{0xff, 0xfe, 0x00}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectFormat(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseText(t *testing.T) {
	raw := core.RawDocument{
		Name:  "q3-notes.md",
		URI:   "file:///reports/q3-notes.md",
		Bytes: []byte("# Q3 Revenue Notes\r\n\r\nRevenue grew 12% on renewals.\r\n"),
	}

	doc, err := NewParser().Parse(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "Q3 Revenue Notes", doc.Title)
	assert.Equal(t, "# Q3 Revenue Notes\n\nRevenue grew 12% on renewals.", doc.Text)
	assert.Equal(t, core.SourceTypeText, doc.SourceType)
	assert.Equal(t, "file:///reports/q3-notes.md", doc.OriginURI)
}

func TestParseKeepsExtractorSourceType(t *testing.T) {
	raw := core.RawDocument{
		Name:        "Board memo",
		ContentType: "text/plain",
		SourceType:  core.SourceTypeDoc,
		Bytes:       []byte("Board approved the new pricing tiers."),
	}

	doc, err := NewParser().Parse(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, core.SourceTypeDoc, doc.SourceType)
}

func TestParseHTML(t *testing.T) {
	page := `<html><head><title>Q3 Market Update</title><script>var tracking = 1;</script></head>
<body><nav>Home | About</nav>
<article><h1>Market</h1><p>Revenue grew   12%.</p><p>Costs fell.</p></article>
<footer>Copyright</footer></body></html>`
	raw := core.RawDocument{Name: "update", URI: "https://example.com/update", ContentType: "text/html", Bytes: []byte(page)}

	doc, err := NewParser().Parse(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "Q3 Market Update", doc.Title)
	assert.Equal(t, "Market\n\nRevenue grew 12%.\n\nCosts fell.", doc.Text)
	assert.Equal(t, core.SourceTypeWeb, doc.SourceType)
	assert.NotContains(t, doc.Text, "tracking")
	assert.NotContains(t, doc.Text, "Copyright")
}

func TestParseHTMLWithoutArticle(t *testing.T) {
	page := `<html><body><h1>Hiring Plan</h1><p>Engineering adds ten roles.</p></body></html>`
	raw := core.RawDocument{Name: "plan.html", Bytes: []byte(page)}

	doc, err := NewParser().Parse(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "Hiring Plan", doc.Title)
	assert.Contains(t, doc.Text, "Engineering adds ten roles.")
}

func TestParseDOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>Supply Chain Review</w:t></w:r></w:p>
<w:p><w:r><w:t>Shipping delays </w:t></w:r><w:r><w:t>fell by half.</w:t></w:r></w:p>
<w:p></w:p>
</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	doc, err := NewParser().Parse(context.Background(), core.RawDocument{Name: "review.docx", Bytes: buf.Bytes()})
	require.NoError(t, err)
	assert.Equal(t, "Supply Chain Review", doc.Title)
	assert.Equal(t, "Supply Chain Review\nShipping delays fell by half.", doc.Text)
	assert.Equal(t, core.SourceTypeDoc, doc.SourceType)
}

func TestParseErrors(t *testing.T) {
	p := NewParser()
	ctx := context.Background()

	_, err := p.Parse(ctx, core.RawDocument{Name: "broken.pdf", Bytes: []byte("%PDF-1.4 not really a pdf")})
	assert.ErrorIs(t, err, core.ErrParse)

	_, err = p.Parse(ctx, core.RawDocument{Name: "memo.docx", Bytes: []byte("not a zip")})
	assert.ErrorIs(t, err, core.ErrParse)

	_, err = p.Parse(ctx, core.RawDocument{Name: "chart", ContentType: "image/png", Bytes: []byte{0x89, 0x50}})
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)

	_, err = p.Parse(ctx, core.RawDocument{Name: "latin1.txt", Bytes: []byte{0x52, 0xe9, 0x73}})
	assert.ErrorIs(t, err, core.ErrParse)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Parse(cancelled, core.RawDocument{Name: "notes.txt", Bytes: []byte("text")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractLinks(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []string
	}{
		{
			name: "markdown links",
			content: `# Weekly Links
- [Article 1](https://example.com/article1)
- [Article 2](https://example.com/article2)`,
			expected: []string{"https://example.com/article1", "https://example.com/article2"},
		},
		{
			name: "mixed markdown and raw URLs",
			content: `# Weekly Links
- [Article 1](https://example.com/article1)
- https://example.com/article2
Check this out: https://example.com/article3.`,
			expected: []string{
				"https://example.com/article1",
				"https://example.com/article2",
				"https://example.com/article3",
			},
		},
		{
			name: "duplicate URLs",
			content: `- [Article 1](https://example.com/article1)
- [Same Article](https://example.com/article1)
- https://example.com/article1`,
			expected: []string{"https://example.com/article1"},
		},
		{
			name: "tracking parameters",
			content: `- https://example.com/article?utm_source=twitter&utm_campaign=promo
- https://example.com/article?fbclid=123456`,
			expected: []string{"https://example.com/article"},
		},
		{
			name:     "no URLs",
			content:  "Just some text without any links.",
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractLinks(tt.content))
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://example.com/article?utm_source=twitter&utm_campaign=promo", "https://example.com/article"},
		{"https://example.com/search?q=golang&page=2", "https://example.com/search?page=2&q=golang"},
		{"https://example.com/article#section-1", "https://example.com/article"},
		{"https://example.com/article/", "https://example.com/article"},
		{"https://example.com/", "https://example.com/"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeURL(tt.input))
		})
	}
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("http://example.com/article"))
	assert.NoError(t, ValidateURL("https://example.com/article"))
	assert.Error(t, ValidateURL(""))
	assert.Error(t, ValidateURL("ftp://example.com/file"))
	assert.Error(t, ValidateURL("https://"))
}

func TestGoogleDocID(t *testing.T) {
	id, ok := GoogleDocID("https://docs.google.com/document/d/1AbC-xyz/edit?usp=sharing")
	require.True(t, ok)
	assert.Equal(t, "1AbC-xyz", id)

	_, ok = GoogleDocID("https://example.com/document/d/1AbC-xyz")
	assert.False(t, ok)
}
