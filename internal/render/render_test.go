package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bireport/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC)

func sampleResult() *core.PipelineResult {
	var docs []core.Document
	for i := 0; i < 8; i++ {
		docs = append(docs, core.Document{
			ID:      core.DocumentID(i),
			Ordinal: i,
			Metadata: core.Metadata{
				Title:      fmt.Sprintf("Report %d", i+1),
				SourceType: core.SourceTypeWeb,
				OriginURI:  fmt.Sprintf("https://example.com/r/%d", i+1),
			},
		})
	}
	docs[1].Metadata.OriginURI = "file:///tmp/report-2.pdf"
	docs[1].Metadata.SourceType = core.SourceTypePDF

	return &core.PipelineResult{
		RunID:            "run-1",
		Title:            "Weekly <Market> Report",
		StartedAt:        time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		FinishedAt:       time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
		ExecutiveSummary: "Growth **accelerated** across segments.\n\n<script>alert(1)</script>",
		DocumentCount:    8,
		Documents:        docs,
		UnclusteredIDs:   []string{"doc-0008"},
		Topics: []core.Topic{
			{
				ID:        "topic-01",
				Label:     "Cloud Spending",
				Keywords:  []string{"cloud", "spending"},
				MemberIDs: []string{"doc-0001", "doc-0002", "doc-0003", "doc-0004", "doc-0005", "doc-0006", "doc-0007"},
				Summary:   "- Budgets rose\n- Vendors consolidated",
			},
		},
	}
}

func TestHTMLRenderer(t *testing.T) {
	r, err := NewHTMLRenderer()
	require.NoError(t, err)
	r.now = func() time.Time { return fixedNow }
	assert.Equal(t, ".html", r.Extension())

	out, err := r.Render(context.Background(), sampleResult(), "rep-1")
	require.NoError(t, err)
	page := string(out)

	assert.Contains(t, page, "<title>Weekly &lt;Market&gt; Report</title>")
	assert.Contains(t, page, `content="rep-1"`)
	assert.Contains(t, page, "March 02, 2026 - March 09, 2026")
	assert.Contains(t, page, "2026-03-09")
	assert.Contains(t, page, "<strong>accelerated</strong>")
	assert.NotContains(t, page, "<script>alert(1)</script>")
	assert.Contains(t, page, "<li>Budgets rose</li>")
	assert.Contains(t, page, "Keywords: cloud, spending")
	assert.Contains(t, page, "7 documents")
	assert.Contains(t, page, `<a href="https://example.com/r/1"`)
	assert.Contains(t, page, "Report 2 <small>(pdf)</small>")
	assert.NotContains(t, page, "Report 6")
	assert.Contains(t, page, "... and 2 more")
	assert.Contains(t, page, "1 documents did not fit any topic.")
	assert.Contains(t, page, "Generated on March 09, 2026 at 02:30 PM UTC")
}

func TestHTMLRendererEmptyResult(t *testing.T) {
	r, err := NewHTMLRenderer()
	require.NoError(t, err)

	out, err := r.Render(context.Background(), &core.PipelineResult{}, "rep-2")
	require.NoError(t, err)
	assert.Contains(t, string(out), "No topics were identified.")
	assert.Contains(t, string(out), "No executive summary available.")
	assert.Contains(t, string(out), "Business Intelligence Report")

	_, err = r.Render(context.Background(), nil, "rep-3")
	assert.ErrorIs(t, err, core.ErrRender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Render(ctx, sampleResult(), "rep-4")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMarkdownRenderer(t *testing.T) {
	r := NewMarkdownRenderer()
	r.now = func() time.Time { return fixedNow }
	assert.Equal(t, ".md", r.Extension())

	out, err := r.Render(context.Background(), sampleResult(), "rep-1")
	require.NoError(t, err)
	doc := string(out)

	assert.True(t, strings.HasPrefix(doc, "# Weekly <Market> Report\n"))
	assert.Contains(t, doc, "**Documents Analyzed:** 8 | **Topics Identified:** 1")
	assert.Contains(t, doc, "### 1. Cloud Spending")
	assert.Contains(t, doc, "*7 documents* | Keywords: cloud, spending")
	assert.Contains(t, doc, "- [Report 1](https://example.com/r/1)")
	assert.Contains(t, doc, "- Report 2\n")
	assert.Contains(t, doc, "- ... and 2 more")
	assert.Contains(t, doc, "Unclustered documents: 1. Failed documents: 0.")
}

func TestRenderMarkdown(t *testing.T) {
	assert.Equal(t, "", string(RenderMarkdown("")))
	out := string(RenderMarkdown("See [site](https://example.com)"))
	assert.Contains(t, out, `href="https://example.com"`)
	assert.Contains(t, out, `target="_blank"`)
}

func TestWriteReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	name := ReportFilename(fixedNow, ".html")
	assert.Equal(t, "report_20260309_143000.html", name)

	path, err := WriteReport(dir, name, []byte("<html></html>"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, name), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))
}
