// Package render turns pipeline results into HTML and markdown reports.
package render

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bireport/internal/core"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// MaxRelatedDocuments is how many member titles a topic lists.
const MaxRelatedDocuments = 5

const (
	dateLayout     = "January 02, 2006"
	dateTimeLayout = "January 02, 2006 at 03:04 PM MST"
)

// reportView is the template data for one report.
type reportView struct {
	ReportID         string
	RunID            string
	Title            string
	PeriodStart      string
	PeriodEnd        string
	ReportDate       string
	GeneratedAt      string
	DocumentCount    int
	TopicCount       int
	FailedCount      int
	UnclusteredCount int
	ExecutiveSummary template.HTML
	ExecutiveText    string
	Topics           []topicView
}

type topicView struct {
	ID          string
	Label       string
	Keywords    []string
	Size        int
	Summary     template.HTML
	SummaryText string
	Documents   []documentView
	More        int
}

type documentView struct {
	ID         string
	Title      string
	Link       string
	SourceType core.SourceType
}

func buildView(result *core.PipelineResult, reportID string, now time.Time, md func(string) template.HTML) reportView {
	start, end := result.StartedAt, result.FinishedAt
	if start.IsZero() {
		start = now
	}
	if end.IsZero() {
		end = now
	}

	v := reportView{
		ReportID:         reportID,
		RunID:            result.RunID,
		Title:            result.Title,
		PeriodStart:      start.Format(dateLayout),
		PeriodEnd:        end.Format(dateLayout),
		ReportDate:       now.Format("2006-01-02"),
		GeneratedAt:      now.Format(dateTimeLayout),
		DocumentCount:    result.DocumentCount,
		TopicCount:       len(result.Topics),
		FailedCount:      len(result.FailedDocumentIDs),
		UnclusteredCount: len(result.UnclusteredIDs),
		ExecutiveText:    strings.TrimSpace(result.ExecutiveSummary),
	}
	if v.Title == "" {
		v.Title = "Business Intelligence Report"
	}
	if md != nil {
		v.ExecutiveSummary = md(v.ExecutiveText)
	}

	for _, t := range result.Topics {
		tv := topicView{
			ID:          t.ID,
			Label:       t.Label,
			Keywords:    t.Keywords,
			Size:        t.Size(),
			SummaryText: strings.TrimSpace(t.Summary),
		}
		if md != nil {
			tv.Summary = md(tv.SummaryText)
		}
		for i, id := range t.MemberIDs {
			if i == MaxRelatedDocuments {
				tv.More = len(t.MemberIDs) - MaxRelatedDocuments
				break
			}
			tv.Documents = append(tv.Documents, documentViewFor(result, id))
		}
		v.Topics = append(v.Topics, tv)
	}
	return v
}

func documentViewFor(result *core.PipelineResult, id string) documentView {
	dv := documentView{ID: id, Title: id}
	doc, ok := result.DocumentByID(id)
	if !ok {
		return dv
	}
	if doc.Metadata.Title != "" {
		dv.Title = doc.Metadata.Title
	}
	dv.SourceType = doc.Metadata.SourceType
	if u := doc.Metadata.OriginURI; strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		dv.Link = u
	}
	return dv
}

// RenderMarkdown converts markdown text to HTML. Raw HTML in the input is
// dropped, since summaries come from a language model.
func RenderMarkdown(text string) template.HTML {
	if text == "" {
		return template.HTML("")
	}

	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)

	htmlFlags := html.CommonFlags | html.HrefTargetBlank | html.SkipHTML
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: htmlFlags,
	})

	return template.HTML(markdown.ToHTML([]byte(text), mdParser, renderer))
}

// HTMLRenderer renders the self-contained HTML report.
type HTMLRenderer struct {
	tmpl *template.Template
	now  func() time.Time
}

// NewHTMLRenderer parses the embedded report template.
func NewHTMLRenderer() (*HTMLRenderer, error) {
	tmpl, err := template.New("report.html.tmpl").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(templateFS, "templates/report.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("%w: parse report template: %w", core.ErrRender, err)
	}
	return &HTMLRenderer{tmpl: tmpl, now: time.Now}, nil
}

func (r *HTMLRenderer) Extension() string { return ".html" }

func (r *HTMLRenderer) Render(ctx context.Context, result *core.PipelineResult, reportID string) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: no result to render", core.ErrRender)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	view := buildView(result, reportID, r.now(), RenderMarkdown)

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("%w: execute report template: %w", core.ErrRender, err)
	}
	return buf.Bytes(), nil
}

// MarkdownRenderer renders the report as a markdown document.
type MarkdownRenderer struct {
	now func() time.Time
}

func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{now: time.Now}
}

func (r *MarkdownRenderer) Extension() string { return ".md" }

func (r *MarkdownRenderer) Render(ctx context.Context, result *core.PipelineResult, reportID string) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: no result to render", core.ErrRender)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := buildView(result, reportID, r.now(), nil)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", v.Title)
	fmt.Fprintf(&b, "**Period:** %s - %s\n\n", v.PeriodStart, v.PeriodEnd)
	fmt.Fprintf(&b, "**Documents Analyzed:** %d | **Topics Identified:** %d\n\n", v.DocumentCount, v.TopicCount)
	b.WriteString("---\n\n")

	b.WriteString("## Executive Summary\n\n")
	if v.ExecutiveText != "" {
		b.WriteString(v.ExecutiveText)
	} else {
		b.WriteString("No executive summary available.")
	}
	b.WriteString("\n\n---\n\n")

	b.WriteString("## Topics Analysis\n\n")
	if len(v.Topics) == 0 {
		b.WriteString("No topics were identified.\n\n")
	}
	for i, t := range v.Topics {
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, t.Label)
		fmt.Fprintf(&b, "*%d documents*", t.Size)
		if len(t.Keywords) > 0 {
			fmt.Fprintf(&b, " | Keywords: %s", strings.Join(t.Keywords, ", "))
		}
		b.WriteString("\n\n")
		if t.SummaryText != "" {
			b.WriteString(t.SummaryText + "\n\n")
		}
		if len(t.Documents) > 0 {
			b.WriteString("**Related Documents:**\n\n")
			for _, d := range t.Documents {
				if d.Link != "" {
					fmt.Fprintf(&b, "- [%s](%s)\n", d.Title, d.Link)
				} else {
					fmt.Fprintf(&b, "- %s\n", d.Title)
				}
			}
			if t.More > 0 {
				fmt.Fprintf(&b, "- ... and %d more\n", t.More)
			}
			b.WriteString("\n")
		}
	}

	if v.UnclusteredCount > 0 || v.FailedCount > 0 {
		fmt.Fprintf(&b, "*Unclustered documents: %d. Failed documents: %d.*\n\n", v.UnclusteredCount, v.FailedCount)
	}
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "*Generated on %s*\n", v.GeneratedAt)
	return []byte(b.String()), nil
}

// ReportFilename returns the file name for a report created at ts.
func ReportFilename(ts time.Time, ext string) string {
	return fmt.Sprintf("report_%s%s", ts.UTC().Format("20060102_150405"), ext)
}

// WriteReport writes body to outputDir/filename, creating the directory.
func WriteReport(outputDir, filename string, body []byte) (string, error) {
	if outputDir == "" {
		outputDir = "reports"
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	filePath := filepath.Join(outputDir, filename)
	if err := os.WriteFile(filePath, body, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file %s: %w", filePath, err)
	}
	return filePath, nil
}
