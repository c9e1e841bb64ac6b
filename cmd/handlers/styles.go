package handlers

import (
	"fmt"
	"io"
	"strings"
	"time"

	"bireport/internal/core"
	"bireport/internal/pipeline"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#667eea"))
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#764ba2"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Width(22)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#667eea")).Padding(0, 1)
)

func printField(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "%s %v\n", labelStyle.Render(label), value)
}

func phaseStyle(p pipeline.Phase) lipgloss.Style {
	switch p {
	case pipeline.PhaseCompleted:
		return okStyle
	case pipeline.PhaseFailed:
		return errStyle
	case pipeline.PhaseRunning:
		return warnStyle
	default:
		return lipgloss.NewStyle()
	}
}

// printStatus renders a status snapshot
func printStatus(w io.Writer, s pipeline.StatusSnapshot) {
	fmt.Fprintln(w, titleStyle.Render("Pipeline status"))
	printField(w, "Phase", phaseStyle(s.Phase).Render(string(s.Phase)))
	if s.RunID != "" {
		printField(w, "Run", s.RunID)
	}
	if s.Stage != "" {
		printField(w, "Stage", s.Stage)
	}
	printField(w, "Documents processed", s.DocumentsProcessed)
	printField(w, "Topics identified", s.TopicsIdentified)
	if s.ReportURL != "" {
		printField(w, "Report", s.ReportURL)
	}
	if s.LastError != "" {
		printField(w, "Error", errStyle.Render(fmt.Sprintf("%s (%s at %s)", s.LastError, s.ErrorKind, s.ErrorStage)))
	}
}

// printResult renders a completed run
func printResult(w io.Writer, r *core.PipelineResult) {
	var head strings.Builder
	fmt.Fprintln(&head, titleStyle.Render(r.Title))
	fmt.Fprintf(&head, "%d documents, %d topics, %d unclustered, %d failed in %s",
		r.DocumentCount, len(r.Topics), len(r.UnclusteredIDs), len(r.FailedDocumentIDs),
		r.Stats.ProcessingTime.Round(time.Millisecond))
	fmt.Fprintln(w, boxStyle.Render(head.String()))
	fmt.Fprintln(w)

	for _, t := range r.Topics {
		fmt.Fprintf(w, "%s %s\n", headingStyle.Render(t.Label), labelStyle.UnsetWidth().Render(fmt.Sprintf("(%d documents)", t.Size())))
		if len(t.Keywords) > 0 {
			fmt.Fprintf(w, "  keywords: %s\n", strings.Join(t.Keywords, ", "))
		}
	}
	fmt.Fprintln(w)

	d := r.Delivery
	switch {
	case !d.Attempted:
		fmt.Fprintln(w, warnStyle.Render("Report delivery skipped"))
	case d.Successful:
		fmt.Fprintln(w, okStyle.Render("Report delivered"))
	default:
		fmt.Fprintln(w, warnStyle.Render("Report delivery incomplete"))
	}
	if d.LocalPath != "" {
		printField(w, "Local copy", d.LocalPath)
	}
	if d.RemoteURL != "" {
		printField(w, "Drive", d.RemoteURL)
	}
	if d.RenderErr != "" {
		printField(w, "Render error", errStyle.Render(d.RenderErr))
	}
	if d.UploadErr != "" {
		printField(w, "Upload error", errStyle.Render(d.UploadErr))
	}
}
