package summarize

import (
	"fmt"
	"strings"

	"bireport/internal/core"
)

// PromptOptions configures prompt generation
type PromptOptions struct {
	ReportTitle     string
	AudienceProfile string // Target reader description, empty for a general business audience
	MaxWords        int    // Target word count
}

// BuildTopicPrompt creates the per-topic summary prompt. content is the
// already budgeted document context.
func BuildTopicPrompt(topic core.Topic, content string, opts PromptOptions) string {
	var prompt strings.Builder

	prompt.WriteString("You are an expert business analyst creating a summary for a specific topic")
	if opts.ReportTitle != "" {
		prompt.WriteString(fmt.Sprintf(" in the report \"%s\"", opts.ReportTitle))
	}
	prompt.WriteString(".\n\n")

	writeAudience(&prompt, opts.AudienceProfile)

	prompt.WriteString(fmt.Sprintf("**Topic:** %s\n", topic.Label))
	if len(topic.Keywords) > 0 {
		prompt.WriteString(fmt.Sprintf("**Keywords:** %s\n", strings.Join(topic.Keywords, ", ")))
	}
	prompt.WriteString(fmt.Sprintf("**Documents in topic:** %d\n\n", topic.Size()))

	prompt.WriteString("Based on the following content, write a business summary that:\n")
	prompt.WriteString("1. Identifies key points and insights\n")
	prompt.WriteString("2. Highlights important trends or patterns\n")
	prompt.WriteString("3. Notes any critical issues or opportunities\n")
	prompt.WriteString("4. Provides actionable takeaways\n\n")

	prompt.WriteString("**RULES:**\n")
	prompt.WriteString("- Use only facts present in the content; include specific numbers, names and dates\n")
	if opts.MaxWords > 0 {
		prompt.WriteString(fmt.Sprintf("- Keep it under %d words\n", opts.MaxWords))
	}
	prompt.WriteString("- Write only the summary, no preamble or meta-commentary\n\n")

	prompt.WriteString("**Content:**\n")
	prompt.WriteString(content)
	prompt.WriteString("\n\nBUSINESS SUMMARY:")

	return prompt.String()
}

// BuildExecutivePrompt creates the cross-topic executive summary prompt.
// topics must already be in presentation order.
func BuildExecutivePrompt(topics []core.Topic, documentCount int, opts PromptOptions) string {
	var prompt strings.Builder

	prompt.WriteString("You are a senior business analyst creating an executive summary for C-level executives.\n\n")
	writeAudience(&prompt, opts.AudienceProfile)

	if opts.ReportTitle != "" {
		prompt.WriteString(fmt.Sprintf("Report: %s\n", opts.ReportTitle))
	}
	prompt.WriteString(fmt.Sprintf("Number of Documents Analyzed: %d\n", documentCount))
	prompt.WriteString(fmt.Sprintf("Number of Topics Identified: %d\n\n", len(topics)))

	prompt.WriteString("Topic Summaries:\n")
	for _, t := range topics {
		summary := t.Summary
		if summary == "" {
			summary = "Keywords: " + strings.Join(t.Keywords, ", ")
		}
		prompt.WriteString(fmt.Sprintf("**%s** (%d documents): %s\n\n", t.Label, t.Size(), truncateRunes(summary, 600)))
	}

	prompt.WriteString("Create an executive summary that:\n")
	prompt.WriteString("1. Provides a high-level overview of the key findings\n")
	prompt.WriteString("2. Identifies the most critical business insights\n")
	prompt.WriteString("3. Highlights strategic opportunities and risks\n")
	prompt.WriteString("4. Suggests priority areas for attention\n")
	prompt.WriteString("5. Concludes with 3-5 actionable recommendations\n\n")
	if opts.MaxWords > 0 {
		prompt.WriteString(fmt.Sprintf("Keep the summary concise but comprehensive (maximum %d words).\n\n", opts.MaxWords))
	}
	prompt.WriteString("EXECUTIVE SUMMARY:")

	return prompt.String()
}

func writeAudience(prompt *strings.Builder, audience string) {
	if strings.TrimSpace(audience) == "" {
		return
	}
	prompt.WriteString("You are writing for the following target audience:\n")
	prompt.WriteString(strings.TrimSpace(audience))
	prompt.WriteString("\n\n")
}

// truncateRunes limits text to maxRunes, adding an ellipsis when cut.
func truncateRunes(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:maxRunes])) + "..."
}
