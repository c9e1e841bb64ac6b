// Package summarize produces topic and executive summaries with a text
// generation service.
package summarize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bireport/internal/core"
	"bireport/internal/logger"
	"bireport/internal/metrics"
	"bireport/internal/retry"

	"github.com/rs/zerolog"
)

// Options configures the summarizer behavior
type Options struct {
	// Context budget for member document text, excluding prompt scaffolding
	InputTokenBudget int

	// Quality control
	MinWords int // Minimum words for a valid response

	// Prompt conditioning
	ReportTitle       string
	AudienceProfile   string
	TopicMaxWords     int
	ExecutiveMaxWords int

	Retry       retry.Policy
	CallTimeout time.Duration
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		InputTokenBudget:  6000,
		MinWords:          5,
		TopicMaxWords:     250,
		ExecutiveMaxWords: 400,
		Retry:             retry.DefaultPolicy(),
		CallTimeout:       90 * time.Second,
	}
}

// Summarizer turns clustered topics into prose.
type Summarizer struct {
	gen     core.Generator
	counter TokenCounter
	opts    Options
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New creates a Summarizer. A nil counter falls back to EstimateCounter.
func New(gen core.Generator, counter TokenCounter, opts Options, m *metrics.Metrics) *Summarizer {
	if counter == nil {
		counter = EstimateCounter{}
	}
	if opts.InputTokenBudget <= 0 {
		opts.InputTokenBudget = DefaultOptions().InputTokenBudget
	}
	return &Summarizer{
		gen:     gen,
		counter: counter,
		opts:    opts,
		metrics: m,
		log:     logger.Component("summarize"),
	}
}

// SummarizeTopic summarizes one topic from its members. docs is keyed by
// document ID; members missing from it are skipped.
func (s *Summarizer) SummarizeTopic(ctx context.Context, topic core.Topic, docs map[string]core.Document) (string, error) {
	content, included := AssembleContext(topic, docs, s.counter, s.opts.InputTokenBudget)
	if included == 0 {
		return "", fmt.Errorf("%w: topic %s has no member text", core.ErrDataIntegrity, topic.ID)
	}

	prompt := BuildTopicPrompt(topic, content, s.promptOptions(s.opts.TopicMaxWords))
	s.log.Debug().
		Str("topic", topic.ID).
		Int("members", topic.Size()).
		Int("included", included).
		Int("prompt_tokens", s.counter.Count(prompt)).
		Msg("summarizing topic")

	summary, err := s.generate(ctx, "summarize_topic", prompt)
	if err != nil {
		return "", fmt.Errorf("summarize topic %s: %w", topic.ID, err)
	}
	return summary, nil
}

// SummarizeExecutive synthesizes the topic summaries into one overview.
// Returns an empty string without calling the service when there are no topics.
func (s *Summarizer) SummarizeExecutive(ctx context.Context, topics []core.Topic) (string, error) {
	if len(topics) == 0 {
		return "", nil
	}
	ordered := OrderForExecutive(topics)

	documents := 0
	for _, t := range ordered {
		documents += t.Size()
	}

	prompt := BuildExecutivePrompt(ordered, documents, s.promptOptions(s.opts.ExecutiveMaxWords))
	summary, err := s.generate(ctx, "summarize_executive", prompt)
	if err != nil {
		return "", fmt.Errorf("executive summary: %w", err)
	}
	return summary, nil
}

func (s *Summarizer) promptOptions(maxWords int) PromptOptions {
	return PromptOptions{
		ReportTitle:     s.opts.ReportTitle,
		AudienceProfile: s.opts.AudienceProfile,
		MaxWords:        maxWords,
	}
}

// generate calls the service under the retry policy. Invalid output counts as
// a failed attempt.
func (s *Summarizer) generate(ctx context.Context, op, prompt string) (string, error) {
	policy := s.opts.Retry
	policy.OnRetry = func(attempt int, err error) {
		s.metrics.Retry(op)
		s.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("retrying generation")
	}

	return retry.DoValue(ctx, policy, core.IsTransient, func(ctx context.Context) (string, error) {
		callCtx, cancel := s.callContext(ctx)
		defer cancel()

		out, err := s.gen.Generate(callCtx, prompt)
		if err != nil {
			return "", err
		}
		out = CleanResponse(out)
		if err := Validate(out, s.opts.MinWords); err != nil {
			return "", err
		}
		return out, nil
	})
}

func (s *Summarizer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.CallTimeout)
}

// AssembleContext concatenates member text in MemberIDs order (nearest to the
// centroid first) until budget tokens are used. The document that crosses the
// budget is truncated and later members are left out. It returns the context
// and the number of documents that contributed text.
func AssembleContext(topic core.Topic, docs map[string]core.Document, counter TokenCounter, budget int) (string, int) {
	var b strings.Builder
	remaining := budget
	included := 0

	for _, id := range topic.MemberIDs {
		doc, ok := docs[id]
		if !ok || strings.TrimSpace(doc.Text) == "" {
			continue
		}
		if remaining <= 0 {
			break
		}

		title := doc.Metadata.Title
		if title == "" {
			title = doc.ID
		}
		piece := fmt.Sprintf("### %s\n%s\n\n", title, strings.TrimSpace(doc.Text))

		cost := counter.Count(piece)
		if cost > remaining {
			piece = counter.Truncate(piece, remaining)
			if strings.TrimSpace(piece) == "" {
				break
			}
			b.WriteString(piece)
			included++
			break
		}
		b.WriteString(piece)
		remaining -= cost
		included++
	}

	return strings.TrimSpace(b.String()), included
}

// OrderForExecutive sorts topics by descending member count, then topic ID.
// The input is not modified.
func OrderForExecutive(topics []core.Topic) []core.Topic {
	ordered := make([]core.Topic, len(topics))
	copy(ordered, topics)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Size() != ordered[j].Size() {
			return ordered[i].Size() > ordered[j].Size()
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

var responseLabels = []string{"BUSINESS SUMMARY:", "EXECUTIVE SUMMARY:", "SUMMARY:"}

// CleanResponse trims whitespace, code fences and echoed section labels.
func CleanResponse(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```markdown")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	for _, label := range responseLabels {
		if len(text) >= len(label) && strings.EqualFold(text[:len(label)], label) {
			text = strings.TrimSpace(text[len(label):])
			break
		}
	}
	return text
}

var refusalMarkers = []string{
	"i'm sorry",
	"i am sorry",
	"i cannot",
	"i can't",
	"as an ai",
	"i am unable",
	"i'm unable",
}

// Validate rejects empty, too short or refusal responses with ErrInvalidOutput.
func Validate(text string, minWords int) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty response", core.ErrInvalidOutput)
	}
	if words := len(strings.Fields(text)); words < minWords {
		return fmt.Errorf("%w: response too short: %d words (minimum: %d)", core.ErrInvalidOutput, words, minWords)
	}
	head := strings.ToLower(text)
	if len(head) > 80 {
		head = head[:80]
	}
	for _, marker := range refusalMarkers {
		if strings.HasPrefix(head, marker) {
			return fmt.Errorf("%w: refusal response", core.ErrInvalidOutput)
		}
	}
	return nil
}
