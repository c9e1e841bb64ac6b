package summarize

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"bireport/internal/core"
	"bireport/internal/retry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockGenerator replays scripted responses and records prompts.
type MockGenerator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "Revenue grew twelve percent on enterprise renewals this quarter.", nil
}

func (m *MockGenerator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	opts.CallTimeout = time.Second
	return opts
}

func testTopic() (core.Topic, map[string]core.Document) {
	docs := map[string]core.Document{
		"doc-0001": {ID: "doc-0001", Text: "alpha alpha alpha alpha", Metadata: core.Metadata{Title: "First"}},
		"doc-0002": {ID: "doc-0002", Text: "bravo bravo bravo bravo", Metadata: core.Metadata{Title: "Second"}},
		"doc-0003": {ID: "doc-0003", Text: "charlie charlie charlie charlie"},
	}
	topic := core.Topic{
		ID:        "topic-01",
		Label:     "Alpha & Bravo",
		Keywords:  []string{"alpha", "bravo"},
		MemberIDs: []string{"doc-0002", "doc-0001", "doc-0003"},
	}
	return topic, docs
}

func TestAssembleContextFollowsMemberOrder(t *testing.T) {
	topic, docs := testTopic()

	content, included := AssembleContext(topic, docs, EstimateCounter{}, 1000)
	assert.Equal(t, 3, included)
	assert.Less(t, strings.Index(content, "bravo"), strings.Index(content, "alpha"))
	assert.Contains(t, content, "### doc-0003")
}

func TestAssembleContextTruncatesAtBudget(t *testing.T) {
	topic, docs := testTopic()
	counter := EstimateCounter{}
	first := counter.Count("### Second\nbravo bravo bravo bravo\n\n")

	content, included := AssembleContext(topic, docs, counter, first+3)
	assert.Equal(t, 2, included)
	assert.Contains(t, content, "bravo bravo bravo bravo")
	assert.NotContains(t, content, "charlie")
	assert.LessOrEqual(t, counter.Count(content), first+3)
}

func TestSummarizeTopic(t *testing.T) {
	gen := &MockGenerator{responses: []string{"BUSINESS SUMMARY:\n  Alpha results beat the plan by a wide margin.  "}}
	opts := testOptions()
	opts.ReportTitle = "Monthly Business Intelligence Report"
	opts.AudienceProfile = "Operations leaders at mid-size firms"
	s := New(gen, EstimateCounter{}, opts, nil)

	topic, docs := testTopic()
	summary, err := s.SummarizeTopic(context.Background(), topic, docs)
	require.NoError(t, err)
	assert.Equal(t, "Alpha results beat the plan by a wide margin.", summary)

	require.Equal(t, 1, gen.calls())
	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "Monthly Business Intelligence Report")
	assert.Contains(t, prompt, "Operations leaders at mid-size firms")
	assert.Contains(t, prompt, "**Topic:** Alpha & Bravo")
}

func TestSummarizeTopicRetriesInvalidOutput(t *testing.T) {
	gen := &MockGenerator{responses: []string{"   ", "I'm sorry, I cannot help with that request today."}}
	s := New(gen, EstimateCounter{}, testOptions(), nil)

	topic, docs := testTopic()
	summary, err := s.SummarizeTopic(context.Background(), topic, docs)
	require.NoError(t, err)
	assert.Equal(t, 3, gen.calls())
	assert.Contains(t, summary, "Revenue grew")
}

func TestSummarizeTopicTransientThenSuccess(t *testing.T) {
	transient := core.NewServiceError("generate", 503, errors.New("unavailable"))
	gen := &MockGenerator{errs: []error{transient, transient}}
	s := New(gen, EstimateCounter{}, testOptions(), nil)

	topic, docs := testTopic()
	_, err := s.SummarizeTopic(context.Background(), topic, docs)
	require.NoError(t, err)
	assert.Equal(t, 3, gen.calls())
}

func TestSummarizeTopicPermanentFailure(t *testing.T) {
	permanent := core.NewServiceError("generate", 403, errors.New("forbidden"))
	gen := &MockGenerator{errs: []error{permanent}}
	s := New(gen, EstimateCounter{}, testOptions(), nil)

	topic, docs := testTopic()
	_, err := s.SummarizeTopic(context.Background(), topic, docs)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrService)
	assert.Equal(t, 1, gen.calls())
}

func TestSummarizeTopicExhaustsRetries(t *testing.T) {
	gen := &MockGenerator{responses: []string{"", "", "", ""}}
	s := New(gen, EstimateCounter{}, testOptions(), nil)

	topic, docs := testTopic()
	_, err := s.SummarizeTopic(context.Background(), topic, docs)
	assert.ErrorIs(t, err, core.ErrInvalidOutput)
	assert.Equal(t, 3, gen.calls())
}

func TestSummarizeTopicWithoutMemberText(t *testing.T) {
	gen := &MockGenerator{}
	s := New(gen, EstimateCounter{}, testOptions(), nil)

	_, err := s.SummarizeTopic(context.Background(), core.Topic{ID: "topic-09", MemberIDs: []string{"missing"}}, nil)
	assert.ErrorIs(t, err, core.ErrDataIntegrity)
	assert.Zero(t, gen.calls())
}

func TestOrderForExecutive(t *testing.T) {
	topics := []core.Topic{
		{ID: "topic-03", MemberIDs: []string{"a", "b"}},
		{ID: "topic-02", MemberIDs: []string{"c", "d", "e"}},
		{ID: "topic-01", MemberIDs: []string{"f", "g"}},
	}

	ordered := OrderForExecutive(topics)
	ids := make([]string, len(ordered))
	for i, t := range ordered {
		ids[i] = t.ID
	}
	if diff := cmp.Diff([]string{"topic-02", "topic-01", "topic-03"}, ids); diff != "" {
		t.Errorf("executive order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "topic-03", topics[0].ID, "input must not be reordered")
}

func TestSummarizeExecutive(t *testing.T) {
	gen := &MockGenerator{}
	s := New(gen, EstimateCounter{}, testOptions(), nil)

	topics := []core.Topic{
		{ID: "topic-02", Label: "Hiring", Summary: "Hiring slowed.", MemberIDs: []string{"a", "b"}},
		{ID: "topic-01", Label: "Revenue", Summary: "Revenue grew.", MemberIDs: []string{"c", "d", "e"}},
	}
	summary, err := s.SummarizeExecutive(context.Background(), topics)
	require.NoError(t, err)
	assert.NotEmpty(t, summary)

	prompt := gen.prompts[0]
	assert.Less(t, strings.Index(prompt, "**Revenue**"), strings.Index(prompt, "**Hiring**"))
	assert.Contains(t, prompt, "Number of Documents Analyzed: 5")
}

func TestSummarizeExecutiveWithoutTopics(t *testing.T) {
	gen := &MockGenerator{}
	s := New(gen, EstimateCounter{}, testOptions(), nil)

	summary, err := s.SummarizeExecutive(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, summary)
	assert.Zero(t, gen.calls())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		valid bool
	}{
		{"empty", "", false},
		{"whitespace", " \n\t", false},
		{"too short", "Too short", false},
		{"refusal", "I cannot summarize this content for you right now.", false},
		{"valid", "Revenue grew on strong enterprise renewals.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.text, 5)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, core.ErrInvalidOutput)
			}
		})
	}
}

func TestCleanResponse(t *testing.T) {
	assert.Equal(t, "Body text", CleanResponse("```markdown\nBody text\n```"))
	assert.Equal(t, "Overview", CleanResponse("executive summary: Overview"))
	assert.Equal(t, "Plain", CleanResponse("  Plain \n"))
}

func TestEstimateCounter(t *testing.T) {
	c := EstimateCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 2, c.Count("abcdefg"))
	assert.Equal(t, "alpha", c.Truncate("alpha bravo charlie", 2))
	assert.Equal(t, "short", c.Truncate("short", 10))
	assert.Empty(t, c.Truncate("anything", 0))
}

// stallingGenerator blocks until the call deadline on its first call.
type stallingGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *stallingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if n == 1 {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "Cloud spending rose across every business unit this quarter.", nil
}

func TestGenerationPastTimeoutIsRetried(t *testing.T) {
	gen := &stallingGenerator{}
	opts := testOptions()
	opts.CallTimeout = 20 * time.Millisecond
	s := New(gen, EstimateCounter{}, opts, nil)

	topic, docs := testTopic()
	summary, err := s.SummarizeTopic(context.Background(), topic, docs)
	require.NoError(t, err)
	assert.Contains(t, summary, "Cloud spending")
	assert.Equal(t, 2, gen.calls)
}

func TestValidPrefixDropsSplitRune(t *testing.T) {
	cut := "Zürich 東京"[:len("Zürich 東京")-2]
	assert.False(t, utf8.ValidString(cut))

	got := validPrefix(cut)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "Zürich 東", got)

	assert.Equal(t, "naïve", validPrefix("naïve"))
	assert.Equal(t, "", validPrefix(""))
}

func TestTiktokenTruncateKeepsValidUTF8(t *testing.T) {
	tc, err := NewTiktokenCounter(defaultEncoding)
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	text := strings.Repeat("東京の売上は前年比で大きく伸びた。", 20)
	for budget := 1; budget <= 40; budget++ {
		got := tc.Truncate(text, budget)
		require.True(t, utf8.ValidString(got), "budget %d produced invalid UTF-8", budget)
		assert.True(t, strings.HasPrefix(text, got))
	}
}
