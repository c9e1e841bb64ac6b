package summarize

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"bireport/internal/logger"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// TokenCounter measures and trims text against a token budget.
type TokenCounter interface {
	Count(text string) int
	// Truncate returns the longest prefix of text that fits in maxTokens.
	Truncate(text string, maxTokens int) string
}

// NewTokenCounter returns a tiktoken counter for encoding, or the rune-based
// estimator when the encoding cannot be loaded (it is fetched on first use).
func NewTokenCounter(encoding string) TokenCounter {
	if encoding == "" {
		encoding = defaultEncoding
	}
	tc, err := NewTiktokenCounter(encoding)
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, estimating tokens", "encoding", encoding, "error", err.Error())
		return EstimateCounter{}
	}
	return tc
}

// TiktokenCounter counts BPE tokens with tiktoken-go.
type TiktokenCounter struct {
	encodingName string
	tke          *tiktoken.Tiktoken
	mu           sync.Mutex
}

// NewTiktokenCounter loads encoding by name.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{encodingName: encoding, tke: tke}, nil
}

func (tc *TiktokenCounter) Count(text string) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.tke.Encode(text, nil, nil))
}

func (tc *TiktokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tokens := tc.tke.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return validPrefix(tc.tke.Decode(tokens[:maxTokens]))
}

// validPrefix drops a rune split by a token boundary at the end of s and any
// other invalid bytes.
func validPrefix(s string) string {
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return strings.ToValidUTF8(s, "")
}

// Encoding is the name of the loaded encoding.
func (tc *TiktokenCounter) Encoding() string { return tc.encodingName }

// EstimateCounter approximates one token per four runes.
type EstimateCounter struct{}

const runesPerToken = 4

func (EstimateCounter) Count(text string) int {
	n := len([]rune(text))
	return (n + runesPerToken - 1) / runesPerToken
}

// Truncate cuts at the budget and then backs off to the last whitespace so
// words are not split.
func (EstimateCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	runes := []rune(text)
	limit := maxTokens * runesPerToken
	if len(runes) <= limit {
		return text
	}
	cut := runes[:limit]
	for i := len(cut) - 1; i > 0; i-- {
		if unicode.IsSpace(cut[i]) {
			return strings.TrimRightFunc(string(cut[:i]), unicode.IsSpace)
		}
	}
	return string(cut)
}
