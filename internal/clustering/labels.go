package clustering

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"bireport/internal/core"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ExtractKeywords returns up to limit of the most frequent content words across
// members. Ties are broken alphabetically.
func ExtractKeywords(members []core.Document, limit int) []string {
	counts := make(map[string]int)
	for _, d := range members {
		for _, w := range tokenize(d.Metadata.Title + " " + d.Text) {
			counts[w]++
		}
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > limit {
		words = words[:limit]
	}
	return words
}

// GenerateLabel names a topic from its top keyphrase and the title of the
// centroid-nearest member (members[0]), as "Keyphrase: Title". The prefix is
// left out when the title already contains the keyphrase. Either part alone is
// used when the other is missing, and a positional name when both are.
func GenerateLabel(members []core.Document, keywords []string, position int) string {
	var nearest string
	if len(members) > 0 {
		nearest = strings.TrimSpace(members[0].Metadata.Title)
	}
	var phrase string
	if len(keywords) > 0 {
		phrase = cases.Title(language.English).String(keywords[0])
	}

	switch {
	case phrase != "" && nearest != "":
		if strings.Contains(strings.ToLower(nearest), keywords[0]) {
			return nearest
		}
		return phrase + ": " + nearest
	case nearest != "":
		return nearest
	case phrase != "":
		return phrase
	default:
		return fmt.Sprintf("Topic %d", position+1)
	}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	words := fields[:0]
	for _, w := range fields {
		if len([]rune(w)) > 3 && !stopWords[w] {
			words = append(words, w)
		}
	}
	return words
}

var stopWords = func() map[string]bool {
	list := []string{
		"about", "after", "also", "been", "before", "being", "between", "both",
		"could", "does", "each", "from", "have", "here", "into", "just", "like",
		"make", "many", "more", "most", "much", "only", "other", "over", "said",
		"same", "some", "such", "than", "that", "their", "them", "then", "there",
		"these", "they", "this", "those", "through", "time", "under", "very",
		"were", "what", "when", "where", "which", "while", "will", "with",
		"would", "your", "page", "document", "report",
	}
	m := make(map[string]bool, len(list))
	for _, w := range list {
		m[w] = true
	}
	return m
}()
