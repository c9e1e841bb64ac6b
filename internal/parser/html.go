package parser

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"bireport/internal/core"

	"github.com/PuerkitoBio/goquery"
)

var (
	boilerplateSelector = "script, style, nav, footer, header, aside, form, iframe, noscript, .sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner"
	blockSelector       = "p, h1, h2, h3, h4, h5, h6, li, blockquote, pre"

	mainContentSelectors = []string{
		"article", "main", ".main-content", ".entry-content", ".post-content", ".post-body", ".article-body",
		"[role='main']",
		".content", "#content",
	}

	blankLines = regexp.MustCompile(`\n{3,}`)
)

// HTMLParser extracts the readable text of a web page with goquery.
type HTMLParser struct{}

func (HTMLParser) Parse(ctx context.Context, raw core.RawDocument) (core.ParsedDocument, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Bytes))
	if err != nil {
		return core.ParsedDocument{}, fmt.Errorf("%w: %s: %w", core.ErrParse, raw.Name, err)
	}

	title := ExtractTitle(doc)
	doc.Find(boilerplateSelector).Remove()

	var text strings.Builder
	for _, selector := range mainContentSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			writeBlocks(&text, s)
		})
		if text.Len() > 0 {
			break
		}
	}
	if text.Len() == 0 {
		writeBlocks(&text, doc.Find("body"))
	}
	if text.Len() == 0 {
		text.WriteString(strings.TrimSpace(doc.Find("body").Text()))
	}

	cleaned := strings.TrimSpace(blankLines.ReplaceAllString(text.String(), "\n\n"))
	if title == "" {
		title = firstLineTitle(cleaned)
	}
	return core.ParsedDocument{
		Title:      title,
		Text:       cleaned,
		SourceType: core.SourceTypeWeb,
		OriginURI:  raw.URI,
	}, nil
}

func writeBlocks(b *strings.Builder, s *goquery.Selection) {
	s.Find(blockSelector).Each(func(_ int, item *goquery.Selection) {
		if t := strings.Join(strings.Fields(item.Text()), " "); t != "" {
			b.WriteString(t)
			b.WriteString("\n\n")
		}
	})
}

// ExtractTitle returns the page title, falling back to og:title and the
// first h1.
func ExtractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("head title").First().Text()); title != "" {
		return title
	}
	if og, _ := doc.Find("meta[property='og:title']").Attr("content"); strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}
