package parser

import (
	"bufio"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// Matches markdown links: [text](url)
	markdownLinkRegex = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\)]+)\)`)

	// Matches raw URLs in text
	rawURLRegex = regexp.MustCompile(`https?://[^\s)<>"]+`)
)

var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "msclkid",
	"ref", "source",
}

// ExtractLinks returns the deduplicated http(s) URLs in content, in document
// order. Markdown links win over raw URLs on the same line.
func ExtractLinks(content string) []string {
	seen := make(map[string]bool)
	urls := []string{}

	add := func(raw string) {
		raw = strings.TrimRight(raw, ".,;")
		if ValidateURL(raw) != nil {
			return
		}
		normalized := NormalizeURL(raw)
		if !seen[normalized] {
			seen[normalized] = true
			urls = append(urls, normalized)
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()

		if matches := markdownLinkRegex.FindAllStringSubmatch(line, -1); len(matches) > 0 {
			for _, match := range matches {
				add(match[2])
			}
			continue
		}
		for _, raw := range rawURLRegex.FindAllString(line, -1) {
			add(raw)
		}
	}
	return urls
}

// ValidateURL checks that rawURL is an absolute http(s) URL
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s (must be http or https)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL missing host")
	}
	return nil
}

// NormalizeURL removes tracking parameters, the fragment and a trailing slash
func NormalizeURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	query := parsed.Query()
	for _, param := range trackingParams {
		query.Del(param)
	}
	parsed.RawQuery = query.Encode()
	parsed.Fragment = ""

	if parsed.Path != "" && parsed.Path != "/" {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}
	return parsed.String()
}

// GoogleDocID returns the document ID of a docs.google.com URL.
func GoogleDocID(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host != "docs.google.com" {
		return "", false
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "d" && parts[i+1] != "" {
			return parts[i+1], true
		}
	}
	return "", false
}
