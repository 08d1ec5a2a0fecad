// Package snapshot reads the stored search-result pages captured for each
// fetchable question.
package snapshot

import (
	"net/url"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// DefaultExcerpt is the excerpt length in runes
const DefaultExcerpt = 280

// Summary is the readable view of an HTML snapshot
type Summary struct {
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
}

// Summarize extracts a title and a short text excerpt from a snapshot.
// Readability is tried first; pages it cannot handle fall back to a plain
// walk of the document text.
func Summarize(content, pageURL string, maxRunes int) Summary {
	if maxRunes <= 0 {
		maxRunes = DefaultExcerpt
	}

	var s Summary
	u, _ := url.Parse(pageURL)
	if article, err := readability.FromReader(strings.NewReader(content), u); err == nil {
		s.Title = strings.TrimSpace(article.Title)
		s.Excerpt = collapse(article.TextContent)
	}

	if s.Title == "" || s.Excerpt == "" {
		title, text := extractText(content)
		if s.Title == "" {
			s.Title = title
		}
		if s.Excerpt == "" {
			s.Excerpt = text
		}
	}

	s.Excerpt = truncate(s.Excerpt, maxRunes)
	return s
}

// extractText parses HTML and returns the document title and its visible text
func extractText(content string) (string, string) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", ""
	}

	var title string
	var sb strings.Builder
	var extract func(*html.Node)

	// Non-content elements
	skipTags := map[string]bool{
		"script": true, "style": true, "nav": true,
		"header": true, "footer": true, "aside": true,
		"noscript": true, "iframe": true, "head": true,
	}

	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}

		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}

	// head is skipped for text, so look for the title there first
	var findTitle func(*html.Node)
	findTitle = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findTitle(c)
		}
	}

	findTitle(doc)
	extract(doc)

	return title, collapse(sb.String())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	if max <= 3 {
		return string(r[:max])
	}
	return strings.TrimSpace(string(r[:max-3])) + "..."
}
