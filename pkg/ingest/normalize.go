package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	htmlTagPattern   = regexp.MustCompile(`(?i)<\s*(html|body|head|p|div|br|h[1-6]|ul|ol|li|table|tr|td|span|a|article|section|pre|blockquote)\b[^>]*>`)
	blankRunPattern  = regexp.MustCompile(`\n{3,}`)
	spaceRunPattern  = regexp.MustCompile(`[ \t\f\v]+`)
	blockElementList = "p, div, h1, h2, h3, h4, h5, h6, ul, ol, table, tr, article, section, pre, blockquote, header, footer"
)

// LooksLikeHTML reports whether content contains recognizable markup.
func LooksLikeHTML(content string) bool {
	return htmlTagPattern.MatchString(content)
}

// NormalizeDocument converts HTML documents to plain text with paragraph
// breaks preserved. Plain text is returned unchanged.
func NormalizeDocument(content string) (string, error) {
	if !LooksLikeHTML(content) {
		return content, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script, style, noscript, template, svg").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("li").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("- ")
		s.AppendHtml("\n")
	})
	doc.Find("td, th").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	doc.Find(blockElementList).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n\n")
	})

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	return cleanText(root.Text()), nil
}

func cleanText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunPattern.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = blankRunPattern.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
