// Package textutil normalises upstream prose for feed consumption:
// stripping markup, collapsing whitespace, clipping to a character budget
// and phrasing event time ranges in German.
package textutil

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()

	// Years glued to a following word happen when block elements are
	// flattened, e.g. "31.12.2025Bauarbeiten".
	gluedYearRe = regexp.MustCompile(`(\d{4})([A-Za-zÄÖÜäöüß])`)
)

// HTMLToText converts an HTML fragment to plain text. Block boundaries and
// <br> become newlines, list items get a bullet prefix, entities are
// decoded and whitespace is collapsed per line. Paragraph breaks survive as
// single newlines.
func HTMLToText(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return normalizeLines(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return normalizeLines(StripTags(s))
	}
	doc.Find("br").Each(func(_ int, sel *goquery.Selection) {
		sel.ReplaceWithHtml("\n")
	})
	doc.Find("li").Each(func(_ int, sel *goquery.Selection) {
		sel.PrependHtml("• ")
	})
	doc.Find("p, div, li, ul, ol, h1, h2, h3, h4, h5, h6, tr, table, section, article, blockquote").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})
	return normalizeLines(doc.Text())
}

// StripTags removes all markup without interpreting structure.
func StripTags(s string) string {
	return html.UnescapeString(strictPolicy.Sanitize(s))
}

// SingleLine flattens multi line text into one line, separating former
// lines with a bullet.
func SingleLine(s string) string {
	var parts []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "• "))
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " • ")
}

// CollapseWhitespace folds runs of whitespace into single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ScrubControl removes control characters. Newlines survive because they
// separate the logical lines of a description; tabs become spaces.
func ScrubControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == '\t':
			return ' '
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
}

func normalizeLines(s string) string {
	s = gluedYearRe.ReplaceAllString(s, "$1 $2")
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = CollapseWhitespace(line)
		if line == "" || line == "•" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
