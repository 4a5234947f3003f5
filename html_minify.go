package talisman

import (
	"strings"
	"sync"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

var (
	minifier     *minify.M
	minifierOnce sync.Once
)

// getMinifier returns a configured HTML minifier (singleton)
func getMinifier() *minify.M {
	minifierOnce.Do(func() {
		minifier = minify.New()
		minifier.Add("text/html", &html.Minifier{
			KeepDocumentTags: true,
			KeepEndTags:      true,
			KeepQuotes:       true,
			KeepWhitespace:   true,
		})
	})
	return minifier
}

// minifyStatic minifies one static fragment of a template. Fragments are
// cut at block markers and tags, so end tags, quotes and single spaces are
// kept to stay valid once the pieces are joined again.
func minifyStatic(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return collapseWhitespace(fragment)
	}
	minified, err := getMinifier().String("text/html", fragment)
	if err != nil {
		// If minification fails, fall back to original content
		return fragment
	}
	return minified
}

// collapseWhitespace turns every whitespace run into a single space while
// keeping a leading or trailing space that separates the fragment from a tag.
func collapseWhitespace(text string) string {
	if strings.TrimSpace(text) == "" {
		if text == "" {
			return ""
		}
		return " "
	}
	collapsed := strings.Join(strings.Fields(text), " ")
	if isSpace(text[0]) {
		collapsed = " " + collapsed
	}
	if isSpace(text[len(text)-1]) {
		collapsed += " "
	}
	return collapsed
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
