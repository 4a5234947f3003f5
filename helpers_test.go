package talisman

import (
	"context"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"
)

const testTimeout = 5 * time.Second

// render renders tmpl to a string, failing the test on error or timeout.
func render(t *testing.T, tmpl *Template) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	out, err := tmpl.RenderString(ctx)
	if err != nil {
		t.Fatalf("RenderString() error = %v (partial output %q)", err, out)
	}
	return out
}

// parseHTML parses rendered output into a DOM tree.
func parseHTML(t *testing.T, out string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(out))
	if err != nil {
		t.Fatalf("Failed to parse rendered HTML: %v", err)
	}
	return doc
}

// findByID returns the element with the given id attribute, or nil.
func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key == "id" && attr.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

// textContent concatenates all text below n.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// elementText renders out, looks up the element by id and returns its text.
func elementText(t *testing.T, out, id string) string {
	t.Helper()
	el := findByID(parseHTML(t, out), id)
	if el == nil {
		t.Fatalf("Element #%s not found in %q", id, out)
	}
	return textContent(el)
}

// countElements counts elements with the given tag name.
func countElements(n *html.Node, tag string) int {
	count := 0
	if n.Type == html.ElementNode && n.Data == tag {
		count++
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		count += countElements(c, tag)
	}
	return count
}
