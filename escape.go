package talisman

import (
	"golang.org/x/net/html"
)

// Escape escapes the five HTML special characters <, >, &, ' and ".
func Escape(text string) string {
	return html.EscapeString(text)
}
