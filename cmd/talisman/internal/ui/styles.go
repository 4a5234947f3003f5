// Package ui holds the terminal styles shared by the talisman commands.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/livefir/talisman"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	blockStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	tagStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB454"))
	maskStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

func Title(s string) string   { return titleStyle.Render(s) }
func Error(s string) string   { return errorStyle.Render(s) }
func Success(s string) string { return successStyle.Render(s) }
func Muted(s string) string   { return mutedStyle.Render(s) }

// PrintTree writes an indented outline of the blocks and tags under root.
func PrintTree(w io.Writer, root *talisman.Block) {
	printNodes(w, root.Content, 0)
}

func printNodes(w io.Writer, nodes []talisman.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		switch n := n.(type) {
		case *talisman.Block:
			fmt.Fprintf(w, "%s%s\n", indent, blockStyle.Render("<!-- "+n.Name+" -->"))
			printNodes(w, n.Content, depth+1)
		case *talisman.Tag:
			line := indent + tagStyle.Render("{"+n.Name+"}")
			if len(n.Masks) > 0 {
				line += " " + maskStyle.Render("| "+strings.Join(n.Masks, " | "))
			}
			fmt.Fprintln(w, line)
		}
	}
}

// Summary counts the blocks and tags under root.
func Summary(root *talisman.Block) (blocks, tags int) {
	root.Walk(func(n talisman.Node) bool {
		switch n := n.(type) {
		case *talisman.Block:
			if !n.IsRoot() {
				blocks++
			}
		case *talisman.Tag:
			tags++
		}
		return true
	})
	return blocks, tags
}
