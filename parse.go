package talisman

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// <!-- name --> opens a block, <!-- /name --> closes it. The name group is
	// optional so that empty markers are reported instead of passed through.
	blockMarkerPattern = regexp.MustCompile(`<!--\s*(/?)\s*([A-Za-z_][\w-]*)?\s*-->`)

	// {name}, {a.b.c}, {name|mask|mask}
	tagPattern = regexp.MustCompile(`\{([A-Za-z_][\w-]*(?:\.[\w-]+)*)((?:\|[A-Za-z_][\w-]*)*)\}`)
)

type openBlock struct {
	block  *Block
	offset int
}

// ParseBlocks parses template text into its block/tag tree. The returned
// block is the synthetic root with an empty name.
func ParseBlocks(text string) (*Block, error) {
	return parseBlocks(text, nil)
}

// parseBlocks runs a single pass over the block markers, keeping a stack of
// open blocks. Static text between markers is split into Text and Tag nodes
// and appended to the innermost open block; transform, when set, rewrites
// each static Text fragment.
func parseBlocks(text string, transform func(string) string) (*Block, error) {
	root := &Block{}
	stack := []openBlock{{block: root}}
	pos := 0

	for _, loc := range blockMarkerPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		closing := loc[3] > loc[2]
		name := ""
		if loc[4] >= 0 {
			name = text[loc[4]:loc[5]]
		}

		top := stack[len(stack)-1]
		appendContent(top.block, text[pos:start], transform)
		pos = end

		if name == "" {
			return nil, newMalformedError(text, start, "", "block marker without a name")
		}

		if !closing {
			child := &Block{Name: name, open: text[start:end]}
			top.block.Content = append(top.block.Content, child)
			stack = append(stack, openBlock{block: child, offset: start})
			continue
		}

		if len(stack) == 1 {
			return nil, newMalformedError(text, start, name, "end marker without a matching start marker")
		}
		if top.block.Name != name {
			return nil, newMalformedError(text, start, name,
				fmt.Sprintf("end marker does not match open block %q", top.block.Name))
		}
		top.block.close = text[start:end]
		stack = stack[:len(stack)-1]
	}

	if len(stack) > 1 {
		unclosed := stack[len(stack)-1]
		return nil, newMalformedError(text, unclosed.offset, unclosed.block.Name, "block is never closed")
	}

	appendContent(root, text[pos:], transform)
	return root, nil
}

// appendContent splits static text into Text and Tag nodes.
func appendContent(b *Block, text string, transform func(string) string) {
	if text == "" {
		return
	}

	addText := func(s string) {
		if transform != nil {
			s = transform(s)
		}
		if s != "" {
			b.Content = append(b.Content, Text(s))
		}
	}

	pos := 0
	for _, loc := range tagPattern.FindAllStringSubmatchIndex(text, -1) {
		addText(text[pos:loc[0]])
		b.Content = append(b.Content, newTag(text[loc[0]:loc[1]], text[loc[2]:loc[3]], text[loc[4]:loc[5]]))
		pos = loc[1]
	}
	addText(text[pos:])
}

func newTag(raw, name, masks string) *Tag {
	tag := &Tag{
		Name: name,
		Path: strings.Split(name, "."),
		Raw:  raw,
	}
	if masks != "" {
		tag.Masks = strings.Split(strings.TrimPrefix(masks, "|"), "|")
	}
	return tag
}

// position converts a byte offset into a 1-based line and column.
func position(text string, offset int) (line, column int) {
	before := text[:offset]
	line = strings.Count(before, "\n") + 1
	column = offset - strings.LastIndex(before, "\n")
	return line, column
}
