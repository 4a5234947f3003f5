package talisman

import (
	"strings"
)

// Node is one entry of a block's content: Text, *Tag or *Block.
type Node interface {
	node()
	writeTo(sb *strings.Builder)
}

// Text is static template text emitted verbatim.
type Text string

// Tag is a variable placeholder such as {name}, {user.email} or {title|upper}.
type Tag struct {
	Name  string   // full dotted name as written, e.g. "user.email"
	Path  []string // Name split on "."
	Masks []string // mask names in application order
	Raw   string   // placeholder text as it appeared in the template
}

// Block is a named, nestable region of the template delimited by
// <!-- name --> and <!-- /name -->. The synthetic root block has an empty name.
type Block struct {
	Name    string
	Content []Node

	open  string // start marker as written
	close string // end marker as written
}

func (Text) node()   {}
func (*Tag) node()   {}
func (*Block) node() {}

func (t Text) writeTo(sb *strings.Builder) { sb.WriteString(string(t)) }
func (t *Tag) writeTo(sb *strings.Builder) { sb.WriteString(t.Raw) }

func (b *Block) writeTo(sb *strings.Builder) {
	sb.WriteString(b.open)
	for _, n := range b.Content {
		n.writeTo(sb)
	}
	sb.WriteString(b.close)
}

// String re-serializes the block, markers included. For a parsed template the
// root's String returns the original text.
func (b *Block) String() string {
	var sb strings.Builder
	b.writeTo(&sb)
	return sb.String()
}

// RawText returns the original source of the block including its markers.
func (b *Block) RawText() string {
	return b.String()
}

// IsRoot reports whether b is the synthetic document root.
func (b *Block) IsRoot() bool {
	return b.Name == ""
}

// Find returns the first block named name in pre-order, or nil.
// A "container:name" path restricts the match to blocks nested in container.
func (b *Block) Find(name string) *Block {
	if container, inner, ok := strings.Cut(name, ":"); ok {
		c := b.Find(container)
		if c == nil {
			return nil
		}
		return c.findChild(inner)
	}
	if b.Name == name {
		return b
	}
	return b.findChild(name)
}

func (b *Block) findChild(name string) *Block {
	for _, n := range b.Content {
		child, ok := n.(*Block)
		if !ok {
			continue
		}
		if child.Name == name {
			return child
		}
		if found := child.findChild(name); found != nil {
			return found
		}
	}
	return nil
}

// Blocks returns the directly nested blocks in document order.
func (b *Block) Blocks() []*Block {
	var blocks []*Block
	for _, n := range b.Content {
		if child, ok := n.(*Block); ok {
			blocks = append(blocks, child)
		}
	}
	return blocks
}

// Tags returns the tags that belong directly to b, excluding nested blocks.
func (b *Block) Tags() []*Tag {
	var tags []*Tag
	for _, n := range b.Content {
		if tag, ok := n.(*Tag); ok {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Walk visits b and every nested node in document order. Returning false from
// fn skips the children of a block.
func (b *Block) Walk(fn func(Node) bool) {
	if !fn(b) {
		return
	}
	for _, n := range b.Content {
		if child, ok := n.(*Block); ok {
			child.Walk(fn)
			continue
		}
		fn(n)
	}
}
