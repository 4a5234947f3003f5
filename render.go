package talisman

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// sink receives output chunks in document order.
type sink func([]byte) error

// frame is one level of the render scope chain. Entering a block pushes a
// frame; iterator rows and object bindings carry their fields in row.
type frame struct {
	parent *frame
	block  *Block
	row    any
	hasRow bool
}

func (f *frame) local(name string) (any, bool) {
	for cur := f; cur != nil; cur = cur.parent {
		if !cur.hasRow {
			continue
		}
		if v, ok := field(cur.row, name); ok {
			return v, true
		}
	}
	return nil, false
}

// scopes lists the names of the enclosing blocks, nearest first.
func (f *frame) scopes() []string {
	var names []string
	for cur := f; cur != nil; cur = cur.parent {
		if cur.block == nil || cur.block.Name == "" {
			continue
		}
		if len(names) > 0 && names[len(names)-1] == cur.block.Name {
			continue
		}
		names = append(names, cur.block.Name)
	}
	return names
}

// blockKeys returns the names b answers to when entered from f:
// "container:name" for the nearest named enclosing block, then "name".
func blockKeys(f *frame, b *Block) []string {
	keys := make([]string, 0, 2)
	for cur := f; cur != nil; cur = cur.parent {
		if cur.block != nil && cur.block.Name != "" {
			keys = append(keys, cur.block.Name+":"+b.Name)
			break
		}
	}
	return append(keys, b.Name)
}

type renderer struct {
	t     *Template
	cfg   Config
	log   *slog.Logger
	group *errgroup.Group
}

// Render returns the rendered output as a stream. Output is produced only
// as fast as it is read. Closing the stream early abandons every pending
// resolution; nothing is written after that.
//
// Render never fails synchronously: a template that could not be parsed
// renders as a small HTML error document.
func (t *Template) Render(ctx context.Context) io.ReadCloser {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	go func() {
		defer cancel()
		pw.CloseWithError(t.Execute(ctx, pw))
	}()
	return &renderStream{PipeReader: pr, cancel: cancel}
}

// renderStream cancels the render when the reader is closed, so work blocked
// on a pending value stops too, not only work blocked on a write.
type renderStream struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (s *renderStream) Close() error {
	s.cancel()
	return s.PipeReader.Close()
}

// RenderString renders the whole template into a string.
func (t *Template) RenderString(ctx context.Context) (string, error) {
	var sb strings.Builder
	if err := t.Execute(ctx, &sb); err != nil {
		return sb.String(), err
	}
	return sb.String(), nil
}

// Execute renders the template into w, blocking until the output is
// complete, ctx is done or a write to w fails.
func (t *Template) Execute(ctx context.Context, w io.Writer) error {
	t.metrics.IncrementRenderStarted()

	if t.err != nil {
		t.log.Debug("rendering error document", "error", t.err)
		n, err := io.WriteString(w, errorDocument(t.err))
		t.metrics.AddChunk(n)
		t.metrics.IncrementRenderFinished(err != nil)
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	r := &renderer{
		t:     t,
		cfg:   t.config,
		log:   t.log,
		group: group,
	}

	root := &frame{block: t.root}
	emit := r.writer(gctx, w)
	group.Go(func() error {
		return r.renderNodes(gctx, root, t.root.Content, emit)
	})

	err := group.Wait()
	t.metrics.IncrementRenderFinished(err != nil)
	if err != nil {
		t.log.Debug("render aborted", "error", err)
		return err
	}
	t.log.Debug("render complete")
	return nil
}

func (r *renderer) writer(ctx context.Context, w io.Writer) sink {
	return func(p []byte) error {
		if len(p) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(p)
		r.t.metrics.AddChunk(n)
		return err
	}
}

// renderNodes emits nodes in order. Tags up to Lookahead positions ahead of
// the current node are resolved concurrently into bounded channels; their
// output is still emitted only when the cursor reaches them. Blocks are
// entered only at their turn, so their visibility reflects any Remove or
// Bind made by earlier content.
func (r *renderer) renderNodes(ctx context.Context, f *frame, nodes []Node, emit sink) error {
	ahead := make([]<-chan []byte, len(nodes))
	next := 0

	for i, n := range nodes {
		for ; next < len(nodes) && next <= i+r.cfg.Lookahead; next++ {
			if tag, ok := nodes[next].(*Tag); ok && next > i {
				ahead[next] = r.prefetch(ctx, f, tag)
			}
		}

		var err error
		switch n := n.(type) {
		case Text:
			err = emit([]byte(n))
		case *Tag:
			if ch := ahead[i]; ch != nil {
				err = drain(ch, emit)
			} else {
				err = r.renderTag(ctx, f, n, emit)
			}
		case *Block:
			err = r.renderBlock(ctx, f, n, emit)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// prefetch resolves tag in its own goroutine. The channel holds at most
// ChunkBuffer chunks, after which the producer waits for the cursor.
func (r *renderer) prefetch(ctx context.Context, f *frame, tag *Tag) <-chan []byte {
	ch := make(chan []byte, r.cfg.ChunkBuffer)
	r.group.Go(func() error {
		defer close(ch)
		err := r.renderTag(ctx, f, tag, func(p []byte) error {
			select {
			case ch <- p:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			r.log.Debug("prefetch stopped", "tag", tag.Name, "error", err)
		}
		// the cursor reports write failures; a stopped prefetch is not one
		return nil
	})
	return ch
}

func drain(ch <-chan []byte, emit sink) error {
	for p := range ch {
		if err := emit(p); err != nil {
			return err
		}
	}
	return nil
}

// lookup resolves a top-level name through the row frames, then the
// document variables.
func (r *renderer) lookup(f *frame, name string) (Value, bool) {
	if v, ok := f.local(name); ok {
		val := ValueOf(v)
		return val, val.Defined()
	}
	return r.t.variable(name)
}

func (r *renderer) renderTag(ctx context.Context, f *frame, tag *Tag, emit sink) error {
	value, ok := r.lookup(f, tag.Path[0])
	if !ok {
		return r.undefinedTag(tag, emit)
	}
	return r.emitValue(ctx, f, tag, value, tag.Path[1:], emit)
}

// emitValue is the single dispatch point over the Value variants.
func (r *renderer) emitValue(ctx context.Context, f *frame, tag *Tag, v Value, rest []string, emit sink) error {
	switch v.kind {
	case KindUndefined:
		return r.undefinedTag(tag, emit)

	case KindDeferred:
		result, err := v.deferred.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return r.failedTag(tag, err, emit)
		}
		return r.emitValue(ctx, f, tag, v.settle(result), rest, emit)

	case KindFunc:
		result, err := v.fn(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return r.failedTag(tag, err, emit)
		}
		return r.emitValue(ctx, f, tag, v.settle(result), rest, emit)

	case KindLiteral:
		if len(rest) > 0 {
			nested, ok := walkPath(v.literal, rest)
			if !ok {
				return r.undefinedTag(tag, emit)
			}
			return r.emitValue(ctx, f, tag, v.settle(nested), nil, emit)
		}
		masked, raw := r.applyMasks(f, tag, v.literal)
		return emit([]byte(r.escape(stringify(masked), raw || v.raw)))

	case KindBlock:
		if len(rest) > 0 {
			return r.undefinedTag(tag, emit)
		}
		b := v.block
		if b.Name != tag.Name {
			b = &Block{Name: tag.Name, Content: v.block.Content}
		}
		return r.renderBlock(ctx, f, b, emit)

	case KindStream:
		if len(rest) > 0 {
			return r.undefinedTag(tag, emit)
		}
		return r.emitStream(ctx, f, tag, v, emit)

	case KindSource:
		if len(rest) > 0 {
			return r.undefinedTag(tag, emit)
		}
		return r.emitSource(ctx, f, tag, v, emit)
	}
	return nil
}

// emitStream forwards a byte stream chunk by chunk. A rune split across
// reads is carried to the next chunk so masks never see half a character.
func (r *renderer) emitStream(ctx context.Context, f *frame, tag *Tag, v Value, emit sink) error {
	if c, ok := v.reader.(io.Closer); ok {
		var once sync.Once
		closeReader := func() { once.Do(func() { c.Close() }) }
		stop := context.AfterFunc(ctx, closeReader)
		defer func() {
			stop()
			closeReader()
		}()
	}

	buf := make([]byte, r.cfg.ChunkSize)
	var carry []byte
	emitted := false
	for {
		n, err := v.reader.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			complete, rest := splitUTF8(chunk)
			carry = slices.Clone(rest)
			if len(complete) > 0 {
				if werr := r.emitChunk(f, tag, v, complete, emit); werr != nil {
					return werr
				}
				emitted = true
			}
		}
		if errors.Is(err, io.EOF) {
			return r.emitChunk(f, tag, v, carry, emit)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if emitted {
				r.resolutionFailed("tag", tag.Name, err)
				return nil
			}
			return r.failedTag(tag, err, emit)
		}
	}
}

func (r *renderer) emitChunk(f *frame, tag *Tag, v Value, chunk []byte, emit sink) error {
	if len(chunk) == 0 {
		return nil
	}
	masked, raw := r.applyMasks(f, tag, string(chunk))
	return emit([]byte(r.escape(stringify(masked), raw || v.raw)))
}

// emitSource writes every object of a Source into the tag's output region.
func (r *renderer) emitSource(ctx context.Context, f *frame, tag *Tag, v Value, emit sink) error {
	if c, ok := v.source.(io.Closer); ok {
		defer c.Close()
	}
	for {
		item, err := v.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.resolutionFailed("tag", tag.Name, err)
			return nil
		}
		if err := r.emitValue(ctx, f, tag, v.settle(item), nil, emit); err != nil {
			return err
		}
	}
}

func (r *renderer) applyMasks(f *frame, tag *Tag, value any) (any, bool) {
	if len(tag.Masks) == 0 {
		return value, false
	}
	raw := false
	scopes := f.scopes()
	for _, name := range tag.Masks {
		if name == rawMask {
			raw = true
			continue
		}
		fn, ok := r.t.mask(name, scopes)
		if !ok {
			r.log.Debug("mask not in scope", "mask", name, "tag", tag.Name)
			continue
		}
		value = fn(value)
	}
	return value, raw
}

func (r *renderer) escape(s string, raw bool) string {
	if raw || r.cfg.DisableEscaping {
		return s
	}
	return Escape(s)
}

func (r *renderer) undefinedTag(tag *Tag, emit sink) error {
	if r.cfg.HideUndefinedTags {
		return nil
	}
	return emit([]byte(tag.Raw))
}

// failedTag falls back to the placeholder for a value that failed to resolve.
func (r *renderer) failedTag(tag *Tag, err error, emit sink) error {
	r.resolutionFailed("tag", tag.Name, err)
	out := tag.Raw
	if r.cfg.Debug {
		out += debugComment(&ResolutionError{Name: tag.Name, Err: err})
	}
	return emit([]byte(out))
}

func (r *renderer) resolutionFailed(kind, name string, err error) {
	r.t.metrics.IncrementResolutionError()
	r.log.Warn("value resolution failed", kind, name, "error", err)
}

// renderBlock walks a block through its gate, visibility check and binding.
func (r *renderer) renderBlock(ctx context.Context, f *frame, b *Block, emit sink) error {
	keys := blockKeys(f, b)

	if gate := r.t.gate(keys); gate != nil {
		if _, err := gate.Wait(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if r.t.isHidden(keys) && !r.t.anyMarked(r.t.shown, keys) {
		return r.suppress(b, "hidden")
	}

	value, bound := r.t.iterator(keys)
	if !bound {
		value, bound = r.lookup(f, b.Name)
	}
	if !bound {
		if !r.t.isShown(keys) && !r.tagsBound(f, b) {
			return r.suppress(b, "unbound")
		}
		return r.renderRow(ctx, f, b, b.Content, nil, false, emit)
	}
	return r.renderBlockValue(ctx, f, b, value, emit)
}

func (r *renderer) renderBlockValue(ctx context.Context, f *frame, b *Block, v Value, emit sink) error {
	switch v.kind {
	case KindDeferred:
		result, err := v.deferred.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.resolutionFailed("block", b.Name, err)
			return r.suppress(b, "rejected")
		}
		return r.renderBlockValue(ctx, f, b, v.settle(result), emit)

	case KindFunc:
		result, err := v.fn(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.resolutionFailed("block", b.Name, err)
			return r.suppress(b, "rejected")
		}
		return r.renderBlockValue(ctx, f, b, v.settle(result), emit)

	case KindSource:
		return r.renderRows(ctx, f, b, v.source, emit)

	case KindBlock:
		return r.renderRow(ctx, f, b, v.block.Content, nil, false, emit)

	case KindLiteral:
		lit := v.literal
		switch {
		case isList(lit):
			for _, item := range listItems(lit) {
				if err := r.renderItem(ctx, f, b, item, emit); err != nil {
					return err
				}
			}
			return nil
		case isObject(lit):
			return r.renderRow(ctx, f, b, b.Content, lit, true, emit)
		case lit == false:
			return r.suppress(b, "false")
		}
		return r.renderRow(ctx, f, b, b.Content, nil, false, emit)

	case KindUndefined:
		return r.suppress(b, "unbound")
	}

	// a byte stream says nothing about the block's fields
	return r.renderRow(ctx, f, b, b.Content, nil, false, emit)
}

// renderRows pulls one row at a time, so the source advances only as fast
// as the consumer accepts output.
func (r *renderer) renderRows(ctx context.Context, f *frame, b *Block, src Source, emit sink) error {
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}
	for {
		item, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.resolutionFailed("block", b.Name, err)
			return nil
		}
		if err := r.renderItem(ctx, f, b, item, emit); err != nil {
			return err
		}
	}
}

// renderItem renders one iteration. Object rows expose their fields;
// scalar rows are reachable under the block's own name.
func (r *renderer) renderItem(ctx context.Context, f *frame, b *Block, item any, emit sink) error {
	r.t.metrics.IncrementRowRendered()
	if isObject(item) {
		return r.renderRow(ctx, f, b, b.Content, item, true, emit)
	}
	return r.renderRow(ctx, f, b, b.Content, map[string]any{b.Name: item}, true, emit)
}

func (r *renderer) renderRow(ctx context.Context, f *frame, b *Block, content []Node, row any, hasRow bool, emit sink) error {
	child := &frame{parent: f, block: b, row: row, hasRow: hasRow}
	return r.renderNodes(ctx, child, content, emit)
}

// tagsBound reports whether every tag directly inside b has a binding.
// A block without tags counts as bound.
func (r *renderer) tagsBound(f *frame, b *Block) bool {
	for _, tag := range b.Tags() {
		if _, ok := r.lookup(f, tag.Path[0]); !ok {
			return false
		}
	}
	return true
}

func (r *renderer) suppress(b *Block, reason string) error {
	r.t.metrics.IncrementBlockSuppressed()
	r.log.Debug("block suppressed", "block", b.Name, "reason", reason)
	return nil
}

// splitUTF8 splits p before a trailing incomplete rune.
func splitUTF8(p []byte) (complete, rest []byte) {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if !utf8.FullRune(p[i:]) {
			return p[:i], p[i:]
		}
		break
	}
	return p, nil
}

func debugComment(err error) string {
	msg := strings.ReplaceAll(err.Error(), "--", "- -")
	return "<!-- talisman: " + msg + " -->"
}

func errorDocument(err error) string {
	return "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Template Error</title></head>" +
		"<body><h1>Template Error</h1><pre>" + Escape(err.Error()) + "</pre></body></html>\n"
}
