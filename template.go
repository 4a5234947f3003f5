package talisman

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/livefir/talisman/internal/metrics"
)

// Template is one parsed template together with everything bound to it:
// variables, masks, visibility marks, iterators and wait gates.
//
// Mutators return the Template so calls can be chained. A mutator given
// invalid arguments changes nothing and records an *ArgumentError, reported
// by Err. Mutators are safe to call from the goroutine settling a Deferred
// while a render is running; the renderer reads bindings when it reaches the
// node that needs them.
type Template struct {
	mu     sync.RWMutex
	name   string
	root   *Block
	config Config
	log    *slog.Logger
	err    error // parse or read failure, rendered as the error document

	argErrs   MultiError
	variables map[string]Value
	masks     maskSet
	hidden    map[string]bool
	shown     map[string]bool
	iterators map[string]Value
	gates     map[string]*Deferred

	metrics *metrics.Collector
}

func newTemplate(name string, opts []Option) *Template {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	t := &Template{
		name:      name,
		root:      &Block{},
		config:    config,
		log:       config.logger().With("template", name),
		variables: make(map[string]Value),
		hidden:    make(map[string]bool),
		shown:     make(map[string]bool),
		iterators: make(map[string]Value),
		gates:     make(map[string]*Deferred),
		metrics:   metrics.NewCollector(),
	}

	if err := config.Validate(); err != nil {
		t.err = err
	}
	return t
}

// New parses text into a Template. A parse failure does not return an
// error: it is kept in Err and Render emits an error document instead.
func New(text string, opts ...Option) *Template {
	t := newTemplate("", opts)
	t.parse(text)
	return t
}

// Open reads and parses the template file at path, through Config.FS when
// set. Read and parse failures are handled as in New.
func Open(path string, opts ...Option) *Template {
	t := newTemplate(path, opts)
	if t.err != nil {
		return t
	}

	data, err := t.config.readFile(path)
	if err != nil {
		t.err = fmt.Errorf("failed to read template %q: %w", path, err)
		t.log.Warn("template read failed", "error", err)
		return t
	}
	t.parse(string(data))
	return t
}

// Parse is the strict form of New: it returns the parse error.
func Parse(text string, opts ...Option) (*Template, error) {
	t := New(text, opts...)
	if t.err != nil {
		return nil, t.err
	}
	return t, nil
}

// Must panics if t holds a parse, read or argument error.
func Must(t *Template) *Template {
	if err := t.Err(); err != nil {
		panic(err)
	}
	return t
}

func (t *Template) parse(text string) {
	if t.err != nil {
		return
	}
	root, err := parseBlocks(text, t.staticTransform())
	if err != nil {
		t.err = err
		t.metrics.IncrementParseError()
		t.log.Warn("template parse failed", "error", err)
		return
	}
	t.root = root
	t.metrics.IncrementTemplateParsed()
}

func (t *Template) staticTransform() func(string) string {
	if t.config.Minify {
		return minifyStatic
	}
	return nil
}

// Root returns the parsed block tree. It is empty when parsing failed.
func (t *Template) Root() *Block {
	return t.root
}

// Config returns the settings the Template was created with.
func (t *Template) Config() Config {
	return t.config
}

// Err returns the parse or read failure, if any, joined with every
// argument error recorded by rejected mutator calls.
func (t *Template) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.argErrs) == 0 {
		return t.err
	}
	return errors.Join(t.err, t.argErrs)
}

func (t *Template) reject(op, argument, reason string) *Template {
	err := &ArgumentError{Op: op, Argument: argument, Reason: reason}
	t.mu.Lock()
	t.argErrs = append(t.argErrs, err)
	t.mu.Unlock()
	t.log.Debug("argument rejected", "op", op, "error", err)
	return t
}

// Bind sets the value of the variable or block called name. value may be a
// literal, a *Deferred, an io.Reader, a Source, a channel, a function, a
// loaded *Block or a Value built with Raw. Binding a name again replaces the
// previous value.
func (t *Template) Bind(name string, value any) *Template {
	if name == "" {
		return t.reject("Bind", "name", "must not be empty")
	}

	t.mu.Lock()
	t.variables[name] = ValueOf(value)
	t.mu.Unlock()
	return t
}

// BindRaw binds value with HTML escaping disabled.
func (t *Template) BindRaw(name string, value any) *Template {
	return t.Bind(name, Raw(value))
}

// BindAll binds every key of a map with string keys, or every exported
// field of a struct (named by its json tag when present).
func (t *Template) BindAll(values any) *Template {
	fields, ok := fieldsOf(values)
	if !ok {
		return t.reject("BindAll", "values", fmt.Sprintf("must be a map with string keys or a struct, got %T", values))
	}
	for name := range fields {
		if name == "" {
			return t.reject("BindAll", "values", "contains an empty name")
		}
	}

	t.mu.Lock()
	for name, value := range fields {
		t.variables[name] = ValueOf(value)
	}
	t.mu.Unlock()
	return t
}

// Load reads the template fragment at path and binds it as a block named
// after the file, without its extension. A {name} tag renders the fragment
// in place.
func (t *Template) Load(path string) *Template {
	base := filepath.Base(path)
	return t.LoadAs(path, strings.TrimSuffix(base, filepath.Ext(base)))
}

// LoadAs reads the template fragment at path and binds it as the block
// blockName. A read or parse failure is bound as a rejected value, so the
// tag falls back to its placeholder and the failure is logged at render.
func (t *Template) LoadAs(path, blockName string) *Template {
	if path == "" {
		return t.reject("Load", "path", "must not be empty")
	}
	if blockName == "" || blockName == "." {
		return t.reject("Load", "blockName", "must not be empty")
	}

	t.metrics.IncrementCustomCounter("load")

	var value Value
	data, err := t.config.readFile(path)
	if err == nil {
		var fragment *Block
		fragment, err = parseBlocks(string(data), t.staticTransform())
		if err == nil {
			t.metrics.IncrementTemplateParsed()
			value = ValueOf(&Block{Name: blockName, Content: fragment.Content})
		} else {
			t.metrics.IncrementParseError()
		}
	}
	if err != nil {
		t.log.Warn("fragment load failed", "path", path, "block", blockName, "error", err)
		value = ValueOf(Rejected(fmt.Errorf("failed to load %q: %w", path, err)))
	}

	t.mu.Lock()
	t.variables[blockName] = value
	t.mu.Unlock()
	return t
}

// AddMask registers a global mask, applied by tags written {name|mask}.
func (t *Template) AddMask(name string, fn MaskFunc) *Template {
	return t.addMask("AddMask", name, fn, "")
}

// AddScopedMask registers a mask visible only to tags inside blocks named
// block. It takes precedence over a global mask of the same name.
func (t *Template) AddScopedMask(name string, fn MaskFunc, block string) *Template {
	if block == "" {
		return t.reject("AddScopedMask", "block", "must not be empty")
	}
	return t.addMask("AddScopedMask", name, fn, block)
}

// AddStandardMasks registers the StandardMasks as global masks.
func (t *Template) AddStandardMasks() *Template {
	for name, fn := range StandardMasks() {
		t.AddMask(name, fn)
	}
	return t
}

func (t *Template) addMask(op, name string, fn MaskFunc, scope string) *Template {
	switch {
	case name == "":
		return t.reject(op, "name", "must not be empty")
	case name == rawMask:
		return t.reject(op, "name", fmt.Sprintf("%q is reserved", rawMask))
	case fn == nil:
		return t.reject(op, "fn", "must not be nil")
	}

	t.mu.Lock()
	t.masks = append(t.masks, mask{name: name, fn: fn, scope: scope})
	t.mu.Unlock()
	return t
}

// ShowUndefinedBlock renders the block even when nothing is bound to it or
// its tags; unbound tags inside then render as their placeholders.
func (t *Template) ShowUndefinedBlock(name string) *Template {
	if name == "" {
		return t.reject("ShowUndefinedBlock", "name", "must not be empty")
	}
	t.mu.Lock()
	t.shown[name] = true
	t.mu.Unlock()
	return t
}

// Remove hides the block. Removing a hidden block again has no effect.
func (t *Template) Remove(name string) *Template {
	if name == "" {
		return t.reject("Remove", "name", "must not be empty")
	}
	t.mu.Lock()
	t.hidden[name] = true
	t.mu.Unlock()
	return t
}

// Restore undoes Remove. Restoring a visible block has no effect.
func (t *Template) Restore(name string) *Template {
	if name == "" {
		return t.reject("Restore", "name", "must not be empty")
	}
	t.mu.Lock()
	delete(t.hidden, name)
	t.mu.Unlock()
	return t
}

// WaitUntil holds back the block until d settles, whatever its outcome.
// The producer settling d may still call Remove or Bind to decide what the
// block shows; visibility is checked after the gate opens.
func (t *Template) WaitUntil(d *Deferred, block string) *Template {
	if d == nil {
		return t.reject("WaitUntil", "deferred", "must not be nil")
	}
	if block == "" {
		return t.reject("WaitUntil", "block", "must not be empty")
	}
	t.mu.Lock()
	t.gates[block] = d
	t.mu.Unlock()
	return t
}

// SetIterator repeats block once per element of source: a slice or array,
// a *Deferred settling to one, a Source, or a receive channel. block may be
// written "container:row" to target the row block inside container.
func (t *Template) SetIterator(source any, block string) *Template {
	if block == "" {
		return t.reject("SetIterator", "block", "must not be empty")
	}

	value := ValueOf(source)
	switch value.Kind() {
	case KindDeferred, KindSource, KindFunc:
	case KindLiteral:
		if !isList(value.literal) {
			return t.reject("SetIterator", "source", fmt.Sprintf("must be iterable, got %T", source))
		}
	default:
		return t.reject("SetIterator", "source", fmt.Sprintf("must be iterable, got %T", source))
	}

	t.mu.Lock()
	t.iterators[block] = value
	t.mu.Unlock()
	return t
}

// Stats reports render metrics for this Template.
func (t *Template) Stats() metrics.RenderMetrics {
	return t.metrics.GetMetrics()
}

// variable returns the document-level binding for name.
func (t *Template) variable(name string) (Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.variables[name]
	return v, ok && v.Defined()
}

func (t *Template) iterator(keys []string) (Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, key := range keys {
		if v, ok := t.iterators[key]; ok {
			return v, true
		}
	}
	return Value{}, false
}

func (t *Template) gate(keys []string) *Deferred {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, key := range keys {
		if d, ok := t.gates[key]; ok {
			return d
		}
	}
	return nil
}

func (t *Template) isHidden(keys []string) bool {
	return t.anyMarked(t.hidden, keys)
}

func (t *Template) isShown(keys []string) bool {
	return t.config.ShowUndefinedBlocks || t.anyMarked(t.shown, keys)
}

func (t *Template) anyMarked(set map[string]bool, keys []string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, key := range keys {
		if set[key] {
			return true
		}
	}
	return false
}

func (t *Template) mask(name string, scopes []string) (MaskFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.masks.lookup(name, scopes)
}
