package talisman

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"sync"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindLiteral
	KindDeferred
	KindStream
	KindSource
	KindBlock
	KindFunc
)

var kindNames = [...]string{
	KindUndefined: "undefined",
	KindLiteral:   "literal",
	KindDeferred:  "deferred",
	KindStream:    "stream",
	KindSource:    "source",
	KindBlock:     "block",
	KindFunc:      "func",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a bound template value. Build one with ValueOf or Raw; the
// renderer dispatches on Kind instead of inspecting the payload.
type Value struct {
	kind     Kind
	literal  any
	deferred *Deferred
	reader   io.Reader
	source   Source
	block    *Block
	fn       func(context.Context) (any, error)
	raw      bool
}

// ValueOf classifies v. A Value passes through unchanged and nil yields an
// undefined Value.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{}
	case Value:
		return x
	case *Deferred:
		if x == nil {
			return Value{}
		}
		return Value{kind: KindDeferred, deferred: x}
	case *Block:
		if x == nil {
			return Value{}
		}
		return Value{kind: KindBlock, block: x}
	case *Template:
		if x == nil || x.root == nil {
			return Value{}
		}
		return Value{kind: KindBlock, block: x.root}
	case Source:
		return Value{kind: KindSource, source: x}
	case io.Reader:
		return Value{kind: KindStream, reader: x}
	case func() any:
		return Value{kind: KindFunc, fn: func(context.Context) (any, error) { return x(), nil }}
	case func() (any, error):
		return Value{kind: KindFunc, fn: func(context.Context) (any, error) { return x() }}
	case func(context.Context) (any, error):
		return Value{kind: KindFunc, fn: x}
	case func() string:
		return Value{kind: KindFunc, fn: func(context.Context) (any, error) { return x(), nil }}
	}

	if ch := reflect.ValueOf(v); ch.Kind() == reflect.Chan && ch.Type().ChanDir()&reflect.RecvDir != 0 {
		return Value{kind: KindSource, source: reflectChanSource{ch: ch}}
	}
	return Value{kind: KindLiteral, literal: v}
}

// Raw binds v without HTML escaping.
func Raw(v any) Value {
	val := ValueOf(v)
	val.raw = true
	return val
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsRaw reports whether v bypasses escaping.
func (v Value) IsRaw() bool { return v.raw }

// Defined reports whether v holds anything at all.
func (v Value) Defined() bool { return v.kind != KindUndefined }

// Interface returns the literal payload of a literal Value.
func (v Value) Interface() any { return v.literal }

// settle re-classifies the result of a deferred or function value, carrying
// the raw flag across.
func (v Value) settle(result any) Value {
	next := ValueOf(result)
	next.raw = next.raw || v.raw
	return next
}

// stringify renders a literal the way it appears in output: strings and
// numbers verbatim, composites as JSON.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint, reflect.Uint8,
		reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return fmt.Sprint(v)
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct, reflect.Pointer:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
	return fmt.Sprint(v)
}

// Deferred is a value that settles exactly once, to a result or an error.
type Deferred struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewDeferred returns an unsettled Deferred.
func NewDeferred() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

// Resolved returns a Deferred already settled with v.
func Resolved(v any) *Deferred {
	d := NewDeferred()
	d.Resolve(v)
	return d
}

// Rejected returns a Deferred already settled with err.
func Rejected(err error) *Deferred {
	d := NewDeferred()
	d.Reject(err)
	return d
}

// Go runs fn in its own goroutine and settles the returned Deferred with its
// result.
func Go(fn func() (any, error)) *Deferred {
	d := NewDeferred()
	go func() {
		v, err := fn()
		if err != nil {
			d.Reject(err)
			return
		}
		d.Resolve(v)
	}()
	return d
}

// Resolve settles d with v. It reports false if d was already settled.
func (d *Deferred) Resolve(v any) bool {
	return d.settle(v, nil)
}

// Reject settles d with err. It reports false if d was already settled.
func (d *Deferred) Reject(err error) bool {
	if err == nil {
		err = fmt.Errorf("deferred rejected with nil error")
	}
	return d.settle(nil, err)
}

func (d *Deferred) settle(v any, err error) bool {
	settled := false
	d.once.Do(func() {
		d.value, d.err = v, err
		close(d.done)
		settled = true
	})
	return settled
}

// Done is closed once d settles.
func (d *Deferred) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until d settles or ctx is done.
func (d *Deferred) Wait(ctx context.Context) (any, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
