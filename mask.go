package talisman

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// rawMask is the reserved mask name that disables escaping for one tag.
const rawMask = "raw"

// MaskFunc transforms a resolved value before it is written. Scalar values
// arrive as bound (string, int, ...); stream values arrive one string chunk
// at a time.
type MaskFunc func(any) any

type mask struct {
	name  string
	fn    MaskFunc
	scope string // block name; empty for global masks
}

// maskSet is the ordered mask registry of a Template. Later registrations
// win over earlier ones within the same scope.
type maskSet []mask

// lookup finds the mask called name for a tag whose enclosing blocks, from
// nearest to outermost, are scopes. A mask scoped to the nearest block wins,
// then outer blocks, then global masks.
func (m maskSet) lookup(name string, scopes []string) (MaskFunc, bool) {
	for _, scope := range scopes {
		if fn, ok := m.find(name, scope); ok {
			return fn, true
		}
	}
	return m.find(name, "")
}

func (m maskSet) find(name, scope string) (MaskFunc, bool) {
	for i := len(m) - 1; i >= 0; i-- {
		if m[i].name == name && m[i].scope == scope {
			return m[i].fn, true
		}
	}
	return nil, false
}

// StandardMasks returns the global masks installed by
// Template.AddStandardMasks: upper, lower, title and trim.
func StandardMasks() map[string]MaskFunc {
	// a cases.Caser is stateful, so each call gets a fresh one
	return map[string]MaskFunc{
		"upper": stringMask(func(s string) string { return cases.Upper(language.Und).String(s) }),
		"lower": stringMask(func(s string) string { return cases.Lower(language.Und).String(s) }),
		"title": stringMask(func(s string) string { return cases.Title(language.Und).String(s) }),
		"trim":  stringMask(strings.TrimSpace),
	}
}

// stringMask lifts a string transform to a MaskFunc, stringifying
// non-string values first.
func stringMask(fn func(string) string) MaskFunc {
	return func(v any) any {
		if s, ok := v.(string); ok {
			return fn(s)
		}
		return fn(stringify(v))
	}
}
