package rules

import (
	"regexp"
	"strings"
)

// Lookup resolves a field name to a context value.
type Lookup interface {
	Lookup(field string) (any, bool)
}

type LookupFunc func(field string) (any, bool)

func (f LookupFunc) Lookup(field string) (any, bool) { return f(field) }

// MapLookup resolves exact keys first, then dotted paths into nested maps.
// A leading "vars." or "variables." is accepted as an alias for the map itself.
type MapLookup map[string]any

func (m MapLookup) Lookup(field string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[field]; ok {
		return v, true
	}
	for _, prefix := range []string{"vars.", "variables."} {
		if rest, ok := strings.CutPrefix(field, prefix); ok {
			return m.Lookup(rest)
		}
	}
	return lookupPath(m, field)
}

func lookupPath(m map[string]any, path string) (any, bool) {
	head, rest, nested := strings.Cut(path, ".")
	v, ok := m[head]
	if !ok {
		return nil, false
	}
	if !nested {
		return v, true
	}
	switch child := v.(type) {
	case map[string]any:
		return lookupPath(child, rest)
	case MapLookup:
		return lookupPath(child, rest)
	case map[string]string:
		s, ok := child[rest]
		return s, ok
	}
	return nil, false
}

// Chain tries each lookup in order and returns the first hit.
type Chain []Lookup

func (c Chain) Lookup(field string) (any, bool) {
	for _, l := range c {
		if l == nil {
			continue
		}
		if v, ok := l.Lookup(field); ok {
			return v, true
		}
	}
	return nil, false
}

var placeholderRegex = regexp.MustCompile(`\{\{\s*([\w.\-]+)\s*\}\}`)

// Interpolate replaces {{name}} placeholders. Unresolved placeholders render as "".
func Interpolate(text string, lookup Lookup) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderRegex.ReplaceAllStringFunc(text, func(match string) string {
		sub := placeholderRegex.FindStringSubmatch(match)
		if lookup == nil {
			return ""
		}
		v, ok := lookup.Lookup(sub[1])
		if !ok {
			return ""
		}
		return Stringify(v)
	})
}
