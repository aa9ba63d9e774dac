package model

import "strings"

// Field is a single header name/value entry. Fields preserve the
// order and spelling callers supplied them in; nothing is
// canonicalized on the way to the wire.
type Field struct {
	Name  string
	Value string
}

type Fields []Field

// Get returns the value of the first field whose name matches
// case-insensitively.
func (f Fields) Get(name string) (string, bool) {
	for _, h := range f {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Fold collapses ordered pairs into a per-key view: the first
// occurrence of a key starts its value list, repeated occurrences
// append in arrival order. Keys are lowercased; the rule applies to
// every header name alike.
func (f Fields) Fold() map[string][]string {
	if f == nil {
		return nil
	}
	folded := make(map[string][]string, len(f))
	for _, h := range f {
		k := strings.ToLower(h.Name)
		folded[k] = append(folded[k], h.Value)
	}
	return folded
}
