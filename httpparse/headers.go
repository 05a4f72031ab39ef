// File: httpparse/headers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package httpparse

import "strings"

// Headers is an ordered multimap preserving insertion order of field names.
// Duplicates concatenate with ", " except Set-Cookie, which stays split
// into separate entries.
type Headers struct {
	order  []string
	values map[string][]string
}

// NewHeaders returns an empty header multimap.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string][]string)}
}

func canonKey(name string) string {
	return strings.ToLower(name)
}

// Add appends a value for name, recording name in insertion order the first
// time it is seen.
func (h *Headers) Add(name, value string) {
	key := canonKey(name)
	if _, ok := h.values[key]; !ok {
		h.order = append(h.order, name)
	}
	h.values[key] = append(h.values[key], value)
}

// Get returns the combined value for name: a single string, joined with
// ", " for repeated fields, except Set-Cookie which returns only the first
// occurrence (callers needing every cookie should use Values).
func (h *Headers) Get(name string) string {
	vs := h.values[canonKey(name)]
	if len(vs) == 0 {
		return ""
	}
	if canonKey(name) == "set-cookie" {
		return vs[0]
	}
	return strings.Join(vs, ", ")
}

// Values returns every value recorded for name, in insertion order.
func (h *Headers) Values(name string) []string {
	return h.values[canonKey(name)]
}

// Has reports whether name was set at least once.
func (h *Headers) Has(name string) bool {
	_, ok := h.values[canonKey(name)]
	return ok
}

// Names returns the canonical (as-received) field names in insertion order.
func (h *Headers) Names() []string {
	return h.order
}

// Each calls fn once per distinct field name with its combined value
// (Set-Cookie excepted, which is iterated once per occurrence).
func (h *Headers) Each(fn func(name, value string)) {
	for _, name := range h.order {
		key := canonKey(name)
		if key == "set-cookie" {
			for _, v := range h.values[key] {
				fn(name, v)
			}
			continue
		}
		fn(name, h.Get(name))
	}
}
