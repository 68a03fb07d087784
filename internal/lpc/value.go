// Package lpc implements the text-based LPC value serialization used by the
// MudMode wire protocol: arrays as "({...,})", mappings as "([k:v,...,])",
// quoted strings, and bare integer/float literals.
package lpc

import "fmt"

// Map is an ordered string-keyed-or-any-keyed mapping. LPC mapping keys are
// typically strings or integers; Go maps have no stable iteration order, so
// encoding needs an explicit key sequence to produce reproducible output.
type Map struct {
	keys   []Value
	values []Value
}

// NewMap returns an empty ordered mapping.
func NewMap() *Map {
	return &Map{}
}

// Set appends or updates the value for key, preserving first-insertion order.
func (m *Map) Set(key, value Value) {
	for i, k := range m.keys {
		if valuesEqual(k, key) {
			m.values[i] = value
			return
		}
	}
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

// Get returns the value for key and whether it was present.
func (m *Map) Get(key Value) (Value, bool) {
	for i, k := range m.keys {
		if valuesEqual(k, key) {
			return m.values[i], true
		}
	}
	return nil, false
}

// GetString is a convenience accessor for the common case of a string-keyed
// entry; it returns "" when the key is absent or not a string.
func (m *Map) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// Keys returns the mapping's keys in insertion order.
func (m *Map) Keys() []Value { return m.keys }

// Each calls fn for every key/value pair in insertion order.
func (m *Map) Each(fn func(key, value Value)) {
	for i, k := range m.keys {
		fn(k, m.values[i])
	}
}

func valuesEqual(a, b Value) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	default:
		return false
	}
}

// Value is a decoded or to-be-encoded LPC value. Concrete dynamic types are
// nil, bool, int64, float64, string, Bytes, []Value and *Map. Decode never
// produces bool or Bytes — both are accepted on encode only, per the wire's
// own boolean-as-0/1 and buffer-as-string conventions.
type Value = any

// Bytes is an opaque byte buffer accepted by Encode; it is written as a
// UTF-8 string with invalid sequences replaced rather than rejected.
type Bytes []byte

// Error reports a codec failure with the character (rune) offset at which it occurred,
// matching the decoder's "unexpected character at position p" diagnostics.
type Error struct {
	Msg string
	Pos int
}

func (e *Error) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("lpc: %s (at position %d)", e.Msg, e.Pos)
	}
	return fmt.Sprintf("lpc: %s", e.Msg)
}

func newError(pos int, format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...), Pos: pos}
}
