// Package options holds the typed key/value table passed to native
// compile-with-options and link-with-options calls. The native signature is
// (unsigned int numOptions, keys[], void **values); the table keeps entries
// in insertion order so the marshaled arrays line up with what the caller
// wrote.
package options

import (
	"strconv"
	"strings"
)

// Kind discriminates the value stored for an option entry.
type Kind int

const (
	// KindNone marks an option that was requested without a value.
	KindNone Kind = iota
	KindInt
	KindFloat
	KindBytes
)

// Value is the tagged variant stored per entry. Exactly one of the typed
// fields is meaningful, selected by Kind.
type Value struct {
	Kind  Kind
	Int   int32
	Float float32
	Bytes []byte
}

type entry struct {
	id    ID
	value Value
}

// Options is an insertion-ordered table of link/compile options with unique
// keys. Re-putting a key overwrites its value and type tag in place, keeping
// the key's original position. The zero value is an empty, usable table.
//
// Typed getters never fail: reading an absent or differently-typed key
// returns the getter's zero value. Callers that need strictness check Has
// first.
type Options struct {
	entries []entry
}

// New returns an empty options table.
func New() *Options {
	return &Options{}
}

func (o *Options) find(id ID) int {
	for i := range o.entries {
		if o.entries[i].id == id {
			return i
		}
	}
	return -1
}

func (o *Options) set(id ID, v Value) {
	if i := o.find(id); i >= 0 {
		o.entries[i].value = v
		return
	}
	o.entries = append(o.entries, entry{id: id, value: v})
}

// Put stores id with no value (option requested but unvalued).
func (o *Options) Put(id ID) {
	o.set(id, Value{Kind: KindNone})
}

// PutInt stores an integer value for id, overwriting any prior entry.
func (o *Options) PutInt(id ID, v int32) {
	o.set(id, Value{Kind: KindInt, Int: v})
}

// PutFloat stores a float value for id, overwriting any prior entry.
func (o *Options) PutFloat(id ID, v float32) {
	o.set(id, Value{Kind: KindFloat, Float: v})
}

// PutBytes stores a byte-sequence value for id, overwriting any prior entry.
func (o *Options) PutBytes(id ID, b []byte) {
	o.set(id, Value{Kind: KindBytes, Bytes: b})
}

// Remove deletes the entry for id. Subsequent reads behave as if the key was
// never set.
func (o *Options) Remove(id ID) {
	if i := o.find(id); i >= 0 {
		o.entries = append(o.entries[:i], o.entries[i+1:]...)
	}
}

// Has reports whether id is currently set, with any value kind.
func (o *Options) Has(id ID) bool {
	return o.find(id) >= 0
}

// Len returns the number of entries in the table.
func (o *Options) Len() int {
	return len(o.entries)
}

// GetInt returns the integer value stored for id, or 0 if id is absent or
// holds a different kind.
func (o *Options) GetInt(id ID) int32 {
	if i := o.find(id); i >= 0 && o.entries[i].value.Kind == KindInt {
		return o.entries[i].value.Int
	}
	return 0
}

// GetFloat returns the float value stored for id, or 0 if id is absent or
// holds a different kind.
func (o *Options) GetFloat(id ID) float32 {
	if i := o.find(id); i >= 0 && o.entries[i].value.Kind == KindFloat {
		return o.entries[i].value.Float
	}
	return 0
}

// GetBytes returns the byte-sequence value stored for id, or nil if id is
// absent or holds a different kind.
func (o *Options) GetBytes(id ID) []byte {
	if i := o.find(id); i >= 0 && o.entries[i].value.Kind == KindBytes {
		return o.entries[i].value.Bytes
	}
	return nil
}

// GetString decodes the byte-sequence value for id as text, stopping at the
// first zero byte (C-string convention). ok is false only when id is absent
// or holds a non-byte kind; a stored nil or empty sequence, or bytes
// beginning with a NUL, decode to an empty string with ok true.
func (o *Options) GetString(id ID) (s string, ok bool) {
	if i := o.find(id); i >= 0 && o.entries[i].value.Kind == KindBytes {
		return cString(o.entries[i].value.Bytes), true
	}
	return "", false
}

// Keys returns the currently-set keys in insertion order. The same order is
// used for marshaling into the native call's parallel arrays.
func (o *Options) Keys() []ID {
	keys := make([]ID, len(o.entries))
	for i := range o.entries {
		keys[i] = o.entries[i].id
	}
	return keys
}

// Marshal returns parallel key and value slices ordered exactly as Keys(),
// matching the native (count, keys[], values[]) convention.
func (o *Options) Marshal() ([]ID, []Value) {
	keys := make([]ID, len(o.entries))
	values := make([]Value, len(o.entries))
	for i := range o.entries {
		keys[i] = o.entries[i].id
		values[i] = o.entries[i].value
	}
	return keys, values
}

// cString decodes bytes as text up to but excluding the first zero byte.
func cString(b []byte) string {
	for i := range b {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (v Value) render() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(int64(v.Int), 10)
	case KindFloat:
		return strconv.FormatFloat(float64(v.Float), 'g', -1, 32)
	case KindBytes:
		return cString(v.Bytes)
	default:
		return "<nil>"
	}
}

// String returns the compact single-line form:
// Options[Key=value,Key=value,...]
func (o *Options) String() string {
	return "Options[" + o.join(",") + "]"
}

// FormattedString returns the aligned multi-line form, one entry per line.
func (o *Options) FormattedString() string {
	return "Options:\n    " + o.join("\n    ")
}

func (o *Options) join(sep string) string {
	var b strings.Builder
	for i := range o.entries {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(o.entries[i].id.String())
		b.WriteByte('=')
		b.WriteString(o.entries[i].value.render())
	}
	return b.String()
}
