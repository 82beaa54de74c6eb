// Package value implements StrataDB's canonical tagged value, the single
// data shape every primitive (KV, JSON, event, state cell, vector, run
// index) ultimately stores.
//
// What: an eight-variant sum type (Null, Bool, Int, Float, String, Bytes,
// Array, Object) with structural equality and no implicit coercion between
// variants.
// How: one struct carrying a Kind tag plus the fields for whichever variant
// is active, a typed-switch shape rather than an interface-per-variant
// design, cheaper to compare and to copy.
// Why: facades built on top (JSON, vectors, ...) need a value model that
// round-trips losslessly. NaN, -0.0, and the Int/Float and Bytes/String
// distinctions all matter to callers and must never be silently coerced.
package value

import (
	"fmt"
	"math"
)

// Kind identifies which variant of Value is populated. The set is closed.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is the canonical tagged value. The zero Value is Null.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	bytes []byte
	arr   []Value
	obj   map[string]Value
}

// Null is the canonical null value.
var Null = Value{kind: KindNull}

func Bool(b bool) Value   { return Value{kind: KindBool, b: b} }
func Int(i int64) Value   { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes copies the given slice so later mutation by the caller cannot
// corrupt a value already buffered in a transaction or committed to the
// store.
func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, bytes: cp}
}

// Array copies the given slice of Values.
func Array(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, arr: cp}
}

// Object copies the given map of Values. Key order is never significant.
func Object(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindObject, obj: cp}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsBytes returns a defensive copy; callers may not mutate the value's
// internal buffer.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	cp := make([]byte, len(v.bytes))
	copy(cp, v.bytes)
	return cp, true
}

// AsArray returns a defensive copy of the element slice.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	cp := make([]Value, len(v.arr))
	copy(cp, v.arr)
	return cp, true
}

// AsObject returns a defensive copy of the field map.
func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	cp := make(map[string]Value, len(v.obj))
	for k, fv := range v.obj {
		cp[k] = fv
	}
	return cp, true
}

// Equal implements structural equality across variants: NaN != NaN,
// -0.0 == 0.0, Int(1) != Float(1.0), Bytes != String at identical content,
// and Object key order is irrelevant.
func (a Value) Equal(b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f // IEEE-754 == already yields NaN!=NaN, -0.0==0.0
	case KindString:
		return a.s == b.s
	case KindBytes:
		if len(a.bytes) != len(b.bytes) {
			return false
		}
		for i := range a.bytes {
			if a.bytes[i] != b.bytes[i] {
				return false
			}
		}
		return true
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !a.arr[i].Equal(b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !av.Equal(bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// IsNaN reports whether v is a Float variant holding NaN, a case several
// callers (history display, vector distance) need to special-case.
func (v Value) IsNaN() bool {
	return v.kind == KindFloat && math.IsNaN(v.f)
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%v", v.f)
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(v.bytes))
	case KindArray:
		return fmt.Sprintf("array[%d]", len(v.arr))
	case KindObject:
		return fmt.Sprintf("object{%d}", len(v.obj))
	default:
		return "?"
	}
}
