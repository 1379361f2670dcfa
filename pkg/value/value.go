// Package value implements ScriptValue, the tagged union exchanged between
// script engines and host capabilities.
//
// A Value is one of Null, Bool, Number, String, Array or Object. Objects keep
// insertion order so values round-trip through every engine and through the
// store without reordering keys. The zero Value is Null.
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a ScriptValue.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  *Object
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int returns a numeric value from an integer.
func Int(i int64) Value { return Value{kind: KindNumber, n: float64(i)} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array value holding items.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// Strings returns an array of string values.
func Strings(items []string) Value {
	arr := make([]Value, len(items))
	for i, s := range items {
		arr[i] = String(s)
	}
	return Value{kind: KindArray, arr: arr}
}

// FromObject wraps an Object. A nil object yields an empty object.
func FromObject(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

// Kind returns the tag of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the numeric payload.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsArray returns the array items. The slice must not be modified.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// AsObject returns the object payload.
func (v Value) AsObject() (*Object, bool) { return v.obj, v.kind == KindObject }

// Truthy reports whether v is considered true in a boolean context.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0 && !math.IsNaN(v.n)
	case KindString:
		return v.s != ""
	case KindArray, KindObject:
		return true
	default:
		return false
	}
}

// Equal reports whether v and o are structurally equal. Object comparison
// ignores key order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if v.obj.Len() != o.obj.Len() {
			return false
		}
		for _, k := range v.obj.Keys() {
			ov, ok := o.obj.Get(k)
			if !ok {
				return false
			}
			vv, _ := v.obj.Get(k)
			if !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v in a compact JSON-like form for logs and CLI output.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return formatNumber(v.n)
	case KindString:
		return v.s
	default:
		data, err := v.MarshalJSON()
		if err != nil {
			return fmt.Sprintf("<%s>", v.kind)
		}
		return string(data)
	}
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// Object is an insertion-ordered mapping of string keys to values.
type Object struct {
	keys   []string
	values map[string]Value
}

// NewObject creates an empty object.
func NewObject() *Object {
	return &Object{values: make(map[string]Value)}
}

// Set assigns key. New keys are appended; existing keys keep their position.
func (o *Object) Set(key string, v Value) *Object {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
	return o
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	v, ok := o.values[key]
	return v, ok
}

// Delete removes key, reporting whether it was present.
func (o *Object) Delete(key string) bool {
	if _, ok := o.values[key]; !ok {
		return false
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.keys...)
}

// Len returns the number of entries.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Range calls fn for each entry in order until fn returns false.
func (o *Object) Range(fn func(key string, v Value) bool) {
	if o == nil {
		return
	}
	for _, k := range o.keys {
		if !fn(k, o.values[k]) {
			return
		}
	}
}

// Describe returns a short description of v for error messages.
func Describe(v Value) string {
	s := v.String()
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return fmt.Sprintf("%s %s", v.kind, strings.TrimSpace(s))
}
