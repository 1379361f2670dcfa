package value

import (
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/openfroyo/scripthost/pkg/hosterr"
)

// FromGo converts a native Go value into a Value. Supported inputs are nil,
// bool, integer and float kinds, string, []any, []string, []Value,
// map[string]any, map[string]string, *Object and Value. Maps are ordered by
// key since Go maps carry no order. Anything else, and non-finite numbers,
// fails with a serialization error.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return val, nil
	case *Object:
		return FromObject(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(int64(val)), nil
	case int8:
		return Int(int64(val)), nil
	case int16:
		return Int(int64(val)), nil
	case int32:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case uint:
		return Number(float64(val)), nil
	case uint8:
		return Number(float64(val)), nil
	case uint16:
		return Number(float64(val)), nil
	case uint32:
		return Number(float64(val)), nil
	case uint64:
		return Number(float64(val)), nil
	case float32:
		return finite(float64(val))
	case float64:
		return finite(val)
	case string:
		return String(val), nil
	case []string:
		return Strings(val), nil
	case []Value:
		return Array(val...), nil
	case []any:
		items := make([]Value, len(val))
		for i, item := range val {
			conv, err := FromGo(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = conv
		}
		return Array(items...), nil
	case map[string]string:
		obj := NewObject()
		for _, k := range sortedKeys(val) {
			obj.Set(k, String(val[k]))
		}
		return FromObject(obj), nil
	case map[string]any:
		obj := NewObject()
		for _, k := range sortedKeys(val) {
			conv, err := FromGo(val[k])
			if err != nil {
				return Value{}, err
			}
			obj.Set(k, conv)
		}
		return FromObject(obj), nil
	default:
		return Value{}, hosterr.NewSerializationError(
			fmt.Sprintf("unsupported type %T", v), nil)
	}
}

func finite(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, hosterr.NewSerializationError(
			fmt.Sprintf("non-finite number %v", f), nil)
	}
	return Number(f), nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToGo converts v into plain Go values: nil, bool, float64, string, []any
// and map[string]any. Object order is lost.
func ToGo(v Value) any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = ToGo(item)
		}
		return out
	case KindObject:
		out := make(map[string]any, v.obj.Len())
		v.obj.Range(func(k string, item Value) bool {
			out[k] = ToGo(item)
			return true
		})
		return out
	default:
		return nil
	}
}

// Validate checks that v is representable in every backend and in the
// store: numbers must be finite and strings, object keys included, valid
// UTF-8.
func Validate(v Value) error {
	switch v.kind {
	case KindString:
		if !utf8.ValidString(v.s) {
			return invalidUTF8(v.s)
		}
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return hosterr.NewSerializationError(fmt.Sprintf("non-finite number %v", v.n), nil)
		}
	case KindArray:
		for _, item := range v.arr {
			if err := Validate(item); err != nil {
				return err
			}
		}
	case KindObject:
		var err error
		v.obj.Range(func(k string, item Value) bool {
			if !utf8.ValidString(k) {
				err = invalidUTF8(k)
				return false
			}
			err = Validate(item)
			return err == nil
		})
		return err
	}
	return nil
}

func invalidUTF8(s string) error {
	return hosterr.NewSerializationError(fmt.Sprintf("string %q is not valid UTF-8", s), nil)
}
