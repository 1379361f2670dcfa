package starlarkengine

import (
	"fmt"
	"math"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

const maxDepth = 64

// toStarlark converts v. Integral numbers become Int so arithmetic and
// indexing behave as scripts expect.
func toStarlark(v value.Value) starlark.Value {
	switch v.Kind() {
	case value.KindBool:
		b, _ := v.AsBool()
		return starlark.Bool(b)
	case value.KindNumber:
		n, _ := v.AsNumber()
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return starlark.MakeInt64(int64(n))
		}
		return starlark.Float(n)
	case value.KindString:
		s, _ := v.AsString()
		return starlark.String(s)
	case value.KindArray:
		items, _ := v.AsArray()
		list := make([]starlark.Value, len(items))
		for i, item := range items {
			list[i] = toStarlark(item)
		}
		return starlark.NewList(list)
	case value.KindObject:
		obj, _ := v.AsObject()
		dict := starlark.NewDict(obj.Len())
		obj.Range(func(key string, item value.Value) bool {
			_ = dict.SetKey(starlark.String(key), toStarlark(item))
			return true
		})
		return dict
	default:
		return starlark.None
	}
}

// fromStarlark converts a Starlark value.
func fromStarlark(v starlark.Value) (value.Value, error) {
	return fromStarlarkDepth(v, 0)
}

func fromStarlarkDepth(v starlark.Value, depth int) (value.Value, error) {
	if depth > maxDepth {
		return value.Null(), hosterr.NewSerializationError("value nests too deeply", nil)
	}

	switch val := v.(type) {
	case nil, starlark.NoneType:
		return value.Null(), nil
	case starlark.Bool:
		return value.Bool(bool(val)), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return value.Int(i), nil
		}
		return value.FromGo(float64(val.Float()))
	case starlark.Float:
		return value.FromGo(float64(val))
	case starlark.String:
		return value.String(string(val)), nil
	case *starlark.List:
		return sequence(val, val.Len(), depth)
	case starlark.Tuple:
		return sequence(val, val.Len(), depth)
	case *starlark.Dict:
		out := value.NewObject()
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return value.Null(), hosterr.NewSerializationError(
					fmt.Sprintf("dict key must be a string, got %s", item[0].Type()), nil)
			}
			converted, err := fromStarlarkDepth(item[1], depth+1)
			if err != nil {
				return value.Null(), err
			}
			out.Set(string(key), converted)
		}
		return value.FromObject(out), nil
	case *starlarkstruct.Struct:
		out := value.NewObject()
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			converted, err := fromStarlarkDepth(attr, depth+1)
			if err != nil {
				return value.Null(), err
			}
			out.Set(name, converted)
		}
		return value.FromObject(out), nil
	default:
		return value.Null(), hosterr.NewSerializationError(
			fmt.Sprintf("cannot convert starlark %s to a script value", v.Type()), nil)
	}
}

func sequence(seq starlark.Indexable, n, depth int) (value.Value, error) {
	items := make([]value.Value, n)
	for i := 0; i < n; i++ {
		item, err := fromStarlarkDepth(seq.Index(i), depth+1)
		if err != nil {
			return value.Null(), err
		}
		items[i] = item
	}
	return value.Array(items...), nil
}
