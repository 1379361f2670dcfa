package jsengine

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

const maxDepth = 64

// toJS converts v to a goja value.
func toJS(vm *goja.Runtime, v value.Value) goja.Value {
	switch v.Kind() {
	case value.KindNull:
		return goja.Null()
	case value.KindBool:
		b, _ := v.AsBool()
		return vm.ToValue(b)
	case value.KindNumber:
		n, _ := v.AsNumber()
		return vm.ToValue(n)
	case value.KindString:
		s, _ := v.AsString()
		return vm.ToValue(s)
	case value.KindArray:
		items, _ := v.AsArray()
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = toJS(vm, item)
		}
		return vm.NewArray(out...)
	case value.KindObject:
		src, _ := v.AsObject()
		obj := vm.NewObject()
		src.Range(func(key string, item value.Value) bool {
			_ = obj.Set(key, toJS(vm, item))
			return true
		})
		return obj
	default:
		return goja.Undefined()
	}
}

// fromJS converts a goja value. Functions, symbols, cycles and non-finite
// numbers fail with a serialization error.
func fromJS(v goja.Value) (value.Value, error) {
	return fromJSDepth(v, 0)
}

func fromJSDepth(v goja.Value, depth int) (value.Value, error) {
	if depth > maxDepth {
		return value.Null(), hosterr.NewSerializationError("value nests too deeply or is cyclic", nil)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return value.Null(), nil
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		switch x := v.Export().(type) {
		case bool, int64, float64, string:
			return value.FromGo(x)
		default:
			return value.Null(), hosterr.NewSerializationError(
				fmt.Sprintf("cannot convert %s to a script value", v.String()), nil)
		}
	}

	if _, isFn := goja.AssertFunction(obj); isFn {
		return value.Null(), hosterr.NewSerializationError("functions cannot cross the host boundary", nil)
	}

	switch obj.ClassName() {
	case "Array":
		n := int(obj.Get("length").ToInteger())
		items := make([]value.Value, n)
		for i := 0; i < n; i++ {
			item, err := fromJSDepth(obj.Get(strconv.Itoa(i)), depth+1)
			if err != nil {
				return value.Null(), err
			}
			items[i] = item
		}
		return value.Array(items...), nil
	case "Object":
		out := value.NewObject()
		for _, key := range obj.Keys() {
			item, err := fromJSDepth(obj.Get(key), depth+1)
			if err != nil {
				return value.Null(), err
			}
			out.Set(key, item)
		}
		return value.FromObject(out), nil
	case "String", "Number", "Boolean":
		return value.FromGo(obj.Export())
	default:
		return value.Null(), hosterr.NewSerializationError(
			fmt.Sprintf("cannot convert %s object to a script value", obj.ClassName()), nil)
	}
}
