package luaengine

import (
	"fmt"
	"sort"

	"github.com/Shopify/go-lua"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

const maxDepth = 64

// objectMetaTable marks tables built from objects so an empty object
// converts back to an object rather than an empty array.
const objectMetaTable = "froyo.object"

// push pushes v onto the stack. Arrays become 1-based sequence tables.
func push(state *lua.State, v value.Value) {
	switch v.Kind() {
	case value.KindBool:
		b, _ := v.AsBool()
		state.PushBoolean(b)
	case value.KindNumber:
		n, _ := v.AsNumber()
		state.PushNumber(n)
	case value.KindString:
		s, _ := v.AsString()
		state.PushString(s)
	case value.KindArray:
		items, _ := v.AsArray()
		state.CreateTable(len(items), 0)
		for i, item := range items {
			push(state, item)
			state.RawSetInt(-2, i+1)
		}
	case value.KindObject:
		obj, _ := v.AsObject()
		state.CreateTable(0, obj.Len())
		obj.Range(func(key string, item value.Value) bool {
			push(state, item)
			state.SetField(-2, key)
			return true
		})
		lua.NewMetaTable(state, objectMetaTable)
		state.SetMetaTable(-2)
	default:
		state.PushNil()
	}
}

// toValue converts the value at index. Tables whose keys are exactly
// 1..n become arrays, and tables with string keys become objects with keys
// sorted. An empty table becomes an empty array unless it was pushed from
// an object.
func toValue(state *lua.State, index int) (value.Value, error) {
	return toValueDepth(state, index, 0)
}

func toValueDepth(state *lua.State, index, depth int) (value.Value, error) {
	if depth > maxDepth {
		return value.Null(), hosterr.NewSerializationError("table nests too deeply or is cyclic", nil)
	}

	switch state.TypeOf(index) {
	case lua.TypeNil, lua.TypeNone:
		return value.Null(), nil
	case lua.TypeBoolean:
		return value.Bool(state.ToBoolean(index)), nil
	case lua.TypeNumber:
		n, _ := state.ToNumber(index)
		return value.FromGo(n)
	case lua.TypeString:
		s, _ := state.ToString(index)
		return value.String(s), nil
	case lua.TypeTable:
		return tableToValue(state, index, depth)
	default:
		return value.Null(), hosterr.NewSerializationError(
			fmt.Sprintf("cannot convert lua %s to a script value", lua.TypeNameOf(state, index)), nil)
	}
}

func tableToValue(state *lua.State, index, depth int) (value.Value, error) {
	index = state.AbsIndex(index)

	sequence := true
	maxIndex, numeric := 0, 0
	var keys []string
	state.PushNil()
	for state.Next(index) {
		switch state.TypeOf(-2) {
		case lua.TypeNumber:
			numeric++
			idx, ok := state.ToInteger(-2)
			n, _ := state.ToNumber(-2)
			if !ok || idx <= 0 || float64(idx) != n {
				sequence = false
			} else if idx > maxIndex {
				maxIndex = idx
			}
		case lua.TypeString:
			key, _ := state.ToString(-2)
			keys = append(keys, key)
		default:
			state.Pop(2)
			return value.Null(), hosterr.NewSerializationError("table keys must be strings or sequence indexes", nil)
		}
		state.Pop(1)
	}

	switch {
	case len(keys) == 0 && numeric == 0 && isObjectTable(state, index):
		return value.FromObject(value.NewObject()), nil
	case len(keys) == 0 && sequence && maxIndex == numeric:
		items := make([]value.Value, 0, numeric)
		for i := 1; i <= numeric; i++ {
			state.RawGetInt(index, i)
			item, err := toValueDepth(state, -1, depth+1)
			state.Pop(1)
			if err != nil {
				return value.Null(), err
			}
			items = append(items, item)
		}
		return value.Array(items...), nil
	case len(keys) == 0:
		return value.Null(), hosterr.NewSerializationError("table is not a sequence", nil)
	case numeric > 0:
		return value.Null(), hosterr.NewSerializationError("table mixes sequence and string keys", nil)
	}

	sort.Strings(keys)
	out := value.NewObject()
	for _, key := range keys {
		state.Field(index, key)
		item, err := toValueDepth(state, -1, depth+1)
		state.Pop(1)
		if err != nil {
			return value.Null(), err
		}
		out.Set(key, item)
	}
	return value.FromObject(out), nil
}

func isObjectTable(state *lua.State, index int) bool {
	if !state.MetaTable(index) {
		return false
	}
	lua.MetaTableNamed(state, objectMetaTable)
	marked := state.RawEqual(-1, -2)
	state.Pop(2)
	return marked
}
