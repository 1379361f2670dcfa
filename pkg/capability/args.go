package capability

import (
	"fmt"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

// Args are the positional arguments of a capability call. Missing trailing
// arguments read as null, which is how optional parameters are expressed.
type Args []value.Value

// Len returns the number of arguments passed.
func (a Args) Len() int { return len(a) }

// At returns argument i, or null when it was not passed.
func (a Args) At(i int) value.Value {
	if i < 0 || i >= len(a) {
		return value.Null()
	}
	return a[i]
}

func argError(i int, want string, got value.Value) error {
	return hosterr.NewInvalidArgumentError(
		fmt.Sprintf("argument %d must be %s, got %s", i+1, want, value.Describe(got)))
}

// String returns argument i as a required string.
func (a Args) String(i int) (string, error) {
	v := a.At(i)
	s, ok := v.AsString()
	if !ok {
		return "", argError(i, "a string", v)
	}
	return s, nil
}

// OptString returns argument i as a string, or def when it is null.
func (a Args) OptString(i int, def string) (string, error) {
	v := a.At(i)
	if v.IsNull() {
		return def, nil
	}
	s, ok := v.AsString()
	if !ok {
		return "", argError(i, "a string or null", v)
	}
	return s, nil
}

// Bool returns argument i as a boolean. Null reads as false.
func (a Args) Bool(i int) (bool, error) {
	v := a.At(i)
	if v.IsNull() {
		return false, nil
	}
	b, ok := v.AsBool()
	if !ok {
		return false, argError(i, "a boolean", v)
	}
	return b, nil
}

// StringList returns argument i as a list of strings. Null yields nil and a
// single string yields a one-element list.
func (a Args) StringList(i int) ([]string, error) {
	v := a.At(i)
	if v.IsNull() {
		return nil, nil
	}
	if s, ok := v.AsString(); ok {
		return []string{s}, nil
	}
	items, ok := v.AsArray()
	if !ok {
		return nil, argError(i, "an array of strings", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.AsString()
		if !ok {
			return nil, argError(i, "an array of strings", v)
		}
		out = append(out, s)
	}
	return out, nil
}

// Rest returns arguments from i onward as strings. Numbers and booleans are
// formatted, arrays are flattened one level and nulls are skipped.
func (a Args) Rest(i int) ([]string, error) {
	var out []string
	for j := i; j < len(a); j++ {
		v := a[j]
		switch v.Kind() {
		case value.KindNull:
			continue
		case value.KindString, value.KindNumber, value.KindBool:
			out = append(out, v.String())
		case value.KindArray:
			items, _ := v.AsArray()
			for _, item := range items {
				switch item.Kind() {
				case value.KindString, value.KindNumber, value.KindBool:
					out = append(out, item.String())
				default:
					return nil, argError(j, "a list of scalars", v)
				}
			}
		default:
			return nil, argError(j, "a scalar", v)
		}
	}
	return out, nil
}
