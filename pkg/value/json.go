package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/openfroyo/scripthost/pkg/hosterr"
)

// MarshalJSON encodes v as JSON, keeping object key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if err := Validate(v); err != nil {
			return err
		}
		buf.WriteString(strconv.FormatFloat(v.n, 'g', -1, 64))
	case KindString:
		if err := encodeString(buf, v.s); err != nil {
			return err
		}
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		var err error
		i := 0
		v.obj.Range(func(k string, item Value) bool {
			if i > 0 {
				buf.WriteByte(',')
			}
			i++
			if err = encodeString(buf, k); err != nil {
				return false
			}
			buf.WriteByte(':')
			err = item.encode(buf)
			return err == nil
		})
		if err != nil {
			return err
		}
		buf.WriteByte('}')
	default:
		return hosterr.NewSerializationError(fmt.Sprintf("unknown value kind %d", v.kind), nil)
	}
	return nil
}

// encodeString writes s as a JSON string. encoding/json replaces invalid
// UTF-8 with U+FFFD, so such strings are rejected instead of altered.
func encodeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return invalidUTF8(s)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return hosterr.NewSerializationError("failed to encode string", err)
	}
	buf.Write(data)
	return nil
}

// UnmarshalJSON decodes JSON into v, keeping object key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoded, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// ParseJSON decodes a single JSON document into a Value.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, hosterr.NewSerializationError("invalid JSON value", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, hosterr.NewSerializationError("trailing data after JSON value", nil)
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Array(items...), nil
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key must be a string, got %v", keyTok)
				}
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return FromObject(obj), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}
