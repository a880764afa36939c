// Package jsonvalue provides a tagged variant over JSON values.
//
// It replaces untyped any containers for free-form metadata payloads so
// decoded values keep their kind and round-trip losslessly, including
// number precision.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies which JSON shape a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the kind name for logging.
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
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value holds exactly one JSON value. The zero value is JSON null.
type Value struct {
	kind Kind
	b    bool
	n    json.Number
	s    string
	arr  []Value
	obj  map[string]Value
}

// Null returns the JSON null value.
func Null() Value {
	return Value{kind: KindNull}
}

// Bool wraps a boolean.
func Bool(v bool) Value {
	return Value{kind: KindBool, b: v}
}

// Number wraps a numeric literal, preserving its textual form.
func Number(v json.Number) Value {
	return Value{kind: KindNumber, n: v}
}

// String wraps a string.
func String(v string) Value {
	return Value{kind: KindString, s: v}
}

// Array wraps a slice of values.
func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: items}
}

// Object wraps a map of values.
func Object(fields map[string]Value) Value {
	return Value{kind: KindObject, obj: fields}
}

// Kind reports which shape the value holds.
func (v Value) Kind() Kind {
	return v.kind
}

// BoolValue returns the boolean payload and whether the value is a bool.
func (v Value) BoolValue() (bool, bool) {
	return v.b, v.kind == KindBool
}

// NumberValue returns the numeric payload and whether the value is a number.
func (v Value) NumberValue() (json.Number, bool) {
	return v.n, v.kind == KindNumber
}

// StringValue returns the string payload and whether the value is a string.
func (v Value) StringValue() (string, bool) {
	return v.s, v.kind == KindString
}

// ArrayValue returns the array payload and whether the value is an array.
func (v Value) ArrayValue() ([]Value, bool) {
	return v.arr, v.kind == KindArray
}

// ObjectValue returns the object payload and whether the value is an object.
func (v Value) ObjectValue() (map[string]Value, bool) {
	return v.obj, v.kind == KindObject
}

// Equal reports deep equality between two values.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n == other.n
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for key, val := range v.obj {
			otherVal, ok := other.obj[key]
			if !ok || !val.Equal(otherVal) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if v.n == "" {
			return []byte("0"), nil
		}
		return []byte(v.n), nil
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		// Deterministic key order for stable encoding.
		keys := make([]string, 0, len(v.obj))
		for key := range v.obj {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodedKey, err := json.Marshal(key)
			if err != nil {
				return nil, err
			}
			buf.Write(encodedKey)
			buf.WriteByte(':')
			encodedVal, err := json.Marshal(v.obj[key])
			if err != nil {
				return nil, err
			}
			buf.Write(encodedVal)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("marshal json value: invalid kind %d", int(v.kind))
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	decoded, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("decode json value: %w", err)
	}
	return decodeFromToken(dec, tok)
}

func decodeFromToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
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
				return Value{}, fmt.Errorf("decode json array: %w", err)
			}
			return Array(items...), nil
		case '{':
			fields := map[string]Value{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("decode json object key: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("decode json object: non-string key %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				fields[key] = val
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("decode json object: %w", err)
			}
			return Object(fields), nil
		}
	}
	return Value{}, fmt.Errorf("decode json value: unexpected token %v", tok)
}
