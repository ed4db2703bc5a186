package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is one element of an envelope's value sequence.
//
// The payload is held as a normalized tree of nil, string, json.Number, bool,
// map[string]any and []any, so JSON and CBOR decode to the same shape.
type Value struct {
	v any
}

// Null returns the null value.
func Null() Value { return Value{} }

// String wraps a string.
func String(s string) Value { return Value{v: s} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{v: b} }

// Int wraps an integer.
func Int(n int64) Value { return Value{v: json.Number(strconv.FormatInt(n, 10))} }

// Float wraps a float. NaN and infinities are not representable and become null.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{v: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// ValueOf converts an arbitrary Go value into a Value through its JSON form.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case nil:
		return Value{}, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	}
	data, err := json.Marshal(x)
	if err != nil {
		return Value{}, fmt.Errorf("convert value: %w", err)
	}
	var out Value
	if err := out.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return out, nil
}

// Values converts each argument with ValueOf.
func Values(xs ...any) ([]Value, error) {
	out := make([]Value, 0, len(xs))
	for i, x := range xs {
		v, err := ValueOf(x)
		if err != nil {
			return nil, fmt.Errorf("value[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Kind reports the variant held.
func (v Value) Kind() Kind {
	switch v.v.(type) {
	case string:
		return KindString
	case json.Number:
		return KindNumber
	case bool:
		return KindBool
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	}
	return KindNull
}

// IsNull reports whether v holds null.
func (v Value) IsNull() bool { return v.v == nil }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	s, ok := v.v.(string)
	return s, ok
}

// AsBool returns the bool payload.
func (v Value) AsBool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok
}

// AsInt returns the number payload when it is an integer.
func (v Value) AsInt() (int64, bool) {
	n, ok := v.v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	return i, err == nil
}

// AsFloat returns the number payload as a float.
func (v Value) AsFloat() (float64, bool) {
	n, ok := v.v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	return f, err == nil
}

// Any returns the normalized payload tree.
func (v Value) Any() any { return v.v }

// Decode unmarshals the value into dst using its JSON form.
func (v Value) Decode(dst any) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s value: %w", v.Kind(), err)
	}
	return nil
}

// Equal reports deep equality of the JSON forms.
func (v Value) Equal(o Value) bool {
	a, errA := v.MarshalJSON()
	b, errB := o.MarshalJSON()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.v)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	v.v = x
	return nil
}

func (v Value) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(toCBOR(v.v))
}

func (v *Value) UnmarshalCBOR(data []byte) error {
	var x any
	if err := decMode.Unmarshal(data, &x); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	n, err := fromCBOR(x)
	if err != nil {
		return err
	}
	v.v = n
	return nil
}

// toCBOR turns json.Number leaves into native integers or floats.
func toCBOR(x any) any {
	switch t := x.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(string(t), 10, 64); err == nil {
			return u
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = toCBOR(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toCBOR(e)
		}
		return out
	}
	return x
}

// fromCBOR normalizes a decoded CBOR tree to the JSON-compatible shape.
func fromCBOR(x any) (any, error) {
	switch t := x.(type) {
	case nil, string, bool:
		return t, nil
	case uint64:
		return json.Number(strconv.FormatUint(t, 10)), nil
	case int64:
		return json.Number(strconv.FormatInt(t, 10)), nil
	case float32:
		return Float(float64(t)).v, nil
	case float64:
		return Float(t).v, nil
	case []byte:
		return base64.StdEncoding.EncodeToString(t), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := fromCBOR(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := fromCBOR(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cbor item of type %T", x)
}
