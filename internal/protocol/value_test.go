package protocol

import (
	"math"
	"testing"
)

func TestValueKinds(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want Kind
	}{
		{"null", Null(), KindNull},
		{"string", String("x"), KindString},
		{"int", Int(4), KindNumber},
		{"float", Float(1.25), KindNumber},
		{"nan is null", Float(math.NaN()), KindNull},
		{"bool", Bool(true), KindBool},
	}
	for _, tt := range tests {
		if got := tt.v.Kind(); got != tt.want {
			t.Errorf("%s: Kind() = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestValueOfStructAndDecode(t *testing.T) {
	type tx struct {
		Hash  string `json:"hash"`
		Block int    `json:"block"`
	}
	v, err := ValueOf(tx{Hash: "0xabc", Block: 9})
	if err != nil {
		t.Fatalf("ValueOf: %v", err)
	}
	if v.Kind() != KindObject {
		t.Fatalf("Kind() = %s, want object", v.Kind())
	}

	var out tx
	if err := v.Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Hash != "0xabc" || out.Block != 9 {
		t.Fatalf("Decode = %+v", out)
	}
}

func TestValueNumbersKeepPrecision(t *testing.T) {
	var v Value
	if err := v.UnmarshalJSON([]byte(`9007199254740993`)); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	n, ok := v.AsInt()
	if !ok || n != 9007199254740993 {
		t.Fatalf("AsInt = %d, %v", n, ok)
	}
	if _, ok := String("1").AsInt(); ok {
		t.Fatal("string must not convert to int")
	}
}

func TestValueCBORKeepsLargeUnsigned(t *testing.T) {
	for _, raw := range []string{`18446744073709551615`, `9223372036854775808`, `-9223372036854775808`} {
		var in Value
		if err := in.UnmarshalJSON([]byte(raw)); err != nil {
			t.Fatalf("UnmarshalJSON(%s): %v", raw, err)
		}
		data, err := in.MarshalCBOR()
		if err != nil {
			t.Fatalf("MarshalCBOR(%s): %v", raw, err)
		}
		var out Value
		if err := out.UnmarshalCBOR(data); err != nil {
			t.Fatalf("UnmarshalCBOR(%s): %v", raw, err)
		}
		got, err := out.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON: %v", err)
		}
		if string(got) != raw {
			t.Errorf("round trip of %s = %s", raw, got)
		}
	}
}

func TestValuesReportsIndex(t *testing.T) {
	if _, err := Values("ok", make(chan int)); err == nil {
		t.Fatal("expected error for channel value")
	}
	vs, err := Values("a", 1, nil, false)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if len(vs) != 4 || !vs[2].IsNull() {
		t.Fatalf("Values = %#v", vs)
	}
}
