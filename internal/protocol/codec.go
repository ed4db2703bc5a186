package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformed wraps every decode failure so callers can classify drops.
var ErrMalformed = errors.New("malformed envelope")

// Codec converts envelopes to and from wire bytes.
type Codec interface {
	Name() string
	ContentType() string
	Encode(env *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

var (
	// JSON is the canonical codec.
	JSON Codec = jsonCodec{}
	// CBOR carries the same field names in binary form.
	CBOR Codec = cborCodec{}
)

// CodecByName resolves a configured codec name. Empty selects JSON.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	}
	return nil, fmt.Errorf("unsupported codec: %q (must be 'json' or 'cbor')", name)
}

// wireEnvelope is the serialized shape. ID is a pointer so presence can be checked.
type wireEnvelope struct {
	ID     *uint64 `json:"id,omitempty"`
	Action Action  `json:"action"`
	Key    string  `json:"key"`
	Type   string  `json:"type"`
	Value  []Value `json:"value"`
	Error  *Error  `json:"error,omitempty"`
}

// wireResponse always emits the error field, null on success.
type wireResponse struct {
	ID     uint64  `json:"id"`
	Action Action  `json:"action"`
	Key    string  `json:"key"`
	Type   string  `json:"type"`
	Value  []Value `json:"value"`
	Error  *Error  `json:"error"`
}

func toWire(env *Envelope) (any, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	values := env.Value
	if values == nil {
		values = []Value{}
	}
	switch env.Action {
	case ActionResponse:
		return wireResponse{ID: env.ID, Action: env.Action, Key: env.Key, Type: env.Type, Value: values, Error: env.Error}, nil
	case ActionRequest:
		id := env.ID
		return wireEnvelope{ID: &id, Action: env.Action, Key: env.Key, Type: env.Type, Value: values}, nil
	default:
		return wireEnvelope{Action: env.Action, Key: env.Key, Type: env.Type, Value: values}, nil
	}
}

func fromWire(w wireEnvelope) (*Envelope, error) {
	env := &Envelope{
		Action: w.Action,
		Key:    w.Key,
		Type:   w.Type,
		Value:  w.Value,
		Error:  w.Error,
	}
	if env.Action == "" {
		return nil, fmt.Errorf("%w: missing required field: action", ErrMalformed)
	}
	switch env.Action {
	case ActionRequest, ActionResponse:
		if w.ID == nil {
			return nil, fmt.Errorf("%w: %s missing required field: id", ErrMalformed, env.Action)
		}
		env.ID = *w.ID
	case ActionNotification:
		if w.ID != nil {
			return nil, fmt.Errorf("%w: notification must not carry an id", ErrMalformed)
		}
	}
	if env.Value == nil {
		env.Value = []Value{}
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

type jsonCodec struct{}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Encode(env *Envelope) ([]byte, error) {
	w, err := toWire(env)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte) (*Envelope, error) {
	var w wireEnvelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields() // Strict parsing
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after envelope", ErrMalformed)
	}
	return fromWire(w)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType:    reflect.TypeOf(map[string]any(nil)),
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string        { return "cbor" }
func (cborCodec) ContentType() string { return "application/cbor" }

func (cborCodec) Encode(env *Envelope) ([]byte, error) {
	w, err := toWire(env)
	if err != nil {
		return nil, err
	}
	data, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

func (cborCodec) Decode(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromWire(w)
}
