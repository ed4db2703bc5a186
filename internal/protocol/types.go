package protocol

import (
	"fmt"
)

// Action discriminates the three envelope kinds.
type Action string

const (
	ActionRequest      Action = "request"
	ActionResponse     Action = "response"
	ActionNotification Action = "notification"
)

func (a Action) valid() bool {
	return a == ActionRequest || a == ActionResponse || a == ActionNotification
}

// Error codes carried in response envelopes.
const (
	CodeBadRequest = 400
	CodeForbidden  = 403
	CodeNotFound   = 404
	CodeInternal   = 500
)

// Envelope is one protocol message exchanged between the broker and a plugin.
//
// ID is meaningful for requests and responses only. Value is always a
// sequence; a response carries exactly one element holding the result.
type Envelope struct {
	ID     uint64
	Action Action
	Key    string
	Type   string
	Value  []Value
	Error  *Error
}

// Error is the structured failure carried by a response. A nil *Error means success.
type Error struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg,omitempty"`
	Data  any    `json:"data,omitempty"`
	Stack string `json:"stack,omitempty"`
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("protocol error %d", e.Code)
	}
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Msg)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// NotFound is the error returned for requests addressed to a missing endpoint.
func NotFound(key, typ string) *Error {
	return Errorf(CodeNotFound, "Endpoint %s/%s not present", key, typ)
}

// NewRequest builds a request envelope.
func NewRequest(id uint64, key, typ string, values ...Value) *Envelope {
	return &Envelope{ID: id, Action: ActionRequest, Key: key, Type: typ, Value: values}
}

// NewNotification builds a notification envelope.
func NewNotification(key, typ string, values ...Value) *Envelope {
	return &Envelope{Action: ActionNotification, Key: key, Type: typ, Value: values}
}

// NewResponse builds the response to req, echoing its id, key and type.
func NewResponse(req *Envelope, result Value, err *Error) *Envelope {
	return &Envelope{
		ID:     req.ID,
		Action: ActionResponse,
		Key:    req.Key,
		Type:   req.Type,
		Value:  []Value{result},
		Error:  err,
	}
}

// Clone returns a copy whose Value slice can be modified independently.
func (e *Envelope) Clone() *Envelope {
	out := *e
	if e.Value != nil {
		out.Value = append([]Value(nil), e.Value...)
	}
	return &out
}

// Validate checks the shape rules for each action.
func (e *Envelope) Validate() error {
	if !e.Action.valid() {
		return fmt.Errorf("invalid action value: %q", e.Action)
	}
	if e.Key == "" {
		return fmt.Errorf("envelope missing required field: key")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope missing required field: type")
	}
	if e.Action == ActionResponse && len(e.Value) != 1 {
		return fmt.Errorf("response value must hold exactly one element, got %d", len(e.Value))
	}
	if e.Action != ActionResponse && e.Error != nil {
		return fmt.Errorf("%s envelope must not carry an error", e.Action)
	}
	return nil
}
