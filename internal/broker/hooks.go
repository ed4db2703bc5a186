package broker

import (
	"context"
	"time"

	"github.com/mattjoyce/switchboard/internal/endpoint"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// Authorizer decides whether a plugin may call an endpoint. It runs after
// the endpoint is found and before its handler. A returned *protocol.Error
// is sent back verbatim; any other error becomes a 403.
type Authorizer interface {
	Authorize(ctx context.Context, plugin string, spec endpoint.Spec) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, plugin string, spec endpoint.Spec) error

func (f AuthorizerFunc) Authorize(ctx context.Context, plugin string, spec endpoint.Spec) error {
	return f(ctx, plugin, spec)
}

// AllowAll permits every call.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, endpoint.Spec) error { return nil }

// Direction of a recorded envelope relative to the broker.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Record is one audited envelope.
type Record struct {
	Direction Direction
	Plugin    string
	Action    protocol.Action
	ID        uint64
	Key       string
	Type      string
	ErrorCode int
	Outcome   string
	At        time.Time
}

// Recorder receives an audit record for every routed envelope.
// Implementations must not block for long; they run on the routing path.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Record) {}
