// Package transport defines how the broker hands encoded envelopes to a
// plugin, and provides the implementations the host uses.
//
// Every transport is bound to one origin when it is created. Send takes the
// origin the broker recorded at registration; a transport whose own origin
// differs refuses delivery with ErrOriginMismatch, mirroring cross-boundary
// messaging primitives that reject mismatched target origins.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrOriginMismatch is returned when the target origin is not the one the transport is bound to.
	ErrOriginMismatch = errors.New("target origin does not match transport origin")
	// ErrClosed is returned after a transport was closed.
	ErrClosed = errors.New("transport closed")
)

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks github.com/mattjoyce/switchboard/internal/transport Transport

// Transport delivers one encoded envelope to a plugin.
type Transport interface {
	Send(ctx context.Context, targetOrigin string, payload []byte) error
}

// Func adapts a function to Transport. It performs no origin check.
type Func func(ctx context.Context, targetOrigin string, payload []byte) error

func (f Func) Send(ctx context.Context, targetOrigin string, payload []byte) error {
	return f(ctx, targetOrigin, payload)
}
