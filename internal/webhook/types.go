package webhook

import (
	"context"

	"github.com/mattjoyce/switchboard/internal/events"
)

// Dispatcher routes a verified host event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev events.HostEvent) error
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single signed endpoint.
type EndpointConfig struct {
	Path string

	// Secret is the HMAC secret for signature verification.
	Secret string

	// SignatureHeader carries the signature, "sha256=<hex>" or plain hex.
	SignatureHeader string

	// MaxBodySize is the maximum request body size in bytes.
	MaxBodySize int64
}

// AcceptedResponse is the JSON response for an accepted event.
type AcceptedResponse struct {
	Status string `json:"status"`
	Kind   string `json:"kind"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

const DefaultMaxBodySize = 1 << 20
