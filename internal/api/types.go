package api

import (
	"time"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Plugins       int    `json:"plugins"`
	Focused       string `json:"focused,omitempty"`
}

// AcceptedResponse acknowledges asynchronous work.
type AcceptedResponse struct {
	Status string `json:"status"`
}

// PluginSummary describes one registered plugin.
type PluginSummary struct {
	Title        string    `json:"title"`
	Origin       string    `json:"origin"`
	RegisteredAt time.Time `json:"registered_at"`
	Focused      bool      `json:"focused"`
	Streaming    bool      `json:"streaming"`
	Allow        []string  `json:"allow,omitempty"`
}

// PluginListResponse is returned by GET /admin/plugins.
type PluginListResponse struct {
	Focused string          `json:"focused,omitempty"`
	Plugins []PluginSummary `json:"plugins"`
}

// RegisterRequest is the JSON body for POST /admin/plugins.
type RegisterRequest struct {
	Title string   `json:"title"`
	URL   string   `json:"url"`
	Allow []string `json:"allow,omitempty"`
}

// FocusRequest is the JSON body for POST /admin/focus.
type FocusRequest struct {
	Title string `json:"title"`
}

// FocusResponse reports focus after a focus request.
type FocusResponse struct {
	Focused string `json:"focused"`
}

// BroadcastRequest is the JSON body for POST /admin/broadcast.
type BroadcastRequest struct {
	Key   string           `json:"key"`
	Type  string           `json:"type"`
	Value []protocol.Value `json:"value"`
}

// BroadcastResponse reports how many plugins accepted a broadcast.
type BroadcastResponse struct {
	Delivered int `json:"delivered"`
}
