// Package metrics exposes Prometheus counters for broker traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "switchboard"

// Inbound outcomes.
const (
	OutcomeDispatched = "dispatched"
	OutcomeUntrusted  = "untrusted"
	OutcomeMalformed  = "malformed"
	OutcomeIgnored    = "ignored"
	OutcomeNotFound   = "not_found"
	OutcomeBadArgs    = "bad_args"
	OutcomeForbidden  = "forbidden"
)

// Drop reasons for outbound delivery.
const (
	DropUnregistered   = "unregistered"
	DropOriginMismatch = "origin_mismatch"
	DropEncode         = "encode_error"
	DropSend           = "send_error"
)

// Metrics groups the broker's collectors.
type Metrics struct {
	Inbound   *prometheus.CounterVec
	Delivered *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Plugins   prometheus.Gauge
	Focus     prometheus.Counter
}

// New registers the broker collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Inbound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound plugin messages by outcome.",
		}, []string{"outcome"}),
		Delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_envelopes_total",
			Help:      "Envelopes handed to plugin transports by action.",
		}, []string{"action"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_envelopes_total",
			Help:      "Outbound envelopes dropped by reason.",
		}, []string{"reason"}),
		Plugins: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_plugins",
			Help:      "Currently registered plugins.",
		}),
		Focus: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "focus_changes_total",
			Help:      "Focus transitions performed.",
		}),
	}
}

// Discard returns collectors registered on a private registry.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
