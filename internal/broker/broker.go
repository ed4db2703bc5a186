// Package broker routes protocol envelopes between the host and plugins.
//
// A Broker owns the plugin registry, the focus machine and a reference to the
// endpoint table. Inbound messages are authenticated by origin, decoded,
// dispatched into the table and answered only to the originating plugin.
// Outbound notifications go to one plugin, to an origin, or to everyone.
//
// Registration and focus changes are serialized by the broker's mutex.
// Inbound dispatch takes no broker lock, so handlers may call back into the
// broker. Hosts that need handler bodies to run one at a time feed inbound
// messages through events.Loop.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/switchboard/internal/endpoint"
	"github.com/mattjoyce/switchboard/internal/focus"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/metrics"
	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/registry"
	"github.com/mattjoyce/switchboard/internal/transport"
)

// Options configures a Broker. Zero values select defaults.
type Options struct {
	Codec      protocol.Codec
	Authorizer Authorizer
	Recorder   Recorder
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	// CompilationEndpoint is queried after a focus change to push
	// compilation data to the newly focused plugin.
	CompilationEndpoint endpoint.Key
}

// Broker is the message router for one host session.
type Broker struct {
	mu sync.Mutex

	registry *registry.Registry
	focus    focus.Machine
	table    *endpoint.Table

	codec          protocol.Codec
	authz          Authorizer
	recorder       Recorder
	metrics        *metrics.Metrics
	logger         *slog.Logger
	compilationKey endpoint.Key
	now            func() time.Time
}

// New creates a broker dispatching into table.
func New(table *endpoint.Table, opts Options) *Broker {
	if table == nil {
		table = endpoint.NewTable()
	}
	b := &Broker{
		registry:       registry.New(),
		table:          table,
		codec:          opts.Codec,
		authz:          opts.Authorizer,
		recorder:       opts.Recorder,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		compilationKey: opts.CompilationEndpoint,
		now:            time.Now,
	}
	if b.codec == nil {
		b.codec = protocol.JSON
	}
	if b.authz == nil {
		b.authz = AllowAll{}
	}
	if b.recorder == nil {
		b.recorder = nopRecorder{}
	}
	if b.metrics == nil {
		b.metrics = metrics.Discard()
	}
	if b.logger == nil {
		b.logger = log.WithComponent("broker")
	}
	if b.compilationKey == (endpoint.Key{}) {
		b.compilationKey = endpoint.Key{Key: KeyCompiler, Type: TypeGetCompilationResult}
	}
	return b
}

// Codec returns the wire codec used for every envelope.
func (b *Broker) Codec() protocol.Codec { return b.codec }

// Table returns the endpoint table.
func (b *Broker) Table() *endpoint.Table { return b.table }

// Register binds a plugin to its transport. Re-registering a title replaces
// its transport and origin binding; the previous origin stops resolving.
func (b *Broker) Register(d registry.Descriptor, t transport.Transport) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	displaced, err := b.registry.Register(d, t)
	if err != nil {
		return err
	}
	if displaced != "" {
		b.logger.Warn("plugin displaced by origin re-use", "plugin", displaced, "by", d.Title, "url", d.URL)
		b.focus.Clear(displaced)
	}
	b.metrics.Plugins.Set(float64(b.registry.Len()))
	b.logger.Info("plugin registered", "plugin", d.Title, "url", d.URL)
	return nil
}

// Unregister removes a plugin. Unknown plugins are ignored.
func (b *Broker) Unregister(d registry.Descriptor) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.registry.Unregister(d) {
		return
	}
	if b.focus.Clear(d.Title) {
		b.logger.Info("focused plugin unregistered", "plugin", d.Title)
	}
	b.metrics.Plugins.Set(float64(b.registry.Len()))
	b.logger.Info("plugin unregistered", "plugin", d.Title)
}

// Plugins returns the registered plugins sorted by title.
func (b *Broker) Plugins() []registry.Entry {
	return b.registry.Snapshot()
}

// Resolve returns the title bound to origin.
func (b *Broker) Resolve(origin string) (string, bool) {
	return b.registry.Resolve(origin)
}

// Post sends env to the plugin registered as title, targeting the origin
// recorded at registration. It reports whether the transport accepted it;
// every failure is a silent drop.
func (b *Broker) Post(ctx context.Context, title string, env *protocol.Envelope) bool {
	entry, ok := b.registry.Lookup(title)
	if !ok {
		b.drop(metrics.DropUnregistered, title, env, nil)
		return false
	}
	data, err := b.codec.Encode(env)
	if err != nil && env.Action == protocol.ActionResponse {
		// The request still gets exactly one answer.
		b.logger.Error("failed to encode response, sending internal error", "plugin", title, "id", env.ID, "key", env.Key, "type", env.Type, "error", err)
		env = encodeFailure(env, err)
		data, err = b.codec.Encode(env)
	}
	if err != nil {
		b.metrics.Dropped.WithLabelValues(metrics.DropEncode).Inc()
		b.logger.Error("failed to encode envelope", "plugin", title, "key", env.Key, "type", env.Type, "error", err)
		return false
	}
	if err := entry.Transport.Send(ctx, entry.Origin, data); err != nil {
		reason := metrics.DropSend
		if errors.Is(err, transport.ErrOriginMismatch) {
			reason = metrics.DropOriginMismatch
		}
		b.drop(reason, title, env, err)
		return false
	}

	b.metrics.Delivered.WithLabelValues(string(env.Action)).Inc()
	b.record(ctx, DirectionOutbound, title, env, "delivered")
	return true
}

// encodeFailure replaces an unencodable response with an internal error that
// keeps the id, key and type of the original.
func encodeFailure(resp *protocol.Envelope, err error) *protocol.Envelope {
	return &protocol.Envelope{
		ID:     resp.ID,
		Action: protocol.ActionResponse,
		Key:    resp.Key,
		Type:   resp.Type,
		Value:  []protocol.Value{protocol.Null()},
		Error:  protocol.Errorf(protocol.CodeInternal, "%s/%s: response not encodable: %v", resp.Key, resp.Type, err),
	}
}

// PostToOrigin resolves origin to a plugin and posts to it.
func (b *Broker) PostToOrigin(ctx context.Context, origin string, env *protocol.Envelope) bool {
	title, ok := b.registry.Resolve(origin)
	if !ok {
		b.drop(metrics.DropUnregistered, origin, env, nil)
		return false
	}
	return b.Post(ctx, title, env)
}

// Broadcast posts env to every registered plugin and returns how many
// transports accepted it. Delivery order is unspecified.
func (b *Broker) Broadcast(ctx context.Context, env *protocol.Envelope) int {
	delivered := 0
	for _, e := range b.registry.Snapshot() {
		if b.Post(ctx, e.Title, env) {
			delivered++
		}
	}
	return delivered
}

func (b *Broker) drop(reason, target string, env *protocol.Envelope, err error) {
	b.metrics.Dropped.WithLabelValues(reason).Inc()
	args := []any{"reason", reason, "target", target, "action", env.Action, "key", env.Key, "type", env.Type}
	if err != nil {
		args = append(args, "error", err)
	}
	b.logger.Debug("envelope dropped", args...)
}

func (b *Broker) record(ctx context.Context, dir Direction, title string, env *protocol.Envelope, outcome string) {
	rec := Record{
		Direction: dir,
		Plugin:    title,
		Action:    env.Action,
		ID:        env.ID,
		Key:       env.Key,
		Type:      env.Type,
		Outcome:   outcome,
		At:        b.now().UTC(),
	}
	if env.Error != nil {
		rec.ErrorCode = env.Error.Code
	}
	b.recorder.Record(ctx, rec)
}
