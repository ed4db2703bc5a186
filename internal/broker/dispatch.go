package broker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/mattjoyce/switchboard/internal/endpoint"
	"github.com/mattjoyce/switchboard/internal/metrics"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// OnMessage is the inbound hook for every transport. Messages from unknown
// origins and undecodable payloads are dropped without a reply. Requests are
// dispatched into the endpoint table and answered exactly once, to the
// originating plugin only.
func (b *Broker) OnMessage(ctx context.Context, origin string, raw []byte) {
	title, ok := b.registry.Resolve(origin)
	if !ok {
		b.metrics.Inbound.WithLabelValues(metrics.OutcomeUntrusted).Inc()
		b.logger.Debug("message from untrusted origin dropped", "origin", origin, "bytes", len(raw))
		return
	}

	env, err := b.codec.Decode(raw)
	if err != nil {
		b.metrics.Inbound.WithLabelValues(metrics.OutcomeMalformed).Inc()
		b.logger.Warn("malformed envelope dropped", "plugin", title, "error", err)
		return
	}
	b.record(ctx, DirectionInbound, title, env, "received")

	if env.Action != protocol.ActionRequest {
		// Plugins have no endpoints of their own; the host never issues
		// requests, so inbound responses and notifications have no consumer.
		b.metrics.Inbound.WithLabelValues(metrics.OutcomeIgnored).Inc()
		b.logger.Debug("non-request envelope ignored", "plugin", title, "action", env.Action, "key", env.Key, "type", env.Type)
		return
	}

	b.dispatch(ctx, title, env)
}

func (b *Broker) dispatch(ctx context.Context, title string, req *protocol.Envelope) {
	// Responses must still go out after the inbound request context ends.
	replyCtx := context.WithoutCancel(ctx)
	reply := func(result protocol.Value, perr *protocol.Error) {
		b.Post(replyCtx, title, protocol.NewResponse(req, result, perr))
	}

	spec, ok := b.table.Lookup(req.Key, req.Type)
	if !ok {
		b.metrics.Inbound.WithLabelValues(metrics.OutcomeNotFound).Inc()
		b.logger.Info("endpoint not found", "plugin", title, "key", req.Key, "type", req.Type)
		reply(protocol.Null(), protocol.NotFound(req.Key, req.Type))
		return
	}

	if err := spec.Arity.Check(len(req.Value)); err != nil {
		b.metrics.Inbound.WithLabelValues(metrics.OutcomeBadArgs).Inc()
		reply(protocol.Null(), protocol.Errorf(protocol.CodeBadRequest, "%s: %v", spec.Key, err))
		return
	}

	if err := b.authz.Authorize(ctx, title, spec); err != nil {
		b.metrics.Inbound.WithLabelValues(metrics.OutcomeForbidden).Inc()
		b.logger.Info("endpoint call denied", "plugin", title, "endpoint", spec.Key.String(), "error", err)
		var perr *protocol.Error
		if !errors.As(err, &perr) {
			perr = protocol.Errorf(protocol.CodeForbidden, "%s may not call %s", title, spec.Key)
		}
		reply(protocol.Null(), perr)
		return
	}

	b.metrics.Inbound.WithLabelValues(metrics.OutcomeDispatched).Inc()
	call := &endpoint.Call{
		Plugin:   title,
		Endpoint: spec.Key,
		Args:     req.Value,
		Done: endpoint.NewCompletion(func(r endpoint.Result) {
			reply(r.Value, r.Err)
		}),
	}
	b.invoke(ctx, spec, call)
}

// Invoke calls an endpoint on behalf of title without going through a
// transport. The result is delivered to done. Host-side components use it
// to query capabilities; arity and authorization are not applied.
func (b *Broker) Invoke(ctx context.Context, title string, key endpoint.Key, args []protocol.Value, done *endpoint.Completion) error {
	spec, ok := b.table.Lookup(key.Key, key.Type)
	if !ok {
		return protocol.NotFound(key.Key, key.Type)
	}
	b.invoke(ctx, spec, &endpoint.Call{Plugin: title, Endpoint: key, Args: args, Done: done})
	return nil
}

// invoke runs a handler and converts a panic into an internal error
// response, unless the handler already completed.
func (b *Broker) invoke(ctx context.Context, spec endpoint.Spec, call *endpoint.Call) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("endpoint handler panicked",
				"plugin", call.Plugin,
				"endpoint", spec.Key.String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			_ = call.Done.Reject(protocol.Errorf(protocol.CodeInternal, "%s: %s", spec.Key, fmt.Sprint(r)))
		}
	}()
	spec.Handler.Serve(ctx, call)
}
