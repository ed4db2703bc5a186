package broker

import (
	"context"

	"github.com/mattjoyce/switchboard/internal/endpoint"
	"github.com/mattjoyce/switchboard/internal/focus"
)

// SetFocus makes title the active plugin. The previous plugin receives
// app/unfocus before title receives app/focus. Focusing the current plugin
// or an unregistered title is a no-op. After a transition the compilation
// endpoint is queried and, when it yields a non-null result, the new plugin
// receives compiler/compilationData.
func (b *Broker) SetFocus(ctx context.Context, title string) focus.Transition {
	b.mu.Lock()
	tr := b.focus.Transition(title, b.registry.Has)
	if tr.Unfocus != "" {
		b.Post(ctx, tr.Unfocus, UnfocusNotification())
	}
	if tr.Focus != "" {
		b.Post(ctx, tr.Focus, FocusNotification())
	}
	b.mu.Unlock()

	if !tr.Changed() {
		return tr
	}
	b.metrics.Focus.Inc()
	b.logger.Info("focus changed", "from", tr.Unfocus, "to", tr.Focus)

	b.pushCompilationData(ctx, tr.Focus)
	return tr
}

// Focused returns the title holding focus, or "" when none does.
func (b *Broker) Focused() string {
	return b.focus.Current()
}

func (b *Broker) pushCompilationData(ctx context.Context, title string) {
	sendCtx := context.WithoutCancel(ctx)
	done := endpoint.NewCompletion(func(r endpoint.Result) {
		if r.Err != nil {
			b.logger.Debug("compilation data unavailable", "plugin", title, "error", r.Err)
			return
		}
		if r.Value.IsNull() {
			return
		}
		// Focus may have moved on while an asynchronous handler was running.
		if b.Focused() != title {
			return
		}
		b.Post(sendCtx, title, CompilationDataNotification(r.Value))
	})
	if err := b.Invoke(ctx, title, b.compilationKey, nil, done); err != nil {
		b.logger.Debug("no compilation endpoint registered", "endpoint", b.compilationKey.String())
	}
}
