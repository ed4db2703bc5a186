package events

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"

	"github.com/mattjoyce/switchboard/internal/log"
)

// ErrLoopStopped is returned by Submit once the loop has exited.
var ErrLoopStopped = errors.New("event loop stopped")

// Task is one unit of work executed on the loop.
type Task func(ctx context.Context)

// Loop executes submitted tasks serially in submission order.
type Loop struct {
	tasks  chan Task
	done   chan struct{}
	logger *slog.Logger
}

// NewLoop creates a loop that queues up to buffer pending tasks.
func NewLoop(buffer int) *Loop {
	if buffer < 0 {
		buffer = 0
	}
	return &Loop{
		tasks:  make(chan Task, buffer),
		done:   make(chan struct{}),
		logger: log.WithComponent("loop"),
	}
}

// Submit queues t. It blocks while the queue is full.
func (l *Loop) Submit(ctx context.Context, t Task) error {
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}
	select {
	case l.tasks <- t:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do submits t and waits for it to finish.
func (l *Loop) Do(ctx context.Context, t Task) error {
	finished := make(chan struct{})
	err := l.Submit(ctx, func(ctx context.Context) {
		defer close(finished)
		t(ctx)
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes tasks until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("event loop started")
	defer l.logger.Info("event loop stopped")
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-l.tasks:
			l.run(ctx, t)
		}
	}
}

// A panicking task must not take the loop down with it.
func (l *Loop) run(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	t(ctx)
}

// Dispatcher routes host events. *Bus implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev HostEvent) error
}

// Serialized returns a Dispatcher that runs next on the loop and waits for
// its result.
func (l *Loop) Serialized(next Dispatcher) Dispatcher {
	return serialDispatcher{loop: l, next: next}
}

type serialDispatcher struct {
	loop *Loop
	next Dispatcher
}

func (s serialDispatcher) Dispatch(ctx context.Context, ev HostEvent) error {
	var err error
	if lerr := s.loop.Do(ctx, func(ctx context.Context) {
		err = s.next.Dispatch(ctx, ev)
	}); lerr != nil {
		return lerr
	}
	return err
}
