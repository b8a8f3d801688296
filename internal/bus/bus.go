// Package bus decouples transports from the engine. Events cross it only as
// values; framing and sockets stay on the transport side.
package bus

import (
	"context"
	"errors"

	"github.com/ambonmud/server/internal/event"
)

var ErrClosed = errors.New("bus closed")

// Inbound carries transport -> engine events.
type Inbound interface {
	// Send blocks under backpressure until the queue accepts or ctx is done.
	Send(ctx context.Context, ev event.Inbound) error
	// TrySend reports whether the queue accepted the event.
	TrySend(ev event.Inbound) bool
	TryReceive() (event.Inbound, bool)
	Close()
}

// Outbound carries engine -> transport events.
type Outbound interface {
	Send(ctx context.Context, ev event.Outbound) error
	TrySend(ev event.Outbound) bool
	TryReceive() (event.Outbound, bool)
	Close()
}

// local is a bounded in-process queue. It backs every bus variant: the
// distributed and streamed buses wrap one and stay the source of truth.
type local[T any] struct {
	ch      chan T
	closed  chan struct{}
	onDepth func(int)
}

func newLocal[T any](capacity int, onDepth func(int)) *local[T] {
	if capacity < 1 {
		capacity = 1
	}
	if onDepth == nil {
		onDepth = func(int) {}
	}
	return &local[T]{
		ch:      make(chan T, capacity),
		closed:  make(chan struct{}),
		onDepth: onDepth,
	}
}

func (l *local[T]) send(ctx context.Context, v T) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	select {
	case l.ch <- v:
		l.onDepth(len(l.ch))
		return nil
	case <-l.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *local[T]) trySend(v T) bool {
	select {
	case <-l.closed:
		return false
	default:
	}
	select {
	case l.ch <- v:
		l.onDepth(len(l.ch))
		return true
	default:
		return false
	}
}

// receive blocks until an event arrives, the bus closes, or ctx is done.
// Pump goroutines use it; the engine sticks to tryReceive.
func (l *local[T]) receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-l.ch:
		l.onDepth(len(l.ch))
		return v, nil
	case <-l.closed:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (l *local[T]) tryReceive() (T, bool) {
	var zero T
	select {
	case v := <-l.ch:
		l.onDepth(len(l.ch))
		return v, true
	default:
		return zero, false
	}
}

func (l *local[T]) close() {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
}

// LocalInbound is the in-process inbound bus.
type LocalInbound struct {
	q *local[event.Inbound]
}

func NewLocalInbound(capacity int, onDepth func(int)) *LocalInbound {
	return &LocalInbound{q: newLocal[event.Inbound](capacity, onDepth)}
}

func (b *LocalInbound) Send(ctx context.Context, ev event.Inbound) error { return b.q.send(ctx, ev) }
func (b *LocalInbound) TrySend(ev event.Inbound) bool                    { return b.q.trySend(ev) }
func (b *LocalInbound) TryReceive() (event.Inbound, bool)                { return b.q.tryReceive() }
func (b *LocalInbound) Receive(ctx context.Context) (event.Inbound, error) {
	return b.q.receive(ctx)
}
func (b *LocalInbound) Close()                                           { b.q.close() }

// LocalOutbound is the in-process outbound bus.
type LocalOutbound struct {
	q *local[event.Outbound]
}

func NewLocalOutbound(capacity int, onDepth func(int)) *LocalOutbound {
	return &LocalOutbound{q: newLocal[event.Outbound](capacity, onDepth)}
}

func (b *LocalOutbound) Send(ctx context.Context, ev event.Outbound) error { return b.q.send(ctx, ev) }
func (b *LocalOutbound) TrySend(ev event.Outbound) bool                    { return b.q.trySend(ev) }
func (b *LocalOutbound) TryReceive() (event.Outbound, bool)                { return b.q.tryReceive() }
func (b *LocalOutbound) Receive(ctx context.Context) (event.Outbound, error) {
	return b.q.receive(ctx)
}
func (b *LocalOutbound) Close()                                            { b.q.close() }
