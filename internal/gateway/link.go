package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/rpc"
)

// Link is one engine as seen from the gateway: inbound events go in, and the
// engine's outbound events come back through the deliver callback given at
// construction.
type Link interface {
	ID() string
	Send(ctx context.Context, ev event.Inbound) error
	Close()
}

var ErrLinkDown = errors.New("gateway: engine link down")

// BusLink couples the gateway directly to an in-process engine. Standalone
// mode uses it; there is no stream to lose, so Send never reports ErrLinkDown.
type BusLink struct {
	engineID string
	in       bus.Inbound
}

func NewBusLink(engineID string, in bus.Inbound) *BusLink {
	return &BusLink{engineID: engineID, in: in}
}

func (l *BusLink) ID() string { return l.engineID }

func (l *BusLink) Send(ctx context.Context, ev event.Inbound) error {
	return l.in.Send(ctx, ev)
}

func (l *BusLink) Close() {}

// eventStream is the bidi frame pipe a link pumps. *rpc.EventStream is the
// production implementation.
type eventStream interface {
	Send(event.Frame) error
	Recv() (event.Frame, error)
}

// StreamLink is a gRPC event stream to a remote engine, re-dialed with
// exponential backoff when it drops. While the stream is down or still inside
// its verify window the link rejects intake instead of queueing unboundedly.
type StreamLink struct {
	engineID string
	cfg      config.ReconnectConfig
	log      *zap.Logger
	deliver  func(event.Outbound)
	// onDown fires once when the attempt budget is exhausted. The gateway
	// treats it as fatal.
	onDown func(error)

	dial   func(ctx context.Context) (eventStream, error)
	client *rpc.Client
	sendCh chan event.Frame
	cancel context.CancelFunc

	mu sync.RWMutex
	up bool
}

func DialStreamLink(ctx context.Context, engineID, addr string, cfg config.ReconnectConfig, deliver func(event.Outbound), onDown func(error), log *zap.Logger) (*StreamLink, error) {
	client, err := rpc.Dial(addr)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	l := &StreamLink{
		engineID: engineID,
		cfg:      cfg,
		log:      log.Named("link").With(zap.String("engine", engineID)),
		deliver:  deliver,
		onDown:   onDown,
		client:   client,
		sendCh:   make(chan event.Frame, 256),
		cancel:   cancel,
	}
	l.dial = func(ctx context.Context) (eventStream, error) {
		stream, err := client.Events(ctx)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}
	go l.run(runCtx)
	return l, nil
}

func (l *StreamLink) ID() string { return l.engineID }

func (l *StreamLink) Send(ctx context.Context, ev event.Inbound) error {
	l.mu.RLock()
	up := l.up
	l.mu.RUnlock()
	if !up {
		return ErrLinkDown
	}
	frame, err := event.EncodeInbound(ev)
	if err != nil {
		return err
	}
	select {
	case l.sendCh <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *StreamLink) Close() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.client != nil {
		_ = l.client.Close()
	}
}

func (l *StreamLink) setUp(up bool) {
	l.mu.Lock()
	l.up = up
	l.mu.Unlock()
}

// run owns the stream lifecycle: dial, serve until the stream breaks, back
// off, repeat. Dial failures and streams that die inside the verify window
// both spend the attempt budget; only a stream that survives the window
// resets it, so a flapping engine cannot keep the budget fresh. Exhausting
// the budget fires onDown and closes the link for good.
func (l *StreamLink) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.InitialDelay.Duration
	bo.MaxInterval = l.cfg.MaxDelay.Duration
	bo.RandomizationFactor = l.cfg.JitterFactor

	attempts := 0
	// fail spends one attempt; true means the budget is gone.
	fail := func(err error) bool {
		attempts++
		if attempts >= l.cfg.MaxAttempts {
			l.log.Error("engine link exhausted",
				zap.Int("attempts", attempts),
				zap.Error(err))
			if l.onDown != nil {
				l.onDown(err)
			}
			return true
		}
		delay := bo.NextBackOff()
		l.log.Info("engine stream down, backing off",
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		return false
	}

	for ctx.Err() == nil {
		stream, err := l.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if fail(err) {
				return
			}
			continue
		}

		// Traffic stays gated until the stream survives the verify window.
		started := time.Now()
		verified := time.AfterFunc(l.cfg.StreamVerify.Duration, func() { l.setUp(true) })
		err = l.serve(ctx, stream)
		verified.Stop()
		l.setUp(false)
		if ctx.Err() != nil {
			return
		}
		lived := time.Since(started)
		l.log.Warn("engine stream lost", zap.Duration("lived", lived), zap.Error(err))
		if lived >= l.cfg.StreamVerify.Duration {
			attempts = 0
			bo.Reset()
			continue
		}
		if fail(err) {
			return
		}
	}
}

// serve pumps both directions until either side fails.
func (l *StreamLink) serve(ctx context.Context, stream eventStream) error {
	errCh := make(chan error, 2)

	go func() {
		for {
			select {
			case frame := <-l.sendCh:
				if err := stream.Send(frame); err != nil {
					errCh <- err
					return
				}
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	go func() {
		for {
			frame, err := stream.Recv()
			if err != nil {
				errCh <- err
				return
			}
			ev, err := event.DecodeOutbound(frame)
			if err != nil {
				l.log.Warn("undecodable outbound frame", zap.Error(err))
				continue
			}
			l.deliver(ev)
		}
	}()

	return <-errCh
}
