package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/event"
)

func reconnectCfg() config.ReconnectConfig {
	return config.ReconnectConfig{
		MaxAttempts:  3,
		InitialDelay: config.Duration{Duration: time.Millisecond},
		MaxDelay:     config.Duration{Duration: 2 * time.Millisecond},
		JitterFactor: 0,
		StreamVerify: config.Duration{Duration: 200 * time.Millisecond},
	}
}

// brokenStream fails Recv when told to, so a serving link can be cut at will.
type brokenStream struct {
	errCh chan error
}

func (s *brokenStream) Send(event.Frame) error { return nil }

func (s *brokenStream) Recv() (event.Frame, error) {
	return event.Frame{}, <-s.errCh
}

func TestStreamLinkExhaustionSignalsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dials atomic.Int32
	down := make(chan error, 1)
	l := &StreamLink{
		engineID: "e1",
		cfg:      reconnectCfg(),
		log:      zap.NewNop(),
		deliver:  func(event.Outbound) {},
		onDown:   func(err error) { down <- err },
		sendCh:   make(chan event.Frame, 8),
		dial: func(context.Context) (eventStream, error) {
			dials.Add(1)
			return nil, errors.New("connection refused")
		},
	}
	go l.run(ctx)

	select {
	case <-down:
	case <-time.After(5 * time.Second):
		t.Fatal("exhausted link never signalled down")
	}
	if got := dials.Load(); got != 3 {
		t.Errorf("dialed %d times, want exactly maxAttempts=3", got)
	}
	if err := l.Send(ctx, event.LineReceived{SessionID: 1, Line: "look"}); err != ErrLinkDown {
		t.Errorf("Send on a dead link = %v, want ErrLinkDown", err)
	}
}

func TestStreamLinkGatesTrafficOnVerify(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := &brokenStream{errCh: make(chan error)}
	l := &StreamLink{
		engineID: "e1",
		cfg:      reconnectCfg(),
		log:      zap.NewNop(),
		deliver:  func(event.Outbound) {},
		sendCh:   make(chan event.Frame, 8),
		dial: func(context.Context) (eventStream, error) {
			return stream, nil
		},
	}
	go l.run(ctx)

	// Inside the verify window the link refuses intake even though the
	// stream is established.
	if err := l.Send(ctx, event.LineReceived{SessionID: 1, Line: "look"}); err != ErrLinkDown {
		t.Fatalf("Send before verification = %v, want ErrLinkDown", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := l.Send(ctx, event.LineReceived{SessionID: 1, Line: "look"}); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("link never came up after the verify window")
		}
		time.Sleep(time.Millisecond)
	}

	// Cut the stream: the link must drop back down while it re-dials.
	stream.errCh <- errors.New("stream reset")
	for {
		if err := l.Send(ctx, event.LineReceived{SessionID: 1, Line: "look"}); err == ErrLinkDown {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("link stayed up after the stream broke")
		}
		time.Sleep(time.Millisecond)
	}
}
