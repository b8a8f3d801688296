package gateway

import (
	"context"
	"testing"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/id"
)

// fakeConn records delivered events and can be told to refuse them.
type fakeConn struct {
	delivered []event.Outbound
	full      bool
	killed    bool
}

func (c *fakeConn) deliver(ev event.Outbound) bool {
	if c.full {
		return false
	}
	c.delivered = append(c.delivered, ev)
	return true
}

func (c *fakeConn) kill() { c.killed = true }

// fakeLink records what the gateway forwards to its engine.
type fakeLink struct {
	id     string
	sent   []event.Inbound
	closed bool
}

func (l *fakeLink) ID() string { return l.id }

func (l *fakeLink) Send(_ context.Context, ev event.Inbound) error {
	l.sent = append(l.sent, ev)
	return nil
}

func (l *fakeLink) Close() { l.closed = true }

func newTestGateway(links ...*fakeLink) *Gateway {
	cfg := config.Defaults()
	g := New(Options{Config: cfg, Allocator: id.NewCounter()})
	for _, l := range links {
		g.AddLink(l)
	}
	return g
}

func TestRegisterAndForward(t *testing.T) {
	e1 := &fakeLink{id: "e1"}
	g := newTestGateway(e1)
	c := &fakeConn{}

	sid, err := g.register(context.Background(), c, true, false)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(e1.sent) != 1 {
		t.Fatalf("engine saw %d events, want Connected", len(e1.sent))
	}
	conn, ok := e1.sent[0].(event.Connected)
	if !ok || conn.SessionID != sid || !conn.DefaultAnsi {
		t.Errorf("engine saw %#v, want Connected for session %d", e1.sent[0], sid)
	}

	if err := g.forward(context.Background(), event.LineReceived{SessionID: sid, Line: "look"}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if line, ok := e1.sent[1].(event.LineReceived); !ok || line.Line != "look" {
		t.Errorf("engine saw %#v, want the forwarded line", e1.sent[1])
	}

	g.Deliver(event.SendText{SessionID: sid, Text: "A quiet square."})
	if len(c.delivered) != 1 {
		t.Errorf("connection saw %d events, want 1", len(c.delivered))
	}
}

func TestDeliverUnknownSessionIsDropped(t *testing.T) {
	g := newTestGateway(&fakeLink{id: "e1"})
	// Fan-out streams hand every gateway all events; foreign sessions are
	// silently ignored.
	g.Deliver(event.SendText{SessionID: 99, Text: "not ours"})
}

func TestBackpressureDisconnectsOnce(t *testing.T) {
	e1 := &fakeLink{id: "e1"}
	g := newTestGateway(e1)
	c := &fakeConn{full: true}

	sid, err := g.register(context.Background(), c, false, false)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	e1.sent = nil

	g.Deliver(event.SendText{SessionID: sid, Text: "overflow"})
	if !c.killed {
		t.Fatal("overflowing connection was not killed")
	}
	if len(e1.sent) != 1 {
		t.Fatalf("engine saw %d events, want one Disconnected", len(e1.sent))
	}
	disc, ok := e1.sent[0].(event.Disconnected)
	if !ok || disc.SessionID != sid || disc.Reason != "backpressure" {
		t.Errorf("engine saw %#v, want Disconnected(backpressure)", e1.sent[0])
	}

	// The session is gone: a second overflow must not disconnect it again.
	g.Deliver(event.SendText{SessionID: sid, Text: "again"})
	if len(e1.sent) != 1 {
		t.Errorf("engine saw %d events after the session was dropped", len(e1.sent))
	}
}

func TestRedirectReroutesInput(t *testing.T) {
	e1 := &fakeLink{id: "e1"}
	e2 := &fakeLink{id: "e2"}
	g := newTestGateway(e1, e2)
	g.route = func() Link { return e1 }
	c := &fakeConn{}

	sid, err := g.register(context.Background(), c, false, false)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	g.Deliver(event.SessionRedirect{SessionID: sid, TargetEngineID: "e2"})
	if err := g.forward(context.Background(), event.LineReceived{SessionID: sid, Line: "look"}); err != nil {
		t.Fatalf("forward after redirect: %v", err)
	}
	if len(e2.sent) != 1 {
		t.Fatalf("e2 saw %d events, want the rerouted line", len(e2.sent))
	}
	if len(e1.sent) != 1 { // only the original Connected
		t.Errorf("e1 saw %d events, input still routed to the old engine", len(e1.sent))
	}

	// Redirects to engines this gateway has no link for are ignored, and the
	// session keeps its current route.
	g.Deliver(event.SessionRedirect{SessionID: sid, TargetEngineID: "e9"})
	if err := g.forward(context.Background(), event.LineReceived{SessionID: sid, Line: "north"}); err != nil {
		t.Fatalf("forward after bad redirect: %v", err)
	}
	if len(e2.sent) != 2 {
		t.Errorf("e2 saw %d events, want 2", len(e2.sent))
	}
}

func TestCloseUnregistersSession(t *testing.T) {
	e1 := &fakeLink{id: "e1"}
	g := newTestGateway(e1)
	c := &fakeConn{}

	sid, err := g.register(context.Background(), c, false, false)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	g.Deliver(event.Close{SessionID: sid, Reason: "quit"})
	if len(c.delivered) != 1 {
		t.Fatalf("connection saw %d events, want the Close", len(c.delivered))
	}
	if err := g.forward(context.Background(), event.LineReceived{SessionID: sid, Line: "look"}); err != ErrLinkDown {
		t.Errorf("forward after close = %v, want ErrLinkDown", err)
	}
}
