// Package gateway terminates client connections (telnet, WebSocket) and moves
// events between them and the engines. It holds no game state: just sockets,
// rendering, and a session -> engine routing table.
package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/metrics"
)

// clientConn is one terminated client connection. deliver must not block:
// implementations queue into a bounded buffer and report overflow.
type clientConn interface {
	// deliver enqueues an outbound event for rendering. The second result is
	// false when the connection's queue is full.
	deliver(ev event.Outbound) bool
	// kill tears the connection down without going through the engine.
	kill()
}

type Gateway struct {
	cfg   *config.Config
	log   *zap.Logger
	met   *metrics.Metrics
	alloc id.SessionAllocator

	mu     sync.RWMutex
	conns  map[id.SessionID]clientConn
	routes map[id.SessionID]Link
	links  map[string]Link

	// route decides which engine takes a fresh session.
	route func() Link
}

type Options struct {
	Config    *config.Config
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	Allocator id.SessionAllocator
	// InitialRoute picks the engine for new sessions. Defaults to the first
	// registered link.
	InitialRoute func() Link
}

func New(opts Options) *Gateway {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	g := &Gateway{
		cfg:    opts.Config,
		log:    opts.Log.Named("gateway"),
		met:    opts.Metrics,
		alloc:  opts.Allocator,
		conns:  make(map[id.SessionID]clientConn),
		routes: make(map[id.SessionID]Link),
		links:  make(map[string]Link),
		route:  opts.InitialRoute,
	}
	return g
}

// AddLink registers an engine link. Links must be added before Serve.
func (g *Gateway) AddLink(l Link) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.links[l.ID()] = l
	if g.route == nil {
		g.route = func() Link { return l }
	}
}

// Deliver routes one engine-produced event to its session's connection.
// Links call it from their receive goroutines; it is safe for concurrent use.
func (g *Gateway) Deliver(ev event.Outbound) {
	if redirect, ok := ev.(event.SessionRedirect); ok {
		g.reroute(redirect)
		return
	}

	sid := ev.Session()
	g.mu.RLock()
	c, ok := g.conns[sid]
	g.mu.RUnlock()
	if !ok {
		// Stream fan-out sends every gateway all events; sessions owned by
		// other gateways land here.
		return
	}

	if !c.deliver(ev) {
		g.met.BackpressureDisconnects.Add(context.Background(), 1)
		g.log.Warn("session outbound queue overflow, disconnecting",
			zap.Uint64("session", uint64(sid)))
		g.dropSession(sid, "backpressure")
		c.kill()
	}

	if _, closed := ev.(event.Close); closed {
		g.unregister(sid)
	}
}

// reroute repoints a session at the engine that accepted its handoff.
func (g *Gateway) reroute(ev event.SessionRedirect) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conns[ev.SessionID]; !ok {
		return
	}
	link, ok := g.links[ev.TargetEngineID]
	if !ok {
		g.log.Error("redirect to unknown engine",
			zap.Uint64("session", uint64(ev.SessionID)),
			zap.String("engine", ev.TargetEngineID))
		return
	}
	g.routes[ev.SessionID] = link
	g.log.Info("session rerouted",
		zap.Uint64("session", uint64(ev.SessionID)),
		zap.String("engine", ev.TargetEngineID))
}

// register admits a new client connection: allocates its session id, installs
// the route, and announces it to the engine.
func (g *Gateway) register(ctx context.Context, c clientConn, defaultAnsi, webSession bool) (id.SessionID, error) {
	sid, err := g.alloc.Next()
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	link := g.route()
	g.conns[sid] = c
	g.routes[sid] = link
	g.mu.Unlock()

	err = link.Send(ctx, event.Connected{
		SessionID:   sid,
		DefaultAnsi: defaultAnsi,
		WebSession:  webSession,
	})
	if err != nil {
		g.unregister(sid)
		return 0, err
	}
	return sid, nil
}

func (g *Gateway) unregister(sid id.SessionID) {
	g.mu.Lock()
	delete(g.conns, sid)
	delete(g.routes, sid)
	g.mu.Unlock()
}

// dropSession tells the owning engine the session is gone and forgets it.
func (g *Gateway) dropSession(sid id.SessionID, reason string) {
	g.mu.RLock()
	link := g.routes[sid]
	g.mu.RUnlock()
	g.unregister(sid)
	if link != nil {
		_ = link.Send(context.Background(), event.Disconnected{SessionID: sid, Reason: reason})
	}
}

// forward sends a client-produced event to the session's current engine.
func (g *Gateway) forward(ctx context.Context, ev event.Inbound) error {
	g.mu.RLock()
	link := g.routes[ev.Session()]
	g.mu.RUnlock()
	if link == nil {
		return ErrLinkDown
	}
	return link.Send(ctx, ev)
}

// Shutdown closes every connection and link.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	conns := make([]clientConn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	links := make([]Link, 0, len(g.links))
	for _, l := range g.links {
		links = append(links, l)
	}
	g.conns = make(map[id.SessionID]clientConn)
	g.routes = make(map[id.SessionID]Link)
	g.mu.Unlock()

	for _, c := range conns {
		c.kill()
	}
	for _, l := range links {
		l.Close()
	}
}
