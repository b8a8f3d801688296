package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/id"
)

// WebServer serves browser clients over WebSocket. The wire format is one
// JSON object per message; GMCP needs no telnet subnegotiation here, it is
// just another message type. Web sessions are auto-subscribed to the core
// GMCP set by the engine.
type WebServer struct {
	gw  *Gateway
	log *zap.Logger

	upgrader websocket.Upgrader
}

// wsClientMsg is what a browser sends.
type wsClientMsg struct {
	Type    string          `json:"type"` // "line" | "gmcp"
	Line    string          `json:"line,omitempty"`
	Package string          `json:"package,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsServerMsg is what the gateway sends.
type wsServerMsg struct {
	Type    string          `json:"type"` // "text" | "info" | "error" | "prompt" | "login" | "clear" | "gmcp" | "close"
	Text    string          `json:"text,omitempty"`
	Package string          `json:"package,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

func NewWebServer(gw *Gateway) *WebServer {
	return &WebServer{
		gw:  gw,
		log: gw.log.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway fronts game traffic, not credentials; any origin
			// may connect and must still pass the login FSM.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve runs an HTTP server whose only route upgrades to WebSocket.
func (w *WebServer) Serve(ctx context.Context, lis net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", w.handleUpgrade)
	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	w.log.Info("websocket listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *WebServer) handleUpgrade(rw http.ResponseWriter, req *http.Request) {
	ws, err := w.upgrader.Upgrade(rw, req, nil)
	if err != nil {
		w.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := newWsConn(ws, w.gw.cfg.Server.SessionOutboundQueueCapacity, w.log)
	go c.writeLoop()

	sid, err := w.gw.register(req.Context(), c, false, true)
	if err != nil {
		w.log.Warn("session rejected at register", zap.Error(err))
		c.kill()
		return
	}
	c.sid = sid
	c.log = c.log.With(zap.Uint64("session", uint64(sid)))
	c.log.Info("websocket connected", zap.String("remote", ws.RemoteAddr().String()))

	w.readLoop(c)
}

func (w *WebServer) readLoop(c *wsConn) {
	reason := "client closed connection"
	defer func() {
		w.gw.dropSession(c.sid, reason)
		c.kill()
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				reason = "gateway closed connection"
			}
			return
		}
		var msg wsClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("malformed client message", zap.Error(err))
			continue
		}
		var ev event.Inbound
		switch msg.Type {
		case "line":
			ev = event.LineReceived{SessionID: c.sid, Line: msg.Line}
		case "gmcp":
			ev = event.GmcpReceived{SessionID: c.sid, Package: msg.Package, Payload: msg.Payload}
		default:
			continue
		}
		if err := w.gw.forward(context.Background(), ev); err != nil {
			reason = "engine link down"
			return
		}
	}
}

// wsConn mirrors telnetConn for the WebSocket transport.
type wsConn struct {
	sid id.SessionID
	ws  *websocket.Conn
	log *zap.Logger

	out       chan wsServerMsg
	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newWsConn(ws *websocket.Conn, queueCap int, log *zap.Logger) *wsConn {
	return &wsConn{
		ws:      ws,
		log:     log,
		out:     make(chan wsServerMsg, queueCap),
		closeCh: make(chan struct{}),
	}
}

func (c *wsConn) deliver(ev event.Outbound) bool {
	switch e := ev.(type) {
	case event.SendText:
		return c.enqueue(wsServerMsg{Type: "text", Text: e.Text})
	case event.SendInfo:
		return c.enqueue(wsServerMsg{Type: "info", Text: e.Text})
	case event.SendError:
		return c.enqueue(wsServerMsg{Type: "error", Text: e.Text})
	case event.SendPrompt:
		return c.enqueue(wsServerMsg{Type: "prompt"})
	case event.ShowLoginScreen:
		return c.enqueue(wsServerMsg{Type: "login"})
	case event.ClearScreen:
		return c.enqueue(wsServerMsg{Type: "clear"})
	case event.GmcpData:
		return c.enqueue(wsServerMsg{Type: "gmcp", Package: e.Package, Payload: e.JSON})
	case event.SetAnsi:
		// Browser clients style themselves.
		return true
	case event.Close:
		c.enqueue(wsServerMsg{Type: "close", Reason: e.Reason})
		c.kill()
		return true
	default:
		return true
	}
}

func (c *wsConn) enqueue(msg wsServerMsg) bool {
	if c.closed.Load() {
		return true
	}
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

func (c *wsConn) writeLoop() {
	defer c.kill()
	for {
		select {
		case msg := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteJSON(msg); err != nil {
				if !c.closed.Load() {
					c.log.Debug("write failed", zap.Error(err))
				}
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

func (c *wsConn) kill() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
		c.ws.Close()
	})
}
