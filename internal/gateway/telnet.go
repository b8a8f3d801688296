package gateway

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/id"
)

// Telnet protocol bytes. GMCP is telnet option 201, negotiated with
// WILL/DO and carried in subnegotiation frames.
const (
	telnetSE   = 240
	telnetSB   = 250
	telnetWill = 251
	telnetWont = 252
	telnetDo   = 253
	telnetDont = 254
	telnetIAC  = 255
	telnetGMCP = 201
)

// TelnetServer accepts classic MUD client connections.
type TelnetServer struct {
	gw  *Gateway
	log *zap.Logger
}

func NewTelnetServer(gw *Gateway) *TelnetServer {
	return &TelnetServer{gw: gw, log: gw.log.Named("telnet")}
}

// Serve accepts connections on lis until ctx is cancelled.
func (t *TelnetServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		lis.Close()
	}()
	t.log.Info("telnet listening", zap.String("addr", lis.Addr().String()))
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.log.Warn("accept failed", zap.Error(err))
			continue
		}
		go t.handle(ctx, conn)
	}
}

func (t *TelnetServer) handle(ctx context.Context, conn net.Conn) {
	c := newTelnetConn(conn, t.gw.cfg.Server.SessionOutboundQueueCapacity, t.log)
	go c.writeLoop()

	// Offer GMCP; clients that answer DO get the side channel.
	c.enqueueRaw([]byte{telnetIAC, telnetWill, telnetGMCP})

	sid, err := t.gw.register(ctx, c, true, false)
	if err != nil {
		t.log.Warn("session rejected at register", zap.Error(err))
		c.enqueueText("The realm is unreachable. Try again soon.\r\n")
		c.kill()
		return
	}
	c.sid = sid
	c.log = c.log.With(zap.Uint64("session", uint64(sid)))
	c.log.Info("telnet connected", zap.String("remote", conn.RemoteAddr().String()))

	t.readLoop(ctx, c)
}

// readLoop parses telnet framing off the wire: plain lines become
// LineReceived, GMCP subnegotiations become GmcpReceived. It owns the
// disconnect notification for its session.
func (t *TelnetServer) readLoop(ctx context.Context, c *telnetConn) {
	reason := "client closed connection"
	defer func() {
		t.gw.dropSession(c.sid, reason)
		c.kill()
	}()

	var limiter *rate.Limiter
	if lps := t.gw.cfg.Server.LinesPerSecond; lps > 0 {
		limiter = rate.NewLimiter(rate.Limit(lps), lps)
	}

	r := bufio.NewReader(c.conn)
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if c.closed.Load() {
				reason = "gateway closed connection"
			}
			return
		}
		switch b {
		case telnetIAC:
			if done := t.readIAC(r, c); done {
				return
			}
		case '\r':
			// Wait for the \n (or NUL) that telnet pairs with it.
		case '\n':
			text := strings.TrimRight(string(line), " \t")
			line = line[:0]
			if limiter != nil && !limiter.Allow() {
				c.enqueueText("You are sending lines too fast; slow down.\r\n")
				continue
			}
			if err := t.gw.forward(ctx, event.LineReceived{SessionID: c.sid, Line: text}); err != nil {
				c.enqueueText("The realm does not answer. Reconnecting may help.\r\n")
				reason = "engine link down"
				return
			}
		case 0:
			// Telnet CR NUL padding.
		default:
			if len(line) < 4096 {
				line = append(line, b)
			}
		}
	}
}

// readIAC consumes one telnet command sequence. Returns true when the
// connection should be torn down.
func (t *TelnetServer) readIAC(r *bufio.Reader, c *telnetConn) bool {
	cmd, err := r.ReadByte()
	if err != nil {
		return true
	}
	switch cmd {
	case telnetWill, telnetWont, telnetDo, telnetDont:
		opt, err := r.ReadByte()
		if err != nil {
			return true
		}
		if opt == telnetGMCP {
			c.gmcpOn.Store(cmd == telnetDo)
		}
	case telnetSB:
		payload, ok := readSubneg(r)
		if !ok {
			return true
		}
		if len(payload) > 0 && payload[0] == telnetGMCP {
			t.dispatchGmcp(c, payload[1:])
		}
	case telnetIAC:
		// Escaped 0xFF data byte; ignore in line input.
	}
	return false
}

// readSubneg reads the body of IAC SB ... IAC SE.
func readSubneg(r *bufio.Reader) ([]byte, bool) {
	var out []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, false
		}
		if b == telnetIAC {
			next, err := r.ReadByte()
			if err != nil {
				return nil, false
			}
			if next == telnetSE {
				return out, true
			}
			if next == telnetIAC {
				out = append(out, telnetIAC)
				continue
			}
			continue
		}
		if len(out) > 16384 {
			return nil, false
		}
		out = append(out, b)
	}
}

// dispatchGmcp splits "Package.Name {json}" and forwards it.
func (t *TelnetServer) dispatchGmcp(c *telnetConn, body []byte) {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return
	}
	pkg, payload, _ := strings.Cut(text, " ")
	ev := event.GmcpReceived{SessionID: c.sid, Package: pkg}
	if payload != "" {
		ev.Payload = []byte(payload)
	}
	if err := t.gw.forward(context.Background(), ev); err != nil {
		c.log.Warn("gmcp forward failed", zap.Error(err))
	}
}

// telnetConn renders outbound events into telnet bytes through a bounded
// queue; a full queue surfaces as a failed deliver and the gateway
// disconnects the session.
type telnetConn struct {
	sid  id.SessionID
	conn net.Conn
	log  *zap.Logger

	out       chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	ansi    atomic.Bool
	gmcpOn  atomic.Bool
	// prompted collapses back-to-back prompts into one.
	prompted atomic.Bool
}

func newTelnetConn(conn net.Conn, queueCap int, log *zap.Logger) *telnetConn {
	c := &telnetConn{
		conn:    conn,
		log:     log,
		out:     make(chan []byte, queueCap),
		closeCh: make(chan struct{}),
	}
	c.ansi.Store(true)
	return c
}

func (c *telnetConn) deliver(ev event.Outbound) bool {
	switch e := ev.(type) {
	case event.SendText:
		return c.enqueueText(c.render(e.Text) + "\r\n")
	case event.SendInfo:
		return c.enqueueText(c.colorize("\x1b[36m", e.Text) + "\r\n")
	case event.SendError:
		return c.enqueueText(c.colorize("\x1b[31m", e.Text) + "\r\n")
	case event.SendPrompt:
		if c.prompted.Swap(true) {
			return true
		}
		return c.enqueueText(c.colorize("\x1b[1;32m", "> "))
	case event.ShowLoginScreen:
		return c.enqueueText(loginBanner)
	case event.SetAnsi:
		c.ansi.Store(e.Enabled)
		return true
	case event.ClearScreen:
		if c.ansi.Load() {
			return c.enqueueText("\x1b[2J\x1b[H")
		}
		return true
	case event.GmcpData:
		if !c.gmcpOn.Load() {
			return true
		}
		return c.enqueueGmcp(e.Package, e.JSON)
	case event.Close:
		c.enqueueText("\r\n" + e.Reason + "\r\n")
		c.kill()
		return true
	default:
		return true
	}
}

// render strips ANSI escapes when the client has color off. Colored output
// originates in the engine only for the palette test; everything else is
// decorated here.
func (c *telnetConn) render(text string) string {
	c.prompted.Store(false)
	if c.ansi.Load() {
		return text
	}
	return stripAnsi(text)
}

func (c *telnetConn) colorize(code, text string) string {
	c.prompted.Store(false)
	if !c.ansi.Load() {
		return stripAnsi(text)
	}
	return code + text + "\x1b[0m"
}

func stripAnsi(text string) string {
	if !strings.ContainsRune(text, '\x1b') {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	inEscape := false
	for _, r := range text {
		switch {
		case inEscape:
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
		case r == '\x1b':
			inEscape = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (c *telnetConn) enqueueText(text string) bool {
	return c.enqueueRaw([]byte(text))
}

func (c *telnetConn) enqueueGmcp(pkg string, payload []byte) bool {
	buf := make([]byte, 0, len(pkg)+len(payload)+8)
	buf = append(buf, telnetIAC, telnetSB, telnetGMCP)
	buf = append(buf, pkg...)
	if len(payload) > 0 {
		buf = append(buf, ' ')
		buf = append(buf, payload...)
	}
	buf = append(buf, telnetIAC, telnetSE)
	return c.enqueueRaw(buf)
}

func (c *telnetConn) enqueueRaw(data []byte) bool {
	if c.closed.Load() {
		return true
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

func (c *telnetConn) writeLoop() {
	defer c.kill()
	for {
		select {
		case data := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if _, err := c.conn.Write(data); err != nil {
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

func (c *telnetConn) kill() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
		c.conn.Close()
	})
}

const loginBanner = "\r\n" +
	"    _              _                 __  __ _   _ ____\r\n" +
	"   / \\   _ __ ___ | |__   ___  _ __ |  \\/  | | | |  _ \\\r\n" +
	"  / _ \\ | '_ ` _ \\| '_ \\ / _ \\| '_ \\| |\\/| | | | | | | |\r\n" +
	" / ___ \\| | | | | | |_) | (_) | | | | |  | | |_| | |_| |\r\n" +
	"/_/   \\_\\_| |_| |_|_.__/ \\___/|_| |_|_|  |_|\\___/|____/\r\n" +
	"\r\n"
