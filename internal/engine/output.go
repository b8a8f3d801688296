package engine

import (
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/id"
)

// emit hands an outbound event to the bus. The outbound queue is bounded; a
// full queue drops the event here because per-session backpressure (and the
// disconnect it triggers) is enforced at the transport edge.
func (e *Engine) emit(ev event.Outbound) {
	if !e.out.TrySend(ev) {
		e.log.Warn("outbound queue full, event dropped",
			zap.Uint64("session", uint64(ev.Session())))
	}
}

func (e *Engine) sendText(sid id.SessionID, text string) {
	e.emit(event.SendText{SessionID: sid, Text: text})
}

func (e *Engine) sendInfo(sid id.SessionID, text string) {
	e.emit(event.SendInfo{SessionID: sid, Text: text})
}

func (e *Engine) sendError(sid id.SessionID, text string) {
	e.emit(event.SendError{SessionID: sid, Text: text})
}

func (e *Engine) prompt(sid id.SessionID) {
	e.emit(event.SendPrompt{SessionID: sid})
}

func (e *Engine) closeSession(sid id.SessionID, reason string) {
	e.emit(event.Close{SessionID: sid, Reason: reason})
}

// broadcastRoom sends text to every playing session in a room except the
// listed ones.
func (e *Engine) broadcastRoom(rid id.RoomID, text string, except ...id.SessionID) {
	skip := make(map[id.SessionID]bool, len(except))
	for _, sid := range except {
		skip[sid] = true
	}
	for _, s := range e.sessions.InRoom(rid) {
		if s.Phase != phasePlaying || skip[s.ID] {
			continue
		}
		e.sendText(s.ID, text)
		e.prompt(s.ID)
	}
}

// broadcastAll sends text to every playing session on this engine.
func (e *Engine) broadcastAll(text string, except ...id.SessionID) {
	skip := make(map[id.SessionID]bool, len(except))
	for _, sid := range except {
		skip[sid] = true
	}
	for _, s := range e.sessions.All() {
		if s.Phase != phasePlaying || skip[s.ID] {
			continue
		}
		e.sendText(s.ID, text)
		e.prompt(s.ID)
	}
}
