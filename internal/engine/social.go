package engine

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/gmcp"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/shard"
)

// pushComm mirrors a chat line onto the Comm.Channel GMCP package for
// subscribed sessions.
func (e *Engine) pushComm(sid id.SessionID, channel, from, text string) {
	if !e.gmcp.Subscribed(sid, gmcp.CommChannel) {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"channel": channel,
		"talker":  from,
		"text":    text,
	})
	if err != nil {
		return
	}
	if ev := e.gmcp.Immediate(sid, gmcp.CommChannel, payload); ev != nil {
		e.emit(*ev)
	}
}

func (e *Engine) cmdSay(s *Session, text string) {
	e.sendText(s.ID, `You say, "`+text+`"`)
	e.pushComm(s.ID, "say", s.Player.Name, text)
	for _, other := range e.sessions.InRoom(s.Player.RoomID) {
		if other.ID == s.ID || other.Phase != phasePlaying {
			continue
		}
		e.sendText(other.ID, s.Player.Name+` says, "`+text+`"`)
		e.pushComm(other.ID, "say", s.Player.Name, text)
		e.prompt(other.ID)
	}
}

// tellQuery is one in-flight cross-engine tell awaiting its receipt.
type tellQuery struct {
	sid  id.SessionID
	text string
}

// tellCollectWindowMillis is how long a cross-engine tell waits for its
// delivery receipt before reporting the target as absent.
const tellCollectWindowMillis = 500

// cmdTell delivers a private message, across engines when the target lives
// elsewhere. Remote delivery is confirmed by a TellDelivered receipt; the
// location index is a routing hint only, and a miss or stale entry falls
// back to a cluster broadcast.
func (e *Engine) cmdTell(s *Session, target, text string) {
	if strings.EqualFold(target, s.Player.Name) {
		e.sendError(s.ID, "Talking to yourself again?")
		return
	}
	if other, ok := e.sessions.ByName(target); ok && other.Phase == phasePlaying {
		e.sendText(s.ID, "You tell "+other.Player.Name+`, "`+text+`"`)
		e.sendText(other.ID, s.Player.Name+` tells you, "`+text+`"`)
		e.pushComm(other.ID, "tell", s.Player.Name, text)
		e.prompt(other.ID)
		return
	}
	if e.shard == nil || e.shard.Peer == nil {
		e.sendError(s.ID, "No one by that name is listening.")
		return
	}

	msg := shard.TellMessage{
		FromName:  s.Player.Name,
		ToName:    target,
		Text:      text,
		RequestID: uuid.NewString(),
		ReplyTo:   e.engineID(),
	}
	routed := false
	if e.shard.Locations != nil {
		if loc, ok := e.shard.Locations.Lookup(target); ok && loc.EngineID != e.engineID() {
			if err := e.shard.Peer.SendToEngine(loc.EngineID, msg); err != nil {
				e.log.Warn("cross-engine tell failed", zap.String("target", target), zap.Error(err))
			} else {
				routed = true
			}
		}
	}
	if !routed {
		// No index entry, or it points back here for a player we do not
		// have: ask every engine and wait for a claim.
		if err := e.shard.Peer.Broadcast(msg); err != nil {
			e.log.Warn("tell broadcast failed", zap.String("target", target), zap.Error(err))
			e.sendError(s.ID, "No one by that name is listening.")
			return
		}
	}

	e.pendingTells[msg.RequestID] = &tellQuery{sid: s.ID, text: text}
	e.sched.At(e.clk.NowMillis()+tellCollectWindowMillis, func() {
		if _, ok := e.pendingTells[msg.RequestID]; !ok {
			return
		}
		delete(e.pendingTells, msg.RequestID)
		if cur, ok := e.sessions.Get(s.ID); ok && cur.Phase == phasePlaying {
			e.sendError(s.ID, "No one by that name is listening.")
			e.prompt(s.ID)
		}
	})
}

// cmdGossip goes to every player everywhere.
func (e *Engine) cmdGossip(s *Session, text string) {
	e.deliverChannel("gossip", s.Player.Name, text, s.ID)
	if e.shard != nil && e.shard.Peer != nil {
		if err := e.shard.Peer.Broadcast(shard.GlobalBroadcast{
			Channel:  "gossip",
			FromName: s.Player.Name,
			Text:     text,
		}); err != nil {
			e.log.Warn("gossip broadcast failed", zap.Error(err))
		}
	}
}

// deliverChannel fans a channel line out to local players, including the
// speaker (formatted as their own line).
func (e *Engine) deliverChannel(channel, from, text string, speaker id.SessionID) {
	for _, other := range e.sessions.All() {
		if other.Phase != phasePlaying {
			continue
		}
		if other.ID == speaker {
			e.sendText(other.ID, "You "+channel+`, "`+text+`"`)
		} else {
			e.sendText(other.ID, from+" "+channel+`s, "`+text+`"`)
			e.prompt(other.ID)
		}
		e.pushComm(other.ID, channel, from, text)
	}
}

func (e *Engine) cmdEmote(s *Session, text string) {
	line := s.Player.Name + " " + text
	e.sendText(s.ID, line)
	for _, other := range e.sessions.InRoom(s.Player.RoomID) {
		if other.ID != s.ID && other.Phase == phasePlaying {
			e.sendText(other.ID, line)
			e.prompt(other.ID)
		}
	}
}

func (e *Engine) cmdWhisper(s *Session, target, text string) {
	for _, other := range e.sessions.InRoom(s.Player.RoomID) {
		if other.ID == s.ID || other.Phase != phasePlaying {
			continue
		}
		if strings.EqualFold(other.Player.Name, target) ||
			strings.Contains(strings.ToLower(other.Player.Name), strings.ToLower(target)) {
			e.sendText(s.ID, "You whisper to "+other.Player.Name+`, "`+text+`"`)
			e.sendText(other.ID, s.Player.Name+` whispers to you, "`+text+`"`)
			e.prompt(other.ID)
			return
		}
	}
	e.sendError(s.ID, "No "+target+" here to whisper to.")
}

// cmdShout reaches everyone in the speaker's zone.
func (e *Engine) cmdShout(s *Session, text string) {
	zone := s.Player.RoomID.Zone()
	e.sendText(s.ID, `You shout, "`+text+`"`)
	for _, other := range e.sessions.All() {
		if other.ID == s.ID || other.Phase != phasePlaying {
			continue
		}
		if other.Player.RoomID.Zone() == zone {
			e.sendText(other.ID, s.Player.Name+` shouts, "`+text+`"`)
			e.prompt(other.ID)
		}
	}
}

func (e *Engine) cmdOOC(s *Session, text string) {
	e.deliverChannel("ooc", s.Player.Name, text, s.ID)
	if e.shard != nil && e.shard.Peer != nil {
		if err := e.shard.Peer.Broadcast(shard.GlobalBroadcast{
			Channel:  "ooc",
			FromName: s.Player.Name,
			Text:     text,
		}); err != nil {
			e.log.Warn("ooc broadcast failed", zap.Error(err))
		}
	}
}

// whoQuery aggregates WhoResponse messages until its deadline fires.
type whoQuery struct {
	sid   id.SessionID
	names []string
	// waiting holds engine ids yet to answer; leftovers at the deadline
	// mark the listing as incomplete.
	waiting map[string]bool
}

// whoCollectWindowMillis is how long a who query waits for peer engines.
const whoCollectWindowMillis = 500

func (e *Engine) cmdWho(s *Session) {
	local := e.localWhoNames()
	if e.shard == nil || e.shard.Peer == nil {
		e.printWho(s.ID, local, false)
		return
	}

	reqID := uuid.NewString()
	q := &whoQuery{sid: s.ID, names: local, waiting: make(map[string]bool)}
	if e.shard.Registry != nil {
		for _, a := range e.shard.Registry.AllAssignments() {
			if a.EngineID != e.engineID() {
				q.waiting[a.EngineID] = true
			}
		}
	}
	e.pendingWho[reqID] = q
	if err := e.shard.Peer.Broadcast(shard.WhoRequest{
		RequestID: reqID,
		ReplyTo:   e.engineID(),
	}); err != nil {
		e.log.Warn("who broadcast failed", zap.Error(err))
		delete(e.pendingWho, reqID)
		e.printWho(s.ID, local, len(q.waiting) > 0)
		return
	}
	e.sched.At(e.clk.NowMillis()+whoCollectWindowMillis, func() {
		q, ok := e.pendingWho[reqID]
		if !ok {
			return
		}
		delete(e.pendingWho, reqID)
		if cur, ok := e.sessions.Get(q.sid); ok && cur.Phase == phasePlaying {
			e.printWho(q.sid, q.names, len(q.waiting) > 0)
			e.prompt(q.sid)
		}
	})
}

func (e *Engine) localWhoNames() []string {
	var names []string
	for _, s := range e.sessions.All() {
		if s.Phase == phasePlaying {
			names = append(names, s.Player.Name)
		}
	}
	return names
}

func (e *Engine) printWho(sid id.SessionID, names []string, incomplete bool) {
	sort.Strings(names)
	e.sendText(sid, "Adventurers abroad in the realm:")
	for _, n := range names {
		e.sendText(sid, "  "+n)
	}
	if len(names) == 1 {
		e.sendText(sid, "You walk alone.")
	}
	if incomplete {
		e.sendText(sid, "(Some servers are unreachable; the listing may be incomplete.)")
	}
}
