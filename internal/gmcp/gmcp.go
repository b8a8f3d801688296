// Package gmcp manages the structured side-channel: per-session package
// subscriptions, dirty flags, and per-tick coalescing. Payload composition
// stays with the caller; this package decides who gets what and when.
package gmcp

import (
	"encoding/json"

	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/id"
)

// Package names offered to clients.
const (
	CharVitals      = "Char.Vitals"
	CharStatus      = "Char.Status"
	CharItems       = "Char.Items"
	CharAfflictions = "Char.Afflictions"
	RoomInfo        = "Room.Info"
	CommChannel     = "Comm.Channel"
)

// CoreSet is what WebSocket sessions are auto-subscribed to on connect.
func CoreSet() []string {
	return []string{CharVitals, CharStatus, RoomInfo, CharItems}
}

// coalesced packages accumulate dirty flags and emit once per tick; the rest
// emit immediately when produced.
var coalesced = map[string]bool{
	CharVitals:      true,
	CharAfflictions: true,
}

// Coalesced reports whether a package is flushed at tick boundaries.
func Coalesced(pkg string) bool { return coalesced[pkg] }

// Emitter tracks subscriptions and pending coalesced updates per session.
// Not safe for concurrent use; the engine owns it.
type Emitter struct {
	subs  map[id.SessionID]map[string]bool
	dirty map[id.SessionID]map[string]bool
}

func NewEmitter() *Emitter {
	return &Emitter{
		subs:  make(map[id.SessionID]map[string]bool),
		dirty: make(map[id.SessionID]map[string]bool),
	}
}

func (e *Emitter) Subscribe(sid id.SessionID, pkgs ...string) {
	set := e.subs[sid]
	if set == nil {
		set = make(map[string]bool)
		e.subs[sid] = set
	}
	for _, p := range pkgs {
		set[p] = true
	}
}

func (e *Emitter) Unsubscribe(sid id.SessionID, pkgs ...string) {
	set := e.subs[sid]
	for _, p := range pkgs {
		delete(set, p)
	}
}

func (e *Emitter) Subscribed(sid id.SessionID, pkg string) bool {
	return e.subs[sid][pkg]
}

// Drop forgets everything about a session.
func (e *Emitter) Drop(sid id.SessionID) {
	delete(e.subs, sid)
	delete(e.dirty, sid)
}

// MarkDirty queues a coalesced package for the next flush. Unsubscribed
// packages are ignored at mark time so flush stays cheap.
func (e *Emitter) MarkDirty(sid id.SessionID, pkg string) {
	if !e.subs[sid][pkg] {
		return
	}
	set := e.dirty[sid]
	if set == nil {
		set = make(map[string]bool)
		e.dirty[sid] = set
	}
	set[pkg] = true
}

// Immediate builds a GmcpData event for a non-coalesced package, or nil when
// the session is not subscribed.
func (e *Emitter) Immediate(sid id.SessionID, pkg string, payload json.RawMessage) *event.GmcpData {
	if !e.subs[sid][pkg] {
		return nil
	}
	return &event.GmcpData{SessionID: sid, Package: pkg, JSON: payload}
}

// Compose produces the current payload for a dirty package. A false second
// return skips the emit (session gone, nothing to say).
type Compose func(sid id.SessionID, pkg string) (json.RawMessage, bool)

// Flush drains all dirty flags into GmcpData events, one per session and
// package, composing payloads through fn.
func (e *Emitter) Flush(fn Compose) []event.GmcpData {
	var out []event.GmcpData
	for sid, set := range e.dirty {
		for pkg := range set {
			if payload, ok := fn(sid, pkg); ok {
				out = append(out, event.GmcpData{SessionID: sid, Package: pkg, JSON: payload})
			}
		}
		delete(e.dirty, sid)
	}
	return out
}
