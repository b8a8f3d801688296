package engine

import (
	"strings"

	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/player"
)

type sessionPhase int

const (
	phaseLogin sessionPhase = iota
	phasePlaying
	phaseClosing
)

// dialogueState tracks an open NPC conversation for the talk/choice commands.
type dialogueState struct {
	Script  string
	MobID   id.MobID
	Options int
}

// Session is everything the engine holds for one connected client.
type Session struct {
	ID    id.SessionID
	Ansi  bool
	Web   bool
	Phase sessionPhase

	Login  *loginState
	Player *player.State
	Record *player.Record

	// Cooldowns maps ability id to ready-at millis. Session-local, not
	// persisted: a reconnect clears them.
	Cooldowns map[string]int64

	// Fighting is the mob this player is engaged with, "" when at peace.
	// Rounds fire when nextRoundAt passes.
	Fighting    id.MobID
	nextRoundAt int64

	Effects []*activeEffect

	Dialogue *dialogueState

	nextHPRegenAt   int64
	nextManaRegenAt int64

	// Group state. GroupID 0 means ungrouped; invites expire on disconnect.
	GroupID       uint64
	PendingInvite uint64
}

// Registry is the session table plus its lookup indexes. Engine-owned, no
// locking.
type Registry struct {
	sessions map[id.SessionID]*Session
	byName   map[string]id.SessionID // lowercase, logged-in players only
	byRoom   map[id.RoomID]map[id.SessionID]bool
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[id.SessionID]*Session),
		byName:   make(map[string]id.SessionID),
		byRoom:   make(map[id.RoomID]map[id.SessionID]bool),
	}
}

func (r *Registry) Add(s *Session) { r.sessions[s.ID] = s }

func (r *Registry) Get(sid id.SessionID) (*Session, bool) {
	s, ok := r.sessions[sid]
	return s, ok
}

// Remove drops the session and all its index entries.
func (r *Registry) Remove(sid id.SessionID) {
	s, ok := r.sessions[sid]
	if !ok {
		return
	}
	if s.Player != nil {
		delete(r.byName, strings.ToLower(s.Player.Name))
		delete(r.byRoom[s.Player.RoomID], sid)
	}
	delete(r.sessions, sid)
}

// EnterWorld indexes a freshly logged-in player.
func (r *Registry) EnterWorld(s *Session, st *player.State) {
	s.Player = st
	s.Phase = phasePlaying
	r.byName[strings.ToLower(st.Name)] = s.ID
	r.indexRoom(s.ID, st.RoomID)
}

// MoveTo reindexes a player into a new room.
func (r *Registry) MoveTo(s *Session, rid id.RoomID) {
	delete(r.byRoom[s.Player.RoomID], s.ID)
	s.Player.RoomID = rid
	r.indexRoom(s.ID, rid)
}

func (r *Registry) indexRoom(sid id.SessionID, rid id.RoomID) {
	if r.byRoom[rid] == nil {
		r.byRoom[rid] = make(map[id.SessionID]bool)
	}
	r.byRoom[rid][sid] = true
}

// ByName finds a logged-in player's session (case-insensitive).
func (r *Registry) ByName(name string) (*Session, bool) {
	sid, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return r.Get(sid)
}

// InRoom lists the sessions of players present in a room.
func (r *Registry) InRoom(rid id.RoomID) []*Session {
	out := make([]*Session, 0, len(r.byRoom[rid]))
	for sid := range r.byRoom[rid] {
		if s, ok := r.sessions[sid]; ok {
			out = append(out, s)
		}
	}
	return out
}

// All iterates every session.
func (r *Registry) All() map[id.SessionID]*Session { return r.sessions }

// Playing counts sessions past the login funnel.
func (r *Registry) Playing() int {
	n := 0
	for _, s := range r.sessions {
		if s.Phase == phasePlaying {
			n++
		}
	}
	return n
}
