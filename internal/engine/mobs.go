package engine

import (
	"strings"

	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/world"
)

// Mob is the live state of one spawned mob.
type Mob struct {
	ID    id.MobID
	Spawn world.MobSpawn
	Room  id.RoomID
	HP    int
	MaxHP int

	// InFightWith is the single player engaging this mob (1v1 rule).
	InFightWith id.SessionID

	// Effects holds spell-applied afflictions (DoT only for mobs).
	Effects []*activeEffect

	nextWanderAt int64
	patrolIdx    int
}

func (m *Mob) Name() string { return m.Spawn.Name }

func (m *Mob) IsVendor() bool { return len(m.Spawn.Stock) > 0 }

// Mobs tracks live mobs and their room index.
type Mobs struct {
	mobs   map[id.MobID]*Mob
	byRoom map[id.RoomID]map[id.MobID]bool
}

func NewMobs() *Mobs {
	return &Mobs{
		mobs:   make(map[id.MobID]*Mob),
		byRoom: make(map[id.RoomID]map[id.MobID]bool),
	}
}

// Spawn instantiates a mob from its spawn table entry.
func (ms *Mobs) Spawn(spawn world.MobSpawn, nextWanderAt int64) *Mob {
	m := &Mob{
		ID:           spawn.MobID,
		Spawn:        spawn,
		Room:         spawn.RoomID,
		HP:           spawn.HP,
		MaxHP:        spawn.HP,
		nextWanderAt: nextWanderAt,
	}
	ms.mobs[m.ID] = m
	ms.index(m.ID, m.Room)
	return m
}

func (ms *Mobs) Get(mid id.MobID) (*Mob, bool) {
	m, ok := ms.mobs[mid]
	return m, ok
}

func (ms *Mobs) Remove(mid id.MobID) {
	if m, ok := ms.mobs[mid]; ok {
		delete(ms.byRoom[m.Room], mid)
		delete(ms.mobs, mid)
	}
}

// MoveTo reindexes a mob into a new room.
func (ms *Mobs) MoveTo(m *Mob, rid id.RoomID) {
	delete(ms.byRoom[m.Room], m.ID)
	m.Room = rid
	ms.index(m.ID, rid)
}

func (ms *Mobs) index(mid id.MobID, rid id.RoomID) {
	if ms.byRoom[rid] == nil {
		ms.byRoom[rid] = make(map[id.MobID]bool)
	}
	ms.byRoom[rid][mid] = true
}

// InRoom lists live mobs in a room.
func (ms *Mobs) InRoom(rid id.RoomID) []*Mob {
	out := make([]*Mob, 0, len(ms.byRoom[rid]))
	for mid := range ms.byRoom[rid] {
		if m, ok := ms.mobs[mid]; ok {
			out = append(out, m)
		}
	}
	return out
}

// All iterates every live mob.
func (ms *Mobs) All() map[id.MobID]*Mob { return ms.mobs }

// MatchInRoom resolves a target keyword against mobs in a room: display-name
// substring first, then keywords. First match wins; ties break on map order,
// which is fine because the commands re-resolve every invocation.
func (ms *Mobs) MatchInRoom(rid id.RoomID, keyword string) (*Mob, bool) {
	kw := strings.ToLower(keyword)
	mobs := ms.InRoom(rid)
	for _, m := range mobs {
		if strings.Contains(strings.ToLower(m.Name()), kw) {
			return m, true
		}
	}
	for _, m := range mobs {
		for _, k := range m.Spawn.Keywords {
			if strings.EqualFold(k, kw) {
				return m, true
			}
		}
	}
	return nil, false
}
