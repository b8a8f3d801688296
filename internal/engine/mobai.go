package engine

import (
	"github.com/ambonmud/server/internal/gmcp"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/world"
)

// tickMobAI runs aggro checks, coward flight, and wander/patrol movement.
// Movement is capped per tick so a large world cannot starve the loop.
func (e *Engine) tickMobAI() {
	now := e.clk.NowMillis()
	moved := 0
	maxMoves := e.cfg.Engine.Mob.MaxMovesPerTick

	for _, m := range e.mobs.All() {
		if m.InFightWith != 0 {
			if m.Spawn.Behavior == world.Coward && e.cowardShouldFlee(m) {
				e.mobFlee(m)
			}
			continue
		}

		if m.Spawn.Behavior.Aggro() && e.mobAggro(m) {
			continue
		}

		if m.nextWanderAt > now || moved >= maxMoves {
			continue
		}
		switch {
		case m.Spawn.Behavior.Patrols():
			if e.mobPatrolStep(m) {
				moved++
			}
		case m.Spawn.Behavior.Wanders():
			if e.mobWanderStep(m) {
				moved++
			}
		}
		m.nextWanderAt = e.nextWanderTime()
	}
}

func (e *Engine) cowardShouldFlee(m *Mob) bool {
	return float64(m.HP) < float64(m.MaxHP)*e.cfg.Engine.Mob.CowardFleeBelow
}

// mobAggro engages the first unengaged player in the room. Staff are ignored.
func (e *Engine) mobAggro(m *Mob) bool {
	for _, s := range e.sessions.InRoom(m.Room) {
		if s.Phase != phasePlaying || s.Fighting != "" || s.Player.IsStaff {
			continue
		}
		m.InFightWith = s.ID
		s.Fighting = m.ID
		s.nextRoundAt = e.clk.NowMillis() + e.cfg.Engine.Combat.RoundInterval.Milliseconds()
		e.sendText(s.ID, m.Name()+" snarls and attacks you!")
		e.broadcastRoom(m.Room, m.Name()+" attacks "+s.Player.Name+"!", s.ID)
		e.gmcp.MarkDirty(s.ID, gmcp.CharStatus)
		return true
	}
	return false
}

// mobFlee breaks off combat through a random exit.
func (e *Engine) mobFlee(m *Mob) {
	room := e.world.Room(m.Room)
	if room == nil {
		return
	}
	exits := e.sameZoneExits(room)
	if len(exits) == 0 {
		return
	}
	pick := exits[e.rng.Intn(len(exits))]
	if s, ok := e.sessions.Get(m.InFightWith); ok {
		s.Fighting = ""
		e.sendText(s.ID, m.Name()+" flees "+pick.dir.String()+"!")
		e.prompt(s.ID)
	}
	m.InFightWith = 0
	e.moveMob(m, pick.dir, pick.to)
}

type exitChoice struct {
	dir world.Direction
	to  id.RoomID
}

// sameZoneExits filters a room's exits to targets this engine owns. Mobs
// never cross zone boundaries.
func (e *Engine) sameZoneExits(room *world.Room) []exitChoice {
	out := make([]exitChoice, 0, len(room.Exits))
	for dir, to := range room.Exits {
		if e.world.CrossZone(room.ID, to) || e.world.Room(to) == nil {
			continue
		}
		out = append(out, exitChoice{dir: dir, to: to})
	}
	return out
}

func (e *Engine) mobWanderStep(m *Mob) bool {
	room := e.world.Room(m.Room)
	if room == nil {
		return false
	}
	exits := e.sameZoneExits(room)
	if len(exits) == 0 {
		return false
	}
	pick := exits[e.rng.Intn(len(exits))]
	e.moveMob(m, pick.dir, pick.to)
	return true
}

// mobPatrolStep advances along the patrol route, wrapping at the end.
func (e *Engine) mobPatrolStep(m *Mob) bool {
	route := m.Spawn.PatrolRoute
	if len(route) == 0 {
		return false
	}
	m.patrolIdx = (m.patrolIdx + 1) % len(route)
	next := route[m.patrolIdx]
	if next == m.Room || e.world.Room(next) == nil {
		return false
	}
	dir := e.directionBetween(m.Room, next)
	e.moveMob(m, dir, next)
	return true
}

// directionBetween finds the exit direction linking two rooms, if adjacent.
func (e *Engine) directionBetween(from, to id.RoomID) world.Direction {
	if room := e.world.Room(from); room != nil {
		for dir, target := range room.Exits {
			if target == to {
				return dir
			}
		}
	}
	return world.North
}

func (e *Engine) moveMob(m *Mob, dir world.Direction, to id.RoomID) {
	e.broadcastRoom(m.Room, m.Name()+" leaves "+dir.String()+".")
	e.mobs.MoveTo(m, to)
	e.broadcastRoom(m.Room, m.Name()+" enters from the "+dir.Opposite().String()+".")
}
