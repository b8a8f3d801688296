package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/shard"
	"github.com/ambonmud/server/internal/world"
)

// cmdGoto teleports the staff member to any room, including one on another
// engine (via a normal handoff).
func (e *Engine) cmdGoto(s *Session, room string) {
	rid, err := id.ParseRoomID(room)
	if err != nil {
		e.sendError(s.ID, "Room ids look like zone:room.")
		return
	}
	if e.world.Room(rid) != nil {
		e.broadcastRoom(s.Player.RoomID, s.Player.Name+" vanishes in a puff of smoke.", s.ID)
		e.movePlayerTo(s, rid)
		e.broadcastRoom(rid, s.Player.Name+" appears in a puff of smoke.", s.ID)
		return
	}
	if e.world.CrossZone(s.Player.RoomID, rid) {
		e.beginHandoff(s, rid, world.North)
		return
	}
	e.sendError(s.ID, "No such room.")
}

// cmdTransfer yanks a player to a room, or to the staff member when no room
// is given. Players on other engines get a transfer request.
func (e *Engine) cmdTransfer(s *Session, playerName, room string) {
	target := s.Player.RoomID
	if room != "" {
		rid, err := id.ParseRoomID(room)
		if err != nil || e.world.Room(rid) == nil {
			e.sendError(s.ID, "No such room.")
			return
		}
		target = rid
	}

	if victim, ok := e.sessions.ByName(playerName); ok && victim.Phase == phasePlaying {
		e.disengage(victim)
		e.broadcastRoom(victim.Player.RoomID, victim.Player.Name+" is yanked away by unseen forces.", victim.ID)
		e.sendInfo(victim.ID, "A great hand plucks you from where you stood.")
		e.movePlayerTo(victim, target)
		e.prompt(victim.ID)
		e.broadcastRoom(target, victim.Player.Name+" drops out of thin air.", victim.ID, s.ID)
		e.sendText(s.ID, victim.Player.Name+" transferred.")
		return
	}

	if e.shard != nil && e.shard.Locations != nil && e.shard.Peer != nil {
		if loc, ok := e.shard.Locations.Lookup(playerName); ok && loc.EngineID != e.engineID() {
			err := e.shard.Peer.SendToEngine(loc.EngineID, shard.TransferRequest{
				PlayerName:  playerName,
				TargetRoom:  target,
				RequestedBy: s.Player.Name,
			})
			if err != nil {
				e.sendError(s.ID, "The transfer request is lost in the void.")
				return
			}
			e.sendText(s.ID, "Transfer request sent for "+playerName+".")
			return
		}
	}
	e.sendError(s.ID, "No player by that name.")
}

// cmdSpawn raises a dead spawn-table mob at the staff member's feet.
func (e *Engine) cmdSpawn(s *Session, mobRef string) {
	for _, spawn := range e.world.MobSpawns {
		if string(spawn.MobID) != mobRef && !matchesSpawn(spawn, mobRef) {
			continue
		}
		if _, alive := e.mobs.Get(spawn.MobID); alive {
			e.sendError(s.ID, spawn.Name+" already walks the world.")
			return
		}
		spawn.RoomID = s.Player.RoomID
		m := e.mobs.Spawn(spawn, e.nextWanderTime())
		for _, tid := range spawn.Inventory {
			if inst, ok := e.items.Create(m.Room.Zone(), tid); ok {
				e.items.PlaceInMob(inst.ID, m.ID)
			}
		}
		e.broadcastRoom(s.Player.RoomID, m.Name()+" materializes from nothing.")
		e.log.Info("staff spawn",
			zap.String("staff", s.Player.Name),
			zap.String("mob", string(m.ID)))
		return
	}
	e.sendError(s.ID, "No spawn entry matches "+mobRef+".")
}

func matchesSpawn(spawn world.MobSpawn, ref string) bool {
	for _, k := range spawn.Keywords {
		if k == ref {
			return true
		}
	}
	return false
}

// cmdSmite is the discipline hammer: mobs are obliterated without reward,
// players are brought to the brink.
func (e *Engine) cmdSmite(s *Session, target string) {
	if m, ok := e.mobs.MatchInRoom(s.Player.RoomID, target); ok {
		e.broadcastRoom(s.Player.RoomID, "Lightning strikes "+m.Name()+", leaving only ash.")
		e.disengageDeadMob(m)
		for _, iid := range e.items.InMob(m.ID) {
			e.items.Destroy(iid)
		}
		e.mobs.Remove(m.ID)
		return
	}
	if victim, ok := e.sessions.ByName(target); ok && victim.Phase == phasePlaying {
		victim.Player.HP = 1
		e.sendInfo(victim.ID, "Lightning cracks from a clear sky. You survive, barely.")
		e.prompt(victim.ID)
		e.broadcastRoom(victim.Player.RoomID, "Lightning strikes "+victim.Player.Name+"!", victim.ID)
		e.sendText(s.ID, victim.Player.Name+" has been smitten.")
		return
	}
	e.sendError(s.ID, "No such target here.")
}

func (e *Engine) cmdKickPlayer(s *Session, playerName string) {
	if victim, ok := e.sessions.ByName(playerName); ok {
		e.sendInfo(victim.ID, "You have been removed from the realm by "+s.Player.Name+".")
		e.closeSession(victim.ID, "kicked by staff")
		e.removeSession(victim, true)
		e.sendText(s.ID, playerName+" has been kicked.")
		return
	}
	if e.shard != nil && e.shard.Locations != nil && e.shard.Peer != nil {
		if loc, ok := e.shard.Locations.Lookup(playerName); ok && loc.EngineID != e.engineID() {
			err := e.shard.Peer.SendToEngine(loc.EngineID, shard.KickRequest{
				PlayerName:  playerName,
				RequestedBy: s.Player.Name,
				Reason:      "kicked by staff",
			})
			if err == nil {
				e.sendText(s.ID, "Kick request sent for "+playerName+".")
				return
			}
		}
	}
	e.sendError(s.ID, "No player by that name.")
}

// cmdShutdown saves everyone and empties the engine. Process exit is the
// operator's move; the world just stops being inhabitable.
func (e *Engine) cmdShutdown(s *Session) {
	e.log.Warn("shutdown requested", zap.String("staff", s.Player.Name))
	e.broadcastAll("The world trembles: " + s.Player.Name + " has called the end.")
	for _, other := range e.sessions.All() {
		if other.Phase != phasePlaying {
			continue
		}
		e.persistSession(other)
		e.closeSession(other.ID, "server shutdown")
	}
	if err := e.repo.Flush(context.Background()); err != nil {
		e.log.Error("shutdown flush failed", zap.Error(err))
	}
	for _, other := range e.sessions.All() {
		e.removeSession(other, false)
	}
}
