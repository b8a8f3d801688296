package engine

import (
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/id"
)

// scheduleZoneResets arms the recurring reset timer for every owned zone with
// a configured lifespan. Zones with lifespan 0 never reset.
func (e *Engine) scheduleZoneResets() {
	for zone, lifespan := range e.world.ZoneLifespans {
		if lifespan <= 0 {
			continue
		}
		e.scheduleZoneReset(zone, lifespan.Milliseconds())
	}
}

func (e *Engine) scheduleZoneReset(zone id.ZoneID, intervalMillis int64) {
	e.sched.At(e.clk.NowMillis()+intervalMillis, func() {
		e.resetZone(zone)
		e.scheduleZoneReset(zone, intervalMillis)
	})
}

// resetZone restores a zone to its loaded state: despawned mobs return,
// surviving mobs heal, floor spawn items reappear. Mobs mid-fight are left
// alone so a reset cannot steal a kill; they heal on the next reset instead.
// Players keep whatever they picked up.
func (e *Engine) resetZone(zone id.ZoneID) {
	mobsRestored := 0
	for _, spawn := range e.world.MobSpawns {
		if spawn.RoomID.Zone() != zone {
			continue
		}
		m, alive := e.mobs.Get(spawn.MobID)
		if !alive {
			e.respawnMob(spawn)
			mobsRestored++
			continue
		}
		if m.InFightWith != 0 {
			continue
		}
		if m.HP < m.MaxHP {
			m.HP = m.MaxHP
		}
		m.Effects = nil
		if m.Room != spawn.RoomID {
			from := m.Room
			e.broadcastRoom(m.Room, m.Name()+" wanders home.")
			e.mobs.MoveTo(m, spawn.RoomID)
			e.broadcastRoom(m.Room, m.Name()+" enters from the "+e.directionBetween(m.Room, from).String()+".")
		}
	}

	itemsRestored := 0
	for _, is := range e.world.ItemSpawns {
		if is.RoomID.Zone() != zone {
			continue
		}
		if _, exists := e.items.Get(is.ItemID); exists {
			continue
		}
		if e.items.Adopt(is.ItemID, is.TemplateID) {
			e.items.PlaceInRoom(is.ItemID, is.RoomID)
			itemsRestored++
		}
	}

	notified := 0
	for _, s := range e.sessions.All() {
		if s.Phase != phasePlaying || s.Player.RoomID.Zone() != zone {
			continue
		}
		e.sendInfo(s.ID, "The air shimmers as the world renews itself around you.")
		e.prompt(s.ID)
		notified++
	}

	e.log.Info("zone reset",
		zap.String("zone", string(zone)),
		zap.Int("mobs_restored", mobsRestored),
		zap.Int("items_restored", itemsRestored),
		zap.Int("players_notified", notified))
}
