package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/gmcp"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/player"
	"github.com/ambonmud/server/internal/world"
)

// startCombat engages a player with a mob. Mobs fight one player at a time;
// a second attacker is told to wait their turn.
func (e *Engine) startCombat(s *Session, m *Mob) {
	if s.Fighting != "" {
		e.sendError(s.ID, "You are already fighting!")
		return
	}
	if m.InFightWith != 0 && m.InFightWith != s.ID {
		e.sendError(s.ID, m.Name()+" is already locked in battle.")
		return
	}
	s.Fighting = m.ID
	s.nextRoundAt = e.clk.NowMillis() + e.cfg.Engine.Combat.RoundInterval.Milliseconds()
	m.InFightWith = s.ID
	e.sendText(s.ID, "You attack "+m.Name()+"!")
	e.broadcastRoom(s.Player.RoomID, s.Player.Name+" attacks "+m.Name()+"!", s.ID)
	e.gmcp.MarkDirty(s.ID, gmcp.CharStatus)
}

// disengage breaks the player side of an engagement.
func (e *Engine) disengage(s *Session) {
	if s.Fighting == "" {
		return
	}
	if m, ok := e.mobs.Get(s.Fighting); ok && m.InFightWith == s.ID {
		m.InFightWith = 0
	}
	s.Fighting = ""
}

// disengageMobs clears every mob engagement pointing at a departing session.
func (e *Engine) disengageMobs(sid id.SessionID) {
	for _, m := range e.mobs.All() {
		if m.InFightWith == sid {
			m.InFightWith = 0
		}
	}
	if s, ok := e.sessions.Get(sid); ok {
		s.Fighting = ""
	}
}

// tickCombat resolves due combat rounds, capped per tick so a pile-up cannot
// blow the tick budget.
func (e *Engine) tickCombat() {
	now := e.clk.NowMillis()
	cb := e.cfg.Engine.Combat
	resolved := 0
	for _, s := range e.sessions.All() {
		if resolved >= cb.MaxCombatsPerTick {
			return
		}
		if s.Phase != phasePlaying || s.Fighting == "" || s.nextRoundAt > now {
			continue
		}
		m, ok := e.mobs.Get(s.Fighting)
		if !ok || m.Room != s.Player.RoomID {
			// Target despawned or wandered off mid-fight.
			s.Fighting = ""
			e.sendInfo(s.ID, "Your foe is gone.")
			e.prompt(s.ID)
			continue
		}
		s.nextRoundAt = now + cb.RoundInterval.Milliseconds()
		e.resolveRound(s, m, cb)
		resolved++
	}
}

// resolveRound runs one exchange: the player swings, then the mob answers if
// it survived. Stunned players skip their swing but still get hit.
func (e *Engine) resolveRound(s *Session, m *Mob, cb config.CombatConfig) {
	if s.stunned() {
		e.sendText(s.ID, "You are stunned and cannot strike!")
	} else {
		dmg := e.playerDamage(s, cb)
		dmg -= m.Spawn.Armor
		if dmg < 1 {
			dmg = 1
		}
		m.HP -= dmg
		e.sendText(s.ID, fmt.Sprintf("You hit %s for %d damage. (%d/%d)", m.Name(), dmg, maxInt(m.HP, 0), m.MaxHP))
		if m.HP <= 0 {
			e.handleMobDeath(m, s)
			e.prompt(s.ID)
			return
		}
	}

	if e.dodged(s) {
		e.sendText(s.ID, "You dodge "+m.Name()+"'s attack!")
		e.prompt(s.ID)
		return
	}
	dmg := e.rollRange(m.Spawn.MinDamage, m.Spawn.MaxDamage)
	dmg -= e.armorOf(s)
	if dmg < 1 {
		dmg = 1
	}
	dmg = e.absorbWithShield(s, dmg)
	s.Player.HP -= dmg
	e.sendText(s.ID, fmt.Sprintf("%s hits you for %d damage. (%d/%d)", m.Name(), dmg, maxInt(s.Player.HP, 0), s.Player.MaxHP))
	e.gmcp.MarkDirty(s.ID, gmcp.CharVitals)
	if s.Player.HP <= 0 {
		e.handlePlayerDeath(s, m.Name())
		return
	}
	e.prompt(s.ID)
}

// playerDamage is the weapon roll: configured range plus strength and weapon
// bonuses.
func (e *Engine) playerDamage(s *Session, cb config.CombatConfig) int {
	dmg := e.rollRange(cb.MinDamage, cb.MaxDamage)
	dmg += (s.Player.Attr.Strength - 10) / 2
	dmg += e.weaponBonus(s)
	if dmg < 1 {
		dmg = 1
	}
	return dmg
}

func (e *Engine) weaponBonus(s *Session) int {
	total := 0
	for _, iid := range s.Player.Equipped {
		if tmpl, ok := e.items.Template(iid); ok {
			total += tmpl.DamageBonus
		}
	}
	return total
}

func (e *Engine) armorOf(s *Session) int {
	total := 0
	for _, iid := range s.Player.Equipped {
		if tmpl, ok := e.items.Template(iid); ok {
			total += tmpl.ArmorBonus
		}
	}
	return total
}

// dodged rolls the dexterity dodge: 1.5% per point over 10, capped at 30%.
func (e *Engine) dodged(s *Session) bool {
	chance := (s.Player.Attr.Dexterity - 10) * 15 // permille
	if chance <= 0 {
		return false
	}
	if chance > 300 {
		chance = 300
	}
	return e.rng.Intn(1000) < chance
}

func (e *Engine) rollRange(min, max int) int {
	if max <= min {
		return min
	}
	return min + e.rng.Intn(max-min+1)
}

// handleMobDeath pays out the kill and schedules the respawn.
func (e *Engine) handleMobDeath(m *Mob, killer *Session) {
	room := m.Room
	e.sendText(killer.ID, "You have slain "+m.Name()+"!")
	e.broadcastRoom(room, m.Name()+" falls dead at "+killer.Player.Name+"'s feet.", killer.ID)

	// Carried items and loot rolls hit the floor.
	for _, iid := range e.items.InMob(m.ID) {
		e.items.PlaceInRoom(iid, room)
		if tmpl, ok := e.items.Template(iid); ok {
			e.broadcastRoom(room, tmpl.Name+" drops to the ground.")
		}
	}
	for _, drop := range m.Spawn.Drops {
		if e.rng.Float64() >= drop.Chance {
			continue
		}
		if inst, ok := e.items.Create(room.Zone(), drop.TemplateID); ok {
			e.items.PlaceInRoom(inst.ID, room)
			if tmpl, ok := e.items.Template(inst.ID); ok {
				e.broadcastRoom(room, tmpl.Name+" drops to the ground.")
			}
		}
	}

	if gold := e.rollRange(m.Spawn.GoldMin, m.Spawn.GoldMax); gold > 0 {
		killer.Player.Gold += gold
		e.sendText(killer.ID, fmt.Sprintf("You loot %d gold.", gold))
	}
	e.awardKillXP(killer, m.Spawn.XPReward)

	if killer.Fighting == m.ID {
		killer.Fighting = ""
	}
	if other, ok := e.sessions.Get(m.InFightWith); ok && other.ID != killer.ID {
		other.Fighting = ""
		e.prompt(other.ID)
	}
	e.gmcp.MarkDirty(killer.ID, gmcp.CharStatus)
	e.mobs.Remove(m.ID)

	if m.Spawn.RespawnDelay > 0 {
		spawn := m.Spawn
		e.sched.At(e.clk.NowMillis()+spawn.RespawnDelay.Milliseconds(), func() {
			e.respawnMob(spawn)
		})
	}
}

func (e *Engine) respawnMob(spawn world.MobSpawn) {
	if _, alive := e.mobs.Get(spawn.MobID); alive {
		return
	}
	m := e.mobs.Spawn(spawn, e.nextWanderTime())
	for _, tid := range spawn.Inventory {
		if inst, ok := e.items.Create(m.Room.Zone(), tid); ok {
			e.items.PlaceInMob(inst.ID, m.ID)
		}
	}
	e.broadcastRoom(m.Room, m.Name()+" arrives.")
}

// awardKillXP grants XP for a kill, split evenly across group members present
// in the room.
func (e *Engine) awardKillXP(killer *Session, xp int) {
	if xp <= 0 {
		return
	}
	share := []*Session{killer}
	if killer.GroupID != 0 {
		for _, s := range e.sessions.InRoom(killer.Player.RoomID) {
			if s.ID != killer.ID && s.Phase == phasePlaying && s.GroupID == killer.GroupID {
				share = append(share, s)
			}
		}
	}
	each := xp / len(share)
	if each < 1 {
		each = 1
	}
	for _, s := range share {
		e.awardXP(s, int64(each))
	}
}

// awardXP adds XP and applies any level-ups against the configured curve.
func (e *Engine) awardXP(s *Session, xp int64) {
	st := s.Player
	st.XPTotal += xp
	e.sendText(s.ID, fmt.Sprintf("You gain %d experience.", xp))

	newLevel := e.prog.LevelForXP(st.XPTotal)
	for newLevel > st.Level {
		st.Level++
		hpGain, manaGain := e.prog.VitalsPerLevel(st.Class)
		st.MaxHP += hpGain
		st.MaxMana += manaGain
		if e.prog.FullHealOnLevelUp() {
			st.HP = st.MaxHP
			st.Mana = st.MaxMana
		}
		st.KnownAbilities = player.LearnedAbilities(e.cfg.Engine.Abilities, st.Level, st.Class)
		e.sendInfo(s.ID, fmt.Sprintf("You have reached level %d!", st.Level))
		e.broadcastRoom(st.RoomID, st.Name+" glows with newfound power.", s.ID)
		e.log.Info("level up",
			zap.String("player", st.Name),
			zap.Int("level", st.Level))
	}
	e.gmcp.MarkDirty(s.ID, gmcp.CharVitals)
}

// handlePlayerDeath applies the configured death policy.
func (e *Engine) handlePlayerDeath(s *Session, killerName string) {
	st := s.Player
	e.disengage(s)
	e.clearEffects(s)
	e.broadcastRoom(st.RoomID, st.Name+" has been slain by "+killerName+"!", s.ID)
	e.log.Info("player died",
		zap.String("player", st.Name),
		zap.String("killer", killerName),
		zap.String("policy", string(e.cfg.Engine.Combat.DeathPolicy)))

	if e.cfg.Engine.Combat.DeathPolicy == config.DeathPermadeath {
		e.sendInfo(s.ID, "You have died. Death keeps what it takes.")
		st.Level = 1
		st.XPTotal = 0
		st.Gold = 0
		st.HP = st.MaxHP
		st.Mana = st.MaxMana
		st.RoomID = e.world.StartRoom
		e.persistSession(s)
		e.closeSession(s.ID, "permadeath")
		e.removeSession(s, false)
		return
	}

	penalty := int(float64(st.Gold) * e.cfg.Engine.Combat.DeathGoldPenalty)
	st.Gold -= penalty
	st.HP = st.MaxHP
	st.Mana = st.MaxMana
	e.sendInfo(s.ID, "Darkness takes you... and spits you back out.")
	if penalty > 0 {
		e.sendText(s.ID, fmt.Sprintf("You lost %d gold in the crossing.", penalty))
	}
	e.movePlayerTo(s, e.world.StartRoom)
	e.gmcp.MarkDirty(s.ID, gmcp.CharVitals)
	e.prompt(s.ID)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
