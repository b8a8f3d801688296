package engine

import (
	"fmt"
	"time"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/gmcp"
)

// castAbility runs the full cast pipeline: known check, cooldown, mana,
// target resolution, then the effect. Mana is deducted and the cooldown set
// only after every check passes.
func (e *Engine) castAbility(s *Session, abilityID, targetName string) {
	if s.stunned() {
		e.sendError(s.ID, "You are stunned and cannot cast!")
		return
	}
	ab, ok := e.cfg.Engine.Abilities[abilityID]
	if !ok || !s.Player.KnownAbilities[abilityID] {
		e.sendError(s.ID, "You do not know that ability.")
		return
	}
	now := e.clk.NowMillis()
	if ready := s.Cooldowns[abilityID]; ready > now {
		remaining := time.Duration(ready-now) * time.Millisecond
		e.sendError(s.ID, fmt.Sprintf("%s is not ready for another %.1fs.", ab.DisplayName, remaining.Seconds()))
		return
	}
	if s.Player.Mana < ab.ManaCost {
		e.sendError(s.ID, fmt.Sprintf("Not enough mana: you have %d, %s needs %d.", s.Player.Mana, ab.DisplayName, ab.ManaCost))
		return
	}

	var targetMob *Mob
	var targetPlayer *Session
	switch ab.TargetType {
	case "SELF":
		targetPlayer = s
	case "ALLY":
		targetPlayer = s
		if targetName != "" {
			ally, ok := e.sessions.ByName(targetName)
			if !ok || ally.Phase != phasePlaying || ally.Player.RoomID != s.Player.RoomID {
				e.sendError(s.ID, "No such ally here.")
				return
			}
			targetPlayer = ally
		}
	case "ENEMY":
		targetMob = e.resolveEnemy(s, targetName)
		if targetMob == nil {
			return
		}
	case "AREA":
		// Targets resolved at effect time.
	}

	s.Player.Mana -= ab.ManaCost
	s.Cooldowns[abilityID] = now + ab.Cooldown.Milliseconds()
	e.gmcp.MarkDirty(s.ID, gmcp.CharVitals)

	switch ab.Effect.Type {
	case "DIRECT_DAMAGE":
		e.castDamage(s, ab, targetMob)
	case "DIRECT_HEAL":
		e.castHeal(s, ab, targetPlayer)
	case "APPLY_STATUS":
		e.castStatus(s, ab, abilityID, targetMob, targetPlayer)
	case "AREA_DAMAGE":
		e.castAreaDamage(s, ab)
	case "TAUNT":
		e.castTaunt(s, ab, targetMob)
	}
}

// resolveEnemy picks the named mob in the room, falling back to the current
// combat target.
func (e *Engine) resolveEnemy(s *Session, targetName string) *Mob {
	if targetName == "" {
		if s.Fighting == "" {
			e.sendError(s.ID, "Cast it at what?")
			return nil
		}
		if m, ok := e.mobs.Get(s.Fighting); ok {
			return m
		}
		e.sendError(s.ID, "Your foe is gone.")
		return nil
	}
	m, ok := e.mobs.MatchInRoom(s.Player.RoomID, targetName)
	if !ok {
		e.sendError(s.ID, "You see no "+targetName+" here.")
		return nil
	}
	return m
}

// castDamage is spell damage: the configured roll plus an intelligence bonus,
// ignoring armor.
func (e *Engine) castDamage(s *Session, ab config.AbilityConfig, m *Mob) {
	dmg := e.spellDamage(s, ab)
	m.HP -= dmg
	e.sendText(s.ID, fmt.Sprintf("Your %s strikes %s for %d damage!", ab.DisplayName, m.Name(), dmg))
	e.broadcastRoom(s.Player.RoomID, s.Player.Name+"'s "+ab.DisplayName+" strikes "+m.Name()+"!", s.ID)
	if m.HP <= 0 {
		e.handleMobDeath(m, s)
		return
	}
	e.engageFromSpell(s, m)
}

func (e *Engine) spellDamage(s *Session, ab config.AbilityConfig) int {
	dmg := e.rollRange(ab.Effect.Min, ab.Effect.Max)
	dmg += (s.Player.Attr.Intelligence - 10) / 2
	if dmg < 1 {
		dmg = 1
	}
	return dmg
}

// engageFromSpell pulls the mob into combat with the caster when both sides
// are free.
func (e *Engine) engageFromSpell(s *Session, m *Mob) {
	if s.Fighting == "" && m.InFightWith == 0 {
		s.Fighting = m.ID
		s.nextRoundAt = e.clk.NowMillis() + e.cfg.Engine.Combat.RoundInterval.Milliseconds()
		m.InFightWith = s.ID
		e.gmcp.MarkDirty(s.ID, gmcp.CharStatus)
	}
}

func (e *Engine) castHeal(s *Session, ab config.AbilityConfig, target *Session) {
	heal := e.rollRange(ab.Effect.Min, ab.Effect.Max)
	heal += (s.Player.Attr.Wisdom - 10) / 2
	if heal < 1 {
		heal = 1
	}
	st := target.Player
	st.HP += heal
	if st.HP > st.MaxHP {
		st.HP = st.MaxHP
	}
	if target.ID == s.ID {
		e.sendText(s.ID, fmt.Sprintf("Your %s restores %d health.", ab.DisplayName, heal))
	} else {
		e.sendText(s.ID, fmt.Sprintf("Your %s restores %d of %s's health.", ab.DisplayName, heal, st.Name))
		e.sendText(target.ID, s.Player.Name+"'s "+ab.DisplayName+" washes over you.")
		e.prompt(target.ID)
	}
	e.gmcp.MarkDirty(target.ID, gmcp.CharVitals)
}

func (e *Engine) castStatus(s *Session, ab config.AbilityConfig, abilityID string, m *Mob, target *Session) {
	if m != nil {
		cfg, ok := e.cfg.Engine.StatusEffects[ab.Effect.StatusID]
		if !ok || cfg.Kind != "DOT" {
			e.sendError(s.ID, ab.DisplayName+" has no hold on such creatures.")
			return
		}
		now := e.clk.NowMillis()
		m.Effects = append(m.Effects, &activeEffect{
			ID:            ab.Effect.StatusID,
			Cfg:           cfg,
			Stacks:        1,
			ExpiresAt:     now + cfg.Duration.Milliseconds(),
			NextTickAt:    now + cfg.TickInterval.Milliseconds(),
			SourceAbility: abilityID,
			SourceSession: s.ID,
		})
		e.sendText(s.ID, fmt.Sprintf("Your %s takes hold of %s.", ab.DisplayName, m.Name()))
		e.engageFromSpell(s, m)
		return
	}
	msg := e.applyStatus(target, ab.Effect.StatusID, abilityID)
	if target.ID == s.ID {
		e.sendText(s.ID, msg)
	} else {
		e.sendText(s.ID, target.Player.Name+": "+msg)
		e.sendText(target.ID, s.Player.Name+" casts "+ab.DisplayName+" on you. "+msg)
		e.prompt(target.ID)
	}
}

// castAreaDamage hits every mob in the caster's room.
func (e *Engine) castAreaDamage(s *Session, ab config.AbilityConfig) {
	mobs := e.mobs.InRoom(s.Player.RoomID)
	if len(mobs) == 0 {
		e.sendText(s.ID, "Your "+ab.DisplayName+" finds no targets.")
		return
	}
	e.broadcastRoom(s.Player.RoomID, s.Player.Name+" unleashes "+ab.DisplayName+"!", s.ID)
	for _, m := range mobs {
		dmg := e.spellDamage(s, ab)
		m.HP -= dmg
		e.sendText(s.ID, fmt.Sprintf("%s is struck for %d damage!", m.Name(), dmg))
		if m.HP <= 0 {
			e.handleMobDeath(m, s)
		}
	}
}

// castTaunt forces the mob onto the caster, freeing whoever it was fighting.
func (e *Engine) castTaunt(s *Session, ab config.AbilityConfig, m *Mob) {
	if m.InFightWith == s.ID {
		e.sendText(s.ID, m.Name()+" is already focused on you.")
		return
	}
	if s.Fighting != "" && s.Fighting != m.ID {
		e.sendError(s.ID, "You are already fighting something else!")
		return
	}
	if prev, ok := e.sessions.Get(m.InFightWith); ok {
		prev.Fighting = ""
		e.sendText(prev.ID, m.Name()+" turns away from you!")
		e.prompt(prev.ID)
	}
	m.InFightWith = s.ID
	s.Fighting = m.ID
	if s.nextRoundAt == 0 {
		s.nextRoundAt = e.clk.NowMillis() + e.cfg.Engine.Combat.RoundInterval.Milliseconds()
	}
	e.sendText(s.ID, "Your "+ab.DisplayName+" enrages "+m.Name()+"!")
	e.broadcastRoom(s.Player.RoomID, m.Name()+" roars and turns on "+s.Player.Name+"!", s.ID)
	e.gmcp.MarkDirty(s.ID, gmcp.CharStatus)
}
