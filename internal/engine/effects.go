package engine

import (
	"fmt"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/gmcp"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/player"
)

// activeEffect is one status effect instance on a player. Mob-side effects
// ride the same struct on the Mob (DoT from spells).
type activeEffect struct {
	ID            string
	Cfg           config.StatusEffectConfig
	Stacks        int
	ExpiresAt     int64
	NextTickAt    int64
	SourceAbility string
	// SourceSession credits DoT kills on mobs to the caster.
	SourceSession id.SessionID
	// applied remembers the stat delta in force so expiry reverts exactly
	// what was added.
	appliedDelta int
}

func (fx *activeEffect) magnitude() int {
	return fx.Cfg.Magnitude * fx.Stacks
}

// applyStatus attaches a status effect to a session, honoring its stacking
// rule. Returns a user-facing description of what happened.
func (e *Engine) applyStatus(s *Session, statusID, sourceAbility string) string {
	cfg, ok := e.cfg.Engine.StatusEffects[statusID]
	if !ok {
		// Validation makes this unreachable for config-defined abilities.
		return ""
	}
	now := e.clk.NowMillis()

	for _, fx := range s.Effects {
		if fx.ID != statusID {
			continue
		}
		switch cfg.Stacking {
		case "REFRESH":
			fx.ExpiresAt = now + cfg.Duration.Milliseconds()
			return fmt.Sprintf("%s is refreshed.", cfg.DisplayName)
		case "STACK":
			if cfg.StackCap > 0 && fx.Stacks >= cfg.StackCap {
				fx.ExpiresAt = now + cfg.Duration.Milliseconds()
				return fmt.Sprintf("%s cannot stack higher.", cfg.DisplayName)
			}
			fx.Stacks++
			fx.ExpiresAt = now + cfg.Duration.Milliseconds()
			e.adjustStatMod(s, fx)
			return fmt.Sprintf("%s stacks to %d.", cfg.DisplayName, fx.Stacks)
		default: // NONE
			return fmt.Sprintf("%s has no further effect.", cfg.DisplayName)
		}
	}

	fx := &activeEffect{
		ID:            statusID,
		Cfg:           cfg,
		Stacks:        1,
		ExpiresAt:     now + cfg.Duration.Milliseconds(),
		SourceAbility: sourceAbility,
	}
	if cfg.TickInterval.Duration > 0 {
		fx.NextTickAt = now + cfg.TickInterval.Milliseconds()
	}
	s.Effects = append(s.Effects, fx)
	if cfg.Kind == "STAT_MOD" {
		e.adjustStatMod(s, fx)
	}
	e.gmcp.MarkDirty(s.ID, gmcp.CharAfflictions)
	return fmt.Sprintf("%s takes hold.", cfg.DisplayName)
}

// adjustStatMod brings the applied attribute delta in line with the current
// stack count.
func (e *Engine) adjustStatMod(s *Session, fx *activeEffect) {
	if fx.Cfg.Kind != "STAT_MOD" || s.Player == nil {
		return
	}
	want := fx.magnitude()
	delta := want - fx.appliedDelta
	addAttr(&s.Player.Attr, fx.Cfg.Attribute, delta)
	fx.appliedDelta = want
}

func addAttr(a *player.Attributes, name string, delta int) {
	switch name {
	case "strength":
		a.Strength += delta
	case "dexterity":
		a.Dexterity += delta
	case "constitution":
		a.Constitution += delta
	case "intelligence":
		a.Intelligence += delta
	case "wisdom":
		a.Wisdom += delta
	case "charisma":
		a.Charisma += delta
	}
}

// stunned and rooted gate command handling; checked at dispatch boundaries.
func (s *Session) stunned() bool { return s.hasEffectKind("STUN") }
func (s *Session) rooted() bool  { return s.hasEffectKind("ROOT") }

func (s *Session) hasEffectKind(kind string) bool {
	for _, fx := range s.Effects {
		if fx.Cfg.Kind == kind {
			return true
		}
	}
	return false
}

// absorbWithShield routes incoming damage through any SHIELD effects first.
// Returns the damage that reaches HP. Depleted shields expire immediately.
func (e *Engine) absorbWithShield(s *Session, dmg int) int {
	for _, fx := range s.Effects {
		if fx.Cfg.Kind != "SHIELD" || dmg <= 0 {
			continue
		}
		pool := fx.magnitude() - fx.appliedDelta // appliedDelta reused as absorbed-so-far
		if pool <= 0 {
			continue
		}
		absorbed := dmg
		if absorbed > pool {
			absorbed = pool
		}
		fx.appliedDelta += absorbed
		dmg -= absorbed
		if fx.appliedDelta >= fx.magnitude() {
			fx.ExpiresAt = 0 // expire on next sweep
		}
	}
	return dmg
}

// tickEffects advances every player's status effects: periodic DoT/HoT
// contributions, then expiry with stat reversion and the optional notice.
func (e *Engine) tickEffects() {
	now := e.clk.NowMillis()
	for _, s := range e.sessions.All() {
		if s.Phase != phasePlaying || len(s.Effects) == 0 {
			continue
		}
		kept := s.Effects[:0]
		for _, fx := range s.Effects {
			if fx.NextTickAt > 0 && fx.NextTickAt <= now && fx.ExpiresAt > now {
				e.applyPeriodic(s, fx)
				fx.NextTickAt += fx.Cfg.TickInterval.Milliseconds()
			}
			if fx.ExpiresAt <= now {
				e.expireEffect(s, fx)
				continue
			}
			kept = append(kept, fx)
		}
		s.Effects = kept
	}
	e.tickMobEffects(now)
}

// tickMobEffects runs the mob-side sweep. Only DoT matters for mobs; a kill
// is credited to the caster when their session is still around.
func (e *Engine) tickMobEffects(now int64) {
	for _, m := range e.mobs.All() {
		if len(m.Effects) == 0 {
			continue
		}
		kept := m.Effects[:0]
		dead := false
		for _, fx := range m.Effects {
			if fx.NextTickAt > 0 && fx.NextTickAt <= now && fx.ExpiresAt > now && fx.Cfg.Kind == "DOT" {
				m.HP -= fx.magnitude()
				fx.NextTickAt += fx.Cfg.TickInterval.Milliseconds()
				if caster, ok := e.sessions.Get(fx.SourceSession); ok && caster.Phase == phasePlaying {
					e.sendText(caster.ID, fmt.Sprintf("Your %s sears %s for %d damage.", fx.Cfg.DisplayName, m.Name(), fx.magnitude()))
				}
				if m.HP <= 0 {
					dead = true
					if caster, ok := e.sessions.Get(fx.SourceSession); ok && caster.Phase == phasePlaying {
						e.handleMobDeath(m, caster)
						e.prompt(caster.ID)
					} else {
						e.disengageDeadMob(m)
						e.mobs.Remove(m.ID)
					}
					break
				}
			}
			if fx.ExpiresAt <= now {
				continue
			}
			kept = append(kept, fx)
		}
		if !dead {
			m.Effects = kept
		}
	}
}

// disengageDeadMob frees whoever was fighting a mob that died without a
// creditable killer.
func (e *Engine) disengageDeadMob(m *Mob) {
	if s, ok := e.sessions.Get(m.InFightWith); ok {
		s.Fighting = ""
		e.sendInfo(s.ID, m.Name()+" collapses.")
		e.prompt(s.ID)
	}
}

func (e *Engine) applyPeriodic(s *Session, fx *activeEffect) {
	st := s.Player
	switch fx.Cfg.Kind {
	case "DOT":
		dmg := e.absorbWithShield(s, fx.magnitude())
		st.HP -= dmg
		e.sendText(s.ID, fmt.Sprintf("%s burns you for %d damage.", fx.Cfg.DisplayName, dmg))
		e.gmcp.MarkDirty(s.ID, gmcp.CharVitals)
		if st.HP <= 0 {
			e.handlePlayerDeath(s, fx.Cfg.DisplayName)
		}
	case "HOT":
		st.HP += fx.magnitude()
		if st.HP > st.MaxHP {
			st.HP = st.MaxHP
		}
		e.gmcp.MarkDirty(s.ID, gmcp.CharVitals)
	}
}

func (e *Engine) expireEffect(s *Session, fx *activeEffect) {
	if fx.Cfg.Kind == "STAT_MOD" && s.Player != nil {
		addAttr(&s.Player.Attr, fx.Cfg.Attribute, -fx.appliedDelta)
		fx.appliedDelta = 0
	}
	if fx.Cfg.ExpiryNotice != "" && s.Phase == phasePlaying {
		e.sendText(s.ID, fx.Cfg.ExpiryNotice)
	}
	e.gmcp.MarkDirty(s.ID, gmcp.CharAfflictions)
}

// clearEffects reverts and removes everything, used on death and disconnect.
func (e *Engine) clearEffects(s *Session) {
	for _, fx := range s.Effects {
		if fx.Cfg.Kind == "STAT_MOD" && s.Player != nil {
			addAttr(&s.Player.Attr, fx.Cfg.Attribute, -fx.appliedDelta)
		}
	}
	s.Effects = nil
}
