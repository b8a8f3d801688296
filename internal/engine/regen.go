package engine

import (
	"time"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/gmcp"
)

// tickRegen restores HP and mana on attribute-modulated intervals: each point
// of constitution (or wisdom for mana) shortens the wait, clamped at the
// configured floor. Players in combat do not regenerate.
func (e *Engine) tickRegen() {
	now := e.clk.NowMillis()
	rc := e.cfg.Engine.Regen
	done := 0

	for _, s := range e.sessions.All() {
		if done >= rc.MaxPlayersPerTick {
			return
		}
		if s.Phase != phasePlaying || s.Fighting != "" {
			continue
		}
		st := s.Player
		changed := false

		if st.HP < st.MaxHP {
			if s.nextHPRegenAt == 0 {
				s.nextHPRegenAt = now + e.regenInterval(rc.HPBaseInterval, rc.HPAttrModifier, rc.HPMinInterval, st.Attr.Constitution)
			} else if s.nextHPRegenAt <= now {
				st.HP += rc.HPAmount
				if st.HP > st.MaxHP {
					st.HP = st.MaxHP
				}
				s.nextHPRegenAt = now + e.regenInterval(rc.HPBaseInterval, rc.HPAttrModifier, rc.HPMinInterval, st.Attr.Constitution)
				changed = true
			}
		} else {
			s.nextHPRegenAt = 0
		}

		if st.Mana < st.MaxMana {
			if s.nextManaRegenAt == 0 {
				s.nextManaRegenAt = now + e.regenInterval(rc.ManaBaseInterval, rc.ManaAttrModifier, rc.ManaMinInterval, st.Attr.Wisdom)
			} else if s.nextManaRegenAt <= now {
				st.Mana += rc.ManaAmount
				if st.Mana > st.MaxMana {
					st.Mana = st.MaxMana
				}
				s.nextManaRegenAt = now + e.regenInterval(rc.ManaBaseInterval, rc.ManaAttrModifier, rc.ManaMinInterval, st.Attr.Wisdom)
				changed = true
			}
		} else {
			s.nextManaRegenAt = 0
		}

		if changed {
			e.gmcp.MarkDirty(s.ID, gmcp.CharVitals)
			done++
		}
	}
}

func (e *Engine) regenInterval(base, perPoint, floor config.Duration, attr int) int64 {
	iv := base.Duration - time.Duration(attr)*perPoint.Duration
	if iv < floor.Duration {
		iv = floor.Duration
	}
	return iv.Milliseconds()
}
