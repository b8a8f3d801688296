package player

import (
	"math"
	"sort"

	"github.com/ambonmud/server/internal/config"
)

// Progression evaluates the XP curve and class vitals tables.
type Progression struct {
	cfg config.ProgressionConfig
}

func NewProgression(cfg config.ProgressionConfig) *Progression {
	return &Progression{cfg: cfg}
}

// XPRequired is the total XP needed to hold level L:
// base*(L-1)^exponent + linear*(L-1). Level 1 costs nothing.
func (p *Progression) XPRequired(level int) int64 {
	if level <= 1 {
		return 0
	}
	l := float64(level - 1)
	return int64(float64(p.cfg.XP.BaseXP)*math.Pow(l, p.cfg.XP.Exponent)) + int64(p.cfg.XP.LinearXP)*int64(level-1)
}

// LevelForXP finds the highest level whose requirement is covered by total,
// capped at max_level. Binary search over the monotonic curve.
func (p *Progression) LevelForXP(total int64) int {
	// sort.Search finds the first level whose requirement exceeds total.
	n := sort.Search(p.cfg.MaxLevel, func(i int) bool {
		return p.XPRequired(i+1) > total
	})
	if n < 1 {
		return 1
	}
	return n
}

// VitalsPerLevel returns the per-level HP and mana gain for a class.
func (p *Progression) VitalsPerLevel(class string) (hp, mana int) {
	c, ok := p.cfg.Classes[class]
	if !ok {
		return 5, 3
	}
	return c.HPPerLevel, c.ManaPerLevel
}

func (p *Progression) MaxLevel() int          { return p.cfg.MaxLevel }
func (p *Progression) FullHealOnLevelUp() bool { return p.cfg.FullHealOnLevelUp }

// LearnedAbilities returns the ids of every ability available at the given
// level and class.
func LearnedAbilities(abilities map[string]config.AbilityConfig, level int, class string) map[string]bool {
	out := make(map[string]bool)
	for aid, ab := range abilities {
		if ab.LevelRequired > level {
			continue
		}
		if ab.ClassRestriction != "" && ab.ClassRestriction != class {
			continue
		}
		out[aid] = true
	}
	return out
}
