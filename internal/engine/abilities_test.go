package engine

import (
	"testing"
	"time"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/world"
)

func ogreSpawn() world.MobSpawn {
	return world.MobSpawn{
		MobID:     "hubz:ogre",
		Name:      "a cave ogre",
		Keywords:  []string{"ogre"},
		RoomID:    "hubz:alley",
		HP:        100,
		MinDamage: 1,
		MaxDamage: 1,
	}
}

// slowRegen pushes regeneration out of the test window so vitals stay exact.
func slowRegen(c *config.Config) {
	c.Engine.Regen.HPBaseInterval = config.Duration{Duration: time.Hour}
	c.Engine.Regen.HPMinInterval = config.Duration{Duration: time.Hour}
	c.Engine.Regen.ManaBaseInterval = config.Duration{Duration: time.Hour}
	c.Engine.Regen.ManaMinInterval = config.Duration{Duration: time.Hour}
}

func withFireball(c *config.Config) {
	slowRegen(c)
	c.Engine.Abilities = map[string]config.AbilityConfig{
		"fireball": {
			DisplayName:      "Fireball",
			ManaCost:         6,
			Cooldown:         config.Duration{Duration: 6 * time.Second},
			LevelRequired:    1,
			TargetType:       "ENEMY",
			ClassRestriction: "MAGE",
			Effect:           config.EffectConfig{Type: "DIRECT_DAMAGE", Min: 5, Max: 5},
		},
	}
}

func TestCastDamageManaAndCooldown(t *testing.T) {
	h := newHarness(t, testWorld(ogreSpawn()), withFireball)
	s := h.enterPlayer(1, "Mira", "MAGE")
	h.line(1, "east")
	h.reset()

	h.line(1, "cast fireball ogre")
	h.mustSee(1, "Your Fireball strikes a cave ogre for 5 damage!")
	m, _ := h.eng.mobs.Get("hubz:ogre")
	if m.HP != 95 {
		t.Errorf("ogre HP = %d, want 95", m.HP)
	}
	if s.Player.Mana != 14 {
		t.Errorf("mana = %d, want 14", s.Player.Mana)
	}
	if s.Fighting != "hubz:ogre" {
		t.Error("spell did not engage the target")
	}

	// Still cooling down; with no explicit target the current foe is used.
	h.reset()
	h.line(1, "cast fireball")
	h.mustSee(1, "Fireball is not ready")
	if s.Player.Mana != 14 {
		t.Errorf("failed cast spent mana: %d", s.Player.Mana)
	}

	h.clk.Advance(6 * time.Second)
	h.reset()
	h.line(1, "cast fireball ogre")
	h.mustSee(1, "Your Fireball strikes a cave ogre for 5 damage!")
	if s.Player.Mana != 8 {
		t.Errorf("mana = %d, want 8", s.Player.Mana)
	}

	s.Player.Mana = 3
	h.clk.Advance(6 * time.Second)
	h.reset()
	h.line(1, "cast fireball ogre")
	h.mustSee(1, "Not enough mana: you have 3, Fireball needs 6.")
}

func TestCastUnknownAbility(t *testing.T) {
	h := newHarness(t, testWorld(), withFireball)
	h.enterPlayer(1, "Brand", "WARRIOR")
	h.reset()

	// Warriors never learn fireball, so the cast is refused before any cost.
	h.line(1, "cast fireball")
	h.mustSee(1, "You do not know that ability.")
}

func withBurning(c *config.Config) {
	slowRegen(c)
	c.Engine.Abilities = map[string]config.AbilityConfig{
		"ignite": {
			DisplayName:   "Ignite",
			ManaCost:      2,
			LevelRequired: 1,
			TargetType:    "ENEMY",
			Effect:        config.EffectConfig{Type: "APPLY_STATUS", StatusID: "burning"},
		},
	}
	c.Engine.StatusEffects = map[string]config.StatusEffectConfig{
		"burning": {
			DisplayName:  "Burning",
			Kind:         "DOT",
			Magnitude:    2,
			Duration:     config.Duration{Duration: 10 * time.Second},
			TickInterval: config.Duration{Duration: 2 * time.Second},
			Stacking:     "STACK",
			StackCap:     3,
			ExpiryNotice: "The flames gutter out.",
		},
	}
}

func TestStatusStackingOnPlayer(t *testing.T) {
	h := newHarness(t, testWorld(), withBurning)
	s := h.enterPlayer(1, "Mira", "MAGE")
	h.reset()

	if msg := h.eng.applyStatus(s, "burning", "ignite"); msg != "Burning takes hold." {
		t.Errorf("first apply: %q", msg)
	}
	if msg := h.eng.applyStatus(s, "burning", "ignite"); msg != "Burning stacks to 2." {
		t.Errorf("second apply: %q", msg)
	}
	if msg := h.eng.applyStatus(s, "burning", "ignite"); msg != "Burning stacks to 3." {
		t.Errorf("third apply: %q", msg)
	}
	if msg := h.eng.applyStatus(s, "burning", "ignite"); msg != "Burning cannot stack higher." {
		t.Errorf("capped apply: %q", msg)
	}

	// Three stacks of magnitude 2 burn for 6 per interval.
	h.clk.Advance(2 * time.Second)
	h.tick()
	h.mustSee(1, "Burning burns you for 6 damage.")
	if s.Player.HP != 24 {
		t.Errorf("HP = %d, want 24", s.Player.HP)
	}

	h.reset()
	h.clk.Advance(10 * time.Second)
	h.tick()
	h.mustSee(1, "The flames gutter out.")
	if len(s.Effects) != 0 {
		t.Errorf("%d effects survive past expiry", len(s.Effects))
	}
}

func TestDotTicksOnMob(t *testing.T) {
	h := newHarness(t, testWorld(ogreSpawn()), withBurning)
	s := h.enterPlayer(1, "Mira", "MAGE")
	h.line(1, "east")
	h.reset()

	h.line(1, "cast ignite ogre")
	h.mustSee(1, "Your Ignite takes hold of a cave ogre.")
	m, _ := h.eng.mobs.Get("hubz:ogre")
	if len(m.Effects) != 1 {
		t.Fatalf("mob effects = %d, want 1", len(m.Effects))
	}

	// Break the melee engagement so only the DoT moves HP.
	s.Fighting = ""
	m.InFightWith = 0

	h.clk.Advance(2 * time.Second)
	h.tick()
	h.mustSee(1, "Your Burning sears a cave ogre for 2 damage.")
	if m.HP != 98 {
		t.Errorf("ogre HP = %d, want 98", m.HP)
	}

	h.clk.Advance(2 * time.Second)
	h.tick()
	if m.HP != 96 {
		t.Errorf("ogre HP = %d, want 96", m.HP)
	}

	h.clk.Advance(6 * time.Second)
	h.tick()
	if len(m.Effects) != 0 {
		t.Errorf("%d mob effects survive past expiry", len(m.Effects))
	}
}

func TestRootBlocksMovement(t *testing.T) {
	h := newHarness(t, testWorld(), func(c *config.Config) {
		slowRegen(c)
		c.Engine.StatusEffects = map[string]config.StatusEffectConfig{
			"hamstrung": {
				DisplayName: "Hamstrung",
				Kind:        "ROOT",
				Duration:    config.Duration{Duration: 4 * time.Second},
				Stacking:    "NONE",
			},
		}
	})
	s := h.enterPlayer(1, "Ama", "WARRIOR")
	h.eng.applyStatus(s, "hamstrung", "")
	h.reset()

	h.line(1, "east")
	h.mustSee(1, "Your legs refuse.")
	if s.Player.RoomID != "hubz:square" {
		t.Fatalf("moved to %s while rooted", s.Player.RoomID)
	}

	h.clk.Advance(4 * time.Second)
	h.tick() // expiry sweep
	h.reset()
	h.line(1, "east")
	if s.Player.RoomID != "hubz:alley" {
		t.Errorf("in %s, want hubz:alley after the root expired", s.Player.RoomID)
	}
}

func TestShieldAbsorbsThenExpires(t *testing.T) {
	h := newHarness(t, testWorld(), func(c *config.Config) {
		slowRegen(c)
		c.Engine.StatusEffects = map[string]config.StatusEffectConfig{
			"warded": {
				DisplayName: "Warded",
				Kind:        "SHIELD",
				Magnitude:   15,
				Duration:    config.Duration{Duration: time.Minute},
				Stacking:    "REFRESH",
			},
		}
	})
	s := h.enterPlayer(1, "Ama", "WARRIOR")
	h.eng.applyStatus(s, "warded", "")

	if got := h.eng.absorbWithShield(s, 10); got != 0 {
		t.Errorf("first hit leaked %d through a fresh shield", got)
	}
	if got := h.eng.absorbWithShield(s, 10); got != 5 {
		t.Errorf("second hit leaked %d, want 5 past the depleted pool", got)
	}

	// A drained shield is swept on the next effects pass.
	h.tick()
	if len(s.Effects) != 0 {
		t.Error("depleted shield still active")
	}
}
