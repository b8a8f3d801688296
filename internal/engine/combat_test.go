package engine

import (
	"testing"
	"time"

	"github.com/ambonmud/server/internal/config"
)

// fixedDamage pins the weapon roll so every round is predictable.
func fixedDamage(n int) func(*config.Config) {
	return func(c *config.Config) {
		c.Engine.Combat.MinDamage = n
		c.Engine.Combat.MaxDamage = n
	}
}

func TestCombatKillLootAndRespawn(t *testing.T) {
	h := newHarness(t, testWorld(dummySpawn()), fixedDamage(3))
	s := h.enterPlayer(1, "Ama", "WARRIOR")
	h.line(1, "east")
	h.reset()

	// The kill command only engages; the first round lands one full round
	// interval later.
	h.line(1, "kill dummy")
	h.mustSee(1, "You attack a training dummy!")
	if h.sawText(1, "You hit a training dummy") {
		t.Error("a round resolved on the engagement tick")
	}

	h.reset()
	h.clk.Advance(2 * time.Second)
	h.tick()
	h.mustSee(1, "You hit a training dummy for 3 damage.")
	if s.Player.HP != 29 {
		t.Errorf("HP after round one = %d, want 29", s.Player.HP)
	}

	h.reset()
	h.clk.Advance(2 * time.Second)
	h.tick()
	h.mustSee(1, "You have slain a training dummy!")
	h.mustSee(1, "You loot 2 gold.")
	h.mustSee(1, "You gain 30 experience.")
	if s.Fighting != "" {
		t.Error("still fighting after the kill")
	}
	if s.Player.Gold != 22 {
		t.Errorf("gold = %d, want 22", s.Player.Gold)
	}
	if s.Player.XPTotal != 30 {
		t.Errorf("xp = %d, want 30", s.Player.XPTotal)
	}
	if _, alive := h.eng.mobs.Get("hubz:dummy"); alive {
		t.Error("dead mob still registered")
	}

	// The guaranteed drop hit the floor.
	found := false
	for _, iid := range h.eng.items.InRoom("hubz:alley") {
		if tmpl, ok := h.eng.items.Template(iid); ok && tmpl.ID == "splinter" {
			found = true
		}
	}
	if !found {
		t.Error("loot drop missing from the room")
	}

	// Respawn comes back through the scheduler after the configured delay.
	h.clk.Advance(30 * time.Second)
	h.tick()
	m, alive := h.eng.mobs.Get("hubz:dummy")
	if !alive {
		t.Fatal("mob did not respawn")
	}
	if m.HP != m.MaxHP {
		t.Errorf("respawned at %d/%d HP", m.HP, m.MaxHP)
	}
}

func TestPlayerDeathRespawnPolicy(t *testing.T) {
	h := newHarness(t, testWorld(dummySpawn()), fixedDamage(3))
	s := h.enterPlayer(1, "Ama", "WARRIOR")
	h.line(1, "east")
	s.Player.HP = 1
	h.reset()

	h.line(1, "kill dummy")
	h.clk.Advance(2 * time.Second)
	h.tick()
	h.mustSee(1, "Darkness takes you")
	h.mustSee(1, "You lost 2 gold in the crossing.")
	if s.Player.RoomID != "hubz:square" {
		t.Errorf("respawned in %s, want hubz:square", s.Player.RoomID)
	}
	if s.Player.HP != s.Player.MaxHP {
		t.Errorf("HP = %d, want full %d", s.Player.HP, s.Player.MaxHP)
	}
	if s.Player.Gold != 18 {
		t.Errorf("gold = %d, want 18 after 10%% penalty", s.Player.Gold)
	}
	if s.Fighting != "" {
		t.Error("still marked as fighting after death")
	}
}

func TestPlayerDeathPermadeath(t *testing.T) {
	h := newHarness(t, testWorld(dummySpawn()), func(c *config.Config) {
		c.Engine.Combat.MinDamage = 3
		c.Engine.Combat.MaxDamage = 3
		c.Engine.Combat.DeathPolicy = config.DeathPermadeath
	})
	s := h.enterPlayer(1, "Ama", "WARRIOR")
	h.line(1, "east")
	s.Player.Gold = 55
	s.Player.XPTotal = 400
	s.Player.Level = 2
	s.Player.HP = 1
	h.reset()

	h.line(1, "kill dummy")
	h.clk.Advance(2 * time.Second)
	h.tick()
	h.mustSee(1, "Death keeps what it takes.")
	if !h.sawClose(1) {
		t.Error("permadeath did not close the session")
	}
	if _, ok := h.eng.sessions.Get(1); ok {
		t.Error("session still registered after permadeath")
	}

	rec, err := h.repo.FindByName(h.ctx, "Ama")
	if err != nil || rec == nil {
		t.Fatalf("FindByName: %v, %v", rec, err)
	}
	if rec.Level != 1 || rec.XPTotal != 0 || rec.Gold != 0 {
		t.Errorf("record after permadeath: level=%d xp=%d gold=%d, want 1/0/0",
			rec.Level, rec.XPTotal, rec.Gold)
	}
}

func TestFoeGoneEndsCombat(t *testing.T) {
	h := newHarness(t, testWorld(dummySpawn()), fixedDamage(1))
	s := h.enterPlayer(1, "Ama", "WARRIOR")
	h.line(1, "east")
	h.line(1, "kill dummy")
	h.reset()

	// Despawn behind the player's back; the next due round notices.
	h.eng.mobs.Remove("hubz:dummy")
	h.clk.Advance(2 * time.Second)
	h.tick()
	h.mustSee(1, "Your foe is gone.")
	if s.Fighting != "" {
		t.Error("fighting a despawned mob")
	}
}

func TestLevelUpRaisesVitals(t *testing.T) {
	h := newHarness(t, testWorld(), nil)
	s := h.enterPlayer(1, "Ama", "WARRIOR")
	h.reset()

	// Level 2 needs 100*1^1.8 + 50*1 = 150 XP.
	h.eng.awardXP(s, 150)
	h.collect()
	h.mustSee(1, "You have reached level 2!")
	if s.Player.Level != 2 {
		t.Fatalf("level = %d, want 2", s.Player.Level)
	}
	if s.Player.MaxHP != 38 {
		t.Errorf("MaxHP = %d, want 38 after +8 warrior gain", s.Player.MaxHP)
	}
	if s.Player.HP != s.Player.MaxHP {
		t.Error("full heal on level up did not apply")
	}
}
