package engine

import (
	"testing"
	"time"

	"github.com/ambonmud/server/internal/id"
)

func TestZoneResetRestoresMobs(t *testing.T) {
	w := testWorld(dummySpawn())
	w.ZoneLifespans = map[id.ZoneID]time.Duration{"hubz": time.Minute}
	h := newHarness(t, w, nil)
	h.enterPlayer(1, "Ama", "WARRIOR")

	// Lose the mob without triggering its respawn timer.
	h.eng.mobs.Remove("hubz:dummy")
	h.reset()

	h.clk.Advance(61 * time.Second)
	h.tick()
	if _, alive := h.eng.mobs.Get("hubz:dummy"); !alive {
		t.Fatal("zone reset did not restore the mob")
	}
	h.mustSee(1, "The air shimmers as the world renews itself around you.")
}

func TestZoneResetHealsAndRehomes(t *testing.T) {
	w := testWorld(dummySpawn())
	w.ZoneLifespans = map[id.ZoneID]time.Duration{"hubz": time.Minute}
	h := newHarness(t, w, nil)

	m, _ := h.eng.mobs.Get("hubz:dummy")
	m.HP = 2
	h.eng.mobs.MoveTo(m, "hubz:square")

	h.clk.Advance(61 * time.Second)
	h.tick()
	if m.HP != m.MaxHP {
		t.Errorf("mob at %d/%d HP after reset", m.HP, m.MaxHP)
	}
	if m.Room != "hubz:alley" {
		t.Errorf("mob in %s, want home room hubz:alley", m.Room)
	}

	// The reset rearms itself for the next cycle.
	h.eng.mobs.Remove("hubz:dummy")
	h.clk.Advance(60 * time.Second)
	h.tick()
	if _, alive := h.eng.mobs.Get("hubz:dummy"); !alive {
		t.Error("second reset cycle never fired")
	}
}
