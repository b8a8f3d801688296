package world

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ambonmud/server/internal/id"
)

const hubZone = `
zone: hubz
lifespan_minutes: 30
start_room: hubz:square
templates:
  - id: rusty_sword
    name: a rusty sword
    keywords: [sword, rusty]
    slot: weapon
    damage_bonus: 1
    value: 10
rooms:
  - id: hubz:square
    title: The Square
    description: A dusty town square.
    exits: { north: hubz:gate }
  - id: hubz:gate
    title: The Gate
    description: The north gate.
    exits: { south: hubz:square, north: cavez:mouth }
mobs:
  - id: hubz:rat
    name: a sewer rat
    keywords: [rat]
    room: hubz:square
    hp: 5
    min_damage: 1
    max_damage: 2
    xp_reward: 10
    behavior: wander
    respawn_seconds: 30
    drops:
      - { template: rusty_sword, chance: 1.0 }
items:
  - id: hubz:sword1
    template: rusty_sword
    room: hubz:square
`

const caveZone = `
zone: cavez
rooms:
  - id: cavez:mouth
    title: Cave Mouth
    description: A dark opening.
    exits: { south: hubz:gate }
`

func writeWorld(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadTwoZones(t *testing.T) {
	dir := writeWorld(t, map[string]string{"hubz.yaml": hubZone, "cavez.yaml": caveZone})
	w, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if w.StartRoom != "hubz:square" {
		t.Errorf("StartRoom = %s", w.StartRoom)
	}
	if len(w.Rooms) != 3 {
		t.Errorf("rooms = %d, want 3", len(w.Rooms))
	}
	gate := w.Room("hubz:gate")
	if gate == nil {
		t.Fatal("hubz:gate missing")
	}
	if !w.CrossZone(gate.ID, gate.Exits[North]) {
		t.Error("gate north exit should cross zones")
	}
	if w.ZoneLifespans["hubz"].Minutes() != 30 {
		t.Errorf("hubz lifespan = %v", w.ZoneLifespans["hubz"])
	}
}

func TestLoadRejectsUnknownBehavior(t *testing.T) {
	bad := `
zone: badz
start_room: badz:r1
rooms:
  - id: badz:r1
    title: R1
    description: x
mobs:
  - id: badz:m1
    name: a blob
    room: badz:r1
    hp: 5
    behavior: teleporting
`
	dir := writeWorld(t, map[string]string{"badz.yaml": bad})
	if _, err := Load(dir); err == nil {
		t.Error("expected error for unknown behavior")
	}
}

func TestLoadRejectsDanglingExit(t *testing.T) {
	bad := `
zone: badz
start_room: badz:r1
rooms:
  - id: badz:r1
    title: R1
    description: x
    exits: { north: badz:nowhere }
`
	dir := writeWorld(t, map[string]string{"badz.yaml": bad})
	if _, err := Load(dir); err == nil {
		t.Error("expected error for dangling same-zone exit")
	}
}

func TestSubsetPartitionsByZone(t *testing.T) {
	dir := writeWorld(t, map[string]string{"hubz.yaml": hubZone, "cavez.yaml": caveZone})
	w, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sub := w.Subset([]id.ZoneID{"hubz"})
	if len(sub.Rooms) != 2 {
		t.Errorf("subset rooms = %d, want 2", len(sub.Rooms))
	}
	if sub.Room("cavez:mouth") != nil {
		t.Error("subset leaked cavez room")
	}
	// Cross-zone exit survives as a stub id.
	if sub.Room("hubz:gate").Exits[North] != "cavez:mouth" {
		t.Error("cross-zone stub missing from subset")
	}
	if len(sub.MobSpawns) != 1 {
		t.Errorf("subset mobs = %d, want 1", len(sub.MobSpawns))
	}
}

func TestDirectionRoundTrip(t *testing.T) {
	for _, tok := range []string{"north", "s", "E", "w", "up", "D"} {
		if _, ok := ParseDirection(tok); !ok {
			t.Errorf("ParseDirection(%q) failed", tok)
		}
	}
	if North.Opposite() != South || Up.Opposite() != Down || East.Opposite() != West {
		t.Error("Opposite mapping wrong")
	}
}
