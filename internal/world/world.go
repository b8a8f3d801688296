// Package world holds the immutable world definition: rooms, spawn tables,
// item templates, zone lifespans. Loaded once at startup, never mutated.
package world

import (
	"fmt"
	"strings"
	"time"

	"github.com/ambonmud/server/internal/id"
)

type Direction int

const (
	North Direction = iota
	South
	East
	West
	Up
	Down
)

var dirNames = [...]string{"north", "south", "east", "west", "up", "down"}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(dirNames) {
		return "nowhere"
	}
	return dirNames[d]
}

func (d Direction) Opposite() Direction {
	switch d {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	case West:
		return East
	case Up:
		return Down
	default:
		return Up
	}
}

// ParseDirection normalizes a direction token (full name or single letter).
func ParseDirection(tok string) (Direction, bool) {
	switch strings.ToLower(tok) {
	case "north", "n":
		return North, true
	case "south", "s":
		return South, true
	case "east", "e":
		return East, true
	case "west", "w":
		return West, true
	case "up", "u":
		return Up, true
	case "down", "d":
		return Down, true
	default:
		return 0, false
	}
}

type Room struct {
	ID          id.RoomID
	Title       string
	Description string
	Exits       map[Direction]id.RoomID
}

// Behavior is a mob AI template. Unknown names fail world load.
type Behavior int

const (
	Stationary Behavior = iota
	Wander
	Patrol
	AggroGuard
	PatrolAggro
	WanderAggro
	Coward
)

var behaviorNames = map[string]Behavior{
	"stationary":   Stationary,
	"wander":       Wander,
	"patrol":       Patrol,
	"aggro_guard":  AggroGuard,
	"patrol_aggro": PatrolAggro,
	"wander_aggro": WanderAggro,
	"coward":       Coward,
}

func ParseBehavior(name string) (Behavior, error) {
	b, ok := behaviorNames[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown mob behavior %q", name)
	}
	return b, nil
}

func (b Behavior) Aggro() bool {
	return b == AggroGuard || b == PatrolAggro || b == WanderAggro
}

func (b Behavior) Wanders() bool {
	return b == Wander || b == WanderAggro || b == Coward
}

func (b Behavior) Patrols() bool {
	return b == Patrol || b == PatrolAggro
}

// EquipSlot is where an item template can be worn.
type EquipSlot string

const (
	SlotNone   EquipSlot = ""
	SlotWeapon EquipSlot = "weapon"
	SlotHead   EquipSlot = "head"
	SlotBody   EquipSlot = "body"
	SlotHands  EquipSlot = "hands"
	SlotFeet   EquipSlot = "feet"
)

type ItemTemplate struct {
	ID          string
	Name        string
	Keywords    []string
	Slot        EquipSlot
	DamageBonus int
	ArmorBonus  int
	Value       int // vendor price in gold
	// Consumable restore amounts; an item with either set is destroyed on use.
	HealHP   int
	HealMana int
}

// Consumable reports whether using the item does anything.
func (t ItemTemplate) Consumable() bool {
	return t.HealHP > 0 || t.HealMana > 0
}

type ItemSpawn struct {
	ItemID     id.ItemID
	TemplateID string
	RoomID     id.RoomID
}

// DropEntry is one loot-table roll for a mob spawn.
type DropEntry struct {
	TemplateID string
	Chance     float64 // 1.0 = guaranteed
}

type MobSpawn struct {
	MobID        id.MobID
	Name         string
	Keywords     []string
	RoomID       id.RoomID
	HP           int
	MinDamage    int
	MaxDamage    int
	Armor        int
	XPReward     int
	GoldMin      int
	GoldMax      int
	Behavior     Behavior
	PatrolRoute  []id.RoomID
	RespawnDelay time.Duration // 0 = only zone reset restores it
	Drops        []DropEntry
	Inventory    []string // template ids carried and dropped on death
	// Vendor mobs sell these templates; empty = not a vendor.
	Stock []string
	// DialogueScript names the Lua dialogue entry point for `talk`.
	DialogueScript string
}

// World is the immutable load product. An engine holds the subset covering
// its owned zones; cross-zone exit targets remain as ids (stubs).
type World struct {
	Rooms         map[id.RoomID]*Room
	StartRoom     id.RoomID
	MobSpawns     []MobSpawn
	ItemSpawns    []ItemSpawn
	ItemTemplates map[string]ItemTemplate
	ZoneLifespans map[id.ZoneID]time.Duration
	Zones         []id.ZoneID
}

func (w *World) Room(rid id.RoomID) *Room {
	return w.Rooms[rid]
}

func (w *World) Template(tid string) (ItemTemplate, bool) {
	t, ok := w.ItemTemplates[tid]
	return t, ok
}

// CrossZone reports whether moving between the two rooms crosses a zone
// boundary and therefore requires a handoff.
func (w *World) CrossZone(from, to id.RoomID) bool {
	return from.Zone() != to.Zone()
}

// Subset returns a world view restricted to the given zones. Rooms outside
// the set are dropped; exits pointing at them stay as cross-zone stubs. Item
// templates are global and shared so handoff re-inflation works everywhere.
func (w *World) Subset(zones []id.ZoneID) *World {
	owned := make(map[id.ZoneID]bool, len(zones))
	for _, z := range zones {
		owned[z] = true
	}
	sub := &World{
		Rooms:         make(map[id.RoomID]*Room),
		StartRoom:     w.StartRoom,
		ItemTemplates: w.ItemTemplates,
		ZoneLifespans: make(map[id.ZoneID]time.Duration),
		Zones:         zones,
	}
	for rid, room := range w.Rooms {
		if owned[rid.Zone()] {
			sub.Rooms[rid] = room
		}
	}
	for _, ms := range w.MobSpawns {
		if owned[ms.RoomID.Zone()] {
			sub.MobSpawns = append(sub.MobSpawns, ms)
		}
	}
	for _, is := range w.ItemSpawns {
		if owned[is.RoomID.Zone()] {
			sub.ItemSpawns = append(sub.ItemSpawns, is)
		}
	}
	for z, ls := range w.ZoneLifespans {
		if owned[z] {
			sub.ZoneLifespans[z] = ls
		}
	}
	return sub
}
