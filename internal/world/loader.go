package world

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ambonmud/server/internal/id"
)

// zoneFile is the YAML shape of one zone definition file.
type zoneFile struct {
	Zone            string        `yaml:"zone"`
	LifespanMinutes int           `yaml:"lifespan_minutes"`
	StartRoom       string        `yaml:"start_room"`
	Rooms           []roomYAML    `yaml:"rooms"`
	Mobs            []mobYAML     `yaml:"mobs"`
	Items           []itemYAML    `yaml:"items"`
	Templates       []templYAML   `yaml:"templates"`
}

type roomYAML struct {
	ID          string            `yaml:"id"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	Exits       map[string]string `yaml:"exits"`
}

type mobYAML struct {
	ID           string      `yaml:"id"`
	Name         string      `yaml:"name"`
	Keywords     []string    `yaml:"keywords"`
	Room         string      `yaml:"room"`
	HP           int         `yaml:"hp"`
	MinDamage    int         `yaml:"min_damage"`
	MaxDamage    int         `yaml:"max_damage"`
	Armor        int         `yaml:"armor"`
	XPReward     int         `yaml:"xp_reward"`
	GoldMin      int         `yaml:"gold_min"`
	GoldMax      int         `yaml:"gold_max"`
	Behavior     string      `yaml:"behavior"`
	Patrol       []string    `yaml:"patrol"`
	RespawnSecs  int         `yaml:"respawn_seconds"`
	Drops        []dropYAML  `yaml:"drops"`
	Inventory    []string    `yaml:"inventory"`
	Stock        []string    `yaml:"stock"`
	Dialogue     string      `yaml:"dialogue"`
}

type dropYAML struct {
	Template string  `yaml:"template"`
	Chance   float64 `yaml:"chance"`
}

type itemYAML struct {
	ID       string `yaml:"id"`
	Template string `yaml:"template"`
	Room     string `yaml:"room"`
}

type templYAML struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Keywords    []string `yaml:"keywords"`
	Slot        string   `yaml:"slot"`
	DamageBonus int      `yaml:"damage_bonus"`
	ArmorBonus  int      `yaml:"armor_bonus"`
	Value       int      `yaml:"value"`
	HealHP      int      `yaml:"heal_hp"`
	HealMana    int      `yaml:"heal_mana"`
}

// Load reads every *.yaml zone file under dir and assembles the World.
// Validation is strict: bad ids, unknown behaviors, dangling same-zone exits,
// and unknown item templates are hard errors.
func Load(dir string) (*World, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read world dir %s: %w", dir, err)
	}

	w := &World{
		Rooms:         make(map[id.RoomID]*Room),
		ItemTemplates: make(map[string]ItemTemplate),
		ZoneLifespans: make(map[id.ZoneID]time.Duration),
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("world dir %s: no zone files", dir)
	}

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var zf zoneFile
		if err := yaml.Unmarshal(data, &zf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := mergeZone(w, &zf, name); err != nil {
			return nil, err
		}
	}

	if err := validate(w); err != nil {
		return nil, err
	}
	return w, nil
}

func mergeZone(w *World, zf *zoneFile, file string) error {
	if zf.Zone == "" {
		return fmt.Errorf("%s: missing zone name", file)
	}
	zone := id.ZoneID(zf.Zone)
	w.Zones = append(w.Zones, zone)
	w.ZoneLifespans[zone] = time.Duration(zf.LifespanMinutes) * time.Minute

	if zf.StartRoom != "" {
		rid, err := id.ParseRoomID(zf.StartRoom)
		if err != nil {
			return fmt.Errorf("%s: start_room: %w", file, err)
		}
		if w.StartRoom != "" {
			return fmt.Errorf("%s: start_room already declared as %s", file, w.StartRoom)
		}
		w.StartRoom = rid
	}

	for _, t := range zf.Templates {
		if t.ID == "" {
			return fmt.Errorf("%s: template with empty id", file)
		}
		if _, dup := w.ItemTemplates[t.ID]; dup {
			return fmt.Errorf("%s: duplicate item template %q", file, t.ID)
		}
		slot := EquipSlot(t.Slot)
		switch slot {
		case SlotNone, SlotWeapon, SlotHead, SlotBody, SlotHands, SlotFeet:
		default:
			return fmt.Errorf("%s: template %q: unknown slot %q", file, t.ID, t.Slot)
		}
		w.ItemTemplates[t.ID] = ItemTemplate{
			ID:          t.ID,
			Name:        t.Name,
			Keywords:    t.Keywords,
			Slot:        slot,
			DamageBonus: t.DamageBonus,
			ArmorBonus:  t.ArmorBonus,
			Value:       t.Value,
			HealHP:      t.HealHP,
			HealMana:    t.HealMana,
		}
	}

	for _, r := range zf.Rooms {
		rid, err := id.ParseRoomID(r.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if rid.Zone() != zone {
			return fmt.Errorf("%s: room %s declared outside its zone %s", file, rid, zone)
		}
		if _, dup := w.Rooms[rid]; dup {
			return fmt.Errorf("%s: duplicate room %s", file, rid)
		}
		room := &Room{
			ID:          rid,
			Title:       r.Title,
			Description: r.Description,
			Exits:       make(map[Direction]id.RoomID, len(r.Exits)),
		}
		for dirTok, target := range r.Exits {
			dir, ok := ParseDirection(dirTok)
			if !ok {
				return fmt.Errorf("%s: room %s: unknown direction %q", file, rid, dirTok)
			}
			tid, err := id.ParseRoomID(target)
			if err != nil {
				return fmt.Errorf("%s: room %s exit %s: %w", file, rid, dirTok, err)
			}
			room.Exits[dir] = tid
		}
		w.Rooms[rid] = room
	}

	for _, m := range zf.Mobs {
		mid, err := id.ParseMobID(m.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		rid, err := id.ParseRoomID(m.Room)
		if err != nil {
			return fmt.Errorf("%s: mob %s: %w", file, mid, err)
		}
		behavior := Stationary
		if m.Behavior != "" {
			behavior, err = ParseBehavior(m.Behavior)
			if err != nil {
				return fmt.Errorf("%s: mob %s: %w", file, mid, err)
			}
		}
		var patrol []id.RoomID
		for _, p := range m.Patrol {
			prid, err := id.ParseRoomID(p)
			if err != nil {
				return fmt.Errorf("%s: mob %s patrol: %w", file, mid, err)
			}
			patrol = append(patrol, prid)
		}
		if behavior.Patrols() && len(patrol) < 2 {
			return fmt.Errorf("%s: mob %s: patrol behavior needs a route of >= 2 rooms", file, mid)
		}
		var drops []DropEntry
		for _, d := range m.Drops {
			if d.Chance <= 0 || d.Chance > 1 {
				return fmt.Errorf("%s: mob %s: drop chance %v out of (0,1]", file, mid, d.Chance)
			}
			drops = append(drops, DropEntry{TemplateID: d.Template, Chance: d.Chance})
		}
		maxDmg := m.MaxDamage
		if maxDmg < m.MinDamage {
			return fmt.Errorf("%s: mob %s: damage range inverted", file, mid)
		}
		w.MobSpawns = append(w.MobSpawns, MobSpawn{
			MobID:          mid,
			Name:           m.Name,
			Keywords:       m.Keywords,
			RoomID:         rid,
			HP:             m.HP,
			MinDamage:      m.MinDamage,
			MaxDamage:      maxDmg,
			Armor:          m.Armor,
			XPReward:       m.XPReward,
			GoldMin:        m.GoldMin,
			GoldMax:        m.GoldMax,
			Behavior:       behavior,
			PatrolRoute:    patrol,
			RespawnDelay:   time.Duration(m.RespawnSecs) * time.Second,
			Drops:          drops,
			Inventory:      m.Inventory,
			Stock:          m.Stock,
			DialogueScript: m.Dialogue,
		})
	}

	for _, it := range zf.Items {
		iid, err := id.ParseItemID(it.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		rid, err := id.ParseRoomID(it.Room)
		if err != nil {
			return fmt.Errorf("%s: item %s: %w", file, iid, err)
		}
		w.ItemSpawns = append(w.ItemSpawns, ItemSpawn{ItemID: iid, TemplateID: it.Template, RoomID: rid})
	}

	return nil
}

func validate(w *World) error {
	if w.StartRoom == "" {
		return fmt.Errorf("world: no zone declares a start_room")
	}
	if _, ok := w.Rooms[w.StartRoom]; !ok {
		return fmt.Errorf("world: start_room %s does not exist", w.StartRoom)
	}

	zones := make(map[id.ZoneID]bool, len(w.Zones))
	for _, z := range w.Zones {
		zones[z] = true
	}

	for rid, room := range w.Rooms {
		for dir, target := range room.Exits {
			if target.Zone() == rid.Zone() {
				if _, ok := w.Rooms[target]; !ok {
					return fmt.Errorf("world: room %s exit %s -> %s: no such room", rid, dir, target)
				}
			} else if !zones[target.Zone()] {
				// Cross-zone exits must point at a declared zone so the
				// sharding layer can resolve an owner.
				return fmt.Errorf("world: room %s exit %s -> %s: unknown zone %s", rid, dir, target, target.Zone())
			}
		}
	}

	for _, ms := range w.MobSpawns {
		if _, ok := w.Rooms[ms.RoomID]; !ok {
			return fmt.Errorf("world: mob %s spawns in missing room %s", ms.MobID, ms.RoomID)
		}
		for _, d := range ms.Drops {
			if _, ok := w.ItemTemplates[d.TemplateID]; !ok {
				return fmt.Errorf("world: mob %s drops unknown template %q", ms.MobID, d.TemplateID)
			}
		}
		for _, tid := range ms.Inventory {
			if _, ok := w.ItemTemplates[tid]; !ok {
				return fmt.Errorf("world: mob %s carries unknown template %q", ms.MobID, tid)
			}
		}
		for _, tid := range ms.Stock {
			if _, ok := w.ItemTemplates[tid]; !ok {
				return fmt.Errorf("world: mob %s stocks unknown template %q", ms.MobID, tid)
			}
		}
		for _, p := range ms.PatrolRoute {
			if _, ok := w.Rooms[p]; !ok {
				return fmt.Errorf("world: mob %s patrol visits missing room %s", ms.MobID, p)
			}
		}
	}

	for _, is := range w.ItemSpawns {
		if _, ok := w.Rooms[is.RoomID]; !ok {
			return fmt.Errorf("world: item %s spawns in missing room %s", is.ItemID, is.RoomID)
		}
		if _, ok := w.ItemTemplates[is.TemplateID]; !ok {
			return fmt.Errorf("world: item %s has unknown template %q", is.ItemID, is.TemplateID)
		}
	}

	return nil
}
