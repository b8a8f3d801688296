package engine

import (
	"strconv"
	"strings"

	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/world"
)

// PlacementKind says which single container currently references an item
// instance. Placement is exclusive: moving an item always goes through the
// registry, which clears the old reference before setting the new one.
type PlacementKind int

const (
	Unplaced PlacementKind = iota
	OnFloor
	InInventory
	InSlot
	InMobInventory
)

type Placement struct {
	Kind    PlacementKind
	Room    id.RoomID
	Session id.SessionID
	Slot    world.EquipSlot
	Mob     id.MobID
}

type ItemInstance struct {
	ID         id.ItemID
	TemplateID string
}

// Items tracks every live item instance and where it is.
type Items struct {
	world      *world.World
	instances  map[id.ItemID]ItemInstance
	placements map[id.ItemID]Placement
	byRoom     map[id.RoomID]map[id.ItemID]bool
	byMob      map[id.MobID]map[id.ItemID]bool
	nextLocal  uint64
}

func NewItems(w *world.World) *Items {
	return &Items{
		world:      w,
		instances:  make(map[id.ItemID]ItemInstance),
		placements: make(map[id.ItemID]Placement),
		byRoom:     make(map[id.RoomID]map[id.ItemID]bool),
		byMob:      make(map[id.MobID]map[id.ItemID]bool),
	}
}

// Create registers a new unplaced instance of a template. The instance id is
// zone-qualified by the room or zone it is born into.
func (it *Items) Create(zone id.ZoneID, templateID string) (ItemInstance, bool) {
	if _, ok := it.world.Template(templateID); !ok {
		return ItemInstance{}, false
	}
	it.nextLocal++
	iid := id.ItemID(id.Qualify(zone, "i"+strconv.FormatUint(it.nextLocal, 10)))
	inst := ItemInstance{ID: iid, TemplateID: templateID}
	it.instances[iid] = inst
	it.placements[iid] = Placement{Kind: Unplaced}
	return inst, true
}

// Adopt registers an instance arriving from another engine, keeping its id.
func (it *Items) Adopt(iid id.ItemID, templateID string) bool {
	if _, ok := it.world.Template(templateID); !ok {
		return false
	}
	it.instances[iid] = ItemInstance{ID: iid, TemplateID: templateID}
	it.placements[iid] = Placement{Kind: Unplaced}
	return true
}

func (it *Items) Get(iid id.ItemID) (ItemInstance, bool) {
	inst, ok := it.instances[iid]
	return inst, ok
}

func (it *Items) PlacementOf(iid id.ItemID) Placement {
	return it.placements[iid]
}

func (it *Items) Template(iid id.ItemID) (world.ItemTemplate, bool) {
	inst, ok := it.instances[iid]
	if !ok {
		return world.ItemTemplate{}, false
	}
	return it.world.Template(inst.TemplateID)
}

// clear removes the current container reference, if any.
func (it *Items) clear(iid id.ItemID) {
	p := it.placements[iid]
	switch p.Kind {
	case OnFloor:
		delete(it.byRoom[p.Room], iid)
	case InMobInventory:
		delete(it.byMob[p.Mob], iid)
	}
	it.placements[iid] = Placement{Kind: Unplaced}
}

func (it *Items) PlaceInRoom(iid id.ItemID, rid id.RoomID) {
	it.clear(iid)
	if it.byRoom[rid] == nil {
		it.byRoom[rid] = make(map[id.ItemID]bool)
	}
	it.byRoom[rid][iid] = true
	it.placements[iid] = Placement{Kind: OnFloor, Room: rid}
}

func (it *Items) PlaceInInventory(iid id.ItemID, sid id.SessionID) {
	it.clear(iid)
	it.placements[iid] = Placement{Kind: InInventory, Session: sid}
}

func (it *Items) PlaceInSlot(iid id.ItemID, sid id.SessionID, slot world.EquipSlot) {
	it.clear(iid)
	it.placements[iid] = Placement{Kind: InSlot, Session: sid, Slot: slot}
}

func (it *Items) PlaceInMob(iid id.ItemID, mid id.MobID) {
	it.clear(iid)
	if it.byMob[mid] == nil {
		it.byMob[mid] = make(map[id.ItemID]bool)
	}
	it.byMob[mid][iid] = true
	it.placements[iid] = Placement{Kind: InMobInventory, Mob: mid}
}

// Destroy removes the instance entirely.
func (it *Items) Destroy(iid id.ItemID) {
	it.clear(iid)
	delete(it.placements, iid)
	delete(it.instances, iid)
}

// InRoom lists the item instances on a room's floor.
func (it *Items) InRoom(rid id.RoomID) []id.ItemID {
	out := make([]id.ItemID, 0, len(it.byRoom[rid]))
	for iid := range it.byRoom[rid] {
		out = append(out, iid)
	}
	return out
}

// InMob lists a mob's carried items.
func (it *Items) InMob(mid id.MobID) []id.ItemID {
	out := make([]id.ItemID, 0, len(it.byMob[mid]))
	for iid := range it.byMob[mid] {
		out = append(out, iid)
	}
	return out
}

// MatchInRoom finds a floor item by keyword or name substring.
func (it *Items) MatchInRoom(rid id.RoomID, keyword string) (id.ItemID, bool) {
	return it.match(it.InRoom(rid), keyword)
}

// MatchIn finds an item among the given ids by keyword or name substring.
func (it *Items) MatchIn(ids []id.ItemID, keyword string) (id.ItemID, bool) {
	return it.match(ids, keyword)
}

func (it *Items) match(ids []id.ItemID, keyword string) (id.ItemID, bool) {
	kw := strings.ToLower(keyword)
	for _, iid := range ids {
		tmpl, ok := it.Template(iid)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(tmpl.Name), kw) {
			return iid, true
		}
		for _, k := range tmpl.Keywords {
			if strings.EqualFold(k, kw) {
				return iid, true
			}
		}
	}
	return "", false
}
