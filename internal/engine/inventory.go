package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ambonmud/server/internal/gmcp"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/world"
)

// removeFromInventory drops the id from the ordered inventory list.
func removeFromInventory(st []id.ItemID, iid id.ItemID) []id.ItemID {
	for i, v := range st {
		if v == iid {
			return append(st[:i], st[i+1:]...)
		}
	}
	return st
}

func (e *Engine) cmdGet(s *Session, keyword string) {
	iid, ok := e.items.MatchInRoom(s.Player.RoomID, keyword)
	if !ok {
		e.sendError(s.ID, "There is no "+keyword+" here.")
		return
	}
	tmpl, _ := e.items.Template(iid)
	e.items.PlaceInInventory(iid, s.ID)
	s.Player.Inventory = append(s.Player.Inventory, iid)
	e.sendText(s.ID, "You pick up "+tmpl.Name+".")
	e.broadcastRoom(s.Player.RoomID, s.Player.Name+" picks up "+tmpl.Name+".", s.ID)
	e.gmcp.MarkDirty(s.ID, gmcp.CharItems)
}

func (e *Engine) cmdDrop(s *Session, keyword string) {
	iid, ok := e.items.MatchIn(s.Player.Inventory, keyword)
	if !ok {
		e.sendError(s.ID, "You are not carrying a "+keyword+".")
		return
	}
	tmpl, _ := e.items.Template(iid)
	s.Player.Inventory = removeFromInventory(s.Player.Inventory, iid)
	e.items.PlaceInRoom(iid, s.Player.RoomID)
	e.sendText(s.ID, "You drop "+tmpl.Name+".")
	e.broadcastRoom(s.Player.RoomID, s.Player.Name+" drops "+tmpl.Name+".", s.ID)
	e.gmcp.MarkDirty(s.ID, gmcp.CharItems)
}

func (e *Engine) cmdWear(s *Session, keyword string) {
	iid, ok := e.items.MatchIn(s.Player.Inventory, keyword)
	if !ok {
		e.sendError(s.ID, "You are not carrying a "+keyword+".")
		return
	}
	tmpl, _ := e.items.Template(iid)
	if tmpl.Slot == world.SlotNone {
		e.sendError(s.ID, "You cannot wear "+tmpl.Name+".")
		return
	}
	// Anything already in the slot returns to the inventory.
	if prev, worn := s.Player.Equipped[tmpl.Slot]; worn {
		prevTmpl, _ := e.items.Template(prev)
		e.items.PlaceInInventory(prev, s.ID)
		s.Player.Inventory = append(s.Player.Inventory, prev)
		e.sendText(s.ID, "You stop using "+prevTmpl.Name+".")
	}
	s.Player.Inventory = removeFromInventory(s.Player.Inventory, iid)
	e.items.PlaceInSlot(iid, s.ID, tmpl.Slot)
	s.Player.Equipped[tmpl.Slot] = iid
	if tmpl.Slot == world.SlotWeapon {
		e.sendText(s.ID, "You wield "+tmpl.Name+".")
	} else {
		e.sendText(s.ID, "You wear "+tmpl.Name+".")
	}
	e.gmcp.MarkDirty(s.ID, gmcp.CharItems)
}

func (e *Engine) cmdRemove(s *Session, keyword string) {
	for slot, iid := range s.Player.Equipped {
		tmpl, ok := e.items.Template(iid)
		if !ok {
			continue
		}
		if matchesTemplate(tmpl, keyword) {
			delete(s.Player.Equipped, slot)
			e.items.PlaceInInventory(iid, s.ID)
			s.Player.Inventory = append(s.Player.Inventory, iid)
			e.sendText(s.ID, "You stop using "+tmpl.Name+".")
			e.gmcp.MarkDirty(s.ID, gmcp.CharItems)
			return
		}
	}
	e.sendError(s.ID, "You are not using a "+keyword+".")
}

func matchesTemplate(tmpl world.ItemTemplate, keyword string) bool {
	kw := strings.ToLower(keyword)
	if strings.Contains(strings.ToLower(tmpl.Name), kw) {
		return true
	}
	for _, k := range tmpl.Keywords {
		if strings.EqualFold(k, kw) {
			return true
		}
	}
	return false
}

func (e *Engine) cmdInventory(s *Session) {
	if len(s.Player.Inventory) == 0 {
		e.sendText(s.ID, "You are carrying nothing.")
		return
	}
	e.sendText(s.ID, "You are carrying:")
	for _, iid := range s.Player.Inventory {
		if tmpl, ok := e.items.Template(iid); ok {
			e.sendText(s.ID, "  "+tmpl.Name)
		}
	}
}

func (e *Engine) cmdEquipment(s *Session) {
	if len(s.Player.Equipped) == 0 {
		e.sendText(s.ID, "You are using nothing.")
		return
	}
	slots := make([]string, 0, len(s.Player.Equipped))
	for slot := range s.Player.Equipped {
		slots = append(slots, string(slot))
	}
	sort.Strings(slots)
	e.sendText(s.ID, "You are using:")
	for _, slot := range slots {
		iid := s.Player.Equipped[world.EquipSlot(slot)]
		if tmpl, ok := e.items.Template(iid); ok {
			e.sendText(s.ID, fmt.Sprintf("  <%s> %s", slot, tmpl.Name))
		}
	}
}

// cmdUse consumes a potion-like item.
func (e *Engine) cmdUse(s *Session, keyword string) {
	iid, ok := e.items.MatchIn(s.Player.Inventory, keyword)
	if !ok {
		e.sendError(s.ID, "You are not carrying a "+keyword+".")
		return
	}
	tmpl, _ := e.items.Template(iid)
	if !tmpl.Consumable() {
		e.sendError(s.ID, "Nothing happens.")
		return
	}
	st := s.Player
	if tmpl.HealHP > 0 {
		st.HP += tmpl.HealHP
		if st.HP > st.MaxHP {
			st.HP = st.MaxHP
		}
	}
	if tmpl.HealMana > 0 {
		st.Mana += tmpl.HealMana
		if st.Mana > st.MaxMana {
			st.Mana = st.MaxMana
		}
	}
	st.Inventory = removeFromInventory(st.Inventory, iid)
	e.items.Destroy(iid)
	e.sendText(s.ID, "You use "+tmpl.Name+". You feel restored.")
	e.broadcastRoom(st.RoomID, st.Name+" uses "+tmpl.Name+".", s.ID)
	e.gmcp.MarkDirty(s.ID, gmcp.CharVitals)
	e.gmcp.MarkDirty(s.ID, gmcp.CharItems)
}

func (e *Engine) cmdGive(s *Session, targetName, keyword string) {
	iid, ok := e.items.MatchIn(s.Player.Inventory, keyword)
	if !ok {
		e.sendError(s.ID, "You are not carrying a "+keyword+".")
		return
	}
	var target *Session
	for _, other := range e.sessions.InRoom(s.Player.RoomID) {
		if other.ID == s.ID || other.Phase != phasePlaying {
			continue
		}
		if strings.Contains(strings.ToLower(other.Player.Name), strings.ToLower(targetName)) {
			target = other
			break
		}
	}
	if target == nil {
		e.sendError(s.ID, "There is no "+targetName+" here.")
		return
	}
	tmpl, _ := e.items.Template(iid)
	s.Player.Inventory = removeFromInventory(s.Player.Inventory, iid)
	e.items.PlaceInInventory(iid, target.ID)
	target.Player.Inventory = append(target.Player.Inventory, iid)
	e.sendText(s.ID, "You give "+tmpl.Name+" to "+target.Player.Name+".")
	e.sendText(target.ID, s.Player.Name+" gives you "+tmpl.Name+".")
	e.prompt(target.ID)
	e.gmcp.MarkDirty(s.ID, gmcp.CharItems)
	e.gmcp.MarkDirty(target.ID, gmcp.CharItems)
}
