package engine

import (
	"fmt"

	"github.com/ambonmud/server/internal/gmcp"
)

// vendorInRoom finds the merchant the player is standing next to.
func (e *Engine) vendorInRoom(s *Session) *Mob {
	for _, m := range e.mobs.InRoom(s.Player.RoomID) {
		if m.IsVendor() {
			return m
		}
	}
	return nil
}

// sellbackDivisor: vendors pay half the list price.
const sellbackDivisor = 2

func (e *Engine) cmdListGoods(s *Session) {
	vendor := e.vendorInRoom(s)
	if vendor == nil {
		e.sendError(s.ID, "There is no merchant here.")
		return
	}
	e.sendText(s.ID, vendor.Name()+" offers:")
	for _, tid := range vendor.Spawn.Stock {
		tmpl, ok := e.world.Template(tid)
		if !ok {
			continue
		}
		e.sendText(s.ID, fmt.Sprintf("  %-24s %d gold", tmpl.Name, tmpl.Value))
	}
}

func (e *Engine) cmdBuy(s *Session, keyword string) {
	vendor := e.vendorInRoom(s)
	if vendor == nil {
		e.sendError(s.ID, "There is no merchant here.")
		return
	}
	for _, tid := range vendor.Spawn.Stock {
		tmpl, ok := e.world.Template(tid)
		if !ok || !matchesTemplate(tmpl, keyword) {
			continue
		}
		if s.Player.Gold < tmpl.Value {
			e.sendError(s.ID, fmt.Sprintf("You cannot afford %s (%d gold, you have %d).", tmpl.Name, tmpl.Value, s.Player.Gold))
			return
		}
		inst, ok := e.items.Create(s.Player.RoomID.Zone(), tid)
		if !ok {
			e.sendError(s.ID, "The merchant fumbles the goods.")
			return
		}
		s.Player.Gold -= tmpl.Value
		e.items.PlaceInInventory(inst.ID, s.ID)
		s.Player.Inventory = append(s.Player.Inventory, inst.ID)
		e.sendText(s.ID, fmt.Sprintf("You buy %s for %d gold.", tmpl.Name, tmpl.Value))
		e.broadcastRoom(s.Player.RoomID, s.Player.Name+" buys "+tmpl.Name+".", s.ID)
		e.gmcp.MarkDirty(s.ID, gmcp.CharItems)
		return
	}
	e.sendError(s.ID, "The merchant does not sell that.")
}

func (e *Engine) cmdSell(s *Session, keyword string) {
	vendor := e.vendorInRoom(s)
	if vendor == nil {
		e.sendError(s.ID, "There is no merchant here.")
		return
	}
	iid, ok := e.items.MatchIn(s.Player.Inventory, keyword)
	if !ok {
		e.sendError(s.ID, "You are not carrying a "+keyword+".")
		return
	}
	tmpl, _ := e.items.Template(iid)
	price := tmpl.Value / sellbackDivisor
	if price < 1 {
		e.sendError(s.ID, "The merchant sniffs: worthless.")
		return
	}
	s.Player.Inventory = removeFromInventory(s.Player.Inventory, iid)
	e.items.Destroy(iid)
	s.Player.Gold += price
	e.sendText(s.ID, fmt.Sprintf("You sell %s for %d gold.", tmpl.Name, price))
	e.broadcastRoom(s.Player.RoomID, s.Player.Name+" sells "+tmpl.Name+".", s.ID)
	e.gmcp.MarkDirty(s.ID, gmcp.CharItems)
}
