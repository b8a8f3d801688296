package engine

import (
	"encoding/json"

	"github.com/ambonmud/server/internal/gmcp"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/world"
)

// GMCP payload shapes. Field names follow the conventional package formats
// clients already parse.

type gmcpVitals struct {
	HP      int `json:"hp"`
	MaxHP   int `json:"maxhp"`
	Mana    int `json:"mp"`
	MaxMana int `json:"maxmp"`
}

type gmcpStatus struct {
	Name     string `json:"name"`
	Level    int    `json:"level"`
	Class    string `json:"class"`
	Race     string `json:"race"`
	XP       int64  `json:"xp"`
	Gold     int    `json:"gold"`
	Fighting string `json:"fighting,omitempty"`
}

type gmcpAffliction struct {
	Name      string `json:"name"`
	Stacks    int    `json:"stacks"`
	RemainsMS int64  `json:"remains_ms"`
}

type gmcpItem struct {
	Name string `json:"name"`
	Slot string `json:"slot,omitempty"`
}

type gmcpRoom struct {
	ID    string   `json:"num"`
	Name  string   `json:"name"`
	Zone  string   `json:"zone"`
	Exits []string `json:"exits"`
}

// flushGmcp emits one event per dirty package per session at the tick
// boundary, so a burst of vitals changes collapses into a single update.
func (e *Engine) flushGmcp() {
	for _, ev := range e.gmcp.Flush(e.composeGmcp) {
		e.emit(ev)
	}
}

func (e *Engine) composeGmcp(sid id.SessionID, pkg string) (json.RawMessage, bool) {
	s, ok := e.sessions.Get(sid)
	if !ok || s.Phase != phasePlaying {
		return nil, false
	}
	st := s.Player
	var payload any
	switch pkg {
	case gmcp.CharVitals:
		payload = gmcpVitals{HP: st.HP, MaxHP: st.MaxHP, Mana: st.Mana, MaxMana: st.MaxMana}
	case gmcp.CharStatus:
		gs := gmcpStatus{
			Name:  st.Name,
			Level: st.Level,
			Class: st.Class,
			Race:  st.Race,
			XP:    st.XPTotal,
			Gold:  st.Gold,
		}
		if m, ok := e.mobs.Get(s.Fighting); ok {
			gs.Fighting = m.Name()
		}
		payload = gs
	case gmcp.CharAfflictions:
		now := e.clk.NowMillis()
		list := make([]gmcpAffliction, 0, len(s.Effects))
		for _, fx := range s.Effects {
			list = append(list, gmcpAffliction{
				Name:      fx.Cfg.DisplayName,
				Stacks:    fx.Stacks,
				RemainsMS: fx.ExpiresAt - now,
			})
		}
		payload = list
	case gmcp.CharItems:
		list := make([]gmcpItem, 0, len(st.Inventory)+len(st.Equipped))
		for _, iid := range st.Inventory {
			if tmpl, ok := e.items.Template(iid); ok {
				list = append(list, gmcpItem{Name: tmpl.Name})
			}
		}
		for slot, iid := range st.Equipped {
			if tmpl, ok := e.items.Template(iid); ok {
				list = append(list, gmcpItem{Name: tmpl.Name, Slot: string(slot)})
			}
		}
		payload = list
	default:
		return nil, false
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	return b, true
}

// pushRoomInfo emits Room.Info immediately on movement; room changes are
// never coalesced because ordering against room text matters.
func (e *Engine) pushRoomInfo(s *Session) {
	if !e.gmcp.Subscribed(s.ID, gmcp.RoomInfo) {
		return
	}
	room := e.world.Room(s.Player.RoomID)
	if room == nil {
		return
	}
	payload, err := json.Marshal(roomPayload(room))
	if err != nil {
		return
	}
	if ev := e.gmcp.Immediate(s.ID, gmcp.RoomInfo, payload); ev != nil {
		e.emit(*ev)
	}
}

func roomPayload(room *world.Room) gmcpRoom {
	exits := make([]string, 0, len(room.Exits))
	for d := range room.Exits {
		exits = append(exits, d.String())
	}
	return gmcpRoom{
		ID:    string(room.ID),
		Name:  room.Title,
		Zone:  string(room.ID.Zone()),
		Exits: exits,
	}
}
