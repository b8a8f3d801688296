package player

import (
	"encoding/json"
	"time"

	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/world"
)

// ItemRecord is the durable form of one item instance.
type ItemRecord struct {
	InstanceID string `json:"instance_id"`
	TemplateID string `json:"template_id"`
}

// Record is everything required to resurrect a player on login. It is
// forward-compatible: fields a newer writer added survive a read-modify-write
// cycle through the Extra bag, and missing fields take zero defaults.
type Record struct {
	ID            id.PlayerID                 `json:"id"`
	Name          string                      `json:"name"`
	PasswordHash  string                      `json:"password_hash"`
	RoomID        id.RoomID                   `json:"room_id"`
	Race          string                      `json:"race"`
	Class         string                      `json:"class"`
	Attr          Attributes                  `json:"attributes"`
	HP            int                         `json:"hp"`
	MaxHP         int                         `json:"max_hp"`
	Mana          int                         `json:"mana"`
	MaxMana       int                         `json:"max_mana"`
	Level         int                         `json:"level"`
	XPTotal       int64                       `json:"xp_total"`
	Gold          int                         `json:"gold"`
	CreatedAt     time.Time                   `json:"created_at"`
	LastSeenAt    time.Time                   `json:"last_seen_at"`
	AnsiEnabled   bool                        `json:"ansi_enabled"`
	IsStaff       bool                        `json:"is_staff"`
	Inventory     []ItemRecord                `json:"inventory"`
	Equipment     map[string]ItemRecord       `json:"equipment"`
	Achievements  []string                    `json:"achievements"`
	QuestProgress map[string]string           `json:"quest_progress"`

	// Extra carries durable fields this build does not know about.
	Extra map[string]json.RawMessage `json:"-"`
}

var recordKnownKeys = map[string]bool{
	"id": true, "name": true, "password_hash": true, "room_id": true,
	"race": true, "class": true, "attributes": true,
	"hp": true, "max_hp": true, "mana": true, "max_mana": true,
	"level": true, "xp_total": true, "gold": true,
	"created_at": true, "last_seen_at": true,
	"ansi_enabled": true, "is_staff": true,
	"inventory": true, "equipment": true,
	"achievements": true, "quest_progress": true,
}

func (r *Record) UnmarshalJSON(b []byte) error {
	type alias Record
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for k, v := range all {
		if !recordKnownKeys[k] {
			if a.Extra == nil {
				a.Extra = make(map[string]json.RawMessage)
			}
			a.Extra[k] = v
		}
	}
	*r = Record(a)
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	type alias Record
	b, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return b, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, exists := all[k]; !exists {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// Clone returns a deep copy so the coalescing layer can cache records without
// aliasing engine-held state.
func (r *Record) Clone() *Record {
	c := *r
	c.Inventory = append([]ItemRecord(nil), r.Inventory...)
	if r.Equipment != nil {
		c.Equipment = make(map[string]ItemRecord, len(r.Equipment))
		for k, v := range r.Equipment {
			c.Equipment[k] = v
		}
	}
	c.Achievements = append([]string(nil), r.Achievements...)
	if r.QuestProgress != nil {
		c.QuestProgress = make(map[string]string, len(r.QuestProgress))
		for k, v := range r.QuestProgress {
			c.QuestProgress[k] = v
		}
	}
	if r.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// ApplyTo copies the record's durable fields onto a live State.
func (r *Record) ApplyTo(st *State) {
	st.PlayerID = r.ID
	st.Name = r.Name
	st.RoomID = r.RoomID
	st.Race = r.Race
	st.Class = r.Class
	st.Attr = r.Attr
	st.HP = r.HP
	st.MaxHP = r.MaxHP
	st.Mana = r.Mana
	st.MaxMana = r.MaxMana
	st.Level = r.Level
	st.XPTotal = r.XPTotal
	st.Gold = r.Gold
	st.Ansi = r.AnsiEnabled
	st.IsStaff = r.IsStaff
}

// CaptureFrom refreshes the record's mutable fields from a live State.
// Inventory and equipment are captured by the caller, which owns item
// instance bookkeeping.
func (r *Record) CaptureFrom(st *State, now time.Time) {
	r.RoomID = st.RoomID
	r.Attr = st.Attr
	r.HP = st.HP
	r.MaxHP = st.MaxHP
	r.Mana = st.Mana
	r.MaxMana = st.MaxMana
	r.Level = st.Level
	r.XPTotal = st.XPTotal
	r.Gold = st.Gold
	r.AnsiEnabled = st.Ansi
	r.IsStaff = st.IsStaff
	r.LastSeenAt = now
}

// EquipmentSlots converts the durable equipment map to runtime slot keys.
func (r *Record) EquipmentSlots() map[world.EquipSlot]ItemRecord {
	out := make(map[world.EquipSlot]ItemRecord, len(r.Equipment))
	for k, v := range r.Equipment {
		out[world.EquipSlot(k)] = v
	}
	return out
}
