// Package player holds per-player runtime state and the persistent record.
// Exactly one engine owns a session's State at any instant; the Record is
// what crosses the persistence and handoff boundaries.
package player

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/world"
)

type Attributes struct {
	Strength     int `json:"strength"`
	Dexterity    int `json:"dexterity"`
	Constitution int `json:"constitution"`
	Intelligence int `json:"intelligence"`
	Wisdom       int `json:"wisdom"`
	Charisma     int `json:"charisma"`
}

// State is the live, engine-owned view of a logged-in player.
type State struct {
	SessionID id.SessionID
	PlayerID  id.PlayerID
	Name      string
	RoomID    id.RoomID
	Race      string
	Class     string
	Attr      Attributes
	HP        int
	MaxHP     int
	Mana      int
	MaxMana   int
	Level     int
	XPTotal   int64
	Gold      int
	Ansi      bool
	IsStaff   bool

	Inventory []id.ItemID
	Equipped  map[world.EquipSlot]id.ItemID

	// KnownAbilities is derived from level/class at login and on level-up.
	KnownAbilities map[string]bool

	GroupID uint64 // 0 = ungrouped
}

var nameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{1,15}$`)

// ValidateName enforces the account name format: 2-16 chars, alphanumeric
// plus underscore, no leading digit.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("names are 2-16 letters, digits, or underscores and cannot start with a digit")
	}
	return nil
}

// bcrypt truncates beyond 72 bytes, so longer passwords are rejected rather
// than silently weakened.
const (
	MinPasswordLen = 4
	MaxPasswordLen = 72
)

func ValidatePassword(pw string) error {
	if strings.TrimSpace(pw) == "" {
		return fmt.Errorf("password cannot be blank")
	}
	if len(pw) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLen)
	}
	if len(pw) > MaxPasswordLen {
		return fmt.Errorf("password must be at most %d characters", MaxPasswordLen)
	}
	return nil
}

var Races = []string{"human", "elf", "dwarf", "orc"}

// RaceAttributes returns the starting attribute block for a race.
func RaceAttributes(race string) (Attributes, bool) {
	base := Attributes{Strength: 10, Dexterity: 10, Constitution: 10, Intelligence: 10, Wisdom: 10, Charisma: 10}
	switch strings.ToLower(race) {
	case "human":
		return base, true
	case "elf":
		base.Dexterity += 2
		base.Intelligence += 1
		base.Constitution -= 2
		return base, true
	case "dwarf":
		base.Constitution += 2
		base.Strength += 1
		base.Charisma -= 2
		return base, true
	case "orc":
		base.Strength += 2
		base.Constitution += 1
		base.Wisdom -= 2
		return base, true
	default:
		return Attributes{}, false
	}
}
