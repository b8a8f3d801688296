package id

import (
	"fmt"
	"strings"
)

// World entity identifiers are zone-qualified: "<zone>:<local>". The zone
// prefix is what the sharding layer partitions on, so construction without a
// separator is an error, never a silent default.

type ZoneID string

type RoomID string

type MobID string

type ItemID string

// PlayerID identifies a persistent account record (not zone-qualified).
type PlayerID string

// SessionID is globally unique across the cluster.
type SessionID uint64

func parseQualified(kind, raw string) (ZoneID, string, error) {
	zone, local, ok := strings.Cut(raw, ":")
	if !ok {
		return "", "", fmt.Errorf("%s id %q: missing zone separator", kind, raw)
	}
	if zone == "" || local == "" {
		return "", "", fmt.Errorf("%s id %q: empty zone or local part", kind, raw)
	}
	return ZoneID(zone), local, nil
}

func ParseRoomID(raw string) (RoomID, error) {
	if _, _, err := parseQualified("room", raw); err != nil {
		return "", err
	}
	return RoomID(raw), nil
}

func ParseMobID(raw string) (MobID, error) {
	if _, _, err := parseQualified("mob", raw); err != nil {
		return "", err
	}
	return MobID(raw), nil
}

func ParseItemID(raw string) (ItemID, error) {
	if _, _, err := parseQualified("item", raw); err != nil {
		return "", err
	}
	return ItemID(raw), nil
}

func (r RoomID) Zone() ZoneID { return zoneOf(string(r)) }
func (m MobID) Zone() ZoneID  { return zoneOf(string(m)) }
func (i ItemID) Zone() ZoneID { return zoneOf(string(i)) }

func zoneOf(raw string) ZoneID {
	zone, _, _ := strings.Cut(raw, ":")
	return ZoneID(zone)
}

// Qualify builds a zone-qualified id from parts.
func Qualify(zone ZoneID, local string) string {
	return string(zone) + ":" + local
}
