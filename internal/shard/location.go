package shard

import (
	"strconv"
	"strings"
	"time"

	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/kvstore"
)

const locationKeyPrefix = "loc."

// Location is where a player currently lives in the cluster.
type Location struct {
	EngineID  string
	SessionID id.SessionID
}

// LocationIndex is the distributed name -> engine map behind O(1) cross-engine
// tells. Entries expire unless heartbeated, so a crashed engine's players
// fall out on their own.
type LocationIndex struct {
	kv  kvstore.Store
	ttl time.Duration
}

func NewLocationIndex(kv kvstore.Store, ttl time.Duration) *LocationIndex {
	return &LocationIndex{kv: kv, ttl: ttl}
}

func (x *LocationIndex) key(name string) string {
	return locationKeyPrefix + strings.ToLower(name)
}

// Publish writes or refreshes a player's location. Called on login and on
// every heartbeat sweep.
func (x *LocationIndex) Publish(name string, loc Location) {
	x.kv.Set(x.key(name), loc.EngineID+"|"+sessionString(loc.SessionID), x.ttl)
}

// Lookup returns a player's location, false when absent or expired.
func (x *LocationIndex) Lookup(name string) (Location, bool) {
	v, ok := x.kv.Get(x.key(name))
	if !ok {
		return Location{}, false
	}
	eid, sid, ok := splitLocation(v)
	if !ok {
		return Location{}, false
	}
	return Location{EngineID: eid, SessionID: sid}, true
}

// Remove deletes a player's entry on logout or handoff departure.
func (x *LocationIndex) Remove(name string) {
	x.kv.Delete(x.key(name))
}

func sessionString(sid id.SessionID) string {
	return strconv.FormatUint(uint64(sid), 10)
}

func splitLocation(v string) (string, id.SessionID, bool) {
	eid, raw, ok := strings.Cut(v, "|")
	if !ok {
		return "", 0, false
	}
	sid, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return eid, id.SessionID(sid), true
}
