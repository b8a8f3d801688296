package shard

import (
	"fmt"
	"strings"
	"time"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/kvstore"
)

// ZoneMode controls how many engines may claim a zone.
type ZoneMode int

const (
	// SingleOwner permits exactly one claim; the claim is authoritative.
	SingleOwner ZoneMode = iota
	// ReplicatedEntry permits concurrent claims; routing picks one per
	// incoming session. In-zone simulation is not shared between replicas.
	ReplicatedEntry
)

// Assignment is one engine's claim on a zone.
type Assignment struct {
	Zone     id.ZoneID
	EngineID string
	Addr     string
}

// Registry answers zone ownership questions.
type Registry interface {
	// OwnerOf returns an authoritative claim for a SINGLE_OWNER zone, or
	// any claim for a replicated one. False when nobody owns the zone.
	OwnerOf(zone id.ZoneID) (Assignment, bool)
	// Claimants returns every live claim on a zone.
	Claimants(zone id.ZoneID) []Assignment
	// ClaimZones registers this engine's ownership. For SINGLE_OWNER zones a
	// conflicting live claim is an error.
	ClaimZones(engineID, addr string, zones []id.ZoneID) error
	// RenewLease refreshes this engine's claims. No-op for static registries.
	RenewLease(engineID string) error
	AllAssignments() []Assignment
	Mode(zone id.ZoneID) ZoneMode
}

// StaticRegistry serves assignments straight from config. Leasing is a no-op.
type StaticRegistry struct {
	owners     map[id.ZoneID]Assignment
	replicated map[id.ZoneID]bool
}

func NewStaticRegistry(cfg config.ShardingConfig) *StaticRegistry {
	r := &StaticRegistry{
		owners:     make(map[id.ZoneID]Assignment),
		replicated: make(map[id.ZoneID]bool),
	}
	for zone, addr := range cfg.StaticZones {
		r.owners[id.ZoneID(zone)] = Assignment{
			Zone:     id.ZoneID(zone),
			EngineID: addr,
			Addr:     addr,
		}
	}
	for _, zone := range cfg.ReplicatedZones {
		r.replicated[id.ZoneID(zone)] = true
	}
	return r
}

func (r *StaticRegistry) OwnerOf(zone id.ZoneID) (Assignment, bool) {
	a, ok := r.owners[zone]
	return a, ok
}

func (r *StaticRegistry) Claimants(zone id.ZoneID) []Assignment {
	if a, ok := r.owners[zone]; ok {
		return []Assignment{a}
	}
	return nil
}

func (r *StaticRegistry) ClaimZones(engineID, addr string, zones []id.ZoneID) error {
	for _, z := range zones {
		r.owners[z] = Assignment{Zone: z, EngineID: engineID, Addr: addr}
	}
	return nil
}

func (r *StaticRegistry) RenewLease(string) error { return nil }

func (r *StaticRegistry) AllAssignments() []Assignment {
	out := make([]Assignment, 0, len(r.owners))
	for _, a := range r.owners {
		out = append(out, a)
	}
	return out
}

func (r *StaticRegistry) Mode(zone id.ZoneID) ZoneMode {
	if r.replicated[zone] {
		return ReplicatedEntry
	}
	return SingleOwner
}

// Key layout for the leased registry. Owner keys are exclusive (SetNX);
// replica keys are one per engine.
const (
	ownerKeyPrefix   = "zone.owner."
	replicaKeyPrefix = "zone.replica."
)

// LeasedRegistry keeps ownership in TTL keys so claims expire when an
// engine stops renewing.
type LeasedRegistry struct {
	kv         kvstore.Store
	ttl        time.Duration
	replicated map[id.ZoneID]bool

	claimed map[string][]string // engineID -> keys to renew
}

func NewLeasedRegistry(kv kvstore.Store, cfg config.ShardingConfig) *LeasedRegistry {
	r := &LeasedRegistry{
		kv:         kv,
		ttl:        cfg.LeaseTTL.Duration,
		replicated: make(map[id.ZoneID]bool),
		claimed:    make(map[string][]string),
	}
	for _, zone := range cfg.ReplicatedZones {
		r.replicated[id.ZoneID(zone)] = true
	}
	return r
}

func leaseValue(engineID, addr string) string { return engineID + "|" + addr }

func parseLease(v string) (engineID, addr string) {
	engineID, addr, _ = strings.Cut(v, "|")
	return engineID, addr
}

func (r *LeasedRegistry) OwnerOf(zone id.ZoneID) (Assignment, bool) {
	if r.replicated[zone] {
		claims := r.Claimants(zone)
		if len(claims) == 0 {
			return Assignment{}, false
		}
		return claims[0], true
	}
	v, ok := r.kv.Get(ownerKeyPrefix + string(zone))
	if !ok {
		return Assignment{}, false
	}
	eid, addr := parseLease(v)
	return Assignment{Zone: zone, EngineID: eid, Addr: addr}, true
}

func (r *LeasedRegistry) Claimants(zone id.ZoneID) []Assignment {
	if !r.replicated[zone] {
		if a, ok := r.OwnerOf(zone); ok {
			return []Assignment{a}
		}
		return nil
	}
	prefix := replicaKeyPrefix + string(zone) + "."
	var out []Assignment
	for _, key := range r.kv.Keys(prefix) {
		if v, ok := r.kv.Get(key); ok {
			eid, addr := parseLease(v)
			out = append(out, Assignment{Zone: zone, EngineID: eid, Addr: addr})
		}
	}
	return out
}

func (r *LeasedRegistry) ClaimZones(engineID, addr string, zones []id.ZoneID) error {
	for _, zone := range zones {
		var key string
		if r.replicated[zone] {
			key = replicaKeyPrefix + string(zone) + "." + engineID
			r.kv.Set(key, leaseValue(engineID, addr), r.ttl)
		} else {
			key = ownerKeyPrefix + string(zone)
			if !r.kv.SetNX(key, leaseValue(engineID, addr), r.ttl) {
				if v, ok := r.kv.Get(key); ok {
					if holder, _ := parseLease(v); holder == engineID {
						r.kv.Set(key, leaseValue(engineID, addr), r.ttl)
						r.claimed[engineID] = append(r.claimed[engineID], key)
						continue
					}
				}
				return fmt.Errorf("zone %s already claimed", zone)
			}
		}
		r.claimed[engineID] = append(r.claimed[engineID], key)
	}
	return nil
}

func (r *LeasedRegistry) RenewLease(engineID string) error {
	var lost []string
	for _, key := range r.claimed[engineID] {
		if !r.kv.Expire(key, r.ttl) {
			lost = append(lost, key)
		}
	}
	if len(lost) > 0 {
		return fmt.Errorf("leases expired before renewal: %s", strings.Join(lost, ", "))
	}
	return nil
}

func (r *LeasedRegistry) AllAssignments() []Assignment {
	var out []Assignment
	for _, key := range r.kv.Keys(ownerKeyPrefix) {
		zone := id.ZoneID(strings.TrimPrefix(key, ownerKeyPrefix))
		if v, ok := r.kv.Get(key); ok {
			eid, addr := parseLease(v)
			out = append(out, Assignment{Zone: zone, EngineID: eid, Addr: addr})
		}
	}
	for _, key := range r.kv.Keys(replicaKeyPrefix) {
		rest := strings.TrimPrefix(key, replicaKeyPrefix)
		zone, _, ok := strings.Cut(rest, ".")
		if !ok {
			continue
		}
		if v, exists := r.kv.Get(key); exists {
			eid, addr := parseLease(v)
			out = append(out, Assignment{Zone: id.ZoneID(zone), EngineID: eid, Addr: addr})
		}
	}
	return out
}

func (r *LeasedRegistry) Mode(zone id.ZoneID) ZoneMode {
	if r.replicated[zone] {
		return ReplicatedEntry
	}
	return SingleOwner
}
