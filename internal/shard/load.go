package shard

import (
	"encoding/json"
	"math/rand"
	"time"

	"github.com/ambonmud/server/internal/clock"
	"github.com/ambonmud/server/internal/kvstore"
)

const loadKeyPrefix = "load."

// LoadSnapshot is one engine's periodic self-report, used to pick a target
// among replicated-entry claimants.
type LoadSnapshot struct {
	EngineID       string `json:"engine_id"`
	ActiveSessions int    `json:"active_sessions"`
	InTransit      int    `json:"in_transit"`
	QueueDepth     int    `json:"queue_depth"`
	AtMillis       int64  `json:"at_millis"`
}

func (s LoadSnapshot) score() int {
	return s.ActiveSessions + 2*s.InTransit + s.QueueDepth
}

// LoadBoard publishes and reads load snapshots through the KV store.
type LoadBoard struct {
	kv  kvstore.Store
	ttl time.Duration
	clk clock.Clock
}

func NewLoadBoard(kv kvstore.Store, ttl time.Duration, clk clock.Clock) *LoadBoard {
	return &LoadBoard{kv: kv, ttl: ttl, clk: clk}
}

func (b *LoadBoard) Publish(s LoadSnapshot) {
	s.AtMillis = b.clk.NowMillis()
	payload, err := json.Marshal(s)
	if err != nil {
		return
	}
	b.kv.Set(loadKeyPrefix+s.EngineID, string(payload), b.ttl)
}

func (b *LoadBoard) Snapshot(engineID string) (LoadSnapshot, bool) {
	v, ok := b.kv.Get(loadKeyPrefix + engineID)
	if !ok {
		return LoadSnapshot{}, false
	}
	var s LoadSnapshot
	if err := json.Unmarshal([]byte(v), &s); err != nil {
		return LoadSnapshot{}, false
	}
	return s, true
}

// Selector picks a target engine among replicated-entry claimants using
// power-of-two-choices over recent load snapshots. Stale or missing
// telemetry falls back to a random pick.
type Selector struct {
	board *LoadBoard
	rng   *rand.Rand
}

func NewSelector(board *LoadBoard, seed int64) *Selector {
	return &Selector{board: board, rng: rand.New(rand.NewSource(seed))}
}

// Pick returns one assignment from candidates. Empty input returns false.
func (s *Selector) Pick(candidates []Assignment) (Assignment, bool) {
	switch len(candidates) {
	case 0:
		return Assignment{}, false
	case 1:
		return candidates[0], true
	}

	i := s.rng.Intn(len(candidates))
	j := s.rng.Intn(len(candidates) - 1)
	if j >= i {
		j++
	}
	a, b := candidates[i], candidates[j]

	sa, okA := s.board.Snapshot(a.EngineID)
	sb, okB := s.board.Snapshot(b.EngineID)
	switch {
	case okA && okB:
		if sb.score() < sa.score() {
			return b, true
		}
		return a, true
	case okA:
		return a, true
	case okB:
		return b, true
	default:
		// No telemetry at all: random fallback.
		return candidates[s.rng.Intn(len(candidates))], true
	}
}
