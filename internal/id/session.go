package id

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ambonmud/server/internal/clock"
)

// SessionAllocator hands out cluster-unique session ids.
type SessionAllocator interface {
	Next() (SessionID, error)
}

// Counter is the single-process allocator: a plain monotonic counter.
type Counter struct {
	next atomic.Uint64
}

func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) Next() (SessionID, error) {
	return SessionID(c.next.Add(1)), nil
}

// Snowflake packs [16b gatewayID][32b unix seconds][16b sequence] so multiple
// gateways can allocate without coordination. The gateway id must be held as
// an exclusive lease before this allocator is constructed.
type Snowflake struct {
	gatewayID uint16
	clk       clock.Clock

	mu       sync.Mutex
	lastSec  int64
	sequence uint32
}

func NewSnowflake(gatewayID uint16, clk clock.Clock) *Snowflake {
	return &Snowflake{gatewayID: gatewayID, clk: clk}
}

func (s *Snowflake) Next() (SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec := s.clk.NowMillis() / 1000
	if sec < s.lastSec {
		// Wall clock went backwards. Ids from the future second may already
		// be in flight, so allocation must fail loudly rather than risk reuse.
		return 0, fmt.Errorf("session id: clock regression detected (now=%d last=%d)", sec, s.lastSec)
	}
	if sec > s.lastSec {
		s.lastSec = sec
		s.sequence = 0
	}
	if s.sequence > 0xFFFF {
		// Sequence exhausted within this second: spin until the clock moves.
		for {
			now := s.clk.NowMillis() / 1000
			if now < s.lastSec {
				return 0, fmt.Errorf("session id: clock regression detected during sequence wait")
			}
			if now > s.lastSec {
				s.lastSec = now
				s.sequence = 0
				break
			}
		}
	}
	seq := s.sequence
	s.sequence++

	packed := uint64(s.gatewayID)<<48 | uint64(uint32(s.lastSec))<<16 | uint64(uint16(seq))
	return SessionID(packed), nil
}

// GatewayOf extracts the gateway component of a snowflake session id.
func GatewayOf(sid SessionID) uint16 {
	return uint16(uint64(sid) >> 48)
}
