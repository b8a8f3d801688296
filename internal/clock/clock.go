package clock

import (
	"sync/atomic"
	"time"
)

// Clock abstracts time reads so the engine and its tests share one source.
// All subsystem scheduling goes through NowMillis; Monotonic is for durations.
type Clock interface {
	NowMillis() int64
	Monotonic() time.Duration
	Now() time.Time
}

// System reads the wall clock.
type System struct {
	start time.Time
}

func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) NowMillis() int64          { return time.Now().UnixMilli() }
func (s *System) Monotonic() time.Duration  { return time.Since(s.start) }
func (s *System) Now() time.Time            { return time.Now() }

// Manual is a test clock advanced explicitly. Safe for concurrent reads.
type Manual struct {
	millis atomic.Int64
}

func NewManual(startMillis int64) *Manual {
	m := &Manual{}
	m.millis.Store(startMillis)
	return m
}

func (m *Manual) NowMillis() int64         { return m.millis.Load() }
func (m *Manual) Monotonic() time.Duration { return time.Duration(m.millis.Load()) * time.Millisecond }
func (m *Manual) Now() time.Time           { return time.UnixMilli(m.millis.Load()) }

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.millis.Add(d.Milliseconds())
}

// Set jumps the clock to an absolute millisecond timestamp.
func (m *Manual) Set(millis int64) {
	m.millis.Store(millis)
}
