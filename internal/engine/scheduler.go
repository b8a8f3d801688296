package engine

import (
	"container/heap"
)

// Scheduler is a min-heap of due-time callbacks: mob respawns, zone resets,
// delayed broadcasts. The engine drains it once per tick with a cap so a
// burst of due work cannot starve the tick.
type Scheduler struct {
	entries schedHeap
	seq     uint64

	// OnPanic observes a recovered callback panic. The rest of the due
	// batch runs regardless.
	OnPanic func(recovered any)
}

type schedEntry struct {
	dueAt int64 // millis
	seq   uint64
	fn    func()
}

type schedHeap []schedEntry

func (h schedHeap) Len() int { return len(h) }
func (h schedHeap) Less(i, j int) bool {
	if h[i].dueAt != h[j].dueAt {
		return h[i].dueAt < h[j].dueAt
	}
	return h[i].seq < h[j].seq
}
func (h schedHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *schedHeap) Push(x any)        { *h = append(*h, x.(schedEntry)) }
func (h *schedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// At schedules fn to run once dueAt has passed. Entries with equal due times
// run in insertion order.
func (s *Scheduler) At(dueAt int64, fn func()) {
	s.seq++
	heap.Push(&s.entries, schedEntry{dueAt: dueAt, seq: s.seq, fn: fn})
}

// RunDue executes up to maxPerTick due callbacks and returns (ran, deferred)
// where deferred counts due entries left for the next tick. A panicking
// callback is recovered in place so the rest of the due batch still runs.
func (s *Scheduler) RunDue(now int64, maxPerTick int) (ran, deferred int) {
	for len(s.entries) > 0 && s.entries[0].dueAt <= now {
		if ran >= maxPerTick {
			for _, e := range s.entries {
				if e.dueAt <= now {
					deferred++
				}
			}
			return ran, deferred
		}
		e := heap.Pop(&s.entries).(schedEntry)
		s.invoke(e.fn)
		ran++
	}
	return ran, 0
}

func (s *Scheduler) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil && s.OnPanic != nil {
			s.OnPanic(r)
		}
	}()
	fn()
}

// Len is the number of pending entries.
func (s *Scheduler) Len() int { return len(s.entries) }
