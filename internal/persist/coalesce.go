package persist

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/player"
)

// Coalescer is the write-coalescing layer. Save marks the record dirty in
// memory and returns immediately; a background worker flushes dirty records
// on an interval, writing only what changed. The engine never waits on a
// durable write.
type Coalescer struct {
	delegate PlayerRepository
	interval time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	cache  map[string]*player.Record // id -> latest record
	byName map[string]string         // lowercase name -> id
	dirty  map[string]bool

	breaker *gobreaker.CircuitBreaker
	stop    chan struct{}
	done    chan struct{}
}

func NewCoalescer(delegate PlayerRepository, interval time.Duration, log *zap.Logger) *Coalescer {
	c := &Coalescer{
		delegate: delegate,
		interval: interval,
		log:      log,
		cache:    make(map[string]*player.Record),
		byName:   make(map[string]string),
		dirty:    make(map[string]bool),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "persist-durable",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	go c.flushLoop()
	return c
}

func (c *Coalescer) FindByName(ctx context.Context, name string) (*player.Record, error) {
	c.mu.Lock()
	if pid, ok := c.byName[strings.ToLower(name)]; ok {
		rec := c.cache[pid].Clone()
		c.mu.Unlock()
		return rec, nil
	}
	c.mu.Unlock()

	rec, err := c.delegate.FindByName(ctx, name)
	if err != nil || rec == nil {
		return rec, err
	}
	c.remember(rec)
	return rec, nil
}

func (c *Coalescer) FindByID(ctx context.Context, id string) (*player.Record, error) {
	c.mu.Lock()
	if rec, ok := c.cache[id]; ok {
		out := rec.Clone()
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	rec, err := c.delegate.FindByID(ctx, id)
	if err != nil || rec == nil {
		return rec, err
	}
	c.remember(rec)
	return rec, nil
}

// Create goes straight through: id allocation and the uniqueness check must
// be atomic at the durable layer.
func (c *Coalescer) Create(ctx context.Context, rec *player.Record) (*player.Record, error) {
	created, err := c.delegate.Create(ctx, rec)
	if err != nil {
		return nil, err
	}
	c.remember(created)
	return created, nil
}

// Save marks the record dirty and updates the in-memory copy. No I/O.
func (c *Coalescer) Save(_ context.Context, rec *player.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[string(rec.ID)] = rec.Clone()
	c.byName[strings.ToLower(rec.Name)] = string(rec.ID)
	c.dirty[string(rec.ID)] = true
	return nil
}

// Flush synchronously writes every dirty record. Called at shutdown and
// before a handoff leaves the engine.
func (c *Coalescer) Flush(ctx context.Context) error {
	return c.flush(ctx)
}

// FlushOne forces a single record to durable storage immediately.
func (c *Coalescer) FlushOne(ctx context.Context, pid string) error {
	c.mu.Lock()
	rec, ok := c.cache[pid]
	if !ok || !c.dirty[pid] {
		c.mu.Unlock()
		return nil
	}
	out := rec.Clone()
	c.mu.Unlock()

	if err := c.writeDurable(ctx, out); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.dirty, pid)
	c.mu.Unlock()
	return nil
}

func (c *Coalescer) Close(ctx context.Context) error {
	close(c.stop)
	<-c.done
	if err := c.flush(ctx); err != nil {
		return err
	}
	return c.delegate.Close(ctx)
}

func (c *Coalescer) remember(rec *player.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A dirty in-memory copy is newer than anything the delegate returned.
	if c.dirty[string(rec.ID)] {
		return
	}
	c.cache[string(rec.ID)] = rec.Clone()
	c.byName[strings.ToLower(rec.Name)] = string(rec.ID)
}

func (c *Coalescer) flushLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.interval)
			if err := c.flush(ctx); err != nil {
				c.log.Warn("persist: flush failed, dirty entries retained", zap.Error(err))
			}
			cancel()
		case <-c.stop:
			return
		}
	}
}

// flush writes all dirty records. Failed writes stay dirty for the next
// cycle; the breaker keeps a dead backend from stalling every interval.
func (c *Coalescer) flush(ctx context.Context) error {
	c.mu.Lock()
	batch := make([]*player.Record, 0, len(c.dirty))
	for pid := range c.dirty {
		if rec, ok := c.cache[pid]; ok {
			batch = append(batch, rec.Clone())
		}
	}
	c.mu.Unlock()

	var firstErr error
	for _, rec := range batch {
		if err := c.writeDurable(ctx, rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.mu.Lock()
		delete(c.dirty, string(rec.ID))
		c.mu.Unlock()
	}
	return firstErr
}

func (c *Coalescer) writeDurable(ctx context.Context, rec *player.Record) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.delegate.Save(ctx, rec)
	})
	return err
}
