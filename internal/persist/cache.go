package persist

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/player"
)

// Cached wraps a durable repository with a TTL LRU. Cache faults never fail
// a lookup; they degrade to the delegate.
type Cached struct {
	delegate PlayerRepository
	log      *zap.Logger

	byID *expirable.LRU[string, *player.Record]

	mu     sync.Mutex
	byName map[string]string // lowercase name -> id
}

func NewCached(delegate PlayerRepository, size int, ttl time.Duration, log *zap.Logger) *Cached {
	c := &Cached{
		delegate: delegate,
		log:      log,
		byName:   make(map[string]string),
	}
	c.byID = expirable.NewLRU[string, *player.Record](size, func(_ string, rec *player.Record) {
		c.mu.Lock()
		delete(c.byName, strings.ToLower(rec.Name))
		c.mu.Unlock()
	}, ttl)
	return c
}

func (c *Cached) FindByName(ctx context.Context, name string) (*player.Record, error) {
	c.mu.Lock()
	pid, ok := c.byName[strings.ToLower(name)]
	c.mu.Unlock()
	if ok {
		if rec, hit := c.byID.Get(pid); hit {
			return rec.Clone(), nil
		}
	}
	rec, err := c.delegate.FindByName(ctx, name)
	if err != nil || rec == nil {
		return rec, err
	}
	c.put(rec)
	return rec, nil
}

func (c *Cached) FindByID(ctx context.Context, id string) (*player.Record, error) {
	if rec, hit := c.byID.Get(id); hit {
		return rec.Clone(), nil
	}
	rec, err := c.delegate.FindByID(ctx, id)
	if err != nil || rec == nil {
		return rec, err
	}
	c.put(rec)
	return rec, nil
}

func (c *Cached) Create(ctx context.Context, rec *player.Record) (*player.Record, error) {
	created, err := c.delegate.Create(ctx, rec)
	if err != nil {
		return nil, err
	}
	c.put(created)
	return created, nil
}

func (c *Cached) Save(ctx context.Context, rec *player.Record) error {
	if err := c.delegate.Save(ctx, rec); err != nil {
		// Drop the stale entry so the next read refetches.
		c.byID.Remove(string(rec.ID))
		return err
	}
	c.put(rec)
	return nil
}

func (c *Cached) Close(ctx context.Context) error {
	return c.delegate.Close(ctx)
}

func (c *Cached) put(rec *player.Record) {
	c.byID.Add(string(rec.ID), rec.Clone())
	c.mu.Lock()
	c.byName[strings.ToLower(rec.Name)] = string(rec.ID)
	c.mu.Unlock()
}
