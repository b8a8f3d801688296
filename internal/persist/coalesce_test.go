package persist

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/player"
)

// fakeRepo is an in-memory durable backend that counts writes and can be
// made to fail on demand.
type fakeRepo struct {
	mu      sync.Mutex
	byID    map[string]*player.Record
	nextID  int
	saves   int
	failing bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[string]*player.Record)}
}

func (f *fakeRepo) FindByName(_ context.Context, name string) (*player.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.byID {
		if strings.EqualFold(rec.Name, name) {
			return rec.Clone(), nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindByID(_ context.Context, pid string) (*player.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.byID[pid]; ok {
		return rec.Clone(), nil
	}
	return nil, nil
}

func (f *fakeRepo) Create(_ context.Context, rec *player.Record) (*player.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, have := range f.byID {
		if strings.EqualFold(have.Name, rec.Name) {
			return nil, ErrNameTaken
		}
	}
	f.nextID++
	out := rec.Clone()
	out.ID = id.PlayerID(strconv.Itoa(f.nextID))
	f.byID[string(out.ID)] = out.Clone()
	return out, nil
}

func (f *fakeRepo) Save(_ context.Context, rec *player.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("backend down")
	}
	f.saves++
	f.byID[string(rec.ID)] = rec.Clone()
	return nil
}

func (f *fakeRepo) Close(context.Context) error { return nil }

func (f *fakeRepo) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakeRepo) stored(pid string) *player.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.byID[pid]; ok {
		return rec.Clone()
	}
	return nil
}

func (f *fakeRepo) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func newTestCoalescer(t *testing.T, delegate PlayerRepository) *Coalescer {
	t.Helper()
	// Long interval so tests drive flushes explicitly.
	c := NewCoalescer(delegate, time.Hour, zap.NewNop())
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func TestCoalescerSaveDoesNotHitBackend(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoalescer(t, repo)
	ctx := context.Background()

	rec, err := c.Create(ctx, &player.Record{Name: "Ama", Gold: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 10; i++ {
		rec.Gold++
		if err := c.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if got := repo.saveCount(); got != 0 {
		t.Fatalf("backend saw %d saves before flush, want 0", got)
	}

	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := repo.saveCount(); got != 1 {
		t.Errorf("flush wrote %d times, want 1 coalesced write", got)
	}
	if stored := repo.stored(string(rec.ID)); stored == nil || stored.Gold != 11 {
		t.Errorf("stored record = %+v, want Gold 11", stored)
	}
}

func TestCoalescerReadsSeeUnflushedWrites(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoalescer(t, repo)
	ctx := context.Background()

	rec, err := c.Create(ctx, &player.Record{Name: "Bel", HP: 10})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec.HP = 3
	if err := c.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := c.FindByName(ctx, "bel")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if got == nil || got.HP != 3 {
		t.Errorf("FindByName returned %+v, want unflushed HP 3", got)
	}

	got, err = c.FindByID(ctx, string(rec.ID))
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got == nil || got.HP != 3 {
		t.Errorf("FindByID returned %+v, want unflushed HP 3", got)
	}
}

func TestCoalescerRetainsDirtyOnFailure(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoalescer(t, repo)
	ctx := context.Background()

	rec, err := c.Create(ctx, &player.Record{Name: "Cor", Gold: 5})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec.Gold = 99
	if err := c.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	repo.setFailing(true)
	if err := c.Flush(ctx); err == nil {
		t.Fatal("Flush succeeded against a failing backend")
	}

	repo.setFailing(false)
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush after recovery: %v", err)
	}
	if stored := repo.stored(string(rec.ID)); stored == nil || stored.Gold != 99 {
		t.Errorf("dirty record lost across failed flush: %+v", stored)
	}
}

func TestCoalescerFlushOne(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoalescer(t, repo)
	ctx := context.Background()

	a, _ := c.Create(ctx, &player.Record{Name: "Dax"})
	b, _ := c.Create(ctx, &player.Record{Name: "Eve"})
	a.Gold, b.Gold = 1, 2
	c.Save(ctx, a)
	c.Save(ctx, b)

	if err := c.FlushOne(ctx, string(a.ID)); err != nil {
		t.Fatalf("FlushOne: %v", err)
	}
	if got := repo.saveCount(); got != 1 {
		t.Errorf("FlushOne wrote %d records, want 1", got)
	}
	if stored := repo.stored(string(b.ID)); stored != nil && stored.Gold == 2 {
		t.Error("FlushOne flushed an unrelated record")
	}
}

func TestCoalescerCloseFlushesEverything(t *testing.T) {
	repo := newFakeRepo()
	c := NewCoalescer(repo, time.Hour, zap.NewNop())
	ctx := context.Background()

	rec, _ := c.Create(ctx, &player.Record{Name: "Fin"})
	rec.XPTotal = 777
	c.Save(ctx, rec)

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if stored := repo.stored(string(rec.ID)); stored == nil || stored.XPTotal != 777 {
		t.Errorf("Close lost a dirty record: %+v", stored)
	}
}
