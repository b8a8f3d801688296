package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/player"
)

// FileRepo stores one JSON document per player under dir, plus a counter
// file for id allocation. Writes go through a temp file and rename so a
// crash mid-write never truncates a record.
type FileRepo struct {
	dir string
	log *zap.Logger

	mu     sync.Mutex
	nextID int64
	byName map[string]string // lowercase name -> id
}

func NewFileRepo(dir string, log *zap.Logger) (*FileRepo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create dir: %w", err)
	}
	r := &FileRepo{dir: dir, log: log, byName: make(map[string]string)}
	if err := r.loadCounter(); err != nil {
		return nil, err
	}
	if err := r.buildNameIndex(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRepo) FindByName(ctx context.Context, name string) (*player.Record, error) {
	r.mu.Lock()
	pid, ok := r.byName[strings.ToLower(name)]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return r.FindByID(ctx, pid)
}

func (r *FileRepo) FindByID(_ context.Context, pid string) (*player.Record, error) {
	b, err := os.ReadFile(r.recordPath(pid))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read %s: %w", pid, err)
	}
	var rec player.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("persist: decode %s: %w", pid, err)
	}
	return &rec, nil
}

func (r *FileRepo) Create(_ context.Context, rec *player.Record) (*player.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lower := strings.ToLower(rec.Name)
	if _, taken := r.byName[lower]; taken {
		return nil, ErrNameTaken
	}
	r.nextID++
	if err := r.storeCounter(); err != nil {
		r.nextID--
		return nil, err
	}

	out := rec.Clone()
	out.ID = id.PlayerID(strconv.FormatInt(r.nextID, 10))
	if err := r.writeRecord(out); err != nil {
		return nil, err
	}
	r.byName[lower] = string(out.ID)
	return out, nil
}

func (r *FileRepo) Save(_ context.Context, rec *player.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writeRecord(rec); err != nil {
		return err
	}
	r.byName[strings.ToLower(rec.Name)] = string(rec.ID)
	return nil
}

func (r *FileRepo) Close(context.Context) error { return nil }

func (r *FileRepo) recordPath(pid string) string {
	return filepath.Join(r.dir, pid+".json")
}

func (r *FileRepo) writeRecord(rec *player.Record) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: encode %s: %w", rec.ID, err)
	}
	return atomicWrite(r.recordPath(string(rec.ID)), b)
}

func (r *FileRepo) counterPath() string {
	return filepath.Join(r.dir, "next_id")
}

func (r *FileRepo) loadCounter() error {
	b, err := os.ReadFile(r.counterPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist: read counter: %w", err)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return fmt.Errorf("persist: parse counter: %w", err)
	}
	r.nextID = n
	return nil
}

func (r *FileRepo) storeCounter() error {
	return atomicWrite(r.counterPath(), []byte(strconv.FormatInt(r.nextID, 10)))
}

func (r *FileRepo) buildNameIndex() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("persist: scan dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		pid := strings.TrimSuffix(e.Name(), ".json")
		rec, err := r.FindByID(context.Background(), pid)
		if err != nil {
			r.log.Warn("persist: skipping unreadable record", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		if rec != nil {
			r.byName[strings.ToLower(rec.Name)] = pid
		}
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("persist: temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("persist: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("persist: close temp: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("persist: rename: %w", err)
	}
	return nil
}
