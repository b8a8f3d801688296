package persist

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/player"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLRepo stores each player as a JSONB document keyed by a bigserial id.
// The document is the source of truth; the name column exists only for the
// case-insensitive unique index.
type SQLRepo struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewSQLRepo(ctx context.Context, cfg config.PersistenceConfig, log *zap.Logger) (*SQLRepo, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &SQLRepo{pool: pool, log: log}, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (r *SQLRepo) FindByName(ctx context.Context, name string) (*player.Record, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT id, doc FROM players WHERE lower(name) = lower($1)`, name))
}

func (r *SQLRepo) FindByID(ctx context.Context, pid string) (*player.Record, error) {
	n, err := strconv.ParseInt(pid, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("persist: bad player id %q: %w", pid, err)
	}
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT id, doc FROM players WHERE id = $1`, n))
}

func (r *SQLRepo) scanOne(row pgx.Row) (*player.Record, error) {
	var (
		dbID int64
		rec  player.Record
	)
	err := row.Scan(&dbID, &rec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// The serial column wins over whatever the document claims.
	rec.ID = id.PlayerID(strconv.FormatInt(dbID, 10))
	return &rec, nil
}

func (r *SQLRepo) Create(ctx context.Context, rec *player.Record) (*player.Record, error) {
	out := rec.Clone()
	var dbID int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO players (name, doc) VALUES ($1, $2) RETURNING id`,
		out.Name, out,
	).Scan(&dbID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrNameTaken
		}
		return nil, err
	}
	out.ID = id.PlayerID(strconv.FormatInt(dbID, 10))
	// Rewrite so the stored document carries its id.
	if _, err := r.pool.Exec(ctx,
		`UPDATE players SET doc = $2 WHERE id = $1`, dbID, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLRepo) Save(ctx context.Context, rec *player.Record) error {
	n, err := strconv.ParseInt(string(rec.ID), 10, 64)
	if err != nil {
		return fmt.Errorf("persist: bad player id %q: %w", rec.ID, err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE players SET name = $2, doc = $3, updated_at = now() WHERE id = $1`,
		n, rec.Name, rec,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("persist: save of unknown player %s", rec.ID)
	}
	return nil
}

func (r *SQLRepo) Close(context.Context) error {
	r.pool.Close()
	return nil
}
