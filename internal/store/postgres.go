package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/doorstep-labs/doorstep/internal/faults"
	"github.com/doorstep-labs/doorstep/internal/model"
)

// pgxQuerier is the slice of the pool the store uses. pgxmock satisfies it.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres is the shared-database store for deployments where several
// operators hit one result set.
type Postgres struct {
	pool pgxQuerier
}

// NewPostgres wraps an existing pool (or a mock in tests).
func NewPostgres(pool pgxQuerier) *Postgres {
	return &Postgres{pool: pool}
}

// NewPostgresDSN connects to the given DSN.
func NewPostgresDSN(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS listings (
	id         TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS activity (
	id      TEXT PRIMARY KEY,
	ts      TIMESTAMPTZ NOT NULL,
	level   TEXT NOT NULL,
	message TEXT NOT NULL,
	source  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_ts ON activity (ts DESC)`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (s *Postgres) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	var record []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM listings WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(faults.ErrNotFound, "store: listing %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get listing")
	}

	var l model.Listing
	if err := json.Unmarshal(record, &l); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode listing %s", id)
	}
	return &l, nil
}

func (s *Postgres) UpsertListing(ctx context.Context, l *model.Listing) error {
	record, err := json.Marshal(l)
	if err != nil {
		return eris.Wrap(err, "postgres: encode listing")
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO listings (id, record, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`,
		l.ID, record, time.Now().UTC())
	if err != nil {
		return eris.Wrap(err, "postgres: upsert listing")
	}
	return nil
}

func (s *Postgres) DeleteListing(ctx context.Context, id string) (*model.Listing, error) {
	l, err := s.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id); err != nil {
		return nil, eris.Wrap(err, "postgres: delete listing")
	}
	return l, nil
}

func (s *Postgres) AppendActivity(ctx context.Context, e model.ActivityEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO activity (id, ts, level, message, source) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.Timestamp.UTC(), string(e.Level), e.Message, e.Source)
	if err != nil {
		return eris.Wrap(err, "postgres: append activity")
	}

	_, err = s.pool.Exec(ctx, `
DELETE FROM activity WHERE id NOT IN (
	SELECT id FROM activity ORDER BY ts DESC LIMIT $1
)`, activityCap)
	if err != nil {
		return eris.Wrap(err, "postgres: trim activity")
	}
	return nil
}

func (s *Postgres) ListActivity(ctx context.Context, limit int) ([]model.ActivityEntry, error) {
	if limit <= 0 || limit > activityCap {
		limit = activityCap
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, level, message, source FROM activity ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list activity")
	}
	defer rows.Close()

	var out []model.ActivityEntry
	for rows.Next() {
		var e model.ActivityEntry
		var level string
		if err := rows.Scan(&e.ID, &e.Timestamp, &level, &e.Message, &e.Source); err != nil {
			return nil, eris.Wrap(err, "postgres: scan activity")
		}
		e.Level = model.ActivityLevel(level)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
