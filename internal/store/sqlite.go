package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/doorstep-labs/doorstep/internal/faults"
	"github.com/doorstep-labs/doorstep/internal/model"
)

// Sqlite is the file-backed store. The cgo-free driver keeps the binary
// portable; WAL mode lets the serve command read while enrichments write.
type Sqlite struct {
	db *sql.DB
}

// NewSqlite opens (or creates) the database at path.
func NewSqlite(path string) (*Sqlite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: open %s", path)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: %s", pragma)
		}
	}
	return &Sqlite{db: db}, nil
}

func (s *Sqlite) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS listings (
	id         TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS activity (
	id      TEXT PRIMARY KEY,
	ts      TIMESTAMP NOT NULL,
	level   TEXT NOT NULL,
	message TEXT NOT NULL,
	source  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_ts ON activity (ts DESC);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

func (s *Sqlite) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM listings WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(faults.ErrNotFound, "store: listing %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get listing")
	}

	var l model.Listing
	if err := json.Unmarshal([]byte(record), &l); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode listing %s", id)
	}
	return &l, nil
}

func (s *Sqlite) UpsertListing(ctx context.Context, l *model.Listing) error {
	record, err := json.Marshal(l)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode listing")
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO listings (id, record, updated_at) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		l.ID, string(record), time.Now().UTC())
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert listing")
	}
	return nil
}

func (s *Sqlite) DeleteListing(ctx context.Context, id string) (*model.Listing, error) {
	l, err := s.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM listings WHERE id = ?`, id); err != nil {
		return nil, eris.Wrap(err, "sqlite: delete listing")
	}
	return l, nil
}

func (s *Sqlite) AppendActivity(ctx context.Context, e model.ActivityEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity (id, ts, level, message, source) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC(), string(e.Level), e.Message, e.Source)
	if err != nil {
		return eris.Wrap(err, "sqlite: append activity")
	}

	// Trim past the cap, oldest first.
	_, err = s.db.ExecContext(ctx, `
DELETE FROM activity WHERE id NOT IN (
	SELECT id FROM activity ORDER BY ts DESC LIMIT ?
)`, activityCap)
	if err != nil {
		return eris.Wrap(err, "sqlite: trim activity")
	}
	return nil
}

func (s *Sqlite) ListActivity(ctx context.Context, limit int) ([]model.ActivityEntry, error) {
	if limit <= 0 || limit > activityCap {
		limit = activityCap
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, level, message, source FROM activity ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list activity")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ActivityEntry
	for rows.Next() {
		var e model.ActivityEntry
		var level string
		if err := rows.Scan(&e.ID, &e.Timestamp, &level, &e.Message, &e.Source); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan activity")
		}
		e.Level = model.ActivityLevel(level)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sqlite) Close() error { return s.db.Close() }
