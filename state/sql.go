package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // register "postgres" driver
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Schema is shared by SQLite and Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS watch_state (
    watch_id   TEXT PRIMARY KEY,
    digest     TEXT NOT NULL,
    updated_at BIGINT NOT NULL
);
`

const upsertState = `
INSERT INTO watch_state (watch_id, digest, updated_at) VALUES (?, ?, ?)
ON CONFLICT (watch_id) DO UPDATE SET digest = excluded.digest, updated_at = excluded.updated_at`

const selectState = `SELECT digest, updated_at FROM watch_state WHERE watch_id = ?`

// Dialect selects placeholder syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// SQLStore keeps one row per watch in the watch_state table. The upsert is
// a single statement, atomic in both SQLite and Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	watchID string
	owned   bool
	now     func() time.Time
}

// NewSQLStore binds an already-open database and applies the schema. The
// caller keeps ownership of db.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, watchID string) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("state: apply schema: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect, watchID: watchID, now: time.Now}, nil
}

// OpenSQLite opens (creating if needed) an SQLite database at path with WAL
// journaling and a busy timeout.
func OpenSQLite(ctx context.Context, path, watchID string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state: empty sqlite path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("state: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = FULL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("state: %s: %w", p, err)
		}
	}

	s, err := NewSQLStore(ctx, db, SQLite, watchID)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// OpenPostgres connects with lib/pq using a postgres:// DSN.
func OpenPostgres(ctx context.Context, dsn, watchID string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: ping postgres: %w", err)
	}
	s, err := NewSQLStore(ctx, db, Postgres, watchID)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Load reads the row for the watch.
func (s *SQLStore) Load(ctx context.Context) (Record, bool, error) {
	var digest string
	var updatedMs int64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(selectState), s.watchID).Scan(&digest, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("state: load %s: %w", s.watchID, err)
	}
	if !isHex(digest) {
		return Record{}, false, fmt.Errorf("%w: watch %s", ErrCorrupt, s.watchID)
	}
	return Record{
		WatchID:   s.watchID,
		Digest:    digest,
		UpdatedAt: time.UnixMilli(updatedMs).UTC(),
	}, true, nil
}

// Save upserts the row. SQLite BUSY errors are retried up to three times.
func (s *SQLStore) Save(ctx context.Context, digest string) error {
	if err := checkDigest(digest); err != nil {
		return err
	}
	q := s.dialect.rebind(upsertState)
	now := s.now().UnixMilli()

	for i := range maxBusyRetries {
		_, err := s.db.ExecContext(ctx, q, s.watchID, digest, now)
		if err == nil {
			return nil
		}
		if s.dialect != SQLite || !isBusy(err) || i == maxBusyRetries-1 {
			return fmt.Errorf("state: save %s: %w", s.watchID, err)
		}
		if err := sleepCtx(ctx, time.Duration(100*(i+1))*time.Millisecond); err != nil {
			return fmt.Errorf("state: save %s: %w", s.watchID, err)
		}
	}
	return fmt.Errorf("state: save %s: max retries exceeded", s.watchID)
}

// Close closes the database when the store opened it.
func (s *SQLStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

const maxBusyRetries = 3

// isBusy reports whether err indicates an SQLite BUSY condition.
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
