package state

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func memStore(t *testing.T, watchID string) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:", watchID)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memStore(t, "kabelwerk")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	if _, ok, err := s.Load(ctx); ok || err != nil {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}
	if err := s.Save(ctx, digestA); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, digestB); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, ok, err := s.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if rec.Digest != digestB || !rec.UpdatedAt.Equal(fixed) || rec.WatchID != "kabelwerk" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	var n int
	s.db.QueryRow("SELECT COUNT(*) FROM watch_state").Scan(&n)
	if n != 1 {
		t.Fatalf("expected one row, got %d", n)
	}
}

func TestSQLStore_IndependentKeys(t *testing.T) {
	// WHAT: Two watch IDs sharing a database do not see each other's state.
	ctx := context.Background()
	a := memStore(t, "a")
	b, err := NewSQLStore(ctx, a.db, SQLite, "b")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Save(ctx, digestA); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := b.Load(ctx); ok {
		t.Fatal("watch b must not see watch a's digest")
	}
}

func TestSQLStore_Corrupt(t *testing.T) {
	ctx := context.Background()
	s := memStore(t, "w")
	if _, err := s.db.Exec("INSERT INTO watch_state VALUES ('w', 'nope', 0)"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestSQLStore_FileBacked(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "state.db")

	s, err := OpenSQLite(ctx, path, "w")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, digestA); err != nil {
		t.Fatal(err)
	}
	s.Close()

	again, err := OpenSQLite(ctx, path, "w")
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	rec, ok, err := again.Load(ctx)
	if err != nil || !ok || rec.Digest != digestA {
		t.Fatalf("state lost across reopen: %+v ok=%v err=%v", rec, ok, err)
	}
}

func TestSQLStore_CallerOwnsDB(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	s, err := NewSQLStore(context.Background(), db, SQLite, "w")
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	if err := db.Ping(); err != nil {
		t.Fatalf("Close must not close a borrowed db: %v", err)
	}
}

func TestDialect_Rebind(t *testing.T) {
	got := Postgres.rebind("SELECT a FROM t WHERE x = ? AND y = ?")
	if got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Fatalf("postgres rebind: %q", got)
	}
	if SQLite.rebind("x = ?") != "x = ?" {
		t.Fatal("sqlite must keep ? placeholders")
	}
}
