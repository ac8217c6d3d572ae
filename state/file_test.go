package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	digestA = "0123456789abcdef0123456789abcdef"
	digestB = "fedcba9876543210fedcba9876543210"
)

func TestFileStore_MissingIsAbsent(t *testing.T) {
	// WHAT: A missing state file loads as "no prior state", not an error.
	// WHY: That is the expected condition on the first run.
	s := NewFileStore(filepath.Join(t.TempDir(), "last_hash.txt"), "w")
	_, ok, err := s.Load(context.Background())
	if err != nil || ok {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "last_hash.txt")
	s := NewFileStore(path, "w")

	if err := s.Save(ctx, digestA); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, ok, err := s.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if rec.Digest != digestA || rec.WatchID != "w" || rec.UpdatedAt.IsZero() {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if err := s.Save(ctx, digestB); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	rec, _, _ = s.Load(ctx)
	if rec.Digest != digestB {
		t.Fatalf("overwrite not visible: %q", rec.Digest)
	}

	data, _ := os.ReadFile(path)
	if string(data) != digestB {
		t.Fatalf("file content: %q", data)
	}
}

func TestFileStore_NoTempLeftovers(t *testing.T) {
	// WHAT: Save leaves only the state file in its directory.
	// WHY: Temp files are renamed, never left behind on success.
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "state"), "w")
	for _, d := range []string{digestA, digestB, digestA} {
		if err := s.Save(context.Background(), d); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "state" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected dir entries: %v", names)
	}
}

func TestFileStore_LegacyFile(t *testing.T) {
	// WHAT: A hand-written or legacy file with whitespace/uppercase is accepted.
	path := filepath.Join(t.TempDir(), "last_hash.txt")
	os.WriteFile(path, []byte("  "+strings.ToUpper(digestA)+"\n"), 0o644)

	rec, ok, err := NewFileStore(path, "w").Load(context.Background())
	if err != nil || !ok || rec.Digest != digestA {
		t.Fatalf("got %+v ok=%v err=%v", rec, ok, err)
	}
}

func TestFileStore_EmptyFileIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_hash.txt")
	os.WriteFile(path, nil, 0o644)
	_, ok, err := NewFileStore(path, "w").Load(context.Background())
	if err != nil || ok {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_hash.txt")
	os.WriteFile(path, []byte("<html>not a digest"), 0o644)
	_, _, err := NewFileStore(path, "w").Load(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestFileStore_RejectsInvalidDigest(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "state"), "w")
	for _, bad := range []string{"", "XYZ", "ABCDEF", "abc"} {
		if err := s.Save(context.Background(), bad); !errors.Is(err, ErrInvalidDigest) {
			t.Errorf("%q: expected ErrInvalidDigest, got %v", bad, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "state")); !os.IsNotExist(err) {
		t.Fatal("invalid save must not create the file")
	}
}

func TestFileStore_DirSyncFailureAfterRename(t *testing.T) {
	// WHAT: Failing to open the directory after the rename does not fail Save.
	// WHY: The new digest is already in place; an error would report a persist failure and re-notify.
	orig := openDir
	openDir = func(string) (*os.File, error) { return nil, errors.New("EMFILE") }
	defer func() { openDir = orig }()

	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "last_hash.txt"), "w")
	if err := s.Save(ctx, digestA); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, ok, err := s.Load(ctx)
	if err != nil || !ok || rec.Digest != digestA {
		t.Fatalf("load: ok=%v digest=%q err=%v", ok, rec.Digest, err)
	}
}
