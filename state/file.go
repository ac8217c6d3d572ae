package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the digest as a single text value in one file. The
// format is the bare hex string, so a last_hash.txt written by earlier
// tooling is read as-is.
type FileStore struct {
	path    string
	watchID string
}

// NewFileStore returns a FileStore at path. Nothing is touched on disk
// until Save.
func NewFileStore(path, watchID string) *FileStore {
	return &FileStore{path: path, watchID: watchID}
}

// Path returns the state file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the digest. A missing or empty file means no prior state.
func (s *FileStore) Load(_ context.Context) (Record, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("state: read %s: %w", s.path, err)
	}

	digest := strings.ToLower(strings.TrimSpace(string(data)))
	if digest == "" {
		return Record{}, false, nil
	}
	if !isHex(digest) {
		return Record{}, false, fmt.Errorf("%w: %s", ErrCorrupt, s.path)
	}

	rec := Record{WatchID: s.watchID, Digest: digest}
	if fi, err := os.Stat(s.path); err == nil {
		rec.UpdatedAt = fi.ModTime().UTC()
	}
	return rec, true, nil
}

// Save writes digest to a temporary file in the same directory, syncs it,
// and renames it over the state file.
func (s *FileStore) Save(_ context.Context, digest string) error {
	if err := checkDigest(digest); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(digest); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("state: chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("state: rename: %w", err)
	}
	committed = true

	syncDir(dir)
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

// openDir is replaced in tests.
var openDir = os.Open

// syncDir makes a committed rename durable. The new digest is already
// visible, so failures are logged and not returned. Some platforms cannot
// fsync a directory at all.
func syncDir(dir string) {
	d, err := openDir(dir)
	if err != nil {
		slog.Warn("state: open dir for sync", "dir", dir, "error", err)
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		slog.Debug("state: sync dir", "dir", dir, "error", err)
	}
}
