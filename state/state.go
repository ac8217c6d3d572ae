// Package state persists the last observed digest of a watch.
//
// A Store holds one scalar per watch identifier. Absence is not an error:
// Load reports ok=false until the first Save. Save replaces the value
// atomically, so a crash leaves either the old or the new digest.
//
// Backends are chosen by location:
//
//	./last_hash.txt, file:///var/lib/pagewatch/x  → FileStore
//	sqlite:///var/lib/pagewatch/state.db           → SQLStore (SQLite)
//	postgres://user:pw@host/db?sslmode=disable     → SQLStore (Postgres)
//	redis://host:6379/0                            → RedisStore
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCorrupt is returned by Load when a stored value exists but is not a
// hex digest. It is never returned for a missing value.
var ErrCorrupt = errors.New("state: stored digest is corrupt")

// ErrInvalidDigest is returned by Save for values that are not lowercase hex.
var ErrInvalidDigest = errors.New("state: digest must be lowercase hex")

// Record is the persisted state of one watch.
type Record struct {
	WatchID   string    `json:"watch_id"`
	Digest    string    `json:"digest"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store loads and saves the last digest of one watch.
type Store interface {
	// Load returns ok=false with a nil error when nothing was saved yet.
	Load(ctx context.Context) (rec Record, ok bool, err error)
	// Save atomically replaces the stored digest.
	Save(ctx context.Context, digest string) error
	Close() error
}

// Open returns the Store for location, bound to watchID.
func Open(ctx context.Context, location, watchID string) (Store, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("state: empty location")
	}
	if watchID == "" {
		watchID = "default"
	}

	scheme := ""
	if i := strings.Index(location, "://"); i > 0 {
		scheme = strings.ToLower(location[:i])
	}

	switch scheme {
	case "":
		return NewFileStore(location, watchID), nil
	case "file":
		return NewFileStore(strings.TrimPrefix(location[len(scheme):], "://"), watchID), nil
	case "sqlite":
		return OpenSQLite(ctx, location[len("sqlite://"):], watchID)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, location, watchID)
	case "redis", "rediss":
		return OpenRedis(ctx, location, watchID)
	}
	return nil, fmt.Errorf("state: unsupported location scheme %q", scheme)
}

// checkDigest validates a digest before it is written.
func checkDigest(d string) error {
	if !isHex(d) {
		return fmt.Errorf("%w: %q", ErrInvalidDigest, d)
	}
	return nil
}

func isHex(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
