package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces watch keys in Redis.
const KeyPrefix = "pagewatch:state:"

// redisClient is the subset of *redis.Client used by RedisStore.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

type redisValue struct {
	Digest    string `json:"digest"`
	UpdatedAt int64  `json:"updated_at"`
}

// RedisStore keeps the record as one JSON string key. SET replaces the
// value atomically.
type RedisStore struct {
	client  redisClient
	key     string
	watchID string
	now     func() time.Time
}

// OpenRedis connects using a redis:// or rediss:// URL and pings the server.
func OpenRedis(ctx context.Context, url, watchID string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("state: parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("state: redis ping: %w", err)
	}
	return newRedisStore(client, watchID), nil
}

func newRedisStore(c redisClient, watchID string) *RedisStore {
	return &RedisStore{client: c, key: KeyPrefix + watchID, watchID: watchID, now: time.Now}
}

// Load reads the key. redis.Nil means no prior state.
func (s *RedisStore) Load(ctx context.Context) (Record, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("state: redis get %s: %w", s.key, err)
	}

	var v redisValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil || !isHex(v.Digest) {
		return Record{}, false, fmt.Errorf("%w: key %s", ErrCorrupt, s.key)
	}
	return Record{
		WatchID:   s.watchID,
		Digest:    v.Digest,
		UpdatedAt: time.UnixMilli(v.UpdatedAt).UTC(),
	}, true, nil
}

// Save writes the key without expiry.
func (s *RedisStore) Save(ctx context.Context, digest string) error {
	if err := checkDigest(digest); err != nil {
		return err
	}
	data, err := json.Marshal(redisValue{Digest: digest, UpdatedAt: s.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("state: redis set %s: %w", s.key, err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error { return s.client.Close() }
