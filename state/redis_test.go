package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis is an in-memory redisClient.
type fakeRedis struct {
	data   map[string]string
	setErr error
	sets   int
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.sets++
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRedis()
	s := newRedisStore(fr, "kabelwerk")

	if _, ok, err := s.Load(ctx); ok || err != nil {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}
	if err := s.Save(ctx, digestA); err != nil {
		t.Fatal(err)
	}
	if _, ok := fr.data[KeyPrefix+"kabelwerk"]; !ok {
		t.Fatalf("key not written: %v", fr.data)
	}
	rec, ok, err := s.Load(ctx)
	if err != nil || !ok || rec.Digest != digestA {
		t.Fatalf("got %+v ok=%v err=%v", rec, ok, err)
	}
}

func TestRedisStore_Corrupt(t *testing.T) {
	fr := newFakeRedis()
	fr.data[KeyPrefix+"w"] = "not json"
	_, _, err := newRedisStore(fr, "w").Load(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestRedisStore_SetError(t *testing.T) {
	fr := newFakeRedis()
	fr.setErr = errors.New("READONLY")
	err := newRedisStore(fr, "w").Save(context.Background(), digestA)
	if err == nil || !errors.Is(err, fr.setErr) {
		t.Fatalf("expected wrapped set error, got %v", err)
	}
}
