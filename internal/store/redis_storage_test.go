package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testRecord struct {
	Name     string    `redis:"name"`
	Count    int       `redis:"count"`
	Enabled  bool      `redis:"enabled"`
	SeenAt   time.Time `redis:"seen_at"`
	Internal string    `redis:"-"`
}

func newTestStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStorage(rdb), mr
}

func TestStoreRoundTrip(t *testing.T) {
	storage, mr := newTestStorage(t)
	records := New[testRecord](storage, "r:")
	ctx := context.Background()
	seenAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := records.Set(ctx, "one", testRecord{Name: "alpha", Count: 3, Enabled: true, SeenAt: seenAt, Internal: "x"}, time.Minute)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !mr.Exists("r:one") {
		t.Fatal("expected prefixed key to exist")
	}
	if ttl := mr.TTL("r:one"); ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %s", ttl)
	}

	got, err := records.Get(ctx, "one")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "alpha" || got.Count != 3 || !got.Enabled || !got.SeenAt.Equal(seenAt) {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Internal != "" {
		t.Fatal("expected untagged field to be skipped")
	}
}

func TestStoreMissingKey(t *testing.T) {
	storage, _ := newTestStorage(t)
	records := New[testRecord](storage, "r:")
	ctx := context.Background()

	if _, err := records.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on Get, got %v", err)
	}
	if err := records.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on Delete, got %v", err)
	}
	if err := records.SetAttr(ctx, "missing", "count", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on SetAttr, got %v", err)
	}
	var count int
	if err := records.GetAttr(ctx, "missing", "count", &count); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on GetAttr, got %v", err)
	}
}

func TestSetAttrDoesNotResurrectDeletedRecord(t *testing.T) {
	storage, mr := newTestStorage(t)
	records := New[testRecord](storage, "r:")
	ctx := context.Background()

	if err := records.Set(ctx, "one", testRecord{Name: "alpha"}, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := records.SetAttr(ctx, "one", "count", 7); err != nil {
		t.Fatalf("SetAttr failed: %v", err)
	}
	var count int
	if err := records.GetAttr(ctx, "one", "count", &count); err != nil || count != 7 {
		t.Fatalf("expected count 7, got %d (%v)", count, err)
	}

	if err := records.Delete(ctx, "one"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := records.SetAttr(ctx, "one", "count", 8); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if mr.Exists("r:one") {
		t.Fatal("SetAttr recreated a deleted record")
	}
}

func TestSetReplacesPreviousFields(t *testing.T) {
	storage, _ := newTestStorage(t)
	ctx := context.Background()

	if err := storage.Set(ctx, "k", map[string]any{"a": "1", "b": "2"}, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := storage.Set(ctx, "k", map[string]any{"a": "3"}, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	var b string
	if err := storage.GetAttr(ctx, "k", "b", &b); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected stale field to be gone, got %q (%v)", b, err)
	}
}
