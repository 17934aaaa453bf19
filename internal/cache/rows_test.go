package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"expandable/internal/infra/persistence/memory"
	"expandable/pkg/domain"
)

func setupCache(t *testing.T, opts ...Option) (*Store, *memory.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	backing := memory.NewStore()
	store, err := New(backing, client, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store, backing, mr
}

func TestFindRowsByOwnerReadsThrough(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store, backing, mr := setupCache(t, WithMetrics(metrics), WithTTL(time.Minute))
	ctx := context.Background()
	if _, err := backing.UpsertAttributeRow(ctx, domain.AttributeRow{OwnerID: "u1", Key: "bio", Value: "hi"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	first, err := store.FindRowsByOwner(ctx, "u1")
	if err != nil || len(first) != 1 {
		t.Fatalf("first read: rows=%v err=%v", first, err)
	}
	if !mr.Exists(store.Key("u1")) {
		t.Fatalf("expected cached entry under %s", store.Key("u1"))
	}
	if ttl := mr.TTL(store.Key("u1")); ttl != time.Minute {
		t.Fatalf("expected ttl 1m, got %v", ttl)
	}

	// A write straight to the backing store is invisible until eviction.
	if _, err := backing.UpsertAttributeRow(ctx, domain.AttributeRow{OwnerID: "u1", Key: "nick", Value: "x"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	second, err := store.FindRowsByOwner(ctx, "u1")
	if err != nil || len(second) != 1 || second[0].Value != "hi" {
		t.Fatalf("expected cached rows, got %v err=%v", second, err)
	}
	if testutil.ToFloat64(metrics.hits) != 1 || testutil.ToFloat64(metrics.misses) != 1 {
		t.Fatalf("unexpected hit/miss counts: %v/%v", testutil.ToFloat64(metrics.hits), testutil.ToFloat64(metrics.misses))
	}

	if err := store.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	third, _ := store.FindRowsByOwner(ctx, "u1")
	if len(third) != 2 {
		t.Fatalf("expected fresh rows after invalidation, got %v", third)
	}
}

func TestUpsertEvictsOwnerEntry(t *testing.T) {
	store, _, mr := setupCache(t)
	ctx := context.Background()
	if _, err := store.FindRowsByOwner(ctx, "u1"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if !mr.Exists(store.Key("u1")) {
		t.Fatalf("expected primed entry")
	}
	if _, err := store.UpsertAttributeRow(ctx, domain.AttributeRow{OwnerID: "u1", Key: "bio", Value: "v"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if mr.Exists(store.Key("u1")) {
		t.Fatalf("expected entry evicted after upsert")
	}
	rows, _ := store.FindRowsByOwner(ctx, "u1")
	if len(rows) != 1 || rows[0].Value != "v" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestTransactionEvictsTouchedOwners(t *testing.T) {
	store, _, mr := setupCache(t)
	ctx := context.Background()
	for _, owner := range []string{"u1", "u2"} {
		if _, err := store.FindRowsByOwner(ctx, owner); err != nil {
			t.Fatalf("prime %s: %v", owner, err)
		}
	}
	err := store.RunInTransaction(ctx, func(tx domain.RowTx) error {
		_, err := tx.UpsertAttributeRow(ctx, domain.AttributeRow{OwnerID: "u1", Key: "a", Value: "1"})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if mr.Exists(store.Key("u1")) {
		t.Fatalf("expected u1 evicted")
	}
	if !mr.Exists(store.Key("u2")) {
		t.Fatalf("expected untouched u2 to stay cached")
	}

	boom := errors.New("boom")
	if _, err := store.FindRowsByOwner(ctx, "u1"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	err = store.RunInTransaction(ctx, func(tx domain.RowTx) error {
		if _, err := tx.UpsertAttributeRow(ctx, domain.AttributeRow{OwnerID: "u1", Key: "b", Value: "2"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	rows, _ := store.FindRowsByOwner(ctx, "u1")
	if len(rows) != 1 {
		t.Fatalf("expected rolled back row absent, got %v", rows)
	}
}

func TestHashedKeysAndPrefix(t *testing.T) {
	store, _, _ := setupCache(t, WithPrefix("app:"), WithHashedKeys(true))
	key := store.Key("user/with spaces")
	if !strings.HasPrefix(key, "app:rows:") || strings.Contains(key, " ") {
		t.Fatalf("unexpected hashed key %q", key)
	}
	if key != store.Key("user/with spaces") || key == store.Key("other") {
		t.Fatalf("expected stable distinct digests")
	}
}

func TestRedisOutageFallsBackToStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store, backing, mr := setupCache(t, WithMetrics(metrics))
	ctx := context.Background()
	if _, err := backing.UpsertAttributeRow(ctx, domain.AttributeRow{OwnerID: "u1", Key: "bio", Value: "hi"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mr.Close()
	rows, err := store.FindRowsByOwner(ctx, "u1")
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected fallback rows, got %v err=%v", rows, err)
	}
	if _, err := store.UpsertAttributeRow(ctx, domain.AttributeRow{OwnerID: "u1", Key: "nick", Value: "n"}); err != nil {
		t.Fatalf("upsert must not fail on cache errors: %v", err)
	}
	if testutil.ToFloat64(metrics.errors) < 2 {
		t.Fatalf("expected cache errors recorded, got %v", testutil.ToFloat64(metrics.errors))
	}
}

func TestCorruptEntryIsReplaced(t *testing.T) {
	store, _, mr := setupCache(t)
	if err := mr.Set(store.Key("u1"), "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rows, err := store.FindRowsByOwner(context.Background(), "u1")
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected empty rows, got %v err=%v", rows, err)
	}
	got, _ := mr.Get(store.Key("u1"))
	if got == "not json" {
		t.Fatalf("expected corrupt entry overwritten")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(nil, redis.NewClient(&redis.Options{})); err == nil {
		t.Fatalf("expected missing store error")
	}
	if _, err := New(memory.NewStore(), nil); err == nil {
		t.Fatalf("expected missing client error")
	}
	if _, err := NewClient("://bad"); err == nil {
		t.Fatalf("expected url parse error")
	}
	client, err := NewClient("redis://localhost:6379/0")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_ = client.Close()
}
