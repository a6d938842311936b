package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisConfig{Address: mr.Addr(), Prefix: "test:progress", TTL: ttl})
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, time.Hour)

	var p Progress
	mustMark(t, &p, AgentCreated)
	mustMark(t, &p, DelegationComplete)
	p.AgentAddress = "0x2222222222222222222222222222222222222222"

	if err := store.Save(ctx, "Ostium", "0xABCDEF", p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("test:progress:ostium:0xabcdef") {
		t.Fatalf("expected normalised key, have %v", mr.Keys())
	}

	got, found, err := store.Load(ctx, "ostium", "0xabcdef")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if !got.AgentCreated || !got.DelegationComplete || got.AllowanceComplete {
		t.Fatalf("unexpected progress %+v", got)
	}
	if got.AgentAddress != p.AgentAddress {
		t.Fatalf("agent address lost: %q", got.AgentAddress)
	}

	if err := store.Delete(ctx, "ostium", "0xabcdef"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, err := store.Load(ctx, "ostium", "0xabcdef"); err != nil || found {
		t.Fatalf("expected miss after delete: found=%v err=%v", found, err)
	}
}

func TestRedisStoreExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, time.Minute)

	var p Progress
	mustMark(t, &p, AgentCreated)
	if err := store.Save(ctx, "aster", "0xabc", p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL("test:progress:aster:0xabc"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, found, err := store.Load(ctx, "aster", "0xabc"); err != nil || found {
		t.Fatalf("expected expired entry: found=%v err=%v", found, err)
	}
}

func TestRedisStoreRejectsCorruptEntries(t *testing.T) {
	store, mr := newRedisStore(t, 0)
	if err := mr.Set("test:progress:ostium:0xabc", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := store.Load(context.Background(), "ostium", "0xabc"); !xerrors.Is(err, xerrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), RedisConfig{}); !xerrors.Is(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for empty address, got %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	store := NewRedisStoreWithClient(client, "", 0)
	defer store.Close()
	mr.Close()

	if err := store.Save(context.Background(), "ostium", "0xabc", Progress{}); !xerrors.Is(err, xerrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure once redis is gone, got %v", err)
	}
}
