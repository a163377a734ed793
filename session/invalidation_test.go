package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newFanoutPair(t *testing.T) (a, b *Cache, storeA, storeB *fakeStore, rdb *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	storeA = newFakeStore()
	storeB = newFakeStore()
	a = newTestCache(t, storeA, Config{})
	b = newTestCache(t, storeB, Config{})

	if err := a.EnableFanout(rdb); err != nil {
		t.Fatalf("EnableFanout(a): %v", err)
	}
	if err := b.EnableFanout(rdb); err != nil {
		t.Fatalf("EnableFanout(b): %v", err)
	}
	return a, b, storeA, storeB, rdb
}

// waitFor polls cond until it holds or the deadline expires. Pub/sub
// delivery is asynchronous, so tests cannot assert immediately.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestInvalidationFansOutAcrossInstances(t *testing.T) {
	a, b, storeA, storeB, _ := newFanoutPair(t)

	storeA.put(testProfile("user-1", "v1"))
	storeB.put(testProfile("user-1", "v1"))

	if _, err := a.Get(context.Background(), "user-1"); err != nil {
		t.Fatalf("prime a: %v", err)
	}
	if _, err := b.Get(context.Background(), "user-1"); err != nil {
		t.Fatalf("prime b: %v", err)
	}

	next := testProfile("user-1", "v2")
	storeB.put(next)

	if err := a.Invalidate(context.Background(), "user-1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	// b's listener applies the remote delete; its next Get reloads.
	waitFor(t, func() bool {
		rec, err := b.Get(context.Background(), "user-1")
		return err == nil && rec.SourceVersion == "v2"
	})
}

func TestInvalidationSkipsOwnMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := newFakeStore()
	store.put(testProfile("user-1", "v1"))
	c := newTestCache(t, store, Config{})
	if err := c.EnableFanout(rdb); err != nil {
		t.Fatalf("EnableFanout: %v", err)
	}

	if err := c.Invalidate(context.Background(), "user-1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	gen := c.gen.Load()

	// Give the listener time to see (and skip) the echo of our own
	// publish; a second generation bump would mean it did not.
	time.Sleep(100 * time.Millisecond)
	if got := c.gen.Load(); got != gen {
		t.Fatalf("generation advanced from %d to %d on our own message", gen, got)
	}
}

func TestInvalidationToleratesMalformedPayloads(t *testing.T) {
	_, b, _, storeB, rdb := newFanoutPair(t)

	storeB.put(testProfile("user-1", "v1"))
	if _, err := b.Get(context.Background(), "user-1"); err != nil {
		t.Fatalf("prime b: %v", err)
	}

	// Garbage on the channel must not kill the listener.
	if err := rdb.Publish(context.Background(), b.cfg.InvalidationChannel, "not-a-valid-message").Err(); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := rdb.Publish(context.Background(), b.cfg.InvalidationChannel, "other-origin|user-1").Err(); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	storeB.put(testProfile("user-1", "v2"))
	waitFor(t, func() bool {
		rec, err := b.Get(context.Background(), "user-1")
		return err == nil && rec.SourceVersion == "v2"
	})
}

func TestCloseStopsListener(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := newFakeStore()
	c := newTestCache(t, store, Config{})
	if err := c.EnableFanout(rdb); err != nil {
		t.Fatalf("EnableFanout: %v", err)
	}

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the invalidation listener")
	}
}

func TestEnableFanoutNilClient(t *testing.T) {
	c := newTestCache(t, newFakeStore(), Config{})
	if err := c.EnableFanout(nil); err != nil {
		t.Fatalf("EnableFanout(nil): %v", err)
	}
	if c.fanout != nil {
		t.Fatal("nil client must leave the cache local-only")
	}
}
