package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type countingCounter struct {
	calls int
	n     int
	err   error
}

func (c *countingCounter) CountRecent(_ context.Context, _ string, _ time.Duration) (int, error) {
	c.calls++
	return c.n, c.err
}

func TestMemoryCountCache_getSet(t *testing.T) {
	c := NewMemoryCountCache(5 * time.Minute)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "xss:604800"); ok {
		t.Fatal("expected cache miss on empty cache")
	}
	c.Set(ctx, "xss:604800", 42)
	n, ok := c.Get(ctx, "xss:604800")
	if !ok || n != 42 {
		t.Errorf("Get: got %d, %v", n, ok)
	}
}

func TestMemoryCountCache_expiry(t *testing.T) {
	c := NewMemoryCountCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "dos:604800", 3)
	c.now = func() time.Time { return now.Add(2 * time.Minute) }

	if _, ok := c.Get(ctx, "dos:604800"); ok {
		t.Error("expected expired entry to miss")
	}
	if c.Len() != 1 {
		t.Errorf("expired entry should remain until evicted, Len = %d", c.Len())
	}
	if n := c.Evict(); n != 1 {
		t.Errorf("Evict: got %d, want 1", n)
	}
	if c.Len() != 0 {
		t.Errorf("Len after evict: got %d", c.Len())
	}
}

func TestMemoryCountCache_startEvictionRunsInBackground(t *testing.T) {
	c := NewMemoryCountCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set(context.Background(), "xss:604800", 1)
	c.now = func() time.Time { return now.Add(2 * time.Minute) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	returned := make(chan struct{})
	go func() {
		c.StartEviction(ctx, 10*time.Millisecond, zap.NewNop())
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("StartEviction should return without waiting for ctx")
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expired entry was not evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCachedCounter_hitsCache(t *testing.T) {
	inner := &countingCounter{n: 7}
	cc := NewCachedCounter(inner, NewMemoryCountCache(time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		n, err := cc.CountRecent(ctx, "xss", 7*24*time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if n != 7 {
			t.Errorf("CountRecent: got %d, want 7", n)
		}
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 underlying call, got %d", inner.calls)
	}

	// A different window is a different key.
	cc.CountRecent(ctx, "xss", time.Hour)
	if inner.calls != 2 {
		t.Errorf("expected 2 underlying calls, got %d", inner.calls)
	}
}

func TestCachedCounter_doesNotCacheErrors(t *testing.T) {
	inner := &countingCounter{err: errors.New("db down")}
	cc := NewCachedCounter(inner, NewMemoryCountCache(time.Minute))
	ctx := context.Background()

	if _, err := cc.CountRecent(ctx, "xss", time.Hour); err == nil {
		t.Fatal("expected error")
	}
	inner.err = nil
	inner.n = 4
	n, err := cc.CountRecent(ctx, "xss", time.Hour)
	if err != nil || n != 4 {
		t.Errorf("CountRecent after recovery: got %d, %v", n, err)
	}
}

func TestRedisCountCache_unreachableIsMiss(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	c := NewRedisCountCache(rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	c.Set(ctx, "xss:604800", 5)
	if _, ok := c.Get(ctx, "xss:604800"); ok {
		t.Error("expected miss when redis is unreachable")
	}
	if err := c.Ping(ctx); err == nil {
		t.Error("expected ping to fail")
	}
}
