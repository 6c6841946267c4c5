package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, mr *miniredis.Miniredis, limit int, window time.Duration) *FixedWindowLimiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l, err := NewFixedWindowLimiter(client, "vetrecords:test", limit, window)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestUploadBudgetPerClient(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	l := newTestLimiter(t, mr, 2, time.Minute)
	start := time.Date(2026, 3, 2, 9, 15, 10, 0, time.UTC)
	l.now = func() time.Time { return start }

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "upload:198.51.100.4"); !ok {
			t.Fatalf("upload %d should pass", i+1)
		}
	}
	ok, retry := l.Allow(ctx, "upload:198.51.100.4")
	if ok {
		t.Fatalf("third upload in the window should be rejected")
	}
	if retry != 50*time.Second {
		t.Fatalf("retry after = %v, want 50s", retry)
	}
	if ok, _ := l.Allow(ctx, "process:198.51.100.4"); !ok {
		t.Fatalf("process scope has its own budget")
	}

	l.now = func() time.Time { return start.Add(time.Minute) }
	if ok, _ := l.Allow(ctx, "upload:198.51.100.4"); !ok {
		t.Fatalf("next window should reset the budget")
	}
}

func TestBlankKeySharesUnknownBucket(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, miniredis.RunT(t), 1, time.Minute)
	fixed := time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	if ok, _ := l.Allow(ctx, "  "); !ok {
		t.Fatalf("first anonymous call should pass")
	}
	if ok, _ := l.Allow(ctx, "unknown"); ok {
		t.Fatalf("blank key should count against the unknown bucket")
	}
}

func TestLimiterRejectsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "", 5, time.Second)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	defer l.Close()
	if l.prefix != defaultPrefix {
		t.Fatalf("prefix = %q, want default", l.prefix)
	}
	mr.Close()
	if ok, retry := l.Allow(context.Background(), "upload:10.0.0.1"); ok || retry <= 0 {
		t.Fatalf("expected rejection with retry hint, got ok=%v retry=%v", ok, retry)
	}
}

func TestLimiterConstructorValidation(t *testing.T) {
	if _, err := NewRedisFixedWindowLimiter("", "", "", 1, time.Second); err == nil {
		t.Fatalf("expected addr error")
	}
	if _, err := NewRedisFixedWindowLimiter("127.0.0.1:6379", "", "", 0, time.Second); err == nil {
		t.Fatalf("expected limit error")
	}
	if _, err := NewFixedWindowLimiter(nil, "", 1, time.Second); err == nil {
		t.Fatalf("expected client error")
	}
	var nilLimiter *FixedWindowLimiter
	if ok, _ := nilLimiter.Allow(context.Background(), "x"); ok {
		t.Fatalf("nil limiter must reject")
	}
}
