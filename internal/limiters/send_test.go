package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestSendLimiter(t *testing.T, every time.Duration, burst int) (*SendLimiter, *miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewSendLimiter(rdb, "otps", every, burst), mr, rdb
}

func TestSendLimiterBurstThenRefill(t *testing.T) {
	l, _, _ := newTestSendLimiter(t, 30*time.Second, 3)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	allow := func(userID string, at time.Time) bool {
		t.Helper()
		ok, err := l.Allow(ctx, userID, at)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		return ok
	}
	for i := 0; i < 3; i++ {
		if !allow("u1", now) {
			t.Fatalf("send %d within burst rejected", i+1)
		}
	}
	if allow("u1", now) {
		t.Fatal("fourth immediate send must be throttled")
	}
	if !allow("u2", now) {
		t.Fatal("other users are not affected")
	}
	if !allow("u1", now.Add(31*time.Second)) {
		t.Fatal("one token should refill after the interval")
	}
	if allow("u1", now.Add(31*time.Second)) {
		t.Fatal("only one token refills per interval")
	}
}

func TestSendLimiterSharedAcrossInstances(t *testing.T) {
	first, _, rdb := newTestSendLimiter(t, time.Minute, 2)
	second := NewSendLimiter(rdb, "otps", time.Minute, 2)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for _, l := range []*SendLimiter{first, second} {
		ok, err := l.Allow(ctx, "u1", now)
		if err != nil || !ok {
			t.Fatalf("allow = %v, %v; want true", ok, err)
		}
	}
	ok, err := first.Allow(ctx, "u1", now)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("burst must be shared by every limiter on the same redis")
	}
}

func TestSendLimiterBucketExpires(t *testing.T) {
	l, mr, _ := newTestSendLimiter(t, 30*time.Second, 2)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	if _, err := l.Allow(ctx, "u1", now); err != nil {
		t.Fatalf("allow: %v", err)
	}
	key := l.key("u1")
	if ttl := mr.TTL(key); ttl <= 0 || ttl > 30*time.Second {
		t.Fatalf("bucket ttl = %v, want (0, 30s]", ttl)
	}
	mr.FastForward(31 * time.Second)
	if mr.Exists(key) {
		t.Fatal("idle bucket should expire")
	}
}

func TestSendLimiterBackendFailure(t *testing.T) {
	l, mr, _ := newTestSendLimiter(t, time.Minute, 1)
	mr.Close()
	_, err := l.Allow(context.Background(), "u1", time.Now())
	if !errors.Is(err, ErrSendLimiterUnavailable) {
		t.Fatalf("err = %v, want ErrSendLimiterUnavailable", err)
	}
}

func TestSendLimiterDisabled(t *testing.T) {
	l, _, _ := newTestSendLimiter(t, 0, 1)
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 10; i++ {
		if ok, err := l.Allow(ctx, "u1", now); err != nil || !ok {
			t.Fatal("zero interval must never throttle")
		}
	}
	var nilLimiter *SendLimiter
	if ok, _ := nilLimiter.Allow(ctx, "u1", now); !ok {
		t.Fatal("nil limiter must allow")
	}
}
