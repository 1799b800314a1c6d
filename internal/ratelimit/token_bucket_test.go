package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTokenBucketRefills(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	l, err := NewMemoryTokenBucket(3, 3*time.Second)
	if err != nil {
		t.Fatalf("NewMemoryTokenBucket() error = %v", err)
	}
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.AllowN(ctx, "u1", 1)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: decision=%+v err=%v", i, d, err)
		}
		if d.Remaining != int64(2-i) {
			t.Fatalf("request %d: expected %d remaining, got %d", i, 2-i, d.Remaining)
		}
	}

	d, _ := l.AllowN(ctx, "u1", 1)
	if d.Allowed || d.RetryAfter != time.Second {
		t.Fatalf("expected denial with 1s retry, got %+v", d)
	}
	if d, _ := l.AllowN(ctx, "u2", 1); !d.Allowed {
		t.Fatal("subjects must not share a bucket")
	}

	clock = clock.Add(time.Second)
	if d, _ := l.AllowN(ctx, "u1", 1); !d.Allowed {
		t.Fatalf("expected a refilled token, got %+v", d)
	}
}

func TestMemoryTokenBucketCost(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	l, _ := NewMemoryTokenBucket(4, time.Minute)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	if d, _ := l.AllowN(ctx, "", 3); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("expected cost 3 to leave 1 token, got %+v", d)
	}
	d, _ := l.AllowN(ctx, "anonymous", 2)
	if d.Allowed {
		t.Fatal("empty subject and anonymous must share a bucket")
	}
	if d.RetryAfter != 15*time.Second {
		t.Fatalf("expected 15s retry for one missing token, got %v", d.RetryAfter)
	}

	clock = clock.Add(time.Minute)
	if d, _ := l.AllowN(ctx, "big", 100); !d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected oversized cost to be clamped to capacity, got %+v", d)
	}
}

func TestMemoryTokenBucketSweepsIdleBuckets(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	l, _ := NewMemoryTokenBucket(1, time.Second)
	l.now = func() time.Time { return clock }

	_, _ = l.AllowN(context.Background(), "idle", 1)
	clock = clock.Add(time.Hour)
	l.calls = sweepEvery - 1
	_, _ = l.AllowN(context.Background(), "fresh", 1)

	if _, ok := l.buckets["idle"]; ok {
		t.Fatal("expected idle bucket to be swept")
	}
	if len(l.buckets) != 1 {
		t.Fatalf("expected only the fresh bucket, got %d", len(l.buckets))
	}
}

func TestConstructorsValidate(t *testing.T) {
	if _, err := NewMemoryTokenBucket(0, time.Second); err == nil {
		t.Fatal("expected capacity error")
	}
	if _, err := NewMemoryTokenBucket(1, 0); err == nil {
		t.Fatal("expected window error")
	}
	if _, err := NewRedisTokenBucket(nil, 1, time.Second, ""); err == nil {
		t.Fatal("expected redis client error")
	}
}

func TestTakeMatchesScript(t *testing.T) {
	tests := []struct {
		name      string
		tokens    float64
		elapsedMS int64
		cost      int64
		allowed   bool
		remaining int64
		retry     time.Duration
	}{
		{"full bucket", 10, 0, 1, true, 9, 0},
		{"refill capped", 9, 10_000, 1, true, 9, 0},
		{"partial refill", 0, 500, 1, false, 0, 500 * time.Millisecond},
		{"clock skew", 2, -5_000, 1, true, 1, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, d := take(tc.tokens, 10_000, 10_000+tc.elapsedMS, 10, 0.001, tc.cost)
			if d.Allowed != tc.allowed || d.Remaining != tc.remaining || d.RetryAfter != tc.retry {
				t.Fatalf("take() = %+v", d)
			}
		})
	}
}
