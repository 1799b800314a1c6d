package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how often idle buckets are dropped.
const sweepEvery = 1024

// MemoryTokenBucket keeps buckets in process. Limits are per replica.
type MemoryTokenBucket struct {
	mu          sync.Mutex
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	buckets     map[string]*bucketState
	calls       int
	now         func() time.Time
}

type bucketState struct {
	tokens float64
	lastMS int64
}

func NewMemoryTokenBucket(capacity int, window time.Duration) (*MemoryTokenBucket, error) {
	refillPerMS, ttl, err := bucketParams(capacity, window)
	if err != nil {
		return nil, err
	}
	return &MemoryTokenBucket{
		capacity:    int64(capacity),
		refillPerMS: refillPerMS,
		ttl:         ttl,
		buckets:     make(map[string]*bucketState),
		now:         time.Now,
	}, nil
}

func (l *MemoryTokenBucket) AllowN(ctx context.Context, subject string, cost int) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	subject = normalizeSubject(subject)
	nowMS := l.now().UTC().UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(nowMS)
	}

	state, ok := l.buckets[subject]
	if !ok {
		state = &bucketState{tokens: float64(l.capacity), lastMS: nowMS}
		l.buckets[subject] = state
	}
	tokens, decision := take(state.tokens, state.lastMS, nowMS, l.capacity, l.refillPerMS, clampCost(cost, l.capacity))
	state.tokens, state.lastMS = tokens, nowMS
	return decision, nil
}

func (l *MemoryTokenBucket) sweep(nowMS int64) {
	for subject, state := range l.buckets {
		if nowMS-state.lastMS > l.ttl.Milliseconds() {
			delete(l.buckets, subject)
		}
	}
}
