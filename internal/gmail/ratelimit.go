package gmail

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Operation is a Gmail API call with a quota cost.
type Operation int

const (
	OpProfile          Operation = iota // 1 unit
	OpLabelsList                        // 1 unit
	OpLabelsGet                         // 1 unit
	OpMessagesList                      // 5 units
	OpMessagesGet                       // 5 units
	OpAttachmentsGet                    // 5 units
	OpMessagesBatchMod                  // 50 units
	OpMessagesSend                      // 100 units
)

// Cost returns the per-user quota units consumed by the operation.
func (o Operation) Cost() int {
	switch o {
	case OpMessagesList, OpMessagesGet, OpAttachmentsGet:
		return 5
	case OpMessagesBatchMod:
		return 50
	case OpMessagesSend:
		return 100
	default:
		return 1
	}
}

const (
	// DefaultCapacity is the token bucket size (Gmail's per-user quota
	// units per second).
	DefaultCapacity = 250

	// DefaultRefillRate is tokens per second at the default QPS.
	DefaultRefillRate = 250.0

	// MinQPS is the lowest accepted QPS.
	MinQPS = 0.1

	defaultQPS             = 5.0
	throttleRecoveryFactor = 0.5
	minWait                = 10 * time.Millisecond
)

// RateLimiter is a token bucket over quota units. It is safe for
// concurrent use and backs off adaptively when Throttle is called.
type RateLimiter struct {
	mu             sync.Mutex
	clock          Clock
	tokens         float64
	capacity       float64
	refillRate     float64
	baseRefillRate float64
	lastRefill     time.Time
	throttledUntil time.Time
}

// NewRateLimiter creates a rate limiter for the given QPS. The refill rate
// scales down linearly below the default of 5 QPS.
func NewRateLimiter(qps float64) *RateLimiter {
	return newRateLimiter(realClock{}, qps)
}

func newRateLimiter(clk Clock, qps float64) *RateLimiter {
	if clk == nil {
		panic("gmail: RateLimiter requires a non-nil Clock")
	}
	qps = max(qps, MinQPS)
	refill := DefaultRefillRate * min(qps/defaultQPS, 1.0)
	return &RateLimiter{
		clock:          clk,
		tokens:         DefaultCapacity,
		capacity:       DefaultCapacity,
		refillRate:     refill,
		baseRefillRate: refill,
		lastRefill:     clk.Now(),
	}
}

// reserve takes tokens for op, returning 0 on success or how long to wait.
func (r *RateLimiter) reserve(op Operation) time.Duration {
	cost := float64(op.Cost())

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if now.Before(r.throttledUntil) {
		return r.throttledUntil.Sub(now)
	}
	r.refill()
	if r.tokens >= cost {
		r.tokens -= cost
		return 0
	}
	wait := time.Duration((cost-r.tokens)/r.refillRate*1000) * time.Millisecond
	return max(wait, minWait)
}

// Acquire blocks until op's tokens are available or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context, op Operation) error {
	for {
		wait := r.reserve(op)
		if wait == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(wait):
		}
	}
}

// TryAcquire takes op's tokens without blocking.
func (r *RateLimiter) TryAcquire(op Operation) bool {
	cost := float64(op.Cost())

	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= cost {
		r.tokens -= cost
		return true
	}
	return false
}

// refill credits elapsed time. Caller holds mu.
func (r *RateLimiter) refill() {
	now := r.clock.Now()
	if now.Before(r.throttledUntil) {
		r.lastRefill = now
		return
	}
	if r.refillRate < r.baseRefillRate && !r.throttledUntil.IsZero() {
		r.refillRate = r.baseRefillRate
	}
	r.tokens = min(r.tokens+now.Sub(r.lastRefill).Seconds()*r.refillRate, r.capacity)
	r.lastRefill = now
}

// Available returns the current token count.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

// Throttle pauses refills for d, drains the bucket and halves the refill
// rate until the pause ends. An existing longer pause is not shortened.
func (r *RateLimiter) Throttle(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if end := r.clock.Now().Add(d); end.After(r.throttledUntil) {
		r.throttledUntil = end
	}
	r.lastRefill = r.throttledUntil
	r.tokens = 0
	r.refillRate = r.baseRefillRate * throttleRecoveryFactor
}
