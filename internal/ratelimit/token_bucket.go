package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// TokenBucket meters bytes at a fixed rate with a bounded burst.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket allows rate tokens per second with at most burst
// accumulated.
func NewTokenBucket(r float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(r), burst)}
}

// Burst is the largest n a single Wait can ever satisfy.
func (tb *TokenBucket) Burst() int { return tb.limiter.Burst() }

// Wait blocks until n tokens are available or ctx is done. n is clamped to
// the burst size.
func (tb *TokenBucket) Wait(ctx context.Context, n int) error {
	return tb.limiter.WaitN(ctx, min(n, tb.limiter.Burst()))
}
