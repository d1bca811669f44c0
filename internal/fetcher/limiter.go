package fetcher

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is the single token bucket shared by every archive call site in a
// run. Tokens refill continuously at the configured requests-per-second up to
// the burst ceiling; the refill-and-debit step is serialised by rate.Limiter's
// internal lock, so concurrent callers are safe.
type Limiter struct {
	bucket *rate.Limiter
}

// NewLimiter creates a limiter refilling at rps with the given burst ceiling.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 0.05
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Take blocks until cost tokens are available, then debits them.
func (l *Limiter) Take(ctx context.Context, cost int) error {
	if l == nil {
		return nil
	}
	if cost < 1 {
		cost = 1
	}
	return l.bucket.WaitN(ctx, cost)
}
