// Package ratelimit implements the token-bucket cells and per-session stack
// described in spec §4.2, grounded on warpgate-core/src/rate_limiting's
// "swappable cell" design but built on golang.org/x/time/rate instead of the
// Rust `governor` crate.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Cell represents Option<bytes_per_second> from spec §4.2: nil means
// unlimited. Burst capacity equals the per-second rate, matching the
// teacher-adjacent "keep burst sized to the rate" technique in
// warpgate-core/src/rate_limiting/limiter.rs's new_rate_limiter.
type Cell struct {
	limiter atomic.Pointer[rate.Limiter]
}

// NewCell builds a Cell. bytesPerSecond == nil or a value <= 0 means
// unlimited, so a quota of 0 is an explicit no-limit setting (spec §4.2).
func NewCell(bytesPerSecond *int) *Cell {
	c := &Cell{}
	c.Replace(bytesPerSecond)
	return c
}

// Replace hot-swaps the active limit. Pointer nil means unlimited. This is
// the admin-facing update path referenced by spec §4.2 ("the admin API can
// publish a new limit and the next check picks it up").
func (c *Cell) Replace(bytesPerSecond *int) {
	if bytesPerSecond == nil || *bytesPerSecond <= 0 {
		c.limiter.Store(nil)
		return
	}
	limit := rate.Limit(*bytesPerSecond)
	c.limiter.Store(rate.NewLimiter(limit, *bytesPerSecond))
}

// WaitN returns the duration the caller should sleep before delivering n
// bytes, or 0 if unlimited or already within budget. It never blocks itself;
// callers decide whether to actually sleep, matching spec §4.2's
// "if any cell returns a positive wait duration, the read task sleeps that
// duration".
func (c *Cell) WaitN(n int) time.Duration {
	limiter := c.limiter.Load()
	if limiter == nil || n <= 0 {
		return 0
	}
	reservation := limiter.ReserveN(time.Now(), n)
	if !reservation.OK() {
		// n exceeds burst; fabricate a reservation-free delay by waiting for
		// the full amount at the configured rate instead of failing the
		// read outright.
		return time.Duration(float64(n) / float64(limiter.Limit()) * float64(time.Second))
	}
	return reservation.Delay()
}

// Sleep blocks for WaitN(n), honoring context cancellation.
func (c *Cell) Sleep(ctx context.Context, n int) error {
	d := c.WaitN(n)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
