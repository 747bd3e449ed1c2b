package retry

import (
	"context"
	"math/rand"
	"time"
)

// Backoff computes the wait before the attempt following attempt
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Doubling waits Base after the first failure and twice as long after each
// further one, capped at Max. Jitter spreads each wait by up to that
// fraction in either direction.
type Doubling struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// DefaultBackoff is the wait schedule for image tiers and page loads: 1s, 2s,
// 4s ... up to 30s.
func DefaultBackoff() Doubling {
	return Doubling{Base: time.Second, Max: 30 * time.Second, Jitter: 0.1}
}

func (d Doubling) Delay(attempt int) time.Duration {
	if attempt <= 0 || d.Base <= 0 {
		return 0
	}

	delay := d.Base
	for i := 1; i < attempt && i < 32 && (d.Max <= 0 || delay < d.Max); i++ {
		delay *= 2
	}
	if d.Max > 0 && delay > d.Max {
		delay = d.Max
	}

	if d.Jitter > 0 {
		spread := float64(delay) * d.Jitter
		delay += time.Duration(rand.Float64()*2*spread - spread)
	}
	return max(delay, 0)
}

// Fixed waits the same duration after every failure
type Fixed time.Duration

func (f Fixed) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return time.Duration(f)
}

// Wait blocks for delay or until ctx is done
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
