package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 50 * time.Millisecond
	defaultMaximumBackoff = time.Second
)

// Policy controls how many times an operation is attempted and how long to wait
// between attempts.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
	// Sleep is swapped in tests; nil sleeps on a timer honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaximumBackoff <= 0 {
		p.MaximumBackoff = defaultMaximumBackoff
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = p.InitialBackoff
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	return p
}

// Do runs fn until it succeeds, returns an error shouldRetry rejects, the attempts
// run out, or ctx is done. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, shouldRetry func(error) bool, fn func(attempt int) error) error {
	p = p.normalized()
	backoff := p.InitialBackoff

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if attempt == p.MaxAttempts || !shouldRetry(err) {
			return err
		}
		if serr := p.Sleep(ctx, withJitter(backoff)); serr != nil {
			return err
		}
		backoff = nextBackoff(backoff, p.MaximumBackoff)
	}
	return err
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// withJitter adds up to a quarter of d so retries from racing callers spread out.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	window := int64(d / 4)
	if window <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(window))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
