package api

import "time"

// RetryPolicy controls how an operation is retried when it returns an error.
// MaxAttempts includes the first attempt. For example:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// The delay before retry n (1-based) is InitialBackoff * BackoffMultiplier^(n-1),
// capped at MaxBackoff when MaxBackoff > 0. A multiplier <= 1 gives a fixed
// delay.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// FixedRetry returns a policy with a constant cooldown between attempts.
func FixedRetry(attempts int, cooldown time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialBackoff: cooldown, BackoffMultiplier: 1}
}

// Delay returns the sleep before retry n, where n = 1 is the first retry.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n <= 0 || p.InitialBackoff <= 0 {
		return 0
	}
	d := p.InitialBackoff
	if p.BackoffMultiplier > 1 {
		f := float64(d)
		for i := 1; i < n; i++ {
			f *= p.BackoffMultiplier
			if p.MaxBackoff > 0 && f >= float64(p.MaxBackoff) {
				return p.MaxBackoff
			}
		}
		d = time.Duration(f)
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}
