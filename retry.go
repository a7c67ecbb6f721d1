package taskdispatch

import "time"

// ReportPolicy builds the RetryPolicy the worker pool uses when a failure
// report to the engine is itself rejected. Values are immutable; every
// method returns a modified copy.
//
//	cfg.Worker.FailureRetry = taskdispatch.ReportAttempts(10).Every(5 * time.Second).Policy()
type ReportPolicy struct {
	p RetryPolicy
}

// ReportAttempts allows up to attempts calls to the failure endpoint,
// counting the first. Anything below 1 means a single attempt.
func ReportAttempts(attempts int) ReportPolicy {
	return ReportPolicy{p: RetryPolicy{MaxAttempts: max(attempts, 1)}}
}

// Every waits the same cooldown before each further attempt.
func (r ReportPolicy) Every(cooldown time.Duration) ReportPolicy {
	r.p.InitialBackoff = cooldown
	r.p.BackoffMultiplier = 1
	r.p.MaxBackoff = 0
	return r
}

// Growing starts at initial and multiplies the wait by factor after each
// attempt, never exceeding ceiling when ceiling is positive. A factor of 1
// or less falls back to doubling.
func (r ReportPolicy) Growing(initial time.Duration, factor float64, ceiling time.Duration) ReportPolicy {
	if factor <= 1 {
		factor = 2
	}
	r.p.InitialBackoff = initial
	r.p.BackoffMultiplier = factor
	r.p.MaxBackoff = ceiling
	return r
}

// NoWait retries straight away.
func (r ReportPolicy) NoWait() ReportPolicy {
	r.p.InitialBackoff, r.p.BackoffMultiplier, r.p.MaxBackoff = 0, 0, 0
	return r
}

// Policy returns the built RetryPolicy.
func (r ReportPolicy) Policy() RetryPolicy { return r.p }
