package transfer

import "time"

// RetryPolicy bounds how often a transient submission failure is retried and
// how long to back off between attempts. Attempt numbering starts at 1.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the backoff before the given attempt: base * 2^(attempt-1),
// capped at MaxDelay. Attempt 1 has no preceding failure and gets zero.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := p.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Exhausted reports whether another attempt is allowed after the given
// number of completed attempts.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
