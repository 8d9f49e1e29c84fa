package executor

import (
	"math/rand/v2"
	"time"
)

// BackoffPolicy computes retry delays using capped exponential backoff with
// full jitter, so a burst of simultaneously failing transfers does not
// retry in lockstep and hammer the remote store on the same tick.
type BackoffPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    time.Duration
}

// DefaultBackoffPolicy returns the policy used when none is configured:
// 500ms base, 30s cap, up to 1s of jitter.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
		Jitter:    time.Second,
	}
}

// Delay returns the delay to wait before retry attempt n (n starts at 1 for
// the first retry): min(MaxDelay, BaseDelay*2^(n-1)) + uniform[0, Jitter).
func (b BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.BaseDelay
	for i := 1; i < attempt && delay < b.MaxDelay; i++ {
		delay *= 2
		if delay > b.MaxDelay {
			delay = b.MaxDelay
			break
		}
	}

	jitter := time.Duration(0)
	if b.Jitter > 0 {
		jitter = time.Duration(rand.Int64N(int64(b.Jitter)))
	}
	return delay + jitter
}
