package session

import "time"

// BackoffPolicy computes reconnect delays. MaxAttempts of zero retries forever.
type BackoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	Jitter      float64
	MaxAttempts int
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:        500 * time.Millisecond,
		Max:         30 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 8,
	}
}

// Delay returns the wait before retry number attempt (1-based). rnd is a
// sample in [0,1) and the result lies in (d*(1-Jitter), d] where d is
// Base doubled per attempt and capped at Max.
func (p BackoffPolicy) Delay(attempt int, rnd float64) time.Duration {
	if attempt < 1 || p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		if p.Max > 0 && d >= p.Max {
			break
		}
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}

	jitter := p.Jitter
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	if rnd < 0 {
		rnd = 0
	}
	if rnd >= 1 {
		rnd = 0.999999
	}
	return d - time.Duration(float64(d)*jitter*rnd)
}

// Exhausted reports whether attempt failures end in the offline state.
func (p BackoffPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
