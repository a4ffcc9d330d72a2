package readiness

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Delay returns the wait that follows attempt n (n >= 1):
// min(base*n, limit). Values of n below 1 are treated as 1.
func Delay(n int, base, limit time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	// base*n can only overflow far beyond limit
	if base > 0 && time.Duration(n) > limit/base {
		return limit
	}
	d := base * time.Duration(n)
	if d > limit {
		return limit
	}
	return d
}

// LinearBackOff is a backoff.BackOff whose k-th NextBackOff call returns
// Delay(k, Base, Cap). It never returns backoff.Stop; the session deadline
// ends the sequence instead.
//
// It is not safe for concurrent use. Each session owns its own instance.
type LinearBackOff struct {
	Base time.Duration
	Cap  time.Duration

	attempt int
}

var _ backoff.BackOff = (*LinearBackOff)(nil)

// NewLinearBackOff creates a backoff starting at attempt 1.
func NewLinearBackOff(base, limit time.Duration) *LinearBackOff {
	return &LinearBackOff{Base: base, Cap: limit}
}

// NextBackOff advances the attempt counter and returns its delay.
func (b *LinearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return Delay(b.attempt, b.Base, b.Cap)
}

// Reset starts the sequence over.
func (b *LinearBackOff) Reset() {
	b.attempt = 0
}

// Attempt returns how many delays have been handed out.
func (b *LinearBackOff) Attempt() int {
	return b.attempt
}

// clockTimer is a backoff.Timer driven by the session Clock, so retry
// delays follow whatever clock the detector was built with.
type clockTimer struct {
	clock Clock
	timer Timer
}

var _ backoff.Timer = (*clockTimer)(nil)

func (t *clockTimer) Start(d time.Duration) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.clock.NewTimer(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// C returns nil before Start, which blocks forever in a select.
func (t *clockTimer) C() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.C()
}
