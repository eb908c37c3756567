package client

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// reconnector computes base*2^attempt delays and counts attempts up to a
// ceiling. It is owned by a Session and guarded by the session mutex.
type reconnector struct {
	max     int
	attempt int
	backoff *backoff.ExponentialBackOff
	timer   clockwork.Timer
}

func newReconnector(base time.Duration, max int) *reconnector {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return &reconnector{max: max, backoff: b}
}

// next returns the delay before the next attempt, or false once the
// ceiling is reached.
func (r *reconnector) next() (time.Duration, bool) {
	if r.attempt >= r.max {
		return 0, false
	}
	d := r.backoff.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	r.attempt++
	return d, true
}

// inCycle reports whether an attempt of a reconnect cycle is underway.
func (r *reconnector) inCycle() bool {
	return r.attempt > 0
}

func (r *reconnector) arm(clock clockwork.Clock, d time.Duration, fn func()) {
	r.stopTimer()
	r.timer = clock.AfterFunc(d, fn)
}

func (r *reconnector) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *reconnector) reset() {
	r.stopTimer()
	r.attempt = 0
	r.backoff.Reset()
}
