// Package clock abstracts the time operations used by the delivery engine
// so that flush timers and sweeps can be driven deterministically in tests.
//
// Production code uses Real(); tests use Fake() and call Advance to fire
// idle timers and sweep tickers.
package clock

import "time"

// Clock is the subset of the time package the engine depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f after d has elapsed. The returned Timer can
	// cancel the call with Stop.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a cancellable scheduled call created by AfterFunc.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if it already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers periodic ticks on C. C has capacity 1; ticks are
// dropped when the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }
