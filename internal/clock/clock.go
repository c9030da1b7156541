package clock

import "time"

// Clock abstracts the time operations used by the chat transport and
// session so reconnect backoff and typing timeouts can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
	// NewTimer returns a Timer that delivers on C once d has elapsed.
	NewTimer(d time.Duration) *Timer
}

// Timer is a one-shot timer. C is buffered with capacity 1.
type Timer struct {
	C <-chan time.Time

	stopFunc func() bool
}

// Stop prevents the timer from firing. It reports whether the call
// stopped the timer, false if it already fired or was stopped.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	return t.stopFunc()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) *Timer {
	t := time.NewTimer(d)
	return &Timer{C: t.C, stopFunc: t.Stop}
}
