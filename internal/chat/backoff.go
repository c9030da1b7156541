package chat

import "time"

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 10 * time.Second
)

// Backoff holds the reconnect delay as explicit state. The delay starts
// at Initial, doubles after every scheduled attempt up to Max, and goes
// back to Initial on Reset.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	next     time.Duration
	attempts int
}

func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{Initial: initial, Max: max, next: initial}
}

// Next returns the delay for the upcoming attempt and advances the
// state.
func (b *Backoff) Next() time.Duration {
	if b.next <= 0 {
		b.next = b.Initial
	}

	delay := b.next
	b.next = min(b.next*2, b.Max)
	b.attempts++

	return delay
}

// Reset is called after a successful open.
func (b *Backoff) Reset() {
	b.next = b.Initial
	b.attempts = 0
}

// Attempts is the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
