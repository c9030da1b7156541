package chat

import (
	"time"

	"github.com/npezzotti/go-ticketchat/internal/clock"
)

const typingTimeout = 2 * time.Second

// typingMachine tracks whether the local user is composing. It sends
// true on idle -> composing and false on composing -> idle, never the
// same value twice in a row. It is owned by the session loop.
type typingMachine struct {
	clock     clock.Clock
	timeout   time.Duration
	send      func(isTyping bool)
	composing bool
	timer     *clock.Timer
}

func newTypingMachine(clk clock.Clock, send func(bool)) *typingMachine {
	return &typingMachine{clock: clk, timeout: typingTimeout, send: send}
}

// input records an edit of the compose box.
func (m *typingMachine) input(text string) {
	if !m.composing {
		if text == "" {
			return
		}
		m.composing = true
		m.send(true)
	}
	m.arm()
}

func (m *typingMachine) arm() {
	m.timer.Stop()
	m.timer = m.clock.NewTimer(m.timeout)
}

// C fires when the inactivity timeout elapses. It is nil while idle.
func (m *typingMachine) C() <-chan time.Time {
	if m.timer == nil {
		return nil
	}
	return m.timer.C
}

// expire handles the inactivity timeout.
func (m *typingMachine) expire() {
	m.finish(true)
}

// sent is called after a message went out.
func (m *typingMachine) sent() {
	m.finish(true)
}

// reset returns to idle without notifying the server, used when the
// connection the state belonged to is gone.
func (m *typingMachine) reset() {
	m.finish(false)
}

func (m *typingMachine) finish(notify bool) {
	m.timer.Stop()
	m.timer = nil
	if !m.composing {
		return
	}
	m.composing = false
	if notify {
		m.send(false)
	}
}
