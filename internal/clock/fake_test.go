package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeTimerFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	timer := c.NewTimer(2 * time.Second)
	assert.Equal(t, 1, c.PendingCount())

	c.Advance(time.Second)
	select {
	case <-timer.C:
		t.Fatal("expected timer not to fire before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case fired := <-timer.C:
		assert.Equal(t, epoch.Add(2*time.Second), fired)
	default:
		t.Fatal("expected timer to fire at its deadline")
	}
	assert.Equal(t, 0, c.PendingCount())
	assert.False(t, timer.Stop(), "expected Stop on a fired timer to return false")
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(epoch)
	timer := c.NewTimer(time.Second)

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "expected second Stop to return false")

	c.Advance(time.Minute)
	select {
	case <-timer.C:
		t.Fatal("expected stopped timer not to fire")
	default:
	}
}

func TestFakeTimerNonPositive(t *testing.T) {
	c := Fake(epoch)
	timer := c.NewTimer(0)

	select {
	case <-timer.C:
	default:
		t.Fatal("expected zero duration timer to fire immediately")
	}
	assert.Equal(t, 0, c.PendingCount())
}

func TestWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})

	go func() {
		defer close(done)
		<-c.NewTimer(5 * time.Second).C
	}()

	c.WaitForTimers(1)
	c.Advance(5 * time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected goroutine to be released by Advance")
	}
}
