package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newManual() (*Timer, *manualClock) {
	c := &manualClock{t: time.Unix(1700000000, 0)}
	return New(c.now), c
}

func TestArmAndFire(t *testing.T) {
	tm, clock := newManual()
	assert.False(t, tm.Pending())
	assert.False(t, tm.Fire())

	tm.Arm(20)
	ms, ok := tm.Remaining()
	assert.True(t, ok)
	assert.Equal(t, 20, ms)
	clock.advance(19 * time.Millisecond)
	assert.False(t, tm.Fire())
	clock.advance(time.Millisecond)
	assert.True(t, tm.Fire())
	assert.False(t, tm.Pending())
	assert.False(t, tm.Fire(), "single shot")
}

func TestZeroIsOneMillisecond(t *testing.T) {
	tm, clock := newManual()
	tm.Arm(0)
	assert.False(t, tm.Fire(), "zero must not fire inline")
	ms, ok := tm.Remaining()
	assert.True(t, ok)
	assert.Equal(t, 1, ms)
	clock.advance(time.Millisecond)
	assert.True(t, tm.Fire())
}

func TestRearmReplaces(t *testing.T) {
	tm, clock := newManual()
	tm.Arm(10)
	tm.Arm(100)
	clock.advance(50 * time.Millisecond)
	assert.False(t, tm.Fire(), "earlier timeout was superseded")
	clock.advance(50 * time.Millisecond)
	assert.True(t, tm.Fire())

	tm.Arm(100)
	tm.Arm(5)
	clock.advance(5 * time.Millisecond)
	assert.True(t, tm.Fire())
}

func TestNegativeCancels(t *testing.T) {
	tm, clock := newManual()
	tm.Arm(10)
	tm.Arm(-1)
	assert.False(t, tm.Pending())
	clock.advance(time.Hour)
	assert.False(t, tm.Fire())
	_, ok := tm.Remaining()
	assert.False(t, ok)

	tm.Arm(0)
	clock.advance(time.Millisecond)
	assert.True(t, tm.Fire())
}

func TestRemainingRoundsUp(t *testing.T) {
	tm, clock := newManual()
	tm.Arm(3)
	clock.advance(1500 * time.Microsecond)
	ms, _ := tm.Remaining()
	assert.Equal(t, 2, ms)
	clock.advance(time.Hour)
	ms, ok := tm.Remaining()
	assert.True(t, ok)
	assert.Equal(t, 0, ms)
}
