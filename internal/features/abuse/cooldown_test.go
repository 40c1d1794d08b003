package abuse

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestCooldownCache_MarkAndExpire(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	c := NewCooldownCache(clock, 5*time.Second)
	defer c.Close()

	assert.False(t, c.Active(group, alice))

	c.Mark(group, alice)
	assert.True(t, c.Active(group, alice))
	assert.Equal(t, 5*time.Second, c.Remaining(group, alice))
	assert.False(t, c.Active(group, bob), "кулдаун у каждого свой")
	assert.False(t, c.Active(group+1, alice), "и в каждом чате свой")

	clock.Advance(5 * time.Second)
	assert.False(t, c.Active(group, alice))
	assert.Zero(t, c.Remaining(group, alice))
}

func TestCooldownCache_Sweep(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	c := NewCooldownCache(clock, 5*time.Second)
	defer c.Close()

	c.Mark(group, alice)
	clock.Advance(time.Second)
	c.Mark(group, bob)
	assert.Equal(t, 2, c.Len())

	clock.Advance(4 * time.Second)
	c.sweep()
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Active(group, bob))
}

func TestCooldownCache_ZeroTTLDisabled(t *testing.T) {
	c := NewCooldownCache(clockwork.NewFakeClockAt(t0), 0)
	defer c.Close()

	c.Mark(group, alice)
	assert.False(t, c.Active(group, alice))
	assert.Zero(t, c.Len())
}

func TestCooldownCache_CloseIdempotent(t *testing.T) {
	c := NewCooldownCache(clockwork.NewRealClock(), time.Second)
	c.Close()
	c.Close()
}
