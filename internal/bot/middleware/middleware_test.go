package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(clock, 3, time.Minute)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(1), "запрос %d", i+1)
	}
	assert.False(t, rl.Allow(1))
	assert.True(t, rl.Allow(2), "у другого пользователя своё ведро")

	// Один токен восстанавливается за window/limit
	clock.Advance(20 * time.Second)
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
}

func TestRateLimiter_SweepForgetsIdleUsers(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(clock, 3, time.Minute)
	defer rl.Close()

	rl.Allow(1)
	rl.Allow(2)
	require.Equal(t, 2, rl.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(limiterSweepInterval)
	assert.Eventually(t, func() bool { return rl.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRateLimiter_ZeroLimitMeansUnlimited(t *testing.T) {
	clock := clockwork.NewFakeClock()
	for _, tc := range []struct {
		limit  int
		window time.Duration
	}{
		{0, time.Minute},
		{-1, time.Minute},
		{3, 0},
	} {
		var rl *RateLimiter
		require.NotPanics(t, func() { rl = NewRateLimiter(clock, tc.limit, tc.window) })
		for i := 0; i < 100; i++ {
			assert.True(t, rl.Allow(1))
		}
		assert.Zero(t, rl.Len())
		rl.Close()
	}
}

func TestRateLimiter_CloseIdempotent(t *testing.T) {
	rl := NewRateLimiter(clockwork.NewRealClock(), 1, time.Second)
	rl.Close()
	rl.Close()
}

func TestRecoverFromPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer RecoverFromPanic(42)
		panic("boom")
	})
}

func TestLogMessage(t *testing.T) {
	assert.NotPanics(t, func() {
		LogMessage(nil)
		LogMessage(&telego.Message{Chat: telego.Chat{ID: 1}, Text: "без отправителя"})
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "привет", truncate("привет", 10))
	assert.Equal(t, "при...", truncate("привет", 3))
}
