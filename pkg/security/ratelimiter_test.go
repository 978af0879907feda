package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(RateLimits{
		Default:   3,
		PerClass:  map[string]int{"ai": 1},
		WindowDur: time.Minute,
	})
	defer rl.Stop()

	t.Run("default quota", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			assert.NoError(t, rl.Allow("p1", "filesystem"))
		}
		err := rl.Allow("p1", "filesystem")
		assert.ErrorIs(t, err, ErrRateLimited)
	})

	t.Run("per-class override", func(t *testing.T) {
		assert.NoError(t, rl.Allow("p1", "ai"))
		assert.ErrorIs(t, rl.Allow("p1", "ai"), ErrRateLimited)
	})

	t.Run("plugins are independent", func(t *testing.T) {
		assert.NoError(t, rl.Allow("p2", "ai"))
	})

	t.Run("classes are independent", func(t *testing.T) {
		assert.NoError(t, rl.Allow("p1", "network"))
	})
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(RateLimits{
		Default:   1,
		WindowDur: 50 * time.Millisecond,
	})
	defer rl.Stop()

	require.NoError(t, rl.Allow("p1", "network"))
	require.ErrorIs(t, rl.Allow("p1", "network"), ErrRateLimited)

	time.Sleep(60 * time.Millisecond)
	assert.NoError(t, rl.Allow("p1", "network"))
}

func TestRetryAfter(t *testing.T) {
	rl := NewRateLimiter(RateLimits{
		Default:   1,
		WindowDur: time.Minute,
	})
	defer rl.Stop()

	assert.Zero(t, rl.RetryAfter("p1", "network"))

	require.NoError(t, rl.Allow("p1", "network"))

	wait := rl.RetryAfter("p1", "network")
	assert.Greater(t, wait, 50*time.Second)
	assert.LessOrEqual(t, wait, time.Minute)
}

func TestResetPlugin(t *testing.T) {
	rl := NewRateLimiter(RateLimits{
		Default:   1,
		WindowDur: time.Minute,
	})
	defer rl.Stop()

	require.NoError(t, rl.Allow("p1", "network"))
	require.NoError(t, rl.Allow("p2", "network"))
	require.ErrorIs(t, rl.Allow("p1", "network"), ErrRateLimited)

	rl.ResetPlugin("p1")

	assert.NoError(t, rl.Allow("p1", "network"))
	assert.ErrorIs(t, rl.Allow("p2", "network"), ErrRateLimited)
}

func TestStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimits())
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}

func TestOnRejectCallback(t *testing.T) {
	rl := NewRateLimiter(RateLimits{
		Default:   1,
		WindowDur: time.Minute,
	})
	defer rl.Stop()

	type rejection struct{ plugin, class string }
	var seen []rejection
	rl.OnReject(func(pluginID, class string) {
		seen = append(seen, rejection{pluginID, class})
	})

	require.NoError(t, rl.Allow("p1", "network"))
	assert.Empty(t, seen)

	require.ErrorIs(t, rl.Allow("p1", "network"), ErrRateLimited)
	require.Len(t, seen, 1)
	assert.Equal(t, rejection{"p1", "network"}, seen[0])
}
