package security

import (
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited is wrapped by every rate-limit rejection.
var ErrRateLimited = fmt.Errorf("rate limit exceeded")

// RateLimits configures per-operation-class quotas inside a one-minute
// sliding window. The Default quota applies to classes without an override.
type RateLimits struct {
	Default   int
	PerClass  map[string]int
	WindowDur time.Duration
}

// DefaultRateLimits returns the limits used when the host config does not
// override them.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		Default: 120,
		PerClass: map[string]int{
			"network":  60,
			"shell":    20,
			"database": 120,
			"ai":       10,
		},
		WindowDur: time.Minute,
	}
}

type windowState struct {
	requests []int64 // unix milliseconds
}

// RateLimiter enforces a sliding-window quota keyed by plugin and
// operation class. Allow either admits the call or returns an error
// wrapping ErrRateLimited; it never blocks.
type RateLimiter struct {
	limits RateLimits

	mu       sync.Mutex
	windows  map[string]*windowState
	onReject func(pluginID, class string)

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// OnReject registers a callback invoked on every rejection, keyed by plugin
// and operation class. Used by the host to feed metrics.
func (rl *RateLimiter) OnReject(fn func(pluginID, class string)) {
	rl.mu.Lock()
	rl.onReject = fn
	rl.mu.Unlock()
}

// NewRateLimiter creates a rate limiter and starts its background sweep of
// stale windows. Stop must be called when the limiter is discarded.
func NewRateLimiter(limits RateLimits) *RateLimiter {
	if limits.Default <= 0 {
		limits.Default = DefaultRateLimits().Default
	}
	if limits.WindowDur <= 0 {
		limits.WindowDur = time.Minute
	}

	rl := &RateLimiter{
		limits:          limits,
		windows:         make(map[string]*windowState),
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go rl.startCleanup()

	return rl
}

func limiterKey(pluginID, class string) string {
	return pluginID + "\x00" + class
}

func (rl *RateLimiter) quota(class string) int {
	if q, ok := rl.limits.PerClass[class]; ok {
		return q
	}
	return rl.limits.Default
}

// Allow admits one call of the given operation class for the plugin, or
// returns an error wrapping ErrRateLimited.
func (rl *RateLimiter) Allow(pluginID, class string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()
	windowMs := rl.limits.WindowDur.Milliseconds()

	key := limiterKey(pluginID, class)
	state, exists := rl.windows[key]
	if !exists {
		state = &windowState{}
		rl.windows[key] = state
	}

	valid := state.requests[:0]
	for _, at := range state.requests {
		if now-at < windowMs {
			valid = append(valid, at)
		}
	}
	state.requests = valid

	if len(state.requests) >= rl.quota(class) {
		if rl.onReject != nil {
			rl.onReject(pluginID, class)
		}
		return fmt.Errorf("%w: plugin %s exceeded %s quota (%d/%s)",
			ErrRateLimited, pluginID, class, rl.quota(class), rl.limits.WindowDur)
	}

	state.requests = append(state.requests, now)
	return nil
}

// RetryAfter returns how long until the oldest request in the window
// expires, zero when the plugin is not limited.
func (rl *RateLimiter) RetryAfter(pluginID, class string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, exists := rl.windows[limiterKey(pluginID, class)]
	if !exists || len(state.requests) < rl.quota(class) {
		return 0
	}

	now := time.Now().UnixMilli()
	remaining := rl.limits.WindowDur.Milliseconds() - (now - state.requests[0])
	if remaining < 0 {
		return 0
	}
	return time.Duration(remaining) * time.Millisecond
}

// ResetPlugin clears every window belonging to a plugin. Called on
// uninstall so a reinstalled plugin starts fresh.
func (rl *RateLimiter) ResetPlugin(pluginID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	prefix := pluginID + "\x00"
	for key := range rl.windows {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(rl.windows, key)
		}
	}
}

func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()
	windowMs := rl.limits.WindowDur.Milliseconds()

	for key, state := range rl.windows {
		valid := state.requests[:0]
		for _, at := range state.requests {
			if now-at < windowMs {
				valid = append(valid, at)
			}
		}
		if len(valid) == 0 {
			delete(rl.windows, key)
		} else {
			state.requests = valid
		}
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCleanup)
	})
}
