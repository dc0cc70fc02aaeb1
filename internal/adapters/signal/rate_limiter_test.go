package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoomRateLimiter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRoomRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("tok"))
	assert.True(t, rl.Allow("tok"))
	assert.False(t, rl.Allow("tok"))
	assert.True(t, rl.Allow("other"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("tok"))
}

func TestRoomRateLimiterSweepsIdleKeys(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRoomRateLimiter(1, time.Second)
	rl.now = func() time.Time { return now }

	for _, key := range []string{"a", "b", "c"} {
		rl.Allow(key)
	}
	now = now.Add(2 * time.Second)
	rl.Allow("d")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.history, 1)
}
