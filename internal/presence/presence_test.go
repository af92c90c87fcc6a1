package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsOnlineAtBoundary(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tooOld := now.Add(-Window - time.Second)
	assert.False(t, IsOnlineAt(&tooOld, now), "one second past the window is offline")

	fresh := now.Add(-Window + time.Second)
	assert.True(t, IsOnlineAt(&fresh, now), "one second inside the window is online")

	exact := now.Add(-Window)
	assert.True(t, IsOnlineAt(&exact, now), "exactly the window is still online")
}

func TestIsOnlineAtNilIsOffline(t *testing.T) {
	now := time.Now()
	assert.False(t, IsOnlineAt(nil, now))
}

func TestIsOnlineAtFutureLastSeen(t *testing.T) {
	// Clock skew: a last-seen slightly in the future still reads online.
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(10 * time.Second)
	assert.True(t, IsOnlineAt(&future, now))
}
