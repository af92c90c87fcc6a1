// Package presence implements the fixed-window online detection used for
// chat partner status. The rule lives in one place on purpose: every screen
// that shows an online dot goes through IsOnlineAt.
package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"schoolgate/internal/attendance"
)

// Window is how recently someone must have been seen to count as online.
const Window = 5 * time.Minute

// IsOnlineAt reports whether a last-seen instant is fresh enough at now.
// A missing last-seen is offline.
func IsOnlineAt(lastSeen *time.Time, now time.Time) bool {
	if lastSeen == nil {
		return false
	}
	return now.Sub(*lastSeen) <= Window
}

// Tracker records and reads last-seen instants in redis.
type Tracker struct {
	client *redis.Client
	now    attendance.Clock
}

// NewTracker builds a tracker on the shared redis client.
func NewTracker(client *redis.Client, now attendance.Clock) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{client: client, now: now}
}

func key(personKey string) string {
	return "presence:lastseen:" + personKey
}

// Touch marks the person as seen now. Entries expire on their own once they
// are far past the window.
func (t *Tracker) Touch(ctx context.Context, personKey string) error {
	return t.client.Set(ctx, key(personKey), t.now().UTC().Format(time.RFC3339), 24*time.Hour).Err()
}

// LastSeen returns the recorded instant, or nil when the person was never
// seen (or the entry expired).
func (t *Tracker) LastSeen(ctx context.Context, personKey string) (*time.Time, error) {
	val, err := t.client.Get(ctx, key(personKey)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// Online reports whether the person is inside the freshness window. A redis
// failure reads as offline rather than an error; presence is cosmetic.
func (t *Tracker) Online(ctx context.Context, personKey string) bool {
	ts, err := t.LastSeen(ctx, personKey)
	if err != nil {
		return false
	}
	return IsOnlineAt(ts, t.now())
}
