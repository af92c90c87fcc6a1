package journal

import (
	"context"
	"errors"
	"time"
)

// RegisterDevice ensures a staff device record exists so journal rows can be
// traced back to the device that issued them.
func (r *Repository) RegisterDevice(ctx context.Context, deviceID, staffName string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO staff_devices (device_id, staff_name)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE SET
			staff_name = COALESCE(NULLIF(EXCLUDED.staff_name, ''), staff_devices.staff_name),
			last_seen_at = NOW()
	`, deviceID, staffName)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}
