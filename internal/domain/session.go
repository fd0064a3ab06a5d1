package domain

import "time"

// Session links an owner to a provisioned voice room.
// Only app.Manager creates or mutates sessions; everything else gets copies.
type Session struct {
	OwnerID             OwnerID           `json:"owner_id"`
	ExternalSessionID   ExternalSessionID `json:"session_id"`
	RoomAddress         string            `json:"room_url"`
	TransportCredential string            `json:"-"`
	CreatedAt           time.Time         `json:"created_at"`
	ExpiresAt           time.Time         `json:"expires_at"`
	Muted               bool              `json:"muted"`
}

// Remaining returns max(0, ExpiresAt-now).
func (s Session) Remaining(now time.Time) time.Duration {
	d := s.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
