package models

import "time"

// ActorContext identifies the currently authenticated user so offline
// writes can be audit-stamped without a server round trip. At most one
// active context exists per device session.
type ActorContext struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	UpdatedAt int64  `json:"updated_at"`
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (a *ActorContext) UpdatedAtTime() time.Time {
	return time.Unix(a.UpdatedAt, 0)
}
