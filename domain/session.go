package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is the live binding between a user identity and one control
// connection. At most one session exists per user and per connection.
type Session struct {
	UserID    uuid.UUID
	ConnID    uuid.UUID
	StartedAt time.Time
}
