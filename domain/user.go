// Package domain contains core concepts of the chat system.
// Entities here carry no runtime, network, or storage logic.
package domain

import (
	"github.com/google/uuid"
)

// User is an identity created on first use of a display name.
// The ID is immutable; the name may change under a uniqueness check
// owned by the user registry.
type User struct {
	ID   uuid.UUID
	Name string
}

func NewUser(name string) *User {
	return &User{ID: uuid.New(), Name: name}
}
