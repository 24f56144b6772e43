package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	KindText   MessageKind = "TEXT"
	KindSystem MessageKind = "SYSTEM"
)

// Message represents an immutable chat event. Once appended to the
// history it is never reordered or edited.
type Message struct {
	ID      uuid.UUID
	At      time.Time
	Kind    MessageKind
	Sender  string
	RoomID  uuid.UUID
	Content string
}

func NewTextMessage(sender string, roomID uuid.UUID, content string) Message {
	return Message{
		ID:      uuid.New(),
		At:      time.Now().UTC(),
		Kind:    KindText,
		Sender:  sender,
		RoomID:  roomID,
		Content: content,
	}
}
