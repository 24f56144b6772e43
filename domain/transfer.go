package domain

import (
	"time"

	"github.com/google/uuid"
)

// PendingTransfer is a file-transfer offer waiting for the recipient's
// answer. It lives only between the sender's request and a terminal
// response, connection loss, or reaper expiry.
type PendingTransfer struct {
	TransferID    uuid.UUID
	SenderConnID  uuid.UUID
	SenderName    string
	RecipientName string
	FileName      string
	FileSize      int64
	CreatedAt     time.Time
}
