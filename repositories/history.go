package repositories

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"chat-relay/domain"
	"chat-relay/protocol"
)

// MessageLog is the append-only per-room history, replayed when a user
// joins a room. It is backed by Badger so appends and ordered reads go
// through a real storage engine; the server opens the database in
// in-memory mode, history does not survive a restart.
type MessageLog struct {
	db    *badger.DB
	log   *slog.Logger
	limit *int
	seq   atomic.Uint64
}

// NewMessageLog builds a history over db. limit caps how many of the
// most recent messages HistoryFor returns; nil means unbounded.
func NewMessageLog(db *badger.DB, log *slog.Logger, limit *int) *MessageLog {
	return &MessageLog{db: db, log: log, limit: limit}
}

// Append persists a message. The key is "msg:{room}:{seq_padded}:{uuid}":
//  1. The 19-digit zero-padded global sequence makes lexicographic key
//     order equal append order, even for appends in the same nanosecond.
//  2. The UUID tail keeps keys unique no matter what.
//
// Content is not validated; empty messages are appended like any other.
func (m *MessageLog) Append(message domain.Message) error {
	key := fmt.Sprintf("msg:%s:%019d:%s",
		message.RoomID,
		m.seq.Add(1),
		message.ID,
	)
	value := []byte(protocol.BuildMessage(message))
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// HistoryFor returns the room's messages in append order. When a limit
// is configured, only the most recent limit messages are returned; the
// scan runs backwards from the newest key and the slice is reversed so
// the caller always sees oldest-first.
func (m *MessageLog) HistoryFor(roomID uuid.UUID) ([]domain.Message, error) {
	var frames []string
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("msg:%s:", roomID))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the newest possible key for this room, then walk back.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if m.limit != nil && len(frames) == *m.limit {
				m.log.Debug("history bounded", "room_id", roomID, "limit", *m.limit)
				break
			}
			err := it.Item().Value(func(value []byte) error {
				frames = append(frames, string(value))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		message, err := protocol.ParseMessage(frames[i])
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}
