package services

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/repositories"
)

// Transform is the stateless text substitution applied exactly once to
// each submitted message (emoji shortcuts and the like). The function
// itself is an external collaborator; the service only owns the single
// application point.
type Transform func(string) string

// Notifier enqueues one line on a connection's outbound queue. It
// reports false when the line was dropped (unknown connection or a full
// queue); a broadcast never blocks on a slow recipient.
type Notifier interface {
	Push(connID uuid.UUID, line string) bool
}

// ChatService routes messages and room membership changes: it is the
// only writer that combines the room store, the history log, the
// session table and the outbound side of connections.
type ChatService struct {
	rooms     *ChatRoomStore
	sessions  *SessionTable
	history   *repositories.MessageLog
	notify    Notifier
	transform Transform
	log       *slog.Logger
}

func NewChatService(
	rooms *ChatRoomStore,
	sessions *SessionTable,
	history *repositories.MessageLog,
	notify Notifier,
	transform Transform,
	log *slog.Logger,
) *ChatService {
	if transform == nil {
		transform = func(s string) string { return s }
	}
	return &ChatService{
		rooms:     rooms,
		sessions:  sessions,
		history:   history,
		notify:    notify,
		transform: transform,
		log:       log,
	}
}

// Submit applies the text transform once, appends the message to the
// room history and fans the formatted line out to every current member.
// A member without a live session is skipped, not an error. An unknown
// room yields ErrRoomNotFound so the sender gets told instead of being
// silently ignored.
//
// Append and fan-out happen under the room lock: together with Switch
// this guarantees a joining member sees each message exactly once,
// either in the history replay or as a live broadcast.
func (s *ChatService) Submit(message domain.Message) error {
	room, ok := s.rooms.Get(message.RoomID)
	if !ok {
		return errors.ErrRoomNotFound
	}

	room.Lock()
	defer room.Unlock()

	message.Content = s.transform(message.Content)
	if err := s.history.Append(message); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	line := protocol.ChatLine(room.Name, message.Sender, message.Content)
	for _, memberID := range room.MemberIDs() {
		connID, active := s.sessions.ConnByUser(memberID)
		if !active {
			continue
		}
		if !s.notify.Push(connID, line) {
			s.log.Warn("broadcast line dropped", "room", room.Name, "conn_id", connID)
		}
	}

	observability.MessagesTotal.WithLabelValues(string(message.Kind)).Inc()
	return nil
}

// Switch moves user from its current room (nil when none) into the room
// identified by to: leave(old) then join(new), each notifying only the
// *other* members of the affected room. The joiner receives the bounded
// history block; it is snapshotted and enqueued under the room lock so
// no concurrent append can be missed or duplicated.
func (s *ChatService) Switch(user *domain.User, connID uuid.UUID, from *uuid.UUID, to uuid.UUID) error {
	room, ok := s.rooms.Get(to)
	if !ok {
		return errors.ErrRoomNotFound
	}

	// Re-joining the current room is a no-op: no second replay, no
	// duplicate joined notice to the other members.
	if from != nil && *from == to {
		return nil
	}
	if from != nil {
		s.Leave(user, *from)
	}

	room.Lock()
	defer room.Unlock()

	if room.IsFull(user.ID) {
		return errors.ErrRoomFull
	}
	room.Add(user.ID)

	messages, err := s.history.HistoryFor(to)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	s.pushHistory(connID, room.Name, messages)

	notice := protocol.SystemLine(user.Name + " joined the room.")
	for _, memberID := range room.MemberIDs() {
		if memberID == user.ID {
			continue
		}
		if peerConn, active := s.sessions.ConnByUser(memberID); active {
			s.notify.Push(peerConn, notice)
		}
	}
	return nil
}

// Leave removes user from the room and tells the remaining members. It
// is a no-op for an unknown room or a non-member.
func (s *ChatService) Leave(user *domain.User, roomID uuid.UUID) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}

	room.Lock()
	wasMember := room.Has(user.ID)
	room.Remove(user.ID)
	remaining := room.MemberIDs()
	room.Unlock()

	if !wasMember {
		return
	}
	notice := protocol.SystemLine(user.Name + " left the room.")
	for _, memberID := range remaining {
		if peerConn, active := s.sessions.ConnByUser(memberID); active {
			s.notify.Push(peerConn, notice)
		}
	}
}

func (s *ChatService) pushHistory(connID uuid.UUID, roomName string, messages []domain.Message) {
	s.notify.Push(connID, "--- Showing history for "+roomName+" ---")
	if len(messages) == 0 {
		s.notify.Push(connID, "... No messages in this room yet ...")
	}
	lines := lo.Map(messages, func(m domain.Message, _ int) string {
		return "[" + m.Sender + "]: " + m.Content
	})
	for _, line := range lines {
		s.notify.Push(connID, line)
	}
	s.notify.Push(connID, "--- End of history ---")
}
