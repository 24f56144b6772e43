package runtime

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/services"
)

// ConnectionHandler drives one control connection through its state
// machine: Unauthenticated -> Authenticated -> Closed. All errors stay
// on this connection as textual replies; nothing here can take the
// process down.
type ConnectionHandler struct {
	connID      uuid.UUID
	conn        net.Conn
	registry    *ConnectionRegistry
	auth        *services.AuthService
	chat        *services.ChatService
	rooms       *services.ChatRoomStore
	broker      *FileTransferBroker
	readTimeout time.Duration
	log         *slog.Logger

	user        *domain.User
	currentRoom *uuid.UUID
	closeOnce   sync.Once
}

func NewConnectionHandler(
	conn net.Conn,
	registry *ConnectionRegistry,
	auth *services.AuthService,
	chat *services.ChatService,
	rooms *services.ChatRoomStore,
	broker *FileTransferBroker,
	readTimeout time.Duration,
	log *slog.Logger,
) *ConnectionHandler {
	connID := uuid.New()
	return &ConnectionHandler{
		connID:      connID,
		conn:        conn,
		registry:    registry,
		auth:        auth,
		chat:        chat,
		rooms:       rooms,
		broker:      broker,
		readTimeout: readTimeout,
		log:         log.With("conn_id", connID),
	}
}

// Run reads frames until logout, read error, EOF or an expired idle
// deadline, then tears the connection down exactly once.
func (h *ConnectionHandler) Run(ctx context.Context) {
	h.registry.Register(h.connID, h.conn)
	defer h.teardown()

	reader := bufio.NewReader(h.conn)
	for {
		if ctx.Err() != nil {
			return
		}
		if h.readTimeout > 0 {
			_ = h.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		}

		line, err := readLine(reader)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				h.log.Info("idle connection reclaimed")
			} else if err != io.EOF {
				h.log.Warn("control connection lost", "error", err)
			}
			return
		}
		if line == "" {
			continue
		}
		if !h.dispatch(line) {
			return
		}
	}
}

// dispatch routes one frame; it reports false when the connection
// should close (logout). Unknown or malformed commands get an error
// reply and the connection stays open.
func (h *ConnectionHandler) dispatch(frame string) bool {
	start := time.Now()
	cmd, _ := protocol.Command(frame)
	keepOpen := true

	switch cmd {
	case protocol.CmdLogin:
		h.handleLogin(frame)
	case protocol.CmdLogout:
		keepOpen = !h.handleLogout()
	case protocol.CmdListRooms:
		h.handleListRooms()
	case protocol.CmdJoinRoom:
		h.handleJoinRoom(frame)
	case protocol.CmdSendMsg:
		h.handleSendMessage(frame)
	case protocol.CmdWantSendFile:
		h.handleTransferRequest(frame)
	case protocol.CmdAcceptFile:
		h.handleTransferResponse(frame, true)
	case protocol.CmdRejectFile:
		h.handleTransferResponse(frame, false)
	default:
		cmd = "unknown"
		h.reply(protocol.Error("unknown command"))
	}

	observability.CommandDuration.WithLabelValues(cmd).Observe(time.Since(start).Seconds())
	return keepOpen
}

func (h *ConnectionHandler) handleLogin(frame string) {
	name, err := protocol.ParseLogin(frame)
	if err != nil {
		h.reply(protocol.Error("invalid login format"))
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		h.reply(protocol.Error("invalid login format"))
		return
	}

	user, err := h.auth.Login(name, h.connID)
	if err != nil {
		h.reply(protocol.Error("login failed: " + err.Error()))
		return
	}
	h.user = user
	h.reply(protocol.Success("Logged in as " + user.Name))
}

// handleLogout reports true when a session actually ended; the caller
// then closes the connection, which runs the shared teardown.
func (h *ConnectionHandler) handleLogout() bool {
	if h.user == nil {
		h.reply(protocol.Error("not logged in"))
		return false
	}
	h.reply(protocol.Success("Logged out."))
	return true
}

func (h *ConnectionHandler) handleListRooms() {
	if !h.requireAuth() {
		return
	}
	h.reply(protocol.StartRoomList)
	for _, room := range h.rooms.List() {
		h.reply(protocol.RoomListEntry(room.ID, room.Name))
	}
	h.reply(protocol.EndRoomList)
}

func (h *ConnectionHandler) handleJoinRoom(frame string) {
	if !h.requireAuth() {
		return
	}
	roomID, err := protocol.ParseJoinRoom(frame)
	if err != nil {
		h.reply(protocol.Error("invalid room id"))
		return
	}

	switchedFrom := h.currentRoom
	err = h.chat.Switch(h.user, h.connID, h.currentRoom, roomID)
	switch err {
	case nil:
		h.currentRoom = &roomID
	case errors.ErrRoomNotFound:
		h.reply(protocol.Error("could not find the room"))
	case errors.ErrRoomFull:
		// The old room was already left; the user is roomless now.
		if switchedFrom != nil && *switchedFrom != roomID {
			h.currentRoom = nil
		}
		h.reply(protocol.Error("room is full"))
	default:
		h.reply(protocol.Error("could not join the room"))
	}
}

func (h *ConnectionHandler) handleSendMessage(frame string) {
	if !h.requireAuth() {
		return
	}
	message, err := protocol.ParseMessage(frame)
	if err != nil {
		h.reply(protocol.Error("invalid message format"))
		return
	}

	switch err := h.chat.Submit(message); err {
	case nil:
	case errors.ErrRoomNotFound:
		h.reply(protocol.Error("could not find the room"))
	default:
		h.log.Error("message routing failed", "error", err)
		h.reply(protocol.Error("could not deliver the message"))
	}
}

func (h *ConnectionHandler) handleTransferRequest(frame string) {
	if !h.requireAuth() {
		return
	}
	recipient, fileName, size, err := protocol.ParseTransferRequest(frame)
	if err != nil {
		h.reply(protocol.Error("invalid file transfer request"))
		return
	}

	if _, err := h.broker.Request(h.connID, h.user.Name, recipient, fileName, size); err != nil {
		h.reply(protocol.Error("user '" + recipient + "' is not online"))
		return
	}
	h.reply(protocol.Success("File transfer request sent to " + recipient + ". Waiting for response..."))
}

func (h *ConnectionHandler) handleTransferResponse(frame string, accepted bool) {
	if !h.requireAuth() {
		return
	}
	transferID, err := protocol.ParseTransferResponse(frame)
	if err != nil {
		h.reply(protocol.Error("invalid transfer id"))
		return
	}
	if err := h.broker.Respond(transferID, accepted, h.user.Name, h.connID); err != nil {
		h.reply(protocol.Error("unknown transfer"))
	}
}

func (h *ConnectionHandler) requireAuth() bool {
	if h.user == nil {
		h.reply(protocol.Error("not authenticated, log in first"))
		return false
	}
	return true
}

func (h *ConnectionHandler) reply(line string) {
	h.registry.Push(h.connID, line)
}

// teardown runs exactly once no matter how the handler exits. Each
// sub-step is idempotent on its own.
func (h *ConnectionHandler) teardown() {
	h.closeOnce.Do(func() {
		if h.user != nil && h.currentRoom != nil {
			h.chat.Leave(h.user, *h.currentRoom)
		}
		h.broker.DiscardBySender(h.connID)
		h.auth.LogoutByConn(h.connID)
		h.registry.Deregister(h.connID)
		_ = h.conn.Close()
		h.log.Info("connection closed")
	})
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err == nil {
		return strings.TrimRight(line, "\r\n"), nil
	}
	if err == io.EOF && line != "" {
		// Last line without a newline still counts.
		return strings.TrimRight(line, "\r\n"), nil
	}
	return "", err
}
