// Package protocol defines the ::-delimited control grammar shared by
// the server and its clients, and the first-frame handshake of the data
// endpoint. Every frame is a single UTF-8 line.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-relay/domain"
	"chat-relay/errors"
)

const Delimiter = "::"

// Client commands.
const (
	CmdLogin        = "LOGIN"
	CmdLogout       = "LOGOUT"
	CmdListRooms    = "LIST_ROOMS"
	CmdJoinRoom     = "JOIN_ROOM"
	CmdSendMsg      = "SEND_MSG"
	CmdWantSendFile = "WANT_TO_SEND_FILE"
	CmdAcceptFile   = "ACCEPT_FILE"
	CmdRejectFile   = "REJECT_FILE"
)

// Server-pushed frames.
const (
	PushIncomingFile    = "INCOMING_FILE"
	PushStartTransfer   = "START_FILE_TRANSFER"
	PushProceedDownload = "PROCEED_WITH_DOWNLOAD"
	PushRejectTransfer  = "REJECT_FILE_TRANSFER"
	StartRoomList       = "START_CHATROOM_LIST"
	EndRoomList         = "END_CHATROOM_LIST"
)

// TransferRole is declared by each data connection in its first frame,
// so the broker pairs by role instead of arrival order.
type TransferRole string

const (
	RoleUpload   TransferRole = "UPLOAD"
	RoleDownload TransferRole = "DOWNLOAD"
)

// Command splits a frame into its leading command token and the
// untouched remainder.
func Command(frame string) (string, string) {
	parts := strings.SplitN(frame, Delimiter, 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// BuildMessage encodes a message as a SEND_MSG frame:
// SEND_MSG::<id>::<ts>::<kind>::<sender>::<roomID>::<content>
func BuildMessage(m domain.Message) string {
	return strings.Join([]string{
		CmdSendMsg,
		m.ID.String(),
		m.At.Format(time.RFC3339Nano),
		string(m.Kind),
		m.Sender,
		m.RoomID.String(),
		m.Content,
	}, Delimiter)
}

// NewTextFrame builds the SEND_MSG frame a client submits for content.
func NewTextFrame(sender string, roomID uuid.UUID, content string) string {
	return BuildMessage(domain.NewTextMessage(sender, roomID, content))
}

// ParseMessage decodes a SEND_MSG frame. The split is bounded at seven
// parts so a content containing the delimiter survives intact.
func ParseMessage(frame string) (domain.Message, error) {
	parts := strings.SplitN(frame, Delimiter, 7)
	if len(parts) < 7 || parts[0] != CmdSendMsg {
		return domain.Message{}, fmt.Errorf("%w: want 7 SEND_MSG fields", errors.ErrMalformedFrame)
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: message id: %v", errors.ErrMalformedFrame, err)
	}
	at, err := time.Parse(time.RFC3339Nano, parts[2])
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: timestamp: %v", errors.ErrMalformedFrame, err)
	}
	kind := domain.MessageKind(parts[3])
	if kind != domain.KindText && kind != domain.KindSystem {
		return domain.Message{}, fmt.Errorf("%w: kind %q", errors.ErrMalformedFrame, parts[3])
	}
	roomID, err := uuid.Parse(parts[5])
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: room id: %v", errors.ErrMalformedFrame, err)
	}

	return domain.Message{
		ID:      id,
		At:      at,
		Kind:    kind,
		Sender:  parts[4],
		RoomID:  roomID,
		Content: parts[6],
	}, nil
}

// ParseLogin extracts the display name from LOGIN::<name>.
func ParseLogin(frame string) (string, error) {
	parts := strings.SplitN(frame, Delimiter, 2)
	if len(parts) < 2 || parts[0] != CmdLogin || parts[1] == "" {
		return "", fmt.Errorf("%w: want LOGIN::<name>", errors.ErrMalformedFrame)
	}
	return parts[1], nil
}

// ParseJoinRoom extracts the room id from JOIN_ROOM::<roomID>.
func ParseJoinRoom(frame string) (uuid.UUID, error) {
	parts := strings.SplitN(frame, Delimiter, 2)
	if len(parts) < 2 || parts[0] != CmdJoinRoom {
		return uuid.Nil, fmt.Errorf("%w: want JOIN_ROOM::<roomID>", errors.ErrMalformedFrame)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: room id: %v", errors.ErrMalformedFrame, err)
	}
	return id, nil
}

// ParseTransferRequest decodes WANT_TO_SEND_FILE::<recipient>::<filename>::<size>.
func ParseTransferRequest(frame string) (recipient, filename string, size int64, err error) {
	parts := strings.SplitN(frame, Delimiter, 4)
	if len(parts) < 4 || parts[0] != CmdWantSendFile {
		return "", "", 0, fmt.Errorf("%w: want WANT_TO_SEND_FILE::<recipient>::<filename>::<size>", errors.ErrMalformedFrame)
	}
	size, err = strconv.ParseInt(parts[3], 10, 64)
	if err != nil || size < 0 {
		return "", "", 0, fmt.Errorf("%w: file size %q", errors.ErrMalformedFrame, parts[3])
	}
	return parts[1], parts[2], size, nil
}

// ParseTransferResponse extracts the transfer id from an
// ACCEPT_FILE::<id> or REJECT_FILE::<id> frame.
func ParseTransferResponse(frame string) (uuid.UUID, error) {
	parts := strings.SplitN(frame, Delimiter, 2)
	if len(parts) < 2 {
		return uuid.Nil, fmt.Errorf("%w: missing transfer id", errors.ErrMalformedFrame)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: transfer id: %v", errors.ErrMalformedFrame, err)
	}
	return id, nil
}

// BuildDataHello is the first frame a data connection sends:
// <transferID>::<UPLOAD|DOWNLOAD>
func BuildDataHello(id uuid.UUID, role TransferRole) string {
	return id.String() + Delimiter + string(role)
}

// ParseDataHello decodes the data-endpoint handshake frame.
func ParseDataHello(frame string) (uuid.UUID, TransferRole, error) {
	parts := strings.SplitN(frame, Delimiter, 2)
	if len(parts) < 2 {
		return uuid.Nil, "", fmt.Errorf("%w: want <transferID>::<role>", errors.ErrMalformedFrame)
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: transfer id: %v", errors.ErrMalformedFrame, err)
	}
	role := TransferRole(parts[1])
	if role != RoleUpload && role != RoleDownload {
		return uuid.Nil, "", fmt.Errorf("%w: role %q", errors.ErrMalformedFrame, parts[1])
	}
	return id, role, nil
}

func BuildIncomingFile(from, filename string, size int64, id uuid.UUID) string {
	return strings.Join([]string{
		PushIncomingFile, from, filename, strconv.FormatInt(size, 10), id.String(),
	}, Delimiter)
}

func BuildStartTransfer(dataPort int, id uuid.UUID) string {
	return strings.Join([]string{PushStartTransfer, strconv.Itoa(dataPort), id.String()}, Delimiter)
}

func BuildProceedDownload(dataPort int, id uuid.UUID) string {
	return strings.Join([]string{PushProceedDownload, strconv.Itoa(dataPort), id.String()}, Delimiter)
}

func BuildRejectTransfer(from string) string {
	return PushRejectTransfer + Delimiter + from
}

func RoomListEntry(id uuid.UUID, name string) string {
	return id.String() + Delimiter + name
}

// ChatLine is the formatted broadcast line room members receive.
func ChatLine(room, sender, content string) string {
	return "[" + room + " | " + sender + "]: " + content
}

// SystemLine tags server-generated notices.
func SystemLine(content string) string {
	return "[SYSTEM]: " + content
}

// Replies distinguish success from error by prefix only; there are no
// structured error codes on the wire.
func Success(msg string) string { return "SUCCESS: " + msg }
func Error(msg string) string   { return "ERROR: " + msg }
