package runtime

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/runtime/workers"
)

// How long a data connection gets to send its handshake frame.
const handshakeTimeout = 30 * time.Second

// A well-formed hello frame is a uuid, the delimiter and a role token;
// anything longer is not a handshake.
const maxHelloFrameLen = 64

// Presence resolves a display name to the control connection of its
// live session.
type Presence interface {
	ConnByName(name string) (uuid.UUID, bool)
}

type acceptedTransfer struct {
	size         int64
	senderConnID uuid.UUID
	acceptedAt   time.Time
}

type dataHold struct {
	conn   net.Conn
	role   protocol.TransferRole
	heldAt time.Time
}

// FileTransferBroker owns the whole life of a transfer: the negotiation
// entry while the recipient decides, the registered size once accepted,
// and the rendezvous that pairs the two data connections before the
// relay starts. Each check-then-act on the three tables happens under
// one lock.
//
// Data connections declare their role in the handshake frame, so
// pairing is by role, never by arrival order.
type FileTransferBroker struct {
	mu       sync.Mutex
	pending  map[uuid.UUID]domain.PendingTransfer
	accepted map[uuid.UUID]acceptedTransfer
	holds    map[uuid.UUID]dataHold
	dataPort int

	presence   Presence
	registry   *ConnectionRegistry
	supervisor *workers.Supervisor
	log        *slog.Logger
}

func NewFileTransferBroker(
	presence Presence,
	registry *ConnectionRegistry,
	supervisor *workers.Supervisor,
	log *slog.Logger,
) *FileTransferBroker {
	return &FileTransferBroker{
		pending:    make(map[uuid.UUID]domain.PendingTransfer),
		accepted:   make(map[uuid.UUID]acceptedTransfer),
		holds:      make(map[uuid.UUID]dataHold),
		presence:   presence,
		registry:   registry,
		supervisor: supervisor,
		log:        log,
	}
}

// SetDataPort records the bound data-listener port advertised to both
// parties of an accepted transfer.
func (b *FileTransferBroker) SetDataPort(port int) {
	b.mu.Lock()
	b.dataPort = port
	b.mu.Unlock()
}

// Request starts a negotiation. The recipient must hold an active
// session, otherwise ErrRecipientOffline and no side effects at all.
func (b *FileTransferBroker) Request(senderConnID uuid.UUID, senderName, recipientName, fileName string, size int64) (uuid.UUID, error) {
	recipientConn, online := b.presence.ConnByName(recipientName)
	if !online {
		return uuid.Nil, errors.ErrRecipientOffline
	}

	transfer := domain.PendingTransfer{
		TransferID:    uuid.New(),
		SenderConnID:  senderConnID,
		SenderName:    senderName,
		RecipientName: recipientName,
		FileName:      fileName,
		FileSize:      size,
		CreatedAt:     time.Now().UTC(),
	}

	b.mu.Lock()
	b.pending[transfer.TransferID] = transfer
	b.mu.Unlock()

	b.registry.Push(recipientConn, protocol.BuildIncomingFile(senderName, fileName, size, transfer.TransferID))
	observability.TransfersTotal.WithLabelValues("requested").Inc()
	b.log.Info("transfer requested",
		"transfer_id", transfer.TransferID,
		"from", senderName, "to", recipientName, "size", size)
	return transfer.TransferID, nil
}

// Respond resolves a negotiation. Reject notifies the sender and
// discards the entry. Accept registers the size for the rendezvous and
// instructs both parties, over their control connections, to dial the
// data endpoint.
func (b *FileTransferBroker) Respond(transferID uuid.UUID, accepted bool, responderName string, responderConnID uuid.UUID) error {
	b.mu.Lock()
	transfer, ok := b.pending[transferID]
	if !ok {
		b.mu.Unlock()
		return errors.ErrUnknownTransfer
	}
	delete(b.pending, transferID)
	port := b.dataPort
	if accepted {
		b.accepted[transferID] = acceptedTransfer{
			size:         transfer.FileSize,
			senderConnID: transfer.SenderConnID,
			acceptedAt:   time.Now(),
		}
	}
	b.mu.Unlock()

	if !accepted {
		b.registry.Push(transfer.SenderConnID, protocol.BuildRejectTransfer(responderName))
		observability.TransfersTotal.WithLabelValues("rejected").Inc()
		b.log.Info("transfer rejected", "transfer_id", transferID, "by", responderName)
		return nil
	}

	b.registry.Push(transfer.SenderConnID, protocol.BuildStartTransfer(port, transferID))
	b.registry.Push(responderConnID, protocol.BuildProceedDownload(port, transferID))
	observability.TransfersTotal.WithLabelValues("accepted").Inc()
	b.log.Info("transfer accepted", "transfer_id", transferID, "by", responderName)
	return nil
}

// HandleDataConn is the rendezvous point, called once per connection
// accepted on the data listener. The first arrival for a transfer id is
// held; the second, carrying the opposite role, triggers the relay.
func (b *FileTransferBroker) HandleDataConn(ctx context.Context, conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	// Read the handshake byte-wise: a buffered reader could swallow the
	// first payload bytes that follow the frame.
	hello, err := readFrame(conn)
	if err != nil {
		b.log.Warn("data handshake read failed", "error", err)
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	transferID, role, err := protocol.ParseDataHello(hello)
	if err != nil {
		b.log.Warn("bad data handshake", "error", err)
		_ = conn.Close()
		return
	}

	b.mu.Lock()
	accepted, known := b.accepted[transferID]
	if !known {
		b.mu.Unlock()
		b.log.Warn("data connection for unknown transfer", "transfer_id", transferID)
		_ = conn.Close()
		return
	}

	hold, held := b.holds[transferID]
	if !held {
		b.holds[transferID] = dataHold{conn: conn, role: role, heldAt: time.Now()}
		b.mu.Unlock()
		b.log.Debug("first party at rendezvous", "transfer_id", transferID, "role", role)
		return
	}
	if hold.role == role {
		b.mu.Unlock()
		b.log.Warn("duplicate role at rendezvous", "transfer_id", transferID, "role", role)
		_ = conn.Close()
		return
	}
	delete(b.holds, transferID)
	delete(b.accepted, transferID)
	b.mu.Unlock()

	source, sink := conn, hold.conn
	if role == protocol.RoleDownload {
		source, sink = hold.conn, conn
	}
	b.supervisor.Start(ctx, workers.NewRelayWorker(transferID, source, sink, accepted.size, b.log))
}

// DiscardBySender drops the negotiation entries a disconnecting control
// connection originated. Accepted-but-unpaired transfers are left to
// the reaper.
func (b *FileTransferBroker) DiscardBySender(connID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, transfer := range b.pending {
		if transfer.SenderConnID == connID {
			delete(b.pending, id)
			b.log.Debug("pending transfer discarded", "transfer_id", id)
		}
	}
}

// Sweep expires negotiation entries, accepted registrations and held
// data connections older than olderThan, closing any held socket. It
// reports how many transfers were reclaimed; a transfer with rows in
// several tables counts once.
func (b *FileTransferBroker) Sweep(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	var stale []net.Conn
	reapedIDs := make(map[uuid.UUID]struct{})

	b.mu.Lock()
	for id, transfer := range b.pending {
		if transfer.CreatedAt.Before(cutoff) {
			delete(b.pending, id)
			reapedIDs[id] = struct{}{}
		}
	}
	for id, accepted := range b.accepted {
		if accepted.acceptedAt.Before(cutoff) {
			delete(b.accepted, id)
			reapedIDs[id] = struct{}{}
		}
	}
	for id, hold := range b.holds {
		if hold.heldAt.Before(cutoff) {
			delete(b.holds, id)
			stale = append(stale, hold.conn)
			reapedIDs[id] = struct{}{}
		}
	}
	b.mu.Unlock()

	for _, conn := range stale {
		_ = conn.Close()
	}
	reaped := len(reapedIDs)
	if reaped > 0 {
		observability.TransfersTotal.WithLabelValues("expired").Add(float64(reaped))
	}
	return reaped
}

// readFrame reads a single newline-terminated frame one byte at a time,
// leaving everything after the terminator untouched on the socket. A
// frame exceeding maxHelloFrameLen is rejected so a hostile peer cannot
// grow the buffer until the deadline.
func readFrame(conn net.Conn) (string, error) {
	var frame []byte
	buf := make([]byte, 1)
	for {
		if len(frame) >= maxHelloFrameLen {
			return "", errors.ErrMalformedFrame
		}
		if _, err := conn.Read(buf); err != nil {
			return "", err
		}
		if buf[0] == '\n' {
			break
		}
		frame = append(frame, buf[0])
	}
	if n := len(frame); n > 0 && frame[n-1] == '\r' {
		frame = frame[:n-1]
	}
	return string(frame), nil
}
