package workers

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"chat-relay/contract"
	"chat-relay/observability"
)

// Relay chunk size mirrors a plain socket pipe buffer; the loop is
// bounded by the declared size, not by the buffer.
const relayChunkSize = 8192

// Ensure *RelayWorker implements the contract.Worker interface at
// compile time.
var _ contract.Worker = (*RelayWorker)(nil)

// RelayWorker pipes exactly size bytes from the source data connection
// to the sink, then closes both. The server never touches the disk.
//
// Run always returns nil: a transport error is fatal to this relay
// only and must never trigger a supervisor restart, because both
// sockets are closed by then.
type RelayWorker struct {
	transferID uuid.UUID
	source     net.Conn
	sink       net.Conn
	size       int64
	log        *slog.Logger
}

func NewRelayWorker(transferID uuid.UUID, source, sink net.Conn, size int64, log *slog.Logger) *RelayWorker {
	return &RelayWorker{transferID: transferID, source: source, sink: sink, size: size, log: log}
}

func (w *RelayWorker) Run(_ context.Context) error {
	defer func() {
		_ = w.source.Close()
		_ = w.sink.Close()
		w.log.Debug("relay sockets closed", "transfer_id", w.transferID)
	}()

	writer := bufio.NewWriter(w.sink)
	buf := make([]byte, relayChunkSize)
	var relayed int64
	sniffed := false

	w.log.Info("relay started", "transfer_id", w.transferID, "size", w.size)

	// Stop by byte count, not end-of-stream: a sender may keep the
	// socket open after the payload.
	for relayed < w.size {
		chunk := int64(len(buf))
		if remaining := w.size - relayed; remaining < chunk {
			chunk = remaining
		}
		n, err := w.source.Read(buf[:chunk])
		if n > 0 {
			if !sniffed {
				sniffed = true
				w.log.Info("relay content type detected",
					"transfer_id", w.transferID,
					"mime", mimetype.Detect(buf[:n]).String())
			}
			if _, werr := writer.Write(buf[:n]); werr != nil {
				w.log.Error("relay write failed", "transfer_id", w.transferID, "error", werr)
				observability.TransfersTotal.WithLabelValues("failed").Inc()
				return nil
			}
			relayed += int64(n)
			observability.RelayedBytes.Add(float64(n))
		}
		if err != nil {
			if err != io.EOF {
				w.log.Error("relay read failed", "transfer_id", w.transferID, "error", err)
			} else {
				w.log.Warn("source closed before declared size", "transfer_id", w.transferID, "relayed", relayed)
			}
			observability.TransfersTotal.WithLabelValues("failed").Inc()
			return nil
		}
	}

	if err := writer.Flush(); err != nil {
		w.log.Error("relay flush failed", "transfer_id", w.transferID, "error", err)
		observability.TransfersTotal.WithLabelValues("failed").Inc()
		return nil
	}

	w.log.Info("relay complete", "transfer_id", w.transferID, "relayed", relayed)
	observability.TransfersTotal.WithLabelValues("completed").Inc()
	return nil
}
