package runtime

import (
	"bufio"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"chat-relay/observability"
)

// ConnectionRegistry is the central send point: it binds connection ids
// to transports and owns one outbound queue plus writer goroutine per
// connection, so a slow recipient never stalls whoever broadcasts.
type ConnectionRegistry struct {
	mu         sync.RWMutex
	conns      map[uuid.UUID]*outbound
	bufferSize int
	log        *slog.Logger
}

type outbound struct {
	conn net.Conn
	out  chan string
	done chan struct{}
}

func NewConnectionRegistry(bufferSize int, log *slog.Logger) *ConnectionRegistry {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &ConnectionRegistry{
		conns:      make(map[uuid.UUID]*outbound),
		bufferSize: bufferSize,
		log:        log,
	}
}

// Register binds connID to conn and starts its writer goroutine.
func (r *ConnectionRegistry) Register(connID uuid.UUID, conn net.Conn) {
	o := &outbound{
		conn: conn,
		out:  make(chan string, r.bufferSize),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	r.conns[connID] = o
	observability.ConnectedClients.Set(float64(len(r.conns)))
	r.mu.Unlock()

	go o.writeLoop()
}

// writeLoop drains the outbound queue onto the socket, one frame per
// line. A write error stops the writer; the handler notices through
// its own read side.
func (o *outbound) writeLoop() {
	defer close(o.done)
	w := bufio.NewWriter(o.conn)
	for line := range o.out {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// Push enqueues one line for connID. The send never blocks: when the
// queue is full or the connection is gone the line is dropped and Push
// reports false.
func (r *ConnectionRegistry) Push(connID uuid.UUID, line string) bool {
	// The send happens under the read lock so it cannot race with the
	// close in Deregister. It never blocks, so the lock is held only
	// for the channel operation.
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.conns[connID]
	if !ok {
		return false
	}

	select {
	case o.out <- line:
		return true
	default:
		r.log.Warn("outbound queue full, dropping line", "conn_id", connID)
		return false
	}
}

// Broadcast enqueues line for every registered connection.
func (r *ConnectionRegistry) Broadcast(line string) {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Push(id, line)
	}
}

// Deregister removes the binding and waits for the writer to drain the
// queued lines, so a final reply still reaches the peer before the
// handler closes the socket. Idempotent.
func (r *ConnectionRegistry) Deregister(connID uuid.UUID) {
	r.mu.Lock()
	o, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
		close(o.out)
	}
	observability.ConnectedClients.Set(float64(len(r.conns)))
	r.mu.Unlock()

	if !ok {
		return
	}
	<-o.done
}

// CloseAll force-closes every registered transport. Used on shutdown to
// unblock handlers stuck in reads; each handler then runs its own
// teardown path.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.RLock()
	conns := make([]net.Conn, 0, len(r.conns))
	for _, o := range r.conns {
		conns = append(conns, o.conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
