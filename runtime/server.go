package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"chat-relay/contract"
	"chat-relay/runtime/workers"
	"chat-relay/services"
)

// Options carries the knobs the server cannot default sensibly on its
// own. Zero durations disable the matching feature.
type Options struct {
	ControlAddr       string
	DataAddr          string
	ReadTimeout       time.Duration
	ReaperInterval    time.Duration
	TransferTTL       time.Duration
	HeartbeatInterval time.Duration
}

// Server binds the control and data listeners and hands every accepted
// connection to the right component: control connections run on the
// worker pool, data connections rendezvous in the broker.
type Server struct {
	opts       Options
	registry   *ConnectionRegistry
	auth       *services.AuthService
	chat       *services.ChatService
	rooms      *services.ChatRoomStore
	broker     *FileTransferBroker
	pool       *WorkerPool
	supervisor *workers.Supervisor
	log        *slog.Logger

	controlLn net.Listener
	dataLn    net.Listener
}

func NewServer(
	opts Options,
	registry *ConnectionRegistry,
	auth *services.AuthService,
	chat *services.ChatService,
	rooms *services.ChatRoomStore,
	broker *FileTransferBroker,
	pool *WorkerPool,
	supervisor *workers.Supervisor,
	log *slog.Logger,
) *Server {
	return &Server{
		opts:       opts,
		registry:   registry,
		auth:       auth,
		chat:       chat,
		rooms:      rooms,
		broker:     broker,
		pool:       pool,
		supervisor: supervisor,
		log:        log,
	}
}

// Start binds both listeners, then runs the accept loops and the
// periodic workers under the supervisor. It returns once everything is
// accepting; a bind failure is returned before anything runs.
func (s *Server) Start(ctx context.Context) error {
	controlLn, err := net.Listen("tcp", s.opts.ControlAddr)
	if err != nil {
		return fmt.Errorf("bind control listener: %w", err)
	}
	dataLn, err := net.Listen("tcp", s.opts.DataAddr)
	if err != nil {
		_ = controlLn.Close()
		return fmt.Errorf("bind data listener: %w", err)
	}
	s.controlLn = controlLn
	s.dataLn = dataLn
	s.broker.SetDataPort(dataLn.Addr().(*net.TCPAddr).Port)

	s.pool.Start()

	s.supervisor.Add(
		&controlAcceptWorker{server: s},
		&dataAcceptWorker{server: s},
		workers.NewReaperWorker(s.broker, s.opts.ReaperInterval, s.opts.TransferTTL, s.log),
		workers.NewHeartbeatWorker(s.log, s.opts.HeartbeatInterval),
	)
	go s.supervisor.Run(ctx)

	s.log.Info("server listening",
		"control_addr", controlLn.Addr().String(),
		"data_addr", dataLn.Addr().String(),
	)
	return nil
}

// ControlAddr reports the bound control address, useful when listening
// on port 0.
func (s *Server) ControlAddr() net.Addr { return s.controlLn.Addr() }

// DataAddr reports the bound data address.
func (s *Server) DataAddr() net.Addr { return s.dataLn.Addr() }

// Stop shuts the server down in dependency order: stop accepting,
// unblock every handler by closing its transport, then wait for the
// workers and the pool to drain.
func (s *Server) Stop() {
	if s.controlLn != nil {
		_ = s.controlLn.Close()
	}
	if s.dataLn != nil {
		_ = s.dataLn.Close()
	}
	s.registry.CloseAll()
	s.supervisor.Stop()
	s.pool.Stop()
	s.log.Info("server stopped")
}

// controlAcceptWorker feeds accepted control connections to the worker
// pool. Any accept error means the listener is gone, which ends this
// worker without restart.
type controlAcceptWorker struct {
	server *Server
}

var _ contract.Worker = (*controlAcceptWorker)(nil)

func (w *controlAcceptWorker) Run(ctx context.Context) error {
	s := w.server
	for {
		conn, err := s.controlLn.Accept()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("control listener closed", "error", err)
			}
			return nil
		}

		handler := NewConnectionHandler(
			conn, s.registry, s.auth, s.chat, s.rooms, s.broker, s.opts.ReadTimeout, s.log,
		)
		s.pool.Submit(func() { handler.Run(ctx) })
	}
}

// dataAcceptWorker hands each data connection to the broker's
// rendezvous. Handshakes run on their own goroutines because a held
// connection may wait for its peer.
type dataAcceptWorker struct {
	server *Server
}

var _ contract.Worker = (*dataAcceptWorker)(nil)

func (w *dataAcceptWorker) Run(ctx context.Context) error {
	s := w.server
	for {
		conn, err := s.dataLn.Accept()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("data listener closed", "error", err)
			}
			return nil
		}
		go s.broker.HandleDataConn(ctx, conn)
	}
}
