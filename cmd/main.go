package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, starts both listeners and blocks until a
// termination signal. Keeping the whole lifecycle in one error-returning
// function lets the defers (database close, server stop) run before the
// process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	log := loggerFromString(config.LogLevel)

	// 2. History store (BadgerDB, in-memory: history lives and dies
	// with the process)
	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Services & supervision
	sup := workers.NewSupervisor(log, config.RestartInterval)
	registry := runtime.NewConnectionRegistry(config.ConnectionBufferSize, log)
	users := services.NewUserRegistry()
	sessions := services.NewSessionTable()
	auth := services.NewAuthService(users, sessions, log)
	rooms := services.NewChatRoomStore()
	rooms.SeedDefaults()
	history := repositories.NewMessageLog(db, log, &config.LimitMessages)
	chat := services.NewChatService(rooms, sessions, history, registry, nil, log)
	broker := runtime.NewFileTransferBroker(auth, registry, sup, log)
	pool := runtime.NewWorkerPool(config.NumberOfWorkers, config.BufferSize, log)

	server := runtime.NewServer(
		runtime.Options{
			ControlAddr:       fmt.Sprintf("%s:%d", config.Host, config.ControlPort),
			DataAddr:          fmt.Sprintf("%s:%d", config.Host, config.DataPort),
			ReadTimeout:       config.ReadTimeout,
			ReaperInterval:    config.ReaperInterval,
			TransferTTL:       config.TransferTTL,
			HeartbeatInterval: config.HeartbeatInterval,
		},
		registry, auth, chat, rooms, broker, pool, sup, log,
	)

	// 4. Context & signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Start listening
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	// 6. Metrics endpoint
	metricsAddr := fmt.Sprintf("%s:%d", config.Host, config.MetricsPort)
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		log.Info("Starting metrics server", "address", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	// 7. Wait for a stop signal
	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	// 8. Final cleanup
	_ = metricsSrv.Close()
	server.Stop()
	log.Info("Program stopped cleanly")

	return nil
}

func loggerFromString(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
