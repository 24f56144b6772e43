package runtime

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func Test_Push_Delivers_Line(t *testing.T) {
	req := require.New(t)
	registry := NewConnectionRegistry(8, discardLogger())
	server, client := net.Pipe()
	defer client.Close()

	connID := uuid.New()
	registry.Register(connID, server)
	defer registry.Deregister(connID)

	req.True(registry.Push(connID, "hello there"))

	reader := bufio.NewReader(client)
	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	line, err := reader.ReadString('\n')
	req.NoError(err)
	req.Equal("hello there\n", line)
}

func Test_Push_Unknown_Connection(t *testing.T) {
	req := require.New(t)
	registry := NewConnectionRegistry(8, discardLogger())

	req.False(registry.Push(uuid.New(), "into the void"))
}

func Test_Deregister_Drains_Queued_Lines(t *testing.T) {
	req := require.New(t)
	registry := NewConnectionRegistry(8, discardLogger())
	server, client := net.Pipe()
	defer client.Close()

	connID := uuid.New()
	registry.Register(connID, server)

	// Given a reader consuming slowly on the peer side
	lines := make(chan string, 4)
	go func() {
		reader := bufio.NewReader(client)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()

	req.True(registry.Push(connID, "first"))
	req.True(registry.Push(connID, "last reply"))

	// When deregistering immediately
	registry.Deregister(connID)

	// Then both lines still reached the peer before the writer stopped
	req.Equal("first\n", <-lines)
	req.Equal("last reply\n", <-lines)
	req.Equal(0, registry.Count())
}

func Test_Broadcast_Reaches_All(t *testing.T) {
	req := require.New(t)
	registry := NewConnectionRegistry(8, discardLogger())

	clients := make([]net.Conn, 3)
	for i := range clients {
		server, client := net.Pipe()
		clients[i] = client
		connID := uuid.New()
		registry.Register(connID, server)
		defer registry.Deregister(connID)
	}

	registry.Broadcast("to everyone")

	for _, client := range clients {
		_ = client.SetReadDeadline(time.Now().Add(time.Second))
		line, err := bufio.NewReader(client).ReadString('\n')
		req.NoError(err)
		req.Equal("to everyone\n", line)
	}
}

func Test_CloseAll_Unblocks_Peers(t *testing.T) {
	req := require.New(t)
	registry := NewConnectionRegistry(8, discardLogger())
	server, client := net.Pipe()
	defer client.Close()

	registry.Register(uuid.New(), server)
	registry.CloseAll()

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	_, err := bufio.NewReader(client).ReadString('\n')
	req.Error(err)
}
