package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chat-relay/protocol"
	"chat-relay/repositories"
	"chat-relay/runtime/workers"
	"chat-relay/services"
)

// startTestServer wires the full stack on ephemeral ports.
func startTestServer(t *testing.T) *Server {
	t.Helper()
	req := require.New(t)
	log := discardLogger()

	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	sup := workers.NewSupervisor(log, 50*time.Millisecond)
	registry := NewConnectionRegistry(64, log)
	users := services.NewUserRegistry()
	sessions := services.NewSessionTable()
	auth := services.NewAuthService(users, sessions, log)
	rooms := services.NewChatRoomStore()
	rooms.SeedDefaults()
	history := repositories.NewMessageLog(db, log, nil)
	chat := services.NewChatService(rooms, sessions, history, registry, nil, log)
	broker := NewFileTransferBroker(auth, registry, sup, log)
	pool := NewWorkerPool(4, 16, log)

	server := NewServer(
		Options{
			ControlAddr:       "127.0.0.1:0",
			DataAddr:          "127.0.0.1:0",
			ReaperInterval:    time.Hour,
			TransferTTL:       time.Hour,
			HeartbeatInterval: time.Hour,
		},
		registry, auth, chat, rooms, broker, pool, sup, log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	req.NoError(server.Start(ctx))
	t.Cleanup(func() {
		cancel()
		server.Stop()
	})
	return server
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialControl(t *testing.T, server *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", server.ControlAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testClient) send(frame string) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, "%s\n", frame)
	require.NoError(c.t, err)
}

// waitForPrefix reads lines until one starts with prefix, skipping
// unrelated pushes (history blocks, join notices) along the way.
func (c *testClient) waitForPrefix(prefix string) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		line, err := c.reader.ReadString('\n')
		require.NoError(c.t, err, "waiting for prefix %q", prefix)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

// login logs the client in and waits for the confirmation.
func (c *testClient) login(name string) {
	c.t.Helper()
	c.send("LOGIN::" + name)
	c.waitForPrefix("SUCCESS: Logged in as " + name)
}

// joinRoomByName lists the rooms, joins the one named name and waits
// for the end of the history replay.
func (c *testClient) joinRoomByName(name string) uuid.UUID {
	c.t.Helper()
	c.send("LIST_ROOMS")
	var roomID uuid.UUID
	for {
		line := c.waitForPrefix("")
		if line == protocol.EndRoomList {
			break
		}
		if strings.HasSuffix(line, "::"+name) {
			id, err := uuid.Parse(strings.SplitN(line, "::", 2)[0])
			require.NoError(c.t, err)
			roomID = id
		}
	}
	require.NotEqual(c.t, uuid.Nil, roomID, "room %q not listed", name)
	c.send("JOIN_ROOM::" + roomID.String())
	c.waitForPrefix("--- End of history ---")
	return roomID
}

func Test_Server_Login_And_Duplicate(t *testing.T) {
	server := startTestServer(t)

	alice := dialControl(t, server)
	alice.login("Alice")

	// A second session for the same name is refused
	impostor := dialControl(t, server)
	impostor.send("LOGIN::Alice")
	impostor.waitForPrefix("ERROR: login failed")

	// Commands before login are rejected
	fresh := dialControl(t, server)
	fresh.send("LIST_ROOMS")
	fresh.waitForPrefix("ERROR: not authenticated")

	// Unknown commands get an error, the connection stays usable
	alice.send("MAKE_COFFEE::now")
	alice.waitForPrefix("ERROR: unknown command")
	alice.send("LIST_ROOMS")
	alice.waitForPrefix(protocol.StartRoomList)
}

func Test_Server_Broadcast_And_History(t *testing.T) {
	req := require.New(t)
	server := startTestServer(t)

	alice := dialControl(t, server)
	alice.login("Alice")
	roomID := alice.joinRoomByName("Lobby")

	alice.send(protocol.NewTextFrame("Alice", roomID, "first message"))
	req.Equal("[Lobby | Alice]: first message", alice.waitForPrefix("[Lobby"))

	// Bob joins afterwards and gets the history replay
	bob := dialControl(t, server)
	bob.login("Bob")
	bob.send("JOIN_ROOM::" + roomID.String())
	req.Equal("[Alice]: first message", bob.waitForPrefix("[Alice]"))
	bob.waitForPrefix("--- End of history ---")

	// Alice hears him arrive, then both get the live broadcast
	alice.waitForPrefix("[SYSTEM]: Bob joined the room.")
	bob.send(protocol.NewTextFrame("Bob", roomID, "hello Alice"))
	req.Equal("[Lobby | Bob]: hello Alice", alice.waitForPrefix("[Lobby"))
	req.Equal("[Lobby | Bob]: hello Alice", bob.waitForPrefix("[Lobby"))
}

func Test_Server_Switch_Rooms(t *testing.T) {
	server := startTestServer(t)

	alice := dialControl(t, server)
	alice.login("Alice")
	alice.joinRoomByName("Lobby")

	bob := dialControl(t, server)
	bob.login("Bob")
	bob.joinRoomByName("Lobby")
	alice.waitForPrefix("[SYSTEM]: Bob joined the room.")

	// Bob moves on; Alice hears about it
	bob.joinRoomByName("General")
	alice.waitForPrefix("[SYSTEM]: Bob left the room.")

	// Messages to an unknown room come back as an error
	bob.send(protocol.NewTextFrame("Bob", uuid.New(), "into nowhere"))
	bob.waitForPrefix("ERROR: could not find the room")
}

func Test_Server_Logout_Closes_Connection(t *testing.T) {
	req := require.New(t)
	server := startTestServer(t)

	alice := dialControl(t, server)
	alice.login("Alice")
	alice.send("LOGOUT")
	alice.waitForPrefix("SUCCESS: Logged out.")

	// The server closes the connection after the confirmation
	_ = alice.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := alice.reader.ReadString('\n')
	req.Error(err)

	// The name is free again
	relogin := dialControl(t, server)
	relogin.login("Alice")
}

func Test_Server_Disconnect_Frees_Session(t *testing.T) {
	server := startTestServer(t)

	alice := dialControl(t, server)
	alice.login("Alice")
	_ = alice.conn.Close()

	// The abrupt disconnect tears the session down; retry until the
	// server noticed.
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", server.ControlAddr().String())
		if err != nil {
			return false
		}
		defer conn.Close()
		_, _ = fmt.Fprintf(conn, "LOGIN::Alice\n")
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		line, err := bufio.NewReader(conn).ReadString('\n')
		return err == nil && strings.HasPrefix(line, "SUCCESS")
	}, 5*time.Second, 50*time.Millisecond)
}

func Test_Server_File_Transfer_End_To_End(t *testing.T) {
	req := require.New(t)
	server := startTestServer(t)
	payload := strings.Repeat("transfer payload ", 1024)

	alice := dialControl(t, server)
	alice.login("Alice")
	bob := dialControl(t, server)
	bob.login("Bob")

	// Alice offers a file, Bob receives the offer
	alice.send(fmt.Sprintf("WANT_TO_SEND_FILE::Bob::blob.bin::%d", len(payload)))
	alice.waitForPrefix("SUCCESS: File transfer request sent to Bob")
	offer := bob.waitForPrefix(protocol.PushIncomingFile)
	parts := strings.Split(offer, "::")
	req.Len(parts, 5)
	req.Equal("Alice", parts[1])
	req.Equal("blob.bin", parts[2])
	transferID := parts[4]

	// Bob accepts; both parties are told where to dial
	bob.send("ACCEPT_FILE::" + transferID)
	start := alice.waitForPrefix(protocol.PushStartTransfer)
	req.Contains(start, transferID)
	proceed := bob.waitForPrefix(protocol.PushProceedDownload)
	req.Contains(proceed, transferID)

	dataAddr := server.DataAddr().String()
	upload, err := net.Dial("tcp", dataAddr)
	req.NoError(err)
	defer upload.Close()
	download, err := net.Dial("tcp", dataAddr)
	req.NoError(err)
	defer download.Close()

	_, err = fmt.Fprintf(download, "%s::DOWNLOAD\n", transferID)
	req.NoError(err)
	_, err = fmt.Fprintf(upload, "%s::UPLOAD\n", transferID)
	req.NoError(err)
	_, err = upload.Write([]byte(payload))
	req.NoError(err)

	_ = download.SetReadDeadline(time.Now().Add(10 * time.Second))
	received, err := io.ReadAll(download)
	req.NoError(err)
	req.Equal(payload, string(received))
}

func Test_Server_Reject_File_Transfer(t *testing.T) {
	req := require.New(t)
	server := startTestServer(t)

	alice := dialControl(t, server)
	alice.login("Alice")
	bob := dialControl(t, server)
	bob.login("Bob")

	alice.send("WANT_TO_SEND_FILE::Bob::blob.bin::64")
	offer := bob.waitForPrefix(protocol.PushIncomingFile)
	transferID := strings.Split(offer, "::")[4]

	bob.send("REJECT_FILE::" + transferID)
	req.Equal("REJECT_FILE_TRANSFER::Bob", alice.waitForPrefix(protocol.PushRejectTransfer))

	// Offering to someone who is not online fails up front
	alice.send("WANT_TO_SEND_FILE::Ghost::blob.bin::64")
	alice.waitForPrefix("ERROR: user 'Ghost' is not online")
}
