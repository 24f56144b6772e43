package services

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
)

// fakeNotifier records every pushed line per connection.
type fakeNotifier struct {
	mu    sync.Mutex
	lines map[uuid.UUID][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{lines: make(map[uuid.UUID][]string)}
}

func (f *fakeNotifier) Push(connID uuid.UUID, line string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines[connID] = append(f.lines[connID], line)
	return true
}

func (f *fakeNotifier) linesFor(connID uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines[connID]...)
}

func (f *fakeNotifier) countContaining(connID uuid.UUID, substr string) int {
	count := 0
	for _, line := range f.linesFor(connID) {
		if strings.Contains(line, substr) {
			count++
		}
	}
	return count
}

type chatFixture struct {
	chat     *ChatService
	rooms    *ChatRoomStore
	sessions *SessionTable
	notify   *fakeNotifier
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	req := require.New(t)

	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rooms := NewChatRoomStore()
	sessions := NewSessionTable()
	notify := newFakeNotifier()
	history := repositories.NewMessageLog(db, log, nil)
	chat := NewChatService(rooms, sessions, history, notify, nil, log)
	return &chatFixture{chat: chat, rooms: rooms, sessions: sessions, notify: notify}
}

// login gives the fixture a user with a live session.
func (f *chatFixture) login(t *testing.T, name string) (*domain.User, uuid.UUID) {
	t.Helper()
	user := domain.NewUser(name)
	connID := uuid.New()
	_, err := f.sessions.Bind(user.ID, connID)
	require.NoError(t, err)
	return user, connID
}

func Test_Submit_Unknown_Room(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	msg := domain.NewTextMessage("Alice", uuid.New(), "hello?")
	req.ErrorIs(f.chat.Submit(msg), errors.ErrRoomNotFound)
}

func Test_Submit_Reaches_Every_Member(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)
	room := f.rooms.Create("Lobby", uuid.New(), 10)

	alice, aliceConn := f.login(t, "Alice")
	bob, bobConn := f.login(t, "Bob")
	req.NoError(f.chat.Switch(alice, aliceConn, nil, room.ID))
	req.NoError(f.chat.Switch(bob, bobConn, nil, room.ID))

	req.NoError(f.chat.Submit(domain.NewTextMessage("Alice", room.ID, "hello room")))

	want := "[Lobby | Alice]: hello room"
	req.Equal(1, f.notify.countContaining(aliceConn, want))
	req.Equal(1, f.notify.countContaining(bobConn, want))
}

func Test_Switch_Notices_Go_To_Others_Only(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)
	lobby := f.rooms.Create("Lobby", uuid.New(), 10)
	general := f.rooms.Create("General", uuid.New(), 10)

	alice, aliceConn := f.login(t, "Alice")
	bob, bobConn := f.login(t, "Bob")
	clara, claraConn := f.login(t, "Clara")
	req.NoError(f.chat.Switch(alice, aliceConn, nil, lobby.ID))
	req.NoError(f.chat.Switch(bob, bobConn, nil, lobby.ID))
	req.NoError(f.chat.Switch(clara, claraConn, nil, general.ID))

	// When Bob moves to General
	from := lobby.ID
	req.NoError(f.chat.Switch(bob, bobConn, &from, general.ID))

	// Then Alice heard him leave exactly once, Clara heard him arrive
	// exactly once, Bob heard neither notice
	req.Equal(1, f.notify.countContaining(aliceConn, "Bob left the room."))
	req.Equal(1, f.notify.countContaining(claraConn, "Bob joined the room."))
	req.Equal(0, f.notify.countContaining(claraConn, "Bob left the room."))
	req.Equal(0, f.notify.countContaining(bobConn, "Bob left the room."))
	req.Equal(0, f.notify.countContaining(bobConn, "Bob joined the room."))
}

func Test_Switch_Replays_History_Oldest_First(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)
	room := f.rooms.Create("Lobby", uuid.New(), 10)

	alice, aliceConn := f.login(t, "Alice")
	req.NoError(f.chat.Switch(alice, aliceConn, nil, room.ID))
	for i := 1; i <= 3; i++ {
		req.NoError(f.chat.Submit(domain.NewTextMessage("Alice", room.ID, fmt.Sprintf("msg-%d", i))))
	}

	// When Bob joins afterwards
	bob, bobConn := f.login(t, "Bob")
	req.NoError(f.chat.Switch(bob, bobConn, nil, room.ID))

	// Then the replay block holds all three messages, oldest first
	lines := f.notify.linesFor(bobConn)
	req.Equal("--- Showing history for Lobby ---", lines[0])
	req.Equal("[Alice]: msg-1", lines[1])
	req.Equal("[Alice]: msg-2", lines[2])
	req.Equal("[Alice]: msg-3", lines[3])
	req.Equal("--- End of history ---", lines[4])
}

func Test_Switch_Empty_History_Marker(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)
	room := f.rooms.Create("Lobby", uuid.New(), 10)

	alice, aliceConn := f.login(t, "Alice")
	req.NoError(f.chat.Switch(alice, aliceConn, nil, room.ID))

	lines := f.notify.linesFor(aliceConn)
	req.Equal([]string{
		"--- Showing history for Lobby ---",
		"... No messages in this room yet ...",
		"--- End of history ---",
	}, lines)
}

// Joining while messages keep flowing must lose nothing and duplicate
// nothing: every message lands either in the replay or as a broadcast.
func Test_Join_During_Traffic_No_Gap_No_Duplicate(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)
	room := f.rooms.Create("Lobby", uuid.New(), 10)

	alice, aliceConn := f.login(t, "Alice")
	req.NoError(f.chat.Switch(alice, aliceConn, nil, room.ID))

	const total = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			_ = f.chat.Submit(domain.NewTextMessage("Alice", room.ID, fmt.Sprintf("tick-%04d", i)))
		}
	}()

	bob, bobConn := f.login(t, "Bob")
	req.NoError(f.chat.Switch(bob, bobConn, nil, room.ID))
	<-done

	// Count each tick across Bob's replay lines and broadcast lines.
	seen := make(map[string]int)
	for _, line := range f.notify.linesFor(bobConn) {
		if idx := strings.Index(line, "tick-"); idx >= 0 {
			seen[line[idx:]]++
		}
	}
	req.Len(seen, total)
	for tick, count := range seen {
		req.Equal(1, count, "message %s delivered %d times", tick, count)
	}
}

func Test_Rejoining_Current_Room_Is_A_NoOp(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)
	room := f.rooms.Create("Lobby", uuid.New(), 10)

	alice, aliceConn := f.login(t, "Alice")
	bob, bobConn := f.login(t, "Bob")
	req.NoError(f.chat.Switch(alice, aliceConn, nil, room.ID))
	req.NoError(f.chat.Switch(bob, bobConn, nil, room.ID))

	// When Bob sends JOIN_ROOM again for the room he is already in
	from := room.ID
	req.NoError(f.chat.Switch(bob, bobConn, &from, room.ID))

	// Then Alice hears exactly one join and Bob gets one replay block
	req.Equal(1, f.notify.countContaining(aliceConn, "Bob joined the room."))
	req.Equal(1, f.notify.countContaining(bobConn, "--- Showing history for Lobby ---"))
}

func Test_Switch_Into_Full_Room(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)
	lobby := f.rooms.Create("Lobby", uuid.New(), 10)
	tiny := f.rooms.Create("Tiny", uuid.New(), 1) // owner fills it

	alice, aliceConn := f.login(t, "Alice")
	req.NoError(f.chat.Switch(alice, aliceConn, nil, lobby.ID))

	// The old room was left before the rejection; Alice ends up roomless.
	from := lobby.ID
	req.ErrorIs(f.chat.Switch(alice, aliceConn, &from, tiny.ID), errors.ErrRoomFull)
	lobby.Lock()
	has := lobby.Has(alice.ID)
	lobby.Unlock()
	req.False(has)
}
