package services

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"chat-relay/domain"
	"chat-relay/errors"
)

// ChatRoomStore owns the room map. Individual room membership is
// guarded by each room's own lock so two rooms never contend.
type ChatRoomStore struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]*domain.Room
}

func NewChatRoomStore() *ChatRoomStore {
	return &ChatRoomStore{rooms: make(map[uuid.UUID]*domain.Room)}
}

// SeedDefaults creates the rooms every fresh server starts with, owned
// by a synthetic system identity.
func (s *ChatRoomStore) SeedDefaults() {
	systemID := uuid.New()
	s.Create("Lobby", systemID, domain.DefaultRoomCapacity)
	s.Create("General", systemID, domain.DefaultRoomCapacity)
}

// Create registers a new room. The creator joins automatically.
func (s *ChatRoomStore) Create(name string, ownerID uuid.UUID, capacity int) *domain.Room {
	room := domain.NewRoom(name, ownerID, capacity)
	s.mu.Lock()
	s.rooms[room.ID] = room
	s.mu.Unlock()
	return room
}

func (s *ChatRoomStore) Get(id uuid.UUID) (*domain.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	return room, ok
}

// Join adds userID to the room. ErrRoomNotFound when the room does not
// exist, ErrRoomFull at capacity (the membership set is untouched in
// that case), and an idempotent success when already a member.
func (s *ChatRoomStore) Join(roomID, userID uuid.UUID) error {
	room, ok := s.Get(roomID)
	if !ok {
		return errors.ErrRoomNotFound
	}

	room.Lock()
	defer room.Unlock()
	if room.IsFull(userID) {
		return errors.ErrRoomFull
	}
	room.Add(userID)
	return nil
}

// Leave removes userID from the room; a no-op when the room does not
// exist or the user is not a member.
func (s *ChatRoomStore) Leave(roomID, userID uuid.UUID) {
	room, ok := s.Get(roomID)
	if !ok {
		return
	}
	room.Lock()
	room.Remove(userID)
	room.Unlock()
}

// List returns all rooms in a stable name order for LIST_ROOMS.
func (s *ChatRoomStore) List() []*domain.Room {
	s.mu.RLock()
	rooms := make([]*domain.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms
}
