package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultRoomCapacity = 50

// Room is a named broadcast group with bounded membership. Rooms are
// never deleted once created.
//
// Member access is not self-synchronized: callers bracket reads and
// writes with Lock/Unlock. The room store and the chat service are the
// only writers, and holding the room lock across compound operations
// (append+broadcast, join+history) is what keeps joiners from seeing a
// message twice or not at all.
type Room struct {
	sync.Mutex

	ID        uuid.UUID
	Name      string
	OwnerID   uuid.UUID
	Capacity  int
	CreatedAt time.Time

	members map[uuid.UUID]struct{}
}

// NewRoom creates a room owned by ownerID. The owner joins immediately.
func NewRoom(name string, ownerID uuid.UUID, capacity int) *Room {
	if capacity <= 0 {
		capacity = DefaultRoomCapacity
	}
	r := &Room{
		ID:        uuid.New(),
		Name:      name,
		OwnerID:   ownerID,
		Capacity:  capacity,
		CreatedAt: time.Now().UTC(),
		members:   make(map[uuid.UUID]struct{}),
	}
	r.members[ownerID] = struct{}{}
	return r
}

// Add includes userID in the membership set. Callers must hold the room
// lock and must have checked capacity first; Add itself never grows the
// set past Capacity because IsFull gates it in the store.
func (r *Room) Add(userID uuid.UUID) {
	r.members[userID] = struct{}{}
}

// Remove is a no-op when userID is not a member.
func (r *Room) Remove(userID uuid.UUID) {
	delete(r.members, userID)
}

func (r *Room) Has(userID uuid.UUID) bool {
	_, ok := r.members[userID]
	return ok
}

// IsFull reports whether the room is at capacity. A current member
// re-joining is never rejected, so the check excludes userID.
func (r *Room) IsFull(userID uuid.UUID) bool {
	if r.Has(userID) {
		return false
	}
	return len(r.members) >= r.Capacity
}

func (r *Room) MemberCount() int {
	return len(r.members)
}

// MemberIDs returns a copy of the membership set.
func (r *Room) MemberIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	return ids
}
