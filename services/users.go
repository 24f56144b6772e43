package services

import (
	"sync"

	"github.com/google/uuid"

	"chat-relay/domain"
	"chat-relay/errors"
)

// UserRegistry is the source of truth for identities. A display name
// maps to exactly one identity, created on first use.
type UserRegistry struct {
	mu     sync.RWMutex
	byName map[string]*domain.User
	byID   map[uuid.UUID]*domain.User
}

func NewUserRegistry() *UserRegistry {
	return &UserRegistry{
		byName: make(map[string]*domain.User),
		byID:   make(map[uuid.UUID]*domain.User),
	}
}

// GetOrCreate resolves name to its identity, creating one on first use.
// The find-or-create is atomic: concurrent calls for the same unseen
// name all return the same identity.
func (r *UserRegistry) GetOrCreate(name string) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user, ok := r.byName[name]; ok {
		return user
	}
	user := domain.NewUser(name)
	r.byName[name] = user
	r.byID[user.ID] = user
	return user
}

func (r *UserRegistry) Get(name string) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byName[name]
	return user, ok
}

func (r *UserRegistry) GetByID(id uuid.UUID) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	return user, ok
}

// Rename changes a display name under the same uniqueness check that
// guards creation.
func (r *UserRegistry) Rename(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byName[oldName]
	if !ok {
		return errors.ErrUserNotFound
	}
	if _, taken := r.byName[newName]; taken {
		return errors.ErrNameTaken
	}
	delete(r.byName, oldName)
	user.Name = newName
	r.byName[newName] = user
	return nil
}

func (r *UserRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
