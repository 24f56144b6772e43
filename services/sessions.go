package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-relay/domain"
	"chat-relay/errors"
)

// SessionTable binds identities to live control connections. Both
// directions are indexed so lookups during broadcast stay O(1).
type SessionTable struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]domain.Session
	byConn map[uuid.UUID]domain.Session
}

func NewSessionTable() *SessionTable {
	return &SessionTable{
		byUser: make(map[uuid.UUID]domain.Session),
		byConn: make(map[uuid.UUID]domain.Session),
	}
}

// Bind creates a session for userID on connID. The existence check and
// the insert happen under one lock, so a concurrent second login cannot
// slip between them.
func (t *SessionTable) Bind(userID, connID uuid.UUID) (domain.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byUser[userID]; ok {
		return domain.Session{}, errors.ErrAlreadyLoggedIn
	}
	if _, ok := t.byConn[connID]; ok {
		return domain.Session{}, errors.ErrAlreadyLoggedIn
	}
	s := domain.Session{UserID: userID, ConnID: connID, StartedAt: time.Now().UTC()}
	t.byUser[userID] = s
	t.byConn[connID] = s
	return s, nil
}

// UnbindConn ends the session held by connID. It is an idempotent
// no-op when the connection holds none.
func (t *SessionTable) UnbindConn(connID uuid.UUID) (domain.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byConn[connID]
	if !ok {
		return domain.Session{}, false
	}
	delete(t.byConn, connID)
	delete(t.byUser, s.UserID)
	return s, true
}

func (t *SessionTable) ConnByUser(userID uuid.UUID) (uuid.UUID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byUser[userID]
	return s.ConnID, ok
}

func (t *SessionTable) UserByConn(connID uuid.UUID) (uuid.UUID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byConn[connID]
	return s.UserID, ok
}

func (t *SessionTable) IsActive(userID uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byUser[userID]
	return ok
}

func (t *SessionTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byUser)
}
