package services

import (
	"log/slog"

	"github.com/google/uuid"

	"chat-relay/domain"
)

// AuthService composes the user registry and the session table behind
// the two operations the connection handler actually needs.
type AuthService struct {
	users    *UserRegistry
	sessions *SessionTable
	log      *slog.Logger
}

func NewAuthService(users *UserRegistry, sessions *SessionTable, log *slog.Logger) *AuthService {
	return &AuthService{users: users, sessions: sessions, log: log}
}

// Login resolves or creates the identity for name and binds it to
// connID. It fails with ErrAlreadyLoggedIn when the user already holds
// a live session; the identity is still created in that case.
func (s *AuthService) Login(name string, connID uuid.UUID) (*domain.User, error) {
	user := s.users.GetOrCreate(name)
	if _, err := s.sessions.Bind(user.ID, connID); err != nil {
		s.log.Debug("login rejected", "name", name, "error", err)
		return nil, err
	}
	s.log.Info("user logged in", "name", name, "user_id", user.ID, "conn_id", connID)
	return user, nil
}

// LogoutByConn ends whatever session connID holds. Calling it for an
// unbound connection is a no-op.
func (s *AuthService) LogoutByConn(connID uuid.UUID) bool {
	session, ok := s.sessions.UnbindConn(connID)
	if ok {
		s.log.Info("user logged out", "user_id", session.UserID, "conn_id", connID)
	}
	return ok
}

// ConnByName resolves a display name to the connection of its live
// session. Used by the transfer broker to reach the recipient.
func (s *AuthService) ConnByName(name string) (uuid.UUID, bool) {
	user, ok := s.users.Get(name)
	if !ok {
		return uuid.Nil, false
	}
	return s.sessions.ConnByUser(user.ID)
}
