package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a session does not exist or has expired
	ErrNotFound = errors.New("session not found")

	// ErrUnavailable is returned when the backing store cannot be reached
	ErrUnavailable = errors.New("session store unavailable")
)

// Session is the server-side record behind a session cookie
type Session struct {
	ID        uuid.UUID `json:"id"`
	Subject   string    `json:"sub"`
	Email     string    `json:"email,omitempty"`
	Username  string    `json:"username,omitempty"`
	Role      string    `json:"role,omitempty"`
	IDToken   string    `json:"id_token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// New creates a session for the given subject that lives for ttl
func New(subject string, ttl time.Duration) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New(),
		Subject:   subject,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the session is past its expiry at t
func (s *Session) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Remaining returns how long the session has left at t
func (s *Session) Remaining(t time.Time) time.Duration {
	return s.ExpiresAt.Sub(t)
}

// Store persists sessions
type Store interface {
	// Save creates or replaces a session
	Save(ctx context.Context, s *Session) error

	// Get returns the session with the given ID, or ErrNotFound
	Get(ctx context.Context, id uuid.UUID) (*Session, error)

	// Touch moves the expiry of an existing session to expiresAt
	Touch(ctx context.Context, id uuid.UUID, expiresAt time.Time) error

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id uuid.UUID) error

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error

	Close() error
}
