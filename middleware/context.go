package middleware

import (
	"context"
	"slices"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/authgate/cognito"
	"github.com/upb/authgate/session"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for a request ID set outside chi
	RequestIDKey contextKey = "request_id"

	// SessionKey is the context key for the caller's session
	SessionKey contextKey = "session"

	// IdentityKey is the context key for a bearer token identity
	IdentityKey contextKey = "identity"
)

// GetRequestIDFromContext returns the request ID, preferring chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	if id := chimw.GetReqID(ctx); id != "" {
		return id
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetSessionFromContext returns the session attached by the gate or RequireAuth
func GetSessionFromContext(ctx context.Context) *session.Session {
	if sess, ok := ctx.Value(SessionKey).(*session.Session); ok {
		return sess
	}
	return nil
}

// WithSession attaches a session to the context
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, SessionKey, sess)
}

// GetIdentityFromContext returns the identity attached by RequireAuth for bearer tokens
func GetIdentityFromContext(ctx context.Context) *cognito.Identity {
	if id, ok := ctx.Value(IdentityKey).(*cognito.Identity); ok {
		return id
	}
	return nil
}

// WithIdentity attaches a bearer token identity to the context
func WithIdentity(ctx context.Context, id *cognito.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// Principal is who is calling, whichever way they authenticated
type Principal struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
	Method  string `json:"auth_method"`
}

// HasAnyRole reports whether the caller holds one of roles
func (p *Principal) HasAnyRole(roles ...string) bool {
	return p.Role != "" && slices.Contains(roles, p.Role)
}

// GetPrincipalFromContext merges the identity and session views of the caller
func GetPrincipalFromContext(ctx context.Context) *Principal {
	if id := GetIdentityFromContext(ctx); id != nil {
		return &Principal{
			Subject: id.Subject,
			Email:   id.Email,
			Name:    id.DisplayName(),
			Role:    id.Role,
			Method:  "bearer",
		}
	}
	if sess := GetSessionFromContext(ctx); sess != nil {
		name := sess.Username
		if name == "" {
			name = sess.Email
		}
		return &Principal{
			Subject: sess.Subject,
			Email:   sess.Email,
			Name:    name,
			Role:    sess.Role,
			Method:  "session",
		}
	}
	return nil
}
