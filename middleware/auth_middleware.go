package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/authgate/cognito"
	"github.com/upb/authgate/session"
	"github.com/upb/authgate/utils"
	"go.uber.org/zap"
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*cognito.Identity, error)
}

// SessionSource resolves the session cookie on a request
type SessionSource interface {
	GetSession(r *http.Request) (*session.Session, error)
}

// AuthMiddleware protects API routes, which the request gate does not cover
type AuthMiddleware struct {
	validator TokenValidator
	sessions  SessionSource
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. Either dependency may be
// nil to disable that authentication method.
func NewAuthMiddleware(validator TokenValidator, sessions SessionSource, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		sessions:  sessions,
		logger:    logger,
	}
}

// RequireAuth accepts a valid bearer token or a live session cookie and
// answers 401 otherwise. The Authorization header takes precedence.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		if token := extractBearerToken(r); token != "" {
			if m.validator == nil {
				_ = utils.WriteUnauthorized(w, "Bearer authentication not configured")
				return
			}
			identity, err := m.validator.ValidateToken(ctx, token)
			if err != nil {
				m.logger.Warn("token validation failed",
					zap.String("request_id", requestID),
					zap.Error(err))
				_ = utils.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			m.logger.Debug("bearer authentication successful",
				zap.String("request_id", requestID),
				zap.String("sub", identity.Subject))
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
			return
		}

		if m.sessions != nil {
			sess, err := m.sessions.GetSession(r)
			if err != nil {
				m.logger.Warn("session lookup failed",
					zap.String("request_id", requestID),
					zap.Error(err))
				_ = utils.WriteUnauthorized(w, "Invalid session")
				return
			}
			if sess != nil {
				next.ServeHTTP(w, r.WithContext(WithSession(ctx, sess)))
				return
			}
		}

		m.logger.Debug("missing credentials", zap.String("request_id", requestID))
		_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
	})
}

// RequireRole answers 403 unless the caller holds one of roles.
// Must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipalFromContext(r.Context())
			if principal == nil {
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}
			if principal.HasAnyRole(roles...) {
				next.ServeHTTP(w, r)
				return
			}
			m.logger.Warn("insufficient permissions",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.Strings("required_roles", roles),
				zap.String("role", principal.Role))
			_ = utils.WriteForbidden(w, "Insufficient permissions")
		})
	}
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
