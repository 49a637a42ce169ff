package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authgate/cognito"
	"github.com/upb/authgate/gate"
	"github.com/upb/authgate/middleware"
	"github.com/upb/authgate/session"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned for hosted UI routes when Cognito is not configured
var ErrNotConfigured = errors.New("cognito hosted UI not configured")

// TokenExchanger exchanges OAuth2 authorization codes for tokens
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*cognito.Tokens, error)
}

// TokenValidator validates ID tokens and returns the caller's identity
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*cognito.Identity, error)
}

// Config configures the provider
type Config struct {
	// Cognito hosted UI
	Domain      string
	ClientID    string
	RedirectURI string

	// Where the browser goes after login and after the hosted UI logout
	PostLoginURL  string
	PostLogoutURL string

	// Routes are AuthPrefix+"/login", "/callback" and "/logout"
	AuthPrefix string

	CookieName       string
	SessionTTL       time.Duration
	RollingThreshold time.Duration
}

// Provider is the Cognito hosted UI authentication provider. It owns the
// login, callback and logout routes and keeps server-side sessions
// referenced by a signed cookie.
type Provider struct {
	cfg       Config
	exchanger TokenExchanger
	validator TokenValidator
	store     session.Store
	codec     *CookieCodec
	logger    *zap.Logger
	now       func() time.Time
}

// NewProvider creates a provider. exchanger and validator may be nil when
// Cognito is not configured; login then answers 500.
func NewProvider(cfg Config, exchanger TokenExchanger, validator TokenValidator, store session.Store, codec *CookieCodec, logger *zap.Logger) *Provider {
	if cfg.AuthPrefix == "" {
		cfg.AuthPrefix = "/auth"
	}
	if cfg.CookieName == "" {
		cfg.CookieName = SessionCookieName
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	return &Provider{
		cfg:       cfg,
		exchanger: exchanger,
		validator: validator,
		store:     store,
		codec:     codec,
		logger:    logger,
		now:       time.Now,
	}
}

// LoginPath returns the path of the login route
func (p *Provider) LoginPath() string {
	return p.cfg.AuthPrefix + "/login"
}

// HandleRequest serves the provider's own routes and refreshes sessions
// that are close to expiry on every other path
func (p *Provider) HandleRequest(r *http.Request) (*gate.Response, error) {
	switch r.URL.Path {
	case p.cfg.AuthPrefix + "/login":
		if !p.hostedUIConfigured() {
			return nil, gate.NewProviderError(gate.KindMisconfigured, "login", ErrNotConfigured)
		}
		return gate.Serve(http.HandlerFunc(p.HandleLogin)), nil
	case p.cfg.AuthPrefix + "/callback":
		if !p.hostedUIConfigured() {
			return nil, gate.NewProviderError(gate.KindMisconfigured, "callback", ErrNotConfigured)
		}
		return gate.Serve(http.HandlerFunc(p.HandleCallback)), nil
	case p.cfg.AuthPrefix + "/logout":
		return gate.Serve(http.HandlerFunc(p.HandleLogout)), nil
	}
	if strings.HasPrefix(r.URL.Path, p.cfg.AuthPrefix) {
		return gate.Continue(), nil
	}
	return p.refresh(r)
}

// GetSession resolves the session cookie. A missing cookie, an expired
// cookie, or an unknown session all mean no session.
func (p *Provider) GetSession(r *http.Request) (*session.Session, error) {
	id, ok, err := p.sessionID(r)
	if err != nil {
		return nil, gate.NewProviderError(gate.KindInvalidToken, "get session", err)
	}
	if !ok {
		return nil, nil
	}

	sess, err := p.store.Get(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, storeError("get session", err)
	}
	return sess, nil
}

func (p *Provider) hostedUIConfigured() bool {
	return p.cfg.Domain != "" && p.cfg.ClientID != "" && p.exchanger != nil && p.validator != nil
}

func (p *Provider) sessionID(r *http.Request) (uuid.UUID, bool, error) {
	cookie, err := r.Cookie(p.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return uuid.Nil, false, nil
	}
	id, err := p.codec.Decode(cookie.Value)
	if errors.Is(err, ErrCookieExpired) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

func (p *Provider) refresh(r *http.Request) (*gate.Response, error) {
	baseline := gate.Continue()
	if p.cfg.RollingThreshold <= 0 {
		return baseline, nil
	}

	sess, err := p.GetSession(r)
	if err != nil || sess == nil {
		return baseline, err
	}

	now := p.now()
	if sess.Remaining(now) > p.cfg.RollingThreshold {
		return baseline, nil
	}

	expiresAt := now.Add(p.cfg.SessionTTL)
	if err := p.store.Touch(r.Context(), sess.ID, expiresAt); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return baseline, nil
		}
		return nil, storeError("refresh session", err)
	}

	cookie, err := p.sessionCookie(sess.ID, expiresAt)
	if err != nil {
		return nil, gate.NewProviderError(gate.KindUnknown, "refresh session", err)
	}
	baseline.Header.Add("Set-Cookie", cookie.String())

	p.logger.Debug("session refreshed",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("session_id", sess.ID.String()),
		zap.Time("expires_at", expiresAt))
	return baseline, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, session.ErrUnavailable) {
		return gate.NewProviderError(gate.KindStoreUnavailable, op, err)
	}
	return gate.NewProviderError(gate.KindUnknown, op, err)
}
