package auth

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authgate/cognito"
	"github.com/upb/authgate/gate"
	"github.com/upb/authgate/middleware"
	"github.com/upb/authgate/session"
	"github.com/upb/authgate/utils"
	"go.uber.org/zap"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName = "oauth_state"
	// SessionCookieName is the default cookie name for the session token
	SessionCookieName = "session"
	stateCookieMaxAge = 600
)

// HandleLogin redirects to the Cognito hosted UI for OAuth2 authorization
func (p *Provider) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if p.cfg.Domain == "" || p.cfg.ClientID == "" {
		p.logger.Error("cognito not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}

	state, err := generateSecureState()
	if err != nil {
		p.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     p.cfg.AuthPrefix,
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   p.secure(),
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, cognito.AuthorizeURL(p.cfg.Domain, p.cfg.ClientID, p.cfg.RedirectURI, state), http.StatusFound)
}

// HandleCallback exchanges the authorization code, validates the ID token,
// starts a session and sets the session cookie
func (p *Provider) HandleCallback(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" {
		_ = utils.WriteBadRequest(w, "Missing authorization code", nil)
		return
	}
	if state == "" {
		_ = utils.WriteBadRequest(w, "Missing state parameter", nil)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil || stateCookie.Value != state {
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}
	http.SetCookie(w, p.expiredCookie(StateCookieName, p.cfg.AuthPrefix))

	if p.exchanger == nil || p.validator == nil {
		p.logger.Error("cognito not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}

	tokens, err := p.exchanger.ExchangeCode(r.Context(), code, p.cfg.RedirectURI)
	if err != nil {
		p.logger.Warn("token exchange failed", zap.String("request_id", requestID), zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Authentication failed")
		return
	}

	identity, err := p.validator.ValidateToken(r.Context(), tokens.IDToken)
	if err != nil {
		p.logger.Warn("token validation failed", zap.String("request_id", requestID), zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Invalid token")
		return
	}

	sess := session.New(identity.Subject, p.cfg.SessionTTL)
	sess.Email = identity.Email
	sess.Username = identity.Username
	sess.Role = identity.Role
	sess.IDToken = tokens.IDToken

	if err := p.store.Save(r.Context(), sess); err != nil {
		p.logger.Error("failed to save session", zap.String("request_id", requestID), zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to start session")
		return
	}

	cookie, err := p.sessionCookie(sess.ID, sess.ExpiresAt)
	if err != nil {
		p.logger.Error("failed to sign session cookie", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to start session")
		return
	}
	http.SetCookie(w, cookie)

	p.logger.Info("session started",
		zap.String("request_id", requestID),
		zap.String("sub", sess.Subject),
		zap.String("session_id", sess.ID.String()))

	redirectURL := p.cfg.PostLoginURL
	if redirectURL == "" {
		redirectURL = "/"
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// HandleLogout ends the session, clears the cookie and redirects to the
// hosted UI logout endpoint
func (p *Provider) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if id, ok, err := p.sessionID(r); err == nil && ok {
		if err := p.store.Delete(r.Context(), id); err != nil {
			p.logger.Warn("failed to delete session",
				zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
				zap.Error(err))
		}
	}
	http.SetCookie(w, p.expiredCookie(p.cfg.CookieName, "/"))

	if p.cfg.Domain == "" || p.cfg.ClientID == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	logoutURI := p.cfg.PostLogoutURL
	if logoutURI == "" {
		logoutURI = originOf(p.cfg.RedirectURI)
	}
	if logoutURI == "" {
		logoutURI = gate.RequestOrigin(r, false)
	}
	http.Redirect(w, r, cognito.LogoutURL(p.cfg.Domain, p.cfg.ClientID, logoutURI), http.StatusFound)
}

func (p *Provider) sessionCookie(id uuid.UUID, expiresAt time.Time) (*http.Cookie, error) {
	value, err := p.codec.Encode(id, expiresAt)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     p.cfg.CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt.UTC(),
		MaxAge:   int(expiresAt.Sub(p.now()).Seconds()),
		HttpOnly: true,
		Secure:   p.secure(),
		SameSite: http.SameSiteLaxMode,
	}, nil
}

func (p *Provider) expiredCookie(name, path string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.secure(),
		SameSite: http.SameSiteLaxMode,
	}
}

func (p *Provider) secure() bool {
	return strings.HasPrefix(p.cfg.RedirectURI, "https")
}

func originOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
