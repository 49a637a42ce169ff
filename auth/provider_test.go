package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/authgate/cognito"
	"github.com/upb/authgate/gate"
	"github.com/upb/authgate/session"
	"go.uber.org/zap"
)

// MockTokenExchanger is a mock implementation of TokenExchanger
type MockTokenExchanger struct {
	mock.Mock
}

func (m *MockTokenExchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (*cognito.Tokens, error) {
	args := m.Called(ctx, code, redirectURI)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cognito.Tokens), args.Error(1)
}

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*cognito.Identity, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cognito.Identity), args.Error(1)
}

// unavailableStore fails every call the way an unreachable backend does
type unavailableStore struct{}

func (unavailableStore) Save(context.Context, *session.Session) error { return unavailable() }
func (unavailableStore) Get(context.Context, uuid.UUID) (*session.Session, error) {
	return nil, unavailable()
}
func (unavailableStore) Touch(context.Context, uuid.UUID, time.Time) error { return unavailable() }
func (unavailableStore) Delete(context.Context, uuid.UUID) error            { return unavailable() }
func (unavailableStore) Ping(context.Context) error                         { return unavailable() }
func (unavailableStore) Close() error                                       { return nil }

func unavailable() error {
	return fmt.Errorf("%w: dial tcp 127.0.0.1:6379: connection refused", session.ErrUnavailable)
}

func testConfig() Config {
	return Config{
		Domain:           "https://auth.example.com",
		ClientID:         "client-123",
		RedirectURI:      "https://app.example.com/auth/callback",
		PostLoginURL:     "/dashboard",
		SessionTTL:       time.Hour,
		RollingThreshold: 10 * time.Minute,
	}
}

func newTestProvider(t *testing.T, store session.Store) (*Provider, *MockTokenExchanger, *MockTokenValidator) {
	t.Helper()
	codec, err := NewCookieCodec(testSecret)
	require.NoError(t, err)
	exchanger := new(MockTokenExchanger)
	validator := new(MockTokenValidator)
	return NewProvider(testConfig(), exchanger, validator, store, codec, zap.NewNop()), exchanger, validator
}

func requestWithSession(t *testing.T, p *Provider, path string, id uuid.UUID, expiresAt time.Time) *http.Request {
	t.Helper()
	value, err := p.codec.Encode(id, expiresAt)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodGet, "https://app.example.com"+path, nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: value})
	return r
}

func TestGetSession(t *testing.T) {
	ctx := context.Background()

	t.Run("no cookie", func(t *testing.T) {
		p, _, _ := newTestProvider(t, session.NewMemoryStore())

		sess, err := p.GetSession(httptest.NewRequest(http.MethodGet, "/dashboard", nil))
		assert.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("live session", func(t *testing.T) {
		store := session.NewMemoryStore()
		p, _, _ := newTestProvider(t, store)
		want := session.New("user-123", time.Hour)
		require.NoError(t, store.Save(ctx, want))

		sess, err := p.GetSession(requestWithSession(t, p, "/dashboard", want.ID, want.ExpiresAt))
		require.NoError(t, err)
		require.NotNil(t, sess)
		assert.Equal(t, "user-123", sess.Subject)
	})

	t.Run("unknown session", func(t *testing.T) {
		p, _, _ := newTestProvider(t, session.NewMemoryStore())

		sess, err := p.GetSession(requestWithSession(t, p, "/dashboard", uuid.New(), time.Now().Add(time.Hour)))
		assert.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("expired cookie", func(t *testing.T) {
		p, _, _ := newTestProvider(t, session.NewMemoryStore())

		sess, err := p.GetSession(requestWithSession(t, p, "/dashboard", uuid.New(), time.Now().Add(-time.Minute)))
		assert.NoError(t, err)
		assert.Nil(t, sess)
	})

	t.Run("malformed cookie is an invalid token", func(t *testing.T) {
		p, _, _ := newTestProvider(t, session.NewMemoryStore())
		r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "not-a-token"})

		sess, err := p.GetSession(r)
		assert.Nil(t, sess)
		assert.True(t, gate.IsInvalidToken(err))
		assert.ErrorIs(t, err, ErrInvalidCookie)
	})

	t.Run("unreachable store", func(t *testing.T) {
		p, _, _ := newTestProvider(t, unavailableStore{})

		sess, err := p.GetSession(requestWithSession(t, p, "/dashboard", uuid.New(), time.Now().Add(time.Hour)))
		assert.Nil(t, sess)
		assert.Equal(t, gate.KindStoreUnavailable, gate.KindOf(err))
		assert.ErrorIs(t, err, session.ErrUnavailable)
	})
}

func TestHandleRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("provider routes are owned", func(t *testing.T) {
		p, _, _ := newTestProvider(t, session.NewMemoryStore())

		for _, path := range []string{"/auth/login", "/auth/callback", "/auth/logout"} {
			resp, err := p.HandleRequest(httptest.NewRequest(http.MethodGet, path, nil))
			require.NoError(t, err, path)
			assert.True(t, resp.Owned(), path)
		}
	})

	t.Run("other auth paths continue", func(t *testing.T) {
		p, _, _ := newTestProvider(t, session.NewMemoryStore())

		resp, err := p.HandleRequest(httptest.NewRequest(http.MethodGet, "/auth/error", nil))
		require.NoError(t, err)
		assert.False(t, resp.Owned())
	})

	t.Run("hosted UI routes without cognito are misconfigured", func(t *testing.T) {
		codec, err := NewCookieCodec(testSecret)
		require.NoError(t, err)
		p := NewProvider(Config{}, nil, nil, session.NewMemoryStore(), codec, zap.NewNop())

		for _, path := range []string{"/auth/login", "/auth/callback"} {
			_, err := p.HandleRequest(httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, gate.KindMisconfigured, gate.KindOf(err), path)
			assert.ErrorIs(t, err, ErrNotConfigured, path)
		}

		resp, err := p.HandleRequest(httptest.NewRequest(http.MethodGet, "/auth/logout", nil))
		require.NoError(t, err)
		assert.True(t, resp.Owned())
	})

	t.Run("fresh session is left alone", func(t *testing.T) {
		store := session.NewMemoryStore()
		p, _, _ := newTestProvider(t, store)
		sess := session.New("user-123", time.Hour)
		require.NoError(t, store.Save(ctx, sess))

		resp, err := p.HandleRequest(requestWithSession(t, p, "/dashboard", sess.ID, sess.ExpiresAt))
		require.NoError(t, err)
		assert.False(t, resp.Owned())
		assert.Empty(t, resp.Header.Values("Set-Cookie"))
	})

	t.Run("session close to expiry is extended", func(t *testing.T) {
		store := session.NewMemoryStore()
		p, _, _ := newTestProvider(t, store)
		sess := session.New("user-123", 2*time.Minute)
		require.NoError(t, store.Save(ctx, sess))

		resp, err := p.HandleRequest(requestWithSession(t, p, "/dashboard", sess.ID, sess.ExpiresAt))
		require.NoError(t, err)
		require.Len(t, resp.Header.Values("Set-Cookie"), 1)

		header := http.Header{"Set-Cookie": resp.Header.Values("Set-Cookie")}
		cookies := (&http.Response{Header: header}).Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, SessionCookieName, cookies[0].Name)
		id, err := p.codec.Decode(cookies[0].Value)
		require.NoError(t, err)
		assert.Equal(t, sess.ID, id)

		stored, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Greater(t, stored.Remaining(time.Now()), 50*time.Minute)
	})

	t.Run("invalid cookie surfaces as invalid token", func(t *testing.T) {
		p, _, _ := newTestProvider(t, session.NewMemoryStore())
		r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "x.y.z"})

		_, err := p.HandleRequest(r)
		assert.True(t, gate.IsInvalidToken(err))
	})

	t.Run("rolling disabled", func(t *testing.T) {
		store := session.NewMemoryStore()
		p, _, _ := newTestProvider(t, store)
		p.cfg.RollingThreshold = 0
		r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "x.y.z"})

		resp, err := p.HandleRequest(r)
		require.NoError(t, err)
		assert.False(t, resp.Owned())
	})
}

func TestProviderBehindGate(t *testing.T) {
	store := session.NewMemoryStore()
	p, _, _ := newTestProvider(t, store)
	g := gate.New(p, gate.Options{}, zap.NewNop())

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := g.Middleware(app)

	t.Run("anonymous dashboard visit redirects to login", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://app.example.com/dashboard", nil))

		assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
		assert.Equal(t, "http://app.example.com/auth/login", rr.Header().Get("Location"))
	})

	t.Run("login is served by the provider", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://app.example.com/auth/login", nil))

		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Contains(t, rr.Header().Get("Location"), "https://auth.example.com/oauth2/authorize?")
	})

	t.Run("garbage cookie passes through", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "http://app.example.com/dashboard", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "garbage"})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, r)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("store outage is a server error", func(t *testing.T) {
		broken, _, _ := newTestProvider(t, unavailableStore{})
		h := gate.New(broken, gate.Options{}, zap.NewNop()).Middleware(app)

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, requestWithSession(t, broken, "/dashboard", uuid.New(), time.Now().Add(time.Hour)))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("unexpected store error keeps its identity", func(t *testing.T) {
		broken, _, _ := newTestProvider(t, unavailableStore{})
		_, err := broken.GetSession(requestWithSession(t, broken, "/dashboard", uuid.New(), time.Now().Add(time.Hour)))

		var perr *gate.ProviderError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "get session", perr.Op)
	})
}
