package gate

import (
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/authgate/middleware"
	"github.com/upb/authgate/session"
	"go.uber.org/zap"
)

// MockProvider is a mock implementation of Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) HandleRequest(r *http.Request) (*Response, error) {
	args := m.Called(r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Response), args.Error(1)
}

func (m *MockProvider) GetSession(r *http.Request) (*session.Session, error) {
	args := m.Called(r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Session), args.Error(1)
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (f *fakeRecorder) RecordDecision(outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func newRequest(path string) *http.Request {
	return httptest.NewRequest(http.MethodGet, "http://example.com"+path, nil)
}

func invalidToken() error {
	return NewProviderError(KindInvalidToken, "get session", errors.New("token contains an invalid number of segments"))
}

func TestDecide(t *testing.T) {
	logger := zap.NewNop()

	t.Run("root path returns baseline without session check", func(t *testing.T) {
		provider := new(MockProvider)
		baseline := Continue()
		provider.On("HandleRequest", mock.Anything).Return(baseline, nil)

		g := New(provider, Options{}, logger)
		d, err := g.Decide(newRequest("/"))

		require.NoError(t, err)
		assert.Equal(t, DecisionBaseline, d.Kind)
		assert.Equal(t, RulePublic, d.Outcome)
		assert.Same(t, baseline, d.Baseline)
		provider.AssertNotCalled(t, "GetSession", mock.Anything)
	})

	t.Run("auth prefix returns baseline without session check", func(t *testing.T) {
		for _, path := range []string{"/auth/login", "/auth/callback", "/auth", "/authors"} {
			provider := new(MockProvider)
			baseline := Continue()
			provider.On("HandleRequest", mock.Anything).Return(baseline, nil)

			g := New(provider, Options{}, logger)
			d, err := g.Decide(newRequest(path))

			require.NoError(t, err, path)
			assert.Equal(t, DecisionBaseline, d.Kind, path)
			assert.Equal(t, RuleAuthRoutes, d.Outcome, path)
			assert.Same(t, baseline, d.Baseline, path)
			provider.AssertNotCalled(t, "GetSession", mock.Anything)
		}
	})

	t.Run("missing session redirects to login on the request origin", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("HandleRequest", mock.Anything).Return(Continue(), nil)
		provider.On("GetSession", mock.Anything).Return(nil, nil)

		g := New(provider, Options{}, logger)
		d, err := g.Decide(newRequest("/dashboard"))

		require.NoError(t, err)
		assert.Equal(t, DecisionRedirect, d.Kind)
		assert.Equal(t, OutcomeLoginRedirect, d.Outcome)
		assert.Equal(t, "http://example.com/auth/login", d.Location)
	})

	t.Run("present session returns baseline", func(t *testing.T) {
		provider := new(MockProvider)
		baseline := Continue()
		sess := session.New("user-123", time.Hour)
		provider.On("HandleRequest", mock.Anything).Return(baseline, nil)
		provider.On("GetSession", mock.Anything).Return(sess, nil)

		g := New(provider, Options{}, logger)
		d, err := g.Decide(newRequest("/dashboard"))

		require.NoError(t, err)
		assert.Equal(t, DecisionBaseline, d.Kind)
		assert.Equal(t, OutcomeAuthenticated, d.Outcome)
		assert.Same(t, baseline, d.Baseline)
		assert.Same(t, sess, d.Session)
	})

	t.Run("nil baseline is treated as continue", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("HandleRequest", mock.Anything).Return(nil, nil)

		g := New(provider, Options{}, logger)
		d, err := g.Decide(newRequest("/"))

		require.NoError(t, err)
		require.NotNil(t, d.Baseline)
		assert.False(t, d.Baseline.Owned())
	})

	t.Run("invalid token from handle request passes through", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("HandleRequest", mock.Anything).Return(nil, invalidToken())

		g := New(provider, Options{}, logger)
		d, err := g.Decide(newRequest("/dashboard"))

		require.NoError(t, err)
		assert.Equal(t, DecisionPassThrough, d.Kind)
		assert.Equal(t, OutcomeInvalidTokenPassThrough, d.Outcome)
		provider.AssertNotCalled(t, "GetSession", mock.Anything)
	})

	t.Run("invalid token from get session passes through", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("HandleRequest", mock.Anything).Return(Continue(), nil)
		provider.On("GetSession", mock.Anything).Return(nil, invalidToken())

		g := New(provider, Options{}, logger)
		d, err := g.Decide(newRequest("/dashboard"))

		require.NoError(t, err)
		assert.Equal(t, DecisionPassThrough, d.Kind)
	})

	t.Run("wrapped invalid token is recognized", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("HandleRequest", mock.Anything).Return(nil, errors.Join(errors.New("middleware"), invalidToken()))

		g := New(provider, Options{}, logger)
		d, err := g.Decide(newRequest("/dashboard"))

		require.NoError(t, err)
		assert.Equal(t, DecisionPassThrough, d.Kind)
	})

	t.Run("invalid token redirects under redirect policy", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("HandleRequest", mock.Anything).Return(Continue(), nil)
		provider.On("GetSession", mock.Anything).Return(nil, invalidToken())

		g := New(provider, Options{InvalidTokenPolicy: PolicyRedirectLogin}, logger)
		d, err := g.Decide(newRequest("/dashboard"))

		require.NoError(t, err)
		assert.Equal(t, DecisionRedirect, d.Kind)
		assert.Equal(t, OutcomeInvalidTokenRedirect, d.Outcome)
		assert.Equal(t, "http://example.com/auth/login", d.Location)
	})

	t.Run("other errors are returned unchanged", func(t *testing.T) {
		storeErr := NewProviderError(KindStoreUnavailable, "get session", errors.New("connection refused"))
		plainErr := errors.New("boom")

		for _, want := range []error{storeErr, plainErr} {
			provider := new(MockProvider)
			provider.On("HandleRequest", mock.Anything).Return(Continue(), nil)
			provider.On("GetSession", mock.Anything).Return(nil, want)

			g := New(provider, Options{}, logger)
			d, err := g.Decide(newRequest("/dashboard"))

			assert.Nil(t, d)
			assert.Same(t, want, err)
		}
	})

	t.Run("handle request errors are returned unchanged on public paths", func(t *testing.T) {
		want := errors.New("provider exploded")
		provider := new(MockProvider)
		provider.On("HandleRequest", mock.Anything).Return(nil, want)

		g := New(provider, Options{}, logger)
		_, err := g.Decide(newRequest("/"))

		assert.Same(t, want, err)
	})

	t.Run("custom rules are evaluated in order", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("HandleRequest", mock.Anything).Return(Continue(), nil)
		provider.On("GetSession", mock.Anything).Return(nil, nil)

		rules := []Rule{
			{Name: "docs_private", Match: PathPrefix("/docs/private"), Action: ActionRequireSession},
			{Name: "docs", Match: PathPrefix("/docs"), Action: ActionBaseline},
		}
		g := New(provider, Options{Rules: rules}, logger)

		d, err := g.Decide(newRequest("/docs/intro"))
		require.NoError(t, err)
		assert.Equal(t, "docs", d.Outcome)

		d, err = g.Decide(newRequest("/docs/private/keys"))
		require.NoError(t, err)
		assert.Equal(t, DecisionRedirect, d.Kind)
	})
}

func TestMiddleware(t *testing.T) {
	logger := zap.NewNop()

	next := func(called *bool) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*called = true
			if sess := middleware.GetSessionFromContext(r.Context()); sess != nil {
				w.Header().Set("X-Subject", sess.Subject)
			}
			w.WriteHeader(http.StatusOK)
		})
	}

	t.Run("redirect uses temporary redirect status", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("HandleRequest", mock.Anything).Return(Continue(), nil)
		provider.On("GetSession", mock.Anything).Return(nil, nil)
		recorder := &fakeRecorder{}

		called := false
		handler := New(provider, Options{Recorder: recorder}, logger).Middleware(next(&called))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest("/dashboard"))

		assert.False(t, called)
		assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
		assert.Equal(t, "http://example.com/auth/login", rr.Header().Get("Location"))
		assert.Equal(t, []string{OutcomeLoginRedirect}, recorder.outcomes)
	})

	t.Run("authenticated request gets baseline headers and session", func(t *testing.T) {
		provider := new(MockProvider)
		baseline := Continue()
		baseline.Header.Add("Set-Cookie", "session=refreshed; Path=/")
		provider.On("HandleRequest", mock.Anything).Return(baseline, nil)
		provider.On("GetSession", mock.Anything).Return(session.New("user-123", time.Hour), nil)

		called := false
		handler := New(provider, Options{}, logger).Middleware(next(&called))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest("/dashboard"))

		assert.True(t, called)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "session=refreshed; Path=/", rr.Header().Get("Set-Cookie"))
		assert.Equal(t, "user-123", rr.Header().Get("X-Subject"))
	})

	t.Run("owned baseline is served by the provider", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("HandleRequest", mock.Anything).Return(Serve(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "https://idp.example.com/authorize", http.StatusFound)
		})), nil)

		called := false
		handler := New(provider, Options{}, logger).Middleware(next(&called))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest("/auth/login"))

		assert.False(t, called)
		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "https://idp.example.com/authorize", rr.Header().Get("Location"))
	})

	t.Run("invalid token passes the request through untouched", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("HandleRequest", mock.Anything).Return(nil, invalidToken())
		recorder := &fakeRecorder{}

		called := false
		handler := New(provider, Options{Recorder: recorder}, logger).Middleware(next(&called))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest("/dashboard"))

		assert.True(t, called)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("X-Subject"))
		assert.Equal(t, []string{OutcomeInvalidTokenPassThrough}, recorder.outcomes)
	})

	t.Run("unrecovered error reaches the error handler", func(t *testing.T) {
		want := errors.New("store down")
		provider := new(MockProvider)
		provider.On("HandleRequest", mock.Anything).Return(Continue(), nil)
		provider.On("GetSession", mock.Anything).Return(nil, want)
		recorder := &fakeRecorder{}

		var got error
		onError := func(w http.ResponseWriter, r *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		called := false
		handler := New(provider, Options{Recorder: recorder, ErrorHandler: onError}, logger).Middleware(next(&called))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest("/dashboard"))

		assert.False(t, called)
		assert.Same(t, want, got)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, []string{OutcomeError}, recorder.outcomes)
	})

	t.Run("default error handler answers 500", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("HandleRequest", mock.Anything).Return(nil, errors.New("boom"))

		called := false
		handler := New(provider, Options{}, logger).Middleware(next(&called))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest("/dashboard"))

		assert.False(t, called)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("excluded paths never reach the provider", func(t *testing.T) {
		for _, path := range []string{"/static/app.js", "/_image/logo.png", "/favicon.ico", "/sitemap.xml", "/robots.txt", "/api/v1/me", "/apiary"} {
			provider := new(MockProvider)
			recorder := &fakeRecorder{}

			called := false
			handler := New(provider, Options{Recorder: recorder}, logger).Middleware(next(&called))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, newRequest(path))

			assert.True(t, called, path)
			assert.Equal(t, http.StatusOK, rr.Code, path)
			assert.Equal(t, []string{OutcomeExcluded}, recorder.outcomes, path)
			provider.AssertNotCalled(t, "HandleRequest", mock.Anything)
		}
	})
}

func TestRequestOrigin(t *testing.T) {
	tests := []struct {
		name           string
		tls            bool
		forwardedProto string
		trustForwarded bool
		want           string
	}{
		{name: "plain http", want: "http://example.com"},
		{name: "tls", tls: true, want: "https://example.com"},
		{name: "forwarded proto ignored by default", forwardedProto: "https", want: "http://example.com"},
		{name: "forwarded proto trusted", forwardedProto: "https", trustForwarded: true, want: "https://example.com"},
		{name: "first forwarded proto wins", forwardedProto: "HTTPS, http", trustForwarded: true, want: "https://example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRequest("/dashboard")
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			if tt.forwardedProto != "" {
				r.Header.Set("X-Forwarded-Proto", tt.forwardedProto)
			}
			assert.Equal(t, tt.want, RequestOrigin(r, tt.trustForwarded))
		})
	}
}

func TestLoginURLUsesConfiguredPath(t *testing.T) {
	g := New(new(MockProvider), Options{LoginPath: "/sso/start"}, zap.NewNop())
	r := httptest.NewRequest(http.MethodGet, "http://app.internal:8080/reports", nil)

	assert.Equal(t, "http://app.internal:8080/sso/start", g.LoginURL(r))
}
