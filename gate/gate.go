package gate

import (
	"net/http"
	"strings"
	"time"

	"github.com/upb/authgate/middleware"
	"github.com/upb/authgate/session"
	"github.com/upb/authgate/utils"
	"go.uber.org/zap"
)

// DecisionKind is how the gate answers a request
type DecisionKind int

const (
	// DecisionBaseline applies the provider's baseline response
	DecisionBaseline DecisionKind = iota

	// DecisionRedirect redirects the caller to Location
	DecisionRedirect

	// DecisionPassThrough forwards the request unmodified
	DecisionPassThrough
)

// Outcomes recorded for decisions that do not come from a rule name
const (
	OutcomeAuthenticated           = "authenticated"
	OutcomeLoginRedirect           = "login_redirect"
	OutcomeInvalidTokenPassThrough = "invalid_token_pass_through"
	OutcomeInvalidTokenRedirect    = "invalid_token_redirect"
	OutcomeExcluded                = "excluded"
	OutcomeError                   = "error"
)

// DefaultLoginPath is appended to the request origin for login redirects
const DefaultLoginPath = "/auth/login"

// Decision is the result of evaluating a request
type Decision struct {
	Kind     DecisionKind
	Outcome  string
	Baseline *Response
	Location string
	Session  *session.Session
}

// Recorder receives one call per gated request
type Recorder interface {
	RecordDecision(outcome string, duration time.Duration)
}

// ErrorHandler renders errors the gate does not recover from
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Options configures a Gate. Zero values fall back to the defaults.
type Options struct {
	Rules               []Rule
	Matcher             *Matcher
	LoginPath           string
	InvalidTokenPolicy  InvalidTokenPolicy
	TrustForwardedProto bool
	Recorder            Recorder
	ErrorHandler        ErrorHandler
}

// Gate is the request gate
type Gate struct {
	provider      Provider
	rules         []Rule
	matcher       *Matcher
	loginPath     string
	policy        InvalidTokenPolicy
	trustForwards bool
	recorder      Recorder
	onError       ErrorHandler
	logger        *zap.Logger
}

// New creates a Gate in front of provider
func New(provider Provider, opts Options, logger *zap.Logger) *Gate {
	g := &Gate{
		provider:      provider,
		rules:         opts.Rules,
		matcher:       opts.Matcher,
		loginPath:     opts.LoginPath,
		policy:        opts.InvalidTokenPolicy,
		trustForwards: opts.TrustForwardedProto,
		recorder:      opts.Recorder,
		onError:       opts.ErrorHandler,
		logger:        logger,
	}
	if g.rules == nil {
		g.rules = DefaultRules("/auth", "/")
	}
	if g.matcher == nil {
		g.matcher = NewMatcher()
	}
	if g.loginPath == "" {
		g.loginPath = DefaultLoginPath
	}
	if g.policy == "" {
		g.policy = PolicyPassThrough
	}
	if g.recorder == nil {
		g.recorder = nopRecorder{}
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.onError == nil {
		g.onError = g.defaultErrorHandler
	}
	return g
}

// Decide evaluates r. Errors other than invalid session tokens are returned
// exactly as the provider produced them.
func (g *Gate) Decide(r *http.Request) (*Decision, error) {
	baseline, err := g.provider.HandleRequest(r)
	if err != nil {
		return g.recover(r, err)
	}
	if baseline == nil {
		baseline = Continue()
	}

	if rule, ok := FirstMatch(g.rules, r); ok && rule.Action == ActionBaseline {
		return &Decision{Kind: DecisionBaseline, Outcome: rule.Name, Baseline: baseline}, nil
	}

	sess, err := g.provider.GetSession(r)
	if err != nil {
		return g.recover(r, err)
	}
	if sess == nil {
		return &Decision{
			Kind:     DecisionRedirect,
			Outcome:  OutcomeLoginRedirect,
			Location: g.LoginURL(r),
		}, nil
	}

	return &Decision{
		Kind:     DecisionBaseline,
		Outcome:  OutcomeAuthenticated,
		Baseline: baseline,
		Session:  sess,
	}, nil
}

func (g *Gate) recover(r *http.Request, err error) (*Decision, error) {
	if !IsInvalidToken(err) {
		return nil, err
	}

	g.logger.Warn("invalid session token",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.String("policy", string(g.policy)),
		zap.Error(err))

	if g.policy == PolicyRedirectLogin {
		return &Decision{
			Kind:     DecisionRedirect,
			Outcome:  OutcomeInvalidTokenRedirect,
			Location: g.LoginURL(r),
		}, nil
	}
	return &Decision{Kind: DecisionPassThrough, Outcome: OutcomeInvalidTokenPassThrough}, nil
}

// LoginURL returns the login redirect target for r: its origin followed by
// the login path
func (g *Gate) LoginURL(r *http.Request) string {
	return RequestOrigin(r, g.trustForwards) + g.loginPath
}

// Middleware applies the gate to every request the matcher selects
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.matcher.Applies(r.URL.Path) {
			g.recorder.RecordDecision(OutcomeExcluded, 0)
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		decision, err := g.Decide(r)
		if err != nil {
			g.recorder.RecordDecision(OutcomeError, time.Since(start))
			g.onError(w, r, err)
			return
		}
		g.recorder.RecordDecision(decision.Outcome, time.Since(start))

		g.logger.Debug("gate decision",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("outcome", decision.Outcome))

		g.apply(w, r, decision, next)
	})
}

func (g *Gate) apply(w http.ResponseWriter, r *http.Request, d *Decision, next http.Handler) {
	switch d.Kind {
	case DecisionRedirect:
		http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
	case DecisionPassThrough:
		next.ServeHTTP(w, r)
	default:
		if d.Baseline.Owned() {
			d.Baseline.Handler.ServeHTTP(w, r)
			return
		}
		for key, values := range d.Baseline.Header {
			for _, v := range values {
				w.Header().Add(key, v)
			}
		}
		if d.Session != nil {
			r = r.WithContext(middleware.WithSession(r.Context(), d.Session))
		}
		next.ServeHTTP(w, r)
	}
}

func (g *Gate) defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	g.logger.Error("auth provider failed",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.String("kind", KindOf(err).String()),
		zap.Error(err))
	_ = utils.WriteInternalServerError(w, "")
}

// RequestOrigin returns scheme://host for r. The scheme comes from the TLS
// state, or from X-Forwarded-Proto when trustForwarded is set.
func RequestOrigin(r *http.Request, trustForwarded bool) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if trustForwarded {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
		}
	}
	return scheme + "://" + r.Host
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(string, time.Duration) {}

// Summary describes a gate's effective settings
type Summary struct {
	Rules              []RuleSummary `json:"rules"`
	ExcludePrefixes    []string      `json:"exclude_prefixes"`
	LoginPath          string        `json:"login_path"`
	InvalidTokenPolicy string        `json:"invalid_token_policy"`
	TrustForwarded     bool          `json:"trust_forwarded_proto"`
}

// RuleSummary is the serializable part of a Rule
type RuleSummary struct {
	Name   string `json:"name"`
	Action string `json:"action"`
}

// Describe returns the gate's effective settings
func (g *Gate) Describe() Summary {
	rules := make([]RuleSummary, 0, len(g.rules)+1)
	for _, rule := range g.rules {
		rules = append(rules, RuleSummary{Name: rule.Name, Action: rule.Action.String()})
	}
	rules = append(rules, RuleSummary{Name: "default", Action: ActionRequireSession.String()})

	return Summary{
		Rules:              rules,
		ExcludePrefixes:    g.matcher.Prefixes(),
		LoginPath:          g.loginPath,
		InvalidTokenPolicy: string(g.policy),
		TrustForwarded:     g.trustForwards,
	}
}
