package gate

import (
	"net/http"
	"strings"
)

// Action is what a matching rule asks the gate to do
type Action int

const (
	// ActionBaseline returns the provider's baseline response without a session check
	ActionBaseline Action = iota

	// ActionRequireSession checks for a session and redirects to login when absent
	ActionRequireSession
)

func (a Action) String() string {
	if a == ActionBaseline {
		return "baseline"
	}
	return "require_session"
}

// Predicate matches a request
type Predicate func(r *http.Request) bool

// Rule maps a predicate to an action. Rules are evaluated in order and the
// first match wins; a request no rule matches requires a session.
type Rule struct {
	Name   string
	Match  Predicate
	Action Action
}

// Rule names used by DefaultRules; they double as decision outcomes
const (
	RuleAuthRoutes = "auth_route"
	RulePublic     = "public"
)

// PathPrefix matches requests whose path starts with prefix
func PathPrefix(prefix string) Predicate {
	return func(r *http.Request) bool {
		return strings.HasPrefix(r.URL.Path, prefix)
	}
}

// PathEquals matches requests whose path is exactly one of paths
func PathEquals(paths ...string) Predicate {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.URL.Path]
		return ok
	}
}

// DefaultRules returns the standard rule list: everything under authPrefix
// belongs to the provider, the listed public paths need no session, and the
// rest requires one.
func DefaultRules(authPrefix string, publicPaths ...string) []Rule {
	if len(publicPaths) == 0 {
		publicPaths = []string{"/"}
	}
	return []Rule{
		{Name: RuleAuthRoutes, Match: PathPrefix(authPrefix), Action: ActionBaseline},
		{Name: RulePublic, Match: PathEquals(publicPaths...), Action: ActionBaseline},
	}
}

// FirstMatch returns the first rule matching r
func FirstMatch(rules []Rule, r *http.Request) (Rule, bool) {
	for _, rule := range rules {
		if rule.Match != nil && rule.Match(r) {
			return rule, true
		}
	}
	return Rule{}, false
}
