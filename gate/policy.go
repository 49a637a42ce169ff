package gate

import "fmt"

// InvalidTokenPolicy decides what happens when the provider reports an
// invalid session token
type InvalidTokenPolicy string

const (
	// PolicyPassThrough lets the request continue as if no gate ran
	PolicyPassThrough InvalidTokenPolicy = "pass_through"

	// PolicyRedirectLogin sends the caller to the login route
	PolicyRedirectLogin InvalidTokenPolicy = "redirect_login"
)

// ParseInvalidTokenPolicy parses a policy name; empty means PolicyPassThrough
func ParseInvalidTokenPolicy(s string) (InvalidTokenPolicy, error) {
	switch InvalidTokenPolicy(s) {
	case "", PolicyPassThrough:
		return PolicyPassThrough, nil
	case PolicyRedirectLogin:
		return PolicyRedirectLogin, nil
	default:
		return "", fmt.Errorf("unknown invalid token policy %q", s)
	}
}
