package cognito

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingClaim is returned when a required claim is absent
var ErrMissingClaim = errors.New("missing required claim")

// Identity is the authenticated caller described by a validated token
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Username      string
	Role          string
	TokenUse      string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

func identityFromClaims(c *Claims) (*Identity, error) {
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	id := &Identity{
		Subject:       c.Subject,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		Username:      c.CognitoUsername,
		Role:          c.Role,
		TokenUse:      c.TokenUse,
	}
	if c.IssuedAt != nil {
		id.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id, nil
}

// DisplayName returns the best human-readable name available
func (i *Identity) DisplayName() string {
	switch {
	case i.Username != "":
		return i.Username
	case i.Email != "":
		return i.Email
	default:
		return i.Subject
	}
}
