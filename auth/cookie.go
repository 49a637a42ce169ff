package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidCookie is returned for session cookies that are malformed,
	// carry a bad signature, or were not issued by this service
	ErrInvalidCookie = errors.New("invalid session cookie")

	// ErrCookieExpired is returned for well-formed cookies past their expiry
	ErrCookieExpired = errors.New("session cookie expired")
)

const (
	cookieIssuer  = "authgate"
	cookieKeyInfo = "authgate session cookie v1"
	minSecretLen  = 32
)

// CookieCodec signs and verifies session cookie values. A value is a compact
// HS256 JWT whose jti is the session ID.
type CookieCodec struct {
	key []byte
}

// NewCookieCodec derives the signing key from secret with HKDF-SHA256
func NewCookieCodec(secret string) (*CookieCodec, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretLen)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(cookieKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive cookie key: %w", err)
	}
	return &CookieCodec{key: key}, nil
}

// Encode returns the cookie value for a session
func (c *CookieCodec) Encode(sessionID uuid.UUID, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        sessionID.String(),
		Issuer:    cookieIssuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// Decode verifies a cookie value and returns the session ID it carries
func (c *CookieCodec) Decode(value string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cookieIssuer),
		jwt.WithExpirationRequired(),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return uuid.Nil, ErrCookieExpired
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}

	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad session id: %v", ErrInvalidCookie, err)
	}
	return id, nil
}
