package cognito

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token cannot be parsed or verified
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token was issued by another user pool
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience is returned when the token was issued for another client
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrJWKSFetchFailed is returned when the key set cannot be downloaded
	ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")

	// ErrUnknownKey is returned when the token's kid is not in the key set
	ErrUnknownKey = errors.New("signing key not found")
)

// JWKS is a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is one RSA JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Claims are the ID/access token claims the gate cares about
type Claims struct {
	jwt.RegisteredClaims
	Email           string `json:"email"`
	EmailVerified   bool   `json:"email_verified"`
	TokenUse        string `json:"token_use"`
	ClientID        string `json:"client_id,omitempty"`
	CognitoUsername string `json:"cognito:username"`
	Role            string `json:"custom:userRole"`
}

// Config holds the user pool coordinates
type Config struct {
	Region      string
	UserPoolID  string
	ClientID    string
	CacheTTL    time.Duration
	HTTPTimeout time.Duration

	// JWKSURL and Issuer override the values derived from Region and
	// UserPoolID, for pools behind a proxy and for tests
	JWKSURL string
	Issuer  string
}

// Validator verifies RS256 tokens issued by a Cognito user pool
type Validator struct {
	issuer     string
	clientID   string
	jwksURL    string
	httpClient *http.Client

	cacheMu      sync.RWMutex
	jwksCache    *JWKS
	jwksCacheExp time.Time
	jwksCacheTTL time.Duration

	keyMu sync.RWMutex
	keys  map[string]*rsa.PublicKey

	// Unknown key IDs force a refetch at most once per rotationCooldown
	rotationMu       sync.Mutex
	lastRotation     time.Time
	rotationCooldown time.Duration
}

// defaultRotationCooldown bounds JWKS refetches triggered by unknown key IDs
const defaultRotationCooldown = time.Minute

// NewValidator creates a validator for the pool described by cfg
func NewValidator(cfg Config) *Validator {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", cfg.Region, cfg.UserPoolID)
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = issuer + "/.well-known/jwks.json"
	}

	return &Validator{
		issuer:       issuer,
		clientID:     cfg.ClientID,
		jwksURL:      jwksURL,
		jwksCacheTTL: cfg.CacheTTL,
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		keys:         make(map[string]*rsa.PublicKey),

		rotationCooldown: defaultRotationCooldown,
	}
}

// Issuer returns the expected iss claim
func (v *Validator) Issuer() string {
	return v.issuer
}

// ValidateToken verifies signature, expiry, issuer and audience and returns
// the caller's identity
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}
		return v.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, v.issuer, claims.Issuer)
	}

	switch claims.TokenUse {
	case "id":
		if !slices.Contains(claims.Audience, v.clientID) {
			return nil, ErrInvalidAudience
		}
	case "access":
		// access tokens carry client_id instead of aud
		if claims.ClientID != v.clientID {
			return nil, ErrInvalidAudience
		}
	default:
		return nil, fmt.Errorf("%w: token_use %q", ErrInvalidToken, claims.TokenUse)
	}

	return identityFromClaims(claims)
}

// FetchJWKS returns the pool's key set, cached for the configured TTL
func (v *Validator) FetchJWKS(ctx context.Context) (*JWKS, error) {
	v.cacheMu.RLock()
	if v.jwksCache != nil && time.Now().Before(v.jwksCacheExp) {
		defer v.cacheMu.RUnlock()
		return v.jwksCache, nil
	}
	v.cacheMu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	v.cacheMu.Lock()
	v.jwksCache = &jwks
	v.jwksCacheExp = time.Now().Add(v.jwksCacheTTL)
	v.cacheMu.Unlock()

	return &jwks, nil
}

// InvalidateCache drops the cached key set and parsed keys
func (v *Validator) InvalidateCache() {
	v.cacheMu.Lock()
	v.jwksCache = nil
	v.jwksCacheExp = time.Time{}
	v.cacheMu.Unlock()

	v.keyMu.Lock()
	v.keys = make(map[string]*rsa.PublicKey)
	v.keyMu.Unlock()
}

func (v *Validator) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.keyMu.RLock()
	key, ok := v.keys[kid]
	v.keyMu.RUnlock()
	if ok {
		return key, nil
	}

	for {
		jwks, err := v.FetchJWKS(ctx)
		if err != nil {
			return nil, err
		}

		for i := range jwks.Keys {
			if jwks.Keys[i].Kid != kid {
				continue
			}
			key, err := jwks.Keys[i].RSAPublicKey()
			if err != nil {
				return nil, err
			}
			v.keyMu.Lock()
			v.keys[kid] = key
			v.keyMu.Unlock()
			return key, nil
		}

		// The pool may have rotated its keys since the set was cached
		if !v.startRotation() {
			return nil, fmt.Errorf("%w: kid %s", ErrUnknownKey, kid)
		}
		v.InvalidateCache()
	}
}

func (v *Validator) startRotation() bool {
	v.rotationMu.Lock()
	defer v.rotationMu.Unlock()
	if !v.lastRotation.IsZero() && time.Since(v.lastRotation) < v.rotationCooldown {
		return false
	}
	v.lastRotation = time.Now()
	return true
}

// RSAPublicKey decodes the key's modulus and exponent
func (k *JWK) RSAPublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "" && k.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() <= 1 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}
