package cognito

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrExchangeFailed is returned when the token endpoint rejects a code
var ErrExchangeFailed = errors.New("token exchange failed")

// Tokens is the OAuth2 token endpoint response
type Tokens struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// ExchangerConfig holds the app client used against the hosted UI
type ExchangerConfig struct {
	Domain       string
	ClientID     string
	ClientSecret string
	HTTPTimeout  time.Duration
}

// Exchanger trades authorization codes for tokens at the hosted UI's
// /oauth2/token endpoint
type Exchanger struct {
	cfg        ExchangerConfig
	httpClient *http.Client
}

// NewExchanger creates an Exchanger
func NewExchanger(cfg ExchangerConfig) *Exchanger {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Exchanger{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// ExchangeCode exchanges an authorization code for tokens
func (e *Exchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (*Tokens, error) {
	if e.cfg.Domain == "" || e.cfg.ClientID == "" {
		return nil, errors.New("cognito not configured")
	}

	data := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {e.cfg.ClientID},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}

	tokens, err := e.post(ctx, data)
	if err != nil {
		return nil, err
	}
	if tokens.IDToken == "" {
		return nil, fmt.Errorf("%w: no id_token in response", ErrExchangeFailed)
	}
	return tokens, nil
}

func (e *Exchanger) post(ctx context.Context, data url.Values) (*Tokens, error) {
	tokenURL := strings.TrimSuffix(e.cfg.Domain, "/") + "/oauth2/token"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if e.cfg.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(e.cfg.ClientID), url.QueryEscape(e.cfg.ClientSecret))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrExchangeFailed, resp.StatusCode, string(body))
	}

	var tokens Tokens
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	return &tokens, nil
}

// AuthorizeURL builds the hosted UI authorization URL
func AuthorizeURL(domain, clientID, redirectURI, state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
		"state":         {state},
		"scope":         {"openid email profile"},
	}
	return strings.TrimSuffix(domain, "/") + "/oauth2/authorize?" + params.Encode()
}

// LogoutURL builds the hosted UI logout URL; the caller lands on logoutURI afterwards
func LogoutURL(domain, clientID, logoutURI string) string {
	params := url.Values{
		"client_id":  {clientID},
		"logout_uri": {logoutURI},
	}
	return strings.TrimSuffix(domain, "/") + "/logout?" + params.Encode()
}
