package gate

import (
	"net/http"

	"github.com/upb/authgate/session"
)

// Response is the baseline response produced by a provider for a request.
//
// When Handler is set the provider serves the request itself (login,
// callback, logout). Otherwise Header holds values, typically refreshed
// Set-Cookie lines, that are added to whatever the application responds.
type Response struct {
	Handler http.Handler
	Header  http.Header
}

// Continue returns a baseline that lets the request reach the application
func Continue() *Response {
	return &Response{Header: make(http.Header)}
}

// Serve returns a baseline in which the provider answers the request
func Serve(h http.Handler) *Response {
	return &Response{Handler: h, Header: make(http.Header)}
}

// Owned reports whether the provider answers the request itself
func (r *Response) Owned() bool {
	return r != nil && r.Handler != nil
}

// Provider is the authentication provider boundary. Implementations map
// their failures to *ProviderError.
type Provider interface {
	// HandleRequest runs the provider's per-request step
	HandleRequest(r *http.Request) (*Response, error)

	// GetSession returns the caller's session, or nil when there is none
	GetSession(r *http.Request) (*session.Session, error)
}
