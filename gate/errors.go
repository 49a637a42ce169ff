package gate

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures at the provider boundary
type ErrorKind int

const (
	// KindUnknown is any failure the provider did not classify
	KindUnknown ErrorKind = iota

	// KindInvalidToken means the session token on the request is malformed,
	// carries a bad signature, or cannot be decoded
	KindInvalidToken

	// KindStoreUnavailable means session storage could not be reached
	KindStoreUnavailable

	// KindMisconfigured means the provider is missing required settings
	KindMisconfigured
)

// String returns the label used in logs and metrics
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidToken:
		return "invalid_token"
	case KindStoreUnavailable:
		return "store_unavailable"
	case KindMisconfigured:
		return "misconfigured"
	default:
		return "unknown"
	}
}

// ProviderError is the error type providers return from HandleRequest and GetSession
type ProviderError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap implements errors.Unwrap
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a ProviderError
func NewProviderError(kind ErrorKind, op string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first ProviderError in err's chain, or
// KindUnknown when there is none
func KindOf(err error) ErrorKind {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// IsInvalidToken reports whether err is an invalid session token failure
func IsInvalidToken(err error) bool {
	return KindOf(err) == KindInvalidToken
}
