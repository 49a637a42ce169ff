// Package gate decides, per request, whether the authentication provider
// owns the request, whether the caller must log in first, or whether the
// request simply continues to the application.
//
// The gate never validates tokens or touches session storage itself. It talks
// to a Provider through two operations:
//   - HandleRequest produces the baseline response (and may refresh cookies)
//   - GetSession reports whether the caller has a session
//
// Routing decisions are an ordered list of Rules evaluated first-match-wins.
// Provider failures are classified by ErrorKind; invalid session tokens are
// recovered according to an InvalidTokenPolicy, everything else is returned
// to the caller unchanged.
package gate
