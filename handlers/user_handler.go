package handlers

import (
	"net/http"

	"github.com/upb/authgate/middleware"
	"github.com/upb/authgate/utils"
)

// HandleCurrentUser handles GET /api/v1/me and returns the authenticated caller
func HandleCurrentUser(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}
	_ = utils.WriteOK(w, principal)
}
