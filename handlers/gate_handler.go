package handlers

import (
	"net/http"

	"github.com/upb/authgate/gate"
	"github.com/upb/authgate/utils"
)

// GateHandler exposes the request gate's settings to administrators
type GateHandler struct {
	gate *gate.Gate
}

// NewGateHandler creates a GateHandler
func NewGateHandler(g *gate.Gate) *GateHandler {
	return &GateHandler{gate: g}
}

// HandleGateSettings handles GET /api/v1/admin/gate
func (h *GateHandler) HandleGateSettings(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.gate.Describe())
}
