package handlers

import (
	"github.com/gin-gonic/gin"

	"wmsledger/internal/domain/inventory"
	"wmsledger/internal/infrastructure/http/v1/dto"
)

// AdminHandler serves the audit trail and location activation.
type AdminHandler struct {
	*BaseHandler
	svc *inventory.Service
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(svc *inventory.Service) *AdminHandler {
	return &AdminHandler{BaseHandler: NewBaseHandler(), svc: svc}
}

// AuditHistory returns the audit trail of an entity, newest first.
// GET /audit/:entityType/:id
func (h *AdminHandler) AuditHistory(c *gin.Context) {
	entityID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var q dto.AuditQuery
	if !h.BindQuery(c, &q) {
		return
	}
	items, err := h.svc.AuditHistory(c.Request.Context(), c.Param("entityType"), entityID, q.Limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(items))
}

// ActivateLocation puts a location back into service.
// POST /locations/:id/activate
func (h *AdminHandler) ActivateLocation(c *gin.Context) {
	h.setActive(c, true)
}

// DeactivateLocation retires a location.
// POST /locations/:id/deactivate
func (h *AdminHandler) DeactivateLocation(c *gin.Context) {
	h.setActive(c, false)
}

func (h *AdminHandler) setActive(c *gin.Context, active bool) {
	locationID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	state, err := h.svc.SetLocationActive(c.Request.Context(), locationID, active, h.ActorID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, state)
}
