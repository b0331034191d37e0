package handlers

import (
	"github.com/gin-gonic/gin"

	"wmsledger/internal/domain/backorder"
	"wmsledger/internal/domain/inventory"
	"wmsledger/internal/infrastructure/http/v1/dto"
)

// BackorderHandler serves backorder listing and lifecycle changes.
type BackorderHandler struct {
	*BaseHandler
	svc *inventory.Service
}

// NewBackorderHandler creates a backorder handler.
func NewBackorderHandler(svc *inventory.Service) *BackorderHandler {
	return &BackorderHandler{BaseHandler: NewBaseHandler(), svc: svc}
}

// List returns backorders.
// GET /backorders
func (h *BackorderHandler) List(c *gin.Context) {
	var q dto.BackorderQuery
	if !h.BindQuery(c, &q) {
		return
	}
	f, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}
	items, err := h.svc.Backorders(c.Request.Context(), f)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(items))
}

// Advance moves a backorder forward in its lifecycle.
// POST /backorders/:id/advance
func (h *BackorderHandler) Advance(c *gin.Context) {
	backorderID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.AdvanceBackorderRequest
	if !h.BindJSON(c, &req) {
		return
	}
	b, err := h.svc.AdvanceBackorder(c.Request.Context(), backorderID, backorder.Status(req.Status))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, b)
}

// Cancel cancels an open backorder.
// POST /backorders/:id/cancel
func (h *BackorderHandler) Cancel(c *gin.Context) {
	backorderID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.CancelBackorderRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}
	b, err := h.svc.CancelBackorder(c.Request.Context(), backorderID, req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, b)
}
