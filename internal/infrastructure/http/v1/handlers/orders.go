package handlers

import (
	"github.com/gin-gonic/gin"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/allocation"
	"wmsledger/internal/domain/inventory"
	"wmsledger/internal/infrastructure/http/v1/dto"
)

// OrderHandler serves order allocation, fulfillment and release.
type OrderHandler struct {
	*BaseHandler
	svc *inventory.Service
}

// NewOrderHandler creates an order handler.
func NewOrderHandler(svc *inventory.Service) *OrderHandler {
	return &OrderHandler{BaseHandler: NewBaseHandler(), svc: svc}
}

// Allocate reserves stock for an order.
// POST /orders/:orderId/allocations
func (h *OrderHandler) Allocate(c *gin.Context) {
	orderID, ok := h.ParamID(c, "orderId")
	if !ok {
		return
	}
	var req dto.AllocateRequest
	if !h.BindJSON(c, &req) {
		return
	}
	lines, err := req.ToLines()
	if err != nil {
		h.Error(c, err)
		return
	}

	res, err := h.svc.Allocate(c.Request.Context(), orderID, lines, allocation.Strategy(req.Strategy), h.ActorID(c))
	if err != nil {
		if appErr, ok := apperror.AsAppError(err); ok && apperror.IsInsufficientStock(err) {
			err = appErr.WithDetail("result", res)
		}
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}

// Fulfill ships reserved stock.
// POST /orders/:orderId/fulfillments
func (h *OrderHandler) Fulfill(c *gin.Context) {
	orderID, ok := h.ParamID(c, "orderId")
	if !ok {
		return
	}
	var req dto.FulfillRequest
	if !h.BindJSON(c, &req) {
		return
	}
	lines, err := req.ToLines()
	if err != nil {
		h.Error(c, err)
		return
	}

	applied, err := h.svc.Fulfill(c.Request.Context(), orderID, lines, h.ActorID(c), req.ShipmentRef)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(applied))
}

// Release returns an order's reservations to available stock.
// POST /orders/:orderId/releases
func (h *OrderHandler) Release(c *gin.Context) {
	orderID, ok := h.ParamID(c, "orderId")
	if !ok {
		return
	}
	var req dto.ReleaseRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}
	var productID *id.ID
	if req.ProductID != "" {
		p, err := dto.ParseID("product_variant_id", req.ProductID)
		if err != nil {
			h.Error(c, err)
			return
		}
		productID = &p
	}

	applied, err := h.svc.Release(c.Request.Context(), orderID, productID, h.ActorID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(applied))
}
