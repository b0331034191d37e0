package handlers

import (
	"github.com/gin-gonic/gin"

	"wmsledger/internal/domain/counttask"
	"wmsledger/internal/domain/inventory"
	"wmsledger/internal/infrastructure/http/v1/dto"
)

// CountTaskHandler serves physical count tasks.
type CountTaskHandler struct {
	*BaseHandler
	svc *inventory.Service
}

// NewCountTaskHandler creates a count task handler.
func NewCountTaskHandler(svc *inventory.Service) *CountTaskHandler {
	return &CountTaskHandler{BaseHandler: NewBaseHandler(), svc: svc}
}

// List returns count tasks.
// GET /count-tasks
func (h *CountTaskHandler) List(c *gin.Context) {
	var q dto.CountTaskQuery
	if !h.BindQuery(c, &q) {
		return
	}
	productID, err := dto.ParseOptionalID("productId", q.ProductID)
	if err != nil {
		h.Error(c, err)
		return
	}
	locationID, err := dto.ParseOptionalID("locationId", q.LocationID)
	if err != nil {
		h.Error(c, err)
		return
	}
	f := counttask.Filter{ProductID: productID, LocationID: locationID, Limit: q.Limit}
	if q.Status != "" {
		st := counttask.Status(q.Status)
		f.Status = &st
	}

	tasks, err := h.svc.CountTasks(c.Request.Context(), f)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(tasks))
}

// Complete records the counted quantity and closes the task.
// POST /count-tasks/:id/complete
func (h *CountTaskHandler) Complete(c *gin.Context) {
	taskID, ok := h.ParamID(c, "id")
	if !ok {
		return
	}
	var req dto.CompleteCountRequest
	if !h.BindJSON(c, &req) {
		return
	}
	loc, err := req.OptionalLocation()
	if err != nil {
		h.Error(c, err)
		return
	}

	res, err := h.svc.CompleteCount(c.Request.Context(), counttask.CompleteRequest{
		TaskID:     taskID,
		LocationID: loc,
		Counted:    *req.Counted,
		ActorID:    h.ActorID(c),
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}
