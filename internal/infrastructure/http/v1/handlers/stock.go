package handlers

import (
	"github.com/gin-gonic/gin"

	"wmsledger/internal/domain/inventory"
	"wmsledger/internal/infrastructure/http/v1/dto"
)

// StockHandler serves stock mutations and ledger queries.
type StockHandler struct {
	*BaseHandler
	svc *inventory.Service
}

// NewStockHandler creates a stock handler.
func NewStockHandler(svc *inventory.Service) *StockHandler {
	return &StockHandler{BaseHandler: NewBaseHandler(), svc: svc}
}

// Receive books inbound stock.
// POST /stock/receipts
func (h *StockHandler) Receive(c *gin.Context) {
	var req dto.ReceiveRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.ToDomain(h.ActorID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	res, err := h.svc.Receive(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, res)
}

// Transfer moves stock between locations.
// POST /stock/transfers
func (h *StockHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.ToDomain(h.ActorID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	res, err := h.svc.Transfer(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, res)
}

// Adjust applies a signed manual correction.
// POST /stock/adjustments
func (h *StockHandler) Adjust(c *gin.Context) {
	var req dto.AdjustRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.ToDomain(h.ActorID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	res, err := h.svc.Adjust(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, res)
}

// List returns stock records. maxOnHand selects low-stock rows.
// GET /stock
func (h *StockHandler) List(c *gin.Context) {
	var q dto.StockQuery
	if !h.BindQuery(c, &q) {
		return
	}
	f, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}
	records, err := h.svc.Stock(c.Request.Context(), f)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(records))
}

// Movements returns the movement log in sequence order.
// GET /stock/movements
func (h *StockHandler) Movements(c *gin.Context) {
	var q dto.MovementQuery
	if !h.BindQuery(c, &q) {
		return
	}
	f, err := q.ToFilter()
	if err != nil {
		h.Error(c, err)
		return
	}
	movements, err := h.svc.Movements(c.Request.Context(), f)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(movements))
}

// Reconciliation compares a stock record with its movement sums.
// GET /stock/reconciliation
func (h *StockHandler) Reconciliation(c *gin.Context) {
	var q dto.KeyQuery
	if !h.BindQuery(c, &q) {
		return
	}
	key, err := q.ToKey()
	if err != nil {
		h.Error(c, err)
		return
	}
	rec, err := h.svc.Reconcile(c.Request.Context(), key)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, rec)
}
