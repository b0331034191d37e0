// Package allocation reserves stock for orders across locations.
//
// Each line is served largest-available-location first, one row transaction
// per location. What cannot be reserved becomes a shortfall that the
// caller-chosen Strategy turns into a rollback, backorders or count tasks.
package allocation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/backorder"
	"wmsledger/internal/domain/counttask"
	"wmsledger/internal/domain/ledger"
	"wmsledger/pkg/logger"
)

var tracer = otel.Tracer("wmsledger/allocation")

// Strategy decides what happens to shortfalls.
type Strategy string

const (
	// StrategyThrow rolls back every reservation of the call on any shortfall.
	StrategyThrow Strategy = "THROW"
	// StrategyBackorder keeps partial reservations and backorders the rest.
	StrategyBackorder Strategy = "BACKORDER"
	// StrategyCount keeps partial reservations and opens stock count tasks.
	StrategyCount Strategy = "COUNT"
)

// IsValid reports whether s is a known strategy.
func (s Strategy) IsValid() bool {
	return s == StrategyThrow || s == StrategyBackorder || s == StrategyCount
}

// ShortReason is stored on shortfalls, backorders and count tasks.
const ShortReason = "insufficient stock at allocation"

// Line is one product of an order.
type Line struct {
	ProductID id.ID `json:"product_variant_id"`
	Quantity  int64 `json:"quantity"`
}

// Request is an allocation call. Strategy has no default.
type Request struct {
	OrderID  id.ID
	Lines    []Line
	Strategy Strategy
	ActorID  string
}

// Shortfall is the part of a line that could not be reserved.
type Shortfall struct {
	ProductID     id.ID  `json:"product_variant_id"`
	Requested     int64  `json:"requested"`
	QuantityShort int64  `json:"quantity_short"`
	Reason        string `json:"reason"`
}

// Result is the structured outcome of Allocate.
type Result struct {
	OrderID      id.ID                 `json:"order_id"`
	Strategy     Strategy              `json:"strategy"`
	Reservations []ledger.Reservation  `json:"reservations"`
	Shortfalls   []Shortfall           `json:"shortfalls"`
	Backorders   []backorder.Backorder `json:"backorders,omitempty"`
	CountTasks   []counttask.Task      `json:"count_tasks,omitempty"`
	// Released holds reservations undone by compensation.
	Released    []ledger.Reservation `json:"released,omitempty"`
	Compensated bool                 `json:"compensated"`
}

// Succeeded reports whether every line was fully reserved.
func (r Result) Succeeded() bool {
	return len(r.Shortfalls) == 0
}

// ReservedQuantity sums the reservations held after the call.
func (r Result) ReservedQuantity() int64 {
	var n int64
	for _, res := range r.Reservations {
		n += res.Quantity
	}
	return n
}

// Backorders absorbs shortfalls under StrategyBackorder.
type Backorders interface {
	CreateOrUpdate(ctx context.Context, orderID, productID id.ID, quantityShort int64, reason string) (backorder.Backorder, error)
}

// CountTasks absorbs shortfalls under StrategyCount.
type CountTasks interface {
	RequestCounts(ctx context.Context, sh counttask.Shortage) ([]counttask.Task, error)
}

// Observer is told about every finished allocation. The order workflow
// advances order status from it; the engine never does.
type Observer interface {
	AllocationCompleted(ctx context.Context, r Result) error
}

// Engine reserves order lines against the ledger.
type Engine struct {
	stock      ledger.Repository
	mutator    *ledger.Mutator
	backorders Backorders
	counts     CountTasks
	observer   Observer
	metrics    *engineMetrics
}

// NewEngine creates an allocation engine. backorders, counts and observer may
// be nil; a strategy needing a missing collaborator then fails validation.
func NewEngine(stock ledger.Repository, mutator *ledger.Mutator, backorders Backorders, counts CountTasks, observer Observer) *Engine {
	return &Engine{
		stock:      stock,
		mutator:    mutator,
		backorders: backorders,
		counts:     counts,
		observer:   observer,
		metrics:    newEngineMetrics(),
	}
}

// SetBackorders wires the backorder collaborator after construction, for the
// cycle engine -> backorders -> engine.
func (e *Engine) SetBackorders(b Backorders) {
	e.backorders = b
}

func (e *Engine) validate(req Request) error {
	if id.IsNil(req.OrderID) {
		return apperror.NewValidation("order id is required")
	}
	if !req.Strategy.IsValid() {
		return apperror.NewValidation("allocation strategy must be THROW, BACKORDER or COUNT").
			WithDetail("strategy", req.Strategy)
	}
	if req.Strategy == StrategyBackorder && e.backorders == nil {
		return apperror.NewValidation("backorder strategy is not available")
	}
	if req.Strategy == StrategyCount && e.counts == nil {
		return apperror.NewValidation("count strategy is not available")
	}
	if len(req.Lines) == 0 {
		return apperror.NewValidation("at least one line is required")
	}
	for i, l := range req.Lines {
		if id.IsNil(l.ProductID) {
			return apperror.NewValidation(fmt.Sprintf("line %d: product is required", i))
		}
		if l.Quantity <= 0 {
			return apperror.NewValidation(fmt.Sprintf("line %d: quantity must be positive", i)).
				WithDetail("quantity", l.Quantity)
		}
	}
	return nil
}

// Allocate reserves every line of an order.
//
// Shortfalls are not errors under BACKORDER and COUNT. Under THROW every
// reservation made by the call is released and the Result is returned
// together with an INSUFFICIENT_STOCK error. Any other error (contention,
// missing records) also releases every reservation made by the call so the
// caller can retry it from the start.
func (e *Engine) Allocate(ctx context.Context, req Request) (Result, error) {
	if err := e.validate(req); err != nil {
		return Result{}, err
	}

	ctx, span := tracer.Start(ctx, "allocation.Allocate", trace.WithAttributes(
		attribute.String("order.id", req.OrderID.String()),
		attribute.String("allocation.strategy", string(req.Strategy)),
		attribute.Int("allocation.lines", len(req.Lines)),
	))
	defer span.End()

	res := Result{OrderID: req.OrderID, Strategy: req.Strategy}
	for _, line := range req.Lines {
		got, err := e.reserveLine(ctx, req.OrderID, line.ProductID, line.Quantity, req.ActorID)
		res.Reservations = append(res.Reservations, got...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "line reservation failed")
			return e.abort(ctx, req, res, err)
		}
		var reserved int64
		for _, r := range got {
			reserved += r.Quantity
		}
		if short := line.Quantity - reserved; short > 0 {
			res.Shortfalls = append(res.Shortfalls, Shortfall{
				ProductID:     line.ProductID,
				Requested:     line.Quantity,
				QuantityShort: short,
				Reason:        ShortReason,
			})
		}
	}

	if !res.Succeeded() {
		switch req.Strategy {
		case StrategyThrow:
			res, err := e.compensate(ctx, req, res)
			e.metrics.record(ctx, req.Strategy, res)
			if err != nil {
				return res, err
			}
			e.notify(ctx, res)
			first := res.Shortfalls[0]
			return res, apperror.NewInsufficientStock(first.ProductID.String(), "", first.Requested, first.Requested-first.QuantityShort).
				WithDetail("order_id", req.OrderID).
				WithDetail("shortfalls", res.Shortfalls)

		case StrategyBackorder:
			for _, sh := range res.Shortfalls {
				b, err := e.backorders.CreateOrUpdate(ctx, req.OrderID, sh.ProductID, sh.QuantityShort, sh.Reason)
				if err != nil {
					return e.abort(ctx, req, res, err)
				}
				res.Backorders = append(res.Backorders, b)
			}

		case StrategyCount:
			for _, sh := range res.Shortfalls {
				tasks, err := e.counts.RequestCounts(ctx, counttask.Shortage{
					OrderID:       req.OrderID,
					ProductID:     sh.ProductID,
					QuantityShort: sh.QuantityShort,
					Reason:        sh.Reason,
				})
				if err != nil {
					return e.abort(ctx, req, res, err)
				}
				res.CountTasks = append(res.CountTasks, tasks...)
			}
		}
	}

	e.metrics.record(ctx, req.Strategy, res)
	span.SetAttributes(
		attribute.Int64("allocation.reserved", res.ReservedQuantity()),
		attribute.Int("allocation.shortfalls", len(res.Shortfalls)),
	)
	logger.Info(ctx, "order allocated",
		"order_id", req.OrderID,
		"strategy", req.Strategy,
		"reservations", len(res.Reservations),
		"shortfalls", len(res.Shortfalls),
	)
	e.notify(ctx, res)
	return res, nil
}

// ReserveAvailable reserves up to qty units of a product for an order
// without any shortfall handling. Reservations made before an error stand
// unless the caller's transaction rolls back; backorder fulfillment calls it
// inside one.
func (e *Engine) ReserveAvailable(ctx context.Context, orderID, productID id.ID, qty int64, actorID string) ([]ledger.Reservation, error) {
	if qty <= 0 {
		return nil, apperror.NewValidation("quantity must be positive").WithDetail("quantity", qty)
	}
	return e.reserveLine(ctx, orderID, productID, qty, actorID)
}

// RankLocations orders candidate records for reservation: largest available
// first, ties by location id. Records with nothing available are dropped.
func RankLocations(records []ledger.StockRecord) []ledger.StockRecord {
	ranked := make([]ledger.StockRecord, 0, len(records))
	for _, r := range records {
		if r.Available() > 0 {
			ranked = append(ranked, r)
		}
	}
	slices.SortStableFunc(ranked, func(a, b ledger.StockRecord) int {
		if c := cmp.Compare(b.Available(), a.Available()); c != 0 {
			return c
		}
		return id.Compare(a.LocationID, b.LocationID)
	})
	return ranked
}

// reserveLine walks the ranked locations reserving min(remaining, available)
// at each. The partial reservations are returned even on error.
func (e *Engine) reserveLine(ctx context.Context, orderID, productID id.ID, qty int64, actorID string) ([]ledger.Reservation, error) {
	records, err := e.stock.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list stock for %s: %w", productID, err)
	}

	var (
		out       []ledger.Reservation
		remaining = qty
	)
	for _, rec := range RankLocations(records) {
		if remaining == 0 {
			break
		}
		applied, err := e.mutator.ReserveUpTo(ctx, rec.Key(), min(remaining, rec.Available()), orderID, actorID)
		if err != nil {
			return out, err
		}
		got := applied.Quantity()
		if got == 0 {
			continue
		}
		out = append(out, ledger.Reservation{
			ProductID:  productID,
			LocationID: rec.LocationID,
			Quantity:   got,
			MovementID: applied.Movement.ID,
		})
		remaining -= got
	}
	return out, nil
}

func (e *Engine) abort(ctx context.Context, req Request, res Result, cause error) (Result, error) {
	logger.Warn(ctx, "allocation aborted",
		"order_id", req.OrderID,
		"strategy", req.Strategy,
		"retryable", apperror.IsRetryable(cause),
		"error", cause,
	)
	res, err := e.compensate(ctx, req, res)
	if err != nil {
		return res, errors.Join(cause, err)
	}
	return res, cause
}

// compensate releases every reservation in res, newest first.
func (e *Engine) compensate(ctx context.Context, req Request, res Result) (Result, error) {
	var (
		errs []error
		kept []ledger.Reservation
	)
	for i := len(res.Reservations) - 1; i >= 0; i-- {
		r := res.Reservations[i]
		if _, err := e.mutator.Release(ctx, r.Key(), r.Quantity, req.OrderID, req.ActorID, true); err != nil {
			logger.Error(ctx, "compensating release failed",
				"order_id", req.OrderID,
				"key", r.Key().String(),
				"quantity", r.Quantity,
				"error", err,
			)
			errs = append(errs, err)
			kept = append(kept, r)
			continue
		}
		res.Released = append(res.Released, r)
	}
	// Reservations still listed after compensation could not be released.
	res.Reservations = kept
	res.Compensated = true
	if len(errs) > 0 {
		return res, apperror.NewInternal(errors.Join(errs...)).
			WithDetail("order_id", req.OrderID)
	}
	return res, nil
}

func (e *Engine) notify(ctx context.Context, res Result) {
	if e.observer == nil {
		return
	}
	if err := e.observer.AllocationCompleted(ctx, res); err != nil {
		logger.Error(ctx, "allocation observer failed", "order_id", res.OrderID, "error", err)
	}
}
