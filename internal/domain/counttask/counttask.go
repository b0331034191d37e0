// Package counttask manages physical stock count tasks. Tasks are their own
// entity; the movement log only receives the COUNT movement written when a
// task is completed.
package counttask

import (
	"context"
	"fmt"
	"time"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/core/tx"
	"wmsledger/internal/domain/ledger"
	"wmsledger/pkg/logger"
)

// Status of a count task.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Task asks the floor to count a product at a location. A nil LocationID
// asks for the product to be searched for anywhere.
type Task struct {
	ID              id.ID      `json:"id" db:"id"`
	ProductID       id.ID      `json:"product_variant_id" db:"product_variant_id"`
	LocationID      *id.ID     `json:"location_id,omitempty" db:"location_id"`
	OrderID         *id.ID     `json:"order_id,omitempty" db:"order_id"`
	QuantityShort   int64      `json:"quantity_short" db:"quantity_short"`
	Reason          string     `json:"reason" db:"reason"`
	Status          Status     `json:"status" db:"status"`
	CountedQuantity *int64     `json:"counted_quantity,omitempty" db:"counted_quantity"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Filter narrows task listings.
type Filter struct {
	ProductID  *id.ID
	LocationID *id.ID
	Status     *Status
	Limit      int
}

// Repository is the count task store port.
type Repository interface {
	// FindOpenForUpdate locks the open task for a product at a location
	// (nil location: the product-wide task). Returns nil, nil when none.
	FindOpenForUpdate(ctx context.Context, productID id.ID, locationID *id.ID) (*Task, error)

	GetForUpdate(ctx context.Context, taskID id.ID) (*Task, error)

	// Create inserts t unless an open task for the same product and
	// location exists, in which case it returns false.
	Create(ctx context.Context, t *Task) (bool, error)

	Update(ctx context.Context, t *Task) error
	List(ctx context.Context, filter Filter) ([]Task, error)
}

// Notifier is told about every newly opened task.
type Notifier interface {
	CountRequested(ctx context.Context, t Task) error
}

// Counter records count results against the ledger.
type Counter interface {
	Count(ctx context.Context, req ledger.CountRequest) (ledger.Applied, error)
}

// StockReader lists the stock records of a product.
type StockReader interface {
	ListByProduct(ctx context.Context, productID id.ID) ([]ledger.StockRecord, error)
}

// Service opens and completes count tasks.
type Service struct {
	txm      tx.Manager
	repo     Repository
	stock    StockReader
	counter  Counter
	notifier Notifier
	now      func() time.Time
}

// NewService creates a count task service.
func NewService(txm tx.Manager, repo Repository, stock StockReader, counter Counter, notifier Notifier) *Service {
	return &Service{
		txm:      txm,
		repo:     repo,
		stock:    stock,
		counter:  counter,
		notifier: notifier,
		now:      time.Now,
	}
}

// Shortage is an allocation shortfall that should be verified by counting.
type Shortage struct {
	OrderID       id.ID
	ProductID     id.ID
	QuantityShort int64
	Reason        string
}

// RequestCounts opens a task for every location that holds a record of the
// product, or one product-wide task when no location does. A location that
// already has an open task keeps it.
func (s *Service) RequestCounts(ctx context.Context, sh Shortage) ([]Task, error) {
	records, err := s.stock.ListByProduct(ctx, sh.ProductID)
	if err != nil {
		return nil, fmt.Errorf("list stock records: %w", err)
	}

	locations := make([]*id.ID, 0, len(records))
	for _, r := range records {
		locations = append(locations, id.Ptr(r.LocationID))
	}
	if len(locations) == 0 {
		locations = append(locations, nil)
	}

	tasks := make([]Task, 0, len(locations))
	for _, loc := range locations {
		t, err := s.open(ctx, sh, loc)
		if err != nil {
			return tasks, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *Service) open(ctx context.Context, sh Shortage, locationID *id.ID) (Task, error) {
	var out Task
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		for attempt := 0; attempt < 2; attempt++ {
			existing, err := s.repo.FindOpenForUpdate(ctx, sh.ProductID, locationID)
			if err != nil {
				return fmt.Errorf("find open count task: %w", err)
			}
			if existing != nil {
				out = *existing
				return nil
			}

			t := Task{
				ID:            id.New(),
				ProductID:     sh.ProductID,
				LocationID:    locationID,
				QuantityShort: sh.QuantityShort,
				Reason:        sh.Reason,
				Status:        StatusOpen,
				CreatedAt:     s.now().UTC(),
			}
			if !id.IsNil(sh.OrderID) {
				t.OrderID = id.Ptr(sh.OrderID)
			}
			created, err := s.repo.Create(ctx, &t)
			if err != nil {
				return fmt.Errorf("create count task: %w", err)
			}
			if !created {
				continue
			}
			if s.notifier != nil {
				if err := s.notifier.CountRequested(ctx, t); err != nil {
					return fmt.Errorf("notify count requested: %w", err)
				}
			}
			out = t
			return nil
		}
		return apperror.NewContention("stock_count_tasks")
	})
	if err != nil {
		return Task{}, err
	}
	return out, nil
}

// CompleteRequest closes a task with the counted quantity. LocationID is
// required for product-wide tasks and ignored otherwise.
type CompleteRequest struct {
	TaskID     id.ID
	LocationID *id.ID
	Counted    int64
	ActorID    string
}

// Completion is the outcome of a completed task. Movement is nil when the
// count matched an absent record and nothing was written to the ledger.
type Completion struct {
	Task     Task            `json:"task"`
	Movement *ledger.Applied `json:"movement,omitempty"`
}

// Complete writes the count to the ledger and closes the task in one
// transaction.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (Completion, error) {
	var out Completion
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetForUpdate(ctx, req.TaskID)
		if err != nil {
			return err
		}
		if t.Status != StatusOpen {
			return apperror.NewInvalidTransition("count task", string(t.Status), string(StatusCompleted))
		}
		loc := t.LocationID
		if loc == nil {
			loc = req.LocationID
		}
		if loc == nil {
			return apperror.NewValidation("location is required to complete a product-wide count")
		}

		applied, err := s.counter.Count(ctx, ledger.CountRequest{
			Key:         ledger.Key{ProductID: t.ProductID, LocationID: *loc},
			Counted:     req.Counted,
			CountTaskID: id.Ptr(t.ID),
			ActorID:     req.ActorID,
		})
		switch {
		case err == nil:
			out.Movement = &applied
		case apperror.IsNotFound(err) && req.Counted == 0:
			// Nothing recorded and nothing found.
		default:
			return err
		}

		now := s.now().UTC()
		counted := req.Counted
		t.Status = StatusCompleted
		t.CountedQuantity = &counted
		t.CompletedAt = &now
		if t.LocationID == nil {
			t.LocationID = loc
		}
		if err := s.repo.Update(ctx, t); err != nil {
			return fmt.Errorf("update count task: %w", err)
		}
		out.Task = *t
		return nil
	})
	if err != nil {
		return Completion{}, err
	}

	logger.Info(ctx, "count task completed",
		"task_id", req.TaskID,
		"counted", req.Counted,
	)
	return out, nil
}

// Cancel closes an open task without counting.
func (s *Service) Cancel(ctx context.Context, taskID id.ID) (Task, error) {
	var out Task
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status != StatusOpen {
			return apperror.NewInvalidTransition("count task", string(t.Status), string(StatusCancelled))
		}
		now := s.now().UTC()
		t.Status = StatusCancelled
		t.CompletedAt = &now
		if err := s.repo.Update(ctx, t); err != nil {
			return fmt.Errorf("update count task: %w", err)
		}
		out = *t
		return nil
	})
	return out, err
}

// List returns tasks matching filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]Task, error) {
	return s.repo.List(ctx, filter)
}
