package memory

import (
	"context"
	"slices"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/counttask"
)

// CountTaskRepo implements counttask.Repository.
type CountTaskRepo struct {
	db *DB
}

var _ counttask.Repository = (*CountTaskRepo)(nil)

// CountTasks returns the count task repository.
func (db *DB) CountTasks() *CountTaskRepo {
	return &CountTaskRepo{db: db}
}

func (db *DB) tasksView(t *memTx) []counttask.Task {
	db.mu.RLock()
	merged := make(map[id.ID]counttask.Task, len(db.tasks))
	for k, task := range db.tasks {
		merged[k] = task
	}
	db.mu.RUnlock()
	if t != nil {
		for k, task := range t.tasks {
			merged[k] = task
		}
	}

	out := make([]counttask.Task, 0, len(merged))
	for _, task := range merged {
		out = append(out, task)
	}
	slices.SortFunc(out, func(a, b counttask.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return id.Compare(a.ID, b.ID)
	})
	return out
}

func sameLocation(a, b *id.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func openTaskLock(productID id.ID, locationID *id.ID) string {
	loc := "any"
	if locationID != nil {
		loc = locationID.String()
	}
	return "count-open:" + productID.String() + ":" + loc
}

func taskLock(taskID id.ID) string {
	return "count:" + taskID.String()
}

func (r *CountTaskRepo) find(t *memTx, taskID id.ID) (*counttask.Task, error) {
	for _, task := range r.db.tasksView(t) {
		if task.ID == taskID {
			return &task, nil
		}
	}
	return nil, apperror.NewNotFound("count task", taskID)
}

func (r *CountTaskRepo) FindOpenForUpdate(ctx context.Context, productID id.ID, locationID *id.ID) (*counttask.Task, error) {
	t, err := r.db.requireTx(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.db.lock(ctx, t, openTaskLock(productID, locationID)); err != nil {
		return nil, err
	}
	for _, task := range r.db.tasksView(t) {
		if task.ProductID == productID && sameLocation(task.LocationID, locationID) && task.Status == counttask.StatusOpen {
			if err := r.db.lock(ctx, t, taskLock(task.ID)); err != nil {
				return nil, err
			}
			return r.find(t, task.ID)
		}
	}
	return nil, nil
}

func (r *CountTaskRepo) GetForUpdate(ctx context.Context, taskID id.ID) (*counttask.Task, error) {
	t, err := r.db.requireTx(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.db.lock(ctx, t, taskLock(taskID)); err != nil {
		return nil, err
	}
	return r.find(t, taskID)
}

func (r *CountTaskRepo) Create(ctx context.Context, task *counttask.Task) (bool, error) {
	t, err := r.db.requireTx(ctx)
	if err != nil {
		return false, err
	}
	if err := r.db.lock(ctx, t, openTaskLock(task.ProductID, task.LocationID)); err != nil {
		return false, err
	}
	for _, existing := range r.db.tasksView(t) {
		if existing.ProductID == task.ProductID && sameLocation(existing.LocationID, task.LocationID) &&
			existing.Status == counttask.StatusOpen {
			return false, nil
		}
	}
	if err := r.db.lock(ctx, t, taskLock(task.ID)); err != nil {
		return false, err
	}
	t.tasks[task.ID] = *task
	return true, nil
}

func (r *CountTaskRepo) Update(ctx context.Context, task *counttask.Task) error {
	t, err := r.db.requireTx(ctx)
	if err != nil {
		return err
	}
	if !t.holds(taskLock(task.ID)) {
		return apperror.NewConflict("count task must be locked before update")
	}
	t.tasks[task.ID] = *task
	return nil
}

func (r *CountTaskRepo) List(ctx context.Context, f counttask.Filter) ([]counttask.Task, error) {
	var out []counttask.Task
	for _, task := range r.db.tasksView(r.db.txFrom(ctx)) {
		if f.ProductID != nil && task.ProductID != *f.ProductID {
			continue
		}
		if f.LocationID != nil && !sameLocation(task.LocationID, f.LocationID) {
			continue
		}
		if f.Status != nil && task.Status != *f.Status {
			continue
		}
		out = append(out, task)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
