package memory

import (
	"context"
	"sync"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/ledger"
)

// LocationRepo is a location directory held in memory. Activation changes
// apply immediately, outside any transaction.
type LocationRepo struct {
	mu        sync.RWMutex
	locations map[id.ID]ledger.Location
}

var _ ledger.LocationDirectory = (*LocationRepo)(nil)

// NewLocationRepo creates a directory holding locations.
func NewLocationRepo(locations ...ledger.Location) *LocationRepo {
	r := &LocationRepo{locations: make(map[id.ID]ledger.Location, len(locations))}
	for _, l := range locations {
		r.locations[l.ID] = l
	}
	return r
}

func (r *LocationRepo) CheckLocation(_ context.Context, locationID id.ID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.locations[locationID]
	if !ok {
		return apperror.NewNotFound("location", locationID)
	}
	if !l.Active {
		return apperror.NewNotFound("location", locationID).WithDetail("reason", "inactive")
	}
	return nil
}

func (r *LocationRepo) SetActive(_ context.Context, locationID id.ID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locations[locationID]
	if !ok {
		return apperror.NewNotFound("location", locationID)
	}
	l.Active = active
	r.locations[locationID] = l
	return nil
}
