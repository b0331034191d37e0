package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/pkg/logger"
)

// Audited entity types.
const (
	EntityOrder     = "order"
	EntityTransfer  = "transfer"
	EntityMovement  = "movement"
	EntityCountTask = "count_task"
	EntityLocation  = "location"
)

var auditedEntities = map[string]bool{
	EntityOrder:     true,
	EntityTransfer:  true,
	EntityMovement:  true,
	EntityCountTask: true,
	EntityLocation:  true,
}

// AuditRecord is a stored audit entry with its payload decoded.
type AuditRecord struct {
	ID         id.ID           `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   id.ID           `json:"entity_id"`
	Action     string          `json:"action"`
	ActorID    string          `json:"actor_id"`
	RequestID  *string         `json:"request_id,omitempty"`
	Changes    json.RawMessage `json:"changes"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SetLocations attaches the location administration port.
func (s *Service) SetLocations(l LocationAdmin) {
	s.locations = l
}

// AuditHistory returns the audit trail of one entity, newest first.
func (s *Service) AuditHistory(ctx context.Context, entityType string, entityID id.ID, limit int) ([]AuditRecord, error) {
	if !auditedEntities[entityType] {
		return nil, apperror.NewValidation("unknown audit entity type").WithDetail("entity_type", entityType)
	}
	if s.auditor == nil {
		return nil, nil
	}
	return s.auditor.History(ctx, entityType, entityID, limit)
}

// LocationState is the outcome of an activation change.
type LocationState struct {
	ID     id.ID `json:"id"`
	Active bool  `json:"active"`
}

// SetLocationActive activates or retires a location. Records already held
// there stay; a retired location accepts no new stock.
func (s *Service) SetLocationActive(ctx context.Context, locationID id.ID, active bool, actorID string) (LocationState, error) {
	if s.locations == nil {
		return LocationState{}, apperror.NewInternal(errors.New("location administration is not configured"))
	}
	if err := s.locations.SetActive(ctx, locationID, active); err != nil {
		return LocationState{}, err
	}

	state := LocationState{ID: locationID, Active: active}
	action := "deactivate"
	if active {
		action = "activate"
	}
	s.audit(ctx, AuditEntry{EntityType: EntityLocation, EntityID: locationID, Action: action, ActorID: actorID, Payload: state})
	logger.Info(ctx, "location "+action+"d", "location_id", locationID)
	return state, nil
}
