package memory

import (
	"context"
	"slices"

	"wmsledger/internal/core/event"
)

// EventLog implements event.Publisher. Events published inside a
// transaction become visible only when it commits.
type EventLog struct {
	db *DB
}

var _ event.Publisher = (*EventLog)(nil)

// Events returns the outbox of the database.
func (db *DB) Events() *EventLog {
	return &EventLog{db: db}
}

func (l *EventLog) Publish(ctx context.Context, e event.Event) error {
	if t := l.db.txFrom(ctx); t != nil {
		t.events = append(t.events, e)
		return nil
	}
	l.db.mu.Lock()
	l.db.events = append(l.db.events, e)
	l.db.mu.Unlock()
	return nil
}

// Published returns committed events of the given type, or all events when
// eventType is empty.
func (l *EventLog) Published(eventType string) []event.Event {
	l.db.mu.RLock()
	defer l.db.mu.RUnlock()
	if eventType == "" {
		return slices.Clone(l.db.events)
	}
	var out []event.Event
	for _, e := range l.db.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
