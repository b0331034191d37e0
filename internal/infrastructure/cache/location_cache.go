// Package cache provides caching infrastructure with PostgreSQL LISTEN/NOTIFY support.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/ledger"
	"wmsledger/pkg/logger"
)

// ChannelLocationsChanged is notified by a statement trigger on locations.
const ChannelLocationsChanged = "locations_changed"

// LocationSource is the authoritative location store.
type LocationSource interface {
	List(ctx context.Context, activeOnly bool) ([]ledger.Location, error)
	CheckLocation(ctx context.Context, locationID id.ID) error
}

// LocationCache answers location checks from memory and reloads on
// locations_changed notifications. Ids it has never seen are checked
// against the source, so a location created between reloads is accepted.
type LocationCache struct {
	pool   *pgxpool.Pool
	source LocationSource

	mu        sync.RWMutex
	locations map[id.ID]ledger.Location

	// Lifecycle
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

var _ ledger.LocationDirectory = (*LocationCache)(nil)

// NewLocationCache creates a cache. pool is used only for LISTEN.
func NewLocationCache(pool *pgxpool.Pool, source LocationSource) *LocationCache {
	return &LocationCache{
		pool:      pool,
		source:    source,
		locations: make(map[id.ID]ledger.Location),
	}
}

// Start loads all locations and begins listening for changes.
func (c *LocationCache) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.lifecycleMu.Lock()
	if c.started {
		c.lifecycleMu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true
	c.lifecycleMu.Unlock()

	if err := c.Load(c.ctx); err != nil {
		c.Stop()
		return fmt.Errorf("load locations: %w", err)
	}

	c.wg.Add(1)
	go c.listenLoop()
	logger.Info(c.ctx, "location cache started")
	return nil
}

// Stop gracefully stops the cache listener.
func (c *LocationCache) Stop() {
	c.lifecycleMu.Lock()
	if !c.started {
		c.lifecycleMu.Unlock()
		return
	}
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	logger.Info(context.Background(), "location cache stopped")
}

// listenLoop holds a dedicated connection in LISTEN and reconnects on failure.
func (c *LocationCache) listenLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		conn, err := c.pool.Acquire(c.ctx)
		if err != nil {
			logger.Error(c.ctx, "failed to acquire connection for LISTEN", "error", err)
			c.sleep(time.Second)
			continue
		}

		if _, err = conn.Exec(c.ctx, "LISTEN "+ChannelLocationsChanged); err != nil {
			logger.Error(c.ctx, "failed to LISTEN", "error", err)
			conn.Release()
			c.sleep(time.Second)
			continue
		}

		// Changes made while disconnected were not notified.
		if err := c.Load(c.ctx); err != nil {
			logger.Error(c.ctx, "failed to reload locations", "error", err)
		}

		c.waitForNotifications(conn)
		conn.Release()
	}
}

func (c *LocationCache) sleep(d time.Duration) {
	select {
	case <-c.ctx.Done():
	case <-time.After(d):
	}
}

// waitForNotifications blocks until the connection fails or ctx ends.
func (c *LocationCache) waitForNotifications(conn *pgxpool.Conn) {
	for {
		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		notification, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if ctx.Err() != nil {
				continue
			}
			logger.Warn(c.ctx, "LISTEN connection lost", "error", err)
			return
		}

		c.HandleNotification(c.ctx, notification.Channel)
	}
}

// HandleNotification reloads the cache for a locations_changed event.
func (c *LocationCache) HandleNotification(ctx context.Context, channel string) {
	if channel != ChannelLocationsChanged {
		return
	}
	if err := c.Load(ctx); err != nil {
		logger.Error(ctx, "failed to reload locations", "error", err)
	}
}

// Load replaces the cached locations with the source's.
func (c *LocationCache) Load(ctx context.Context) error {
	list, err := c.source.List(ctx, false)
	if err != nil {
		return err
	}
	locations := make(map[id.ID]ledger.Location, len(list))
	for _, l := range list {
		locations[l.ID] = l
	}

	c.mu.Lock()
	c.locations = locations
	c.mu.Unlock()

	logger.Debug(ctx, "loaded locations", "count", len(locations))
	return nil
}

// CheckLocation fails with NotFound unless the location exists and is active.
func (c *LocationCache) CheckLocation(ctx context.Context, locationID id.ID) error {
	c.mu.RLock()
	loc, ok := c.locations[locationID]
	c.mu.RUnlock()

	if !ok {
		return c.source.CheckLocation(ctx, locationID)
	}
	if !loc.Active {
		return apperror.NewNotFound("location", locationID).WithDetail("reason", "inactive")
	}
	return nil
}

// Len returns the number of cached locations.
func (c *LocationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.locations)
}
