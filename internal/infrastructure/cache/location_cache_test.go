package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/ledger"
)

type fakeSource struct {
	locations []ledger.Location
	lists     int
	checks    int
}

func (s *fakeSource) List(_ context.Context, _ bool) ([]ledger.Location, error) {
	s.lists++
	return append([]ledger.Location(nil), s.locations...), nil
}

func (s *fakeSource) CheckLocation(_ context.Context, locationID id.ID) error {
	s.checks++
	for _, l := range s.locations {
		if l.ID == locationID && l.Active {
			return nil
		}
	}
	return apperror.NewNotFound("location", locationID)
}

func TestLocationCacheCheck(t *testing.T) {
	active := ledger.Location{ID: id.New(), Code: "A", Active: true}
	retired := ledger.Location{ID: id.New(), Code: "B", Active: false}
	src := &fakeSource{locations: []ledger.Location{active, retired}}

	c := NewLocationCache(nil, src)
	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, 2, c.Len())

	assert.NoError(t, c.CheckLocation(context.Background(), active.ID))

	err := c.CheckLocation(context.Background(), retired.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))
	assert.Zero(t, src.checks)

	// Unknown ids go to the source.
	err = c.CheckLocation(context.Background(), id.New())
	assert.True(t, apperror.IsNotFound(err))
	assert.Equal(t, 1, src.checks)
}

func TestLocationCacheReloadsOnNotification(t *testing.T) {
	loc := ledger.Location{ID: id.New(), Code: "A", Active: true}
	src := &fakeSource{locations: []ledger.Location{loc}}

	c := NewLocationCache(nil, src)
	require.NoError(t, c.Load(context.Background()))

	src.locations[0].Active = false
	c.HandleNotification(context.Background(), "other_channel")
	assert.NoError(t, c.CheckLocation(context.Background(), loc.ID))

	c.HandleNotification(context.Background(), ChannelLocationsChanged)
	assert.True(t, apperror.IsNotFound(c.CheckLocation(context.Background(), loc.ID)))
	assert.Equal(t, 2, src.lists)
}
