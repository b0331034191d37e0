package redisstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wmsledger/internal/core/id"
	"wmsledger/internal/infrastructure/storage/postgres"
)

type fakeStreams struct {
	added []*redis.XAddArgs
	err   error
}

func (f *fakeStreams) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.added = append(f.added, a)
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	return redis.NewStringResult("1-0", nil)
}

func TestHandleWritesToEventStream(t *testing.T) {
	streams := &fakeStreams{}
	p := NewPublisher(streams, Config{Prefix: "wms", MaxLen: 1000})

	msg := &postgres.OutboxMessage{
		ID:            id.New(),
		AggregateType: "backorder",
		AggregateID:   id.New(),
		EventType:     "backorder.picks_ready",
		Payload:       []byte(`{"tasks":[]}`),
		CreatedAt:     time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Handle(context.Background(), msg))

	require.Len(t, streams.added, 1)
	args := streams.added[0]
	assert.Equal(t, "wms:backorder.picks_ready", args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	values := args.Values.(map[string]any)
	assert.Equal(t, msg.ID.String(), values["message_id"])
	assert.Equal(t, `{"tasks":[]}`, values["payload"])
	assert.Equal(t, "2026-03-01T08:00:00Z", values["created_at"])
}

func TestHandleReturnsRedisErrors(t *testing.T) {
	streams := &fakeStreams{err: errors.New("READONLY")}
	p := NewPublisher(streams, Config{})

	err := p.Handle(context.Background(), &postgres.OutboxMessage{ID: id.New(), EventType: "count_task.requested"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wms:count_task.requested")
	assert.Zero(t, streams.added[0].MaxLen)
}
