// Package redisstream delivers outbox messages to Redis streams, one stream
// per event type, for the work-assignment and order systems to consume.
package redisstream

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wmsledger/internal/infrastructure/storage/postgres"
)

// Config holds the Redis connection and stream settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to the event type: "<prefix>:<event_type>".
	Prefix string
	// MaxLen caps each stream approximately. Zero leaves streams unbounded.
	MaxLen int64
}

// streamAdder is the subset of the Redis client the publisher uses.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Publisher implements postgres.OutboxHandler with XADD.
type Publisher struct {
	client streamAdder
	prefix string
	maxLen int64
}

var _ postgres.OutboxHandler = (*Publisher)(nil)

// NewClient creates a Redis client and checks the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewPublisher creates a stream publisher over client.
func NewPublisher(client streamAdder, cfg Config) *Publisher {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "wms"
	}
	return &Publisher{client: client, prefix: prefix, maxLen: cfg.MaxLen}
}

// StreamKey returns the stream an event type is written to.
func (p *Publisher) StreamKey(eventType string) string {
	return p.prefix + ":" + eventType
}

// Handle appends msg to its stream. The outbox message id travels as a field
// so consumers can drop redeliveries.
func (p *Publisher) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	args := &redis.XAddArgs{
		Stream: p.StreamKey(msg.EventType),
		Values: map[string]any{
			"message_id":     msg.ID.String(),
			"event_type":     msg.EventType,
			"aggregate_type": msg.AggregateType,
			"aggregate_id":   msg.AggregateID.String(),
			"payload":        string(msg.Payload),
			"created_at":     msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}
