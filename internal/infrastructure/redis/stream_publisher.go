package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ledger-service/internal/application"
	"ledger-service/internal/domain"
)

var _ application.EventPublisher = (*StreamPublisher)(nil)

// StreamPublisher appends outbox events to a Redis stream.
type StreamPublisher struct {
	Client *redis.Client
	Stream string
	// MaxLen caps the stream approximately; zero keeps everything.
	MaxLen int64
}

func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{Client: client, Stream: stream, MaxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, e domain.OutboxEvent) error {
	args := &redis.XAddArgs{
		Stream: p.Stream,
		Values: map[string]any{
			"event_id":     strconv.FormatInt(e.ID, 10),
			"type":         e.Type,
			"aggregate_id": e.AggregateID,
			"payload":      string(e.Payload),
			"created_at":   e.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if p.MaxLen > 0 {
		args.MaxLen = p.MaxLen
		args.Approx = true
	}
	if err := p.Client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.Stream, err)
	}
	return nil
}
