// Package bus publishes accepted insights to a Redis Stream so other home
// automation consumers can react to them.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cortexhub/cortex-sentinel/internal/store"
)

// Publisher appends insights to a Redis Stream using XADD. The bus is
// best-effort: publish failures are logged and never block the pipeline.
type Publisher struct {
	rdb    *redis.Client
	stream string
	logger *slog.Logger
}

// New creates a Publisher and validates the connection with a ping.
func New(addr, password string, db int, stream string, logger *slog.Logger) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Publisher{rdb: rdb, stream: stream, logger: logger}, nil
}

// Publish appends one insight to the stream.
func (p *Publisher) Publish(ctx context.Context, ins *store.InsightRecord) {
	values := map[string]interface{}{
		"id":         ins.ID,
		"category":   ins.Category,
		"message":    ins.Message,
		"confidence": strconv.FormatFloat(ins.Confidence, 'f', -1, 64),
		"entity":     ins.PrimaryEntity(),
		"created_at": ins.CreatedAt.UTC().Format(time.RFC3339),
	}

	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Result()
	if err != nil {
		p.logger.Error("Failed to publish insight to bus", "error", err, "insight_id", ins.ID)
		return
	}
	p.logger.Debug("Insight published", "stream", p.stream, "message_id", id)
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
