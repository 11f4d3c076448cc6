package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// LogPublisher writes every event as a structured log line.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, ev BalanceChanged) error {
	p.logger.LogAttrs(ctx, slog.LevelInfo, "balance changed",
		slog.String("account_id", ev.AccountID.String()),
		slog.String("entry_id", ev.EntryID),
		slog.String("kind", string(ev.Kind)),
		slog.String("unit", string(ev.Unit)),
		slog.String("action", string(ev.Action)),
		slog.Int64("delta", ev.Delta),
		slog.Int64("new_balance", ev.NewBalance),
		slog.String("reason", ev.Reason),
	)
	return nil
}

// RedisPublisher PUBLISHes events as JSON. The per-account channel lets
// a client subscribe to its own balance only.
type RedisPublisher struct {
	client goredis.UniversalClient
	prefix string
}

func NewRedisPublisher(client goredis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "balance"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the channel events for accountID are published on.
func (p *RedisPublisher) Channel(ev BalanceChanged) string {
	return fmt.Sprintf("%s:%s", p.prefix, ev.AccountID)
}

func (p *RedisPublisher) Publish(ctx context.Context, ev BalanceChanged) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events/redis: marshal: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(ev), payload).Err(); err != nil {
		return fmt.Errorf("events/redis: publish: %w", err)
	}
	return nil
}
