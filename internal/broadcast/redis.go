// Package broadcast publishes board snapshots to Redis: the latest
// placement under <prefix>:latest and every change on the
// <prefix>:snapshots channel.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chessarm/pkg/types"
)

// Publisher writes snapshot records to Redis.
type Publisher struct {
	rdb    *redis.Client
	prefix string
}

// NewPublisher wraps an existing client.
func NewPublisher(rdb *redis.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "chessarm"
	}
	return &Publisher{rdb: rdb, prefix: prefix}
}

// Dial connects to addr and checks the server answers.
func Dial(ctx context.Context, cfg types.RedisConfig) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}
	return NewPublisher(rdb, cfg.Prefix), nil
}

func (p *Publisher) Name() string { return "redis:" + p.prefix }

func (p *Publisher) LatestKey() string { return p.prefix + ":latest" }

func (p *Publisher) Channel() string { return p.prefix + ":snapshots" }

// Publish stores the placement and announces the record.
func (p *Publisher) Publish(ctx context.Context, rec types.SnapshotRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	pipe := p.rdb.Pipeline()
	pipe.Set(ctx, p.LatestKey(), rec.Placement, 0)
	pipe.Publish(ctx, p.Channel(), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// Latest returns the last published placement, or "" if none.
func (p *Publisher) Latest(ctx context.Context) (string, error) {
	v, err := p.rdb.Get(ctx, p.LatestKey()).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (p *Publisher) Close() error { return p.rdb.Close() }
