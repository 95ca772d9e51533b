package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/feed-sync/pkg/config"
	"github.com/feed-sync/pkg/models"
)

// RedisClient caches the latest emitted record per subscription so API and
// websocket consumers read current state without touching the merge loop.
type RedisClient struct {
	client *redis.Client
	logger *logrus.Entry
	ttl    time.Duration
}

// NewRedisClient creates a new Redis client.
func NewRedisClient(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
		MaxRetries:   2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		logger: logger.WithField("component", "redis"),
		ttl:    cfg.RecordTTL,
	}, nil
}

// Close closes the Redis connection.
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Health checks Redis health.
func (rc *RedisClient) Health(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func recordKey(symbol string, kind models.Kind) string {
	return fmt.Sprintf("record:%s:%s", symbol, kind)
}

// SetRecord stores the latest record for a symbol and kind.
func (rc *RedisClient) SetRecord(ctx context.Context, rec *models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return rc.client.Set(ctx, recordKey(rec.Symbol, rec.Kind), data, rc.ttl).Err()
}

// SetRecordBatch stores a batch of records in one pipeline round trip.
func (rc *RedisClient) SetRecordBatch(ctx context.Context, recs []*models.Record) error {
	if len(recs) == 0 {
		return nil
	}

	pipe := rc.client.Pipeline()
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record for %s: %w", rec.Symbol, err)
		}
		pipe.Set(ctx, recordKey(rec.Symbol, rec.Kind), data, rc.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute record batch: %w", err)
	}
	return nil
}

// GetRecord returns the latest cached record, or nil when none is cached.
func (rc *RedisClient) GetRecord(ctx context.Context, symbol string, kind models.Kind) (*models.Record, error) {
	data, err := rc.client.Get(ctx, recordKey(symbol, kind)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var rec models.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// SetFrontier stores the synchronizer's current frontier time.
func (rc *RedisClient) SetFrontier(ctx context.Context, t time.Time) error {
	return rc.client.Set(ctx, "feed:frontier", t.UTC().Format(time.RFC3339Nano), rc.ttl).Err()
}

// GetFrontier returns the last published frontier time, zero when unset.
func (rc *RedisClient) GetFrontier(ctx context.Context) (time.Time, error) {
	data, err := rc.client.Get(ctx, "feed:frontier").Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get frontier: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, data)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse frontier: %w", err)
	}
	return t, nil
}

// SetUniverseMembers stores a universe's current membership.
func (rc *RedisClient) SetUniverseMembers(ctx context.Context, universe string, members []string) error {
	data, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("failed to marshal members: %w", err)
	}
	return rc.client.Set(ctx, fmt.Sprintf("universe:%s:members", universe), data, rc.ttl).Err()
}

// GetUniverseMembers returns a universe's cached membership.
func (rc *RedisClient) GetUniverseMembers(ctx context.Context, universe string) ([]string, error) {
	data, err := rc.client.Get(ctx, fmt.Sprintf("universe:%s:members", universe)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}

	var members []string
	if err := json.Unmarshal([]byte(data), &members); err != nil {
		return nil, fmt.Errorf("failed to unmarshal members: %w", err)
	}
	return members, nil
}
