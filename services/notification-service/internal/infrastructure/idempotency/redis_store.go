package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultTTL = 24 * time.Hour

type RedisStore struct {
	rdb *redis.Client
	lg  zerolog.Logger
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	})
}

func NewRedisStore(rdb *redis.Client, lg zerolog.Logger) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		lg:  lg.With().Str("component", "idem_store").Logger(),
	}
}

// Seen implements notify.IdempotencyStore
func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("empty key")
	}
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fault.Transient(fmt.Errorf("idempotency exists %s: %w", key, err))
	}
	return n == 1, nil
}

// MarkSent implements notify.IdempotencyStore
func (s *RedisStore) MarkSent(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return errors.New("empty key")
	}
	if ttl < time.Second {
		ttl = defaultTTL
	}
	if err := s.rdb.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fault.Transient(fmt.Errorf("idempotency set %s: %w", key, err))
	}
	return nil
}

// MarkSentNX marks key only if absent and reports whether this call did it.
func (s *RedisStore) MarkSentNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("empty key")
	}
	if ttl < time.Second {
		ttl = defaultTTL
	}
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fault.Transient(fmt.Errorf("idempotency setnx %s: %w", key, err))
	}
	return ok, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close(context.Context) error {
	return s.rdb.Close()
}
