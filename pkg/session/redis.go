package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Combine-Capital/cqweb/pkg/config"
	"github.com/Combine-Capital/cqweb/pkg/errors"
)

const keyPrefix = "cqweb:session"

// RedisStore keeps JSON encoded sessions in Redis with a TTL that is
// refreshed on every save.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the configured Redis server.
func NewRedisStore(ctx context.Context, cfg config.SessionConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewTemporary("failed to connect to Redis", err)
	}

	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, Key(keyPrefix, id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.NewNotFound("session", id)
		}
		return nil, errors.NewTemporary("failed to get session", err)
	}
	return decode(data)
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, Key(keyPrefix, s.ID), data, r.ttl).Err(); err != nil {
		return errors.NewTemporary("failed to save session", err)
	}
	return nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, Key(keyPrefix, id)).Err(); err != nil {
		return errors.NewTemporary("failed to delete session", err)
	}
	return nil
}

// Check implements Store using PING.
func (r *RedisStore) Check(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.NewTemporary("Redis health check failed", err)
	}
	return nil
}

// Close releases the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
