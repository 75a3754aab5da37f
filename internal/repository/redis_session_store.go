package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore keeps a scope's entries in one Redis hash so Clear is a
// single DEL.
type RedisSessionStore struct {
	client *redis.Client
	hash   string
}

// NewRedisSessionStore constructs the store for the given scope.
func NewRedisSessionStore(client *redis.Client, scope string) *RedisSessionStore {
	return &RedisSessionStore{client: client, hash: fmt.Sprintf("classroom:session:%s", scope)}
}

// Get returns the value stored under key.
func (s *RedisSessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.HGet(ctx, s.hash, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis hget %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key.
func (s *RedisSessionStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, s.hash, key, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (s *RedisSessionStore) Remove(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.hash, key).Err(); err != nil {
		return fmt.Errorf("redis hdel %s: %w", key, err)
	}
	return nil
}

// Clear drops the whole scope.
func (s *RedisSessionStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.hash).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.hash, err)
	}
	return nil
}
