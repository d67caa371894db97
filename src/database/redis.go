package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/integems/caption-agent/config"
	"github.com/redis/go-redis/v9"
)

func NewRedisConnection(cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return client
}

// RedisSessionManager tracks sessions that were logged out before their
// token expired. Each entry lives only as long as the token would have.
type RedisSessionManager struct {
	client redis.Cmdable
}

func NewRedisSessionManager(client redis.Cmdable) *RedisSessionManager {
	return &RedisSessionManager{client: client}
}

func revokedKey(tokenID string) string {
	return fmt.Sprintf("sessions:revoked:%s", tokenID)
}

// Ping checks that redis is reachable.
func (r *RedisSessionManager) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

// Revoke marks the session as ended for the remaining ttl.
func (r *RedisSessionManager) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, revokedKey(tokenID), time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// IsRevoked reports whether the session was ended by a logout.
func (r *RedisSessionManager) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := r.client.Get(ctx, revokedKey(tokenID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return true, nil
}
