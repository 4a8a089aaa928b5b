package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alavescortez-del/gingerai-sub000/internal/config"
)

const (
	deliveredKeyPrefix = "media:delivered"
	turnLockPrefix     = "chat:lock"
	turnAppliedPrefix  = "chat:applied"

	deliveredTTL   = 90 * 24 * time.Hour
	turnAppliedTTL = 24 * time.Hour
)

// RedisStore backs the fast, expirable state: delivered-media history,
// per-conversation turn locks and turn idempotency markers.
type RedisStore struct {
	client  *redis.Client
	lockTTL time.Duration
}

func NewRedisStore(cfg config.RedisConfig, lockTTL time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client, lockTTL: lockTTL}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Delivery log

func deliveredKey(userID, personaID string) string {
	return fmt.Sprintf("%s:%s:%s", deliveredKeyPrefix, userID, personaID)
}

func (s *RedisStore) Delivered(ctx context.Context, userID, personaID string) (map[string]bool, error) {
	refs, err := s.client.SMembers(ctx, deliveredKey(userID, personaID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read delivered set: %w", err)
	}
	out := make(map[string]bool, len(refs))
	for _, ref := range refs {
		out[ref] = true
	}
	return out, nil
}

func (s *RedisStore) MarkDelivered(ctx context.Context, userID, personaID, ref string) error {
	key := deliveredKey(userID, personaID)
	if err := s.client.SAdd(ctx, key, ref).Err(); err != nil {
		return fmt.Errorf("failed to mark delivered: %w", err)
	}
	return s.client.Expire(ctx, key, deliveredTTL).Err()
}

func (s *RedisStore) ClearDelivered(ctx context.Context, userID, personaID string) error {
	return s.client.Del(ctx, deliveredKey(userID, personaID)).Err()
}

// Turn lock: serializes concurrent turns for one (user, conversation) pair.
// The TTL bounds how long a crashed turn can hold the lock.

func (s *RedisStore) Acquire(ctx context.Context, key string) (func(), bool, error) {
	lockKey := fmt.Sprintf("%s:%s", turnLockPrefix, key)
	ok, err := s.client.SetNX(ctx, lockKey, "1", s.lockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire turn lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		_ = s.client.Del(context.Background(), lockKey).Err()
	}
	return release, true, nil
}

// Idempotency markers: MarkOnce reports true exactly once per turn key, so a
// retried turn cannot double-apply its affinity delta.

func (s *RedisStore) MarkOnce(ctx context.Context, turnKey string) (bool, error) {
	key := fmt.Sprintf("%s:%s", turnAppliedPrefix, turnKey)
	ok, err := s.client.SetNX(ctx, key, "1", turnAppliedTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark turn: %w", err)
	}
	return ok, nil
}
