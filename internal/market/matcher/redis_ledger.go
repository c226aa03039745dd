package matcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisPairPrefix = "agora:matcher:pair:"

// RedisLedger is a PairLedger backed by Redis SETNX, for deployments where
// several nodes share one matcher state.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger creates a Redis-backed pair ledger.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

// Record marks the pair as matched. SETNX makes the check-and-set atomic
// across nodes.
func (l *RedisLedger) Record(ctx context.Context, demandID, offerID uuid.UUID) (bool, error) {
	key := redisPairPrefix + pairKey(demandID, offerID)
	return l.client.SetNX(ctx, key, 1, l.ttl).Result()
}

// Ping verifies the Redis connection.
func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
