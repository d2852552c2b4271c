package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"roadmap-api/domain"
)

// RedisDeduper records processed command idempotency keys in Redis so every
// API instance rejects a replayed command, whichever instance served the
// original submission. Entries are namespaced by the command's entity type:
// a roadmap command and a task command may carry the same client key without
// colliding.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func dedupeKey(userID string, cmd domain.Command) string {
	return "dedupe:" + cmd.EntityType + ":" + userID + ":" + cmd.IdempotencyKey
}

// AddCommands records each command's idempotency key in one pipeline round
// trip and reports which commands were seen for the first time. On error the
// result slice still marks whatever was recorded before the failure so the
// caller can roll those entries back.
func (r *RedisDeduper) AddCommands(ctx context.Context, userID string, cmds []domain.Command) ([]bool, error) {
	if len(cmds) == 0 {
		return nil, nil
	}

	adds := make([]*redis.BoolCmd, len(cmds))
	_, pipeErr := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, cmd := range cmds {
			adds[i] = pipe.SetNX(ctx, dedupeKey(userID, cmd), 1, r.ttl)
		}
		return nil
	})

	fresh := make([]bool, len(cmds))
	for i, add := range adds {
		added, err := add.Result()
		if err != nil {
			if pipeErr == nil && err != redis.Nil {
				pipeErr = err
			}
			continue
		}
		fresh[i] = added
	}
	return fresh, pipeErr
}

// RemoveCommand releases a command's recorded key after a failed submission
// so an identical retry can go through.
func (r *RedisDeduper) RemoveCommand(ctx context.Context, userID string, cmd domain.Command) error {
	return r.client.Del(ctx, dedupeKey(userID, cmd)).Err()
}
