package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisSessionPrefix = "relay:session:"

// RedisSessionStore keeps the Active-Session Set in redis so session
// revocation survives broker restarts and is shared by replicas behind the
// same redis. Entries carry a TTL, so expiry sweeping is handled server-side.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore creates a redis-backed store
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

// Put records a session with a TTL matching its expiry
func (r *RedisSessionStore) Put(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, redisSessionPrefix+s.TokenID, data, ttl).Err()
}

// Get returns the session for a token id, or nil if absent
func (r *RedisSessionStore) Get(ctx context.Context, tokenID string) (*Session, error) {
	data, err := r.client.Get(ctx, redisSessionPrefix+tokenID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Revoke removes a session; idempotent if absent
func (r *RedisSessionStore) Revoke(ctx context.Context, tokenID string) error {
	return r.client.Del(ctx, redisSessionPrefix+tokenID).Err()
}

// Sweep is a no-op: redis evicts expired keys itself
func (r *RedisSessionStore) Sweep(_ context.Context) (int, error) {
	return 0, nil
}
