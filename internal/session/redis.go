package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists sessions in Redis so conversations survive bot
// restarts. Expiry is handled by key TTL, refreshed on every Put.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) key(userID string) string { return "upload:sess:" + userID }

func (s *RedisStore) Get(ctx context.Context, userID string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.key(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisStore) Put(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(sess.UserID), raw, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, s.key(userID)).Err()
}

// PurgeIdle is a no-op: Redis expires sessions via TTL.
func (s *RedisStore) PurgeIdle(context.Context, time.Duration) (int, error) {
	return 0, nil
}
