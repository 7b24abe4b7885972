package emotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisKeyPrefix = "emotion:"

// housekeeping keeps stale keys around a little longer than the ttl so Redis
// eventually drops abandoned users; freshness is still decided by storedAt.
const housekeeping = time.Hour

type redisEntry struct {
	Snapshot Snapshot `json:"snapshot"`
	StoredAt int64    `json:"stored_at"`
}

// RedisStore shares emotion snapshots between server instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

func (s *RedisStore) Update(ctx context.Context, userID string, snap Snapshot) error {
	b, err := json.Marshal(redisEntry{Snapshot: snap, StoredAt: s.now().UnixNano()})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+userID, b, s.ttl+housekeeping).Err(); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) GetRecent(ctx context.Context, userID string) (*Snapshot, bool) {
	val, err := s.client.Get(ctx, redisKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Warnf("emotion memory read failed for %s: %v", userID, err)
		return nil, false
	}
	var e redisEntry
	if err := json.Unmarshal(val, &e); err != nil {
		log.Warnf("emotion memory entry for %s is corrupt: %v", userID, err)
		return nil, false
	}
	if !fresh(time.Unix(0, e.StoredAt), s.now(), s.ttl) {
		return nil, false
	}
	return &e.Snapshot, true
}

func (s *RedisStore) Reset(ctx context.Context, userID string) error {
	return s.client.Del(ctx, redisKeyPrefix+userID).Err()
}
