package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	conversationKeyPrefix = "conversation:"
	maxUpdateAttempts     = 10
)

// RedisStore keeps session documents under conversation:<user_id>. Updates
// use WATCH/MULTI/EXEC so concurrent writers never lose a turn.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(userID string) string {
	return conversationKeyPrefix + userID
}

func (s *RedisStore) Load(ctx context.Context, userID string) (*Document, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	val, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return Decode(bytes.NewReader(val))
}

func (s *RedisStore) Update(ctx context.Context, userID string, fn func(*Document) error) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	key := s.key(userID)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			doc, err := s.current(ctx, tx, userID)
			if err != nil {
				return err
			}
			if err := fn(doc); err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := Encode(&buf, doc); err != nil {
				return fmt.Errorf("encode document: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, buf.Bytes(), 0)
				return nil
			})
			return err
		}, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		log.Debugf("session document %s changed concurrently, retrying (%d)", userID, attempt+1)
	}
	return fmt.Errorf("%w: %s", ErrConflict, userID)
}

func (s *RedisStore) current(ctx context.Context, tx *redis.Tx, userID string) (*Document, error) {
	val, err := tx.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewDocument(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	doc, err := Decode(bytes.NewReader(val))
	if err != nil {
		log.Warnf("session document for %s unreadable, starting fresh: %v", userID, err)
		return NewDocument(userID), nil
	}
	if doc.UserID == "" {
		doc.UserID = userID
	}
	return doc, nil
}

func (s *RedisStore) ListUsers(ctx context.Context) ([]string, error) {
	var (
		users  []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, conversationKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan conversations: %w", err)
		}
		for _, k := range keys {
			users = append(users, strings.TrimPrefix(k, conversationKeyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(users)
	return users, nil
}
