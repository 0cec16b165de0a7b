// Package sessionstore provides shared core.SessionStore implementations for
// deployments running more than one instance.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/JonMunkholm/filedrop/internal/core"
)

const (
	// DefaultKeyPrefix namespaces all keys written by a RedisStore.
	DefaultKeyPrefix = "filedrop:"

	// DefaultLockTTL bounds how long a crashed instance can hold a session.
	// It must exceed the time one chunk takes to write.
	DefaultLockTTL = 30 * time.Second
)

var lockRetryInterval = 10 * time.Millisecond

// unlockScript deletes the lock only while it still carries the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps sessions as JSON values that expire after the idle
// timeout. Every Save refreshes the expiry. Tombstones are separate keys
// with their own TTL, so no pruning is needed. Writers to one session are
// serialized across instances with a SET NX lock key.
type RedisStore struct {
	client      redis.UniversalClient
	prefix      string
	idleTimeout time.Duration
	lockTTL     time.Duration
}

// NewRedisStore wraps client. idleTimeout <= 0 keeps sessions until deleted.
func NewRedisStore(client redis.UniversalClient, idleTimeout time.Duration) *RedisStore {
	return &RedisStore{
		client:      client,
		prefix:      DefaultKeyPrefix,
		idleTimeout: idleTimeout,
		lockTTL:     DefaultLockTTL,
	}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) sessionKey(id string) string   { return s.prefix + "session:" + id }
func (s *RedisStore) tombstoneKey(id string) string { return s.prefix + "done:" + id }
func (s *RedisStore) lockKey(id string) string      { return s.prefix + "lock:" + id }

// LockSession takes the session's lock key, polling until it is free or ctx
// is done. The lock expires after the lock TTL if the holder never unlocks.
func (s *RedisStore) LockSession(ctx context.Context, id string) (func(), error) {
	key := s.lockKey(id)
	token := uuid.NewString()

	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock session: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	return func() {
		// ctx may already be canceled here.
		if err := unlockScript.Run(context.Background(), s.client, []string{key}, token).Err(); err != nil {
			slog.Warn("failed to release session lock", "session_id", id, "error", err)
		}
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*core.UploadSession, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	return decodeSession(raw)
}

func (s *RedisStore) Save(ctx context.Context, sess *core.UploadSession) error {
	raw, err := encodeSession(sess)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.sessionKey(sess.ID), raw, s.idleTimeout).Err(); err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkCompleted(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.tombstoneKey(id), 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis mark completed: %w", err)
	}
	return nil
}

func (s *RedisStore) IsCompleted(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.tombstoneKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check tombstone: %w", err)
	}
	return n > 0, nil
}

func encodeSession(sess *core.UploadSession) ([]byte, error) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	return raw, nil
}

func decodeSession(raw []byte) (*core.UploadSession, error) {
	var sess core.UploadSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.Parts == nil {
		sess.Parts = make(map[int64]int64)
	}
	return &sess, nil
}
