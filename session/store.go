package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every transport-level Redis failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned by Load when a profile has no stored session.
var ErrNotFound = errors.New("session not found")

// Store persists session Info per profile.
type Store interface {
	Load(ctx context.Context, profile string) (*Info, error)
	Save(ctx context.Context, profile string, info *Info) error
	Clear(ctx context.Context, profile string) error
}

// MemoryStore keeps sessions in process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Load returns a copy of the stored Info.
func (m *MemoryStore) Load(_ context.Context, profile string) (*Info, error) {
	m.mu.RLock()
	data, ok := m.data[profile]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return Decode(data)
}

// Save stores the encoded form so callers cannot alias stored state.
func (m *MemoryStore) Save(_ context.Context, profile string, info *Info) error {
	data, err := Encode(info)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[profile] = data
	m.mu.Unlock()
	return nil
}

// Clear is idempotent.
func (m *MemoryStore) Clear(_ context.Context, profile string) error {
	m.mu.Lock()
	delete(m.data, profile)
	m.mu.Unlock()
	return nil
}

// RedisStore shares sessions between processes through Redis. Keys are
// "<prefix>:session:<profile>" and expire after ttl (0 keeps them).
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore builds a RedisStore. An empty prefix defaults to "lb".
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "lb"
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(profile string) string {
	if profile == "" {
		profile = "default"
	}
	return s.prefix + ":session:" + profile
}

// Load reads and decodes the profile's session. Records written with an
// older schema are rewritten in place, keeping their remaining TTL.
func (s *RedisStore) Load(ctx context.Context, profile string) (*Info, error) {
	key := s.key(profile)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	info, err := Decode(data)
	if err != nil {
		return nil, err
	}

	if err := s.maybeMigrateSchema(ctx, key, info); err != nil {
		return nil, err
	}
	return info, nil
}

// Save writes the profile's session with the store TTL.
func (s *RedisStore) Save(ctx context.Context, profile string, info *Info) error {
	data, err := Encode(info)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(profile), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Clear deletes the profile's session. Deleting a missing key is not an error.
func (s *RedisStore) Clear(ctx context.Context, profile string) error {
	if err := s.redis.Del(ctx, s.key(profile)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *RedisStore) maybeMigrateSchema(ctx context.Context, key string, info *Info) error {
	if info == nil || info.SchemaVersion == CurrentSchemaVersion {
		return nil
	}

	pttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch {
	case pttl == -1:
		// persistent key
		pttl = 0
	case pttl <= 0:
		return nil
	}

	info.SchemaVersion = CurrentSchemaVersion
	encoded, err := Encode(info)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, key, encoded, pttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
