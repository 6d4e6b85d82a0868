package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("idempotency record not found")

// Store keeps cached outcomes and in-flight reservations. Records and
// reservations both expire on their own.
type Store interface {
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	Save(ctx context.Context, record *domain.IdempotencyRecord, ttl time.Duration) error
	// Reserve claims key for one executor and returns the owner token that
	// releases it. ok is false if someone else holds the claim.
	Reserve(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release drops the claim only while token still owns it.
	Release(ctx context.Context, key, token string) error
}

// releaseScript deletes the lock only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps records as JSON strings next to a lock: key per record.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) recordKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *RedisStore) lockKey(key string) string {
	return "lock:" + s.recordKey(key)
}

func (s *RedisStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	raw, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency get: %w", err)
	}
	var rec domain.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("idempotency decode: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Save(ctx context.Context, record *domain.IdempotencyRecord, ttl time.Duration) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	if err := s.client.Set(ctx, s.recordKey(record.Key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency set: %w", err)
	}
	return nil
}

func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("idempotency reserve: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.lockKey(key)}, token).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}

// MemoryStore is a single-process Store for tests and STORE_DRIVER=memory runs.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]memRecord
	reserved map[string]reservation
	now      func() time.Time
}

type reservation struct {
	token string
	until time.Time
}

type memRecord struct {
	record    domain.IdempotencyRecord
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock lets tests move time forward past a TTL.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]memRecord),
		reserved: make(map[string]reservation),
		now:      now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.records, key)
		return nil, ErrNotFound
	}
	rec := entry.record
	rec.ResponseBody = append([]byte(nil), entry.record.ResponseBody...)
	return &rec, nil
}

func (s *MemoryStore) Save(_ context.Context, record *domain.IdempotencyRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := *record
	rec.ResponseBody = append([]byte(nil), record.ResponseBody...)
	s.records[record.Key] = memRecord{record: rec, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Reserve(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if held, ok := s.reserved[key]; ok && now.Before(held.until) {
		return "", false, nil
	}
	token := uuid.NewString()
	s.reserved[key] = reservation{token: token, until: now.Add(ttl)}
	return token, true, nil
}

func (s *MemoryStore) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.reserved[key]; ok && held.token == token {
		delete(s.reserved, key)
	}
	return nil
}
