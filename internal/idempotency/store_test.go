package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "ledger:"), mr
}

func TestRedisStore_SaveAndExpire(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "idem:u1:k1")
	require.ErrorIs(t, err, ErrNotFound)

	rec := &domain.IdempotencyRecord{
		Key:            "idem:u1:k1",
		RequestHash:    RequestHash([]byte(`{}`)),
		ResponseStatus: http.StatusOK,
		ContentType:    "application/json",
		ResponseBody:   []byte(`{"success":true}`),
	}
	require.NoError(t, s.Save(ctx, rec, time.Minute))
	assert.True(t, mr.Exists("ledger:idem:u1:k1"))

	got, err := s.Get(ctx, "idem:u1:k1")
	require.NoError(t, err)
	assert.Equal(t, rec.RequestHash, got.RequestHash)
	assert.Equal(t, http.StatusOK, got.ResponseStatus)
	assert.JSONEq(t, `{"success":true}`, string(got.ResponseBody))

	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "idem:u1:k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Reservation(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	token, ok, err := s.Reserve(ctx, "idem:u1:k1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)
	held, err := mr.Get("lock:ledger:idem:u1:k1")
	require.NoError(t, err)
	assert.Equal(t, token, held)

	_, ok, err = s.Reserve(ctx, "idem:u1:k1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Release(ctx, "idem:u1:k1", token))
	_, ok, err = s.Reserve(ctx, "idem:u1:k1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(time.Minute)
	_, ok, err = s.Reserve(ctx, "idem:u1:k1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "a crashed executor's reservation expires")
}

func TestRedisStore_ReleaseKeepsAnotherOwnersLock(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	stale, ok, err := s.Reserve(ctx, "idem:u1:k1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Second)

	current, ok, err := s.Reserve(ctx, "idem:u1:k1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Release(ctx, "idem:u1:k1", stale))
	assert.True(t, mr.Exists("lock:ledger:idem:u1:k1"), "late release must not drop the new owner's lock")
	_, ok, err = s.Reserve(ctx, "idem:u1:k1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Release(ctx, "idem:u1:k1", current))
	assert.False(t, mr.Exists("lock:ledger:idem:u1:k1"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "idem:u1:k1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGuard_OverRedis(t *testing.T) {
	s, _ := newRedisStore(t)
	next := &countingHandler{}
	h := newTestGuard(s).Middleware(next)

	first := send(h, "u1", "k1", `{"a":1}`)
	second := send(h, "u1", "k1", `{"a":1}`)
	mismatch := send(h, "u1", "k1", `{"a":2}`)

	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.Equal(t, http.StatusUnprocessableEntity, mismatch.Code)
}

func TestMemoryStore_ReservationExpires(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()

	stale, ok, _ := s.Reserve(ctx, "k", time.Second)
	assert.True(t, ok)
	_, ok, _ = s.Reserve(ctx, "k", time.Second)
	assert.False(t, ok)
	clock.Advance(2 * time.Second)
	current, ok, _ := s.Reserve(ctx, "k", time.Second)
	assert.True(t, ok)

	require.NoError(t, s.Release(ctx, "k", stale))
	_, ok, _ = s.Reserve(ctx, "k", time.Second)
	assert.False(t, ok, "stale token cannot release the current reservation")

	require.NoError(t, s.Release(ctx, "k", current))
	_, ok, _ = s.Reserve(ctx, "k", time.Second)
	assert.True(t, ok)
}
