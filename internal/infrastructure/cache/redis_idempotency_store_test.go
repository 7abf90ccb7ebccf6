package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T, keyPrefix string) (*RedisIdempotencyStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisIdempotencyStoreWithClient(client, keyPrefix)
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestRedisIdempotencyStore_MarkProcessed_NewEvent(t *testing.T) {
	store, _ := setupRedisStore(t, "")

	isNew, err := store.MarkProcessed(context.Background(), "evt-created-1", time.Hour)

	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestRedisIdempotencyStore_MarkProcessed_Duplicate(t *testing.T) {
	store, _ := setupRedisStore(t, "")
	ctx := context.Background()

	isNew, err := store.MarkProcessed(ctx, "evt-created-2", time.Hour)
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = store.MarkProcessed(ctx, "evt-created-2", time.Hour)
	require.NoError(t, err)
	assert.False(t, isNew, "SETNX must reject the second claim")
}

func TestRedisIdempotencyStore_MarkProcessed_SetsPrefixedKeyWithTTL(t *testing.T) {
	store, mr := setupRedisStore(t, "")

	_, err := store.MarkProcessed(context.Background(), "evt-created-3", time.Hour)
	require.NoError(t, err)

	key := "event:idempotency:evt-created-3"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))
}

func TestRedisIdempotencyStore_CustomKeyPrefix(t *testing.T) {
	store, mr := setupRedisStore(t, "devtrack:dedupe:")

	_, err := store.MarkProcessed(context.Background(), "evt-review-1", time.Hour)
	require.NoError(t, err)

	assert.True(t, mr.Exists("devtrack:dedupe:evt-review-1"))
	assert.False(t, mr.Exists("event:idempotency:evt-review-1"))
}

func TestRedisIdempotencyStore_IsProcessed(t *testing.T) {
	store, _ := setupRedisStore(t, "")
	ctx := context.Background()

	processed, err := store.IsProcessed(ctx, "never-seen")
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = store.MarkProcessed(ctx, "evt-review-2", time.Hour)
	require.NoError(t, err)

	processed, err = store.IsProcessed(ctx, "evt-review-2")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestRedisIdempotencyStore_TTLExpiryAllowsReprocessing(t *testing.T) {
	store, mr := setupRedisStore(t, "")
	ctx := context.Background()

	isNew, err := store.MarkProcessed(ctx, "evt-review-3", time.Minute)
	require.NoError(t, err)
	require.True(t, isNew)

	mr.FastForward(2 * time.Minute)

	processed, err := store.IsProcessed(ctx, "evt-review-3")
	require.NoError(t, err)
	assert.False(t, processed, "expired key must read as unprocessed")

	isNew, err = store.MarkProcessed(ctx, "evt-review-3", time.Minute)
	require.NoError(t, err)
	assert.True(t, isNew, "expired key must be claimable again")
}

func TestRedisIdempotencyStore_MarkProcessed_ServerError(t *testing.T) {
	store, mr := setupRedisStore(t, "")
	mr.SetError("LOADING Redis is loading the dataset in memory")

	_, err := store.MarkProcessed(context.Background(), "evt-created-4", time.Hour)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to mark event as processed")
}

func TestRedisIdempotencyStore_IsProcessed_ServerError(t *testing.T) {
	store, mr := setupRedisStore(t, "")
	mr.SetError("LOADING Redis is loading the dataset in memory")

	_, err := store.IsProcessed(context.Background(), "evt-created-5")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to check if event is processed")
}

func TestRedisIdempotencyStore_GetClient(t *testing.T) {
	store, mr := setupRedisStore(t, "")

	client := store.GetClient()
	require.NotNil(t, client)

	require.NoError(t, client.Set(context.Background(), "probe", "1", 0).Err())
	assert.True(t, mr.Exists("probe"))
}
