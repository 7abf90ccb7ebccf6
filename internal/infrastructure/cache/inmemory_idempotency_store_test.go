package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore_MarkProcessed_NewEvent(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	isNew, err := store.MarkProcessed(context.Background(), "evt-created-1", time.Hour)

	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestInMemoryIdempotencyStore_MarkProcessed_Duplicate(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	isNew, err := store.MarkProcessed(ctx, "evt-created-2", time.Hour)
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = store.MarkProcessed(ctx, "evt-created-2", time.Hour)
	require.NoError(t, err)
	assert.False(t, isNew, "second mark of the same event must report a duplicate")
}

func TestInMemoryIdempotencyStore_MarkProcessed_ExpiredKeyIsNewAgain(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	isNew, err := store.MarkProcessed(ctx, "evt-created-3", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, isNew)

	time.Sleep(30 * time.Millisecond)

	isNew, err = store.MarkProcessed(ctx, "evt-created-3", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, isNew, "expired key must be claimable again")
}

func TestInMemoryIdempotencyStore_IsProcessed(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	processed, err := store.IsProcessed(ctx, "never-seen")
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = store.MarkProcessed(ctx, "evt-review-1", time.Hour)
	require.NoError(t, err)

	processed, err = store.IsProcessed(ctx, "evt-review-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestInMemoryIdempotencyStore_IsProcessed_ExpiredKey(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.MarkProcessed(ctx, "evt-review-2", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	processed, err := store.IsProcessed(ctx, "evt-review-2")
	require.NoError(t, err)
	assert.False(t, processed, "expired key must read as unprocessed")
}

func TestInMemoryIdempotencyStore_Size(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	assert.Equal(t, 0, store.Size())

	_, err := store.MarkProcessed(ctx, "evt-a", time.Hour)
	require.NoError(t, err)
	_, err = store.MarkProcessed(ctx, "evt-b", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Size())

	// Re-marking an existing key must not grow the store.
	_, err = store.MarkProcessed(ctx, "evt-a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Size())
}

func TestInMemoryIdempotencyStore_CleanupDropsExpiredKeys(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.MarkProcessed(ctx, "short-a", 10*time.Millisecond)
	require.NoError(t, err)
	_, err = store.MarkProcessed(ctx, "short-b", 10*time.Millisecond)
	require.NoError(t, err)
	_, err = store.MarkProcessed(ctx, "long", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 3, store.Size())

	time.Sleep(30 * time.Millisecond)
	store.cleanup()

	assert.Equal(t, 1, store.Size())

	processed, err := store.IsProcessed(ctx, "long")
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = store.IsProcessed(ctx, "short-a")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestInMemoryIdempotencyStore_ConcurrentClaimsYieldOneWinner(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	const goroutines = 64
	results := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			isNew, err := store.MarkProcessed(ctx, "contended-event", time.Hour)
			results <- err == nil && isNew
		}()
	}

	winners := 0
	for i := 0; i < goroutines; i++ {
		if <-results {
			winners++
		}
	}

	assert.Equal(t, 1, winners, "only one concurrent claim may see the key as new")
}

func TestInMemoryIdempotencyStore_ConcurrentDistinctKeys(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	const goroutines = 32
	done := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		go func(n int) {
			_, err := store.MarkProcessed(ctx, fmt.Sprintf("evt-%d", n), time.Hour)
			done <- err
		}(i)
	}
	for i := 0; i < goroutines; i++ {
		require.NoError(t, <-done)
	}

	assert.Equal(t, goroutines, store.Size())
}

func TestInMemoryIdempotencyStore_CloseIsIdempotent(t *testing.T) {
	store := NewInMemoryIdempotencyStore()

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
