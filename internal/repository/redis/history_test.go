package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/account-security/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestHistoryAppendPrunesToNewest(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewHistoryRepository(rdb, "test")
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		entry := &model.PasswordHistoryEntry{AccountID: 42, PasswordHash: fmt.Sprintf("$2a$04$digest%d", i)}
		require.NoError(t, repo.Append(ctx, entry, 5))
		assert.Equal(t, int64(i), entry.Sequence)
	}

	count, err := rdb.ZCard(ctx, "test:42").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	entries, err := repo.Recent(ctx, 42, 5)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "$2a$04$digest6", entries[0].PasswordHash)
	assert.Equal(t, "$2a$04$digest2", entries[4].PasswordHash)
	assert.Equal(t, int64(6), entries[0].Sequence)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestHistoryDuplicateDigestsAreSeparateEntries(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewHistoryRepository(rdb, "")
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, &model.PasswordHistoryEntry{AccountID: 1, PasswordHash: "same"}, 5))
	require.NoError(t, repo.Append(ctx, &model.PasswordHistoryEntry{AccountID: 1, PasswordHash: "same"}, 5))

	entries, err := repo.Recent(ctx, 1, 5)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestHistoryConcurrentAppends(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewHistoryRepository(rdb, "c")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = repo.Append(ctx, &model.PasswordHistoryEntry{AccountID: 9, PasswordHash: fmt.Sprintf("d%d", i)}, 5)
		}(i)
	}
	wg.Wait()

	entries, err := repo.Recent(ctx, 9, 10)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, int64(20), entries[0].Sequence)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Sequence-1, entries[i].Sequence)
	}
}

func TestHistoryStoreUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewHistoryRepository(rdb, "x")
	mr.Close()

	err := repo.Append(context.Background(), &model.PasswordHistoryEntry{AccountID: 1, PasswordHash: "d"}, 5)
	assert.Error(t, err)

	_, err = repo.Recent(context.Background(), 1, 5)
	assert.Error(t, err)
}
