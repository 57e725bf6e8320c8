package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/account-security/internal/model"
)

func TestHistoryKeepsNewestEntries(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository()

	for i := 1; i <= 6; i++ {
		require.NoError(t, repo.Append(ctx, &model.PasswordHistoryEntry{AccountID: 42, PasswordHash: fmt.Sprintf("d%d", i)}, 5))
	}

	entries, err := repo.Recent(ctx, 42, 10)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	var hashes []string
	for _, e := range entries {
		hashes = append(hashes, e.PasswordHash)
	}
	assert.Equal(t, []string{"d6", "d5", "d4", "d3", "d2"}, hashes)
	assert.Equal(t, int64(6), entries[0].Sequence)
}

func TestHistoryAccountsAreIndependent(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository()

	require.NoError(t, repo.Append(ctx, &model.PasswordHistoryEntry{AccountID: 1, PasswordHash: "a"}, 5))
	require.NoError(t, repo.Append(ctx, &model.PasswordHistoryEntry{AccountID: 2, PasswordHash: "b"}, 5))

	one, err := repo.Recent(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "a", one[0].PasswordHash)
	assert.Equal(t, int64(1), one[0].Sequence)

	none, err := repo.Recent(ctx, 3, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestHistoryConcurrentAppendsStayBounded(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = repo.Append(ctx, &model.PasswordHistoryEntry{AccountID: 7, PasswordHash: fmt.Sprintf("d%d", i)}, 5)
		}(i)
	}
	wg.Wait()

	entries, err := repo.Recent(ctx, 7, 100)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i-1].Sequence, entries[i].Sequence)
	}
	assert.Equal(t, int64(50), entries[0].Sequence)
}

func TestHistoryHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := NewHistoryRepository()
	assert.Error(t, repo.Append(ctx, &model.PasswordHistoryEntry{AccountID: 1, PasswordHash: "x"}, 5))
	_, err := repo.Recent(ctx, 1, 5)
	assert.Error(t, err)
}
