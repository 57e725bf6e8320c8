package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository/memory"
	"github.com/jwalitptl/account-security/pkg/security"
)

var hasher = security.NewBcryptHasher(bcrypt.MinCost)

type failingRepo struct {
	calls atomic.Int32
	err   error
}

func (r *failingRepo) Append(ctx context.Context, _ *model.PasswordHistoryEntry, _ int) error {
	r.calls.Add(1)
	return r.err
}

func (r *failingRepo) Recent(ctx context.Context, _ int64, _ int) ([]*model.PasswordHistoryEntry, error) {
	r.calls.Add(1)
	return nil, r.err
}

type slowRepo struct{}

func (slowRepo) Append(ctx context.Context, _ *model.PasswordHistoryEntry, _ int) error {
	<-ctx.Done()
	return ctx.Err()
}

func (slowRepo) Recent(ctx context.Context, _ int64, _ int) ([]*model.PasswordHistoryEntry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func digest(t *testing.T, password string) string {
	t.Helper()
	d, err := hasher.Hash(password)
	require.NoError(t, err)
	return d
}

func TestReuseWindowSlidesWithDepth(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewHistoryRepository(), hasher, Config{Depth: 5}, nil, nil)

	for i := 1; i <= 6; i++ {
		require.NoError(t, svc.RecordPassword(ctx, 42, digest(t, fmt.Sprintf("Passw0rd!%d", i))))
	}

	entries, err := svc.Entries(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	reused, err := svc.IsReused(ctx, 42, "Passw0rd!1")
	require.NoError(t, err)
	assert.False(t, reused, "oldest digest should have been pruned")

	for i := 2; i <= 6; i++ {
		reused, err := svc.IsReused(ctx, 42, fmt.Sprintf("Passw0rd!%d", i))
		require.NoError(t, err)
		assert.True(t, reused, "Passw0rd!%d should be in history", i)
	}

	reused, err = svc.IsReused(ctx, 7, "Passw0rd!6")
	require.NoError(t, err)
	assert.False(t, reused, "history is per account")
}

func TestZeroDepthDisablesHistory(t *testing.T) {
	ctx := context.Background()
	repo := &failingRepo{err: errors.New("unreachable")}
	svc := NewService(repo, hasher, Config{Depth: 0}, nil, nil)

	require.NoError(t, svc.RecordPassword(ctx, 1, "digest"))
	reused, err := svc.IsReused(ctx, 1, "anything")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Zero(t, repo.calls.Load())
}

func TestIsReusedFailsClosed(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&failingRepo{err: errors.New("connection refused")}, hasher, Config{Depth: 5}, nil, nil)

	reused, err := svc.IsReused(ctx, 42, "Whatever1!")
	assert.True(t, reused)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	assert.ErrorIs(t, svc.RecordPassword(ctx, 42, "digest"), ErrStorageUnavailable)
}

func TestTimeoutIsStorageUnavailable(t *testing.T) {
	svc := NewService(slowRepo{}, hasher, Config{Depth: 5, Timeout: 20 * time.Millisecond}, nil, nil)

	start := time.Now()
	reused, err := svc.IsReused(context.Background(), 1, "Whatever1!")
	assert.True(t, reused)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBreakerStopsCallingDeadStore(t *testing.T) {
	ctx := context.Background()
	repo := &failingRepo{err: errors.New("connection refused")}
	svc := NewService(repo, hasher, Config{Depth: 5, BreakerMaxFailures: 2, BreakerTimeout: time.Minute}, nil, nil)

	for i := 0; i < 5; i++ {
		_, err := svc.IsReused(ctx, 1, "x")
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	}
	assert.Equal(t, int32(2), repo.calls.Load())
}

func TestGuardSerializesSameAccount(t *testing.T) {
	svc := NewService(memory.NewHistoryRepository(), hasher, Config{Depth: 5}, nil, nil)

	var (
		active  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Guard(context.Background(), 42, func(ctx context.Context) error {
				if active.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
	assert.Zero(t, svc.locks.size())
}

func TestGuardDoesNotBlockOtherAccounts(t *testing.T) {
	svc := NewService(memory.NewHistoryRepository(), hasher, Config{Depth: 5}, nil, nil)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = svc.Guard(context.Background(), 1, func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ran := false
	require.NoError(t, svc.Guard(ctx, 2, func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestGuardHonorsContextWhileWaiting(t *testing.T) {
	svc := NewService(memory.NewHistoryRepository(), hasher, Config{Depth: 5}, nil, nil)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = svc.Guard(context.Background(), 1, func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := svc.Guard(ctx, 1, func(ctx context.Context) error {
		t.Fatal("must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentGuardedChangesStayBounded(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewHistoryRepository(), hasher, Config{Depth: 3}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pw := fmt.Sprintf("Concurrent!%d", i)
			_ = svc.Guard(ctx, 9, func(ctx context.Context) error {
				reused, err := svc.IsReused(ctx, 9, pw)
				if err != nil || reused {
					return err
				}
				d, err := hasher.Hash(pw)
				if err != nil {
					return err
				}
				return svc.RecordPassword(ctx, 9, d)
			})
		}(i)
	}
	wg.Wait()

	entries, err := svc.Entries(ctx, 9)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(10), entries[0].Sequence)
}
