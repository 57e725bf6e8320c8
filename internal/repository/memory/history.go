// Package memory holds in-process repositories for tests and single-node
// development setups. Nothing here survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository"
)

type historyRepository struct {
	mu      sync.RWMutex
	entries map[int64][]model.PasswordHistoryEntry // oldest first
	seq     map[int64]int64
	now     func() time.Time
}

func NewHistoryRepository() repository.HistoryRepository {
	return &historyRepository{
		entries: make(map[int64][]model.PasswordHistoryEntry),
		seq:     make(map[int64]int64),
		now:     time.Now,
	}
}

func (r *historyRepository) Append(ctx context.Context, entry *model.PasswordHistoryEntry, keep int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq[entry.AccountID]++
	entry.Sequence = r.seq[entry.AccountID]
	entry.CreatedAt = r.now().UTC()

	list := append(r.entries[entry.AccountID], *entry)
	if keep >= 0 && len(list) > keep {
		list = append([]model.PasswordHistoryEntry(nil), list[len(list)-keep:]...)
	}
	r.entries[entry.AccountID] = list
	return nil
}

func (r *historyRepository) Recent(ctx context.Context, accountID int64, limit int) ([]*model.PasswordHistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.entries[accountID]
	out := make([]*model.PasswordHistoryEntry, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		e := list[i]
		out = append(out, &e)
	}
	return out, nil
}
