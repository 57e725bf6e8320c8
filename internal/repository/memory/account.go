package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository"
)

type accountRepository struct {
	mu       sync.RWMutex
	accounts map[int64]model.Account
	nextID   int64
}

func NewAccountRepository() repository.AccountRepository {
	return &accountRepository{accounts: make(map[int64]model.Account)}
}

func (r *accountRepository) Create(ctx context.Context, account *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if strings.EqualFold(a.Username, account.Username) {
			return repository.ErrConflict
		}
	}

	if account.ID == 0 {
		r.nextID++
		account.ID = r.nextID
	} else if account.ID > r.nextID {
		r.nextID = account.ID
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	r.accounts[account.ID] = *account
	return nil
}

func (r *accountRepository) Get(ctx context.Context, id int64) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r *accountRepository) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.accounts {
		if strings.EqualFold(a.Username, username) {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *accountRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return r.update(id, func(a *model.Account) { a.PasswordHash = hash })
}

func (r *accountRepository) UpdateRole(ctx context.Context, id int64, role string) error {
	return r.update(id, func(a *model.Account) { a.Role = role })
}

func (r *accountRepository) update(id int64, fn func(*model.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&a)
	a.UpdatedAt = time.Now().UTC()
	r.accounts[id] = a
	return nil
}
