package postgres

import (
	"context"
	"fmt"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository"
)

type accountRepository struct {
	BaseRepository
}

func NewAccountRepository(base BaseRepository) repository.AccountRepository {
	return &accountRepository{base}
}

func (r *accountRepository) Create(ctx context.Context, account *model.Account) error {
	query := `
		INSERT INTO accounts (username, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	row := r.db.QueryRowxContext(ctx, query, account.Username, account.Email, account.PasswordHash, account.Role)
	if err := row.Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create account: %w", translateError(err))
	}
	return nil
}

func (r *accountRepository) Get(ctx context.Context, id int64) (*model.Account, error) {
	var account model.Account
	if err := r.db.GetContext(ctx, &account, `SELECT * FROM accounts WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get account: %w", translateError(err))
	}
	return &account, nil
}

func (r *accountRepository) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	var account model.Account
	query := `SELECT * FROM accounts WHERE lower(username) = lower($1)`
	if err := r.db.GetContext(ctx, &account, query, username); err != nil {
		return nil, fmt.Errorf("failed to get account by username: %w", translateError(err))
	}
	return &account, nil
}

func (r *accountRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return r.update(ctx, `UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
}

func (r *accountRepository) UpdateRole(ctx context.Context, id int64, role string) error {
	return r.update(ctx, `UPDATE accounts SET role = $2, updated_at = now() WHERE id = $1`, id, role)
}

func (r *accountRepository) update(ctx context.Context, query string, id int64, value string) error {
	result, err := r.db.ExecContext(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
