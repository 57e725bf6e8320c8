package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository"
)

type historyRepository struct {
	BaseRepository
}

func NewHistoryRepository(base BaseRepository) repository.HistoryRepository {
	return &historyRepository{base}
}

// Append serializes writers of one account with a transaction-scoped
// advisory lock, so the next sequence and the prune both see every earlier
// insert for that account.
func (r *historyRepository) Append(ctx context.Context, entry *model.PasswordHistoryEntry, keep int) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, entry.AccountID); err != nil {
			return fmt.Errorf("failed to lock password history: %w", err)
		}

		insert := `
			INSERT INTO password_history (account_id, seq, password_hash)
			SELECT $1, COALESCE(MAX(seq), 0) + 1, $2
			FROM password_history WHERE account_id = $1
			RETURNING seq, created_at
		`
		if err := tx.QueryRowxContext(ctx, insert, entry.AccountID, entry.PasswordHash).
			Scan(&entry.Sequence, &entry.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert password history: %w", err)
		}

		if keep < 0 {
			return nil
		}

		prune := `
			DELETE FROM password_history
			WHERE account_id = $1 AND seq <= $2
		`
		if _, err := tx.ExecContext(ctx, prune, entry.AccountID, entry.Sequence-int64(keep)); err != nil {
			return fmt.Errorf("failed to prune password history: %w", err)
		}
		return nil
	})
}

func (r *historyRepository) Recent(ctx context.Context, accountID int64, limit int) ([]*model.PasswordHistoryEntry, error) {
	query := `
		SELECT account_id, seq, password_hash, created_at
		FROM password_history
		WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`

	var entries []*model.PasswordHistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, accountID, limit); err != nil {
		return nil, fmt.Errorf("failed to list password history: %w", err)
	}
	return entries, nil
}
