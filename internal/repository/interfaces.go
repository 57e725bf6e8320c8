package repository

import (
	"context"
	"errors"

	"github.com/jwalitptl/account-security/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned on unique-key violations.
var ErrConflict = errors.New("record already exists")

// All repository interfaces in one file
type (
	// AccountRepository is the account store this service reads usernames and
	// emails from and writes password digests and roles to.
	AccountRepository interface {
		Create(ctx context.Context, account *model.Account) error
		Get(ctx context.Context, id int64) (*model.Account, error)
		GetByUsername(ctx context.Context, username string) (*model.Account, error)
		UpdatePasswordHash(ctx context.Context, id int64, hash string) error
		UpdateRole(ctx context.Context, id int64, role string) error
	}

	// HistoryRepository stores password digests per account.
	//
	// Append assigns the next per-account Sequence and CreatedAt, inserts the
	// entry and then deletes everything but the newest keep entries. Insert
	// and prune are observed atomically by concurrent readers of the account.
	// Recent returns at most limit entries, newest first.
	HistoryRepository interface {
		Append(ctx context.Context, entry *model.PasswordHistoryEntry, keep int) error
		Recent(ctx context.Context, accountID int64, limit int) ([]*model.PasswordHistoryEntry, error)
	}

	// AuditRepository persists audit events. There is no update or delete.
	AuditRepository interface {
		Create(ctx context.Context, event *model.AuditEvent) error
		List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEvent, error)
	}
)
