// Package redis implements repositories on top of go-redis.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository"
)

// appendScript bumps the per-account sequence, adds the entry scored by that
// sequence and trims the set to the newest ARGV[2] members, all in one
// atomic script execution.
var appendScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[2])
redis.call('ZADD', KEYS[1], seq, seq .. ':' .. ARGV[3] .. ':' .. ARGV[1])
local keep = tonumber(ARGV[2])
if keep >= 0 then
	redis.call('ZREMRANGEBYRANK', KEYS[1], 0, -(keep + 1))
end
return seq
`)

type historyRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewHistoryRepository stores each account's history in a sorted set at
// <prefix>:<id> with its sequence counter at <prefix>:<id>:seq.
func NewHistoryRepository(client redis.UniversalClient, prefix string) repository.HistoryRepository {
	if prefix == "" {
		prefix = "pwh"
	}
	return &historyRepository{client: client, prefix: prefix}
}

func (r *historyRepository) setKey(accountID int64) string {
	return r.prefix + ":" + strconv.FormatInt(accountID, 10)
}

func (r *historyRepository) Append(ctx context.Context, entry *model.PasswordHistoryEntry, keep int) error {
	now := time.Now().UTC()
	key := r.setKey(entry.AccountID)

	seq, err := appendScript.Run(ctx, r.client,
		[]string{key, key + ":seq"},
		entry.PasswordHash, keep, now.UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to append password history: %w", err)
	}

	entry.Sequence = seq
	entry.CreatedAt = now
	return nil
}

func (r *historyRepository) Recent(ctx context.Context, accountID int64, limit int) ([]*model.PasswordHistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	members, err := r.client.ZRevRangeWithScores(ctx, r.setKey(accountID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read password history: %w", err)
	}

	entries := make([]*model.PasswordHistoryEntry, 0, len(members))
	for _, m := range members {
		raw, ok := m.Member.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected history member type %T", m.Member)
		}
		entry, err := decodeMember(accountID, raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func decodeMember(accountID int64, raw string) (*model.PasswordHistoryEntry, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed history member for account %d", accountID)
	}
	seq, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed history sequence: %w", err)
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed history timestamp: %w", err)
	}
	return &model.PasswordHistoryEntry{
		AccountID:    accountID,
		PasswordHash: parts[2],
		Sequence:     seq,
		CreatedAt:    time.UnixMilli(ms).UTC(),
	}, nil
}
