package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository"
	"github.com/jwalitptl/account-security/pkg/circuitbreaker"
	"github.com/jwalitptl/account-security/pkg/logger"
	"github.com/jwalitptl/account-security/pkg/metrics"
	"github.com/jwalitptl/account-security/pkg/security"
)

// ErrStorageUnavailable wraps every repository failure, timeout and
// open-breaker rejection.
var ErrStorageUnavailable = errors.New("password history storage unavailable")

const defaultTimeout = 2 * time.Second

type Config struct {
	// Depth is the number of digests kept per account. Zero disables
	// recording and reuse checks.
	Depth   int
	Timeout time.Duration

	BreakerMaxFailures int
	BreakerTimeout     time.Duration
}

type HistoryServicer interface {
	RecordPassword(ctx context.Context, accountID int64, digest string) error
	IsReused(ctx context.Context, accountID int64, candidate string) (bool, error)
	Guard(ctx context.Context, accountID int64, fn func(ctx context.Context) error) error
}

type Service struct {
	repo    repository.HistoryRepository
	hasher  security.PasswordHasher
	depth   int
	timeout time.Duration
	breaker *circuitbreaker.CircuitBreaker
	locks   *keyedMutex
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewService(repo repository.HistoryRepository, hasher security.PasswordHasher, cfg Config, m *metrics.Metrics, log *logger.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Depth < 0 {
		cfg.Depth = 0
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:    repo,
		hasher:  hasher,
		depth:   cfg.Depth,
		timeout: cfg.Timeout,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "password-history",
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
			// a caller giving up is not a sign the store is down
			IsFailure: func(err error) bool {
				return err != nil && !errors.Is(err, context.Canceled)
			},
		}),
		locks:   newKeyedMutex(),
		metrics: m,
		log:     log,
	}
}

func (s *Service) Depth() int {
	return s.depth
}

// RecordPassword appends digest as the account's newest entry and prunes the
// account to the newest Depth entries in the same atomic step.
func (s *Service) RecordPassword(ctx context.Context, accountID int64, digest string) error {
	if s.depth == 0 {
		return nil
	}
	entry := &model.PasswordHistoryEntry{AccountID: accountID, PasswordHash: digest}
	return s.call(ctx, "record", accountID, func(ctx context.Context) error {
		return s.repo.Append(ctx, entry, s.depth)
	})
}

// IsReused reports whether candidate matches any of the account's newest
// Depth digests. When storage cannot be read it returns true together with
// ErrStorageUnavailable so that a caller ignoring the error still rejects.
func (s *Service) IsReused(ctx context.Context, accountID int64, candidate string) (bool, error) {
	if s.depth == 0 {
		return false, nil
	}

	var entries []*model.PasswordHistoryEntry
	err := s.call(ctx, "lookup", accountID, func(ctx context.Context) error {
		var err error
		entries, err = s.repo.Recent(ctx, accountID, s.depth)
		return err
	})
	if err != nil {
		return true, err
	}

	for _, e := range entries {
		if err := s.hasher.Compare(e.PasswordHash, candidate); err == nil {
			return true, nil
		} else if !errors.Is(err, security.ErrPasswordMismatch) {
			s.log.Warn("unreadable password history digest",
				"account_id", accountID, "seq", e.Sequence, "error", err.Error())
		}
	}
	return false, nil
}

// Entries returns the retained digests, newest first.
func (s *Service) Entries(ctx context.Context, accountID int64) ([]*model.PasswordHistoryEntry, error) {
	if s.depth == 0 {
		return nil, nil
	}
	var entries []*model.PasswordHistoryEntry
	err := s.call(ctx, "list", accountID, func(ctx context.Context) error {
		var err error
		entries, err = s.repo.Recent(ctx, accountID, s.depth)
		return err
	})
	return entries, err
}

// Guard runs fn while holding the account's lock. Calls for the same account
// are serialized; calls for different accounts never wait on each other.
func (s *Service) Guard(ctx context.Context, accountID int64, fn func(ctx context.Context) error) error {
	unlock, err := s.locks.lock(ctx, accountID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

func (s *Service) call(ctx context.Context, op string, accountID int64, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := s.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return fn(ctx)
	})
	s.metrics.HistoryLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err == nil {
		s.metrics.HistoryOperations.WithLabelValues(op, "success").Inc()
		return nil
	}

	s.metrics.HistoryOperations.WithLabelValues(op, "failure").Inc()
	s.log.Error(err, "password history "+op+" failed",
		"account_id", accountID, "breaker", string(s.breaker.State()))
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
