package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jwalitptl/account-security/internal/email"
	"github.com/jwalitptl/account-security/internal/model"
	"github.com/jwalitptl/account-security/internal/repository"
	"github.com/jwalitptl/account-security/internal/service/audit"
	"github.com/jwalitptl/account-security/internal/service/history"
	"github.com/jwalitptl/account-security/internal/service/policy"
	apperrors "github.com/jwalitptl/account-security/pkg/errors"
	"github.com/jwalitptl/account-security/pkg/logger"
	"github.com/jwalitptl/account-security/pkg/metrics"
	"github.com/jwalitptl/account-security/pkg/security"
)

// LockoutTracker counts failed logins. It lives outside this service; only
// its contract is used here.
type LockoutTracker interface {
	IsLocked(ctx context.Context, accountID int64) (bool, error)
	// RecordFailure returns true when this failure locked the account.
	RecordFailure(ctx context.Context, accountID int64) (bool, error)
	Reset(ctx context.Context, accountID int64) error
}

type AccountServicer interface {
	ValidatePassword(candidate model.PasswordCandidate) model.ValidationResult
	SetPassword(ctx context.Context, req SetPasswordRequest) error
	ChangePassword(ctx context.Context, req ChangePasswordRequest) error
	CreateAccount(ctx context.Context, req CreateAccountRequest) (*model.Account, error)
	Login(ctx context.Context, req LoginRequest) (*model.Account, error)
	Logout(ctx context.Context, actor model.Actor) error
	SessionExpired(ctx context.Context, actor model.Actor) error
	ChangeRole(ctx context.Context, req ChangeRoleRequest) (*model.Account, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
}

type SetPasswordRequest struct {
	AccountID   int64
	Username    string
	Email       string
	NewPassword string
	Origin      string
}

type ChangePasswordRequest struct {
	AccountID       int64
	CurrentPassword string
	NewPassword     string
	Origin          string
}

type CreateAccountRequest struct {
	Username string
	Email    string
	Password string
	Role     string
	Origin   string
}

type LoginRequest struct {
	Username string
	Password string
	Origin   string
}

type ChangeRoleRequest struct {
	AccountID int64
	Role      string
	ChangedBy string
	Origin    string
}

// Dependencies wires the service. Lockout and Notifier are optional.
type Dependencies struct {
	Accounts repository.AccountRepository
	Policy   *policy.Engine
	History  history.HistoryServicer
	Hasher   security.PasswordHasher
	Audit    *audit.AuditLogger
	Lockout  LockoutTracker
	Notifier email.Service
	Metrics  *metrics.Metrics
	Logger   *logger.Logger

	LockoutPolicy model.LockoutPolicy
}

type Service struct {
	accounts      repository.AccountRepository
	policy        *policy.Engine
	history       history.HistoryServicer
	hasher        security.PasswordHasher
	auditor       *audit.AuditLogger
	lockout       LockoutTracker
	lockoutPolicy model.LockoutPolicy
	notifier      email.Service
	metrics       *metrics.Metrics
	log           *logger.Logger
}

func NewService(deps Dependencies) *Service {
	if deps.Notifier == nil {
		deps.Notifier = email.NewNopService()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	return &Service{
		accounts:      deps.Accounts,
		policy:        deps.Policy,
		history:       deps.History,
		hasher:        deps.Hasher,
		auditor:       deps.Audit,
		lockout:       deps.Lockout,
		lockoutPolicy: deps.LockoutPolicy,
		notifier:      deps.Notifier,
		metrics:       deps.Metrics,
		log:           deps.Logger,
	}
}

func (s *Service) ValidatePassword(candidate model.PasswordCandidate) model.ValidationResult {
	result := s.policy.Validate(candidate)
	if result.Valid {
		s.metrics.PolicyValidations.WithLabelValues("valid").Inc()
	} else {
		s.metrics.PolicyValidations.WithLabelValues("invalid").Inc()
	}
	return result
}

func (s *Service) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	account, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, accountErr(err)
	}
	return account, nil
}

// SetPassword validates, checks reuse, hashes and persists a new password.
// Each step short-circuits the rest. PASSWORD_CHANGED is recorded only after
// both the account and the history hold the new digest.
func (s *Service) SetPassword(ctx context.Context, req SetPasswordRequest) error {
	err := s.history.Guard(ctx, req.AccountID, func(ctx context.Context) error {
		return s.setPassword(ctx, req)
	})
	if err != nil && !isAppError(err) {
		// only the guard itself returns plain errors
		err = apperrors.NewStorageUnavailable(err)
	}
	return err
}

func (s *Service) setPassword(ctx context.Context, req SetPasswordRequest) error {
	actor := model.Actor{Username: req.Username, ID: &req.AccountID, Origin: req.Origin}

	result := s.ValidatePassword(model.PasswordCandidate{
		Password: req.NewPassword,
		Username: req.Username,
		Email:    req.Email,
	})
	if !result.Valid {
		s.metrics.PasswordChanges.WithLabelValues("invalid").Inc()
		return apperrors.NewValidation(result)
	}

	reused, err := s.history.IsReused(ctx, req.AccountID, req.NewPassword)
	if err != nil {
		s.metrics.PasswordChanges.WithLabelValues("storage_unavailable").Inc()
		return apperrors.NewStorageUnavailable(err)
	}
	if reused {
		s.metrics.PasswordChanges.WithLabelValues("reused").Inc()
		return apperrors.NewPasswordReused()
	}

	digest, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		s.metrics.PasswordChanges.WithLabelValues("error").Inc()
		return apperrors.NewInternal(err)
	}

	if err := s.accounts.UpdatePasswordHash(ctx, req.AccountID, digest); err != nil {
		s.metrics.PasswordChanges.WithLabelValues("storage_unavailable").Inc()
		return accountErr(err)
	}

	if err := s.history.RecordPassword(ctx, req.AccountID, digest); err != nil {
		s.metrics.PasswordChanges.WithLabelValues("partial").Inc()
		s.log.WithContext(ctx).Error(err, "password stored on account but not in history",
			"account_id", req.AccountID)
		_ = s.auditor.SecurityEvent(ctx, "password_history_out_of_sync", actor, model.SeverityError)
		return apperrors.NewPartialPersistence(req.AccountID, err)
	}

	s.metrics.PasswordChanges.WithLabelValues("success").Inc()
	_ = s.auditor.PasswordChanged(ctx, actor)

	if req.Email != "" {
		if err := s.notifier.SendPasswordChanged(ctx, req.Email, req.Username); err != nil {
			s.log.WithContext(ctx).Warn("password change notification failed",
				"account_id", req.AccountID, "error", err.Error())
		}
	}
	return nil
}

// ChangePassword checks the current password before running SetPassword.
func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	account, err := s.accounts.Get(ctx, req.AccountID)
	if err != nil {
		return accountErr(err)
	}

	if err := s.hasher.Compare(account.PasswordHash, req.CurrentPassword); err != nil {
		if !errors.Is(err, security.ErrPasswordMismatch) {
			return apperrors.NewInternal(err)
		}
		_ = s.auditor.SecurityEvent(ctx, "password_change_denied",
			model.AccountActor(account, req.Origin), model.SeverityWarning,
			model.Attr{Key: "reason", Value: "wrong_current_password"})
		return apperrors.NewInvalidCredentials()
	}

	return s.SetPassword(ctx, SetPasswordRequest{
		AccountID:   account.ID,
		Username:    account.Username,
		Email:       account.Email,
		NewPassword: req.NewPassword,
		Origin:      req.Origin,
	})
}

func (s *Service) CreateAccount(ctx context.Context, req CreateAccountRequest) (*model.Account, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return nil, apperrors.NewBadRequest("username is required", nil)
	}
	if req.Role == "" {
		req.Role = model.RoleUser
	}
	if !model.ValidRole(req.Role) {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown role %q", req.Role), nil)
	}

	result := s.ValidatePassword(model.PasswordCandidate{
		Password: req.Password,
		Username: req.Username,
		Email:    req.Email,
	})
	if !result.Valid {
		return nil, apperrors.NewValidation(result)
	}

	digest, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}

	account := &model.Account{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: digest,
		Role:         req.Role,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewBadRequest("username is already taken", err)
		}
		return nil, apperrors.NewStorageUnavailable(err)
	}

	if err := s.history.RecordPassword(ctx, account.ID, digest); err != nil {
		s.log.WithContext(ctx).Error(err, "account created without password history", "account_id", account.ID)
		return nil, apperrors.NewPartialPersistence(account.ID, err)
	}

	_ = s.auditor.AccountCreated(ctx, model.AccountActor(account, req.Origin), account.Role)
	return account, nil
}

// Login verifies credentials and records the outcome. A configured
// LockoutTracker is consulted before the password is checked.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*model.Account, error) {
	account, err := s.accounts.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.Logins.WithLabelValues("failed").Inc()
			_ = s.auditor.LoginFailed(ctx, model.Actor{Username: req.Username, Origin: req.Origin}, "unknown_user")
			return nil, apperrors.NewInvalidCredentials()
		}
		return nil, apperrors.NewStorageUnavailable(err)
	}
	actor := model.AccountActor(account, req.Origin)

	if s.lockout != nil {
		locked, err := s.lockout.IsLocked(ctx, account.ID)
		if err != nil {
			return nil, apperrors.NewStorageUnavailable(err)
		}
		if locked {
			s.metrics.Logins.WithLabelValues("locked").Inc()
			_ = s.auditor.LoginFailed(ctx, actor, "account_locked")
			return nil, apperrors.NewAccountLocked()
		}
	}

	if err := s.hasher.Compare(account.PasswordHash, req.Password); err != nil {
		if !errors.Is(err, security.ErrPasswordMismatch) {
			return nil, apperrors.NewInternal(err)
		}
		return nil, s.loginFailed(ctx, account, actor)
	}

	if s.lockout != nil {
		if err := s.lockout.Reset(ctx, account.ID); err != nil {
			s.log.WithContext(ctx).Warn("failed to reset login attempts", "account_id", account.ID, "error", err.Error())
		}
	}

	s.metrics.Logins.WithLabelValues("success").Inc()
	_ = s.auditor.LoginSuccess(ctx, actor)
	return account, nil
}

func (s *Service) loginFailed(ctx context.Context, account *model.Account, actor model.Actor) error {
	s.metrics.Logins.WithLabelValues("failed").Inc()
	_ = s.auditor.LoginFailed(ctx, actor, "bad_password")

	if s.lockout == nil {
		return apperrors.NewInvalidCredentials()
	}

	locked, err := s.lockout.RecordFailure(ctx, account.ID)
	if err != nil {
		s.log.WithContext(ctx).Warn("failed to record login failure", "account_id", account.ID, "error", err.Error())
		return apperrors.NewInvalidCredentials()
	}
	if !locked {
		return apperrors.NewInvalidCredentials()
	}

	_ = s.auditor.AccountLocked(ctx, actor, s.lockoutPolicy)
	if account.Email != "" {
		if err := s.notifier.SendAccountLocked(ctx, account.Email, account.Username, s.lockoutPolicy.DurationMinutes); err != nil {
			s.log.WithContext(ctx).Warn("lockout notification failed", "account_id", account.ID, "error", err.Error())
		}
	}
	return apperrors.NewAccountLocked()
}

func (s *Service) Logout(ctx context.Context, actor model.Actor) error {
	return s.auditor.Logout(ctx, actor)
}

func (s *Service) SessionExpired(ctx context.Context, actor model.Actor) error {
	return s.auditor.SessionExpired(ctx, actor)
}

// ChangeRole stores the new role and records PRIVILEGE_CHANGE. Setting the
// current role again is a no-op.
func (s *Service) ChangeRole(ctx context.Context, req ChangeRoleRequest) (*model.Account, error) {
	if !model.ValidRole(req.Role) {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown role %q", req.Role), nil)
	}

	account, err := s.accounts.Get(ctx, req.AccountID)
	if err != nil {
		return nil, accountErr(err)
	}
	if account.Role == req.Role {
		return account, nil
	}

	oldRole := account.Role
	if err := s.accounts.UpdateRole(ctx, account.ID, req.Role); err != nil {
		return nil, accountErr(err)
	}
	account.Role = req.Role

	_ = s.auditor.PrivilegeChange(ctx, model.AccountActor(account, req.Origin), oldRole, req.Role, req.ChangedBy)
	return account, nil
}

func accountErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("account", err)
	}
	return apperrors.NewStorageUnavailable(err)
}

func isAppError(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr)
}
