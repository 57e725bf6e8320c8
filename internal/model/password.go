package model

import (
	"time"
)

// ReasonCode identifies a single policy violation.
type ReasonCode string

const (
	ReasonRequired         ReasonCode = "required"
	ReasonTooShort         ReasonCode = "too_short"
	ReasonTooLong          ReasonCode = "too_long"
	ReasonMissingUppercase ReasonCode = "missing_uppercase"
	ReasonMissingLowercase ReasonCode = "missing_lowercase"
	ReasonMissingDigit     ReasonCode = "missing_digit"
	ReasonMissingSpecial   ReasonCode = "missing_special"
	ReasonTooCommon        ReasonCode = "too_common"
	ReasonContainsUsername ReasonCode = "contains_username"
	ReasonContainsEmail    ReasonCode = "contains_email"
)

// Violation is one failed policy check.
type Violation struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`
}

// ValidationResult lists violations in check order.
type ValidationResult struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// Messages returns the human-readable violation strings.
func (r ValidationResult) Messages() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Message)
	}
	return out
}

// Has reports whether the result contains a violation with the given code.
func (r ValidationResult) Has(code ReasonCode) bool {
	for _, v := range r.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// PasswordCandidate is the input to a policy check. It is never persisted.
type PasswordCandidate struct {
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// StrengthLabel is the bucket a strength score falls into.
type StrengthLabel string

const (
	StrengthWeak       StrengthLabel = "Weak"
	StrengthFair       StrengthLabel = "Fair"
	StrengthGood       StrengthLabel = "Good"
	StrengthStrong     StrengthLabel = "Strong"
	StrengthVeryStrong StrengthLabel = "Very Strong"
)

// Strength is a score in [0,100] with its label and a display color hint.
type Strength struct {
	Score int           `json:"score"`
	Label StrengthLabel `json:"label"`
	Color string        `json:"color"`
}

// PasswordHistoryEntry is one previously used password digest.
// Sequence increases per account and defines recency; CreatedAt is informational.
type PasswordHistoryEntry struct {
	AccountID    int64     `json:"account_id" db:"account_id"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Sequence     int64     `json:"sequence" db:"seq"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
