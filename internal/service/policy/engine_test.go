package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/account-security/internal/model"
)

func newDefaultEngine() *Engine {
	return NewEngine(model.DefaultPasswordPolicy())
}

func TestValidateAcceptsCompliantPassword(t *testing.T) {
	result := newDefaultEngine().Validate(model.PasswordCandidate{Password: "SecureP@ss123"})

	assert.True(t, result.Valid)
	assert.Empty(t, result.Violations)
}

func TestValidateEmptyPasswordShortCircuits(t *testing.T) {
	result := newDefaultEngine().Validate(model.PasswordCandidate{Password: "", Username: "alice"})

	assert.False(t, result.Valid)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, model.ReasonRequired, result.Violations[0].Code)
}

func TestValidateReportsEveryViolationInOrder(t *testing.T) {
	result := newDefaultEngine().Validate(model.PasswordCandidate{Password: "abc"})

	assert.False(t, result.Valid)
	codes := make([]model.ReasonCode, 0, len(result.Violations))
	for _, v := range result.Violations {
		codes = append(codes, v.Code)
	}
	assert.Equal(t, []model.ReasonCode{
		model.ReasonTooShort,
		model.ReasonMissingUppercase,
		model.ReasonMissingDigit,
		model.ReasonMissingSpecial,
	}, codes)
}

func TestValidateShortPasswordsAlwaysFailLength(t *testing.T) {
	e := newDefaultEngine()
	for _, pw := range []string{"A", "Ab1!", "Abcde1!", "P@ss1"} {
		result := e.Validate(model.PasswordCandidate{Password: pw})
		assert.False(t, result.Valid, pw)
		assert.True(t, result.Has(model.ReasonTooShort), pw)
	}
}

func TestValidateTooLong(t *testing.T) {
	pw := "Aa1!" + strings.Repeat("x", 125)
	result := newDefaultEngine().Validate(model.PasswordCandidate{Password: pw})

	assert.False(t, result.Valid)
	assert.True(t, result.Has(model.ReasonTooLong))
	assert.False(t, result.Has(model.ReasonTooShort))
}

func TestValidateDenyListIsCaseInsensitive(t *testing.T) {
	e := newDefaultEngine()

	lower := e.Validate(model.PasswordCandidate{Password: "password"})
	upper := e.Validate(model.PasswordCandidate{Password: "PASSWORD"})

	assert.False(t, lower.Valid)
	assert.False(t, upper.Valid)
	assert.True(t, lower.Has(model.ReasonTooCommon))
	assert.True(t, upper.Has(model.ReasonTooCommon))
	assert.False(t, lower.Has(model.ReasonTooShort), "8 characters meets the minimum")
}

func TestValidateUsernameContainment(t *testing.T) {
	result := newDefaultEngine().Validate(model.PasswordCandidate{
		Password: "MyUsername123!",
		Username: "myusername",
	})

	assert.False(t, result.Valid)
	assert.True(t, result.Has(model.ReasonContainsUsername))
	assert.Contains(t, result.Messages(), "Password must not contain your username")
}

func TestValidateEmailLocalPart(t *testing.T) {
	e := newDefaultEngine()

	tests := []struct {
		name     string
		password string
		email    string
		leaks    bool
	}{
		{"long local part contained", "Johnny#2024x", "johnny@example.com", true},
		{"short local part ignored", "Joanna#2024x", "jo@example.com", false},
		{"exactly three characters ignored", "Bobcat#2024x", "bob@example.com", false},
		{"unrelated local part", "Tr0ub4dor&3x", "johnny@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Validate(model.PasswordCandidate{Password: tt.password, Email: tt.email})
			assert.Equal(t, tt.leaks, result.Has(model.ReasonContainsEmail))
		})
	}
}

func TestValidateRespectsClassToggles(t *testing.T) {
	policy := model.DefaultPasswordPolicy()
	policy.RequireSpecialChars = false
	policy.RequireUppercase = false
	e := NewEngine(policy)

	result := e.Validate(model.PasswordCandidate{Password: "lowercase123"})
	assert.True(t, result.Valid, result.Messages())
}

func TestValidateCustomSpecialSet(t *testing.T) {
	policy := model.DefaultPasswordPolicy()
	policy.AllowedSpecialChars = "~"
	e := NewEngine(policy)

	assert.False(t, e.Validate(model.PasswordCandidate{Password: "SecureP@ss123"}).Valid)
	assert.True(t, e.Validate(model.PasswordCandidate{Password: "SecureP~ss123"}).Valid)
}

func TestValidateIsDeterministic(t *testing.T) {
	e := newDefaultEngine()
	c := model.PasswordCandidate{Password: "weak", Username: "someone", Email: "someone@example.com"}

	assert.Equal(t, e.Validate(c), e.Validate(c))
}

func TestEngineCopiesPolicy(t *testing.T) {
	policy := model.DefaultPasswordPolicy()
	e := NewEngine(policy)

	policy.BlockedPasswords[0] = "changed"
	policy.MinLength = 1

	assert.True(t, e.IsBlocked("password"))
	assert.Equal(t, 8, e.Policy().MinLength)
}

func TestRequirements(t *testing.T) {
	assert.Equal(t, []string{
		"At least 8 characters long",
		"No more than 128 characters long",
		"At least one uppercase letter (A-Z)",
		"At least one lowercase letter (a-z)",
		"At least one number (0-9)",
		"At least one special character (" + model.DefaultSpecialChars + ")",
	}, newDefaultEngine().Requirements())

	policy := model.DefaultPasswordPolicy()
	policy.RequireNumbers = false
	policy.RequireSpecialChars = false
	assert.Equal(t, []string{
		"At least 8 characters long",
		"No more than 128 characters long",
		"At least one uppercase letter (A-Z)",
		"At least one lowercase letter (a-z)",
	}, NewEngine(policy).Requirements())
}
