// Package policy evaluates candidate passwords against a PasswordPolicy and
// scores their strength. Engines hold no mutable state and do no I/O, so a
// single Engine may be shared by any number of goroutines.
package policy

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jwalitptl/account-security/internal/model"
)

// Engine validates passwords against an immutable policy.
type Engine struct {
	policy  model.PasswordPolicy
	blocked map[string]struct{}
}

// NewEngine copies policy; later changes to the caller's value have no effect.
func NewEngine(policy model.PasswordPolicy) *Engine {
	p := policy.Clone()
	if p.AllowedSpecialChars == "" {
		p.AllowedSpecialChars = model.DefaultSpecialChars
	}

	blocked := make(map[string]struct{}, len(p.BlockedPasswords))
	for _, pw := range p.BlockedPasswords {
		blocked[strings.ToLower(pw)] = struct{}{}
	}

	return &Engine{policy: p, blocked: blocked}
}

// Policy returns a copy of the configured policy.
func (e *Engine) Policy() model.PasswordPolicy {
	return e.policy.Clone()
}

// Validate runs every check and collects all violations. Only an empty
// password short-circuits.
func (e *Engine) Validate(c model.PasswordCandidate) model.ValidationResult {
	var violations []model.Violation
	add := func(code model.ReasonCode, msg string) {
		violations = append(violations, model.Violation{Code: code, Message: msg})
	}

	password := c.Password
	if password == "" {
		add(model.ReasonRequired, "Password is required")
		return model.ValidationResult{Valid: false, Violations: violations}
	}

	length := utf8.RuneCountInString(password)
	if length < e.policy.MinLength {
		add(model.ReasonTooShort, fmt.Sprintf("Password must be at least %d characters long", e.policy.MinLength))
	} else if e.policy.MaxLength > 0 && length > e.policy.MaxLength {
		add(model.ReasonTooLong, fmt.Sprintf("Password must be no more than %d characters long", e.policy.MaxLength))
	}

	classes := e.classify(password)
	if e.policy.RequireUppercase && !classes.upper {
		add(model.ReasonMissingUppercase, "Password must contain at least one uppercase letter")
	}
	if e.policy.RequireLowercase && !classes.lower {
		add(model.ReasonMissingLowercase, "Password must contain at least one lowercase letter")
	}
	if e.policy.RequireNumbers && !classes.digit {
		add(model.ReasonMissingDigit, "Password must contain at least one number")
	}
	if e.policy.RequireSpecialChars && !classes.special {
		add(model.ReasonMissingSpecial, fmt.Sprintf("Password must contain at least one special character (%s)", e.policy.AllowedSpecialChars))
	}

	if e.IsBlocked(password) {
		add(model.ReasonTooCommon, "Password is too common, please choose a stronger password")
	}

	lowered := strings.ToLower(password)
	if c.Username != "" && strings.Contains(lowered, strings.ToLower(c.Username)) {
		add(model.ReasonContainsUsername, "Password must not contain your username")
	}
	if local := emailLocalPart(c.Email); utf8.RuneCountInString(local) > 3 &&
		strings.Contains(lowered, strings.ToLower(local)) {
		add(model.ReasonContainsEmail, "Password must not contain your email address")
	}

	return model.ValidationResult{Valid: len(violations) == 0, Violations: violations}
}

// IsBlocked reports a case-insensitive deny-list match.
func (e *Engine) IsBlocked(password string) bool {
	_, ok := e.blocked[strings.ToLower(password)]
	return ok
}

// Requirements describes the active rules in validation order.
func (e *Engine) Requirements() []string {
	reqs := []string{fmt.Sprintf("At least %d characters long", e.policy.MinLength)}
	if e.policy.MaxLength > 0 {
		reqs = append(reqs, fmt.Sprintf("No more than %d characters long", e.policy.MaxLength))
	}
	if e.policy.RequireUppercase {
		reqs = append(reqs, "At least one uppercase letter (A-Z)")
	}
	if e.policy.RequireLowercase {
		reqs = append(reqs, "At least one lowercase letter (a-z)")
	}
	if e.policy.RequireNumbers {
		reqs = append(reqs, "At least one number (0-9)")
	}
	if e.policy.RequireSpecialChars {
		reqs = append(reqs, fmt.Sprintf("At least one special character (%s)", e.policy.AllowedSpecialChars))
	}
	return reqs
}

type charClasses struct {
	upper, lower, digit, special bool
}

func (e *Engine) classify(password string) charClasses {
	var cc charClasses
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			cc.upper = true
		case unicode.IsLower(r):
			cc.lower = true
		case unicode.IsDigit(r):
			cc.digit = true
		case strings.ContainsRune(e.policy.AllowedSpecialChars, r):
			cc.special = true
		}
	}
	return cc
}

func emailLocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}
