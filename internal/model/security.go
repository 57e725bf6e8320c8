package model

// DefaultSpecialChars is the special-character set used when none is configured.
const DefaultSpecialChars = "!@#$%^&*()_+-=[]{}|;:,.<>?"

// DefaultBlockedPasswords is the built-in deny-list of known-weak passwords.
var DefaultBlockedPasswords = []string{
	"password", "password1", "password123", "passw0rd",
	"123456", "1234567", "12345678", "123456789", "1234567890",
	"qwerty", "qwerty123", "abc123", "111111", "123123",
	"letmein", "welcome", "monkey", "dragon", "master",
	"iloveyou", "sunshine", "princess", "football", "baseball",
	"shadow", "superman", "trustno1", "admin", "admin123", "login",
}

// PasswordPolicy is the immutable policy configuration. Engines copy it on
// construction so callers cannot mutate a live policy.
type PasswordPolicy struct {
	MinLength           int      `json:"min_length"`
	MaxLength           int      `json:"max_length"`
	RequireUppercase    bool     `json:"require_uppercase"`
	RequireLowercase    bool     `json:"require_lowercase"`
	RequireNumbers      bool     `json:"require_numbers"`
	RequireSpecialChars bool     `json:"require_special_chars"`
	AllowedSpecialChars string   `json:"allowed_special_chars"`
	BlockedPasswords    []string `json:"blocked_passwords"`
	HistoryCount        int      `json:"history_count"` // Number of previous passwords to remember
}

// DefaultPasswordPolicy returns the stock policy: 8..128 characters, all four
// character classes, the built-in deny-list and a reuse depth of 5.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:           8,
		MaxLength:           128,
		RequireUppercase:    true,
		RequireLowercase:    true,
		RequireNumbers:      true,
		RequireSpecialChars: true,
		AllowedSpecialChars: DefaultSpecialChars,
		BlockedPasswords:    append([]string(nil), DefaultBlockedPasswords...),
		HistoryCount:        5,
	}
}

// Clone returns a deep copy.
func (p PasswordPolicy) Clone() PasswordPolicy {
	p.BlockedPasswords = append([]string(nil), p.BlockedPasswords...)
	return p
}

// LockoutPolicy parameterizes the external login-attempt tracker.
type LockoutPolicy struct {
	MaxAttempts     int
	DurationMinutes int
}
