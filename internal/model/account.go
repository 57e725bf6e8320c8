package model

import (
	"time"
)

// Account roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Account is the subset of the account record this service reads and writes.
// The account lifecycle is owned by the account store.
type Account struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// IsAdmin reports whether the account may perform privileged operations.
func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleUser:
		return true
	}
	return false
}
