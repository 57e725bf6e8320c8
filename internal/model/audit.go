package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of audit event kinds.
type EventKind string

const (
	EventLoginSuccess    EventKind = "LOGIN_SUCCESS"
	EventLoginFailed     EventKind = "LOGIN_FAILED"
	EventAccountLocked   EventKind = "ACCOUNT_LOCKED"
	EventLogout          EventKind = "LOGOUT"
	EventSessionExpired  EventKind = "SESSION_EXPIRED"
	EventPasswordChanged EventKind = "PASSWORD_CHANGED"
	EventAccountCreated  EventKind = "ACCOUNT_CREATED"
	EventPrivilegeChange EventKind = "PRIVILEGE_CHANGE"
	EventSecurity        EventKind = "SECURITY_EVENT"
)

var eventKinds = []EventKind{
	EventLoginSuccess,
	EventLoginFailed,
	EventAccountLocked,
	EventLogout,
	EventSessionExpired,
	EventPasswordChanged,
	EventAccountCreated,
	EventPrivilegeChange,
	EventSecurity,
}

// EventKinds returns every known kind.
func EventKinds() []EventKind {
	return append([]EventKind(nil), eventKinds...)
}

// Valid reports whether k belongs to the enumeration.
func (k EventKind) Valid() bool {
	for _, known := range eventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// DefaultSeverity is the fixed severity for every kind except SECURITY_EVENT,
// whose severity is caller supplied.
func (k EventKind) DefaultSeverity() Severity {
	switch k {
	case EventLoginFailed, EventAccountLocked, EventPrivilegeChange:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Severity of an audit event.
type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity accepts the upper-case names above.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(s); sev {
	case SeverityDebug, SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Attr is one key/value pair of an audit event. Attributes keep insertion order.
type Attr struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Actor identifies who an event is about.
type Actor struct {
	Username string `json:"username"`
	ID       *int64 `json:"id,omitempty"`
	Origin   string `json:"origin,omitempty"`
}

// AccountActor builds an actor from an account record.
func AccountActor(a *Account, origin string) Actor {
	id := a.ID
	return Actor{Username: a.Username, ID: &id, Origin: origin}
}

// AuditEvent is written once and never mutated.
type AuditEvent struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Kind       EventKind `json:"kind" db:"kind"`
	Label      string    `json:"label,omitempty" db:"label"`
	Actor      string    `json:"actor" db:"actor"`
	ActorID    *int64    `json:"actor_id,omitempty" db:"actor_id"`
	Origin     string    `json:"origin,omitempty" db:"origin"`
	Attributes []Attr    `json:"attributes,omitempty" db:"-"`
	Severity   Severity  `json:"severity" db:"severity"`
	Timestamp  time.Time `json:"timestamp" db:"created_at"`
}

// AuditFilter narrows an audit listing.
type AuditFilter struct {
	Actor string    `form:"actor"`
	Kind  EventKind `form:"kind"`
	TimeRange
	Pagination
}
