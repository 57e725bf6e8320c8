package audit

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jwalitptl/account-security/internal/model"
)

// FormatLine renders an event as a single line:
//
//	<timestamp> <SEVERITY> <KIND> [type=<label>] user=<actor> [user_id=<id>] [ip=<origin>] [k=v ...]
//
// Bracketed fields are left out when empty. Values that would break the
// line apart are Go-quoted.
func FormatLine(e *model.AuditEvent) string {
	var b strings.Builder
	b.WriteString(e.Timestamp.UTC().Format(time.RFC3339Nano))
	b.WriteByte(' ')
	b.WriteString(string(e.Severity))
	b.WriteByte(' ')
	b.WriteString(string(e.Kind))

	if e.Label != "" {
		writePair(&b, "type", e.Label)
	}
	writePair(&b, "user", e.Actor)
	if e.ActorID != nil {
		writePair(&b, "user_id", strconv.FormatInt(*e.ActorID, 10))
	}
	if e.Origin != "" {
		writePair(&b, "ip", e.Origin)
	}
	for _, a := range e.Attributes {
		writePair(&b, a.Key, a.Value)
	}
	return b.String()
}

func writePair(b *strings.Builder, key, value string) {
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(quoteValue(value))
}

func quoteValue(v string) string {
	if v == "" || strings.IndexFunc(v, needsQuote) >= 0 {
		return strconv.Quote(v)
	}
	return v
}

func needsQuote(r rune) bool {
	return r == ' ' || r == '=' || r == '"' || !unicode.IsPrint(r)
}

// sanitizeKey keeps attribute keys to a single bare token.
func sanitizeKey(k string) string {
	if k == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		if r == '=' || unicode.IsSpace(r) || r == '"' || !unicode.IsPrint(r) {
			return '_'
		}
		return r
	}, k)
}
