package policy

import (
	"strings"
	"unicode/utf8"

	"github.com/jwalitptl/account-security/internal/model"
)

const (
	maxLengthScore     = 30
	classScore         = 10
	maxUniquenessScore = 20
	blockedPenalty     = 50
	sequencePenalty    = 10
	repeatPenalty      = 10
)

// ascending three-character runs, e.g. "123", "abc", "xyz"
var sequences = buildSequences("0123456789", "abcdefghijklmnopqrstuvwxyz")

func buildSequences(alphabets ...string) []string {
	var out []string
	for _, a := range alphabets {
		for i := 0; i+3 <= len(a); i++ {
			out = append(out, a[i:i+3])
		}
	}
	return out
}

// Score returns a strength score in [0,100].
func (e *Engine) Score(password string) int {
	if password == "" {
		return 0
	}

	length := utf8.RuneCountInString(password)
	score := clamp(min(length*2, maxLengthScore))

	cc := e.classify(password)
	for _, has := range []bool{cc.lower, cc.upper, cc.digit, cc.special} {
		if has {
			score += classScore
		}
	}
	score = clamp(score)

	score = clamp(score + min(distinctRunes(password), maxUniquenessScore))

	if e.IsBlocked(password) {
		score = clamp(score - blockedPenalty)
	}

	lowered := strings.ToLower(password)
	for _, seq := range sequences {
		if strings.Contains(lowered, seq) {
			score = clamp(score - sequencePenalty)
			break
		}
	}

	if hasRepeatRun(password, 3) {
		score = clamp(score - repeatPenalty)
	}

	return score
}

// Strength scores password and attaches its label and color hint.
func (e *Engine) Strength(password string) model.Strength {
	score := e.Score(password)
	label, color := Label(score)
	return model.Strength{Score: score, Label: label, Color: color}
}

// Label maps a score onto its bucket. Thresholds: <30 Weak, <50 Fair,
// <70 Good, <90 Strong, otherwise Very Strong.
func Label(score int) (model.StrengthLabel, string) {
	switch {
	case score < 30:
		return model.StrengthWeak, "red"
	case score < 50:
		return model.StrengthFair, "orange"
	case score < 70:
		return model.StrengthGood, "yellow"
	case score < 90:
		return model.StrengthStrong, "lightgreen"
	default:
		return model.StrengthVeryStrong, "green"
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func distinctRunes(s string) int {
	seen := make(map[rune]struct{}, len(s))
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}

func hasRepeatRun(s string, n int) bool {
	var prev rune
	run := 0
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}
