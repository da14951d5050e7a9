package synth

import (
	"errors"
	"strings"

	"github.com/yoon0701/ZeroGravity/internal/detect"
	"github.com/yoon0701/ZeroGravity/internal/normalize"
)

// Length band for synthetic spam, in characters.
const (
	MinSpamLen = 40
	MaxSpamLen = 160
)

// Validation failures. A message is rejected for the first one that applies.
var (
	ErrLength    = errors.New("length out of range")
	ErrNoURL     = errors.New("missing URL")
	ErrRealPhone = errors.New("real phone number")
	ErrPII       = errors.New("forbidden PII")
)

// Sanitize trims wrapping quotes, makes sure a <URL> placeholder is present,
// removes forbidden PII terms and collapses whitespace.
func Sanitize(msg string) string {
	s := normalize.TrimWrappingQuotes(msg)
	if !strings.Contains(s, detect.URLToken) {
		s += " 확인: " + detect.URLToken
	}
	s = detect.RemoveForbiddenPII(s)
	return normalize.CollapseSpaces(s)
}

// Check returns nil when msg is usable as a spam row.
func Check(msg string) error {
	if n := normalize.RuneLen(msg); n < MinSpamLen || n > MaxSpamLen {
		return ErrLength
	}
	if !strings.Contains(msg, detect.URLToken) && !detect.HasURL(msg) {
		return ErrNoURL
	}
	// A number-shaped match is only tolerated next to the placeholder.
	if detect.HasPhone(msg) && !strings.Contains(msg, detect.PhoneToken) {
		return ErrRealPhone
	}
	if detect.HasForbiddenPII(msg) {
		return ErrPII
	}
	return nil
}

// Validate reports whether msg passes Check.
func Validate(msg string) bool {
	return Check(msg) == nil
}

// RejectReason is a short label for metrics and logs.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrLength):
		return "length"
	case errors.Is(err, ErrNoURL):
		return "no_url"
	case errors.Is(err, ErrRealPhone):
		return "real_phone"
	case errors.Is(err, ErrPII):
		return "pii"
	default:
		return "other"
	}
}
