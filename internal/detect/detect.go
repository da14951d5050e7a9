// Package detect holds the regex feature detectors used to tag dataset rows:
// URL presence, Korean phone numbers and forbidden personal-information terms.
package detect

import (
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"
)

// Placeholder tokens used by synthetic text instead of real values.
const (
	URLToken   = "<URL>"
	PhoneToken = "<PHONE>"
)

var (
	urlRE = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|[a-z0-9.-]+\.(?:com|net|org|co\.kr|kr|io|ai|shop|me)\S*)`)

	phoneRE = regexp.MustCompile(`(?:(?:\+?82[-\s]?)?0?1[0-9][-.\s]?\d{3,4}[-.\s]?\d{4}|\d{2,3}[-.\s]?\d{3,4}[-.\s]?\d{4})`)

	// regexp2 is used here because \b must treat Hangul as word characters.
	forbiddenPII = mustCompileAll(
		`\b주민등록번호\b`,
		`\b여권번호\b`,
		`\b운전면허\b`,
		`카드번호`,
		`계좌번호`,
		`\b주소\b`,
		`\b실명\b`,
	)
)

func mustCompileAll(patterns ...string) []*regexp2.Regexp {
	out := make([]*regexp2.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp2.MustCompile(p, regexp2.None))
	}
	return out
}

// HasURL reports whether s contains a URL or a bare domain.
func HasURL(s string) bool {
	return urlRE.MatchString(s)
}

// HasPhone reports whether s contains a phone-number shaped substring.
func HasPhone(s string) bool {
	return phoneRE.MatchString(s)
}

// HasForbiddenPII reports whether s mentions one of the forbidden PII terms.
func HasForbiddenPII(s string) bool {
	for _, re := range forbiddenPII {
		if ok, err := re.MatchString(s); err == nil && ok {
			return true
		}
	}
	return false
}

// RemoveForbiddenPII deletes every forbidden PII term from s.
// Surrounding whitespace is left as is.
func RemoveForbiddenPII(s string) string {
	for _, re := range forbiddenPII {
		out, err := re.Replace(s, "", -1, -1)
		if err != nil {
			continue
		}
		s = out
	}
	return s
}

// Features returns the has_url and has_phone flags of s.
func Features(s string) (hasURL, hasPhone int) {
	return boolToInt(HasURL(s)), boolToInt(HasPhone(s))
}

// PlaceholderFeatures is Features for synthetic text, where a placeholder
// token counts the same as a real match.
func PlaceholderFeatures(s string) (hasURL, hasPhone int) {
	hasURL = boolToInt(strings.Contains(s, URLToken) || HasURL(s))
	hasPhone = boolToInt(strings.Contains(s, PhoneToken) || HasPhone(s))
	return hasURL, hasPhone
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
