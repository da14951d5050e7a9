// Package normalize cleans raw utterances before they become dataset rows.
package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MinUtteranceLen is the shortest utterance, in characters, worth keeping.
const MinUtteranceLen = 3

// speakerPrefixRE matches "철수: ", "A: ", "2：" style prefixes.
var speakerPrefixRE = regexp.MustCompile(`^\s*(?:\d+|[A-Za-z가-힣._-]+)\s*[:：]\s*`)

var lineBreaks = strings.NewReplacer(`\n`, "\n", "\r", "\n")

var controlSpaces = strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")

// StripSpeakerPrefix removes a leading speaker label.
func StripSpeakerPrefix(s string) string {
	return speakerPrefixRE.ReplaceAllString(s, "")
}

// CollapseSpaces turns every whitespace run into one space and trims the ends.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TrimQuotes removes wrapping double quotes, then single quotes, along with
// the whitespace around them.
func TrimQuotes(s string) string {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	return strings.Trim(s, `'`)
}

// TrimWrappingQuotes removes one pair of double quotes, then one pair of
// single quotes, only when the same quote opens and closes s. Unpaired quotes
// are kept.
func TrimWrappingQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, `'`} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

// Normalize produces the final text of a row.
func Normalize(s string) string {
	s = controlSpaces.Replace(norm.NFC.String(s))
	s = StripSpeakerPrefix(s)
	return TrimQuotes(CollapseSpaces(s))
}

// CleanLine strips the speaker prefix and collapses whitespace. Quotes are kept.
func CleanLine(s string) string {
	return CollapseSpaces(StripSpeakerPrefix(s))
}

// FirstUtterance returns the first line of raw that is long enough to use.
// Literal "\n" sequences count as line breaks.
func FirstUtterance(raw string) (string, bool) {
	for _, line := range strings.Split(lineBreaks.Replace(raw), "\n") {
		line = TrimQuotes(line)
		if line == "" {
			continue
		}
		line = CleanLine(line)
		if RuneLen(line) >= MinUtteranceLen {
			return line, true
		}
	}
	return "", false
}

// RuneLen counts characters the way the length column does.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
