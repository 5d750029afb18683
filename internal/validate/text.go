package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"jeoparty/internal/apperr"
)

const (
	TeamNameMax    = 30
	ReasonMin      = 10
	ReasonMax      = 500
	DisplayMax     = 60
	DeviceIDMin    = 8
	DeviceIDMax    = 128
	FinalAnswerMax = 200
)

var markupPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*/?\s*script`),
	regexp.MustCompile(`(?i)<\s*iframe`),
	regexp.MustCompile(`(?i)<\s*img`),
	regexp.MustCompile(`(?i)<\s*svg`),
	regexp.MustCompile(`(?i)<\s*object`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
}

func hasMarkup(s string) bool {
	for _, re := range markupPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func hasControl(s string, allowNewlines bool) bool {
	for _, r := range s {
		if allowNewlines && (r == '\n' || r == '\r' || r == '\t') {
			continue
		}
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// Text trims s and checks its length in runes plus the markup rules.
func Text(field, s string, min, max int) (string, error) {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	switch {
	case n < min && min == 1:
		return "", apperr.Invalid(field, "is required")
	case n < min:
		return "", apperr.Invalid(field, fmt.Sprintf("must be at least %d characters", min))
	case n > max:
		return "", apperr.Invalid(field, fmt.Sprintf("must be at most %d characters", max))
	case hasMarkup(s) || hasControl(s, true):
		return "", apperr.Invalid(field, "contains disallowed markup or control characters")
	}
	return s, nil
}

// TeamName validates a single team name. Line breaks are not allowed.
func TeamName(s string) (string, error) {
	name, err := Text("name", s, 1, TeamNameMax)
	if err != nil {
		return "", err
	}
	if hasControl(name, false) {
		return "", apperr.Invalid("name", "contains disallowed markup or control characters")
	}
	return name, nil
}

// TeamNames validates a list and rejects case-insensitive duplicates.
func TeamNames(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	ve := &apperr.ValidationError{}
	for i, raw := range names {
		field := fmt.Sprintf("team_names[%d]", i)
		name, err := TeamName(raw)
		if err != nil {
			for _, msg := range apperr.FieldsOf(err) {
				ve.Add(field, msg)
			}
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			ve.Add(field, "duplicate team name")
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

func Reason(s string) (string, error) {
	return Text("reason", s, ReasonMin, ReasonMax)
}

func DisplayName(s string) (string, error) {
	return Text("display_name", s, 1, DisplayMax)
}

func DeviceID(s string) (string, error) {
	s = strings.TrimSpace(s)
	n := len(s)
	if n < DeviceIDMin || n > DeviceIDMax {
		return "", apperr.Invalid("device_id", fmt.Sprintf("must be %d-%d characters", DeviceIDMin, DeviceIDMax))
	}
	for _, r := range s {
		if !(r == '-' || r == '_' || r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
			return "", apperr.Invalid("device_id", "may only contain letters, digits, '-' and '_'")
		}
	}
	return s, nil
}

var joinCodeRE = regexp.MustCompile(`^[A-Z2-9]{6}$`)

// JoinCode normalizes a student-entered code.
func JoinCode(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !joinCodeRE.MatchString(s) {
		return "", apperr.Invalid("code", "must be 6 letters or digits")
	}
	return s, nil
}
