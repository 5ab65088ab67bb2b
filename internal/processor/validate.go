package processor

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// emailShape is an RFC-shape check, not full RFC 5322 parsing.
	emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	uuidShape = regexp.MustCompile(
		`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	nonDigits = regexp.MustCompile(`\D`)
)

// CheckEmail validates an RFC-shaped email address.
func CheckEmail(v any) error {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	if !emailShape.MatchString(s) {
		return fmt.Errorf("not a valid email: %q", s)
	}
	return nil
}

// CheckPhone requires at least 7 digits after stripping everything else.
func CheckPhone(v any) error {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	digits := nonDigits.ReplaceAllString(s, "")
	if len(digits) < 7 {
		return fmt.Errorf("phone has %d digits, need at least 7", len(digits))
	}
	return nil
}

// CheckUUID validates a UUID-shaped identifier.
func CheckUUID(v any) error {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	if !uuidShape.MatchString(s) {
		return fmt.Errorf("not a valid UUID: %q", s)
	}
	return nil
}

// CheckOneOf validates membership in a fixed value set, case-insensitively.
// Used for source-specific "valid status" tables.
func CheckOneOf(allowed ...string) CheckFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[strings.ToLower(a)] = struct{}{}
	}
	return func(v any) error {
		s, ok := v.(string)
		if !ok || s == "" {
			return nil
		}
		if _, ok := set[strings.ToLower(s)]; !ok {
			return fmt.Errorf("value %q not in allowed set", s)
		}
		return nil
	}
}
