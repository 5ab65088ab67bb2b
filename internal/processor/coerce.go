package processor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// timeFormats is the ordered list of datetime layouts tried during coercion.
// First match wins.
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	time.RFC1123,
}

// naiveFormats are the layouts that carry no zone information. Values parsed
// with one of these are assigned the reference location.
var naiveFormats = map[string]struct{}{
	"2006-01-02 15:04:05": {},
	"2006-01-02T15:04:05": {},
	"2006-01-02":          {},
	"01/02/2006 15:04:05": {},
	"01/02/2006":          {},
}

// nullTokens are decimal/integer spellings treated as absent rather than
// malformed.
var nullTokens = map[string]struct{}{
	"":    {},
	"-":   {},
	"n/a": {},
	"na":  {},
}

// String sanitises a raw value into a clean string: control characters are
// stripped and surrounding whitespace trimmed. Non-string scalars are
// formatted. Nil stays nil.
func String(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	return sanitize(s), nil
}

// Email lowercases and trims an email value on top of String sanitisation.
func Email(v any) (any, error) {
	out, err := String(v)
	if err != nil || out == nil {
		return out, err
	}
	return strings.ToLower(out.(string)), nil
}

// Int coerces strings and floats to an integer. JSON numbers arrive as
// float64.
func Int(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	case string:
		s := strings.TrimSpace(x)
		if _, isNull := nullTokens[strings.ToLower(s)]; isNull {
			return nil, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", x)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("not an integer: %v", v)
	}
}

// Decimal coerces monetary strings to a float: currency symbols and
// thousands separators are stripped, and blank/"-"/"n/a" are treated as null.
func Decimal(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case string:
		s := strings.TrimSpace(x)
		if _, isNull := nullTokens[strings.ToLower(s)]; isNull {
			return nil, nil
		}
		s = strings.Map(func(r rune) rune {
			switch r {
			case '$', '€', '£', '¥', ',', ' ':
				return -1
			}
			return r
		}, s)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("not a decimal: %q", x)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("not a decimal: %v", v)
	}
}

// Bool coerces the usual truthy/falsy spellings. Unrecognised values become
// null with a warning.
func Bool(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return x, nil
	case float64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off":
			return false, nil
		case "":
			return nil, nil
		default:
			return nil, fmt.Errorf("not a boolean: %q", x)
		}
	default:
		return nil, fmt.Errorf("not a boolean: %v", v)
	}
}

// Time returns a coercion that tries the known datetime layouts in order.
// Naive timestamps are assigned loc; nil loc means UTC.
func Time(loc *time.Location) CoerceFunc {
	if loc == nil {
		loc = time.UTC
	}
	return func(v any) (any, error) {
		switch x := v.(type) {
		case nil:
			return nil, nil
		case time.Time:
			return x, nil
		case string:
			s := strings.TrimSpace(x)
			if s == "" {
				return nil, nil
			}
			for _, layout := range timeFormats {
				var t time.Time
				var err error
				if _, naive := naiveFormats[layout]; naive {
					t, err = time.ParseInLocation(layout, s, loc)
				} else {
					t, err = time.Parse(layout, s)
				}
				if err == nil {
					return t, nil
				}
			}
			return nil, fmt.Errorf("unparseable datetime: %q", x)
		case float64:
			// Epoch seconds.
			return time.Unix(int64(x), 0).UTC(), nil
		default:
			return nil, fmt.Errorf("unparseable datetime: %v", v)
		}
	}
}

// sanitize strips control characters and trims surrounding whitespace.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// truncate caps a string at max bytes without splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !isRuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
