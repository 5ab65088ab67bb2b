package processor

import (
	"testing"
	"time"
)

func TestStringSanitises(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"  Alice  ", "Alice"},
		{"Bob\x00Smith", "BobSmith"},
		{"line\nkept", "line\nkept"},
		{42, "42"},
	}
	for _, tt := range tests {
		got, err := String(tt.in)
		if err != nil {
			t.Fatalf("String(%v) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("String(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got, _ := String(nil); got != nil {
		t.Errorf("String(nil) = %v, want nil", got)
	}
}

func TestEmailLowercases(t *testing.T) {
	got, err := Email(" Alice@Example.COM ")
	if err != nil {
		t.Fatalf("Email error: %v", err)
	}
	if got != "alice@example.com" {
		t.Errorf("Email = %q", got)
	}
}

func TestDecimalCurrencyStrings(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"$1,234.56", 1234.56},
		{"€ 99,00.5", 9900.5},
		{"1234", 1234},
		{"-42.5", -42.5},
	}
	for _, tt := range tests {
		got, err := Decimal(tt.in)
		if err != nil {
			t.Fatalf("Decimal(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Decimal(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecimalNullTokens(t *testing.T) {
	for _, in := range []string{"", "-", "n/a", "N/A", "na"} {
		got, err := Decimal(in)
		if err != nil || got != nil {
			t.Errorf("Decimal(%q) = (%v, %v), want (nil, nil)", in, got, err)
		}
	}
}

func TestDecimalMalformed(t *testing.T) {
	if _, err := Decimal("twelve"); err == nil {
		t.Error("Decimal(\"twelve\") succeeded, want error")
	}
}

func TestIntCoercion(t *testing.T) {
	if got, err := Int("  17 "); err != nil || got != 17 {
		t.Errorf("Int(\"17\") = (%v, %v)", got, err)
	}
	if got, err := Int(float64(80)); err != nil || got != 80 {
		t.Errorf("Int(80.0) = (%v, %v)", got, err)
	}
	if got, err := Int("n/a"); err != nil || got != nil {
		t.Errorf("Int(\"n/a\") = (%v, %v), want (nil, nil)", got, err)
	}
	if _, err := Int("many"); err == nil {
		t.Error("Int(\"many\") succeeded, want error")
	}
}

func TestBoolTokens(t *testing.T) {
	trues := []any{"1", "true", "YES", "On", true, float64(1)}
	for _, in := range trues {
		if got, err := Bool(in); err != nil || got != true {
			t.Errorf("Bool(%v) = (%v, %v), want true", in, got, err)
		}
	}
	falses := []any{"0", "false", "No", "off", false, float64(0)}
	for _, in := range falses {
		if got, err := Bool(in); err != nil || got != false {
			t.Errorf("Bool(%v) = (%v, %v), want false", in, got, err)
		}
	}
	if got, err := Bool(""); err != nil || got != nil {
		t.Errorf("Bool(\"\") = (%v, %v), want (nil, nil)", got, err)
	}
	if _, err := Bool("maybe"); err == nil {
		t.Error("Bool(\"maybe\") succeeded, want error")
	}
}

func TestTimeFormats(t *testing.T) {
	coerce := Time(time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-15T10:30:00Z", time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)},
		{"2026-03-15 10:30:00", time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)},
		{"2026-03-15", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"03/15/2026", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := coerce(tt.in)
		if err != nil {
			t.Fatalf("Time(%q) error: %v", tt.in, err)
		}
		if !got.(time.Time).Equal(tt.want) {
			t.Errorf("Time(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTimeNaiveUsesLocation(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	coerce := Time(chicago)

	got, err := coerce("2026-03-15 10:30:00")
	if err != nil {
		t.Fatalf("Time error: %v", err)
	}
	want := time.Date(2026, 3, 15, 10, 30, 0, 0, chicago)
	if !got.(time.Time).Equal(want) {
		t.Errorf("naive timestamp = %v, want %v", got, want)
	}

	// Zoned timestamps keep their own offset.
	got, err = coerce("2026-03-15T10:30:00Z")
	if err != nil {
		t.Fatalf("Time error: %v", err)
	}
	if !got.(time.Time).Equal(time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("zoned timestamp = %v", got)
	}
}

func TestTimeEpochSeconds(t *testing.T) {
	coerce := Time(nil)
	got, err := coerce(float64(1767225600))
	if err != nil {
		t.Fatalf("Time error: %v", err)
	}
	if !got.(time.Time).Equal(time.Unix(1767225600, 0)) {
		t.Errorf("epoch = %v", got)
	}
}

func TestTimeMalformed(t *testing.T) {
	coerce := Time(nil)
	if _, err := coerce("next tuesday"); err == nil {
		t.Error("unparseable datetime succeeded")
	}
	if got, err := coerce("  "); err != nil || got != nil {
		t.Errorf("blank datetime = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestTruncatePreservesRunes(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("hello world", 5); got != "hello" {
		t.Errorf("truncate = %q", got)
	}
	// Never split a multibyte rune.
	got := truncate("ééééé", 5)
	if got != "éé" {
		t.Errorf("truncate multibyte = %q", got)
	}
}
