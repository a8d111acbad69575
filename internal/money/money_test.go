package money

import "testing"

func TestFromFloat_RoundsUpToNearestMicro(t *testing.T) {
	got := FromFloat(1.0000001)
	if got != 1_000001 {
		t.Fatalf("FromFloat(1.0000001) = %d, want 1000001", got)
	}
}

func TestFromFloat_ExactValueRoundTrips(t *testing.T) {
	got := FromFloat(3.0)
	if got != 3_000000 {
		t.Fatalf("FromFloat(3.0) = %d, want 3000000", got)
	}
}

func TestPerMillionTokens_RoundsTowardPositiveInfinity(t *testing.T) {
	// 1 token at 3_000_000 micros/million = 3 micros exactly.
	if got := PerMillionTokens(1, 3_000_000); got != 3 {
		t.Fatalf("PerMillionTokens(1, 3_000_000) = %d, want 3", got)
	}
	// 1 token at 1_000_000 micros/million = 1 micro exactly, no rounding needed.
	if got := PerMillionTokens(1, 1_000_000); got != 1 {
		t.Fatalf("PerMillionTokens(1, 1_000_000) = %d, want 1", got)
	}
	// 1 token at 1_500_000 micros/million = 1.5, rounds up to 2.
	if got := PerMillionTokens(1, 1_500_000); got != 2 {
		t.Fatalf("PerMillionTokens(1, 1_500_000) = %d, want 2", got)
	}
}

func TestPerMillionTokens_NonPositiveInputsAreZero(t *testing.T) {
	if got := PerMillionTokens(0, 1_000_000); got != 0 {
		t.Fatalf("PerMillionTokens(0, ...) = %d, want 0", got)
	}
	if got := PerMillionTokens(100, 0); got != 0 {
		t.Fatalf("PerMillionTokens(..., 0) = %d, want 0", got)
	}
}

func TestCmp(t *testing.T) {
	if Micros(1).Cmp(Micros(2)) != -1 {
		t.Fatal("1.Cmp(2) should be -1")
	}
	if Micros(2).Cmp(Micros(1)) != 1 {
		t.Fatal("2.Cmp(1) should be 1")
	}
	if Micros(1).Cmp(Micros(1)) != 0 {
		t.Fatal("1.Cmp(1) should be 0")
	}
}

func TestString(t *testing.T) {
	if got := Micros(1_500_000).String(); got != "1.500000" {
		t.Fatalf("String() = %q, want 1.500000", got)
	}
	if got := Micros(-2_000_000).String(); got != "-2.000000" {
		t.Fatalf("String() = %q, want -2.000000", got)
	}
}

func TestParseMicros(t *testing.T) {
	cases := map[string]Micros{
		"1.000000": 1_000_000,
		"1":        1_000_000,
		"0.5":      500_000,
		"-2.25":    -2_250_000,
		"1.1234567": 1_123_456, // extra digits truncated, not rounded
	}
	for in, want := range cases {
		got, err := ParseMicros(in)
		if err != nil {
			t.Fatalf("ParseMicros(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseMicros(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseMicros_RejectsEmptyAndMalformed(t *testing.T) {
	if _, err := ParseMicros(""); err == nil {
		t.Fatal("expected error for empty string")
	}
	if _, err := ParseMicros("abc"); err == nil {
		t.Fatal("expected error for non-numeric string")
	}
}
