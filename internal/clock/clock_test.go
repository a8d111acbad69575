package clock

import (
	"testing"
	"time"
)

func TestReal_ReturnsUTC(t *testing.T) {
	now := Real{}.Now()
	if now.Location() != time.UTC {
		t.Fatalf("Real.Now() location = %v, want UTC", now.Location())
	}
}

func TestFixed_AlwaysReturnsSameInstant(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := Fixed{At: at}
	if !f.Now().Equal(at) {
		t.Fatalf("Fixed.Now() = %v, want %v", f.Now(), at)
	}
	if !f.Now().Equal(at) {
		t.Fatal("Fixed.Now() should be stable across calls")
	}
}

func TestManual_AdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)
	if !m.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", m.Now(), start)
	}
	m.Advance(time.Hour)
	if want := start.Add(time.Hour); !m.Now().Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", m.Now(), want)
	}
	other := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	m.Set(other)
	if !m.Now().Equal(other) {
		t.Fatalf("Now() after Set = %v, want %v", m.Now(), other)
	}
}
