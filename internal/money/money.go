// Package money implements the fixed-point currency arithmetic the session
// and cost ledger needs: six fractional digits, rounding toward positive
// infinity at record time (spec §4.7). No decimal library is used here; see
// DESIGN.md for why.
package money

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// scale is 10^6: one Micros unit is one millionth of a currency unit.
const scale = 1_000_000

// Micros is a fixed-point currency amount with six fractional digits,
// stored as an integer count of millionths. Zero value is zero currency.
type Micros int64

// FromFloat converts a float64 (as commonly returned by price-per-million
// token calculations) to Micros, rounding toward positive infinity.
func FromFloat(f float64) Micros {
	return Micros(math.Ceil(f * scale))
}

// PerMillionTokens computes cost = tokens * pricePerMillion / 1_000_000,
// rounded toward positive infinity, and returns it as Micros. pricePerMillion
// is itself a Micros value (currency per million tokens).
func PerMillionTokens(tokens int64, pricePerMillion Micros) Micros {
	if tokens <= 0 || pricePerMillion <= 0 {
		return 0
	}
	num := int64(pricePerMillion) * tokens
	den := int64(1_000_000)
	q := num / den
	if num%den != 0 {
		q++ // round toward positive infinity
	}
	return Micros(q)
}

// Add returns m+n, saturating is not attempted (costs never overflow int64
// at any realistic scale: max ~9.2e12 currency units).
func (m Micros) Add(n Micros) Micros { return m + n }

// Cmp returns -1, 0, or 1 comparing m to n.
func (m Micros) Cmp(n Micros) int {
	switch {
	case m < n:
		return -1
	case m > n:
		return 1
	default:
		return 0
	}
}

// String renders the amount with exactly six fractional digits, e.g. "1.000000".
func (m Micros) String() string {
	neg := m < 0
	v := int64(m)
	if neg {
		v = -v
	}
	whole := v / scale
	frac := v % scale
	s := fmt.Sprintf("%d.%06d", whole, frac)
	if neg {
		s = "-" + s
	}
	return s
}

// ParseMicros parses a decimal string like "1.000000" or "12" into Micros.
// Extra fractional digits beyond six are truncated (not rounded), matching
// the precision the type can represent.
func ParseMicros(s string) (Micros, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("money: empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	parts := strings.SplitN(s, ".", 2)
	whole, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	var frac int64
	if len(parts) == 2 {
		fs := parts[1]
		if len(fs) > 6 {
			fs = fs[:6]
		}
		for len(fs) < 6 {
			fs += "0"
		}
		frac, err = strconv.ParseInt(fs, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("money: invalid fraction %q: %w", s, err)
		}
	}
	v := whole*scale + frac
	if neg {
		v = -v
	}
	return Micros(v), nil
}
