package cli

import "github.com/deepampatel/foreman/internal/money"

// microsFromUnits converts a whole-currency-unit CLI flag value into Micros,
// returning nil when the flag was left at its zero value so callers can
// distinguish "not set" from "set to zero".
func microsFromUnits(units float64) *money.Micros {
	if units <= 0 {
		return nil
	}
	m := money.FromFloat(units)
	return &m
}
