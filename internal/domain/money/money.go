// Package money holds the cents arithmetic shared by the payroll engine and
// its collaborators. Every amount is an int64 of minor currency units; rates
// are exact decimals. Fractions of a cent are rounded half-up where they arise.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var half = decimal.New(5, -1)

// MulRate returns amount*rate rounded half-up to the nearest cent.
func MulRate(amount int64, rate decimal.Decimal) int64 {
	return HalfUp(decimal.NewFromInt(amount).Mul(rate))
}

// HalfUp rounds d to an integer, with .5 going toward positive infinity.
func HalfUp(d decimal.Decimal) int64 {
	return d.Add(half).Floor().IntPart()
}

// DivRound returns amount/divisor rounded half-up. divisor must be positive.
func DivRound(amount, divisor int64) int64 {
	q, r := amount/divisor, amount%divisor
	if r < 0 {
		q--
		r += divisor
	}
	if 2*r >= divisor {
		q++
	}
	return q
}

func Max0(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Format renders cents as a plain two-decimal string, e.g. 123456 -> "1234.56".
func Format(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseRate parses a rate written as a decimal fraction ("0.18").
func ParseRate(raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid rate %q: %w", raw, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("rate %s outside [0,1]", rate)
	}
	return rate, nil
}
