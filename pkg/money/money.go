// Package money holds the fixed-point helpers shared by the loan ledger.
// Amounts carry 2 fractional digits and annual rates 4, both rounded half-even.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	amountPlaces = 2
	ratePlaces   = 4
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidRate   = errors.New("invalid interest rate")
)

var (
	// CheckpointTolerance is one cent. A checkpoint passes when its absolute value is strictly below it.
	CheckpointTolerance = decimal.New(1, -amountPlaces)

	monthsInYear = decimal.NewFromInt(12)
	daysInYear   = decimal.NewFromInt(365)
	maxRate      = decimal.NewFromInt(1)
)

// Round finalizes a monetary amount.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(amountPlaces)
}

// RoundRate finalizes an annual interest rate stored as a fraction.
func RoundRate(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(ratePlaces)
}

// MonthlyInterest returns principal*rate/12 without rounding so callers can
// compose several contributions before finalizing.
func MonthlyInterest(principal, annualRate decimal.Decimal) decimal.Decimal {
	return principal.Mul(annualRate).Div(monthsInYear)
}

// DailyInterest returns the actual/365 accrual for the given number of days, unrounded.
func DailyInterest(principal, annualRate decimal.Decimal, days int) decimal.Decimal {
	if days <= 0 {
		return decimal.Zero
	}
	return principal.Mul(annualRate).Mul(decimal.NewFromInt(int64(days))).Div(daysInYear)
}

// ParseAmount parses a user supplied amount. More than two fractional digits is rejected
// rather than silently rounded.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !d.Equal(d.Truncate(amountPlaces)) {
		return decimal.Zero, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, amountPlaces)
	}
	return d, nil
}

// ParseRate parses an annual rate expressed as a fraction in [0, 1].
func ParseRate(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}
	if err := ValidateRate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateRate checks the range and precision of an annual rate.
func ValidateRate(d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(maxRate) {
		return fmt.Errorf("%w: %s outside [0, 1]", ErrInvalidRate, d)
	}
	if !d.Equal(d.Truncate(ratePlaces)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidRate, d, ratePlaces)
	}
	return nil
}

// ValidateAmount rejects negative amounts and sub-cent precision.
func ValidateAmount(d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, d)
	}
	if !d.Equal(d.Truncate(amountPlaces)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, d, amountPlaces)
	}
	return nil
}

// Sum adds the amounts; an empty list sums to zero.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
