package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency identifies one of the two wallet currencies.
type Currency string

const (
	CAD Currency = "CAD"
	NGN Currency = "NGN"
)

// Scale is the number of fractional digits kept for both currencies.
const Scale = 2

var (
	// ErrUnsupportedCurrency is returned for any code other than CAD or NGN.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrInvalidAmount is returned for non-positive, over-precise or oversized amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountOverflow is returned when an amount has no int64 minor-unit form.
	ErrAmountOverflow = errors.New("amount overflows minor units")
)

// SmallestUnit is one cent (or one kobo).
var SmallestUnit = decimal.New(1, -Scale)

// MaxAmount bounds a single amount at one trillion units. It fits NUMERIC(20, 2)
// and stays far below the int64 minor-unit range card processors take.
var MaxAmount = decimal.New(1, 12)

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// Currencies lists the supported currencies in display order.
func Currencies() []Currency {
	return []Currency{CAD, NGN}
}

// ParseCurrency accepts a case-insensitive currency code.
func ParseCurrency(code string) (Currency, error) {
	switch Currency(strings.ToUpper(strings.TrimSpace(code))) {
	case CAD:
		return CAD, nil
	case NGN:
		return NGN, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
}

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	return c == CAD || c == NGN
}

func (c Currency) String() string { return string(c) }

// ValidateAmount requires a strictly positive amount no larger than MaxAmount
// with at most Scale fractional digits.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: must not exceed %s", ErrInvalidAmount, MaxAmount.String())
	}
	if !amount.Equal(amount.Round(Scale)) {
		return fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, Scale)
	}
	return nil
}

// MinorUnits converts an amount to integer cents. Fractions of a cent and
// values outside the int64 range are errors rather than truncated.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Shift(Scale)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %s has sub-cent precision", ErrInvalidAmount, amount.String())
	}
	if minor.Abs().GreaterThan(maxMinorUnits) {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, amount.String())
	}
	return minor.IntPart(), nil
}

// ParseAmount parses a decimal string and validates it.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}
