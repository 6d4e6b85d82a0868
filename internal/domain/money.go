package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a wallet is provisioned without one.
const DefaultCurrency = "NGN"

// maxIntegerDigits matches the NUMERIC(20,2) ledger columns.
const maxIntegerDigits = 18

// MaxAmount is the smallest value that no longer fits a ledger column.
var MaxAmount = decimal.New(1, maxIntegerDigits)

var minorUnits = map[string]int32{
	"NGN": 2,
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"KES": 2,
	"GHS": 2,
	"JPY": 0,
}

// MinorUnits returns how many decimal places the currency allows.
// Unknown currencies get two.
func MinorUnits(currency string) int32 {
	if places, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return places
	}
	return 2
}

// ParseDecimal reads a JSON number or a JSON string holding a number.
// Sign and scale are not checked.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.Trim(strings.TrimSpace(raw), `"`)
	if s == "" || s == "null" {
		return decimal.Zero, fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	return amount, nil
}

// ValidateAmount checks an already parsed amount.
func ValidateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	if amount.GreaterThanOrEqual(MaxAmount) {
		return fmt.Errorf("%w: amount must have at most %d integer digits", ErrInvalidAmount, maxIntegerDigits)
	}
	places := MinorUnits(currency)
	if !amount.Equal(amount.Truncate(places)) {
		return fmt.Errorf("%w: at most %d decimal places allowed for %s", ErrInvalidAmount, places, strings.ToUpper(currency))
	}
	return nil
}
