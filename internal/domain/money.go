package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a display amount to cents, rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FormatAmount renders amount for the receipt prompt, e.g. "$ 20.00" for en-US/usd.
func FormatAmount(locale, currencyCode string, amount decimal.Decimal) (string, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return "", fmt.Errorf("domain: parse locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(strings.ToUpper(currencyCode))
	if err != nil {
		return "", fmt.Errorf("domain: parse currency %q: %w", currencyCode, err)
	}
	value, _ := amount.Round(2).Float64()
	return message.NewPrinter(tag).Sprint(currency.Symbol(unit.Amount(value))), nil
}
