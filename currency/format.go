package currency

import (
	"fmt"
	"math"

	xcurrency "golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	sferrors "github.com/pilab-dev/storefront/errors"
)

// FormatOptions control FormatPrice.
type FormatOptions struct {
	// Currency to display. Defaults to the selected currency.
	Currency Code
	// From, when set, converts the amount from this currency first.
	From Code
	// Decimals overrides the ISO 4217 minor units when non-nil.
	Decimals *int
	// HideSymbol prints only the number.
	HideSymbol bool
}

var printer = message.NewPrinter(language.English)

// minorUnits returns the ISO 4217 number of decimals of code.
func minorUnits(code Code) int {
	unit, err := xcurrency.ParseISO(string(code))
	if err != nil {
		return 2
	}
	scale, _ := xcurrency.Standard.Rounding(unit)
	return scale
}

// formatAmount renders amount in code with grouping and the currency symbol.
func formatAmount(amount float64, code Code, decimals *int, hideSymbol bool) (string, error) {
	info, ok := Lookup(code)
	if !ok {
		return "", fmt.Errorf("%w: %q", sferrors.ErrUnsupportedCurrency, code)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "", fmt.Errorf("cannot format non-finite amount %v", amount)
	}

	scale := minorUnits(code)
	if decimals != nil && *decimals >= 0 {
		scale = *decimals
	}

	num := printer.Sprint(number.Decimal(amount, number.Scale(scale)))
	if hideSymbol {
		return num, nil
	}
	if len([]rune(info.Symbol)) > 1 {
		return info.Symbol + " " + num, nil
	}
	return info.Symbol + num, nil
}
