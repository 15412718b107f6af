// Package currency keeps the selected display currency, the exchange-rate
// table and price formatting. Every conversion goes through the base currency.
package currency

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	sferrors "github.com/pilab-dev/storefront/errors"
)

// Code is an ISO 4217 currency code.
type Code string

// Supported currencies.
const (
	TZS Code = "TZS"
	USD Code = "USD"
	KES Code = "KES"
	UGX Code = "UGX"
	EUR Code = "EUR"
	JPY Code = "JPY"
	KRW Code = "KRW"
	CNY Code = "CNY"
)

// Base is the currency every rate is expressed against.
const Base = TZS

// Rates maps a currency to the amount of it worth one unit of Base.
type Rates map[Code]float64

// Info describes a supported currency.
type Info struct {
	Code   Code   `json:"code" yaml:"code"`
	Name   string `json:"name" yaml:"name"`
	Symbol string `json:"symbol" yaml:"symbol"`
}

var supported = []Info{
	{Code: TZS, Name: "Tanzanian Shilling", Symbol: "TSh"},
	{Code: USD, Name: "US Dollar", Symbol: "$"},
	{Code: KES, Name: "Kenyan Shilling", Symbol: "KSh"},
	{Code: UGX, Name: "Ugandan Shilling", Symbol: "USh"},
	{Code: EUR, Name: "Euro", Symbol: "€"},
	{Code: JPY, Name: "Japanese Yen", Symbol: "¥"},
	{Code: KRW, Name: "South Korean Won", Symbol: "₩"},
	{Code: CNY, Name: "Chinese Yuan", Symbol: "CN¥"},
}

// DefaultRates is the static rate table, relative to TZS.
var DefaultRates = Rates{
	TZS: 1,
	USD: 0.00040,
	KES: 0.052,
	UGX: 1.48,
	EUR: 0.00037,
	JPY: 0.060,
	KRW: 0.54,
	CNY: 0.0029,
}

// Supported lists the supported currencies in display order.
func Supported() []Info {
	return slices.Clone(supported)
}

// Lookup returns the description of code.
func Lookup(code Code) (Info, bool) {
	for _, info := range supported {
		if info.Code == code {
			return info, true
		}
	}
	return Info{}, false
}

// ParseCode normalizes and validates a currency code.
func ParseCode(s string) (Code, error) {
	code := Code(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := Lookup(code); !ok {
		return "", fmt.Errorf("%w: %q", sferrors.ErrUnsupportedCurrency, s)
	}
	return code, nil
}

// RateSource supplies the rate table. It is the seam for a live rates API.
type RateSource interface {
	Rates(ctx context.Context) (Rates, error)
}

// StaticRates serves DefaultRates.
type StaticRates struct{}

// Rates implements RateSource.
func (StaticRates) Rates(context.Context) (Rates, error) {
	return maps.Clone(DefaultRates), nil
}

// validate checks that rates covers every supported currency with a positive
// rate and that the base is 1.
func (r Rates) validate() error {
	for _, info := range supported {
		rate, ok := r[info.Code]
		if !ok || rate <= 0 {
			return fmt.Errorf("missing or non-positive rate for %s", info.Code)
		}
	}
	if r[Base] != 1 {
		return fmt.Errorf("rate of base currency %s must be 1, got %v", Base, r[Base])
	}
	return nil
}

// convert converts amount via the base currency.
func (r Rates) convert(amount float64, from, to Code) (float64, error) {
	fromRate, ok := r[from]
	if !ok {
		return 0, fmt.Errorf("%w: %q", sferrors.ErrUnsupportedCurrency, from)
	}
	toRate, ok := r[to]
	if !ok {
		return 0, fmt.Errorf("%w: %q", sferrors.ErrUnsupportedCurrency, to)
	}
	inBase := amount / fromRate
	return inBase * toRate, nil
}
