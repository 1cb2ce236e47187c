// Package vat maps value-added-tax categories to country-specific
// rates. Rates are stored normalized in [0,1]; a rate of 0.19 means
// 19 percent.
package vat

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Category is the tax bracket an article belongs to. The concrete
// rate depends on the country the shop currently sells into.
type Category string

const (
	CategoryStandard     Category = "standard"
	CategoryReduced      Category = "reduced"
	CategorySuperReduced Category = "super_reduced"
	CategoryZero         Category = "zero"
)

// Valid reports whether the category is one of the known brackets.
func (c Category) Valid() bool {
	switch c {
	case CategoryStandard, CategoryReduced, CategorySuperReduced, CategoryZero:
		return true
	}
	return false
}

// RateTable maps lowercase ISO 3166-1 alpha-2 country codes to the
// rates of each category.
type RateTable map[string]map[Category]decimal.Decimal

// DefaultRates covers the countries the shop ships to out of the box.
// Deployments extend or replace the table via Service configuration.
var DefaultRates = RateTable{
	"de": {
		CategoryStandard: decimal.NewFromFloat(0.19),
		CategoryReduced:  decimal.NewFromFloat(0.07),
		CategoryZero:     decimal.Zero,
	},
	"at": {
		CategoryStandard: decimal.NewFromFloat(0.20),
		CategoryReduced:  decimal.NewFromFloat(0.10),
		CategoryZero:     decimal.Zero,
	},
	"ch": {
		CategoryStandard: decimal.NewFromFloat(0.081),
		CategoryReduced:  decimal.NewFromFloat(0.026),
		CategoryZero:     decimal.Zero,
	},
	"fr": {
		CategoryStandard:     decimal.NewFromFloat(0.20),
		CategoryReduced:      decimal.NewFromFloat(0.055),
		CategorySuperReduced: decimal.NewFromFloat(0.021),
		CategoryZero:         decimal.Zero,
	},
}

// Service resolves VAT rates for a country and category.
type Service struct {
	rates RateTable
}

// NewService builds a service over the given table, falling back to
// DefaultRates when rates is nil.
func NewService(rates RateTable) *Service {
	if rates == nil {
		rates = DefaultRates
	}
	return &Service{rates: rates}
}

// Rate returns the normalized VAT rate for the country and category.
// Unknown countries and categories resolve to zero so price
// computation degrades to gross-equals-net instead of failing.
func (s *Service) Rate(country string, category Category) decimal.Decimal {
	byCategory, ok := s.rates[strings.ToLower(strings.TrimSpace(country))]
	if !ok {
		return decimal.Zero
	}
	rate, ok := byCategory[category]
	if !ok {
		return decimal.Zero
	}
	return rate
}

// Percentage returns the rate scaled to percent, for display.
func (s *Service) Percentage(country string, category Category) decimal.Decimal {
	return s.Rate(country, category).Mul(decimal.NewFromInt(100))
}
