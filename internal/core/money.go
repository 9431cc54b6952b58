// Package core holds the domain model of the ledger: friends, transactions,
// money parsing, calendar windows and the pure aggregation over all of them.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

func init() {
	// The backup document contract (and the original data files) carry
	// amounts as bare JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// ParseAmount converts a user-entered decimal string to an exact amount.
// It accepts both dot (12.34) and comma (12,34) separators and rejects
// anything that is not strictly positive.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}
