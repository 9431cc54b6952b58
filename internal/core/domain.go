package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	Payment TxType = "PAYMENT"
	Loan    TxType = "LOAN"
)

type (
	// TxType is the kind of ledger entry. A PAYMENT reduces the friend's
	// balance, a LOAN increases it. The string values are part of the backup
	// document contract.
	TxType string

	// Friend is a counterparty with a running balance. Balance always equals
	// the signed sum of the friend's committed transactions (+amount for LOAN,
	// -amount for PAYMENT); it is maintained inductively by the ledger service
	// and never recomputed from scratch.
	Friend struct {
		ID       int64
		Name     string
		Balance  decimal.Decimal
		// LastPaymentAt is epoch milliseconds of the most recent PAYMENT,
		// nil until the first one. LOAN entries leave it untouched.
		LastPaymentAt *int64
		Archived      bool
	}

	// Transaction is a single dated ledger entry. Amount is strictly positive;
	// the sign is implied by Type. Timestamp is epoch milliseconds, set at
	// creation and immutable.
	Transaction struct {
		ID        int64
		FriendID  int64
		Amount    decimal.Decimal
		Type      TxType
		Timestamp int64
		Notes     string
		ClaimedBy string
	}
)

var (
	ErrEmptyName     = errors.New("empty friend name")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidType   = errors.New("invalid transaction type")
)

// Valid reports whether t is one of the two known transaction types.
func (t TxType) Valid() bool {
	return t == Payment || t == Loan
}

// Delta returns the signed balance contribution of a transaction of this type
// with the given amount.
func (t TxType) Delta(amount decimal.Decimal) decimal.Decimal {
	if t == Payment {
		return amount.Neg()
	}
	return amount
}

func (f Friend) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

func (tx Transaction) Validate() error {
	if !tx.Type.Valid() {
		return ErrInvalidType
	}
	if !tx.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// PaidOn reports whether the friend's last payment falls on or after the
// given start-of-day boundary (epoch milliseconds).
func (f Friend) PaidOn(startOfDay int64) bool {
	return f.LastPaymentAt != nil && *f.LastPaymentAt >= startOfDay
}
