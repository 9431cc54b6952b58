package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFriendValidate(t *testing.T) {
	if err := (Friend{Name: "Alice"}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	for _, name := range []string{"", "   ", "\t"} {
		if err := (Friend{Name: name}).Validate(); err != ErrEmptyName {
			t.Fatalf("name %q: expected ErrEmptyName, got %v", name, err)
		}
	}
}

func TestTransactionValidate(t *testing.T) {
	cases := []struct {
		name string
		tx   Transaction
		want error
	}{
		{"valid payment", Transaction{Amount: decimal.NewFromInt(10), Type: Payment}, nil},
		{"valid loan", Transaction{Amount: decimal.NewFromInt(1), Type: Loan}, nil},
		{"zero amount", Transaction{Amount: decimal.Zero, Type: Payment}, ErrInvalidAmount},
		{"negative amount", Transaction{Amount: decimal.NewFromInt(-5), Type: Loan}, ErrInvalidAmount},
		{"unknown type", Transaction{Amount: decimal.NewFromInt(5), Type: "REFUND"}, ErrInvalidType},
		{"empty type", Transaction{Amount: decimal.NewFromInt(5)}, ErrInvalidType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.tx.Validate(); err != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTxTypeDelta(t *testing.T) {
	amount := decimal.NewFromInt(500)
	if got := Loan.Delta(amount); !got.Equal(amount) {
		t.Fatalf("loan delta = %s, want %s", got, amount)
	}
	if got := Payment.Delta(amount); !got.Equal(amount.Neg()) {
		t.Fatalf("payment delta = %s, want %s", got, amount.Neg())
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"12.34", "12.34", true},
		{"12,34", "12.34", true},
		{" 500 ", "500", true},
		{"0.01", "0.01", true},
		{"0", "", false},
		{"-3", "", false},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil {
				t.Fatalf("ParseAmount(%q): unexpected error %v", tc.in, err)
			}
			if want, _ := decimal.NewFromString(tc.want); !got.Equal(want) {
				t.Fatalf("ParseAmount(%q) = %s, want %s", tc.in, got, want)
			}
			continue
		}
		if err == nil {
			t.Fatalf("ParseAmount(%q): expected error", tc.in)
		}
	}
}
