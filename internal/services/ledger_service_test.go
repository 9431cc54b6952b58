package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/storage"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newService(t *testing.T) (*LedgerService, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	return NewLedgerService(store, nil), store
}

func TestRecordTransactionScenario(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	base := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	alice, err := svc.AddFriend(ctx, "Alice")
	if err != nil {
		t.Fatalf("AddFriend: %v", err)
	}
	if !alice.Balance.IsZero() || alice.LastPaymentAt != nil {
		t.Fatalf("new friend not pristine: %+v", alice)
	}

	if _, err := svc.RecordTransaction(ctx, alice.ID, dec("500"), core.Loan, "", ""); err != nil {
		t.Fatalf("record loan: %v", err)
	}
	f, _ := store.Friend(ctx, alice.ID)
	if !f.Balance.Equal(dec("500")) {
		t.Fatalf("balance after loan = %s, want 500", f.Balance)
	}
	if f.LastPaymentAt != nil {
		t.Fatalf("loan must not touch lastPaymentAt, got %v", *f.LastPaymentAt)
	}

	payAt := base.Add(time.Hour)
	svc.now = func() time.Time { return payAt }
	payment, err := svc.RecordTransaction(ctx, alice.ID, dec("200"), core.Payment, "lunch money", "Vince")
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if payment.Timestamp != core.Millis(payAt) {
		t.Fatalf("payment timestamp = %d, want %d", payment.Timestamp, core.Millis(payAt))
	}

	f, _ = store.Friend(ctx, alice.ID)
	if !f.Balance.Equal(dec("300")) {
		t.Fatalf("balance after payment = %s, want 300", f.Balance)
	}
	if f.LastPaymentAt == nil || *f.LastPaymentAt != payment.Timestamp {
		t.Fatalf("lastPaymentAt = %v, want payment timestamp %d", f.LastPaymentAt, payment.Timestamp)
	}
}

// Balance must equal the signed transaction sum after every single call.
func TestBalanceInvariantOverSequence(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	alice, _ := svc.AddFriend(ctx, "Alice")

	steps := []struct {
		typ    core.TxType
		amount string
	}{
		{core.Loan, "100"},
		{core.Loan, "0.01"},
		{core.Payment, "50.5"},
		{core.Loan, "249.49"},
		{core.Payment, "299"},
		{core.Payment, "0.0001"},
	}
	for i, step := range steps {
		if _, err := svc.RecordTransaction(ctx, alice.ID, dec(step.amount), step.typ, "", ""); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}

		txs, err := store.TransactionsByFriend(ctx, alice.ID)
		if err != nil {
			t.Fatalf("step %d: list: %v", i, err)
		}
		sum := decimal.Zero
		for _, txn := range txs {
			sum = sum.Add(txn.Type.Delta(txn.Amount))
		}
		f, _ := store.Friend(ctx, alice.ID)
		if !f.Balance.Equal(sum) {
			t.Fatalf("step %d: balance %s != signed sum %s", i, f.Balance, sum)
		}
	}
}

func TestRecordTransactionRejectsWithoutWrites(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	alice, _ := svc.AddFriend(ctx, "Alice")

	cases := []struct {
		name     string
		friendID int64
		amount   decimal.Decimal
		typ      core.TxType
		want     error
	}{
		{"zero amount", alice.ID, decimal.Zero, core.Loan, core.ErrInvalidAmount},
		{"negative amount", alice.ID, dec("-10"), core.Payment, core.ErrInvalidAmount},
		{"bad type", alice.ID, dec("10"), core.TxType("GIFT"), core.ErrInvalidType},
		{"unknown friend", 999, dec("10"), core.Loan, storage.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.RecordTransaction(ctx, tc.friendID, tc.amount, tc.typ, "", ""); !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
			txs, _ := store.Transactions(ctx)
			if len(txs) != 0 {
				t.Fatalf("rejected call left transactions behind: %+v", txs)
			}
			f, _ := store.Friend(ctx, alice.ID)
			if !f.Balance.IsZero() {
				t.Fatalf("rejected call mutated balance: %s", f.Balance)
			}
		})
	}
}

func TestAddFriendValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	for _, name := range []string{"", "   "} {
		if _, err := svc.AddFriend(ctx, name); !errors.Is(err, core.ErrEmptyName) {
			t.Fatalf("AddFriend(%q) = %v, want ErrEmptyName", name, err)
		}
	}
}

func TestUpdateFriendPreservesBalance(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	alice, _ := svc.AddFriend(ctx, "Alice")
	if _, err := svc.RecordTransaction(ctx, alice.ID, dec("75"), core.Loan, "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	updated, err := svc.UpdateFriend(ctx, alice.ID, "Alicia", true)
	if err != nil {
		t.Fatalf("UpdateFriend: %v", err)
	}
	if updated.Name != "Alicia" || !updated.Archived {
		t.Fatalf("edit not applied: %+v", updated)
	}
	if !updated.Balance.Equal(dec("75")) {
		t.Fatalf("edit clobbered balance: %s", updated.Balance)
	}

	f, _ := store.Friend(ctx, alice.ID)
	if !f.Balance.Equal(dec("75")) {
		t.Fatalf("stored balance = %s, want 75", f.Balance)
	}
}

// Deleting a transaction is a correction tool: the owner's balance is left
// alone, asymmetric with RecordTransaction on purpose.
func TestDeleteTransactionKeepsBalance(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	alice, _ := svc.AddFriend(ctx, "Alice")
	txn, err := svc.RecordTransaction(ctx, alice.ID, dec("500"), core.Loan, "", "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := svc.DeleteTransaction(ctx, txn.ID); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}

	txs, _ := store.Transactions(ctx)
	if len(txs) != 0 {
		t.Fatalf("transaction still present")
	}
	f, _ := store.Friend(ctx, alice.ID)
	if !f.Balance.Equal(dec("500")) {
		t.Fatalf("delete reversed the balance to %s; it must stay 500", f.Balance)
	}
}

func TestResetAll(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	alice, _ := svc.AddFriend(ctx, "Alice")
	if _, err := svc.RecordTransaction(ctx, alice.ID, dec("5"), core.Loan, "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := svc.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	friends, txs, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(friends) != 0 || len(txs) != 0 {
		t.Fatalf("reset left data: %d friends, %d transactions", len(friends), len(txs))
	}
}

type capturingPublisher struct {
	published []string
}

func (p *capturingPublisher) PublishLedgerChange(ctx context.Context, entity, op string, id int64) error {
	p.published = append(p.published, entity+":"+op)
	return nil
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	defer store.Close()
	pub := &capturingPublisher{}
	svc := NewLedgerService(store, pub)

	alice, _ := svc.AddFriend(ctx, "Alice")
	if _, err := svc.RecordTransaction(ctx, alice.ID, dec("5"), core.Loan, "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	// A rejected call must not publish.
	if _, err := svc.RecordTransaction(ctx, alice.ID, decimal.Zero, core.Loan, "", ""); err == nil {
		t.Fatalf("expected rejection")
	}

	want := []string{"friend:upsert", "transaction:upsert"}
	if len(pub.published) != len(want) {
		t.Fatalf("published = %v, want %v", pub.published, want)
	}
	for i := range want {
		if pub.published[i] != want[i] {
			t.Fatalf("published = %v, want %v", pub.published, want)
		}
	}
}
