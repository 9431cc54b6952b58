// Package services orchestrates ledger mutations. LedgerService is the only
// writer of friend balances; everything else in the system derives its state
// from what this package commits.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/storage"
)

// EventPublisher forwards committed ledger changes to interested processes
// (the backup worker). Publishing is best effort: the local commit already
// happened, so failures are logged and never surfaced to the caller.
type EventPublisher interface {
	PublishLedgerChange(ctx context.Context, entity, op string, id int64) error
}

// LedgerService owns the balance invariant: a friend's balance always equals
// the signed sum of their committed transactions. RecordTransaction is the
// one operation that touches both tables, and it does so in a single atomic
// unit against the store.
type LedgerService struct {
	store  storage.Store
	events EventPublisher
	now    func() time.Time
}

// NewLedgerService creates a service on the given store. events may be nil
// when no AMQP bridge is configured.
func NewLedgerService(store storage.Store, events EventPublisher) *LedgerService {
	return &LedgerService{store: store, events: events, now: time.Now}
}

// RecordTransaction appends a ledger entry and applies its delta to the
// owning friend's balance, atomically. A PAYMENT also stamps the friend's
// last-payment date; a LOAN leaves it unchanged.
func (s *LedgerService) RecordTransaction(ctx context.Context, friendID int64, amount decimal.Decimal, typ core.TxType, notes, claimedBy string) (core.Transaction, error) {
	txn := core.Transaction{
		FriendID:  friendID,
		Amount:    amount,
		Type:      typ,
		Notes:     notes,
		ClaimedBy: claimedBy,
	}
	if err := txn.Validate(); err != nil {
		return core.Transaction{}, err
	}

	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		friend, err := tx.Friend(ctx, friendID)
		if err != nil {
			return fmt.Errorf("load friend %d: %w", friendID, err)
		}

		nowMs := core.Millis(s.now())
		txn.Timestamp = nowMs
		if err := tx.SaveTransaction(ctx, &txn); err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}

		friend.Balance = friend.Balance.Add(typ.Delta(amount))
		if typ == core.Payment {
			friend.LastPaymentAt = &nowMs
		}
		if err := tx.SaveFriend(ctx, &friend); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction recorded",
		"transaction_id", txn.ID,
		"friend_id", friendID,
		"type", string(typ),
		"amount", amount.String())

	s.publish(ctx, storage.EntityTransaction, storage.OpUpsert, txn.ID)
	return txn, nil
}

// AddFriend creates a counterparty with a zero balance.
func (s *LedgerService) AddFriend(ctx context.Context, name string) (core.Friend, error) {
	friend := core.Friend{Name: strings.TrimSpace(name), Balance: decimal.Zero}
	if err := friend.Validate(); err != nil {
		return core.Friend{}, err
	}
	if err := s.store.SaveFriend(ctx, &friend); err != nil {
		return core.Friend{}, fmt.Errorf("save friend: %w", err)
	}

	slog.InfoContext(ctx, "Friend added", "friend_id", friend.ID, "name", friend.Name)
	s.publish(ctx, storage.EntityFriend, storage.OpUpsert, friend.ID)
	return friend, nil
}

// UpdateFriend edits name and archived flag. Balance and last-payment date
// belong to RecordTransaction and are preserved here.
func (s *LedgerService) UpdateFriend(ctx context.Context, id int64, name string, archived bool) (core.Friend, error) {
	var updated core.Friend
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		friend, err := tx.Friend(ctx, id)
		if err != nil {
			return err
		}
		friend.Name = strings.TrimSpace(name)
		friend.Archived = archived
		if err := friend.Validate(); err != nil {
			return err
		}
		if err := tx.SaveFriend(ctx, &friend); err != nil {
			return fmt.Errorf("save friend: %w", err)
		}
		updated = friend
		return nil
	})
	if err != nil {
		return core.Friend{}, err
	}

	s.publish(ctx, storage.EntityFriend, storage.OpUpsert, id)
	return updated, nil
}

// DeleteFriend removes a friend and all their transactions.
func (s *LedgerService) DeleteFriend(ctx context.Context, id int64) error {
	if err := s.store.DeleteFriend(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Friend deleted", "friend_id", id)
	s.publish(ctx, storage.EntityFriend, storage.OpDelete, id)
	return nil
}

// DeleteTransaction removes one ledger entry. It deliberately does NOT
// reverse the entry's effect on the owner's balance: deletion is a manual
// correction tool and the balance is fixed by recording a compensating
// entry, matching the asymmetry of the original system.
func (s *LedgerService) DeleteTransaction(ctx context.Context, id int64) error {
	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Transaction deleted", "transaction_id", id)
	s.publish(ctx, storage.EntityTransaction, storage.OpDelete, id)
	return nil
}

// ResetAll irreversibly clears the whole roster and ledger.
func (s *LedgerService) ResetAll(ctx context.Context) error {
	if err := s.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("delete all: %w", err)
	}
	slog.WarnContext(ctx, "All ledger data cleared")
	s.publish(ctx, storage.EntityFriend, storage.OpDelete, 0)
	return nil
}

func (s *LedgerService) publish(ctx context.Context, entity storage.Entity, op storage.Op, id int64) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLedgerChange(ctx, string(entity), string(op), id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger change",
			"entity", string(entity), "op", string(op), "id", id, "error", err)
	}
}
