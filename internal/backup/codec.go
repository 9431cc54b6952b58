// Package backup encodes the full ledger as a portable JSON document and
// restores it. The field names in the document are a compatibility contract
// with previously exported backups and must not change.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/storage"
)

// ErrBadDocument rejects a backup before any destructive step is taken.
var ErrBadDocument = errors.New("backup: invalid document")

// PartialImportError reports an import that failed after the existing data
// was already cleared. The store is left with whatever was restored so far;
// the only recovery is to fix the document and import again.
type PartialImportError struct {
	FriendsRestored      int
	TransactionsRestored int
	Err                  error
}

func (e *PartialImportError) Error() string {
	return fmt.Sprintf("backup: import failed after clearing store (%d friends, %d transactions restored): %v",
		e.FriendsRestored, e.TransactionsRestored, e.Err)
}

func (e *PartialImportError) Unwrap() error { return e.Err }

type friendRecord struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	TotalBalance    decimal.Decimal `json:"totalBalance"`
	LastPaymentDate *int64          `json:"lastPaymentDate"`
	IsArchived      bool            `json:"isArchived"`
}

type transactionRecord struct {
	ID        int64           `json:"id"`
	FriendID  int64           `json:"friendId"`
	Amount    decimal.Decimal `json:"amount"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Notes     string          `json:"notes"`
	ClaimedBy string          `json:"claimedBy"`
}

// Document is the on-disk backup format.
type Document struct {
	Friends         []friendRecord      `json:"friends"`
	Transactions    []transactionRecord `json:"transactions"`
	BackupTimestamp int64               `json:"backupTimestamp"`
}

// Export reads one consistent snapshot of the store and builds a document
// stamped with now.
func Export(ctx context.Context, store storage.Reader, now time.Time) (*Document, error) {
	friends, txs, err := store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}

	doc := &Document{
		Friends:         make([]friendRecord, 0, len(friends)),
		Transactions:    make([]transactionRecord, 0, len(txs)),
		BackupTimestamp: core.Millis(now),
	}
	for _, f := range friends {
		doc.Friends = append(doc.Friends, friendRecord{
			ID:              f.ID,
			Name:            f.Name,
			TotalBalance:    f.Balance,
			LastPaymentDate: f.LastPaymentAt,
			IsArchived:      f.Archived,
		})
	}
	for _, t := range txs {
		doc.Transactions = append(doc.Transactions, transactionRecord{
			ID:        t.ID,
			FriendID:  t.FriendID,
			Amount:    t.Amount,
			Type:      string(t.Type),
			Timestamp: t.Timestamp,
			Notes:     t.Notes,
			ClaimedBy: t.ClaimedBy,
		})
	}
	return doc, nil
}

// Encode renders the document as indented JSON.
func Encode(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Decode parses and fully validates a backup document. Every record is
// checked before Import touches the store, so a malformed backup can never
// clear existing data.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
	}
	if err := validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func validate(doc *Document) error {
	ids := make(map[int64]struct{}, len(doc.Friends))
	for i, f := range doc.Friends {
		if f.Name == "" {
			return fmt.Errorf("%w: friend %d has an empty name", ErrBadDocument, i)
		}
		if _, dup := ids[f.ID]; dup {
			return fmt.Errorf("%w: duplicate friend id %d", ErrBadDocument, f.ID)
		}
		ids[f.ID] = struct{}{}
	}
	for i, t := range doc.Transactions {
		if !t.Amount.IsPositive() {
			return fmt.Errorf("%w: transaction %d has non-positive amount %s", ErrBadDocument, i, t.Amount)
		}
		if !core.TxType(t.Type).Valid() {
			return fmt.Errorf("%w: transaction %d has unknown type %q", ErrBadDocument, i, t.Type)
		}
		if _, ok := ids[t.FriendID]; !ok {
			return fmt.Errorf("%w: transaction %d references unknown friend %d", ErrBadDocument, i, t.FriendID)
		}
	}
	return nil
}

// Import replaces the entire store contents with the document. Friends and
// transactions get fresh IDs; transaction friendId values are remapped from
// the document's ids to the newly assigned ones.
//
// The clear is not transactional with the inserts. If an insert fails the
// store is left partially restored and the error is a *PartialImportError.
func Import(ctx context.Context, store storage.Store, doc *Document) error {
	if err := validate(doc); err != nil {
		return err
	}
	if err := store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}

	restored := &PartialImportError{}
	idMap := make(map[int64]int64, len(doc.Friends))
	for _, rec := range doc.Friends {
		f := core.Friend{
			Name:          rec.Name,
			Balance:       rec.TotalBalance,
			LastPaymentAt: rec.LastPaymentDate,
			Archived:      rec.IsArchived,
		}
		if err := store.SaveFriend(ctx, &f); err != nil {
			restored.Err = fmt.Errorf("restore friend %q: %w", rec.Name, err)
			return restored
		}
		idMap[rec.ID] = f.ID
		restored.FriendsRestored++
	}
	for _, rec := range doc.Transactions {
		txn := core.Transaction{
			FriendID:  idMap[rec.FriendID],
			Amount:    rec.Amount,
			Type:      core.TxType(rec.Type),
			Timestamp: rec.Timestamp,
			Notes:     rec.Notes,
			ClaimedBy: rec.ClaimedBy,
		}
		if err := store.SaveTransaction(ctx, &txn); err != nil {
			restored.Err = fmt.Errorf("restore transaction for friend %d: %w", rec.FriendID, err)
			return restored
		}
		restored.TransactionsRestored++
	}
	return nil
}
