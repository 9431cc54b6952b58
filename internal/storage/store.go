// Package storage defines the ledger store contract and its SQLite and
// in-memory implementations. The store is the sole arbiter of atomicity:
// everything written inside one InTx unit becomes visible together or not
// at all, and change notifications are only emitted after a commit.
package storage

import (
	"context"
	"errors"

	"tally/internal/core"
)

const (
	EntityFriend      Entity = "friend"
	EntityTransaction Entity = "transaction"

	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

var ErrNotFound = errors.New("not found")

type (
	// Entity names the kind of record a change touched.
	Entity string

	// Op names the kind of write.
	Op string

	// Change describes one committed write. Subscribers recompute their
	// derived state from the store on every change; the payload is
	// deliberately small (kind + key, not row data).
	Change struct {
		Entity Entity
		Op     Op
		ID     int64
	}
)

// Writer holds the mutating operations. They are available both directly on
// a Store (each call is its own atomic unit) and on the handle passed to
// InTx (all calls commit together).
type Writer interface {
	// SaveFriend inserts f when f.ID == 0, assigning the new ID into f,
	// and updates the existing row otherwise (ErrNotFound when absent).
	SaveFriend(ctx context.Context, f *core.Friend) error

	// DeleteFriend removes a friend and, by cascade, every transaction
	// owned by them.
	DeleteFriend(ctx context.Context, id int64) error

	// SaveTransaction inserts tx when tx.ID == 0, assigning the new ID
	// into tx. The owning friend must exist.
	SaveTransaction(ctx context.Context, tx *core.Transaction) error

	DeleteTransaction(ctx context.Context, id int64) error

	// DeleteAll removes every transaction and every friend.
	DeleteAll(ctx context.Context) error
}

// Reader holds the query operations.
type Reader interface {
	// Friends returns the roster ordered by name; archived friends are
	// included only when includeArchived is set.
	Friends(ctx context.Context, includeArchived bool) ([]core.Friend, error)

	// Friend returns one friend by ID, or ErrNotFound.
	Friend(ctx context.Context, id int64) (core.Friend, error)

	// Transactions returns the full ledger, most recent first.
	Transactions(ctx context.Context) ([]core.Transaction, error)

	TransactionsByFriend(ctx context.Context, friendID int64) ([]core.Transaction, error)

	TransactionsByType(ctx context.Context, typ core.TxType) ([]core.Transaction, error)

	// Snapshot returns every friend (archived included) and every
	// transaction from one consistent read, so a roster and a ledger from
	// different instants can never be paired up.
	Snapshot(ctx context.Context) ([]core.Friend, []core.Transaction, error)
}

// Tx is the write handle passed to an InTx unit of work.
type Tx interface {
	Reader
	Writer
}

// Store is the durable ledger collection. Implementations must serialize
// conflicting writes and guarantee the all-or-nothing contract of InTx.
type Store interface {
	Reader
	Writer

	// InTx runs fn inside one atomic unit. If fn returns an error the
	// whole unit is rolled back, no change notifications are emitted, and
	// the error is returned unchanged.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Subscribe registers a change listener. The returned cancel func
	// detaches it and closes the channel. Slow consumers may miss
	// intermediate changes; they always receive a change after the most
	// recent commit, which is all a full-recompute consumer needs.
	Subscribe(buffer int) (<-chan Change, func())

	Close() error
}
