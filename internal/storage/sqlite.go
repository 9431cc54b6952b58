package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"tally/internal/core"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on a single SQLite file using the pure Go
// driver. Balances and amounts are persisted as canonical decimal strings so
// no precision is lost crossing the storage boundary.
type SQLiteStore struct {
	db     *sql.DB
	notify *notifier
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, notify: newNotifier()}, nil
}

func (s *SQLiteStore) Close() error {
	s.notify.closeAll()
	return s.db.Close()
}

func (s *SQLiteStore) Subscribe(buffer int) (<-chan Change, func()) {
	return s.notify.subscribe(buffer)
}

// InTx runs fn inside one database transaction. Change notifications
// collected during fn are published only after a successful commit.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	unit := &sqliteTx{q: dbTx}
	if err := fn(unit); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.notify.publish(unit.changes)
	return nil
}

// Direct operations delegate to InTx so each standalone call is its own
// atomic, notifying unit.

func (s *SQLiteStore) SaveFriend(ctx context.Context, f *core.Friend) error {
	return s.InTx(ctx, func(tx Tx) error { return tx.SaveFriend(ctx, f) })
}

func (s *SQLiteStore) DeleteFriend(ctx context.Context, id int64) error {
	return s.InTx(ctx, func(tx Tx) error { return tx.DeleteFriend(ctx, id) })
}

func (s *SQLiteStore) SaveTransaction(ctx context.Context, t *core.Transaction) error {
	return s.InTx(ctx, func(tx Tx) error { return tx.SaveTransaction(ctx, t) })
}

func (s *SQLiteStore) DeleteTransaction(ctx context.Context, id int64) error {
	return s.InTx(ctx, func(tx Tx) error { return tx.DeleteTransaction(ctx, id) })
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	return s.InTx(ctx, func(tx Tx) error { return tx.DeleteAll(ctx) })
}

func (s *SQLiteStore) Friends(ctx context.Context, includeArchived bool) ([]core.Friend, error) {
	return (&sqliteTx{q: s.db}).Friends(ctx, includeArchived)
}

func (s *SQLiteStore) Friend(ctx context.Context, id int64) (core.Friend, error) {
	return (&sqliteTx{q: s.db}).Friend(ctx, id)
}

func (s *SQLiteStore) Transactions(ctx context.Context) ([]core.Transaction, error) {
	return (&sqliteTx{q: s.db}).Transactions(ctx)
}

func (s *SQLiteStore) TransactionsByFriend(ctx context.Context, friendID int64) ([]core.Transaction, error) {
	return (&sqliteTx{q: s.db}).TransactionsByFriend(ctx, friendID)
}

func (s *SQLiteStore) TransactionsByType(ctx context.Context, typ core.TxType) ([]core.Transaction, error) {
	return (&sqliteTx{q: s.db}).TransactionsByType(ctx, typ)
}

// Snapshot reads friends and transactions inside one read transaction so the
// two lists come from the same instant.
func (s *SQLiteStore) Snapshot(ctx context.Context) ([]core.Friend, []core.Transaction, error) {
	var (
		friends []core.Friend
		txs     []core.Transaction
	)
	err := s.InTx(ctx, func(tx Tx) error {
		var err error
		if friends, txs, err = tx.Snapshot(ctx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return friends, txs, nil
}

// sqliteTx is the shared query/write implementation. It runs against either
// the raw *sql.DB (one-shot reads) or a *sql.Tx (units of work), collecting
// change notifications for the latter.
type sqliteTx struct {
	q       queryer
	changes []Change
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ Tx = (*sqliteTx)(nil)

func (t *sqliteTx) record(entity Entity, op Op, id int64) {
	t.changes = append(t.changes, Change{Entity: entity, Op: op, ID: id})
}

func (t *sqliteTx) SaveFriend(ctx context.Context, f *core.Friend) error {
	var lastPayment sql.NullInt64
	if f.LastPaymentAt != nil {
		lastPayment = sql.NullInt64{Int64: *f.LastPaymentAt, Valid: true}
	}

	if f.ID == 0 {
		res, err := t.q.ExecContext(ctx,
			"INSERT INTO friends (name, total_balance, last_payment_date, is_archived) VALUES (?, ?, ?, ?)",
			f.Name, f.Balance.String(), lastPayment, f.Archived,
		)
		if err != nil {
			return fmt.Errorf("insert friend: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("friend insert id: %w", err)
		}
		f.ID = id
		t.record(EntityFriend, OpUpsert, id)
		return nil
	}

	res, err := t.q.ExecContext(ctx,
		"UPDATE friends SET name = ?, total_balance = ?, last_payment_date = ?, is_archived = ? WHERE id = ?",
		f.Name, f.Balance.String(), lastPayment, f.Archived, f.ID,
	)
	if err != nil {
		return fmt.Errorf("update friend: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update friend rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	t.record(EntityFriend, OpUpsert, f.ID)
	return nil
}

func (t *sqliteTx) DeleteFriend(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, "DELETE FROM friends WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete friend: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete friend rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	t.record(EntityFriend, OpDelete, id)
	// The cascade may have removed transactions too.
	t.record(EntityTransaction, OpDelete, 0)
	return nil
}

func (t *sqliteTx) SaveTransaction(ctx context.Context, txn *core.Transaction) error {
	var exists int
	err := t.q.QueryRowContext(ctx, "SELECT 1 FROM friends WHERE id = ?", txn.FriendID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check friend: %w", err)
	}

	if txn.ID == 0 {
		res, err := t.q.ExecContext(ctx,
			"INSERT INTO transactions (friend_id, amount, type, timestamp, notes, claimed_by) VALUES (?, ?, ?, ?, ?, ?)",
			txn.FriendID, txn.Amount.String(), string(txn.Type), txn.Timestamp, txn.Notes, txn.ClaimedBy,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("transaction insert id: %w", err)
		}
		txn.ID = id
		t.record(EntityTransaction, OpUpsert, id)
		return nil
	}

	res, err := t.q.ExecContext(ctx,
		"UPDATE transactions SET friend_id = ?, amount = ?, type = ?, timestamp = ?, notes = ?, claimed_by = ? WHERE id = ?",
		txn.FriendID, txn.Amount.String(), string(txn.Type), txn.Timestamp, txn.Notes, txn.ClaimedBy, txn.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	t.record(EntityTransaction, OpUpsert, txn.ID)
	return nil
}

func (t *sqliteTx) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	t.record(EntityTransaction, OpDelete, id)
	return nil
}

func (t *sqliteTx) DeleteAll(ctx context.Context) error {
	if _, err := t.q.ExecContext(ctx, "DELETE FROM transactions"); err != nil {
		return fmt.Errorf("delete all transactions: %w", err)
	}
	if _, err := t.q.ExecContext(ctx, "DELETE FROM friends"); err != nil {
		return fmt.Errorf("delete all friends: %w", err)
	}
	t.record(EntityTransaction, OpDelete, 0)
	t.record(EntityFriend, OpDelete, 0)
	return nil
}

const friendColumns = "id, name, total_balance, last_payment_date, is_archived"

func (t *sqliteTx) Friends(ctx context.Context, includeArchived bool) ([]core.Friend, error) {
	query := "SELECT " + friendColumns + " FROM friends WHERE is_archived = 0 ORDER BY name ASC"
	if includeArchived {
		query = "SELECT " + friendColumns + " FROM friends ORDER BY name ASC"
	}
	rows, err := t.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()
	return scanFriends(rows)
}

func (t *sqliteTx) Friend(ctx context.Context, id int64) (core.Friend, error) {
	row := t.q.QueryRowContext(ctx, "SELECT "+friendColumns+" FROM friends WHERE id = ?", id)
	f, err := scanFriend(row)
	if err == sql.ErrNoRows {
		return core.Friend{}, ErrNotFound
	}
	if err != nil {
		return core.Friend{}, fmt.Errorf("query friend: %w", err)
	}
	return f, nil
}

const txColumns = "id, friend_id, amount, type, timestamp, notes, claimed_by"

func (t *sqliteTx) Transactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := t.q.QueryContext(ctx,
		"SELECT "+txColumns+" FROM transactions ORDER BY timestamp DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (t *sqliteTx) TransactionsByFriend(ctx context.Context, friendID int64) ([]core.Transaction, error) {
	rows, err := t.q.QueryContext(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE friend_id = ? ORDER BY timestamp DESC, id DESC", friendID)
	if err != nil {
		return nil, fmt.Errorf("query transactions by friend: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (t *sqliteTx) TransactionsByType(ctx context.Context, typ core.TxType) ([]core.Transaction, error) {
	rows, err := t.q.QueryContext(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE type = ? ORDER BY timestamp DESC, id DESC", string(typ))
	if err != nil {
		return nil, fmt.Errorf("query transactions by type: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (t *sqliteTx) Snapshot(ctx context.Context) ([]core.Friend, []core.Transaction, error) {
	friends, err := t.Friends(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	txs, err := t.Transactions(ctx)
	if err != nil {
		return nil, nil, err
	}
	return friends, txs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFriend(row rowScanner) (core.Friend, error) {
	var (
		f           core.Friend
		balance     string
		lastPayment sql.NullInt64
	)
	if err := row.Scan(&f.ID, &f.Name, &balance, &lastPayment, &f.Archived); err != nil {
		return core.Friend{}, err
	}
	d, err := decimal.NewFromString(balance)
	if err != nil {
		return core.Friend{}, fmt.Errorf("parse stored balance %q: %w", balance, err)
	}
	f.Balance = d
	if lastPayment.Valid {
		ms := lastPayment.Int64
		f.LastPaymentAt = &ms
	}
	return f, nil
}

func scanFriends(rows *sql.Rows) ([]core.Friend, error) {
	var friends []core.Friend
	for rows.Next() {
		f, err := scanFriend(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		friends = append(friends, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friends: %w", err)
	}
	return friends, nil
}

func scanTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	var txs []core.Transaction
	for rows.Next() {
		var (
			txn    core.Transaction
			amount string
			typ    string
		)
		if err := rows.Scan(&txn.ID, &txn.FriendID, &amount, &typ, &txn.Timestamp, &txn.Notes, &txn.ClaimedBy); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse stored amount %q: %w", amount, err)
		}
		txn.Amount = d
		txn.Type = core.TxType(typ)
		txs = append(txs, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}
