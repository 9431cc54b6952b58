package storage

import (
	"context"
	"sort"
	"sync"

	"tally/internal/core"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store on mutex-guarded maps. It backs the
// DATA_BACKEND=memory mode and the tests of the layers above; semantics
// (ordering, cascade, atomic units, notifications) match the SQLite store.
type MemoryStore struct {
	mu           sync.RWMutex
	friends      map[int64]core.Friend
	txs          map[int64]core.Transaction
	nextFriendID int64
	nextTxID     int64
	notify       *notifier
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		friends:      make(map[int64]core.Friend),
		txs:          make(map[int64]core.Transaction),
		nextFriendID: 1,
		nextTxID:     1,
		notify:       newNotifier(),
	}
}

func (s *MemoryStore) Close() error {
	s.notify.closeAll()
	return nil
}

func (s *MemoryStore) Subscribe(buffer int) (<-chan Change, func()) {
	return s.notify.subscribe(buffer)
}

// InTx stages all writes on a copy of the state and swaps it in only when fn
// succeeds, so a failing unit leaves nothing behind.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &memTx{
		friends:      cloneFriends(s.friends),
		txs:          cloneTxs(s.txs),
		nextFriendID: s.nextFriendID,
		nextTxID:     s.nextTxID,
	}
	if err := fn(staged); err != nil {
		return err
	}

	s.friends = staged.friends
	s.txs = staged.txs
	s.nextFriendID = staged.nextFriendID
	s.nextTxID = staged.nextTxID

	s.notify.publish(staged.changes)
	return nil
}

func (s *MemoryStore) SaveFriend(ctx context.Context, f *core.Friend) error {
	return s.InTx(ctx, func(tx Tx) error { return tx.SaveFriend(ctx, f) })
}

func (s *MemoryStore) DeleteFriend(ctx context.Context, id int64) error {
	return s.InTx(ctx, func(tx Tx) error { return tx.DeleteFriend(ctx, id) })
}

func (s *MemoryStore) SaveTransaction(ctx context.Context, t *core.Transaction) error {
	return s.InTx(ctx, func(tx Tx) error { return tx.SaveTransaction(ctx, t) })
}

func (s *MemoryStore) DeleteTransaction(ctx context.Context, id int64) error {
	return s.InTx(ctx, func(tx Tx) error { return tx.DeleteTransaction(ctx, id) })
}

func (s *MemoryStore) DeleteAll(ctx context.Context) error {
	return s.InTx(ctx, func(tx Tx) error { return tx.DeleteAll(ctx) })
}

func (s *MemoryStore) Friends(ctx context.Context, includeArchived bool) ([]core.Friend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Friends(ctx, includeArchived)
}

func (s *MemoryStore) Friend(ctx context.Context, id int64) (core.Friend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Friend(ctx, id)
}

func (s *MemoryStore) Transactions(ctx context.Context) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Transactions(ctx)
}

func (s *MemoryStore) TransactionsByFriend(ctx context.Context, friendID int64) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().TransactionsByFriend(ctx, friendID)
}

func (s *MemoryStore) TransactionsByType(ctx context.Context, typ core.TxType) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().TransactionsByType(ctx, typ)
}

func (s *MemoryStore) Snapshot(ctx context.Context) ([]core.Friend, []core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Snapshot(ctx)
}

// view builds a read-only memTx over the live maps; callers hold the lock.
func (s *MemoryStore) view() *memTx {
	return &memTx{friends: s.friends, txs: s.txs}
}

type memTx struct {
	friends      map[int64]core.Friend
	txs          map[int64]core.Transaction
	nextFriendID int64
	nextTxID     int64
	changes      []Change
}

var _ Tx = (*memTx)(nil)

func (t *memTx) record(entity Entity, op Op, id int64) {
	t.changes = append(t.changes, Change{Entity: entity, Op: op, ID: id})
}

func (t *memTx) SaveFriend(ctx context.Context, f *core.Friend) error {
	if f.ID == 0 {
		f.ID = t.nextFriendID
		t.nextFriendID++
	} else if _, ok := t.friends[f.ID]; !ok {
		return ErrNotFound
	}
	t.friends[f.ID] = *f
	t.record(EntityFriend, OpUpsert, f.ID)
	return nil
}

func (t *memTx) DeleteFriend(ctx context.Context, id int64) error {
	if _, ok := t.friends[id]; !ok {
		return ErrNotFound
	}
	delete(t.friends, id)
	for txID, txn := range t.txs {
		if txn.FriendID == id {
			delete(t.txs, txID)
		}
	}
	t.record(EntityFriend, OpDelete, id)
	t.record(EntityTransaction, OpDelete, 0)
	return nil
}

func (t *memTx) SaveTransaction(ctx context.Context, txn *core.Transaction) error {
	if _, ok := t.friends[txn.FriendID]; !ok {
		return ErrNotFound
	}
	if txn.ID == 0 {
		txn.ID = t.nextTxID
		t.nextTxID++
	} else if _, ok := t.txs[txn.ID]; !ok {
		return ErrNotFound
	}
	t.txs[txn.ID] = *txn
	t.record(EntityTransaction, OpUpsert, txn.ID)
	return nil
}

func (t *memTx) DeleteTransaction(ctx context.Context, id int64) error {
	if _, ok := t.txs[id]; !ok {
		return ErrNotFound
	}
	delete(t.txs, id)
	t.record(EntityTransaction, OpDelete, id)
	return nil
}

func (t *memTx) DeleteAll(ctx context.Context) error {
	t.txs = make(map[int64]core.Transaction)
	t.friends = make(map[int64]core.Friend)
	t.record(EntityTransaction, OpDelete, 0)
	t.record(EntityFriend, OpDelete, 0)
	return nil
}

func (t *memTx) Friends(ctx context.Context, includeArchived bool) ([]core.Friend, error) {
	var friends []core.Friend
	for _, f := range t.friends {
		if !includeArchived && f.Archived {
			continue
		}
		friends = append(friends, f)
	}
	sort.Slice(friends, func(i, j int) bool {
		if friends[i].Name != friends[j].Name {
			return friends[i].Name < friends[j].Name
		}
		return friends[i].ID < friends[j].ID
	})
	return friends, nil
}

func (t *memTx) Friend(ctx context.Context, id int64) (core.Friend, error) {
	f, ok := t.friends[id]
	if !ok {
		return core.Friend{}, ErrNotFound
	}
	return f, nil
}

func (t *memTx) Transactions(ctx context.Context) ([]core.Transaction, error) {
	return t.filterTxs(func(core.Transaction) bool { return true }), nil
}

func (t *memTx) TransactionsByFriend(ctx context.Context, friendID int64) ([]core.Transaction, error) {
	return t.filterTxs(func(tx core.Transaction) bool { return tx.FriendID == friendID }), nil
}

func (t *memTx) TransactionsByType(ctx context.Context, typ core.TxType) ([]core.Transaction, error) {
	return t.filterTxs(func(tx core.Transaction) bool { return tx.Type == typ }), nil
}

func (t *memTx) Snapshot(ctx context.Context) ([]core.Friend, []core.Transaction, error) {
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

func (t *memTx) filterTxs(keep func(core.Transaction) bool) []core.Transaction {
	var txs []core.Transaction
	for _, txn := range t.txs {
		if keep(txn) {
			txs = append(txs, txn)
		}
	}
	// Most recent first, matching the SQLite ordering.
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].Timestamp != txs[j].Timestamp {
			return txs[i].Timestamp > txs[j].Timestamp
		}
		return txs[i].ID > txs[j].ID
	})
	return txs
}

func cloneFriends(m map[int64]core.Friend) map[int64]core.Friend {
	out := make(map[int64]core.Friend, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTxs(m map[int64]core.Transaction) map[int64]core.Transaction {
	out := make(map[int64]core.Transaction, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
