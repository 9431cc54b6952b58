// Package views combines the live roster, ledger, aggregates and the
// session's filter state into immutable snapshots for presentation.
package views

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/storage"
)

const (
	FilterAll      Filter = "ALL"
	FilterPayments Filter = "PAYMENTS"
	FilterLoans    Filter = "LOANS"
)

type (
	// Filter selects which transaction types a snapshot shows.
	Filter string

	// Snapshot is one internally consistent view of everything the
	// presentation layer needs. Instances are immutable: each
	// recomputation replaces the whole value, so an observer can never
	// pair a roster from one instant with a ledger from another.
	Snapshot struct {
		Friends           []core.Friend
		Transactions      []core.Transaction
		UnpaidToday       []core.Friend
		CollectedToday    decimal.Decimal
		CollectedThisWeek decimal.Decimal
		TotalOutstanding  decimal.Decimal
		Loading           bool
		Search            string
		Filter            Filter
	}
)

// ParseFilter maps a request string to a Filter ("" means ALL).
func ParseFilter(s string) (Filter, error) {
	switch Filter(strings.ToUpper(strings.TrimSpace(s))) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterPayments:
		return FilterPayments, nil
	case FilterLoans:
		return FilterLoans, nil
	}
	return FilterAll, fmt.Errorf("unknown transaction filter %q", s)
}

// Composer subscribes to store changes and maintains the current Snapshot.
// All inputs of a snapshot come from one consistent store read plus the
// session's search/filter state, recombined jointly on every change.
type Composer struct {
	store     storage.Store
	weekStart time.Weekday
	now       func() time.Time

	mu      sync.Mutex
	search  string
	filter  Filter
	friends []core.Friend     // last consistent roster (archived included)
	txs     []core.Transaction // last consistent ledger, most recent first
	loaded  bool
	current Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

func NewComposer(store storage.Store, weekStart time.Weekday) *Composer {
	return &Composer{
		store:     store,
		weekStart: weekStart,
		now:       time.Now,
		filter:    FilterAll,
		current:   emptySnapshot(),
		subs:      make(map[int]chan Snapshot),
	}
}

func emptySnapshot() Snapshot {
	return Snapshot{
		CollectedToday:    decimal.Zero,
		CollectedThisWeek: decimal.Zero,
		TotalOutstanding:  decimal.Zero,
		Loading:           true,
		Filter:            FilterAll,
	}
}

// Run computes the first snapshot and then recomputes on every committed
// store change until ctx is done.
func (c *Composer) Run(ctx context.Context) error {
	changes, cancel := c.store.Subscribe(16)
	defer cancel()

	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			if err := c.Refresh(ctx); err != nil {
				// The store stays authoritative; the previous snapshot
				// remains current until a later change succeeds.
				slog.ErrorContext(ctx, "Snapshot recompute failed", "error", err)
			}
		}
	}
}

// Refresh re-reads the store and replaces the current snapshot.
func (c *Composer) Refresh(ctx context.Context) error {
	friends, txs, err := c.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("read store snapshot: %w", err)
	}

	c.mu.Lock()
	c.friends = friends
	c.txs = txs
	c.loaded = true
	c.rebuildLocked()
	c.mu.Unlock()
	return nil
}

// SetSearch updates the session search text and synchronously recomputes.
// Session state shapes the snapshots delivered to subscribers that pass no
// per-request filters; request-scoped consumers use Resolve instead.
func (c *Composer) SetSearch(query string) {
	c.mu.Lock()
	c.search = query
	c.rebuildLocked()
	c.mu.Unlock()
}

// SetFilter updates the session transaction-type filter and synchronously
// recomputes.
func (c *Composer) SetFilter(filter Filter) {
	c.mu.Lock()
	c.filter = filter
	c.rebuildLocked()
	c.mu.Unlock()
}

// Current returns the latest snapshot.
func (c *Composer) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Resolve derives a one-shot snapshot with the given filters from the same
// consistent inputs, without touching the session state.
func (c *Composer) Resolve(search string, filter Filter) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.composeLocked(search, filter)
}

// Subscribe delivers every new snapshot. When a consumer lags, older
// snapshots are conflated away; the latest one is always delivered.
func (c *Composer) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	// Seed with the current state so a late subscriber is not blind
	// until the next change.
	ch <- c.current
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (c *Composer) rebuildLocked() {
	c.current = c.composeLocked(c.search, c.filter)
	for _, ch := range c.subs {
		select {
		case ch <- c.current:
		default:
			// Full buffer: drop the oldest pending snapshot and retry,
			// so the consumer always ends up with the newest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- c.current:
			default:
			}
		}
	}
}

func (c *Composer) composeLocked(search string, filter Filter) Snapshot {
	if !c.loaded {
		snap := emptySnapshot()
		snap.Search = search
		snap.Filter = filter
		return snap
	}

	stats := core.Summarize(c.friends, c.txs, c.now(), c.weekStart)
	return Snapshot{
		Friends:           filterRoster(c.friends, search),
		Transactions:      filterTransactions(c.txs, filter),
		UnpaidToday:       stats.UnpaidToday,
		CollectedToday:    stats.CollectedToday,
		CollectedThisWeek: stats.CollectedThisWeek,
		TotalOutstanding:  stats.TotalOutstanding,
		Search:            search,
		Filter:            filter,
	}
}

// filterRoster keeps non-archived friends whose name contains the search
// text, case-insensitively. Empty search passes everyone.
func filterRoster(friends []core.Friend, search string) []core.Friend {
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]core.Friend, 0, len(friends))
	for _, f := range friends {
		if f.Archived {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(f.Name), needle) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// filterTransactions keeps rows matching the filter, preserving the
// most-recent-first order of the input.
func filterTransactions(txs []core.Transaction, filter Filter) []core.Transaction {
	if filter == FilterAll || filter == "" {
		out := make([]core.Transaction, len(txs))
		copy(out, txs)
		return out
	}
	want := core.Payment
	if filter == FilterLoans {
		want = core.Loan
	}
	out := make([]core.Transaction, 0, len(txs))
	for _, txn := range txs {
		if txn.Type == want {
			out = append(out, txn)
		}
	}
	return out
}
