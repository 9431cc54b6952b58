package core

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Stats is the derived aggregate view over the whole ledger. It is never
// stored: every instance is computed fresh by Summarize so the displayed
// numbers cannot drift from the underlying rows.
type Stats struct {
	CollectedToday    decimal.Decimal
	CollectedThisWeek decimal.Decimal
	TotalOutstanding  decimal.Decimal
	UnpaidToday       []Friend
}

// Summarize computes all aggregates as a pure function of the full roster,
// the full transaction list and the current wall clock.
//
// Collected sums count only PAYMENT rows: today's window is
// [startOfDay, startOfDay+24h), the week's window is everything at or after
// the most recent weekStart midnight. TotalOutstanding sums the balances of
// non-archived friends. UnpaidToday lists non-archived friends with a
// positive balance and no payment yet today, largest balance first.
func Summarize(friends []Friend, txs []Transaction, now time.Time, weekStart time.Weekday) Stats {
	dayStart := Millis(StartOfDay(now))
	dayEnd := Millis(StartOfDay(now).AddDate(0, 0, 1))
	weekStartMs := Millis(StartOfWeek(now, weekStart))

	st := Stats{
		CollectedToday:    decimal.Zero,
		CollectedThisWeek: decimal.Zero,
		TotalOutstanding:  decimal.Zero,
	}

	for _, tx := range txs {
		if tx.Type != Payment {
			continue
		}
		if tx.Timestamp >= dayStart && tx.Timestamp < dayEnd {
			st.CollectedToday = st.CollectedToday.Add(tx.Amount)
		}
		if tx.Timestamp >= weekStartMs {
			st.CollectedThisWeek = st.CollectedThisWeek.Add(tx.Amount)
		}
	}

	for _, f := range friends {
		if f.Archived {
			continue
		}
		st.TotalOutstanding = st.TotalOutstanding.Add(f.Balance)
		if f.Balance.IsPositive() && !f.PaidOn(dayStart) {
			st.UnpaidToday = append(st.UnpaidToday, f)
		}
	}

	sort.SliceStable(st.UnpaidToday, func(i, j int) bool {
		return st.UnpaidToday[i].Balance.GreaterThan(st.UnpaidToday[j].Balance)
	})

	return st
}
