package http

import (
	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/views"
)

// Wire representations. Field names follow the backup document contract so
// API payloads and backup files describe the same shapes.
type (
	friendJSON struct {
		ID            int64           `json:"id"`
		Name          string          `json:"name"`
		TotalBalance  decimal.Decimal `json:"totalBalance"`
		LastPaymentAt *int64          `json:"lastPaymentDate"`
		IsArchived    bool            `json:"isArchived"`
	}

	transactionJSON struct {
		ID        int64           `json:"id"`
		FriendID  int64           `json:"friendId"`
		Amount    decimal.Decimal `json:"amount"`
		Type      string          `json:"type"`
		Timestamp int64           `json:"timestamp"`
		Notes     string          `json:"notes"`
		ClaimedBy string          `json:"claimedBy"`
	}

	stateJSON struct {
		Friends           []friendJSON      `json:"friends"`
		Transactions      []transactionJSON `json:"transactions"`
		UnpaidToday       []friendJSON      `json:"unpaidToday"`
		CollectedToday    decimal.Decimal   `json:"collectedToday"`
		CollectedThisWeek decimal.Decimal   `json:"collectedThisWeek"`
		TotalOutstanding  decimal.Decimal   `json:"totalOutstanding"`
		Loading           bool              `json:"loading"`
		Search            string            `json:"search"`
		Filter            string            `json:"filter"`
	}
)

func toFriendJSON(f core.Friend) friendJSON {
	return friendJSON{
		ID:            f.ID,
		Name:          f.Name,
		TotalBalance:  f.Balance,
		LastPaymentAt: f.LastPaymentAt,
		IsArchived:    f.Archived,
	}
}

func toFriendsJSON(friends []core.Friend) []friendJSON {
	out := make([]friendJSON, 0, len(friends))
	for _, f := range friends {
		out = append(out, toFriendJSON(f))
	}
	return out
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID:        t.ID,
		FriendID:  t.FriendID,
		Amount:    t.Amount,
		Type:      string(t.Type),
		Timestamp: t.Timestamp,
		Notes:     t.Notes,
		ClaimedBy: t.ClaimedBy,
	}
}

func toTransactionsJSON(txs []core.Transaction) []transactionJSON {
	out := make([]transactionJSON, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionJSON(t))
	}
	return out
}

func toStateJSON(s views.Snapshot) stateJSON {
	return stateJSON{
		Friends:           toFriendsJSON(s.Friends),
		Transactions:      toTransactionsJSON(s.Transactions),
		UnpaidToday:       toFriendsJSON(s.UnpaidToday),
		CollectedToday:    s.CollectedToday,
		CollectedThisWeek: s.CollectedThisWeek,
		TotalOutstanding:  s.TotalOutstanding,
		Loading:           s.Loading,
		Search:            s.Search,
		Filter:            string(s.Filter),
	}
}
