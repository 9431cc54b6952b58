package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"tally/internal/core"
)

// amountField accepts either a JSON number or a string ("12.5" or 12.5),
// matching how amounts arrive from forms and from API clients.
type amountField string

func (a *amountField) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if strings.HasPrefix(s, `"`) {
		var unquoted string
		if err := json.Unmarshal(data, &unquoted); err != nil {
			return err
		}
		*a = amountField(unquoted)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or string: %w", err)
	}
	*a = amountField(n.String())
	return nil
}

type recordTransactionRequest struct {
	FriendID  int64       `json:"friendId"`
	Amount    amountField `json:"amount"`
	Type      string      `json:"type"`
	Notes     string      `json:"notes"`
	ClaimedBy string      `json:"claimedBy"`
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	typeParam := strings.TrimSpace(r.URL.Query().Get("type"))

	if typeParam == "" {
		txs, err := s.store.Transactions(ctx)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTransactionsJSON(txs))
		return
	}

	typ := core.TxType(strings.ToUpper(typeParam))
	if !typ.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown transaction type %q", typeParam))
		return
	}
	txs, err := s.store.TransactionsByType(ctx, typ)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionsJSON(txs))
}

func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req recordTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := core.ParseAmount(string(req.Amount))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	txn, err := s.ledger.RecordTransaction(r.Context(),
		req.FriendID,
		amount,
		core.TxType(strings.ToUpper(strings.TrimSpace(req.Type))),
		sanitizeInput(req.Notes),
		sanitizeInput(req.ClaimedBy))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionJSON(txn))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.ledger.DeleteTransaction(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
