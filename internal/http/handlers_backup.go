package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tally/internal/backup"
)

func (s *Server) handleExportBackup(w http.ResponseWriter, r *http.Request) {
	doc, err := backup.Export(r.Context(), s.store, time.Now())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	data, err := backup.Encode(doc)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="ledger-backup.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImportBackup(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}

	doc, err := backup.Decode(body)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := backup.Import(r.Context(), s.store, doc); err != nil {
		var partial *backup.PartialImportError
		if errors.As(err, &partial) {
			slog.ErrorContext(r.Context(), "Backup import failed after clearing store",
				"friends_restored", partial.FriendsRestored,
				"transactions_restored", partial.TransactionsRestored,
				"error", partial.Err)
			writeError(w, http.StatusInternalServerError, partial.Error())
			return
		}
		writeDomainError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "Backup imported",
		"friends", len(doc.Friends),
		"transactions", len(doc.Transactions))
	writeJSON(w, http.StatusOK, map[string]int{
		"friends":      len(doc.Friends),
		"transactions": len(doc.Transactions),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.ResetAll(r.Context()); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
