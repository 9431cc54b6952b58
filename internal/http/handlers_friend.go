package http

import (
	"net/http"
)

type createFriendRequest struct {
	Name string `json:"name"`
}

type updateFriendRequest struct {
	Name       string `json:"name"`
	IsArchived bool   `json:"isArchived"`
}

func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	friends, err := s.store.Friends(r.Context(), includeArchived)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFriendsJSON(friends))
}

func (s *Server) handleCreateFriend(w http.ResponseWriter, r *http.Request) {
	var req createFriendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	friend, err := s.ledger.AddFriend(r.Context(), sanitizeInput(req.Name))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFriendJSON(friend))
}

func (s *Server) handleGetFriend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	friend, err := s.store.Friend(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFriendJSON(friend))
}

func (s *Server) handleUpdateFriend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req updateFriendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	friend, err := s.ledger.UpdateFriend(r.Context(), id, sanitizeInput(req.Name), req.IsArchived)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFriendJSON(friend))
}

func (s *Server) handleDeleteFriend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.ledger.DeleteFriend(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFriendTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// 404 for unknown friends rather than an empty list.
	if _, err := s.store.Friend(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	txs, err := s.store.TransactionsByFriend(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionsJSON(txs))
}
