package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tally/internal/services"
	"tally/internal/storage"
	"tally/internal/views"
)

type testServer struct {
	*Server
	store storage.Store
	ts    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	ledger := services.NewLedgerService(store, nil)
	composer := views.NewComposer(store, time.Sunday)
	srv := NewServer(":0", ledger, store, composer, prometheus.NewRegistry())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	ts := httptest.NewServer(srv.Server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{Server: srv, store: store, ts: ts}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (s *testServer) createFriend(t *testing.T, name string) friendJSON {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/friends", createFriendRequest{Name: name})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create friend %q: status %d", name, resp.StatusCode)
	}
	return decodeBody[friendJSON](t, resp)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp := s.do(t, http.MethodGet, path, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestFriendLifecycle(t *testing.T) {
	s := newTestServer(t)

	alice := s.createFriend(t, "Alice")
	if alice.ID == 0 || alice.Name != "Alice" {
		t.Fatalf("created friend = %+v", alice)
	}
	if !alice.TotalBalance.IsZero() {
		t.Fatalf("new friend balance = %s, want 0", alice.TotalBalance)
	}
	if alice.LastPaymentAt != nil {
		t.Fatalf("new friend has lastPaymentDate set")
	}

	resp := s.do(t, http.MethodGet, fmt.Sprintf("/api/friends/%d", alice.ID), nil)
	got := decodeBody[friendJSON](t, resp)
	if got.Name != "Alice" {
		t.Fatalf("GET friend = %+v", got)
	}

	resp = s.do(t, http.MethodPut, fmt.Sprintf("/api/friends/%d", alice.ID),
		updateFriendRequest{Name: "Alicia", IsArchived: true})
	updated := decodeBody[friendJSON](t, resp)
	if updated.Name != "Alicia" || !updated.IsArchived {
		t.Fatalf("PUT friend = %+v", updated)
	}

	// Archived friends are hidden by default, visible with the flag.
	resp = s.do(t, http.MethodGet, "/api/friends", nil)
	if visible := decodeBody[[]friendJSON](t, resp); len(visible) != 0 {
		t.Fatalf("default roster includes archived friend: %+v", visible)
	}
	resp = s.do(t, http.MethodGet, "/api/friends?include_archived=true", nil)
	if all := decodeBody[[]friendJSON](t, resp); len(all) != 1 {
		t.Fatalf("include_archived roster = %+v", all)
	}

	resp = s.do(t, http.MethodDelete, fmt.Sprintf("/api/friends/%d", alice.ID), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE friend status = %d", resp.StatusCode)
	}

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/friends/%d", alice.ID), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET deleted friend status = %d, want 404", resp.StatusCode)
	}
}

func TestRecordTransactionUpdatesBalance(t *testing.T) {
	s := newTestServer(t)
	alice := s.createFriend(t, "Alice")

	resp := s.do(t, http.MethodPost, "/api/transactions", recordTransactionRequest{
		FriendID: alice.ID, Amount: "500", Type: "LOAN", Notes: "lunch money",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("record loan status = %d", resp.StatusCode)
	}
	loan := decodeBody[transactionJSON](t, resp)
	if loan.Type != "LOAN" || loan.FriendID != alice.ID || loan.Timestamp == 0 {
		t.Fatalf("recorded loan = %+v", loan)
	}

	resp = s.do(t, http.MethodPost, "/api/transactions", recordTransactionRequest{
		FriendID: alice.ID, Amount: "200", Type: "PAYMENT", ClaimedBy: "bob",
	})
	resp.Body.Close()

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/friends/%d", alice.ID), nil)
	got := decodeBody[friendJSON](t, resp)
	if got.TotalBalance.String() != "300" {
		t.Fatalf("balance after loan 500 and payment 200 = %s, want 300", got.TotalBalance)
	}
	if got.LastPaymentAt == nil {
		t.Fatalf("payment did not stamp lastPaymentDate")
	}
}

func TestRecordTransactionValidation(t *testing.T) {
	s := newTestServer(t)
	alice := s.createFriend(t, "Alice")

	tests := []struct {
		name       string
		req        recordTransactionRequest
		wantStatus int
	}{
		{"zero amount", recordTransactionRequest{FriendID: alice.ID, Amount: "0", Type: "LOAN"}, http.StatusUnprocessableEntity},
		{"negative amount", recordTransactionRequest{FriendID: alice.ID, Amount: "-5", Type: "LOAN"}, http.StatusUnprocessableEntity},
		{"garbage amount", recordTransactionRequest{FriendID: alice.ID, Amount: "abc", Type: "LOAN"}, http.StatusUnprocessableEntity},
		{"unknown type", recordTransactionRequest{FriendID: alice.ID, Amount: "5", Type: "GIFT"}, http.StatusUnprocessableEntity},
		{"unknown friend", recordTransactionRequest{FriendID: 999, Amount: "5", Type: "LOAN"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/api/transactions", tt.req)
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestListTransactionsByType(t *testing.T) {
	s := newTestServer(t)
	alice := s.createFriend(t, "Alice")

	for _, req := range []recordTransactionRequest{
		{FriendID: alice.ID, Amount: "10", Type: "PAYMENT"},
		{FriendID: alice.ID, Amount: "20", Type: "LOAN"},
		{FriendID: alice.ID, Amount: "30", Type: "PAYMENT"},
	} {
		resp := s.do(t, http.MethodPost, "/api/transactions", req)
		resp.Body.Close()
	}

	resp := s.do(t, http.MethodGet, "/api/transactions", nil)
	if all := decodeBody[[]transactionJSON](t, resp); len(all) != 3 {
		t.Fatalf("full ledger = %d rows, want 3", len(all))
	}

	resp = s.do(t, http.MethodGet, "/api/transactions?type=payment", nil)
	payments := decodeBody[[]transactionJSON](t, resp)
	if len(payments) != 2 {
		t.Fatalf("payments = %d rows, want 2", len(payments))
	}
	for _, txn := range payments {
		if txn.Type != "PAYMENT" {
			t.Fatalf("loan leaked into payments: %+v", txn)
		}
	}

	resp = s.do(t, http.MethodGet, "/api/transactions?type=gift", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown type filter status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteTransactionKeepsBalance(t *testing.T) {
	s := newTestServer(t)
	alice := s.createFriend(t, "Alice")

	resp := s.do(t, http.MethodPost, "/api/transactions", recordTransactionRequest{
		FriendID: alice.ID, Amount: "500", Type: "LOAN",
	})
	loan := decodeBody[transactionJSON](t, resp)

	resp = s.do(t, http.MethodDelete, fmt.Sprintf("/api/transactions/%d", loan.ID), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete transaction status = %d", resp.StatusCode)
	}

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/friends/%d", alice.ID), nil)
	got := decodeBody[friendJSON](t, resp)
	if got.TotalBalance.String() != "500" {
		t.Fatalf("balance after deleting loan = %s, want 500", got.TotalBalance)
	}
}

func TestStateEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.createFriend(t, "Alice")
	s.createFriend(t, "Bob")
	s.createFriend(t, "Valerie")
	if err := s.composer.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh composer: %v", err)
	}

	resp := s.do(t, http.MethodGet, "/api/state", nil)
	state := decodeBody[stateJSON](t, resp)
	if state.Loading {
		t.Fatalf("state still loading after refresh")
	}
	if len(state.Friends) != 3 {
		t.Fatalf("state roster = %d friends, want 3", len(state.Friends))
	}

	resp = s.do(t, http.MethodGet, "/api/state?q=al&filter=ALL", nil)
	filtered := decodeBody[stateJSON](t, resp)
	if len(filtered.Friends) != 2 {
		t.Fatalf("search 'al' roster = %d friends, want 2", len(filtered.Friends))
	}
	names := []string{filtered.Friends[0].Name, filtered.Friends[1].Name}
	if names[0] != "Alice" || names[1] != "Valerie" {
		t.Fatalf("search 'al' roster = %v", names)
	}

	// One-shot query must not disturb the session state.
	resp = s.do(t, http.MethodGet, "/api/state", nil)
	session := decodeBody[stateJSON](t, resp)
	if session.Search != "" || len(session.Friends) != 3 {
		t.Fatalf("one-shot query mutated session: %+v", session)
	}

	resp = s.do(t, http.MethodGet, "/api/state?filter=BOGUS", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus filter status = %d, want 400", resp.StatusCode)
	}
}

func TestStateStreamHonorsConnectionFilters(t *testing.T) {
	s := newTestServer(t)
	s.createFriend(t, "Alice")
	s.createFriend(t, "Bob")
	s.createFriend(t, "Valerie")
	if err := s.composer.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh composer: %v", err)
	}

	resp := s.do(t, http.MethodGet, "/api/state/stream?q=al", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d, want 200", resp.StatusCode)
	}

	state := readStateEvent(t, resp)
	if len(state.Friends) != 2 {
		t.Fatalf("scoped stream roster = %d friends, want 2", len(state.Friends))
	}
	if state.Friends[0].Name != "Alice" || state.Friends[1].Name != "Valerie" {
		t.Fatalf("scoped stream roster = %+v", state.Friends)
	}

	// The connection scope must not leak into the session state.
	sessionResp := s.do(t, http.MethodGet, "/api/state", nil)
	session := decodeBody[stateJSON](t, sessionResp)
	if session.Search != "" || len(session.Friends) != 3 {
		t.Fatalf("stream scope mutated session: %+v", session)
	}

	badResp := s.do(t, http.MethodGet, "/api/state/stream?filter=BOGUS", nil)
	badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus stream filter status = %d, want 400", badResp.StatusCode)
	}
}

// readStateEvent blocks until the next state event arrives on an open
// event-stream response and decodes its payload.
func readStateEvent(t *testing.T, resp *http.Response) stateJSON {
	t.Helper()
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event stream: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var state stateJSON
		payload := strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		if err := json.Unmarshal([]byte(payload), &state); err != nil {
			t.Fatalf("decode event payload: %v", err)
		}
		return state
	}
}

func TestBackupRoundTripOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.createFriend(t, "Alice")
	resp := s.do(t, http.MethodPost, "/api/transactions", recordTransactionRequest{
		FriendID: alice.ID, Amount: "500", Type: "LOAN",
	})
	resp.Body.Close()

	resp = s.do(t, http.MethodGet, "/api/backup", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	exported := new(bytes.Buffer)
	if _, err := exported.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read export: %v", err)
	}
	resp.Body.Close()

	// Wipe everything, then restore from the exported document.
	resp = s.do(t, http.MethodPost, "/api/reset", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodPost, s.ts.URL+"/api/backup", exported)
	if err != nil {
		t.Fatalf("build import request: %v", err)
	}
	importResp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	counts := decodeBody[map[string]int](t, importResp)
	if counts["friends"] != 1 || counts["transactions"] != 1 {
		t.Fatalf("import counts = %v", counts)
	}

	resp = s.do(t, http.MethodGet, "/api/friends", nil)
	friends := decodeBody[[]friendJSON](t, resp)
	if len(friends) != 1 || friends[0].Name != "Alice" || friends[0].TotalBalance.String() != "500" {
		t.Fatalf("restored roster = %+v", friends)
	}
}

func TestImportRejectsBadDocumentWithoutClearing(t *testing.T) {
	s := newTestServer(t)
	s.createFriend(t, "Alice")

	bad := `{"friends":[{"id":1,"name":""}],"transactions":[],"backupTimestamp":0}`
	req, err := http.NewRequest(http.MethodPost, s.ts.URL+"/api/backup", strings.NewReader(bad))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad document status = %d, want 400", resp.StatusCode)
	}

	resp = s.do(t, http.MethodGet, "/api/friends", nil)
	if friends := decodeBody[[]friendJSON](t, resp); len(friends) != 1 {
		t.Fatalf("bad import cleared existing data: %+v", friends)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/healthz", nil)
	resp.Body.Close()

	resp = s.do(t, http.MethodGet, "/metrics", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), "http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}
