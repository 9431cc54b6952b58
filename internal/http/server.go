// Package http exposes the ledger as a JSON API with a server-sent event
// stream of view snapshots.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tally/internal/middleware/trace"
	"tally/internal/services"
	"tally/internal/storage"
	"tally/internal/views"
)

type Server struct {
	http.Server
	ledger   *services.LedgerService
	store    storage.Store
	composer *views.Composer

	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, ledger *services.LedgerService, store storage.Store, composer *views.Composer, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()

	s := &Server{
		ledger:      ledger,
		store:       store,
		composer:    composer,
		rateLimiter: newRateLimiter(),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/friends", s.handleListFriends)
	mux.HandleFunc("POST /api/friends", s.handleCreateFriend)
	mux.HandleFunc("GET /api/friends/{id}", s.handleGetFriend)
	mux.HandleFunc("PUT /api/friends/{id}", s.handleUpdateFriend)
	mux.HandleFunc("DELETE /api/friends/{id}", s.handleDeleteFriend)
	mux.HandleFunc("GET /api/friends/{id}/transactions", s.handleFriendTransactions)

	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("POST /api/transactions", s.handleRecordTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/state/stream", s.handleStateStream)

	mux.HandleFunc("GET /api/backup", s.handleExportBackup)
	mux.HandleFunc("POST /api/backup", s.handleImportBackup)
	mux.HandleFunc("POST /api/reset", s.handleReset)

	tracer := trace.NewMiddleware(clientIP, reg)
	s.Server = http.Server{
		Addr:              addr,
		Handler:           tracer.Middleware(s.withRateLimit(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// withRateLimit throttles mutating requests per client IP.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Friends(r.Context(), true); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
