package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"tally/internal/views"
)

// handleState returns one view snapshot for the given search and filter.
// Query parameters apply to this response only; they do not change the
// session state behind the event stream.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := views.ParseFilter(q.Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !q.Has("q") && !q.Has("filter") {
		writeJSON(w, http.StatusOK, toStateJSON(s.composer.Current()))
		return
	}
	writeJSON(w, http.StatusOK, toStateJSON(s.composer.Resolve(q.Get("q"), filter)))
}

// handleStateStream pushes view snapshots as server-sent events. The
// current snapshot is sent immediately, then one event per recomputation.
// Query parameters scope the stream to this connection: each event is
// re-resolved with the given search and filter, leaving the session state
// untouched.
func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := views.ParseFilter(q.Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scoped := q.Has("q") || q.Has("filter")
	search := q.Get("q")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snaps, cancel := s.composer.Subscribe(8)
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, open := <-snaps:
			if !open {
				return
			}
			if scoped {
				// Conflation may have skipped intermediate snapshots, so
				// resolving against the latest state is always current.
				snap = s.composer.Resolve(search, filter)
			}
			data, err := json.Marshal(toStateJSON(snap))
			if err != nil {
				slog.ErrorContext(ctx, "Failed to encode snapshot event", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
