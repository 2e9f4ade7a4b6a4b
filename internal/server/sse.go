package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/streamkit/tally/internal/bus"
)

// Time between keepalive comments on an open event stream
const pingPeriod = 30 * time.Second

// handleEvents bridges a bus subscription to a server-sent-events stream.
// Overlay and remote clients hold this open and re-fetch counters whenever
// an `updated` event arrives; the events carry no data.
func (s *Server) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		events, cancel, err := s.bus.Subscribe(r.Context(), bus.CounterChannel)
		if err != nil {
			writeError(w, err)
			return
		}
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("X-Accel-Buffering", "no")

		_, _ = w.Write([]byte("event: connected\ndata: \n\n"))
		flusher.Flush()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: \n\n", event); err != nil {
					return
				}
				flusher.Flush()

			case <-ticker.C:
				if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
					return
				}
				flusher.Flush()

			case <-r.Context().Done():
				return
			}
		}
	}
}
