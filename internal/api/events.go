package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/foxzi/reviewdesk/internal/store"
)

const eventKeepAlive = 30 * time.Second

// handleEvents handles GET /api/v1/events as a server-sent event stream of
// store changes. Slow readers lose events rather than block writers.
// The server write timeout does not apply to the stream; it lives until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Warn("event stream keeps the server write deadline", "error", err)
	}

	changes := make(chan store.Change, 64)
	unsubscribe := s.ctrl.Subscribe(func(ch store.Change) {
		select {
		case changes <- ch:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "ready", map[string]int{"campaigns": len(s.ctrl.GetCampaigns())}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(eventKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ch := <-changes:
			if err := writeEvent(w, string(ch.Kind), ch); err != nil {
				s.logger.Debug("event stream closed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
