package api

import (
	"fmt"
	"net/http"
	"time"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/events"
)

// handleEvents streams a repository's events as Server-Sent Events until
// the client disconnects. A heartbeat keeps idle connections open.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		WriteError(w, errors.NewConfigurationError("event streaming is not enabled", nil))
		return
	}
	rc := http.NewResponseController(w)
	// The server write timeout would otherwise end the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	id := repoID(r)
	sub := s.bus.Subscribe(id)
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("event stream unsupported by writer", "error", err.Error())
		return
	}
	s.logger.Debug("event stream opened", "repo", id, "subscription", sub.ID)

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("event stream closed", "repo", id, "subscription", sub.ID)
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
		case t := <-ticker.C:
			hb := events.Event{ID: fmt.Sprintf("hb-%d", t.UnixMilli()), Type: events.TypeHeartbeat, RepoID: id, Time: t.UTC()}
			if err := writeEvent(w, hb); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, ev events.Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	return err
}
