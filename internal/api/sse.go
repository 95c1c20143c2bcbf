package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"clinica/internal/feed"
	"clinica/internal/models"
	"clinica/internal/service"
	"clinica/internal/session"
)

type snapshotPayload struct {
	Appointments []*models.Appointment `json:"appointments"`
}

func (s *HTTPServer) handleClientStream(w http.ResponseWriter, r *http.Request) {
	id := session.FromContext(r.Context())
	if id == nil {
		s.writeServiceError(w, r, service.ErrNotAuthenticated)
		return
	}
	s.stream(w, r, feed.Filter{OwnerID: id.ID})
}

func (s *HTTPServer) handleAdminStream(w http.ResponseWriter, r *http.Request) {
	id := session.FromContext(r.Context())
	switch {
	case id == nil:
		s.writeServiceError(w, r, service.ErrNotAuthenticated)
		return
	case !id.IsAdmin():
		s.writeServiceError(w, r, service.ErrForbidden)
		return
	}
	s.stream(w, r, feed.Filter{})
}

// stream relays feed snapshots as server-sent events until the client goes
// away. Only the newest undelivered snapshot is kept.
func (s *HTTPServer) stream(w http.ResponseWriter, r *http.Request, filter feed.Filter) {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates := make(chan []*models.Appointment, 1)
	deliver := func(snapshot []*models.Appointment) {
		select {
		case updates <- snapshot:
			return
		default:
		}
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- snapshot:
		default:
		}
	}

	sub, err := s.svc.Feeds.Subscribe(ctx, filter, deliver, feed.WithErrorHandler(func(err error) {
		s.log.Warn().Err(err).Bool("admin", filter.Admin()).Msg("feed refresh failed")
	}))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to open feed")
		writeError(w, http.StatusServiceUnavailable, "feed unavailable")
		return
	}
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.log.Error().Err(err).Msg("response does not support streaming")
		return
	}

	heartbeat := s.cfg.HTTP.SSEHeartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-s.closing:
			return
		case snapshot := <-updates:
			if err := writeSnapshot(w, snapshot); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSnapshot(w http.ResponseWriter, snapshot []*models.Appointment) error {
	if snapshot == nil {
		snapshot = []*models.Appointment{}
	}
	data, err := json.Marshal(snapshotPayload{Appointments: snapshot})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}
