package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"clinica/internal/export"
	"clinica/internal/models"
	"clinica/internal/service"
	"clinica/internal/session"
)

const idempotencyHeader = "Idempotency-Key"

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": s.svc.Catalog.LoadServices(r.Context())})
}

func (s *HTTPServer) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schedule": s.svc.Schedule.LoadPolicy(r.Context())})
}

func (s *HTTPServer) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := s.svc.Location.Get(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *HTTPServer) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.svc.Profile.Get(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.Users.Me(r.Context(), session.FromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.svc.Users.Register(r.Context(), req, session.FromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := session.FromContext(r.Context())
	if id == nil {
		s.writeServiceError(w, r, service.ErrNotAuthenticated)
		return
	}

	var req service.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.IdempotencyKey = r.Header.Get(idempotencyHeader)

	appt, err := s.svc.Booking.Submit(r.Context(), req, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (s *HTTPServer) handleListOwn(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Booking.ListOwn(r.Context(), session.FromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotPayload{Appointments: list})
}

func (s *HTTPServer) handleListAll(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Moderation.ListAll(r.Context(), session.FromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotPayload{Appointments: list})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Moderation.ListAll(r.Context(), session.FromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.AppointmentsXLSX(&buf, s.exports.SheetName, list); err != nil {
		s.log.Error().Err(err).Msg("failed to build export")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	name := fmt.Sprintf("citas_%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type statusRequest struct {
	Status models.Status `json:"status"`
}

func (s *HTTPServer) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := s.svc.Moderation.SetStatus(r.Context(), r.PathValue("id"), req.Status, session.FromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Moderation.Remove(r.Context(), r.PathValue("id"), session.FromContext(r.Context())); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Dashboard.Stats(r.Context(), session.FromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var svc models.Service
	if err := decodeJSON(r, &svc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	svc.ID = ""
	if err := s.svc.Catalog.CreateService(r.Context(), &svc, session.FromContext(r.Context())); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

func (s *HTTPServer) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	var svc models.Service
	if err := decodeJSON(r, &svc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	svc.ID = r.PathValue("id")
	if err := s.svc.Catalog.UpdateService(r.Context(), &svc, session.FromContext(r.Context())); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *HTTPServer) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Catalog.DeleteService(r.Context(), r.PathValue("id"), session.FromContext(r.Context())); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	var policy models.SchedulePolicy
	if err := decodeJSON(r, &policy); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	saved, err := s.svc.Schedule.SetPolicy(r.Context(), policy, session.FromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// locationRequest accepts either explicit coordinates or a Google Maps URL.
type locationRequest struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	MapsURL string   `json:"maps_url"`
}

func (s *HTTPServer) handleSetLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var loc models.Location
	switch {
	case strings.TrimSpace(req.MapsURL) != "":
		parsed, err := service.ParseMapsURL(req.MapsURL)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		loc = parsed
	case req.Lat != nil && req.Lng != nil:
		loc = models.Location{Lat: *req.Lat, Lng: *req.Lng}
	default:
		writeError(w, http.StatusBadRequest, "lat and lng or maps_url are required")
		return
	}

	if err := s.svc.Location.Save(r.Context(), loc, session.FromContext(r.Context())); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *HTTPServer) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	var profile models.Profile
	if err := decodeJSON(r, &profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	saved, err := s.svc.Profile.Save(r.Context(), profile, session.FromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
