package api

import (
	"errors"
	"net/http"

	"clinica/internal/service"
	"clinica/internal/session"
)

// writeServiceError maps service failures onto HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var outside *service.OutsideScheduleError
	var invalid *service.ValidationError

	switch {
	case errors.As(err, &outside):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":      err.Error(),
			"open_time":  outside.Open,
			"close_time": outside.Close,
		})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  service.ErrInvalidInput.Error(),
			"fields": invalid.Fields,
		})
	case errors.Is(err, service.ErrNotAuthenticated),
		errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrMissingFields),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrAppointmentNotFound),
		errors.Is(err, service.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrStorageUnavailable):
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("storage unavailable")
		writeError(w, http.StatusServiceUnavailable, service.ErrStorageUnavailable.Error())
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
