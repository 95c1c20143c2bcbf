package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"clinica/internal/config"
	"clinica/internal/feed"
	"clinica/internal/logging"
	"clinica/internal/metrics"
	"clinica/internal/service"
	"clinica/internal/session"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Authenticator resolves a bearer token into the caller's identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*session.Identity, error)
}

// Services bundles what the HTTP handlers call into.
type Services struct {
	Catalog    *service.CatalogService
	Schedule   *service.ScheduleService
	Booking    *service.BookingService
	Moderation *service.ModerationService
	Dashboard  *service.DashboardService
	Location   *service.LocationService
	Profile    *service.ProfileService
	Users      *service.UserService
	Feeds      *feed.Hub
	Sessions   Authenticator
}

// HTTPServer exposes the JSON API and the live appointment feeds.
type HTTPServer struct {
	cfg     config.APIConfig
	exports config.ExportConfig
	svc     Services
	mux     *http.ServeMux
	server  *http.Server
	limiter *rateLimiter
	log     *zerolog.Logger

	// closing ends open event streams once Shutdown starts.
	closing   chan struct{}
	closeOnce sync.Once
}

func NewHTTPServer(cfg config.APIConfig, exports config.ExportConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:     cfg,
		exports: exports,
		svc:     svc,
		mux:     http.NewServeMux(),
		limiter: newRateLimiter(cfg.RateLimit),
		log:     logging.Component(logger, "http"),
		closing: make(chan struct{}),
	}
	srv.routes()

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// Streams lift their own deadline; every other response must be done by then.
		WriteTimeout: 15 * time.Second,
	}
	srv.server.RegisterOnShutdown(srv.stopStreams)
	return srv
}

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("GET /api/v1/services", s.handleListServices)
	s.mux.HandleFunc("GET /api/v1/schedule", s.handleGetSchedule)
	s.mux.HandleFunc("GET /api/v1/location", s.handleGetLocation)
	s.mux.HandleFunc("GET /api/v1/profile", s.handleGetProfile)

	s.mux.HandleFunc("GET /api/v1/me", s.handleMe)
	s.mux.HandleFunc("POST /api/v1/me", s.handleRegister)

	s.mux.HandleFunc("POST /api/v1/appointments", s.handleSubmit)
	s.mux.HandleFunc("GET /api/v1/appointments", s.handleListOwn)
	s.mux.HandleFunc("GET /api/v1/appointments/stream", s.handleClientStream)

	s.mux.Handle("GET /api/v1/admin/appointments", s.signedIn(s.handleListAll))
	s.mux.HandleFunc("GET /api/v1/admin/appointments/stream", s.handleAdminStream)
	s.mux.Handle("GET /api/v1/admin/appointments/export", s.signedIn(s.handleExport))
	s.mux.Handle("PATCH /api/v1/admin/appointments/{id}/status", s.signedIn(s.handleSetStatus))
	s.mux.Handle("DELETE /api/v1/admin/appointments/{id}", s.signedIn(s.handleRemove))
	s.mux.Handle("GET /api/v1/admin/dashboard", s.signedIn(s.handleDashboard))

	s.mux.Handle("POST /api/v1/admin/services", s.signedIn(s.handleCreateService))
	s.mux.Handle("PUT /api/v1/admin/services/{id}", s.signedIn(s.handleUpdateService))
	s.mux.Handle("DELETE /api/v1/admin/services/{id}", s.signedIn(s.handleDeleteService))
	s.mux.Handle("PUT /api/v1/admin/schedule", s.signedIn(s.handleSetSchedule))
	s.mux.Handle("PUT /api/v1/admin/location", s.signedIn(s.handleSetLocation))
	s.mux.Handle("PUT /api/v1/admin/profile", s.signedIn(s.handleSetProfile))
}

// Handler returns the routed mux wrapped in logging, authentication and
// rate limiting.
func (s *HTTPServer) Handler() http.Handler {
	return s.loggingMiddleware(s.authenticate(s.rateLimit(s.mux)))
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.stopStreams()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// signedIn rejects anonymous callers with 401 before the handler runs.
// Role checks stay with the services.
func (s *HTTPServer) signedIn(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session.FromContext(r.Context()) == nil {
			s.writeServiceError(w, r, service.ErrNotAuthenticated)
			return
		}
		next(w, r)
	})
}

func (s *HTTPServer) stopStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// authenticate attaches the caller's identity when a token is presented.
// Requests without one stay anonymous; a bad token is rejected outright.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || s.svc.Sessions == nil {
			next.ServeHTTP(w, r)
			return
		}

		id, err := s.svc.Sessions.Authenticate(r.Context(), token)
		if err != nil {
			s.log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected bearer token")
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithIdentity(r.Context(), id)))
	})
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter that EventSource clients have to use.
func bearerToken(r *http.Request) string {
	if token, err := session.ExtractBearer(r.Header.Get("Authorization")); err == nil {
		return token
	}
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey buckets authenticated callers by user and the rest by address.
func clientKey(r *http.Request) string {
	if id := session.FromContext(r.Context()); id != nil {
		return "user:" + id.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		_, pattern := s.mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.IncHTTP(pattern, strconv.Itoa(recorder.status))

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
