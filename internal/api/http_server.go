package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"zapys/internal/booking"
	"zapys/internal/config"
	"zapys/internal/models"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// Booking is the read side of the booking engine exposed over HTTP.
type Booking interface {
	Rules() booking.Rules
	FreeSlots(ctx context.Context, day time.Time) ([]time.Time, error)
	Reservations(ctx context.Context, userID int64) ([]*models.Reservation, error)
}

// HTTPServer exposes free slots and reservations as a read-only JSON API.
type HTTPServer struct {
	cfg     config.APIConfig
	booking Booking
	ready   func() bool
	server  *http.Server
	auth    *HTTPAuth
	logger  zerolog.Logger
}

// NewHTTPServer builds the server. ready reports whether the remote calendar
// has answered at least once; nil means always ready.
func NewHTTPServer(cfg config.APIConfig, b Booking, ready func() bool, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "http-api").Logger()
	}
	if ready == nil {
		ready = func() bool { return true }
	}

	srv := &HTTPServer{cfg: cfg, booking: b, ready: ready, logger: l}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/v1/slots", srv.handleSlots)
	mux.HandleFunc("/api/v1/reservations", srv.handleReservations)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) Handler() http.Handler { return s.server.Handler }

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting", "calendar": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "calendar": true})
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	loc := s.booking.Rules().Location
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateStr == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	day, err := time.ParseInLocation(dateLayout, dateStr, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	slots, err := s.booking.FreeSlots(r.Context(), day)
	switch {
	case errors.Is(err, booking.ErrPastSlot), errors.Is(err, booking.ErrOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case booking.IsUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, "calendar unavailable")
		return
	case err != nil:
		s.logger.Error().Err(err).Str("date", dateStr).Msg("free slots")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]string, 0, len(slots))
	for _, t := range slots {
		out = append(out, t.In(loc).Format("15:04"))
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": dateStr, "slots": out})
}

func (s *HTTPServer) handleReservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("user_id")), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	list, err := s.booking.Reservations(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("list reservations")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	type item struct {
		RecordCode string    `json:"record_code"`
		Start      time.Time `json:"start"`
		FullName   string    `json:"full_name"`
		Phone      string    `json:"phone"`
	}
	out := make([]item, 0, len(list))
	for _, res := range list {
		out = append(out, item{
			RecordCode: res.RecordCode,
			Start:      res.Start,
			FullName:   res.Fields.FullName,
			Phone:      res.Fields.Phone,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "reservations": out})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
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

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
