package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/krystian-wojtas/skydive/internal/action"
	"github.com/krystian-wojtas/skydive/internal/auth"
	"github.com/krystian-wojtas/skydive/internal/message"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 4096

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", fmt.Sprintf("Method %s not allowed", r.Method))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireAuth)

			r.Group(func(r chi.Router) {
				r.Use(s.auth.RequireScope(auth.ScopeRead))
				r.Get("/status", s.handleStatus)
				r.Get("/uav-events", s.handleUavEvents)
				r.Get("/calibration/radio", s.handleRadioCalibration)
				r.Get("/calibration/settings", s.handleCalibrationSettings)
				r.Handle("/telemetry", s.hub)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.auth.RequireScope(auth.ScopeControl))
				r.Post("/actions", s.handleStartAction)
				r.Post("/actions/abort", s.handleAbortAction)
				r.Post("/pilot", s.handlePilot)
				r.Get("/console", s.handleConsole)
			})
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"latencyMs": time.Since(start).Milliseconds(),
			"requestId": middleware.GetReqID(r.Context()),
		}).Debug("Request served")
	})
}

// handleHealth handles GET /health. No authentication.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]interface{}{
		"status":        "ok",
		"link":          s.monitor.LinkID(),
		"uptimeSeconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, s.monitor.Status())
}

// handleUavEvents handles GET /uav-events
func (s *Server) handleUavEvents(w http.ResponseWriter, r *http.Request) {
	events := s.monitor.UavEvents()
	if events == nil {
		events = []message.UavEvent{}
	}
	WriteSuccess(w, events)
}

func (s *Server) handleRadioCalibration(w http.ResponseWriter, r *http.Request) {
	if s.calibration == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Calibration store not configured")
		return
	}
	rec, err := s.calibration.LatestRadioCalibration(s.monitor.LinkID())
	if err != nil {
		WriteErrorFrom(w, err)
		return
	}
	WriteSuccess(w, rec)
}

func (s *Server) handleCalibrationSettings(w http.ResponseWriter, r *http.Request) {
	if s.calibration == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Calibration store not configured")
		return
	}
	rec, err := s.calibration.LatestCalibrationSettings(s.monitor.LinkID())
	if err != nil {
		WriteErrorFrom(w, err)
		return
	}
	WriteSuccess(w, rec)
}

// handleStartAction handles POST /actions {"type":"radio_calibration"}
func (s *Server) handleStartAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		WriteErrorFrom(w, err)
		return
	}

	t, err := action.ParseType(req.Type)
	if err != nil {
		WriteErrorFrom(w, err)
		return
	}

	status, err := s.monitor.StartAction(r.Context(), t)
	if err != nil {
		WriteErrorFrom(w, err)
		return
	}
	WriteSuccess(w, status)
}

// handleAbortAction handles POST /actions/abort
func (s *Server) handleAbortAction(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.AbortAction(r.Context()); err != nil {
		WriteErrorFrom(w, err)
		return
	}
	WriteSuccess(w, s.monitor.Status())
}

// handlePilot handles POST /pilot {"kind":"abort"}
func (s *Server) handlePilot(w http.ResponseWriter, r *http.Request) {
	var event message.PilotEvent
	if err := decodeJSON(w, r, &event); err != nil {
		WriteErrorFrom(w, err)
		return
	}
	if event.Kind == message.PilotNone {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Missing pilot event kind")
		return
	}

	if err := s.monitor.DispatchPilotEvent(event); err != nil {
		WriteErrorFrom(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"accepted": event.Kind.String()})
}

// decodeJSON reads exactly one JSON object with no unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", ErrBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: trailing data after JSON object", ErrBadRequest)
	}
	return nil
}
