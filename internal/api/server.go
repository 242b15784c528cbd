// Package api is the thin HTTP control surface: session lifecycle, live
// subscription, peer-media signaling and session reports.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/sightline-data/sightline/internal/broadcast"
	"github.com/sightline-data/sightline/internal/camera"
	"github.com/sightline-data/sightline/internal/peermedia"
	"github.com/sightline-data/sightline/internal/report"
	"github.com/sightline-data/sightline/internal/session"
)

// ANSI escape codes for request log coloring
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Server routes control requests to the coordinator and its collaborators.
type Server struct {
	coord   *session.Coordinator
	fanout  *broadcast.Fanout
	peers   *peermedia.Hub
	reports *report.Renderer

	defaultConfidence float32
	defaultIOU        float32
}

// NewServer wires the control surface. peers and reports may be nil; their
// routes then return 404.
func NewServer(coord *session.Coordinator, fanout *broadcast.Fanout, peers *peermedia.Hub, reports *report.Renderer, defaultConfidence, defaultIOU float32) *Server {
	return &Server{
		coord:             coord,
		fanout:            fanout,
		peers:             peers,
		reports:           reports,
		defaultConfidence: defaultConfidence,
		defaultIOU:        defaultIOU,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the public API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSession)
	mux.HandleFunc("/api/live", s.fanout.Handler())
	mux.HandleFunc("/api/peer/offer", s.handlePeerOffer)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// startRequest is the POST /api/sessions body.
type startRequest struct {
	CameraIdentity      string         `json:"cameraId"`
	DeviceIndex         *int           `json:"deviceIndex,omitempty"`
	StreamURL           string         `json:"streamUrl,omitempty"`
	ConfidenceThreshold *float32       `json:"confidenceThreshold,omitempty"`
	IOUThreshold        *float32       `json:"iouThreshold,omitempty"`
	Zones               []session.Zone `json:"zones,omitempty"`
	Lines               []session.Line `json:"lines,omitempty"`
}

// handleSessions serves GET (list) and POST (start) on /api/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, s.coord.ListSessions())
	case http.MethodPost:
		s.startSession(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CameraIdentity == "" {
		s.writeJSONError(w, http.StatusBadRequest, "cameraId is required")
		return
	}

	sel := camera.DeviceSelector{URL: req.StreamURL}
	if req.DeviceIndex != nil {
		sel.Index = *req.DeviceIndex
	}

	cfg := session.Config{
		SessionID:           uuid.NewString(),
		CameraIdentity:      req.CameraIdentity,
		Selector:            sel,
		ConfidenceThreshold: s.defaultConfidence,
		IOUThreshold:        s.defaultIOU,
		Zones:               req.Zones,
		Lines:               req.Lines,
	}
	if req.ConfidenceThreshold != nil {
		cfg.ConfidenceThreshold = *req.ConfidenceThreshold
	}
	if req.IOUThreshold != nil {
		cfg.IOUThreshold = *req.IOUThreshold
	}

	if err := s.coord.StartSession(cfg); err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyRunning):
			s.writeJSONError(w, http.StatusConflict, err.Error())
		case errors.Is(err, camera.ErrDeviceUnavailable):
			s.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	snap, _ := s.coord.Status(cfg.SessionID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(snap)
}

// handleSession serves /api/sessions/{id}[/action]:
//
//	GET    /api/sessions/{id}          status snapshot
//	DELETE /api/sessions/{id}          stop
//	POST   /api/sessions/{id}/pause
//	POST   /api/sessions/{id}/resume
//	GET    /api/sessions/{id}/report   HTML analytics report
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing session id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		snap, ok := s.coord.Status(id)
		if !ok {
			s.writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		s.writeJSON(w, snap)

	case action == "" && r.Method == http.MethodDelete:
		if err := s.coord.StopSession(id); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				s.writeJSONError(w, http.StatusNotFound, err.Error())
				return
			}
			s.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.peers != nil {
			s.peers.CloseSession(id)
		}
		s.writeJSON(w, map[string]string{"status": "stopped"})

	case action == "pause" && r.Method == http.MethodPost:
		s.lifecycleAction(w, id, s.coord.Pause)

	case action == "resume" && r.Method == http.MethodPost:
		s.lifecycleAction(w, id, s.coord.Resume)

	case action == "report" && r.Method == http.MethodGet:
		if s.reports == nil {
			s.writeJSONError(w, http.StatusNotFound, "reports not enabled")
			return
		}
		s.reports.ServeSession(w, r, id)

	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) lifecycleAction(w http.ResponseWriter, id string, fn func(string) error) {
	if err := fn(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snap, _ := s.coord.Status(id)
	s.writeJSON(w, snap)
}

// peerOfferRequest carries a browser's SDP offer for a session stream.
type peerOfferRequest struct {
	SessionID string                    `json:"sessionId"`
	Offer     webrtc.SessionDescription `json:"offer"`
}

func (s *Server) handlePeerOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.peers == nil {
		s.writeJSONError(w, http.StatusNotFound, "peer media not enabled")
		return
	}

	var req peerOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if _, ok := s.coord.Status(req.SessionID); !ok {
		s.writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	answer, err := s.peers.HandleOffer(req.SessionID, req.Offer)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"answer": answer})
}
