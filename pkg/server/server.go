// Package server exposes health, metrics and the rally point follow-up API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
)

var killURLPattern = regexp.MustCompile(`https://zkillboard\.com/kill/([0-9]+)/`)

// RallyHandler sets the rally point from a kill and returns the message
// shown to the requester.
type RallyHandler interface {
	SetRallyFromKill(ctx context.Context, killID int64) (string, error)
}

// RallyRequest references a kill by zKillboard URL or id.
type RallyRequest struct {
	KillURL string `json:"kill_url,omitempty"`
	KillID  int64  `json:"kill_id,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Server is the HTTP server.
type Server struct {
	addr       string
	rally      RallyHandler
	log        *logrus.Entry
	httpServer *http.Server
}

// New creates a server listening on addr.
func New(addr string, rally RallyHandler, log *logrus.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{addr: addr, rally: rally, log: log.WithField("component", "server")}
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/rally", s.handleRally)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server. It blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.addr).Info("Listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ParseKillReference extracts the kill id from a request.
func ParseKillReference(req RallyRequest) (int64, bool) {
	if req.KillID > 0 {
		return req.KillID, true
	}
	m := killURLPattern.FindStringSubmatch(req.KillURL)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleRally(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RallyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid JSON"})
		return
	}
	killID, ok := ParseKillReference(req)
	if !ok {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Request did not contain a zkillboard link."})
		return
	}

	msg, err := s.rally.SetRallyFromKill(r.Context(), killID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, messageResponse{Message: msg})
	case errors.Is(err, models.ErrSystemNotActive):
		writeJSON(w, http.StatusNotFound, messageResponse{Message: msg})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, messageResponse{Message: "Could not locate kill " + strconv.FormatInt(killID, 10) + "."})
	default:
		s.log.WithError(err).WithField("kill_id", killID).Error("Rally request failed")
		writeJSON(w, http.StatusBadGateway, messageResponse{Message: "Could not set rally point."})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
