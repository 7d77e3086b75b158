package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
)

type fakeRally struct {
	calls []int64
}

func (f *fakeRally) SetRallyFromKill(_ context.Context, killID int64) (string, error) {
	f.calls = append(f.calls, killID)
	switch killID {
	case 1:
		return "Rally point set to J105012.", nil
	case 2:
		return "Could not set rally point. System Thera no longer on the map.",
			fmt.Errorf("rally point 31000005: %w", models.ErrSystemNotActive)
	case 3:
		return "", fmt.Errorf("locate kill 3: %w", models.ErrKillNotFound)
	}
	return "", models.Transient("GET killmail", errors.New("timeout"))
}

func newTestServer() (*Server, *fakeRally) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	rally := &fakeRally{}
	return New(":0", rally, log), rally
}

func post(t *testing.T, s *Server, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rally", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp.Message
}

func TestHandleRally(t *testing.T) {
	s, rally := newTestServer()

	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"url", `{"kill_url":"https://zkillboard.com/kill/1/"}`, http.StatusOK, "Rally point set to J105012."},
		{"id", `{"kill_id":1}`, http.StatusOK, "Rally point set to J105012."},
		{"not on map", `{"kill_id":2}`, http.StatusNotFound, "Could not set rally point. System Thera no longer on the map."},
		{"unknown kill", `{"kill_id":3}`, http.StatusNotFound, "Could not locate kill 3."},
		{"upstream error", `{"kill_id":4}`, http.StatusBadGateway, "Could not set rally point."},
		{"no link", `{"kill_url":"https://example.com/kill/1/"}`, http.StatusBadRequest, "Request did not contain a zkillboard link."},
		{"bad json", `{`, http.StatusBadRequest, "Invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := post(t, s, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.msg, msg)
		})
	}
	assert.Equal(t, []int64{1, 1, 2, 3, 4}, rally.calls)
}

func TestHandleRally_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rally", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestParseKillReference(t *testing.T) {
	tests := []struct {
		req  RallyRequest
		want int64
		ok   bool
	}{
		{RallyRequest{KillURL: "https://zkillboard.com/kill/118000001/"}, 118000001, true},
		{RallyRequest{KillURL: "see https://zkillboard.com/kill/42/ for details"}, 42, true},
		{RallyRequest{KillID: 7, KillURL: "garbage"}, 7, true},
		{RallyRequest{KillURL: "https://zkillboard.com/kill/abc/"}, 0, false},
		{RallyRequest{KillURL: "https://zkillboard.com/kill/42"}, 0, false},
		{RallyRequest{}, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseKillReference(tt.req)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseKillReference(%+v) = %d, %v; want %d, %v", tt.req, got, ok, tt.want, tt.ok)
		}
	}
}
