package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/krystian-wojtas/skydive/internal/action"
	"github.com/krystian-wojtas/skydive/internal/auth"
	"github.com/krystian-wojtas/skydive/internal/config"
	"github.com/krystian-wojtas/skydive/internal/message"
	"github.com/krystian-wojtas/skydive/internal/monitor"
	"github.com/krystian-wojtas/skydive/internal/store"
	"github.com/krystian-wojtas/skydive/internal/telemetry"
)

const testSecret = "api-test-secret"

type fakeMonitor struct {
	mu       sync.Mutex
	startErr error
	abortErr error
	started  []action.Type
	pilot    []message.PilotEvent
	events   []message.UavEvent
}

func (m *fakeMonitor) LinkID() string { return "uav-0" }

func (m *fakeMonitor) StartAction(ctx context.Context, t action.Type) (monitor.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return monitor.Status{}, m.startErr
	}
	m.started = append(m.started, t)
	return monitor.Status{Link: "uav-0", Active: true, Action: t.String(), State: "STARTED"}, nil
}

func (m *fakeMonitor) AbortAction(ctx context.Context) error {
	return m.abortErr
}

func (m *fakeMonitor) DispatchPilotEvent(event message.PilotEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pilot = append(m.pilot, event)
	return nil
}

func (m *fakeMonitor) pilotEvents() []message.PilotEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]message.PilotEvent(nil), m.pilot...)
}

func (m *fakeMonitor) Status() monitor.Status {
	return monitor.Status{Link: "uav-0"}
}

func (m *fakeMonitor) UavEvents() []message.UavEvent {
	return m.events
}

type fixture struct {
	monitor *fakeMonitor
	hub     *telemetry.Hub
	server  *Server
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	v, err := auth.NewHS256Verifier(testSecret)
	if err != nil {
		t.Fatalf("NewHS256Verifier failed: %v", err)
	}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	m := &fakeMonitor{}
	hub := telemetry.NewHub(config.TelemetryConfig{HeartbeatInterval: time.Hour})
	t.Cleanup(hub.Stop)

	s := NewServer(config.APIConfig{}, m, hub, auth.NewMiddleware(v), logrus.NewEntry(log))
	return &fixture{monitor: m, hub: hub, server: s, handler: s.Handler()}
}

func token(t *testing.T, scopes ...string) string {
	t.Helper()
	claims := &auth.Claims{Scopes: scopes}
	claims.Subject = "pilot-1"
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	return s
}

func (f *fixture) do(t *testing.T, method, path, tok, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid envelope %q: %v", rec.Body.String(), err)
	}
	if resp.CorrelationID == "" {
		t.Error("Expected a correlation id")
	}
	return rec, resp
}

func TestHealthNeedsNoAuth(t *testing.T) {
	f := newFixture(t)
	rec, resp := f.do(t, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusOK || resp.Result != "ok" {
		t.Fatalf("Expected ok, got %d %+v", rec.Code, resp)
	}
	data := resp.Data.(map[string]interface{})
	if data["link"] != "uav-0" {
		t.Errorf("Expected link uav-0, got %v", data["link"])
	}
}

func TestAuthAndScopes(t *testing.T) {
	f := newFixture(t)
	read := token(t, auth.ScopeRead)
	control := token(t, auth.ScopeRead, auth.ScopeControl)

	tests := []struct {
		name   string
		method string
		path   string
		tok    string
		body   string
		want   int
	}{
		{"status without token", http.MethodGet, "/api/v1/status", "", "", http.StatusUnauthorized},
		{"status with read", http.MethodGet, "/api/v1/status", read, "", http.StatusOK},
		{"start with read", http.MethodPost, "/api/v1/actions", read, `{"type":"connect"}`, http.StatusForbidden},
		{"start with control", http.MethodPost, "/api/v1/actions", control, `{"type":"connect"}`, http.StatusOK},
		{"unknown route", http.MethodGet, "/api/v1/nope", control, "", http.StatusNotFound},
		{"wrong method", http.MethodPost, "/api/v1/health", "", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := f.do(t, tt.method, tt.path, tt.tok, tt.body)
			if rec.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestStartAction(t *testing.T) {
	control := token(t, auth.ScopeRead, auth.ScopeControl)

	tests := []struct {
		name     string
		body     string
		startErr error
		want     int
		wantCode string
	}{
		{"radio calibration", `{"type":"radio_calibration"}`, nil, http.StatusOK, ""},
		{"unknown type", `{"type":"barrel_roll"}`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"malformed", `{"type":`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown field", `{"type":"connect","force":true}`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"trailing data", `{"type":"connect"}{}`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"busy", `{"type":"connect"}`, fmt.Errorf("%w: radio_calibration running", monitor.ErrBusy), http.StatusServiceUnavailable, "BUSY"},
		{"closed", `{"type":"connect"}`, monitor.ErrClosed, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{
			"state error", `{"type":"connect"}`,
			&action.StateError{Code: action.ErrAlreadyStarted, Action: action.TypeConnect, State: "INITIAL_COMMAND"},
			http.StatusConflict, action.ErrAlreadyStarted.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.monitor.startErr = tt.startErr
			rec, resp := f.do(t, http.MethodPost, "/api/v1/actions", control, tt.body)

			if rec.Code != tt.want {
				t.Fatalf("Expected status %d, got %d (%+v)", tt.want, rec.Code, resp)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("Expected code %q, got %q", tt.wantCode, resp.Code)
			}
			if tt.want == http.StatusOK {
				if len(f.monitor.started) != 1 || f.monitor.started[0] != action.TypeRadioCalibration {
					t.Errorf("Expected radio calibration started, got %v", f.monitor.started)
				}
				data := resp.Data.(map[string]interface{})
				if data["action"] != "radio_calibration" || data["active"] != true {
					t.Errorf("Expected active radio_calibration status, got %v", data)
				}
			}
		})
	}
}

func TestAbortWithoutAction(t *testing.T) {
	f := newFixture(t)
	f.monitor.abortErr = monitor.ErrNoActiveAction
	rec, resp := f.do(t, http.MethodPost, "/api/v1/actions/abort", token(t, auth.ScopeControl), "")
	if rec.Code != http.StatusNotFound || resp.Code != "NO_ACTIVE_ACTION" {
		t.Errorf("Expected 404 NO_ACTIVE_ACTION, got %d %s", rec.Code, resp.Code)
	}
}

func TestPilot(t *testing.T) {
	f := newFixture(t)
	control := token(t, auth.ScopeControl)

	rec, resp := f.do(t, http.MethodPost, "/api/v1/pilot", control, `{"kind":"abort"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%+v)", rec.Code, resp)
	}
	got := f.monitor.pilotEvents()
	if len(got) != 1 || got[0].Kind != message.PilotAbort {
		t.Errorf("Expected one abort event, got %+v", got)
	}

	for _, body := range []string{`{"kind":"jump"}`, `{"kind":"none"}`, `{}`} {
		if rec, _ := f.do(t, http.MethodPost, "/api/v1/pilot", control, body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestUavEventsUseNames(t *testing.T) {
	f := newFixture(t)
	f.monitor.events = []message.UavEvent{message.NewUavEvent(message.UavConnected, "")}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/uav-events", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, auth.ScopeRead))
	f.handler.ServeHTTP(rec, req)

	if !bytes.Contains(rec.Body.Bytes(), []byte(`"type":"CONNECTED"`)) {
		t.Errorf("Expected event names in body, got %s", rec.Body.String())
	}
}

func TestCalibrationEndpoints(t *testing.T) {
	f := newFixture(t)
	read := token(t, auth.ScopeRead)

	if rec, resp := f.do(t, http.MethodGet, "/api/v1/calibration/radio", read, ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a store, got %d (%+v)", rec.Code, resp)
	}

	s, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer s.Close()
	f.server.SetCalibrationReader(s)

	if rec, resp := f.do(t, http.MethodGet, "/api/v1/calibration/radio", read, ""); rec.Code != http.StatusNotFound || resp.Code != "NOT_FOUND" {
		t.Errorf("Expected 404 NOT_FOUND, got %d %s", rec.Code, resp.Code)
	}

	cal := message.RadioCalibration{Channels: []message.ChannelRange{{Min: 1000, Center: 1500, Max: 2000}}}
	if err := s.SaveRadioCalibration("uav-0", cal); err != nil {
		t.Fatalf("SaveRadioCalibration failed: %v", err)
	}
	rec, resp := f.do(t, http.MethodGet, "/api/v1/calibration/radio", read, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%+v)", rec.Code, resp)
	}
	data := resp.Data.(map[string]interface{})
	if data["linkId"] != "uav-0" {
		t.Errorf("Expected linkId uav-0, got %v", data["linkId"])
	}

	if rec, _ := f.do(t, http.MethodGet, "/api/v1/calibration/settings", read, ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for settings, got %d", rec.Code)
	}
}

func TestTelemetryStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/telemetry?access_token="+token(t, auth.ScopeRead), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET telemetry failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Expected event stream, got %s", ct)
	}
}

func TestConsole(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/console?access_token=" + token(t, auth.ScopeControl)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"control","roll":0.25}`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(f.monitor.pilotEvents()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := f.monitor.pilotEvents()
	if len(got) != 1 || got[0].Kind != message.PilotControl || got[0].Roll != 0.25 {
		t.Fatalf("Expected one control event, got %+v", got)
	}

	// Telemetry for the link reaches the socket
	for f.hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := f.hub.PublishLink("uav-0", telemetry.Event{Type: "actionState", Data: map[string]interface{}{"state": "IDLE"}}); err != nil {
		t.Fatalf("PublishLink failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var event telemetry.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if event.Type != "actionState" {
		t.Errorf("Expected actionState, got %s", event.Type)
	}

	// Bad input is answered with an error frame
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if event.Type != "error" || event.Data["code"] != "BAD_REQUEST" {
		t.Errorf("Expected BAD_REQUEST error frame, got %+v", event)
	}
}

func TestConsoleRequiresControl(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/console?access_token=" + token(t, auth.ScopeRead)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected the dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %v", resp)
	}
}
