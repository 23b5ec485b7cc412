package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/beamline-core/internal/audit"
	"github.com/nerrad567/beamline-core/internal/controlsys"
	"github.com/nerrad567/beamline-core/internal/devicedb"
	"github.com/nerrad567/beamline-core/internal/events"
	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/infrastructure/logging"
	"github.com/nerrad567/beamline-core/internal/infrastructure/metrics"
	"github.com/nerrad567/beamline-core/internal/screen"
)

func testSeed() *devicedb.Seed {
	accessors := map[string]string{
		"target_control": "PNEUMATIC",
		"target_status":  "TGT_STS",
	}
	return &devicedb.Seed{Devices: []devicedb.SeedDevice{
		{Name: "YAG01", Type: "PROF", BeamArea: "IN20", BeamPaths: []string{"CU_HXR"}, PVPrefix: "YAG01", Z: 10, Accessors: accessors},
		{Name: "YAG02", Type: "PROF", BeamArea: "IN20", BeamPaths: []string{"CU_HXR"}, PVPrefix: "YAG02", Z: 20, Accessors: accessors},
		{Name: "BPM01", Type: "BPM", BeamArea: "IN20", BeamPaths: []string{"CU_HXR"}, PVPrefix: "BPM01", Z: 15, Accessors: map[string]string{"x": "X"}},
	}}
}

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	mem     *controlsys.Memory
	screens *screen.Manager
	audit   *fakeAudit
}

// fakeAudit keeps audit entries in memory.
type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAudit) Create(_ context.Context, e *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []audit.Entry{}
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		if (filter.Action == "" || e.Action == filter.Action) && (filter.Device == "" || e.Device == filter.Device) {
			out = append(out, e)
		}
	}
	return &audit.ListResult{Entries: out, Total: len(out), Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Action
	}
	return out
}

// testServer creates a Server backed by the in-memory catalog and control system.
func testServer(t *testing.T) *testEnv {
	t.Helper()

	catalog, err := devicedb.NewMemoryCatalog()
	if err != nil {
		t.Fatalf("NewMemoryCatalog: %v", err)
	}
	if _, err := testSeed().Apply(context.Background(), catalog); err != nil {
		t.Fatalf("Apply seed: %v", err)
	}

	mem := controlsys.NewMemory()
	for _, n := range []string{"YAG01", "YAG02"} {
		mem.Set(n+":TGT_STS", screen.StatusOut)
		mem.Link(n+":PNEUMATIC", n+":TGT_STS", func(v any) any {
			if v == int64(screen.ControlIn) {
				return int64(screen.StatusIn)
			}
			return int64(screen.StatusOut)
		})
	}

	log := logging.Discard()
	dispatcher := events.NewDispatcher(log)
	manager := screen.NewManager(catalog, mem, dispatcher.Handler, screen.Config{
		AccessorTimeout: 500 * time.Millisecond,
	}, screen.Options{Logger: log})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		manager.CloseAll(ctx) //nolint:errcheck // test cleanup
	})

	auditRepo := &fakeAudit{}
	recorder := audit.NewRecorder(auditRepo, nil, 0)
	dispatcher.AddSink(recorder)
	t.Cleanup(recorder.Close)

	reg := metrics.New()
	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1"},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logger:   log,
		Catalog:  catalog,
		Screens:  manager,
		Events:   dispatcher,
		Registry: reg,
		Audit:    auditRepo,
		Recorder: recorder,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	hub := srv.Hub()
	dispatcher.AddSink(hub)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return &testEnv{srv: srv, http: ts, mem: mem, screens: manager, audit: auditRepo}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
	return resp, out
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() with no catalog should fail")
	}
}

func TestHealth(t *testing.T) {
	env := testServer(t)
	resp, body := env.do(t, http.MethodGet, "/api/v1/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("unexpected body %v", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestCatalogRoutes(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name   string
		path   string
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name:   "beam paths",
			path:   "/api/v1/beam-paths",
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				paths, _ := body["beam_paths"].([]any)
				if len(paths) != 1 || paths[0] != "CU_HXR" {
					t.Errorf("beam_paths = %v", body["beam_paths"])
				}
			},
		},
		{
			name:   "screens on path",
			path:   "/api/v1/beam-paths/CU_HXR/screens",
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				screens, _ := body["screens"].([]any)
				if len(screens) != 2 || screens[0] != "YAG01" {
					t.Errorf("screens = %v", body["screens"])
				}
			},
		},
		{name: "unknown path", path: "/api/v1/beam-paths/NOPE/screens", status: http.StatusNotFound},
		{name: "bad type", path: "/api/v1/beam-paths/CU_HXR/screens?type=NOPE", status: http.StatusBadRequest},
		{
			name:   "device",
			path:   "/api/v1/devices/YAG02",
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if body["name"] != "YAG02" {
					t.Errorf("name = %v", body["name"])
				}
			},
		},
		{name: "missing device", path: "/api/v1/devices/NOPE", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, tt.path, "")
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.status, body)
			}
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestScreenLifecycle(t *testing.T) {
	env := testServer(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/screens/YAG02/open", `{"beam_path":"CU_HXR"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open status = %d (%v)", resp.StatusCode, body)
	}
	if up, _ := body["upstream"].([]any); len(up) != 1 || up[0] != "YAG01" {
		t.Errorf("upstream = %v, want [YAG01]", body["upstream"])
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/screens", "")
	if resp.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("list = %d %v", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/screens/YAG02/target", `{"want_in":true}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("target status = %d, want 202", resp.StatusCode)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if v, _ := env.mem.Value("YAG02:TGT_STS"); v == int64(screen.StatusIn) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("target never moved in")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/screens/YAG02", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close status = %d, want 204", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodDelete, "/api/v1/screens/YAG02", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second close status = %d, want 404", resp.StatusCode)
	}
}

func TestScreenErrors(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"open unknown", http.MethodPost, "/api/v1/screens/NOPE/open", "", http.StatusNotFound},
		{"open non-screen", http.MethodPost, "/api/v1/screens/BPM01/open", "", http.StatusBadRequest},
		{"open bad json", http.MethodPost, "/api/v1/screens/YAG01/open", "{", http.StatusBadRequest},
		{"move not open", http.MethodPost, "/api/v1/screens/YAG01/target", `{"want_in":true}`, http.StatusNotFound},
		{"move missing field", http.MethodPost, "/api/v1/screens/YAG01/target", `{}`, http.StatusBadRequest},
		{"move bad json", http.MethodPost, "/api/v1/screens/YAG01/target", "nope", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d (%v)", resp.StatusCode, tt.status, body)
			}
		})
	}
}

func TestMetricsRoutes(t *testing.T) {
	env := testServer(t)

	resp, body := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok := body["runtime"]; !ok {
		t.Error("runtime section missing")
	}

	resp, err := http.Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d", resp.StatusCode)
	}
}

func TestWebSocketStreamsScreenEvents(t *testing.T) {
	env := testServer(t)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ScreenChannel("YAG01")}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // test

	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != WSTypeResponse {
		t.Fatalf("subscribe ack = %+v, %v", ack, err)
	}

	if resp, body := env.do(t, http.MethodPost, "/api/v1/screens/YAG01/open", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("open status = %d (%v)", resp.StatusCode, body)
	}

	for {
		var msg struct {
			Type      string       `json:"type"`
			EventType string       `json:"event_type"`
			Payload   events.Event `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if msg.Type == WSTypeEvent && msg.Payload.Accessor == screen.AccessorTargetStatus {
			if msg.Payload.Device != "YAG01" || msg.Payload.Value != false {
				t.Errorf("event = %+v", msg.Payload)
			}
			return
		}
	}
}

func TestAuditTrail(t *testing.T) {
	env := testServer(t)

	if resp, _ := env.do(t, http.MethodPost, "/api/v1/screens/YAG01/open", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("open status = %d", resp.StatusCode)
	}
	if resp, _ := env.do(t, http.MethodPost, "/api/v1/screens/YAG01/target", `{"want_in": true}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("move status = %d", resp.StatusCode)
	}
	if resp, _ := env.do(t, http.MethodDelete, "/api/v1/screens/YAG01", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close status = %d", resp.StatusCode)
	}

	want := []string{audit.ActionOpen, audit.ActionMoveRequest, audit.ActionClose}
	deadline := time.Now().Add(2 * time.Second)
	for len(env.audit.actions()) < len(want) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	got := env.audit.actions()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("audit actions = %v, want %v", got, want)
	}

	resp, body := env.do(t, http.MethodGet, "/api/v1/audit?device=YAG01&action=move_request", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit status = %d", resp.StatusCode)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want one move request", body["entries"])
	}
	details, _ := entries[0].(map[string]any)["details"].(map[string]any)
	if details["want_in"] != true {
		t.Errorf("details = %v", details)
	}

	if resp, _ := env.do(t, http.MethodGet, "/api/v1/audit?limit=abc", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}
}
