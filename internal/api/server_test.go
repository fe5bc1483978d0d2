package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/eblock12/HomeNet/internal/audit"
	"github.com/eblock12/HomeNet/internal/auth"
	"github.com/eblock12/HomeNet/internal/bridges/zwave"
	"github.com/eblock12/HomeNet/internal/device"
	"github.com/eblock12/HomeNet/internal/infrastructure/config"
	"github.com/eblock12/HomeNet/internal/infrastructure/database"
	"github.com/eblock12/HomeNet/internal/infrastructure/logging"
	"github.com/eblock12/HomeNet/internal/infrastructure/metrics"
	"github.com/eblock12/HomeNet/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

// testBackend serves a fixed document. A nil gate loads immediately; a nil
// document is reported as not existing yet.
type testBackend struct {
	gate chan struct{}
	doc  []byte
	err  error

	mu     sync.Mutex
	writes [][]byte
}

func (b *testBackend) Location() string { return "test" }

func (b *testBackend) Load(ctx context.Context) ([]byte, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	if b.doc == nil {
		return nil, fs.ErrNotExist
	}
	return b.doc, nil
}

func (b *testBackend) Store(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, slices.Clone(data))
	return nil
}

func (b *testBackend) lastWrite() (string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.writes) == 0 {
		return "", 0
	}
	return string(b.writes[len(b.writes)-1]), len(b.writes)
}

type fakeWrite struct {
	node  device.NodeID
	name  string
	value any
}

// fakeDriver is an in-memory Driver.
type fakeDriver struct {
	mu       sync.Mutex
	nodes    map[device.NodeID]map[string]any
	readOnly map[string]bool
	writeErr error
	writes   []fakeWrite
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		nodes: map[device.NodeID]map[string]any{
			5: {"Switch": true, "Level": 40.0, "Power": 12.5},
		},
		readOnly: map[string]bool{"Power": true},
	}
}

func (d *fakeDriver) ReadValue(node device.NodeID, name string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.nodes[node][name]
	return v, ok
}

func (d *fakeDriver) ReadValues(node device.NodeID) (map[string]any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	values, ok := d.nodes[node]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out, true
}

func (d *fakeDriver) WriteValue(_ context.Context, node device.NodeID, name string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		return d.writeErr
	}
	values, ok := d.nodes[node]
	if !ok {
		return zwave.ErrNodeNotFound
	}
	if _, ok := values[name]; !ok {
		return zwave.ErrValueNotFound
	}
	if d.readOnly[name] {
		return fmt.Errorf("%w: %s", zwave.ErrReadOnly, name)
	}
	d.writes = append(d.writes, fakeWrite{node: node, name: name, value: value})
	values[name] = value
	return nil
}

func (d *fakeDriver) Nodes() []zwave.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]zwave.Node, 0, len(d.nodes))
	for id := range d.nodes {
		out = append(out, zwave.Node{ID: id, Ready: true})
	}
	return out
}

func (d *fakeDriver) Ready() bool { return true }

type testOptions struct {
	backend *testBackend
	driver  Driver
	auth    *auth.Authenticator
	audit   audit.Repository
	metrics *metrics.Metrics
	origins []string
}

// newTestServer starts a server on a loopback port. The store is loaded
// before it returns unless the backend is gated.
func newTestServer(t *testing.T, opts testOptions) *Server {
	t.Helper()

	log := testLogger()
	if opts.backend == nil {
		opts.backend = &testBackend{}
	}
	store := device.NewStore(device.Options{Backend: opts.backend, Logger: log})
	store.Start(context.Background())
	t.Cleanup(store.Close)
	if opts.backend.gate == nil {
		if err := store.WaitLoaded(context.Background()); err != nil {
			t.Fatalf("WaitLoaded() error = %v", err)
		}
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			CORS:     config.CORSConfig{AllowedOrigins: opts.origins},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  log,
		Store:   store,
		Driver:  opts.driver,
		Auth:    opts.auth,
		Audit:   opts.audit,
		Metrics: opts.metrics,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // test cleanup
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, want, rec.Body.String())
	}
}

func TestNew_RequiresLoggerAndStore(t *testing.T) {
	if _, err := New(Deps{Store: device.NewStore(device.Options{})}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without store should fail")
	}
}

func TestServer_StartBindsAndCloses(t *testing.T) {
	srv := newTestServer(t, testOptions{})
	if srv.Addr() == nil {
		t.Fatal("Addr() = nil after Start")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		backend    *testBackend
		wantCode   int
		wantStatus string
		wantStore  string
	}{
		{"ready", &testBackend{}, http.StatusOK, "ok", "ready"},
		{"loading", &testBackend{gate: make(chan struct{})}, http.StatusOK, "starting", "loading"},
		{"unavailable", &testBackend{err: errors.New("disk on fire")}, http.StatusServiceUnavailable, "degraded", "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.backend.gate != nil {
				t.Cleanup(func() { close(tt.backend.gate) })
			}
			srv := newTestServer(t, testOptions{backend: tt.backend})

			rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", "", "")
			wantStatus(t, rec, tt.wantCode)
			body := decodeBody[map[string]any](t, rec)
			if body["status"] != tt.wantStatus || body["store"] != tt.wantStore {
				t.Errorf("body = %v, want status %q store %q", body, tt.wantStatus, tt.wantStore)
			}
			if body["version"] != "test" {
				t.Errorf("version = %v", body["version"])
			}
		})
	}
}

func TestDevices_CRUD(t *testing.T) {
	srv := newTestServer(t, testOptions{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/devices", `{"name":"Lamp","nodeID":5}`, "")
	wantStatus(t, rec, http.StatusCreated)
	created := decodeBody[deviceResponse](t, rec)
	if diff := cmp.Diff(deviceResponse{ID: 1, Name: "Lamp", NodeID: 5}, created); diff != "" {
		t.Errorf("created mismatch (-want +got):\n%s", diff)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/devices", "", "")
	wantStatus(t, rec, http.StatusOK)
	list := decodeBody[struct {
		Devices []deviceResponse `json:"devices"`
		Count   int              `json:"count"`
	}](t, rec)
	if list.Count != 1 || len(list.Devices) != 1 || list.Devices[0] != created {
		t.Errorf("list = %+v", list)
	}

	rec = doRequest(t, srv, http.MethodPatch, "/api/v1/devices/1", `{"name":"Desk Lamp"}`, "")
	wantStatus(t, rec, http.StatusOK)
	if got := decodeBody[deviceResponse](t, rec); got.Name != "Desk Lamp" || got.NodeID != 5 {
		t.Errorf("patched = %+v", got)
	}

	rec = doRequest(t, srv, http.MethodPatch, "/api/v1/devices/1", `{"nodeID":7}`, "")
	wantStatus(t, rec, http.StatusOK)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/devices/1", "", "")
	wantStatus(t, rec, http.StatusOK)
	if diff := cmp.Diff(deviceResponse{ID: 1, Name: "Desk Lamp", NodeID: 7}, decodeBody[deviceResponse](t, rec)); diff != "" {
		t.Errorf("device mismatch (-want +got):\n%s", diff)
	}

	wantStatus(t, doRequest(t, srv, http.MethodDelete, "/api/v1/devices/1", "", ""), http.StatusNoContent)
	wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/devices/1", "", ""), http.StatusNotFound)
	wantStatus(t, doRequest(t, srv, http.MethodDelete, "/api/v1/devices/1", "", ""), http.StatusNotFound)
}

func TestDevices_Validation(t *testing.T) {
	srv := newTestServer(t, testOptions{})
	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/devices", `{"name":"Lamp","nodeID":5}`, ""), http.StatusCreated)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"create invalid json", http.MethodPost, "/api/v1/devices", `{`, http.StatusBadRequest},
		{"create no name", http.MethodPost, "/api/v1/devices", `{"nodeID":5}`, http.StatusBadRequest},
		{"create no node", http.MethodPost, "/api/v1/devices", `{"name":"x"}`, http.StatusBadRequest},
		{"create zero node", http.MethodPost, "/api/v1/devices", `{"name":"x","nodeID":0}`, http.StatusBadRequest},
		{"get bad id", http.MethodGet, "/api/v1/devices/abc", "", http.StatusBadRequest},
		{"get negative id", http.MethodGet, "/api/v1/devices/-1", "", http.StatusBadRequest},
		{"get missing", http.MethodGet, "/api/v1/devices/42", "", http.StatusNotFound},
		{"patch empty", http.MethodPatch, "/api/v1/devices/1", `{}`, http.StatusBadRequest},
		{"patch empty name", http.MethodPatch, "/api/v1/devices/1", `{"name":""}`, http.StatusBadRequest},
		{"patch bad node", http.MethodPatch, "/api/v1/devices/1", `{"nodeID":-3}`, http.StatusBadRequest},
		{"patch missing", http.MethodPatch, "/api/v1/devices/42", `{"name":"x"}`, http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/v1/nope", "", http.StatusNotFound},
		{"wrong method", http.MethodPut, "/api/v1/devices", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, tt.method, tt.path, tt.body, "")
			wantStatus(t, rec, tt.want)
			if e := decodeBody[Error](t, rec); e.Status != tt.want || e.Code == "" {
				t.Errorf("error body = %+v", e)
			}
		})
	}
}

func TestDevices_StoreLoading(t *testing.T) {
	backend := &testBackend{gate: make(chan struct{}), doc: []byte(`{"Devices":[{"ID":3,"Name":"Fan","NodeID":9}]}`)}
	srv := newTestServer(t, testOptions{backend: backend})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/devices", `{"name":"Lamp","nodeID":5}`, "")
	wantStatus(t, rec, http.StatusServiceUnavailable)
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
	if e := decodeBody[Error](t, rec); e.Message != msgStoreLoading || e.Code != ErrCodeStoreLoading {
		t.Errorf("error = %+v", e)
	}
	wantStatus(t, doRequest(t, srv, http.MethodDelete, "/api/v1/devices/3", "", ""), http.StatusServiceUnavailable)
	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/system/save", "", ""), http.StatusServiceUnavailable)

	close(backend.gate)
	if err := srv.store.WaitLoaded(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/devices", `{"name":"Lamp","nodeID":5}`, "")
	wantStatus(t, rec, http.StatusCreated)
	if got := decodeBody[deviceResponse](t, rec); got.ID != 4 {
		t.Errorf("new id = %d, want 4", got.ID)
	}
}

func TestDevices_StoreUnavailable(t *testing.T) {
	srv := newTestServer(t, testOptions{backend: &testBackend{doc: []byte(`not json`)}})

	for _, path := range []string{"/api/v1/devices", "/api/v1/devices/1"} {
		rec := doRequest(t, srv, http.MethodGet, path, "", "")
		wantStatus(t, rec, http.StatusServiceUnavailable)
		if e := decodeBody[Error](t, rec); e.Message != msgStoreUnavailable || e.Code != ErrCodeStoreDown {
			t.Errorf("%s: error = %+v", path, e)
		}
	}
	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/devices", `{"name":"x","nodeID":1}`, ""), http.StatusServiceUnavailable)
	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/system/save", "", ""), http.StatusServiceUnavailable)
}

func TestValues(t *testing.T) {
	driver := newFakeDriver()
	srv := newTestServer(t, testOptions{driver: driver})
	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/devices", `{"name":"Dimmer","nodeID":5}`, ""), http.StatusCreated)
	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/devices", `{"name":"Ghost","nodeID":9}`, ""), http.StatusCreated)

	t.Run("list values", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices/1/values", "", "")
		wantStatus(t, rec, http.StatusOK)
		want := map[string]any{"Switch": true, "Level": 40.0, "Power": 12.5}
		if diff := cmp.Diff(want, decodeBody[map[string]any](t, rec)); diff != "" {
			t.Errorf("values mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("single value", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices/1/values/Level", "", "")
		wantStatus(t, rec, http.StatusOK)
		if got := decodeBody[float64](t, rec); got != 40 {
			t.Errorf("Level = %v, want 40", got)
		}
	})

	t.Run("unknown node", func(t *testing.T) {
		wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/devices/2/values", "", ""), http.StatusNotFound)
	})

	t.Run("unknown value", func(t *testing.T) {
		wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/devices/1/values/Color", "", ""), http.StatusNotFound)
	})

	t.Run("unknown device", func(t *testing.T) {
		wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/devices/77/values", "", ""), http.StatusNotFound)
	})

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"missing value member", "/api/v1/devices/1/values/Level", `{"level":1}`, http.StatusBadRequest},
		{"invalid json", "/api/v1/devices/1/values/Level", `nope`, http.StatusBadRequest},
		{"unknown device", "/api/v1/devices/77/values/Level", `{"value":1}`, http.StatusNotFound},
		{"unknown value", "/api/v1/devices/1/values/Color", `{"value":1}`, http.StatusNotFound},
		{"unknown node", "/api/v1/devices/2/values/Level", `{"value":1}`, http.StatusNotFound},
		{"read-only", "/api/v1/devices/1/values/Power", `{"value":1}`, http.StatusConflict},
		{"write", "/api/v1/devices/1/values/Level", `{"value":99}`, http.StatusCreated},
		{"null", "/api/v1/devices/1/values/Switch", `{"value":null}`, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run("set "+tt.name, func(t *testing.T) {
			wantStatus(t, doRequest(t, srv, http.MethodPost, tt.path, tt.body, ""), tt.want)
		})
	}

	driver.mu.Lock()
	writes := slices.Clone(driver.writes)
	driver.mu.Unlock()
	want := []fakeWrite{{node: 5, name: "Level", value: 99.0}, {node: 5, name: "Switch", value: nil}}
	if diff := cmp.Diff(want, writes, cmp.AllowUnexported(fakeWrite{})); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}

	t.Run("driver failure", func(t *testing.T) {
		driver.mu.Lock()
		driver.writeErr = errors.New("broker down")
		driver.mu.Unlock()

		rec := doRequest(t, srv, http.MethodPost, "/api/v1/devices/1/values/Level", `{"value":1}`, "")
		wantStatus(t, rec, http.StatusInternalServerError)
		if e := decodeBody[Error](t, rec); e.Code != ErrCodeDriverFailed {
			t.Errorf("code = %q, want %q", e.Code, ErrCodeDriverFailed)
		}
	})
}

func TestValues_NoDriver(t *testing.T) {
	srv := newTestServer(t, testOptions{})
	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/devices", `{"name":"Dimmer","nodeID":5}`, ""), http.StatusCreated)

	wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/devices/1/values", "", ""), http.StatusServiceUnavailable)
	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/devices/1/values/Level", `{"value":1}`, ""), http.StatusServiceUnavailable)
	wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/nodes", "", ""), http.StatusServiceUnavailable)
}

func TestSave(t *testing.T) {
	backend := &testBackend{}
	srv := newTestServer(t, testOptions{backend: backend})
	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/devices", `{"name":"Lamp","nodeID":5}`, ""), http.StatusCreated)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/system/save", "", "")
	wantStatus(t, rec, http.StatusOK)
	got := decodeBody[saveResponse](t, rec)
	if got.Dirty || got.Devices != 1 || got.Saves != 1 || got.State != "ready" || got.LastSavedAt == "" {
		t.Errorf("save response = %+v", got)
	}

	doc, writes := backend.lastWrite()
	if writes != 1 || !strings.Contains(doc, `"Lamp"`) {
		t.Errorf("backend writes = %d, last = %s", writes, doc)
	}

	// Nothing changed, so nothing is written.
	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/system/save", "", ""), http.StatusOK)
	if _, n := backend.lastWrite(); n != 1 {
		t.Errorf("backend writes = %d after clean save, want 1", n)
	}
}

func TestNodes(t *testing.T) {
	srv := newTestServer(t, testOptions{driver: newFakeDriver()})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/nodes", "", "")
	wantStatus(t, rec, http.StatusOK)
	body := decodeBody[struct {
		Nodes []zwave.Node `json:"nodes"`
		Count int          `json:"count"`
		Ready bool         `json:"ready"`
	}](t, rec)
	if body.Count != 1 || !body.Ready || body.Nodes[0].ID != 5 {
		t.Errorf("nodes = %+v", body)
	}
}

func newTestAuthenticator(t *testing.T) *auth.Authenticator {
	t.Helper()
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return auth.NewAuthenticator("admin", hash, testSecret, time.Minute)
}

func login(t *testing.T, srv *Server) string {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/auth/login", `{"username":"admin","password":"s3cret"}`, "")
	wantStatus(t, rec, http.StatusOK)
	resp := decodeBody[loginResponse](t, rec)
	if resp.TokenType != "Bearer" || resp.AccessToken == "" || resp.ExpiresIn <= 0 {
		t.Fatalf("login response = %+v", resp)
	}
	return resp.AccessToken
}

func TestAuth(t *testing.T) {
	srv := newTestServer(t, testOptions{auth: newTestAuthenticator(t)})

	t.Run("health is open", func(t *testing.T) {
		wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/health", "", ""), http.StatusOK)
	})

	t.Run("missing token", func(t *testing.T) {
		wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/devices", "", ""), http.StatusUnauthorized)
	})

	t.Run("garbage token", func(t *testing.T) {
		wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/devices", "", "junk"), http.StatusUnauthorized)
	})

	t.Run("foreign token", func(t *testing.T) {
		token, _, err := auth.GenerateAccessToken("admin", "another-secret-that-is-also-long-enough", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/devices", "", token), http.StatusUnauthorized)
	})

	t.Run("bad credentials", func(t *testing.T) {
		for _, body := range []string{
			`{"username":"admin","password":"wrong"}`,
			`{"username":"root","password":"s3cret"}`,
		} {
			wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/auth/login", body, ""), http.StatusUnauthorized)
		}
		wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/auth/login", `{`, ""), http.StatusBadRequest)
	})

	t.Run("login and use token", func(t *testing.T) {
		token := login(t, srv)
		wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/devices", "", token), http.StatusOK)
		wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/devices", `{"name":"Lamp","nodeID":5}`, token), http.StatusCreated)
	})

	t.Run("ws ticket needs token", func(t *testing.T) {
		wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/auth/ws-ticket", "", ""), http.StatusUnauthorized)

		rec := doRequest(t, srv, http.MethodPost, "/api/v1/auth/ws-ticket", "", login(t, srv))
		wantStatus(t, rec, http.StatusOK)
		if body := decodeBody[map[string]any](t, rec); body["ticket"] == "" || body["expires_in"] != 60.0 {
			t.Errorf("ticket response = %v", body)
		}
	})
}

func TestAuth_Disabled(t *testing.T) {
	srv := newTestServer(t, testOptions{})
	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/auth/login", `{"username":"a","password":"b"}`, ""), http.StatusNotFound)
	wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/devices", "", ""), http.StatusOK)
}

func TestTicketStore(t *testing.T) {
	ts := newTicketStore()

	ticket := ts.issue("admin")
	if len(ticket) != ticketBytes*2 {
		t.Errorf("ticket length = %d", len(ticket))
	}
	if user, ok := ts.redeem(ticket); !ok || user != "admin" {
		t.Errorf("redeem() = %q, %v; want admin, true", user, ok)
	}
	if _, ok := ts.redeem(ticket); ok {
		t.Error("ticket redeemed twice")
	}

	expired := ts.issue("admin")
	ts.mu.Lock()
	entry := ts.tickets[expired]
	entry.expiresAt = time.Now().Add(-time.Second)
	ts.tickets[expired] = entry
	ts.mu.Unlock()

	ts.cleanExpired()
	if _, ok := ts.redeem(expired); ok {
		t.Error("expired ticket accepted")
	}
}

func dialWS(t *testing.T, srv *Server, query string) (*websocket.Conn, int, error) {
	t.Helper()
	url := "ws://" + srv.Addr().String() + "/api/v1/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	code := 0
	if resp != nil {
		code = resp.StatusCode
		resp.Body.Close()
	}
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, code, err
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // read errors fail below
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv := newTestServer(t, testOptions{})

	conn, _, err := dialWS(t, srv, "")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	if err := conn.WriteJSON(map[string]any{
		"type":    WSTypeSubscribe,
		"id":      "sub-1",
		"payload": map[string]any{"channels": []string{EventDeviceCreated}},
	}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}

	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/devices", `{"name":"Lamp","nodeID":5}`, ""), http.StatusCreated)

	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != EventDeviceCreated {
		t.Fatalf("event = %+v", msg)
	}
	var payload deviceResponse
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload != (deviceResponse{ID: 1, Name: "Lamp", NodeID: 5}) {
		t.Errorf("payload = %+v", payload)
	}

	if err := conn.WriteJSON(map[string]any{"type": WSTypePing, "id": "p"}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong || msg.ID != "p" {
		t.Errorf("ping reply = %+v", msg)
	}

	tests := []struct {
		name string
		send string
	}{
		{"bad json", `{`},
		{"unknown type", `{"type":"dance"}`},
		{"no channels", `{"type":"subscribe","payload":{"channels":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.send)); err != nil {
				t.Fatal(err)
			}
			if msg := readWS(t, conn); msg.Type != WSTypeError {
				t.Errorf("reply = %+v, want error", msg)
			}
		})
	}
}

func TestWebSocket_TicketRequiredWithAuth(t *testing.T) {
	srv := newTestServer(t, testOptions{auth: newTestAuthenticator(t)})

	if _, code, err := dialWS(t, srv, ""); err == nil || code != http.StatusUnauthorized {
		t.Errorf("dial without ticket: code %d, err %v; want 401", code, err)
	}
	if _, code, err := dialWS(t, srv, "?ticket=bogus"); err == nil || code != http.StatusUnauthorized {
		t.Errorf("dial with bogus ticket: code %d, err %v; want 401", code, err)
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/auth/ws-ticket", "", login(t, srv))
	wantStatus(t, rec, http.StatusOK)
	ticket, _ := decodeBody[map[string]any](t, rec)["ticket"].(string) //nolint:errcheck // checked by the dial

	if _, _, err := dialWS(t, srv, "?ticket="+ticket); err != nil {
		t.Fatalf("dial with ticket: %v", err)
	}
	if _, code, err := dialWS(t, srv, "?ticket="+ticket); err == nil || code != http.StatusUnauthorized {
		t.Errorf("reused ticket: code %d, err %v; want 401", code, err)
	}
}

func testClient(h *Hub, buf int, channels ...string) *WSClient {
	c := &WSClient{
		hub:           h,
		send:          make(chan []byte, buf),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	return c
}

func TestHub_BroadcastBySubscription(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	var counts []int
	hub.SetOnClientCount(func(n int) { counts = append(counts, n) })

	direct := testClient(hub, 4, EventDeviceCreated)
	all := testClient(hub, 4, wsAllChannels)
	other := testClient(hub, 4, EventDeviceDeleted)
	for _, c := range []*WSClient{direct, all, other} {
		hub.Register(c)
	}

	hub.Broadcast(EventDeviceCreated, map[string]any{"id": 1})

	if len(direct.send) != 1 || len(all.send) != 1 || len(other.send) != 0 {
		t.Errorf("queued = %d/%d/%d, want 1/1/0", len(direct.send), len(all.send), len(other.send))
	}

	hub.Unregister(direct)
	hub.Unregister(direct)
	if _, ok := <-direct.send; !ok {
		t.Error("queued message lost on unregister")
	}
	if _, ok := <-direct.send; ok {
		t.Error("send channel not closed on unregister")
	}
	if direct.trySend([]byte("x")) {
		t.Error("trySend() on closed client = true")
	}

	hub.closeAll()
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after closeAll", hub.ClientCount())
	}
	if diff := cmp.Diff([]int{1, 2, 3, 2, 0}, counts); diff != "" {
		t.Errorf("client counts mismatch (-want +got):\n%s", diff)
	}
}

func TestHub_SlowClientDropsEvents(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	slow := testClient(hub, 1, wsAllChannels)
	hub.Register(slow)

	hub.Broadcast(EventDeviceCreated, nil)
	hub.Broadcast(EventDeviceUpdated, nil)

	if len(slow.send) != 1 {
		t.Errorf("queued = %d, want 1", len(slow.send))
	}
}

func TestBroadcastValueChange(t *testing.T) {
	srv := newTestServer(t, testOptions{})
	client := testClient(srv.hub, 1, EventValueChanged)
	srv.hub.Register(client)

	srv.BroadcastValueChange(zwave.ValueChange{
		Node:         5,
		CommandClass: zwave.CommandClassSwitchMultilevel,
		Label:        "Level",
		Previous:     10.0,
		Value:        40.0,
		At:           time.Now(),
	})

	var msg WSMessage
	if err := json.Unmarshal(<-client.send, &msg); err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"node":          5.0,
		"command_class": 38.0,
		"index":         0.0,
		"label":         "Level",
		"previous":      10.0,
		"value":         40.0,
		"units":         "",
	}
	if msg.EventType != EventValueChanged {
		t.Errorf("event type = %q", msg.EventType)
	}
	if diff := cmp.Diff(want, payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestAuditLog(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := audit.NewSQLiteRepository(db.DB)

	srv := newTestServer(t, testOptions{audit: repo, driver: newFakeDriver()})
	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/devices", `{"name":"Dimmer","nodeID":5}`, ""), http.StatusCreated)
	wantStatus(t, doRequest(t, srv, http.MethodPatch, "/api/v1/devices/1", `{"name":"Dimmer"}`, ""), http.StatusOK)
	wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/devices/1/values/Level", `{"value":20}`, ""), http.StatusCreated)
	wantStatus(t, doRequest(t, srv, http.MethodDelete, "/api/v1/devices/1", "", ""), http.StatusNoContent)

	// Entries are written asynchronously.
	deadline := time.Now().Add(5 * time.Second)
	for {
		res, err := repo.List(ctx, audit.Filter{})
		if err != nil {
			t.Fatal(err)
		}
		if res.Total == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit entries = %d, want 3", res.Total)
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/audit?limit=2", "", "")
	wantStatus(t, rec, http.StatusOK)
	page := decodeBody[audit.ListResult](t, rec)
	if page.Total != 3 || len(page.Entries) != 2 || page.Entries[0].Action != audit.ActionDelete {
		t.Errorf("page = %+v", page)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/audit?action=set_value&entity_id=1", "", "")
	wantStatus(t, rec, http.StatusOK)
	page = decodeBody[audit.ListResult](t, rec)
	if len(page.Entries) != 1 {
		t.Fatalf("set_value entries = %+v", page.Entries)
	}
	e := page.Entries[0]
	if e.EntityType != audit.EntityDevice || e.EntityID != "1" || e.Source != "api" || e.Details["value"] != "Level" {
		t.Errorf("entry = %+v", e)
	}

	wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/audit?limit=abc", "", ""), http.StatusBadRequest)
}

func TestAuditLog_Disabled(t *testing.T) {
	srv := newTestServer(t, testOptions{})
	wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/audit", "", ""), http.StatusServiceUnavailable)
}

func TestMetrics(t *testing.T) {
	m := metrics.New()
	srv := newTestServer(t, testOptions{metrics: m, driver: newFakeDriver()})

	wantStatus(t, doRequest(t, srv, http.MethodGet, "/api/v1/health", "", ""), http.StatusOK)

	rec := doRequest(t, srv, http.MethodGet, "/metrics", "", "")
	wantStatus(t, rec, http.StatusOK)
	want := `homenet_http_requests_total{method="GET",route="/api/v1/health",status="200"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("scrape missing %q", want)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/metrics", "", "")
	wantStatus(t, rec, http.StatusOK)
	sys := decodeBody[SystemMetrics](t, rec)
	if sys.Version != "test" || sys.Store.State != "ready" || sys.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", sys)
	}
	if sys.ZWave == nil || sys.ZWave.Nodes != 1 || sys.ZWave.ReadyNodes != 1 {
		t.Errorf("zwave metrics = %+v", sys.ZWave)
	}
}

func TestMiddleware(t *testing.T) {
	srv := newTestServer(t, testOptions{origins: []string{"http://panel.local"}})

	t.Run("request id echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.Header.Set("X-Request-ID", "abc123")
		rec := httptest.NewRecorder()
		srv.server.Handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
			t.Errorf("X-Request-ID = %q", got)
		}
	})

	t.Run("request id generated", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", "", "")
		if got := rec.Header().Get("X-Request-ID"); len(got) != requestIDBytes*2 {
			t.Errorf("X-Request-ID = %q", got)
		}
	})

	t.Run("cors", func(t *testing.T) {
		for origin, allowed := range map[string]bool{"http://panel.local": true, "http://evil.example": false} {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
			req.Header.Set("Origin", origin)
			rec := httptest.NewRecorder()
			srv.server.Handler.ServeHTTP(rec, req)

			wantStatus(t, rec, http.StatusNoContent)
			got := rec.Header().Get("Access-Control-Allow-Origin")
			if allowed && got != origin || !allowed && got != "" {
				t.Errorf("origin %s: Access-Control-Allow-Origin = %q", origin, got)
			}
		}
	})

	t.Run("recovery", func(t *testing.T) {
		h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		wantStatus(t, rec, http.StatusInternalServerError)
	})

	t.Run("body limit", func(t *testing.T) {
		body := `{"name":"` + strings.Repeat("x", maxRequestBodySize) + `","nodeID":1}`
		wantStatus(t, doRequest(t, srv, http.MethodPost, "/api/v1/devices", body, ""), http.StatusBadRequest)
	})
}
