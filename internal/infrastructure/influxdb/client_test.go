package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eblock12/HomeNet/internal/infrastructure/config"
	"github.com/eblock12/HomeNet/internal/infrastructure/influxdb"
)

// fakeInflux answers pings and records line protocol posted to the write
// endpoint.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/ping"):
		w.Header().Set("X-Influxdb-Version", "v2.7.0")
		w.Header().Set("X-Influxdb-Build", "OSS")
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(r.URL.Path, "/write"):
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.writes = append(f.writes, string(body))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "home",
		Bucket:        "homenet",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func connect(t *testing.T) (*influxdb.Client, *fakeInflux) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return client, fake
}

func waitForBody(t *testing.T, fake *fakeInflux, want ...string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		body := fake.body()
		missing := false
		for _, w := range want {
			if !strings.Contains(body, w) {
				missing = true
			}
		}
		if !missing {
			return body
		}
		if time.Now().After(deadline) {
			t.Fatalf("written lines %q do not contain %q", body, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	if _, err := influxdb.Connect(context.Background(), cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := influxdb.Connect(context.Background(), testConfig(url)); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteNodeValue(t *testing.T) {
	client, fake := connect(t)
	defer client.Close()

	at := time.Unix(1700000000, 0)
	if !client.WriteNodeValue(5, 38, "Level", 42, at) {
		t.Error("WriteNodeValue(int) = false")
	}
	if !client.WriteNodeValue(7, 37, "Switch", true, at) {
		t.Error("WriteNodeValue(bool) = false")
	}
	if client.WriteNodeValue(7, 112, "Mode", "eco", at) {
		t.Error("WriteNodeValue(string) = true, want false")
	}
	client.Flush()

	body := waitForBody(t, fake,
		"node_values,command_class=38,label=Level,node=5 value=42 ",
		"node_values,command_class=37,label=Switch,node=7 state=true ",
	)
	if strings.Contains(body, "Mode") {
		t.Errorf("string value written: %q", body)
	}
}

func TestWriteStoreSave(t *testing.T) {
	client, fake := connect(t)

	client.WriteStoreSave(3, 120, 5*time.Millisecond, false)
	client.Close()

	waitForBody(t, fake, "store_saves,result=error ", "devices=3i", "bytes=120i", "duration_ms=5")
}

func TestHealthCheck(t *testing.T) {
	client, _ := connect(t)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.Close()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
	if client.WriteNodeValue(1, 38, "Level", 1.0, time.Now()) {
		t.Error("WriteNodeValue() after Close = true")
	}
}

func TestClose_Nil(t *testing.T) {
	if err := (&influxdb.Client{}).Close(); err != nil {
		t.Errorf("Close() on empty client error = %v", err)
	}
}
