package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics is the JSON status summary served at /api/v1/metrics.
// Prometheus scrapes /metrics instead.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	ZWave         *ZWaveMetrics  `json:"zwave,omitempty"`
	Store         StoreMetrics   `json:"store"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics reports the broker connection.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// ZWaveMetrics summarises the bridge's node table.
type ZWaveMetrics struct {
	Ready      bool `json:"ready"`
	Nodes      int  `json:"nodes"`
	ReadyNodes int  `json:"ready_nodes"`
}

// StoreMetrics mirrors device.Stats.
type StoreMetrics struct {
	State      string `json:"state"`
	Devices    int    `json:"devices"`
	Dirty      bool   `json:"dirty"`
	Saving     bool   `json:"saving"`
	Saves      uint64 `json:"saves"`
	SaveErrors uint64 `json:"save_errors"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := s.store.Stats()
	out := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Store: StoreMetrics{
			State:      st.State.String(),
			Devices:    st.Devices,
			Dirty:      st.Dirty,
			Saving:     st.Saving,
			Saves:      st.Saves,
			SaveErrors: st.SaveErrors,
		},
	}

	if s.mqtt != nil {
		out.MQTT.Connected = s.mqtt.IsConnected()
	}
	if s.driver != nil {
		nodes := s.driver.Nodes()
		zw := &ZWaveMetrics{Ready: s.driver.Ready(), Nodes: len(nodes)}
		for _, n := range nodes {
			if n.Ready {
				zw.ReadyNodes++
			}
		}
		out.ZWave = zw
	}

	writeJSON(w, http.StatusOK, out)
}
