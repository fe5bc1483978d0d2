package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eblock12/HomeNet/internal/device"
)

const namespace = "homenet"

// StoreStats is the part of *device.Store the store gauges read from.
type StoreStats interface {
	Stats() device.Stats
}

// Metrics owns a private registry and every HomeNet collector.
type Metrics struct {
	registry *prometheus.Registry

	saves        *prometheus.CounterVec
	saveDuration prometheus.Histogram
	saveBytes    prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	valueChanges prometheus.Counter
	wsClients    prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "saves_total",
			Help:      "Device database writes by result.",
		}, []string{"result"}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "save_duration_seconds",
			Help:      "Time taken to write the device database.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		saveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "last_save_bytes",
			Help:      "Size of the last successfully written device database.",
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		valueChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "zwave",
			Name:      "value_changes_total",
			Help:      "Z-Wave node value changes received from the gateway.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Connected WebSocket clients.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.saves, m.saveDuration, m.saveBytes,
		m.httpRequests, m.httpDuration,
		m.valueChanges, m.wsClients,
	)
	return m
}

// RegisterStore adds gauges that read the store's statistics at scrape time.
// Call it once per Metrics.
func (m *Metrics) RegisterStore(src StoreStats) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "devices",
			Help:      "Devices in the device database.",
		}, func() float64 { return float64(src.Stats().Devices) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "dirty",
			Help:      "1 when the device database has unsaved changes.",
		}, func() float64 { return boolFloat(src.Stats().Dirty) }),
	)

	for _, st := range []device.State{device.StateLoading, device.StateReady, device.StateUnavailable} {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "store",
			Name:        "state",
			Help:        "1 for the current lifecycle state of the device database.",
			ConstLabels: prometheus.Labels{"state": st.String()},
		}, func() float64 { return boolFloat(src.Stats().State == st) }))
	}
}

// ObserveSave records one write of the device database.
func (m *Metrics) ObserveSave(r device.SaveResult) {
	if r.Err != nil {
		m.saves.WithLabelValues("error").Inc()
		return
	}
	m.saves.WithLabelValues("ok").Inc()
	m.saveDuration.Observe(r.Duration.Seconds())
	m.saveBytes.Set(float64(r.Bytes))
}

// ObserveRequest records one served HTTP request. route is the router
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveValueChange counts one node value change.
func (m *Metrics) ObserveValueChange() {
	m.valueChanges.Inc()
}

// SetWebSocketClients sets the connected client gauge.
func (m *Metrics) SetWebSocketClients(n int) {
	m.wsClients.Set(float64(n))
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
