package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// BridgeMetrics holds the bridge's operational counters and gauges,
// exported on the ops /metrics endpoint.
type BridgeMetrics struct {
	Received    prometheus.Counter
	Published   prometheus.Counter
	Failed      prometheus.Counter
	Flushes     prometheus.Counter
	MemoryRSS   prometheus.Gauge
	HeapUsed    prometheus.Gauge
	CPUUsage    prometheus.Gauge
	CircuitOpen prometheus.Gauge

	registry *prometheus.Registry
}

// NewBridgeMetrics creates and registers the bridge metric set on a
// dedicated registry so the endpoint exposes only bridge series.
func NewBridgeMetrics() *BridgeMetrics {
	m := &BridgeMetrics{
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_messages_received_total",
			Help: "Total MQTT messages received from the broker",
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_messages_published_total",
			Help: "Total messages published to the cloud queue",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_messages_failed_total",
			Help: "Total messages dropped: rejected at intake, refused by a full buffer, or discarded after exhausting publish retries",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_buffer_flushes_total",
			Help: "Total buffer flushes (periodic, adaptive and emergency)",
		}),
		MemoryRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_memory_rss_bytes",
			Help: "Resident set size of the bridge process",
		}),
		HeapUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_memory_heap_used_bytes",
			Help: "Heap bytes in use by the bridge process",
		}),
		CPUUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_cpu_usage_percent",
			Help: "Current CPU usage of the bridge process",
		}),
		CircuitOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_circuit_breaker_open",
			Help: "1 when the publish circuit breaker is open, 0 otherwise",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.Received, m.Published, m.Failed, m.Flushes,
		m.MemoryRSS, m.HeapUsed, m.CPUUsage, m.CircuitOpen,
	)
	return m
}

// Registry returns the registry backing the /metrics endpoint.
func (m *BridgeMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Snapshot is a point-in-time copy of the counters for the /health body.
type Snapshot struct {
	Received           int64 `json:"received"`
	Published          int64 `json:"published"`
	Failed             int64 `json:"failed"`
	Flushes            int64 `json:"flushes"`
	CircuitBreakerOpen bool  `json:"circuit_breaker_open"`
}

// Snapshot reads the current counter values.
func (m *BridgeMetrics) Snapshot() Snapshot {
	return Snapshot{
		Received:           int64(counterValue(m.Received)),
		Published:          int64(counterValue(m.Published)),
		Failed:             int64(counterValue(m.Failed)),
		Flushes:            int64(counterValue(m.Flushes)),
		CircuitBreakerOpen: gaugeValue(m.CircuitOpen) >= 1,
	}
}

func counterValue(c prometheus.Counter) float64 {
	return metricValue(c)
}

func gaugeValue(g prometheus.Gauge) float64 {
	return metricValue(g)
}

func metricValue(c prometheus.Metric) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	if m.Gauge != nil {
		return m.Gauge.GetValue()
	}
	return 0
}
