package vacore

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/veos-go/vacore/internal/telemetry"
)

// Metrics holds the Prometheus collectors backing Observer, registered
// against a private registry so embedding applications can run more
// than one Metrics instance (e.g. one per accelerator device) without
// colliding on the global default registry, the way
// github.com/prometheus/client_golang/prometheus.NewRegistry is used
// when a library doesn't own the process's metrics endpoint.
type Metrics struct {
	registry *prometheus.Registry

	transfersTotal   *prometheus.CounterVec
	transferBytes    *prometheus.CounterVec
	transferErrors   *prometheus.CounterVec
	transferLatency  *prometheus.HistogramVec
	ringOccupancy    prometheus.Gauge

	signalsDelivered *prometheus.CounterVec
	signalsDropped   *prometheus.CounterVec
	groupActions     *prometheus.CounterVec
}

// transferLatencyBuckets spans 1us to ~4.2s, matching the DMA path's
// realistic completion-time range.
var transferLatencyBuckets = prometheus.ExponentialBuckets(1e-6, 4, 12)

// NewMetrics creates a Metrics instance and registers its collectors
// against a fresh, private prometheus.Registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vacore",
			Subsystem: "dma",
			Name:      "transfers_total",
			Help:      "Total DMA transfers submitted, by terminal status.",
		}, []string{"status"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vacore",
			Subsystem: "dma",
			Name:      "transfer_bytes_total",
			Help:      "Total bytes of DMA transfers, by terminal status.",
		}, []string{"status"}),
		transferErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vacore",
			Subsystem: "dma",
			Name:      "transfer_errors_total",
			Help:      "DMA transfer failures, by error code.",
		}, []string{"code"}),
		transferLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vacore",
			Subsystem: "dma",
			Name:      "transfer_latency_seconds",
			Help:      "Time from posting to a descriptor slot to terminal status.",
			Buckets:   transferLatencyBuckets,
		}, []string{"status"}),
		ringOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vacore",
			Subsystem: "dma",
			Name:      "ring_occupancy",
			Help:      "Descriptor slots currently in use.",
		}),
		signalsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vacore",
			Subsystem: "sig",
			Name:      "delivered_total",
			Help:      "Signals handed to a user handler frame, by signal number.",
		}, []string{"signal"}),
		signalsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vacore",
			Subsystem: "sig",
			Name:      "dropped_total",
			Help:      "Pending-record drops due to the per-task rlimit.",
		}, []string{"signal"}),
		groupActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vacore",
			Subsystem: "sig",
			Name:      "group_actions_total",
			Help:      "GroupCoordinator actions applied, by action kind.",
		}, []string{"action"}),
	}

	reg.MustRegister(
		m.transfersTotal,
		m.transferBytes,
		m.transferErrors,
		m.transferLatency,
		m.ringOccupancy,
		m.signalsDelivered,
		m.signalsDropped,
		m.groupActions,
	)
	return m
}

// Registry returns the private prometheus.Registry these collectors are
// registered against, for an embedder to expose via promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observer is the pluggable recording surface DEM and SDC call into;
// production code records to a *Metrics via NewMetricsObserver, tests
// use NoOpObserver. It is internal/telemetry.Observer re-exported so a
// caller assembling its own Manager doesn't need to import that
// package directly.
type Observer = telemetry.Observer

// NoOpObserver discards every observation.
type NoOpObserver = telemetry.NoOpObserver

// MetricsObserver implements Observer by recording into a *Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer recording into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveTransfer(status string, bytes uint64, latencySeconds float64) {
	o.metrics.transfersTotal.WithLabelValues(status).Inc()
	o.metrics.transferBytes.WithLabelValues(status).Add(float64(bytes))
	o.metrics.transferLatency.WithLabelValues(status).Observe(latencySeconds)
}

func (o *MetricsObserver) ObserveTransferError(code string) {
	o.metrics.transferErrors.WithLabelValues(code).Inc()
}

func (o *MetricsObserver) ObserveRingOccupancy(slots int) {
	o.metrics.ringOccupancy.Set(float64(slots))
}

func (o *MetricsObserver) ObserveSignalDelivered(signal int) {
	o.metrics.signalsDelivered.WithLabelValues(signalLabel(signal)).Inc()
}

func (o *MetricsObserver) ObserveSignalDropped(signal int) {
	o.metrics.signalsDropped.WithLabelValues(signalLabel(signal)).Inc()
}

func (o *MetricsObserver) ObserveGroupAction(action string) {
	o.metrics.groupActions.WithLabelValues(action).Inc()
}

func signalLabel(signal int) string {
	return strconv.Itoa(signal)
}

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = NoOpObserver{}
)
