package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the kiosk. A nil *Metrics is
// valid and records nothing, so components can take it as an optional
// dependency.
type Metrics struct {
	FramesCaptured     prometheus.Counter
	EmptyCaptureTicks  prometheus.Counter
	DeviceErrors       *prometheus.CounterVec
	Enrollments        *prometheus.CounterVec
	Verifications      *prometheus.CounterVec
	FallbackEscalation prometheus.Counter
	FallbackOutcomes   *prometheus.CounterVec
	GatewayLatency     *prometheus.HistogramVec
	ActiveFlows        *prometheus.GaugeVec
	RateLimited        *prometheus.CounterVec
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration panics.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "irisvault_capture_frames_total",
			Help: "Total number of frames appended to capture batches",
		}),
		EmptyCaptureTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "irisvault_capture_empty_ticks_total",
			Help: "Capture ticks that produced no frame (device warming up or not active)",
		}),
		DeviceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "irisvault_device_errors_total",
			Help: "Capture device errors by kind",
		}, []string{"kind"}),
		Enrollments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "irisvault_enrollments_total",
			Help: "Enrollment submissions by outcome",
		}, []string{"outcome"}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "irisvault_verifications_total",
			Help: "Biometric verification attempts by outcome",
		}, []string{"outcome"}),
		FallbackEscalation: factory.NewCounter(prometheus.CounterOpts{
			Name: "irisvault_fallback_escalations_total",
			Help: "Transitions from biometric capture to the fallback credential step",
		}),
		FallbackOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "irisvault_fallback_verifications_total",
			Help: "Fallback credential verifications by outcome",
		}, []string{"outcome"}),
		GatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "irisvault_gateway_request_duration_seconds",
			Help:    "Latency of collaborator calls by operation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "status"}),
		ActiveFlows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "irisvault_active_flows",
			Help: "Flows currently held in the kiosk registry",
		}, []string{"kind"}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "irisvault_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter by class",
		}, []string{"class"}),
	}
}

func (m *Metrics) IncrementFramesCaptured() {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
}

func (m *Metrics) IncrementEmptyTicks() {
	if m == nil {
		return
	}
	m.EmptyCaptureTicks.Inc()
}

func (m *Metrics) IncrementDeviceError(kind string) {
	if m == nil {
		return
	}
	m.DeviceErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementEnrollment(outcome string) {
	if m == nil {
		return
	}
	m.Enrollments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementVerification(outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementFallbackEscalation() {
	if m == nil {
		return
	}
	m.FallbackEscalation.Inc()
}

func (m *Metrics) IncrementFallbackOutcome(outcome string) {
	if m == nil {
		return
	}
	m.FallbackOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGatewayCall(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayLatency.WithLabelValues(operation, status).Observe(d.Seconds())
}

func (m *Metrics) SetActiveFlows(kind string, n int) {
	if m == nil {
		return
	}
	m.ActiveFlows.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) IncrementRateLimited(class string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(class).Inc()
}
