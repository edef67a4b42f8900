package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Simulation metrics
	patientArrivals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_patient_arrivals_total",
			Help: "Total simulated patient arrivals",
		},
		[]string{"hospital"},
	)

	patientsTriaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_patients_triaged_total",
			Help: "Total triaged patients by Manchester level",
		},
		[]string{"hospital", "level"},
	)

	patientsDischarged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_patients_discharged_total",
			Help: "Total discharged patients",
		},
		[]string{"hospital"},
	)

	derivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_derivations_total",
			Help: "Total patient derivations between hospitals",
		},
		[]string{"from", "to"},
	)

	derivationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_derivations_rejected_total",
			Help: "Total rejected derivation decisions",
		},
		[]string{"reason"},
	)

	saturationGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sim_hospital_saturation",
			Help: "Box saturation (occupied / total) per hospital",
		},
		[]string{"hospital"},
	)

	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sim_queue_length",
			Help: "Queue length per hospital and queue (triage_wait, attention_wait)",
		},
		[]string{"hospital", "queue"},
	)

	eventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_events_processed_total",
			Help: "Total simulation events processed per hospital",
		},
		[]string{"hospital", "kind"},
	)

	emergenciesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sim_emergencies_active",
			Help: "Number of currently active emergencies",
		},
	)

	alertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_alert_transitions_total",
			Help: "Coordinator alert raise/clear transitions",
		},
		[]string{"hospital", "level", "transition"},
	)

	// Telemetry delivery metrics
	telemetryDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_events_dropped_total",
			Help: "Telemetry events dropped due to a full publish buffer",
		},
	)

	telemetryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_publish_failures_total",
			Help: "Telemetry events abandoned after retry exhaustion",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// --- Simulation metric helpers ---

// RecordArrival records a simulated patient arrival
func RecordArrival(hospital string) {
	patientArrivals.WithLabelValues(hospital).Inc()
}

// RecordTriaged records a triage classification
func RecordTriaged(hospital string, level int) {
	patientsTriaged.WithLabelValues(hospital, strconv.Itoa(level)).Inc()
}

// RecordDischarge records a patient discharge
func RecordDischarge(hospital string) {
	patientsDischarged.WithLabelValues(hospital).Inc()
}

// RecordDerivation records an executed derivation
func RecordDerivation(from, to string) {
	derivationsTotal.WithLabelValues(from, to).Inc()
}

// RecordDerivationRejected records a rejected derivation decision
func RecordDerivationRejected(reason string) {
	derivationsRejected.WithLabelValues(reason).Inc()
}

// RecordSaturation records a hospital's box saturation
func RecordSaturation(hospital string, saturation float64) {
	saturationGauge.WithLabelValues(hospital).Set(saturation)
}

// RecordQueueLengths records queue gauges for a hospital
func RecordQueueLengths(hospital string, triageWait, attentionWait int) {
	queueLength.WithLabelValues(hospital, "triage_wait").Set(float64(triageWait))
	queueLength.WithLabelValues(hospital, "attention_wait").Set(float64(attentionWait))
}

// RecordEventProcessed records one processed simulation event
func RecordEventProcessed(hospital, kind string) {
	eventsProcessed.WithLabelValues(hospital, kind).Inc()
}

// RecordActiveEmergencies records the active emergency count
func RecordActiveEmergencies(count int) {
	emergenciesActive.Set(float64(count))
}

// RecordAlertTransition records an alert raise or clear
func RecordAlertTransition(hospital, level, transition string) {
	alertTransitions.WithLabelValues(hospital, level, transition).Inc()
}

// RecordTelemetryDropped records a dropped telemetry event
func RecordTelemetryDropped() {
	telemetryDropped.Inc()
}

// RecordTelemetryFailure records an abandoned telemetry delivery
func RecordTelemetryFailure() {
	telemetryFailures.Inc()
}
