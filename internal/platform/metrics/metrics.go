// Package metrics exposes Prometheus collectors for HTTP traffic and clinical
// business events.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantnex_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quantnex_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantnex_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	patientsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quantnex_patients_created_total",
			Help: "Total number of patients registered",
		},
	)

	alertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantnex_alerts_raised_total",
			Help: "Total number of alerts raised",
		},
		[]string{"type", "origin"},
	)

	alertsAcknowledged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quantnex_alerts_acknowledged_total",
			Help: "Total number of alerts acknowledged",
		},
	)

	scansUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantnex_scans_uploaded_total",
			Help: "Total number of scans uploaded",
		},
		[]string{"scan_type"},
	)

	predictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantnex_predictions_total",
			Help: "Total number of generated predictions",
		},
		[]string{"kind", "provider", "outcome"},
	)

	predictionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quantnex_prediction_duration_seconds",
			Help:    "Prediction provider latency in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind", "provider"},
	)

	trainingJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantnex_training_jobs_total",
			Help: "Training jobs by terminal or submitted status",
		},
		[]string{"status"},
	)

	webhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantnex_webhook_deliveries_total",
			Help: "Webhook delivery attempts by event type and outcome",
		},
		[]string{"event", "status"},
	)

	streamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quantnex_alert_stream_clients",
			Help: "Connected alert stream clients",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count, latency and in-flight requests. The
// route template (c.Path()) is used as label to bound cardinality.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(interface{ StatusCode() int }); ok {
					status = he.StatusCode()
				} else if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			httpRequestsTotal.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// --- Business metric helpers ---

func RecordPatientCreated() {
	patientsCreated.Inc()
}

// RecordAlertRaised counts an alert. origin is "manual" or "biomarker".
func RecordAlertRaised(alertType, origin string) {
	alertsRaised.WithLabelValues(alertType, origin).Inc()
}

func RecordAlertAcknowledged() {
	alertsAcknowledged.Inc()
}

func RecordScanUploaded(scanType string) {
	scansUploaded.WithLabelValues(scanType).Inc()
}

// RecordPrediction counts one provider call. outcome is "ok" or "error".
func RecordPrediction(kind, provider, outcome string, d time.Duration) {
	predictions.WithLabelValues(kind, provider, outcome).Inc()
	predictionDuration.WithLabelValues(kind, provider).Observe(d.Seconds())
}

func RecordTrainingJob(status string) {
	trainingJobs.WithLabelValues(status).Inc()
}

func RecordWebhookDelivery(eventType, status string) {
	webhookDeliveries.WithLabelValues(eventType, status).Inc()
}

// SetStreamClients reports the current number of alert stream connections.
func SetStreamClients(n int) {
	streamClients.Set(float64(n))
}
