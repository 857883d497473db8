package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aluiziolira/go-scrape-icorating/models"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry              *prometheus.Registry
	RequestsTotal         *prometheus.CounterVec
	RequestDuration       prometheus.Histogram
	ResponsesTotal        *prometheus.CounterVec
	RecordsExtractedTotal *prometheus.CounterVec
	RowsSkippedTotal      prometheus.Counter
	ErrorsTotal           *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icorating_requests_total",
			Help: "Total listing requests issued by the scraper.",
		},
		[]string{"filter"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "icorating_request_duration_seconds",
			Help:    "HTTP latency of listing requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	responses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icorating_responses_total",
			Help: "Listing responses by status class.",
		},
		[]string{"status"},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icorating_records_extracted_total",
			Help: "Project records extracted from listing pages.",
		},
		[]string{"filter"},
	)
	skipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "icorating_rows_skipped_total",
			Help: "Table rows skipped because of an unexpected shape.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icorating_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, responses, records, skipped, errorsTotal)

	return &Metrics{
		Registry:              registry,
		RequestsTotal:         requests,
		RequestDuration:       requestDuration,
		ResponsesTotal:        responses,
		RecordsExtractedTotal: records,
		RowsSkippedTotal:      skipped,
		ErrorsTotal:           errorsTotal,
	}
}

// IncRequest increments the requests counter for a filter.
func (m *Metrics) IncRequest(filter models.Filter) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(filter)).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncResponse counts a response by status class.
func (m *Metrics) IncResponse(code int) {
	if m == nil {
		return
	}
	m.ResponsesTotal.WithLabelValues(statusLabel(code)).Inc()
}

// AddRecords adds extracted and skipped row counts for a filter.
func (m *Metrics) AddRecords(filter models.Filter, records, skipped int) {
	if m == nil {
		return
	}
	m.RecordsExtractedTotal.WithLabelValues(string(filter)).Add(float64(records))
	m.RowsSkippedTotal.Add(float64(skipped))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
