package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reviews", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews", Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reviews", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)
	IngestRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews", Name: "ingest_rows_total", Help: "Input rows by outcome."},
		[]string{"outcome"}, // accepted|rejected
	)
	IngestRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews", Name: "ingest_rejections_total", Help: "Rejected rows by reason."},
		[]string{"reason"},
	)
	IngestInserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews", Name: "ingest_inserts_total", Help: "Rows actually inserted."},
		[]string{"entity"}, // review|account
	)
	StreamRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews", Name: "stream_rows_total", Help: "Records written to streamed responses."},
		[]string{"format"},
	)
	StreamAborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviews", Name: "stream_aborts_total", Help: "Streams cut short."},
		[]string{"reason"}, // client|storage
	)
	StreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "reviews", Name: "streams_active", Help: "Streaming exports in flight."},
	)
)

// Serve exposes reg on a side listener when addr is set.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		IngestRows, IngestRejections, IngestInserts,
		StreamRows, StreamAborts, StreamsActive,
	)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveIngestRow(outcome string) { IngestRows.WithLabelValues(outcome).Inc() }

func ObserveRejection(reason string) { IngestRejections.WithLabelValues(reason).Inc() }

func ObserveInserted(entity string, n int64) {
	if n > 0 {
		IngestInserts.WithLabelValues(entity).Add(float64(n))
	}
}

func ObserveStreamRows(format string, n int) {
	if n > 0 {
		StreamRows.WithLabelValues(format).Add(float64(n))
	}
}

func ObserveStreamAbort(reason string) { StreamAborts.WithLabelValues(reason).Inc() }
