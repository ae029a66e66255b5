package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of one sweep pass in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)
	sweepItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_items_total",
			Help: "Schedules examined per sweep, by outcome.",
		},
		[]string{"sweep", "outcome"},
	)
	workOrdersGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "work_orders_generated_total",
			Help: "Work orders generated, by trigger reason.",
		},
		[]string{"reason"},
	)
	dedupConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "work_order_dedup_conflicts_total",
			Help: "Work orders suppressed by the per-reason dedup window.",
		},
		[]string{"reason"},
	)
	anomaliesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomalies_detected_total",
			Help: "Flagged readings, by severity.",
		},
		[]string{"severity"},
	)
	predictionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictions_created_total",
			Help: "Predictions created, by kind and risk tier.",
		},
		[]string{"kind", "risk_tier"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	workOrderClientFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workorder_client_failures_total",
			Help: "Total work order service call failures.",
		},
	)
	workOrderClientSuccess = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workorder_client_success_total",
			Help: "Total work order service call successes.",
		},
	)
	workOrderClientLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workorder_client_latency_seconds",
			Help:    "Work order service call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests, httpLatency, sweepDuration, sweepItems,
		workOrdersGenerated, dedupConflicts, anomaliesDetected, predictionsCreated,
		kafkaConsumerLag, influxWriteFailures,
		workOrderClientFailures, workOrderClientSuccess, workOrderClientLatency,
		asynqQueueDepth,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func ObserveSweep(sweep string, d time.Duration) {
	sweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
}

func IncSweepItem(sweep string, outcome string) {
	sweepItems.WithLabelValues(sweep, outcome).Inc()
}

func IncWorkOrderGenerated(reason string) {
	workOrdersGenerated.WithLabelValues(reason).Inc()
}

func IncDedupConflict(reason string) {
	dedupConflicts.WithLabelValues(reason).Inc()
}

func IncAnomalyDetected(severity string) {
	anomaliesDetected.WithLabelValues(severity).Inc()
}

func IncPredictionCreated(kind string, riskTier string) {
	predictionsCreated.WithLabelValues(kind, riskTier).Inc()
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func IncWorkOrderClientFailure() {
	workOrderClientFailures.Inc()
}

func IncWorkOrderClientSuccess() {
	workOrderClientSuccess.Inc()
}

func ObserveWorkOrderClientLatency(d time.Duration) {
	workOrderClientLatency.Observe(d.Seconds())
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
