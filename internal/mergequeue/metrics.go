package mergequeue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "mergequeue"

const (
	resultLabel = "result"
	eventLabel  = "event_type"
)

// integration result label values
const (
	resultMerged            = "merged"
	resultTestsFailed       = "tests_failed"
	resultCITimeout         = "ci_timeout"
	resultFastForwardFailed = "fast_forward_failed"
	resultError             = "error"
)

type metricCollector struct {
	processedEvents *prometheus.CounterVec
	enqueued        prometheus.Counter
	integrations    *prometheus.CounterVec
	batchTriggers   prometheus.Counter
	queueDepth      prometheus.Gauge
	batchQueueSize  prometheus.Gauge
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		processedEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "processed_github_events_total",
				Help:      "count of processed github webhook events",
			},
			[]string{eventLabel},
		),
		enqueued: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "enqueued_integration_requests_total",
				Help:      "count of integration requests added to the merge queue",
			},
		),
		integrations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "integrations_total",
				Help:      "count of processed integration requests by result",
			},
			[]string{resultLabel},
		),
		batchTriggers: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "batch_triggers_total",
				Help:      "count of triggered batch merges",
			},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "queued_integration_requests",
				Help:      "count of integration requests waiting in the merge queue",
			},
		),
		batchQueueSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "batch_queue_size",
				Help:      "count of pull requests waiting for a batch merge trigger",
			},
		),
	}
}

func (m *metricCollector) ProcessedEventInc(eventType string) {
	m.processedEvents.With(prometheus.Labels{eventLabel: eventType}).Inc()
}

func (m *metricCollector) EnqueuedInc() {
	m.enqueued.Inc()
}

func (m *metricCollector) IntegrationResultInc(result string) {
	m.integrations.With(prometheus.Labels{resultLabel: result}).Inc()
}

func (m *metricCollector) BatchTriggerInc() {
	m.batchTriggers.Inc()
}

func (m *metricCollector) QueueDepthSet(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *metricCollector) BatchQueueSizeSet(size int) {
	m.batchQueueSize.Set(float64(size))
}
