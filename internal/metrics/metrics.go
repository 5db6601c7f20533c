// Package metrics exposes Prometheus collectors for dispatcher, producer and
// consumer activity.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder owns every collector and satisfies the observer interfaces of the
// dispatcher, producer and consumer packages. It is safe for concurrent use.
type Recorder struct {
	received         *prometheus.CounterVec
	rejected         prometheus.Counter
	callbackFailures *prometheus.CounterVec
	queueDepth       prometheus.Gauge

	produced      *prometheus.CounterVec
	flushed       *prometheus.CounterVec
	batchSize     *prometheus.HistogramVec
	flushDuration *prometheus.HistogramVec

	rateLimitDelay prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRecorder registers the collectors against reg, or the default registerer
// when reg is nil.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_events_received_total",
			Help: "Events accepted by the dispatcher, partitioned by delivery path.",
		}, []string{"path"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_events_rejected_total",
			Help: "Events rejected because the queue stayed full.",
		}),
		callbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_callback_failures_total",
			Help: "Callback invocations that returned an error or panicked.",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Events currently waiting in the pull queue.",
		}),
		produced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_events_produced_total",
			Help: "Events handed to the dispatcher by the producer.",
		}, []string{"model"}),
		flushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_batches_flushed_total",
			Help: "Consumer batch flushes partitioned by model and result.",
		}, []string{"model", "result"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_batch_size",
			Help:    "Events per flushed batch.",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 2500, 5000},
		}, []string{"model"}),
		flushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_flush_duration_seconds",
			Help:    "Wall time spent storing one batch.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"model"}),
		rateLimitDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_rate_limit_delay_seconds",
			Help:    "Time the producer spent waiting on its rate limit per batch.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_http_requests_total",
			Help: "Admin API requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_http_request_duration_seconds",
			Help:    "Admin API latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),
	}
	for _, collector := range []prometheus.Collector{
		r.received,
		r.rejected,
		r.callbackFailures,
		r.queueDepth,
		r.produced,
		r.flushed,
		r.batchSize,
		r.flushDuration,
		r.rateLimitDelay,
		r.httpRequests,
		r.httpDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register dispatch collector: %w", err)
		}
	}
	return r, nil
}

// EventsEnqueued counts events accepted on the pull path.
func (r *Recorder) EventsEnqueued(n int) {
	r.received.WithLabelValues("pull").Add(float64(n))
}

// EventsPushed counts events delivered on the push path.
func (r *Recorder) EventsPushed(n int) {
	r.received.WithLabelValues("push").Add(float64(n))
}

// EventsRejected counts events refused after the fallback wait.
func (r *Recorder) EventsRejected(n int) {
	r.rejected.Add(float64(n))
}

// CallbackFailed counts one failed callback of the given kind ("event" or "batch").
func (r *Recorder) CallbackFailed(kind string) {
	r.callbackFailures.WithLabelValues(kind).Inc()
}

// QueueDepth sets the current queue length.
func (r *Recorder) QueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

// EventsProduced counts events the producer handed off for a model.
func (r *Recorder) EventsProduced(model string, n int) {
	r.produced.WithLabelValues(model).Add(float64(n))
}

// BatchFlushed records one consumer flush.
func (r *Recorder) BatchFlushed(model string, size int, took time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	r.flushed.WithLabelValues(model, result).Inc()
	r.batchSize.WithLabelValues(model).Observe(float64(size))
	r.flushDuration.WithLabelValues(model).Observe(took.Seconds())
}

// RateLimitDelay records one producer wait on the rate limiter.
func (r *Recorder) RateLimitDelay(d time.Duration) {
	r.rateLimitDelay.Observe(d.Seconds())
}
