package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the enrollment
// state machine and the batch analytics pipeline.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	transitions      *prometheus.CounterVec
	conflicts        prometheus.Counter
	checkpointWrites prometheus.Counter
	resumes          prometheus.Counter
	batchDuration    prometheus.Histogram
	skippedRecords   prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_transitions_total",
		Help: "Total enrollment state transitions",
	}, []string{"from", "to"})

	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_version_conflicts_total",
		Help: "Total optimistic concurrency conflicts on enrollment writes",
	})

	checkpointWrites := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "analytics_checkpoint_writes_total",
		Help: "Total checkpoint writes by the batch pipeline",
	})

	resumes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "analytics_checkpoint_resumes_total",
		Help: "Total runs resumed from an existing checkpoint",
	})

	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "analytics_batch_duration_seconds",
		Help:    "Duration of one analytics batch including its checkpoint write",
		Buckets: prometheus.DefBuckets,
	})

	skippedRecords := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "analytics_skipped_records_total",
		Help: "Total malformed records skipped during batch aggregation",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	registry.MustRegister(transitions, conflicts, checkpointWrites, resumes,
		batchDuration, skippedRecords, cacheHits, cacheMisses)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		transitions:      transitions,
		conflicts:        conflicts,
		checkpointWrites: checkpointWrites,
		resumes:          resumes,
		batchDuration:    batchDuration,
		skippedRecords:   skippedRecords,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
	}
}

// Handler exposes the Prometheus scrape endpoint for the host process.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// RecordTransition counts a state machine transition.
func (s *MetricsService) RecordTransition(from, to string) {
	if s == nil {
		return
	}
	s.transitions.WithLabelValues(from, to).Inc()
}

// RecordConflict counts an optimistic concurrency failure.
func (s *MetricsService) RecordConflict() {
	if s == nil {
		return
	}
	s.conflicts.Inc()
}

// RecordCheckpointWrite counts one persisted checkpoint.
func (s *MetricsService) RecordCheckpointWrite() {
	if s == nil {
		return
	}
	s.checkpointWrites.Inc()
}

// RecordResume counts one run resumed from a checkpoint.
func (s *MetricsService) RecordResume() {
	if s == nil {
		return
	}
	s.resumes.Inc()
}

// ObserveBatch records the duration of one processed batch.
func (s *MetricsService) ObserveBatch(d time.Duration) {
	if s == nil {
		return
	}
	s.batchDuration.Observe(d.Seconds())
}

// RecordSkippedRecord counts one malformed record excluded from aggregation.
func (s *MetricsService) RecordSkippedRecord() {
	if s == nil {
		return
	}
	s.skippedRecords.Inc()
}

// RecordCacheOperation tracks cache hit/miss counts.
func (s *MetricsService) RecordCacheOperation(hit bool) {
	if s == nil {
		return
	}
	if hit {
		s.cacheHits.Inc()
	} else {
		s.cacheMisses.Inc()
	}
}
