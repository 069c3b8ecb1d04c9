package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

type monitorMetrics struct {
	framesAnalyzed   prometheus.Counter
	throttleRejected prometheus.Counter
	alertsTotal      *prometheus.CounterVec
	autoSubmits      prometheus.Counter
	classifierErrors *prometheus.CounterVec
	feedbackSent     prometheus.Counter
	analysisDuration prometheus.Histogram
}

// newMonitorMetrics registers pipeline metrics on reg. Pass a fresh
// registry in tests to avoid duplicate-collector panics.
func newMonitorMetrics(reg prometheus.Registerer) *monitorMetrics {
	m := &monitorMetrics{
		framesAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_frames_analyzed_total",
			Help: "Frames admitted through the throttle and sent to the classifier",
		}),
		throttleRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_frames_throttled_total",
			Help: "Frames dropped by the per-session analysis throttle",
		}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_alerts_total",
			Help: "Committed monitoring events by alert type",
		}, []string{"type"}),
		autoSubmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_auto_submits_total",
			Help: "Sessions auto-submitted by threshold crossing",
		}),
		classifierErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_classifier_errors_total",
			Help: "Classifier calls that produced no usable verdict",
		}, []string{"reason"}),
		feedbackSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_positive_feedback_total",
			Help: "Positive feedback messages delivered to students",
		}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "proctor_analysis_duration_seconds",
			Help:    "Wall time of one frame analysis, classifier call included",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.framesAnalyzed,
		m.throttleRejected,
		m.alertsTotal,
		m.autoSubmits,
		m.classifierErrors,
		m.feedbackSent,
		m.analysisDuration,
	)
	return m
}
