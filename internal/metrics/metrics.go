// Package metrics exposes the prometheus collectors served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansTotal counts scan submissions by final outcome code.
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_scans_total",
		Help: "Scan attempts by outcome.",
	}, []string{"outcome"})

	// SessionsOpened counts sessions created.
	SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_sessions_opened_total",
		Help: "Attendance sessions opened.",
	})

	// SessionsEnded counts sessions leaving the active state, by cause.
	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_sessions_ended_total",
		Help: "Attendance sessions closed or expired.",
	}, []string{"cause"})

	// RecordsFinalized counts attendance records written.
	RecordsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_records_finalized_total",
		Help: "Attendance records produced by finalization.",
	})

	// ScanEvalSeconds observes end-to-end scan evaluation latency.
	ScanEvalSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qrattend_scan_eval_seconds",
		Help:    "Latency of scan verification and evaluation.",
		Buckets: prometheus.DefBuckets,
	})
)
