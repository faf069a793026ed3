// Package metrics defines Prometheus collectors of docrelay components.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Keys for docrelay metrics.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Collectors for capture.Runner metrics.
var (
	CaptureEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docrelay_capture_events_total",
		Help: "Cumulative number of change events consumed, by operation kind.",
	}, []string{"kind"})
	CaptureRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docrelay_capture_runs_total",
		Help: "Cumulative number of capture runs, by outcome.",
	}, []string{"outcome"})
	CaptureCheckpointsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docrelay_capture_checkpoints_total",
		Help: "Cumulative number of checkpoint flushes, by status.",
	}, []string{"status"})
	CaptureCanariesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docrelay_capture_canaries_total",
		Help: "Cumulative number of bootstrap canaries applied.",
	})
	CapturePurgeResetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docrelay_capture_purge_resets_total",
		Help: "Cumulative number of checkpoints reset after the stream purged their position.",
	})
)

// Collectors for staging and relay metrics.
var (
	StagedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docrelay_staged_bytes_total",
		Help: "Cumulative number of payload bytes written to the staging store.",
	})
	StagedObjectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docrelay_staged_objects_total",
		Help: "Cumulative number of staging writes, by status.",
	}, []string{"status"})
	RelayedEnvelopesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docrelay_relayed_envelopes_total",
		Help: "Cumulative number of pointer envelopes published, by status.",
	}, []string{"status"})
	AlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docrelay_alerts_total",
		Help: "Cumulative number of alerts published, by status.",
	}, []string{"status"})
)

// Collectors for indexer.Indexer metrics.
var (
	IndexerMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docrelay_indexer_messages_total",
		Help: "Cumulative number of queue messages handled, by result (applied, skipped, fail).",
	}, []string{"result"})
	IndexerApplySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "docrelay_indexer_apply_seconds",
		Help:    "Latency of resolving and applying a single staged payload.",
		Buckets: prometheus.DefBuckets,
	})
)

// Collectors for pump.Pump metrics.
var (
	PumpInvocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docrelay_pump_invocations_total",
		Help: "Cumulative number of downstream function invocations, by status.",
	}, []string{"status"})
)

// DocrelayCollectors returns all docrelay collectors.
func DocrelayCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		AlertsTotal,
		CaptureCanariesTotal,
		CaptureCheckpointsTotal,
		CaptureEventsTotal,
		CapturePurgeResetsTotal,
		CaptureRunsTotal,
		IndexerApplySeconds,
		IndexerMessagesTotal,
		PumpInvocationsTotal,
		RelayedEnvelopesTotal,
		StagedBytesTotal,
		StagedObjectsTotal,
	}
}
