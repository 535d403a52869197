package ingest

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routegraphs_ingest_runs_total",
			Help: "Total number of ingestion runs, by outcome.",
		}, []string{"outcome"})
	lastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "routegraphs_ingest_last_run_timestamp_seconds",
			Help: "Completion time of the last successful ingestion run.",
		})
	announcementsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "routegraphs_ingest_announcements_total",
			Help: "Total number of route announcements ingested.",
		})
	recordsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "routegraphs_ingest_skipped_records_total",
			Help: "Total number of malformed input records skipped.",
		})
)

func init() {
	prometheus.MustRegister(
		runsTotal,
		lastRunTimestamp,
		announcementsIngested,
		recordsSkipped,
	)
}
