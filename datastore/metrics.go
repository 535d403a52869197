package datastore

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	tableRowsDesc = prometheus.NewDesc(
		"routegraphs_table_rows",
		"Number of rows in a topology database table.",
		[]string{"table"}, nil,
	)
	dbTimestampDesc = prometheus.NewDesc(
		"routegraphs_db_timestamp_seconds",
		"Modification time of the topology database.",
		nil, nil,
	)
)

// Collector exports row counts and freshness of a topology database.
// It reopens the database on every scrape, so it stays accurate across
// the atomic rename performed by each ingestion run.
type Collector struct {
	path string
}

func NewCollector(path string) *Collector {
	return &Collector{path: path}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	fi, err := os.Stat(c.path)
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(
		dbTimestampDesc,
		prometheus.GaugeValue,
		float64(fi.ModTime().Unix()))

	store, err := OpenReadOnly(c.path)
	if err != nil {
		return
	}
	defer store.Close()

	counts, err := store.TableCounts(context.Background())
	if err != nil {
		return
	}
	for _, name := range tableNames {
		ch <- prometheus.MustNewConstMetric(
			tableRowsDesc,
			prometheus.GaugeValue,
			float64(counts[name]),
			name)
	}
}
