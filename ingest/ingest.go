// Package ingest rebuilds the topology database from MRT route dumps
// and a dn42 registry checkout. Each run writes a fresh database next
// to the configured path and renames it into place only once it has
// fully loaded, so readers always see either the previous complete
// snapshot or the new one.
package ingest

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
	"git.autistici.org/ai3/tools/routegraphs/registry"
)

// Default ROA max-lengths applied to registry route objects that do
// not set one.
const (
	DefaultROAMaxLength4 = 29
	DefaultROAMaxLength6 = 64
)

// Config for an ingestion run.
type Config struct {
	// DatabasePath where the finished database gets published.
	DatabasePath string

	// RegistryPath is a dn42 registry checkout providing ROA data and
	// AS names. Empty disables the registry passes.
	RegistryPath string

	// GeoIPPath is a GeoLite2 ASN database used to name origin ASes
	// the registry does not know. Empty disables the pass.
	GeoIPPath string

	// HTTPClient used to download remote dumps. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// FetchTimeout bounds the download of a single remote dump,
	// retries included. Zero means no limit.
	FetchTimeout time.Duration

	// ROAMaxLength4 and ROAMaxLength6 override the per-family default
	// max-lengths.
	ROAMaxLength4 int
	ROAMaxLength6 int
}

// Stats counts what one ingestion run loaded.
type Stats struct {
	Dumps         int
	Announcements int
	Paths         int
	ROAEntries    int
	NamedASNs     int
	Skipped       int
}

func (s *Stats) String() string {
	return fmt.Sprintf("%d dumps, %d announcements (%d distinct paths), %d ROA entries, %d named ASNs, %d records skipped",
		s.Dumps, s.Announcements, s.Paths, s.ROAEntries, s.NamedASNs, s.Skipped)
}

type Ingester struct {
	cfg Config
}

func New(cfg Config) *Ingester {
	if cfg.ROAMaxLength4 <= 0 {
		cfg.ROAMaxLength4 = DefaultROAMaxLength4
	}
	if cfg.ROAMaxLength6 <= 0 {
		cfg.ROAMaxLength6 = DefaultROAMaxLength6
	}
	return &Ingester{cfg: cfg}
}

// Run loads the given MRT dump sources (local paths or http(s) URLs)
// and the registry into a new database, then publishes it. On any
// fatal error the half-built database is discarded and the published
// one, if any, stays untouched.
func (ing *Ingester) Run(ctx context.Context, sources []string) (*Stats, error) {
	stats, err := ing.run(ctx, sources)
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	runsTotal.WithLabelValues("ok").Inc()
	lastRunTimestamp.SetToCurrentTime()
	announcementsIngested.Add(float64(stats.Announcements))
	recordsSkipped.Add(float64(stats.Skipped))
	return stats, nil
}

func (ing *Ingester) run(ctx context.Context, sources []string) (*Stats, error) {
	tmpPath := ing.cfg.DatabasePath + ".new"
	removeDatabase(tmpPath)

	db, err := datastore.Open(tmpPath)
	if err != nil {
		return nil, err
	}
	stats := &Stats{}
	if err := ing.load(ctx, db, sources, stats); err != nil {
		db.Close()
		removeDatabase(tmpPath)
		return nil, err
	}
	if err := db.Close(); err != nil {
		return nil, err
	}

	if err := os.Rename(tmpPath, ing.cfg.DatabasePath); err != nil {
		return nil, err
	}
	log.Printf("published %s: %s", ing.cfg.DatabasePath, stats)
	return stats, nil
}

func (ing *Ingester) load(ctx context.Context, db *datastore.Store, sources []string, stats *Stats) error {
	for _, src := range sources {
		if err := ing.ingestDump(ctx, db, src, stats); err != nil {
			return err
		}
	}

	if ing.cfg.RegistryPath != "" {
		reg := &registry.Registry{Root: ing.cfg.RegistryPath}
		err := db.WithTx(func(tx *datastore.Tx) error {
			if err := ing.ingestROAs(ctx, tx, reg, stats); err != nil {
				return err
			}
			return nameASNs(ctx, tx, reg, stats)
		})
		if err != nil {
			return fmt.Errorf("loading registry %s: %w", ing.cfg.RegistryPath, err)
		}
	}

	if ing.cfg.GeoIPPath != "" {
		err := db.WithTx(func(tx *datastore.Tx) error {
			return nameOriginsFromGeoIP(ctx, tx, ing.cfg.GeoIPPath, stats)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ingestDump loads one MRT dump in a single transaction.
func (ing *Ingester) ingestDump(ctx context.Context, db *datastore.Store, src string, stats *Stats) error {
	path := src
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		fetched, err := ing.fetch(ctx, src)
		if err != nil {
			return err
		}
		defer os.Remove(fetched)
		path = fetched
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	log.Printf("loading %s", src)
	err = db.WithTx(func(tx *datastore.Tx) error {
		return ing.loadDump(ctx, tx, src, f, stats)
	})
	if err != nil {
		return fmt.Errorf("loading %s: %w", src, err)
	}
	stats.Dumps++
	return nil
}

// removeDatabase drops a sqlite database and its WAL leftovers, if
// any, from an interrupted run.
func removeDatabase(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		os.Remove(p)
	}
}
