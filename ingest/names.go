package ingest

import (
	"context"
	"log"
	"net"
	"os"

	"github.com/oschwald/maxminddb-golang"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
)

// nameOriginsFromGeoIP fills in names for origin ASNs the registry did
// not cover, looking up one of the networks each AS originates in a
// GeoLite2-ASN database. Naming is an enrichment step: a missing or
// unreadable database only costs the names.
func nameOriginsFromGeoIP(ctx context.Context, tx *datastore.Tx, path string, stats *Stats) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := maxminddb.Open(path)
	if err != nil {
		log.Printf("warning: ignoring GeoIP database %s: %v", path, err)
		return nil
	}
	defer db.Close()

	origins, err := tx.UnnamedOrigins(ctx)
	if err != nil {
		return err
	}

	named := make(map[uint32]bool)
	for _, origin := range origins {
		if named[origin.ASN] {
			continue
		}
		var record struct {
			Number       uint32 `maxminddb:"autonomous_system_number"`
			Organization string `maxminddb:"autonomous_system_organization"`
		}
		if err := db.Lookup(net.IP(origin.Network), &record); err != nil {
			log.Printf("warning: geoip lookup error for AS%d: %v", origin.ASN, err)
			continue
		}
		// Only trust the name when the database agrees on who
		// originates this network.
		if record.Number != origin.ASN || record.Organization == "" {
			continue
		}
		if err := tx.SetASNName(ctx, origin.ASN, record.Organization); err != nil {
			return err
		}
		named[origin.ASN] = true
		stats.NamedASNs++
	}
	return nil
}
