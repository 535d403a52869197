package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
	"git.autistici.org/ai3/tools/routegraphs/registry"
)

// ingestROAs loads route origin authorizations from the registry's
// route and route6 object trees, one ROA entry per authorized origin.
// Objects that cannot be interpreted are logged and skipped.
func (ing *Ingester) ingestROAs(ctx context.Context, tx *datastore.Tx, reg *registry.Registry, stats *Stats) error {
	for _, rtype := range []string{"route", "route6"} {
		err := reg.EachObject(rtype, func(obj *registry.Object) error {
			entries, err := ing.roaEntries(rtype, obj)
			if err != nil {
				log.Printf("warning: skipping %s/%s: %v", rtype, obj.Name, err)
				stats.Skipped++
				return nil
			}
			for _, e := range entries {
				if err := tx.InsertROAEntry(ctx, e); err != nil {
					return err
				}
				stats.ROAEntries++
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// roaEntries converts one route object into ROA entries, one per
// origin ASN. The covered CIDR comes from the object's route field,
// falling back to its file name ("172.20.0.0_14" form). A missing
// max-length defaults per address family, but never below the entry's
// own prefix length.
func (ing *Ingester) roaEntries(rtype string, obj *registry.Object) ([]datastore.ROAEntry, error) {
	cidr := obj.Get(rtype)
	if cidr == "" {
		cidr = strings.ReplaceAll(obj.Name, "_", "/")
	}
	prefix, err := datastore.ParsePrefix(cidr)
	if err != nil {
		return nil, err
	}

	maxLength := ing.cfg.ROAMaxLength4
	if len(prefix.Network) == 16 {
		maxLength = ing.cfg.ROAMaxLength6
	}
	if s := obj.Get("max-length"); s != "" {
		v, err := strconv.Atoi(strings.Fields(s)[0])
		if err != nil {
			return nil, fmt.Errorf("bad max-length %q: %w", s, err)
		}
		maxLength = v
	}
	if maxLength < prefix.Length {
		maxLength = prefix.Length
	}

	var entries []datastore.ROAEntry
	for _, tok := range strings.Fields(obj.Get("origin")) {
		asn, err := parseASN(tok)
		if err != nil {
			return nil, err
		}
		entries = append(entries, datastore.ROAEntry{
			Network:   prefix.Network,
			Length:    prefix.Length,
			Broadcast: prefix.Broadcast,
			MaxLength: maxLength,
			ASN:       asn,
		})
	}
	if len(entries) == 0 {
		return nil, errors.New("no origin field")
	}
	return entries, nil
}

func parseASN(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "AS"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad ASN %q", s)
	}
	return uint32(n), nil
}

// nameASNs attaches registry names to every AS seen in the dumps.
func nameASNs(ctx context.Context, tx *datastore.Tx, reg *registry.Registry, stats *Stats) error {
	asns, err := tx.AllASNs(ctx)
	if err != nil {
		return err
	}
	for _, asn := range asns {
		name := reg.ASName(asn)
		if name == "" {
			continue
		}
		if err := tx.SetASNName(ctx, asn, name); err != nil {
			return err
		}
		stats.NamedASNs++
	}
	return nil
}
