package ingest

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
	"github.com/osrg/gobgp/v3/pkg/packet/mrt"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
)

// loadDump walks the records of one MRT dump, transparently
// decompressing gzip input. Only TABLE_DUMP_V2 unicast RIB records
// and the peer index table matter; everything else is passed over.
// Malformed records are logged and skipped, while a truncated or
// unreadable stream aborts the run.
func (ing *Ingester) loadDump(ctx context.Context, tx *datastore.Tx, name string, r io.Reader, stats *Stats) error {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("decompressing: %w", err)
		}
		defer gz.Close()
		br = bufio.NewReader(gz)
	}

	headerBuf := make([]byte, mrt.MRT_COMMON_HEADER_LEN)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.ReadFull(br, headerBuf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading MRT header: %w", err)
		}
		var header mrt.MRTHeader
		if err := header.DecodeFromBytes(headerBuf); err != nil {
			return fmt.Errorf("decoding MRT header: %w", err)
		}
		body := make([]byte, header.Len)
		if _, err := io.ReadFull(br, body); err != nil {
			return fmt.Errorf("reading MRT record: %w", err)
		}
		if header.Type != mrt.TABLE_DUMPv2 {
			continue
		}

		msg, err := mrt.ParseMRTBody(&header, body)
		if err != nil {
			log.Printf("warning: %s: skipping malformed record: %v", name, err)
			stats.Skipped++
			continue
		}
		switch body := msg.Body.(type) {
		case *mrt.PeerIndexTable:
			if err := loadPeerTable(ctx, tx, name, body); err != nil {
				return err
			}
		case *mrt.Rib:
			switch mrt.MRTSubTypeTableDumpv2(header.SubType) {
			case mrt.RIB_IPV4_UNICAST, mrt.RIB_IPV6_UNICAST,
				mrt.RIB_IPV4_UNICAST_ADDPATH, mrt.RIB_IPV6_UNICAST_ADDPATH:
				if err := loadRib(ctx, tx, name, body, stats); err != nil {
					return err
				}
			}
		}
	}
}

// loadPeerTable marks every collector peer as a direct feed.
func loadPeerTable(ctx context.Context, tx *datastore.Tx, name string, table *mrt.PeerIndexTable) error {
	feeds := 0
	for _, peer := range table.Peers {
		if peer.AS == 0 {
			continue
		}
		if err := tx.UpsertASN(ctx, peer.AS, true); err != nil {
			return err
		}
		feeds++
	}
	log.Printf("%s: %d collector peers (%d with an AS)", name, len(table.Peers), feeds)
	return nil
}

func loadRib(ctx context.Context, tx *datastore.Tx, name string, rib *mrt.Rib, stats *Stats) error {
	prefixStr := rib.Prefix.String()
	prefix, err := datastore.ParsePrefix(prefixStr)
	if err != nil {
		log.Printf("warning: %s: skipping prefix %q: %v", name, prefixStr, err)
		stats.Skipped++
		return nil
	}
	if err := tx.InsertPrefix(ctx, prefix); err != nil {
		return err
	}

	for _, entry := range rib.Entries {
		hops, ok := flattenASPath(entry.PathAttributes)
		if !ok {
			log.Printf("warning: %s: empty AS path segment for %s, skipping entry", name, prefixStr)
			stats.Skipped++
			continue
		}
		if len(hops) == 0 {
			log.Printf("warning: %s: no usable AS path for %s, skipping entry", name, prefixStr)
			stats.Skipped++
			continue
		}
		if err := loadPath(ctx, tx, prefix, hops, stats); err != nil {
			return err
		}
		stats.Announcements++
	}
	return nil
}

// loadPath stores one observed announcement: the path itself when its
// content hash is new, hop ASNs, the adjacencies derived from
// consecutive hop pairs, and the prefix associations. An AS sending a
// route it does not originate is providing transit to the AS it sends
// it to.
func loadPath(ctx context.Context, tx *datastore.Tx, prefix datastore.Prefix, hops []uint32, stats *Stats) error {
	pathID := datastore.PathID(hops)
	known, err := tx.HasPath(ctx, pathID)
	if err != nil {
		return err
	}
	if !known {
		if err := tx.InsertPath(ctx, pathID, hops); err != nil {
			return err
		}
		origin := hops[len(hops)-1]
		for i, asn := range hops {
			if err := tx.UpsertASN(ctx, asn, false); err != nil {
				return err
			}
			if i > 0 && hops[i-1] != asn {
				if err := tx.UpsertNeighbour(ctx, hops[i-1], asn, asn != origin); err != nil {
					return err
				}
			}
		}
		stats.Paths++
	}

	if err := tx.LinkPrefixPath(ctx, prefix, pathID); err != nil {
		return err
	}
	return tx.AddOrigin(ctx, prefix, hops[len(hops)-1])
}

// flattenASPath linearizes the first AS_PATH attribute found.
// Aggregated segments (AS_SET, confederation sets and sequences) carry
// no usable order, so their first member stands in for the whole
// segment; that guess is logged. A segment with no members at all
// makes the whole path unusable, since splicing the hops around it
// would invent an adjacency nobody announced: the second return is
// false and the caller drops the record.
func flattenASPath(attrs []bgp.PathAttributeInterface) ([]uint32, bool) {
	for _, attr := range attrs {
		asPath, ok := attr.(*bgp.PathAttributeAsPath)
		if !ok {
			continue
		}
		var hops []uint32
		for _, param := range asPath.Value {
			asns := param.GetAS()
			if len(asns) == 0 {
				return nil, false
			}
			if param.GetType() == bgp.BGP_ASPATH_ATTR_TYPE_SEQ {
				hops = append(hops, asns...)
				continue
			}
			log.Printf("warning: guessing AS%d for aggregated path segment %v", asns[0], asns)
			hops = append(hops, asns[0])
		}
		return hops, true
	}
	return nil, true
}
