package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"

	"github.com/jmoiron/sqlx"
)

// MostSpecificPrefix returns the longest stored prefix containing the
// given address, within the same address family.
func (s *Store) MostSpecificPrefix(ctx context.Context, ip net.IP) (Prefix, error) {
	packed := []byte(ip)
	if ip4 := ip.To4(); ip4 != nil {
		packed = ip4
	}

	var p Prefix
	err := s.db.GetContext(ctx, &p, `
SELECT network, length, broadcast FROM prefixes
 WHERE network <= ? AND broadcast >= ? AND LENGTH(network) = ?
 ORDER BY length DESC LIMIT 1
`, packed, packed, len(packed))
	if errors.Is(err, sql.ErrNoRows) {
		return Prefix{}, fmt.Errorf("no route for %s: %w", ip, ErrNotFound)
	}
	return p, err
}

// HasPrefix reports whether a prefix exists verbatim in the store.
func (s *Store) HasPrefix(ctx context.Context, p Prefix) (bool, error) {
	var found bool
	err := s.db.GetContext(ctx, &found, `
SELECT EXISTS (SELECT 1 FROM prefixes WHERE network = ? AND length = ?)
`, p.Network, p.Length)
	return found, err
}

// OriginASNs returns the ASes observed originating a prefix.
func (s *Store) OriginASNs(ctx context.Context, p Prefix) ([]uint32, error) {
	var out []uint32
	err := s.db.SelectContext(ctx, &out, `
SELECT asn FROM prefix_origins WHERE network = ? AND length = ? ORDER BY asn
`, p.Network, p.Length)
	return out, err
}

// PathsThrough returns, for every stored path associated with the
// prefix that contains the given AS as a hop, the path identifier and
// the first hop index at which the AS appears.
func (s *Store) PathsThrough(ctx context.Context, p Prefix, asn uint32) ([]PathRef, error) {
	var out []PathRef
	err := s.db.SelectContext(ctx, &out, `
SELECT p.path_id AS path_id, MIN(p.list_index) AS list_index
  FROM paths p JOIN prefix_paths pp ON pp.path_id = p.path_id
 WHERE pp.network = ? AND pp.length = ? AND p.asn = ?
 GROUP BY p.path_id
`, p.Network, p.Length, asn)
	return out, err
}

// PathSuffix returns the hops of a path starting at the given index.
func (s *Store) PathSuffix(ctx context.Context, pathID int64, from int) ([]uint32, error) {
	var out []uint32
	err := s.db.SelectContext(ctx, &out, `
SELECT asn FROM paths WHERE path_id = ? AND list_index >= ? ORDER BY list_index
`, pathID, from)
	return out, err
}

// PathRange returns the hops of a path between two indexes, inclusive.
func (s *Store) PathRange(ctx context.Context, pathID int64, lo, hi int) ([]uint32, error) {
	var out []uint32
	err := s.db.SelectContext(ctx, &out, `
SELECT asn FROM paths WHERE path_id = ? AND list_index BETWEEN ? AND ? ORDER BY list_index
`, pathID, lo, hi)
	return out, err
}

// AllNeighbours returns the full adjacency relation.
func (s *Store) AllNeighbours(ctx context.Context) ([]Neighbour, error) {
	var out []Neighbour
	err := s.db.SelectContext(ctx, &out, `
SELECT receiver_asn, sender_asn, transit FROM neighbours
 ORDER BY receiver_asn, sender_asn
`)
	return out, err
}

// CoOccurrences finds stored paths where an AS from the first set and
// an AS from the second set appear together. With ordered set, the
// second AS must appear later in the path than the first.
func (s *Store) CoOccurrences(ctx context.Context, first, second []uint32, ordered bool) ([]CoOccurrence, error) {
	if len(first) == 0 || len(second) == 0 {
		return nil, nil
	}
	q := `
SELECT a.path_id AS path_id, a.list_index AS first_index, b.list_index AS second_index
  FROM paths a JOIN paths b ON b.path_id = a.path_id
 WHERE a.asn IN (?) AND b.asn IN (?)`
	if ordered {
		q += ` AND b.list_index > a.list_index`
	}
	query, args, err := sqlx.In(q, first, second)
	if err != nil {
		return nil, err
	}
	var out []CoOccurrence
	err = s.db.SelectContext(ctx, &out, query, args...)
	return out, err
}

// ASNInfo returns the stored attributes of an AS.
func (s *Store) ASNInfo(ctx context.Context, asn uint32) (*ASNInfo, error) {
	var info ASNInfo
	err := s.db.GetContext(ctx, &info,
		`SELECT asn, direct_feed, name FROM asns WHERE asn = ?`, asn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("AS%d: %w", asn, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// SuggestedASNs returns the ASes with the most adjacencies on the
// receiving side, the "largest ASes" quick reference.
func (s *Store) SuggestedASNs(ctx context.Context, limit int) ([]ASNSummary, error) {
	var out []ASNSummary
	err := s.db.SelectContext(ctx, &out, `
SELECT n.receiver_asn AS asn, COALESCE(a.name, '') AS name,
       COUNT(n.sender_asn) AS peer_count, COALESCE(a.direct_feed, 0) AS direct_feed
  FROM neighbours n LEFT JOIN asns a ON a.asn = n.receiver_asn
 GROUP BY n.receiver_asn
 ORDER BY peer_count DESC, asn ASC
 LIMIT ?
`, limit)
	return out, err
}

// ListASNs returns every AS with at least one adjacency, counting
// peers in either direction, busiest first.
func (s *Store) ListASNs(ctx context.Context) ([]ASNSummary, error) {
	var out []ASNSummary
	err := s.db.SelectContext(ctx, &out, `
SELECT u.local_asn AS asn, a.name AS name, COUNT(u.peer_asn) AS peer_count,
       a.direct_feed AS direct_feed
  FROM (SELECT receiver_asn AS local_asn, sender_asn AS peer_asn FROM neighbours
        UNION
        SELECT sender_asn, receiver_asn FROM neighbours) u
  JOIN asns a ON a.asn = u.local_asn
 GROUP BY u.local_asn
 ORDER BY peer_count DESC, asn ASC
`)
	return out, err
}

// PrefixesOriginatedBy returns the prefixes an AS was seen
// originating.
func (s *Store) PrefixesOriginatedBy(ctx context.Context, asn uint32) ([]Prefix, error) {
	var out []Prefix
	err := s.db.SelectContext(ctx, &out, `
SELECT p.network AS network, p.length AS length, p.broadcast AS broadcast
  FROM prefix_origins o
  JOIN prefixes p ON p.network = o.network AND p.length = o.length
 WHERE o.asn = ?
 ORDER BY p.network, p.length
`, asn)
	return out, err
}

// PeersOf returns the observed peers of an AS with the aggregated
// transit flags in both directions.
func (s *Store) PeersOf(ctx context.Context, asn uint32) ([]PeerInfo, error) {
	var out []PeerInfo
	err := s.db.SelectContext(ctx, &out, `
SELECT u.peer_asn AS asn, COALESCE(a.name, '') AS name,
       COALESCE(a.direct_feed, 0) AS direct_feed,
       MAX(u.receives_transit) AS receives_transit,
       MAX(u.sends_transit) AS sends_transit
  FROM (SELECT receiver_asn AS local_asn, sender_asn AS peer_asn,
               transit AS receives_transit, 0 AS sends_transit
          FROM neighbours
        UNION
        SELECT sender_asn, receiver_asn, 0, transit FROM neighbours) u
  LEFT JOIN asns a ON a.asn = u.peer_asn
 WHERE u.local_asn = ? AND u.peer_asn <> u.local_asn
 GROUP BY u.peer_asn
 ORDER BY u.peer_asn
`, asn)
	return out, err
}

// AllROAEntries returns the whole roa_entries table.
func (s *Store) AllROAEntries(ctx context.Context) ([]ROAEntry, error) {
	var out []ROAEntry
	err := s.db.SelectContext(ctx, &out, `
SELECT network, length, broadcast, max_length, asn FROM roa_entries
 ORDER BY network, length, max_length, asn
`)
	return out, err
}

var tableNames = []string{
	"asns", "prefixes", "paths", "prefix_paths", "prefix_origins",
	"neighbours", "roa_entries",
}

// TableCounts returns the number of rows in each topology table.
func (s *Store) TableCounts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(tableNames))
	for _, name := range tableNames {
		var n int64
		if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM `+name); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, nil
}
