// Package roa validates route origin authorizations against the
// registry-derived ROA table.
package roa

import (
	"context"
	"fmt"
	"net"
	"sort"

	"github.com/yl2chen/cidranger"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
)

// Checker answers origin authorization queries for announced prefixes.
// The whole ROA table is indexed in memory at construction time; all
// queries afterwards are pure and read-only.
type Checker struct {
	ranger cidranger.Ranger
}

// rangeEntry groups the ROA entries that share one covered range, so
// the trie holds a single node per range.
type rangeEntry struct {
	ipnet   net.IPNet
	entries []datastore.ROAEntry
}

func (e *rangeEntry) Network() net.IPNet { return e.ipnet }

// NewChecker loads the ROA table from the store and indexes it by
// covered range.
func NewChecker(ctx context.Context, store *datastore.Store) (*Checker, error) {
	rows, err := store.AllROAEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ROA entries: %w", err)
	}

	byRange := make(map[string]*rangeEntry)
	for _, row := range rows {
		ipnet := row.Prefix().IPNet()
		key := ipnet.String()
		re := byRange[key]
		if re == nil {
			re = &rangeEntry{ipnet: *ipnet}
			byRange[key] = re
		}
		re.entries = append(re.entries, row)
	}

	ranger := cidranger.NewPCTrieRanger()
	for _, re := range byRange {
		if err := ranger.Insert(re); err != nil {
			return nil, fmt.Errorf("indexing ROA range %s: %w", re.ipnet.String(), err)
		}
	}
	return &Checker{ranger: ranger}, nil
}

// covering returns all ROA entries whose range fully contains the
// prefix: the entry contains the prefix's network address and is no
// more specific than the prefix itself.
func (c *Checker) covering(p datastore.Prefix) ([]datastore.ROAEntry, error) {
	nets, err := c.ranger.ContainingNetworks(net.IP(p.Network))
	if err != nil {
		return nil, err
	}

	var out []datastore.ROAEntry
	for _, n := range nets {
		for _, e := range n.(*rangeEntry).entries {
			if e.Length <= p.Length {
				out = append(out, e)
			}
		}
	}
	// Most specific covering range first.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Length != out[j].Length {
			return out[i].Length > out[j].Length
		}
		if out[i].MaxLength != out[j].MaxLength {
			return out[i].MaxLength < out[j].MaxLength
		}
		return out[i].ASN < out[j].ASN
	})
	return out, nil
}

// Authorizing returns the ROA entries that authorize the given AS to
// originate the prefix: entries covering the prefix, authorized for
// the AS, with max-length at least the prefix length.
func (c *Checker) Authorizing(p datastore.Prefix, asn uint32) ([]datastore.ROAEntry, error) {
	entries, err := c.covering(p)
	if err != nil {
		return nil, err
	}
	var out []datastore.ROAEntry
	for _, e := range entries {
		if e.ASN == asn && e.MaxLength >= p.Length {
			out = append(out, e)
		}
	}
	return out, nil
}

// IsAuthorized reports whether at least one ROA entry authorizes the
// AS to originate the prefix.
func (c *Checker) IsAuthorized(p datastore.Prefix, asn uint32) (bool, error) {
	entries, err := c.Authorizing(p, asn)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// ValidOrigins returns, grouped by AS, every ROA entry that would
// authorize that AS to originate the prefix.
func (c *Checker) ValidOrigins(p datastore.Prefix) (map[uint32][]datastore.ROAEntry, error) {
	entries, err := c.covering(p)
	if err != nil {
		return nil, err
	}
	out := make(map[uint32][]datastore.ROAEntry)
	for _, e := range entries {
		if e.MaxLength >= p.Length {
			out[e.ASN] = append(out[e.ASN], e)
		}
	}
	return out, nil
}
