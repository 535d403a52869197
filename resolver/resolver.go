// Package resolver answers reachability queries: given a target
// address or prefix and a set of source ASes, it returns the AS paths
// connecting each source to the prefix origins, as observed at the
// route collector. Sources with no observed path get plausible
// candidates guessed from the rest of the topology instead.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
)

var (
	// ErrPrefixNotFound means no stored prefix contains the target.
	ErrPrefixNotFound = errors.New("prefix not found")

	// ErrInvalidQuery means the query itself is malformed.
	ErrInvalidQuery = errors.New("invalid query")
)

// Algorithm selects the strategy used to guess paths for source ASes
// with no observed path to the target.
type Algorithm int

const (
	// AlgorithmDN42 explores the adjacency graph breadth-first. It
	// fits small meshes where the collector sees most peerings.
	AlgorithmDN42 Algorithm = iota

	// AlgorithmClearnet stitches together observed path fragments
	// through tier-1 carriers. It fits the public internet, where the
	// collector only ever sees a sparse subset of peerings.
	AlgorithmClearnet
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "dn42":
		return AlgorithmDN42, nil
	case "clearnet":
		return AlgorithmClearnet, nil
	}
	return 0, fmt.Errorf("unknown path guessing algorithm %q", s)
}

func (a Algorithm) String() string {
	if a == AlgorithmClearnet {
		return "clearnet"
	}
	return "dn42"
}

// Config tunes the resolver. The zero value selects the dn42
// algorithm with default limits.
type Config struct {
	Algorithm Algorithm

	// MaxExploredASNs bounds the graph exploration of the dn42
	// algorithm: past the limit, the search stops and returns
	// whatever it has found.
	MaxExploredASNs int

	// Tier1ASNs are the junction carriers of the clearnet algorithm.
	Tier1ASNs []uint32
}

// Path is an AS path, from the querying source AS down to the origin.
type Path []uint32

// PathGuesser derives candidate paths from a source AS to one of the
// given origin ASes when the collector has no observed path. Guessers
// return an empty set rather than an error when they find nothing.
type PathGuesser interface {
	GuessPaths(ctx context.Context, db *datastore.Store, source uint32, origins []uint32) ([]Path, error)
}

// Result is the outcome of a reachability query.
type Result struct {
	// Prefix actually resolved; for single-address targets, the most
	// specific stored prefix containing them.
	Prefix datastore.Prefix `json:"prefix"`

	// Paths observed at the collector.
	Paths []Path `json:"paths"`

	// Guessed candidate paths for the sources with no observed path.
	Guessed []Path `json:"guessed_paths"`
}

// Resolver runs reachability queries against a topology database.
type Resolver struct {
	db      *datastore.Store
	guesser PathGuesser
}

// New builds a Resolver with the guessing strategy selected by cfg.
func New(db *datastore.Store, cfg Config) *Resolver {
	var g PathGuesser
	switch cfg.Algorithm {
	case AlgorithmClearnet:
		tier1 := cfg.Tier1ASNs
		if len(tier1) == 0 {
			tier1 = DefaultTier1ASNs
		}
		g = &clearnetGuesser{tier1: tier1}
	default:
		limit := cfg.MaxExploredASNs
		if limit <= 0 {
			limit = DefaultMaxExploredASNs
		}
		g = &dn42Guesser{maxExplored: limit}
	}
	return &Resolver{db: db, guesser: g}
}

// Resolve finds how each source AS reaches the target, an IP address
// or a CIDR prefix. Sources that appear on stored paths for the
// target contribute the path suffix from their first occurrence; for
// the others, the configured guesser proposes candidates.
func (r *Resolver) Resolve(ctx context.Context, target string, sources []uint32) (*Result, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no source ASNs", ErrInvalidQuery)
	}
	for _, asn := range sources {
		if asn == 0 {
			return nil, fmt.Errorf("%w: source ASN 0", ErrInvalidQuery)
		}
	}

	prefix, err := r.lookupTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	origins, err := r.db.OriginASNs(ctx, prefix)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Prefix:  prefix,
		Paths:   []Path{},
		Guessed: []Path{},
	}
	seen := make(map[int64]bool)
	seenGuess := make(map[int64]bool)
	for _, source := range dedupeASNs(sources) {
		paths, err := r.exactPaths(ctx, prefix, source)
		if err != nil {
			return nil, err
		}
		if len(paths) > 0 {
			for _, p := range paths {
				if id := datastore.PathID(p); !seen[id] {
					seen[id] = true
					result.Paths = append(result.Paths, p)
				}
			}
			continue
		}
		guessed, err := r.guesser.GuessPaths(ctx, r.db, source, origins)
		if err != nil {
			return nil, err
		}
		for _, p := range guessed {
			if id := datastore.PathID(p); !seenGuess[id] {
				seenGuess[id] = true
				result.Guessed = append(result.Guessed, p)
			}
		}
	}

	sortPaths(result.Paths)
	sortPaths(result.Guessed)
	return result, nil
}

// lookupTarget maps the query target to a stored prefix. Bare
// addresses and single-address networks (a /32 or /128) resolve to
// the most specific stored prefix containing them; wider networks are
// taken as given.
func (r *Resolver) lookupTarget(ctx context.Context, target string) (datastore.Prefix, error) {
	if !strings.Contains(target, "/") {
		ip := net.ParseIP(target)
		if ip == nil {
			return datastore.Prefix{}, fmt.Errorf("%w: bad address %q", ErrInvalidQuery, target)
		}
		return r.mostSpecific(ctx, ip)
	}

	prefix, err := datastore.ParsePrefix(target)
	if err != nil {
		return datastore.Prefix{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if prefix.Length == 8*len(prefix.Network) {
		return r.mostSpecific(ctx, net.IP(prefix.Network))
	}
	// Wider targets must have been announced as such.
	ok, err := r.db.HasPrefix(ctx, prefix)
	if err != nil {
		return datastore.Prefix{}, err
	}
	if !ok {
		return datastore.Prefix{}, fmt.Errorf("%s: %w", prefix, ErrPrefixNotFound)
	}
	return prefix, nil
}

func (r *Resolver) mostSpecific(ctx context.Context, ip net.IP) (datastore.Prefix, error) {
	prefix, err := r.db.MostSpecificPrefix(ctx, ip)
	if errors.Is(err, datastore.ErrNotFound) {
		return datastore.Prefix{}, fmt.Errorf("%s: %w", ip, ErrPrefixNotFound)
	}
	return prefix, err
}

// exactPaths returns the observed paths from source down to the
// origins of prefix: for every stored path containing the source, the
// suffix from its first occurrence. Only the suffixes tied at the
// minimum length survive.
func (r *Resolver) exactPaths(ctx context.Context, prefix datastore.Prefix, source uint32) ([]Path, error) {
	refs, err := r.db.PathsThrough(ctx, prefix, source)
	if err != nil {
		return nil, err
	}
	var out []Path
	seen := make(map[int64]bool)
	for _, ref := range refs {
		hops, err := r.db.PathSuffix(ctx, ref.PathID, ref.Index)
		if err != nil {
			return nil, err
		}
		if len(hops) == 0 {
			continue
		}
		if id := datastore.PathID(hops); !seen[id] {
			seen[id] = true
			out = append(out, Path(hops))
		}
	}
	return shortestOnly(out), nil
}

func dedupeASNs(asns []uint32) []uint32 {
	seen := make(map[uint32]bool, len(asns))
	out := make([]uint32, 0, len(asns))
	for _, asn := range asns {
		if !seen[asn] {
			seen[asn] = true
			out = append(out, asn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func dedupePaths(paths []Path) []Path {
	seen := make(map[int64]bool, len(paths))
	var out []Path
	for _, p := range paths {
		if id := datastore.PathID(p); !seen[id] {
			seen[id] = true
			out = append(out, p)
		}
	}
	return out
}

// shortestOnly keeps the paths tied at the minimum length.
func shortestOnly(paths []Path) []Path {
	if len(paths) == 0 {
		return nil
	}
	shortest := len(paths[0])
	for _, p := range paths[1:] {
		if len(p) < shortest {
			shortest = len(p)
		}
	}
	var out []Path
	for _, p := range paths {
		if len(p) == shortest {
			out = append(out, p)
		}
	}
	return out
}

// sortPaths orders paths by length, then hop by hop.
func sortPaths(paths []Path) {
	sort.Slice(paths, func(i, j int) bool {
		a, b := paths[i], paths[j]
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}
