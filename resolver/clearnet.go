package resolver

import (
	"context"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
)

// DefaultTier1ASNs is the default junction set for the clearnet
// guesser: the transit-free carriers that almost every public
// internet path crosses.
var DefaultTier1ASNs = []uint32{
	174,   // Cogent
	701,   // Verizon
	1299,  // Arelion
	2914,  // NTT
	3257,  // GTT
	3320,  // Deutsche Telekom
	3356,  // Lumen
	3491,  // PCCW
	5511,  // Orange
	6453,  // Tata
	6461,  // Zayo
	6762,  // Telecom Italia Sparkle
	6830,  // Liberty Global
	6939,  // Hurricane Electric
	7018,  // AT&T
	7922,  // Comcast
	12956, // Telxius
}

// clearnetGuesser guesses paths for the public internet, where the
// collector sees only a sparse subset of peerings and graph
// exploration would wander. It stitches together fragments of
// observed paths instead: source AS to a tier-1 carrier, then that
// carrier down to one of the origins.
type clearnetGuesser struct {
	tier1 []uint32
}

func (g *clearnetGuesser) GuessPaths(ctx context.Context, db *datastore.Store, source uint32, origins []uint32) ([]Path, error) {
	if len(origins) == 0 {
		return nil, nil
	}

	heads, err := g.sourceFragments(ctx, db, source)
	if err != nil {
		return nil, err
	}
	if len(heads) == 0 {
		return nil, nil
	}
	tails, err := g.originFragments(ctx, db, origins)
	if err != nil {
		return nil, err
	}

	var out []Path
	seen := make(map[int64]bool)
	for junction, headFrags := range heads {
		for _, tail := range tails[junction] {
			for _, head := range headFrags {
				// The junction carrier ends the head and starts the
				// tail; drop its duplicate.
				path := make(Path, 0, len(head)+len(tail)-1)
				path = append(path, head...)
				path = append(path, tail[1:]...)
				if id := datastore.PathID(path); !seen[id] {
					seen[id] = true
					out = append(out, path)
				}
			}
		}
	}
	sortPaths(out)
	return out, nil
}

// sourceFragments returns the shortest observed path fragments
// between the source AS and each tier-1 carrier, keyed by carrier.
// Announcements flow both ways, so the two ASes may appear in either
// order in a stored path; fragments are normalized to start at the
// source. A source that is itself a tier-1 is its own junction.
func (g *clearnetGuesser) sourceFragments(ctx context.Context, db *datastore.Store, source uint32) (map[uint32][]Path, error) {
	for _, t1 := range g.tier1 {
		if t1 == source {
			return map[uint32][]Path{source: {Path{source}}}, nil
		}
	}

	pairs, err := db.CoOccurrences(ctx, []uint32{source}, g.tier1, false)
	if err != nil {
		return nil, err
	}
	var frags []Path
	for _, pair := range pairs {
		lo, hi := pair.FirstIndex, pair.SecondIndex
		reverse := hi < lo
		if reverse {
			lo, hi = hi, lo
		}
		hops, err := db.PathRange(ctx, pair.PathID, lo, hi)
		if err != nil {
			return nil, err
		}
		if len(hops) < 2 {
			continue
		}
		frag := make(Path, len(hops))
		for i, hop := range hops {
			if reverse {
				frag[len(hops)-1-i] = hop
			} else {
				frag[i] = hop
			}
		}
		frags = append(frags, frag)
	}

	// Only the globally shortest fragments count, whichever carrier
	// they lead to.
	out := make(map[uint32][]Path)
	for _, frag := range shortestOnly(dedupePaths(frags)) {
		junction := frag[len(frag)-1]
		out[junction] = append(out[junction], frag)
	}
	return out, nil
}

// originFragments returns the shortest observed path fragments from
// each tier-1 carrier down to any of the origins, keyed by carrier.
// Only fragments in announcement order count here: the carrier must
// appear upstream of the origin.
func (g *clearnetGuesser) originFragments(ctx context.Context, db *datastore.Store, origins []uint32) (map[uint32][]Path, error) {
	pairs, err := db.CoOccurrences(ctx, g.tier1, origins, true)
	if err != nil {
		return nil, err
	}
	out := make(map[uint32][]Path)
	for _, pair := range pairs {
		hops, err := db.PathRange(ctx, pair.PathID, pair.FirstIndex, pair.SecondIndex)
		if err != nil {
			return nil, err
		}
		if len(hops) < 2 {
			continue
		}
		out[hops[0]] = append(out[hops[0]], Path(hops))
	}
	for junction, frags := range out {
		out[junction] = shortestOnly(dedupePaths(frags))
	}
	return out, nil
}
