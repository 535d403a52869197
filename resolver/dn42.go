package resolver

import (
	"context"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
)

// DefaultMaxExploredASNs bounds the breadth-first exploration of the
// dn42 guesser.
const DefaultMaxExploredASNs = 50

// dn42Guesser walks the adjacency graph breadth-first from the source
// AS, treating every observed peering as bidirectional, and returns
// all paths tied at the minimum distance to any origin.
type dn42Guesser struct {
	maxExplored int
}

func (g *dn42Guesser) GuessPaths(ctx context.Context, db *datastore.Store, source uint32, origins []uint32) ([]Path, error) {
	if len(origins) == 0 {
		return nil, nil
	}
	originSet := make(map[uint32]bool, len(origins))
	for _, asn := range origins {
		originSet[asn] = true
	}
	if originSet[source] {
		return []Path{{source}}, nil
	}

	neighbours, err := db.AllNeighbours(ctx)
	if err != nil {
		return nil, err
	}
	adjacent := make(map[uint32][]uint32)
	seenEdge := make(map[[2]uint32]bool)
	addEdge := func(a, b uint32) {
		if a == b || seenEdge[[2]uint32{a, b}] {
			return
		}
		seenEdge[[2]uint32{a, b}] = true
		adjacent[a] = append(adjacent[a], b)
	}
	for _, n := range neighbours {
		addEdge(n.ReceiverASN, n.SenderASN)
		addEdge(n.SenderASN, n.ReceiverASN)
	}

	// Breadth-first search recording, for every node, all parents
	// that reach it at its shortest distance. Stops once the frontier
	// moves past the distance of the nearest origin, or once the
	// exploration cap is hit; in the latter case whatever was found
	// so far still gets returned.
	dist := map[uint32]int{source: 0}
	parents := make(map[uint32][]uint32)
	queue := []uint32{source}
	explored := 0
	best := -1
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		d := dist[node]
		if best >= 0 && d >= best {
			break
		}
		if explored >= g.maxExplored {
			break
		}
		explored++
		for _, next := range adjacent[node] {
			if prev, ok := dist[next]; ok {
				if prev == d+1 {
					parents[next] = append(parents[next], node)
				}
				continue
			}
			dist[next] = d + 1
			parents[next] = []uint32{node}
			queue = append(queue, next)
			if originSet[next] && best < 0 {
				best = d + 1
			}
		}
	}
	if best < 0 {
		return nil, nil
	}

	// Unwind the parent sets into full source-to-origin paths for the
	// origins at the minimum distance.
	var out []Path
	var unwind func(node uint32, tail []uint32)
	unwind = func(node uint32, tail []uint32) {
		tail = append(tail, node)
		if node == source {
			path := make(Path, len(tail))
			for i, hop := range tail {
				path[len(tail)-1-i] = hop
			}
			out = append(out, path)
			return
		}
		for _, parent := range parents[node] {
			unwind(parent, append([]uint32(nil), tail...))
		}
	}
	for _, origin := range dedupeASNs(origins) {
		if dist[origin] == best {
			unwind(origin, nil)
		}
	}

	sortPaths(out)
	return out, nil
}
