// Package graph lays out reachability results as Graphviz documents.
// It only produces the graph description; rendering to an image is
// left to the caller.
package graph

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/emicklei/dot"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
	"git.autistici.org/ai3/tools/routegraphs/resolver"
)

// Options are the optional annotations of a connectivity graph.
type Options struct {
	// ValidOrigins, when non-nil, colors the edges between the origin
	// ASes and the destination prefix by authorization status, green
	// for authorized origins, red for unauthorized ones, orange when
	// no ROA covers the prefix at all.
	ValidOrigins map[uint32][]datastore.ROAEntry

	// LinkBase, when set, attaches hyperlinks into the query frontend
	// to every node and edge.
	LinkBase string
}

// The destination prefix gets a fixed node ID; CIDR strings make poor
// identifiers.
const destNodeID = "dest_prefix"

type builder struct {
	g         *dot.Graph
	dest      dot.Node
	prefix    datastore.Prefix
	opts      Options
	confirmed map[uint32]bool
	seenEdges map[[2]string]bool
}

// Build lays out the connectivity graph of a reachability query: one
// node per AS, a sentinel node for the destination prefix, solid
// edges along observed paths and dashed grey ones along guesses.
// Guessed paths stop extending once they touch an AS already reached
// by an observed path, whose route onwards is drawn anyway.
func Build(sources []uint32, result *resolver.Result, opts Options) *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	g.ID("routegraphs")
	g.Attr("rankdir", "LR")
	g.NodeInitializer(func(n dot.Node) {
		n.Attr("penwidth", "1.5")
		n.Attr("margin", "0.02")
	})

	b := &builder{
		g:         g,
		prefix:    result.Prefix,
		opts:      opts,
		confirmed: make(map[uint32]bool),
		seenEdges: make(map[[2]string]bool),
	}
	b.dest = g.Node(destNodeID).Attr("label", result.Prefix.String()).Attr("color", "green")
	if opts.LinkBase != "" {
		b.dest.Attr("URL", b.prefixURL())
	}

	for _, asn := range sources {
		b.asNode(asn).Attr("color", "blue")
	}
	for _, path := range result.Paths {
		for _, asn := range path {
			b.confirmed[asn] = true
		}
	}
	for _, path := range result.Paths {
		b.addPath(path, false)
	}
	for _, path := range result.Guessed {
		b.addPath(path, true)
	}
	return g
}

func (b *builder) addPath(path resolver.Path, guessed bool) {
	if len(path) == 0 {
		return
	}
	for i := 1; i < len(path); i++ {
		prev, cur := path[i-1], path[i]
		if prev == cur {
			continue
		}
		b.addEdge(prev, cur, guessed)
		if guessed && b.confirmed[cur] {
			return
		}
	}
	b.originEdge(path[len(path)-1])
}

func (b *builder) addEdge(from, to uint32, guessed bool) {
	key := [2]string{asID(from), asID(to)}
	if b.seenEdges[key] {
		return
	}
	b.seenEdges[key] = true

	e := b.g.Edge(b.asNode(from), b.asNode(to))
	if guessed {
		e.Attr("style", "dashed")
		e.Attr("color", "grey")
	}
	if b.opts.LinkBase != "" {
		e.Attr("URL", b.asURL(to))
	}
}

// originEdge connects an origin AS to the destination prefix,
// carrying the ROA verdict when one was supplied.
func (b *builder) originEdge(origin uint32) {
	key := [2]string{asID(origin), destNodeID}
	if b.seenEdges[key] {
		return
	}
	b.seenEdges[key] = true

	e := b.g.Edge(b.asNode(origin), b.dest)
	if b.opts.ValidOrigins != nil {
		e.Attr("color", originColor(b.opts.ValidOrigins, origin))
	}
	if b.opts.LinkBase != "" {
		e.Attr("URL", b.prefixURL())
	}
}

func (b *builder) asNode(asn uint32) dot.Node {
	n := b.g.Node(asID(asn))
	if b.opts.LinkBase != "" {
		n.Attr("URL", b.asURL(asn))
	}
	return n
}

func (b *builder) asURL(asn uint32) string {
	return fmt.Sprintf("%s/asn/%d", strings.TrimSuffix(b.opts.LinkBase, "/"), asn)
}

func (b *builder) prefixURL() string {
	return fmt.Sprintf("%s/?ip_prefix=%s",
		strings.TrimSuffix(b.opts.LinkBase, "/"), url.QueryEscape(b.prefix.String()))
}

func asID(asn uint32) string {
	return fmt.Sprintf("AS%d", asn)
}

func originColor(validOrigins map[uint32][]datastore.ROAEntry, origin uint32) string {
	switch {
	case len(validOrigins[origin]) > 0:
		return "green"
	case len(validOrigins) > 0:
		return "red"
	default:
		return "orange"
	}
}
