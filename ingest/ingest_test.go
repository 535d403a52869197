package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
	"github.com/osrg/gobgp/v3/pkg/packet/mrt"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
)

func testDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ingest-test-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func serializeAll(t *testing.T, msgs ...*mrt.MRTMessage) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, msg := range msgs {
		b, err := msg.Serialize()
		if err != nil {
			t.Fatal(err)
		}
		buf.Write(b)
	}
	return buf.Bytes()
}

func peerIndexMsg(t *testing.T, asns ...uint32) *mrt.MRTMessage {
	t.Helper()
	var peers []*mrt.Peer
	for i, asn := range asns {
		peers = append(peers, mrt.NewPeer("192.0.2.1", fmt.Sprintf("192.0.2.%d", i+10), asn, true))
	}
	msg, err := mrt.NewMRTMessage(1, mrt.TABLE_DUMPv2, mrt.PEER_INDEX_TABLE,
		mrt.NewPeerIndexTable("192.0.2.1", "test", peers))
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

// ribMsg builds a single-entry RIB record for a prefix, picking the
// v4/v6 subtype from the prefix family.
func ribMsg(t *testing.T, seq uint32, cidr string, attrs ...bgp.PathAttributeInterface) *mrt.MRTMessage {
	t.Helper()
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		t.Fatal(err)
	}
	ones, _ := ipnet.Mask.Size()

	var prefix bgp.AddrPrefixInterface
	subtype := mrt.RIB_IPV6_UNICAST
	if ip4 := ipnet.IP.To4(); ip4 != nil {
		prefix = bgp.NewIPAddrPrefix(uint8(ones), ip4.String())
		subtype = mrt.RIB_IPV4_UNICAST
	} else {
		prefix = bgp.NewIPv6AddrPrefix(uint8(ones), ipnet.IP.String())
	}

	entry := mrt.NewRibEntry(0, 1, 0, attrs, false)
	msg, err := mrt.NewMRTMessage(1, mrt.TABLE_DUMPv2, subtype,
		mrt.NewRib(seq, prefix, []*mrt.RibEntry{entry}))
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func asPath(hops ...uint32) bgp.PathAttributeInterface {
	return bgp.NewPathAttributeAsPath([]bgp.AsPathParamInterface{
		bgp.NewAs4PathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, hops),
	})
}

func writeDump(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func openPublished(t *testing.T, path string) *datastore.Store {
	t.Helper()
	db, err := datastore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustPrefix(t *testing.T, cidr string) datastore.Prefix {
	t.Helper()
	p, err := datastore.ParsePrefix(cidr)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func origins(t *testing.T, db *datastore.Store, cidr string) []uint32 {
	t.Helper()
	asns, err := db.OriginASNs(context.Background(), mustPrefix(t, cidr))
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(asns, func(i, j int) bool { return asns[i] < asns[j] })
	return asns
}

func assertFeed(t *testing.T, db *datastore.Store, asn uint32, want bool) {
	t.Helper()
	info, err := db.ASNInfo(context.Background(), asn)
	if err != nil {
		t.Fatal(err)
	}
	if info.DirectFeed != want {
		t.Errorf("AS%d direct_feed = %v, want %v", asn, info.DirectFeed, want)
	}
}

func TestIngest(t *testing.T) {
	dir := testDir(t)
	dump := serializeAll(t,
		peerIndexMsg(t, 65001, 0),
		ribMsg(t, 1, "10.0.0.0/24", asPath(65001, 65002, 64999)),
		ribMsg(t, 2, "10.0.0.0/24", asPath(65001, 64999)),
		ribMsg(t, 3, "fd00:1234::/32", asPath(65001, 64999)),
		// An AS_SET tail: the first set member stands in as origin.
		ribMsg(t, 4, "192.0.2.0/24", bgp.NewPathAttributeAsPath([]bgp.AsPathParamInterface{
			bgp.NewAs4PathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{65001}),
			bgp.NewAs4PathParam(bgp.BGP_ASPATH_ATTR_TYPE_SET, []uint32{64512, 64513}),
		})),
		// No AS_PATH attribute at all: the entry is skipped.
		ribMsg(t, 5, "198.51.100.0/24", bgp.NewPathAttributeNextHop("192.0.2.1")),
	)
	mrtPath := writeDump(t, dir, "dump.mrt", dump)

	dbPath := filepath.Join(dir, "topology.db")
	stats, err := New(Config{DatabasePath: dbPath}).Run(context.Background(), []string{mrtPath})
	if err != nil {
		t.Fatal(err)
	}

	// The v4 and v6 announcements of [65001 64999] share one stored
	// path.
	if stats.Dumps != 1 || stats.Announcements != 4 || stats.Paths != 3 || stats.Skipped != 1 {
		t.Errorf("unexpected stats: %s", stats)
	}

	db := openPublished(t, dbPath)
	ctx := context.Background()

	assertFeed(t, db, 65001, true)
	assertFeed(t, db, 64999, false)

	if diff := cmp.Diff([]uint32{64999}, origins(t, db, "10.0.0.0/24")); diff != "" {
		t.Errorf("origins of 10.0.0.0/24 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{64999}, origins(t, db, "fd00:1234::/32")); diff != "" {
		t.Errorf("origins of fd00:1234::/32 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{64512}, origins(t, db, "192.0.2.0/24")); diff != "" {
		t.Errorf("origins of 192.0.2.0/24 (-want +got):\n%s", diff)
	}

	// AS65002 relays a prefix it does not originate, so it provides
	// transit to AS65001. Origins never get the transit flag.
	neighbours, err := db.AllNeighbours(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[datastore.Neighbour]bool)
	for _, n := range neighbours {
		got[n] = true
	}
	want := map[datastore.Neighbour]bool{
		{ReceiverASN: 65001, SenderASN: 65002, Transit: true}:  true,
		{ReceiverASN: 65002, SenderASN: 64999, Transit: false}: true,
		{ReceiverASN: 65001, SenderASN: 64999, Transit: false}: true,
		{ReceiverASN: 65001, SenderASN: 64512, Transit: false}: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("adjacencies (-want +got):\n%s", diff)
	}

	refs, err := db.PathsThrough(ctx, mustPrefix(t, "10.0.0.0/24"), 65002)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 {
		t.Fatalf("got %d paths through AS65002, want 1", len(refs))
	}
	hops, err := db.PathSuffix(ctx, refs[0].PathID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{65001, 65002, 64999}, hops); diff != "" {
		t.Errorf("stored path (-want +got):\n%s", diff)
	}
}

func TestFlattenASPath(t *testing.T) {
	seq := func(hops ...uint32) bgp.AsPathParamInterface {
		return bgp.NewAs4PathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, hops)
	}
	set := func(hops ...uint32) bgp.AsPathParamInterface {
		return bgp.NewAs4PathParam(bgp.BGP_ASPATH_ATTR_TYPE_SET, hops)
	}
	pathAttr := func(params ...bgp.AsPathParamInterface) []bgp.PathAttributeInterface {
		return []bgp.PathAttributeInterface{bgp.NewPathAttributeAsPath(params)}
	}

	tests := []struct {
		name  string
		attrs []bgp.PathAttributeInterface
		hops  []uint32
		ok    bool
	}{
		{"sequence", pathAttr(seq(65001, 65002, 64999)), []uint32{65001, 65002, 64999}, true},
		{"set_tail", pathAttr(seq(65001), set(64512, 64513)), []uint32{65001, 64512}, true},
		// An empty aggregated segment poisons the whole path: the
		// hops around it must not be joined into a fake adjacency.
		{"empty_set_between_sequences", pathAttr(seq(65001), set(), seq(64999)), nil, false},
		{"empty_sequence", pathAttr(seq(65001), seq(), seq(64999)), nil, false},
		{"no_as_path", []bgp.PathAttributeInterface{bgp.NewPathAttributeNextHop("192.0.2.1")}, nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hops, ok := flattenASPath(tc.attrs)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v (hops %v)", ok, tc.ok, hops)
			}
			if diff := cmp.Diff(tc.hops, hops); diff != "" {
				t.Errorf("hops (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadRib_EmptyAggregatedSegmentDropsEntry(t *testing.T) {
	dir := testDir(t)
	db, err := datastore.Open(filepath.Join(dir, "topology.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	entry := mrt.NewRibEntry(0, 1, 0, []bgp.PathAttributeInterface{
		bgp.NewPathAttributeAsPath([]bgp.AsPathParamInterface{
			bgp.NewAs4PathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{65001}),
			bgp.NewAs4PathParam(bgp.BGP_ASPATH_ATTR_TYPE_SET, nil),
			bgp.NewAs4PathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{64999}),
		}),
	}, false)
	rib := mrt.NewRib(1, bgp.NewIPAddrPrefix(24, "10.0.0.0"), []*mrt.RibEntry{entry})

	ctx := context.Background()
	var stats Stats
	err = db.WithTx(func(tx *datastore.Tx) error {
		return loadRib(ctx, tx, "test", rib, &stats)
	})
	if err != nil {
		t.Fatal(err)
	}

	if stats.Announcements != 0 || stats.Paths != 0 || stats.Skipped != 1 {
		t.Errorf("unexpected stats: %s", &stats)
	}
	neighbours, err := db.AllNeighbours(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbours) != 0 {
		t.Errorf("adjacencies stored for a dropped entry: %v", neighbours)
	}
	if asns := origins(t, db, "10.0.0.0/24"); len(asns) != 0 {
		t.Errorf("origins stored for a dropped entry: %v", asns)
	}
}

func TestIngest_GzipDump(t *testing.T) {
	dir := testDir(t)
	dump := serializeAll(t,
		peerIndexMsg(t, 65001),
		ribMsg(t, 1, "10.0.0.0/24", asPath(65001, 64999)),
	)
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(dump); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	mrtPath := writeDump(t, dir, "dump.mrt.gz", buf.Bytes())

	dbPath := filepath.Join(dir, "topology.db")
	stats, err := New(Config{DatabasePath: dbPath}).Run(context.Background(), []string{mrtPath})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Announcements != 1 {
		t.Errorf("got %d announcements, want 1", stats.Announcements)
	}

	db := openPublished(t, dbPath)
	if diff := cmp.Diff([]uint32{64999}, origins(t, db, "10.0.0.0/24")); diff != "" {
		t.Errorf("origins (-want +got):\n%s", diff)
	}
}

func TestIngest_TruncatedDumpIsFatal(t *testing.T) {
	dir := testDir(t)
	dump := serializeAll(t, ribMsg(t, 1, "10.0.0.0/24", asPath(65001, 64999)))
	mrtPath := writeDump(t, dir, "dump.mrt", dump[:len(dump)-4])

	dbPath := filepath.Join(dir, "topology.db")
	_, err := New(Config{DatabasePath: dbPath}).Run(context.Background(), []string{mrtPath})
	if err == nil {
		t.Fatal("expected error for truncated dump")
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Errorf("database published despite failed run")
	}
}

func TestIngest_FailedRunKeepsPublished(t *testing.T) {
	dir := testDir(t)
	dump := serializeAll(t,
		peerIndexMsg(t, 65001),
		ribMsg(t, 1, "10.0.0.0/24", asPath(65001, 64999)),
	)
	mrtPath := writeDump(t, dir, "dump.mrt", dump)
	dbPath := filepath.Join(dir, "topology.db")

	ing := New(Config{DatabasePath: dbPath})
	if _, err := ing.Run(context.Background(), []string{mrtPath}); err != nil {
		t.Fatal(err)
	}

	if _, err := ing.Run(context.Background(), []string{filepath.Join(dir, "missing.mrt")}); err == nil {
		t.Fatal("expected error for missing dump")
	}
	if _, err := os.Stat(dbPath + ".new"); !os.IsNotExist(err) {
		t.Errorf("temporary database left behind after failed run")
	}

	db := openPublished(t, dbPath)
	if diff := cmp.Diff([]uint32{64999}, origins(t, db, "10.0.0.0/24")); diff != "" {
		t.Errorf("published database damaged by failed run (-want +got):\n%s", diff)
	}
}

func TestIngest_MissingGeoIPIsNotFatal(t *testing.T) {
	dir := testDir(t)
	dump := serializeAll(t, ribMsg(t, 1, "10.0.0.0/24", asPath(65001, 64999)))
	mrtPath := writeDump(t, dir, "dump.mrt", dump)

	cfg := Config{
		DatabasePath: filepath.Join(dir, "topology.db"),
		GeoIPPath:    filepath.Join(dir, "missing.mmdb"),
	}
	if _, err := New(cfg).Run(context.Background(), []string{mrtPath}); err != nil {
		t.Fatal(err)
	}
}
