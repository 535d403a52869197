package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeRegistryObject(t *testing.T, root, rtype, name, content string) {
	t.Helper()
	dir := filepath.Join(root, "data", rtype)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestIngest_Registry(t *testing.T) {
	dir := testDir(t)
	reg := filepath.Join(dir, "registry")
	writeRegistryObject(t, reg, "route", "172.20.0.0_14",
		"route: 172.20.0.0/14\norigin: AS64999 AS65000\n")
	writeRegistryObject(t, reg, "route", "10.0.0.0_8",
		"route: 10.0.0.0/8\norigin: AS64512\nmax-length: 16\n")
	// max-length below the prefix length is raised to it.
	writeRegistryObject(t, reg, "route", "192.0.2.0_24",
		"route: 192.0.2.0/24\norigin: AS64512\nmax-length: 8\n")
	// No route field: the CIDR comes from the file name.
	writeRegistryObject(t, reg, "route6", "fd00::_8",
		"origin: AS64999\n")
	writeRegistryObject(t, reg, "route", "broken",
		"descr: no origin here\n")
	writeRegistryObject(t, reg, "aut-num", "AS64999",
		"aut-num: AS64999\nas-name: EXAMPLE-AS\n")

	dump := serializeAll(t, ribMsg(t, 1, "172.20.1.0/24", asPath(65001, 64999)))
	mrtPath := writeDump(t, dir, "dump.mrt", dump)

	dbPath := filepath.Join(dir, "topology.db")
	cfg := Config{DatabasePath: dbPath, RegistryPath: reg}
	stats, err := New(cfg).Run(context.Background(), []string{mrtPath})
	if err != nil {
		t.Fatal(err)
	}
	if stats.ROAEntries != 5 {
		t.Errorf("got %d ROA entries, want 5", stats.ROAEntries)
	}
	if stats.NamedASNs != 1 {
		t.Errorf("got %d named ASNs, want 1", stats.NamedASNs)
	}
	if stats.Skipped != 1 {
		t.Errorf("got %d skipped records, want 1", stats.Skipped)
	}

	db := openPublished(t, dbPath)
	ctx := context.Background()

	entries, err := db.AllROAEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]bool)
	for _, e := range entries {
		got[fmt.Sprintf("AS%d %s max %d", e.ASN, e.Prefix(), e.MaxLength)] = true
	}
	want := map[string]bool{
		"AS64999 172.20.0.0/14 max 29": true,
		"AS65000 172.20.0.0/14 max 29": true,
		"AS64512 10.0.0.0/8 max 16":    true,
		"AS64512 192.0.2.0/24 max 24":  true,
		"AS64999 fd00::/8 max 64":      true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ROA entries (-want +got):\n%s", diff)
	}

	info, err := db.ASNInfo(ctx, 64999)
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "EXAMPLE-AS" {
		t.Errorf("AS64999 name = %q, want %q", info.Name, "EXAMPLE-AS")
	}
}
