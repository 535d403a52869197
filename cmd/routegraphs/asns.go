package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
	"git.autistici.org/ai3/tools/routegraphs/util"
)

type asnsCommand struct {
	dburi string
	limit int
}

func (c *asnsCommand) Name() string     { return "asns" }
func (c *asnsCommand) Synopsis() string { return "list visible networks by peer count" }
func (c *asnsCommand) Usage() string {
	return `asns [flags]
        List every AS visible in the topology, best connected first.

`
}

func (c *asnsCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dburi, "db", util.FlagDefault("db", ""), "`path` to the database file")
	f.IntVar(&c.limit, "limit", 0, "show only the `N` best connected ASes")
}

func (c *asnsCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if c.dburi == "" {
		return syntaxErr("must specify a database path")
	}

	return fatalErr(c.run(ctx))
}

func (c *asnsCommand) run(ctx context.Context) error {
	db, err := datastore.OpenReadOnly(c.dburi)
	if err != nil {
		return err
	}
	defer db.Close()

	var asns []datastore.ASNSummary
	if c.limit > 0 {
		asns, err = db.SuggestedASNs(ctx, c.limit)
	} else {
		asns, err = db.ListASNs(ctx)
	}
	if err != nil {
		return err
	}

	if fi, err := os.Stat(c.dburi); err == nil {
		fmt.Printf("last updated: %s\n", fi.ModTime().UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ASN\tNAME\tPEERS\tFEED")
	for _, a := range asns {
		feed := ""
		if a.DirectFeed {
			feed = "*"
		}
		fmt.Fprintf(w, "AS%d\t%s\t%d\t%s\n", a.ASN, a.Name, a.PeerCount, feed)
	}
	return w.Flush()
}

func init() {
	subcommands.Register(&asnsCommand{}, "")
}
