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

type asnCommand struct {
	dburi string
}

func (c *asnCommand) Name() string     { return "asn" }
func (c *asnCommand) Synopsis() string { return "show what is known about one AS" }
func (c *asnCommand) Usage() string {
	return `asn [flags] <asn>
        Show the name, originated prefixes and observed peerings of
        an AS. Transit in either direction can only be ruled out when
        the respective side feeds the collector directly; otherwise it
        is reported as unknown ("?").

`
}

func (c *asnCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dburi, "db", util.FlagDefault("db", ""), "`path` to the database file")
}

func (c *asnCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if c.dburi == "" {
		return syntaxErr("must specify a database path")
	}
	if f.NArg() != 1 {
		return syntaxErr("usage: asn <asn>")
	}

	return fatalErr(c.run(ctx, f.Arg(0)))
}

// transitVerdict turns an observed transit flag into yes/no/unknown:
// absence of evidence is only evidence of absence when the routes of
// the AS in question are fully visible, which needs a direct feed.
func transitVerdict(observed, feed bool) string {
	switch {
	case observed:
		return "yes"
	case feed:
		return "no"
	default:
		return "?"
	}
}

func (c *asnCommand) run(ctx context.Context, asnArg string) error {
	asn, err := parseASNArg(asnArg)
	if err != nil {
		return err
	}

	db, err := datastore.OpenReadOnly(c.dburi)
	if err != nil {
		return err
	}
	defer db.Close()

	info, err := db.ASNInfo(ctx, asn)
	if err != nil {
		return err
	}
	fmt.Printf("AS%d", info.ASN)
	if info.Name != "" {
		fmt.Printf(" (%s)", info.Name)
	}
	if info.DirectFeed {
		fmt.Printf(" [direct feed]")
	}
	fmt.Println()

	prefixes, err := db.PrefixesOriginatedBy(ctx, asn)
	if err != nil {
		return err
	}
	if len(prefixes) > 0 {
		fmt.Println("\nprefixes:")
		for _, p := range prefixes {
			fmt.Printf("  %s\n", p)
		}
	}

	peers, err := db.PeersOf(ctx, asn)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return nil
	}
	fmt.Println("\npeers:")
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "  ASN\tNAME\tRECEIVES TRANSIT\tSENDS TRANSIT")
	for _, p := range peers {
		fmt.Fprintf(w, "  AS%d\t%s\t%s\t%s\n",
			p.ASN, p.Name,
			transitVerdict(p.ReceivesTransit, info.DirectFeed),
			transitVerdict(p.SendsTransit, p.DirectFeed))
	}
	return w.Flush()
}

func init() {
	subcommands.Register(&asnCommand{}, "")
}
