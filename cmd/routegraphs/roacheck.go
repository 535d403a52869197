package main

import (
	"context"
	"flag"
	"fmt"
	"sort"

	"github.com/google/subcommands"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
	"git.autistici.org/ai3/tools/routegraphs/roa"
	"git.autistici.org/ai3/tools/routegraphs/util"
)

type roaCheckCommand struct {
	dburi string
}

func (c *roaCheckCommand) Name() string     { return "roacheck" }
func (c *roaCheckCommand) Synopsis() string { return "check origin authorization for a prefix" }
func (c *roaCheckCommand) Usage() string {
	return `roacheck [flags] <prefix> [<asn>]
        With an ASN, report whether that AS is authorized to originate
        the prefix (exit status reflects the verdict). Without one,
        list every AS some ROA entry would authorize.

`
}

func (c *roaCheckCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dburi, "db", util.FlagDefault("db", ""), "`path` to the database file")
}

func (c *roaCheckCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if c.dburi == "" {
		return syntaxErr("must specify a database path")
	}
	if f.NArg() < 1 || f.NArg() > 2 {
		return syntaxErr("usage: roacheck <prefix> [<asn>]")
	}

	authorized, err := c.run(ctx, f.Arg(0), f.Arg(1))
	if err != nil {
		return fatalErr(err)
	}
	if !authorized {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *roaCheckCommand) run(ctx context.Context, prefixArg, asnArg string) (bool, error) {
	prefix, err := datastore.ParsePrefix(prefixArg)
	if err != nil {
		return false, err
	}

	db, err := datastore.OpenReadOnly(c.dburi)
	if err != nil {
		return false, err
	}
	defer db.Close()

	checker, err := roa.NewChecker(ctx, db)
	if err != nil {
		return false, err
	}

	if asnArg == "" {
		valid, err := checker.ValidOrigins(prefix)
		if err != nil {
			return false, err
		}
		asns := make([]uint32, 0, len(valid))
		for asn := range valid {
			asns = append(asns, asn)
		}
		sort.Slice(asns, func(i, j int) bool { return asns[i] < asns[j] })
		for _, asn := range asns {
			for _, e := range valid[asn] {
				fmt.Printf("AS%d\tauthorized by %s max-length %d\n", asn, e.Prefix(), e.MaxLength)
			}
		}
		return true, nil
	}

	asn, err := parseASNArg(asnArg)
	if err != nil {
		return false, err
	}
	entries, err := checker.Authorizing(prefix, asn)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		fmt.Printf("%s AS%d: NOT AUTHORIZED\n", prefix, asn)
		return false, nil
	}
	for _, e := range entries {
		fmt.Printf("%s AS%d: authorized by %s max-length %d\n", prefix, asn, e.Prefix(), e.MaxLength)
	}
	return true, nil
}

func init() {
	subcommands.Register(&roaCheckCommand{}, "")
}
