package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
	"git.autistici.org/ai3/tools/routegraphs/resolver"
	"git.autistici.org/ai3/tools/routegraphs/util"
)

type resolveCommand struct {
	dburi       string
	algo        string
	maxExplored int
	jsonOut     bool
}

func (c *resolveCommand) Name() string     { return "resolve" }
func (c *resolveCommand) Synopsis() string { return "find AS paths from source ASNs to a prefix" }
func (c *resolveCommand) Usage() string {
	return `resolve [flags] <prefix|address> <source-asn>...
        Find the AS paths connecting each source AS to the network
        holding the given prefix or address. Paths actually observed
        in the collector dumps are reported as such; for sources
        without one, a best-effort guess over the known topology is
        reported instead.

`
}

func (c *resolveCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dburi, "db", util.FlagDefault("db", ""), "`path` to the database file")
	f.StringVar(&c.algo, "algo", "dn42", "path guessing `algorithm` (dn42 or clearnet)")
	f.IntVar(&c.maxExplored, "max-explored", util.FlagDefaultInt("max-explored", resolver.DefaultMaxExploredASNs), "AS exploration `limit` for guessed paths")
	f.BoolVar(&c.jsonOut, "json", false, "JSON output")
}

func (c *resolveCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if c.dburi == "" {
		return syntaxErr("must specify a database path")
	}
	if f.NArg() < 2 {
		return syntaxErr("usage: resolve <prefix|address> <source-asn>...")
	}

	return fatalErr(c.run(ctx, f.Arg(0), f.Args()[1:]))
}

func (c *resolveCommand) run(ctx context.Context, target string, asnArgs []string) error {
	sources, err := parseASNArgs(asnArgs)
	if err != nil {
		return err
	}
	algo, err := resolver.ParseAlgorithm(c.algo)
	if err != nil {
		return err
	}

	db, err := datastore.OpenReadOnly(c.dburi)
	if err != nil {
		return err
	}
	defer db.Close()

	res := resolver.New(db, resolver.Config{
		Algorithm:       algo,
		MaxExploredASNs: c.maxExplored,
	})
	result, err := res.Resolve(ctx, target, sources)
	if err != nil {
		return err
	}

	if c.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("prefix: %s\n", result.Prefix)
	for _, path := range result.Paths {
		fmt.Println(formatPath(path, false))
	}
	for _, path := range result.Guessed {
		fmt.Println(formatPath(path, true))
	}
	return nil
}

func init() {
	subcommands.Register(&resolveCommand{}, "")
}
