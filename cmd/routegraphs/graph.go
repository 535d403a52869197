package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
	"git.autistici.org/ai3/tools/routegraphs/graph"
	"git.autistici.org/ai3/tools/routegraphs/resolver"
	"git.autistici.org/ai3/tools/routegraphs/roa"
	"git.autistici.org/ai3/tools/routegraphs/util"
)

type graphCommand struct {
	dburi       string
	algo        string
	maxExplored int
	output      string
	linkBase    urlFlag
	withROA     bool
}

func (c *graphCommand) Name() string     { return "graph" }
func (c *graphCommand) Synopsis() string { return "render reachability of a prefix as a DOT graph" }
func (c *graphCommand) Usage() string {
	return `graph [flags] <prefix|address> <source-asn>...
        Resolve reachability like the resolve command does, and write
        the result as a Graphviz document. Guessed paths are dashed,
        origin edges are colored by ROA validity.

`
}

func (c *graphCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dburi, "db", util.FlagDefault("db", ""), "`path` to the database file")
	f.StringVar(&c.algo, "algo", "dn42", "path guessing `algorithm` (dn42 or clearnet)")
	f.IntVar(&c.maxExplored, "max-explored", util.FlagDefaultInt("max-explored", resolver.DefaultMaxExploredASNs), "AS exploration `limit` for guessed paths")
	f.StringVar(&c.output, "o", "", "output `file` (default stdout)")
	f.Var(&c.linkBase, "link-base", "base `URL` for node hyperlinks")
	f.BoolVar(&c.withROA, "roa", true, "color origin edges by ROA validity")
}

func (c *graphCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if c.dburi == "" {
		return syntaxErr("must specify a database path")
	}
	if f.NArg() < 2 {
		return syntaxErr("usage: graph <prefix|address> <source-asn>...")
	}

	return fatalErr(c.run(ctx, f.Arg(0), f.Args()[1:]))
}

func (c *graphCommand) run(ctx context.Context, target string, asnArgs []string) error {
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

	opts := graph.Options{LinkBase: string(c.linkBase)}
	if c.withROA {
		checker, err := roa.NewChecker(ctx, db)
		if err != nil {
			return err
		}
		valid, err := checker.ValidOrigins(result.Prefix)
		if err != nil {
			return err
		}
		opts.ValidOrigins = valid
	}

	out := io.Writer(os.Stdout)
	if c.output != "" && c.output != "-" {
		f, err := os.Create(c.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	_, err = io.WriteString(out, graph.Build(sources, result, opts).String())
	return err
}

func init() {
	subcommands.Register(&graphCommand{}, "")
}
