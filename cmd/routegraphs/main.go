// routegraphs builds and queries an AS-level topology database for a
// BGP network, using MRT table dumps and an optional registry
// checkout as sources.
//
// The ingest subcommand builds the database; resolve, graph, roacheck,
// asn and asns query it.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"git.autistici.org/ai3/tools/routegraphs/util"
)

var configFilePath = flag.String("config", "", "config file with flags (default: /etc/routegraphs.conf, ~/.routegraphs.conf if they exist)")

func syntaxErr(msg string) subcommands.ExitStatus {
	log.Printf("invocation error: %s", msg)
	return subcommands.ExitUsageError
}

func fatalErr(err error) subcommands.ExitStatus {
	if err != nil {
		log.Printf("fatal error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func main() {
	log.SetFlags(0)
	flag.Parse()

	if err := util.LoadFlagsFromConfig(*configFilePath); err != nil {
		log.Fatal(err)
	}

	subcommands.ImportantFlag("config")
	subcommands.Register(subcommands.HelpCommand(), "documentation")
	subcommands.Register(subcommands.FlagsCommand(), "documentation")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	status := int(subcommands.Execute(ctx))
	stop()
	os.Exit(status)
}
