package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"git.autistici.org/ai3/tools/routegraphs/datastore"
	"git.autistici.org/ai3/tools/routegraphs/ingest"
	"git.autistici.org/ai3/tools/routegraphs/util"
)

type ingestCommand struct {
	util.ClientTLSFlags
	util.ServerTLSFlags

	dburi        string
	registryPath string
	geoipPath    string
	refresh      time.Duration
	metricsAddr  string
	fetchTimeout time.Duration
	roaMaxLen4   int
	roaMaxLen6   int
}

func (c *ingestCommand) Name() string     { return "ingest" }
func (c *ingestCommand) Synopsis() string { return "build the topology database from MRT dumps" }
func (c *ingestCommand) Usage() string {
	return `ingest [flags] <dump>...
        Build the topology database from one or more MRT table dumps,
        given as local files or HTTP URLs, optionally gzip-compressed.
        A registry checkout adds ROA entries and AS names, a
        GeoLite2-ASN database fills in names for the rest.

        The database is written aside and atomically swapped in, so
        readers always see a complete snapshot. With --refresh the
        command keeps re-ingesting at the given interval and exports
        Prometheus metrics.

`
}

func (c *ingestCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dburi, "db", util.FlagDefault("db", ""), "`path` to the database file")
	f.StringVar(&c.registryPath, "registry", util.FlagDefault("registry", ""), "`path` to a registry checkout")
	f.StringVar(&c.geoipPath, "geoip-asn", util.FlagDefault("geoip-asn", "/var/lib/GeoIP/GeoLite2-ASN.mmdb"), "`path` to a GeoLite2-ASN database")
	f.DurationVar(&c.refresh, "refresh", util.FlagDefaultDuration("refresh", 0), "re-ingest at this `interval` (0 runs once and exits)")
	f.StringVar(&c.metricsAddr, "metrics-addr", util.FlagDefault("metrics-addr", ":5001"), "`address` for the metrics HTTP server in refresh mode")
	f.DurationVar(&c.fetchTimeout, "fetch-timeout", util.FlagDefaultDuration("fetch-timeout", 1*time.Hour), "`timeout` for downloading a single dump")
	f.IntVar(&c.roaMaxLen4, "roa-max-length4", util.FlagDefaultInt("roa-max-length4", ingest.DefaultROAMaxLength4), "default max-length for IPv4 ROA entries")
	f.IntVar(&c.roaMaxLen6, "roa-max-length6", util.FlagDefaultInt("roa-max-length6", ingest.DefaultROAMaxLength6), "default max-length for IPv6 ROA entries")

	c.ClientTLSFlags.SetFlags(f)
	c.ServerTLSFlags.SetFlags(f)
}

func (c *ingestCommand) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if c.dburi == "" {
		return syntaxErr("must specify a database path")
	}
	if f.NArg() == 0 {
		return syntaxErr("must specify at least one MRT dump (file or URL)")
	}

	return fatalErr(c.run(ctx, f.Args()))
}

func (c *ingestCommand) run(ctx context.Context, sources []string) error {
	tlsConf, err := c.TLSClientConfig()
	if err != nil {
		return err
	}
	var client *http.Client
	if tlsConf != nil {
		client = &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConf},
		}
	}

	ing := ingest.New(ingest.Config{
		DatabasePath:  c.dburi,
		RegistryPath:  c.registryPath,
		GeoIPPath:     c.geoipPath,
		HTTPClient:    client,
		FetchTimeout:  c.fetchTimeout,
		ROAMaxLength4: c.roaMaxLen4,
		ROAMaxLength6: c.roaMaxLen6,
	})

	if c.refresh == 0 {
		stats, err := ing.Run(ctx, sources)
		if err != nil {
			return err
		}
		log.Printf("ingested %s", stats)
		return nil
	}

	prometheus.MustRegister(datastore.NewCollector(c.dburi))

	serverTLSConf, err := c.TLSServerConfig()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.refreshLoop(ctx, ing, sources)
	})
	g.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{
			Addr:              c.metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       900 * time.Second,
			TLSConfig:         serverTLSConf,
		}
		return runHTTPServerWithContext(ctx, server)
	})
	return g.Wait()
}

// refreshLoop re-ingests forever. A failed run keeps the previously
// published database and is retried at the next tick.
func (c *ingestCommand) refreshLoop(ctx context.Context, ing *ingest.Ingester, sources []string) error {
	for {
		if stats, err := ing.Run(ctx, sources); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("warning: ingestion failed: %v", err)
		} else {
			log.Printf("ingested %s", stats)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.refresh):
		}
	}
}

func init() {
	subcommands.Register(&ingestCommand{}, "")
}

func runHTTPServerWithContext(ctx context.Context, server *http.Server) error {
	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Printf("shutting down HTTP server")
		if err := server.Shutdown(ctx); err != nil {
			server.Close() // nolint: errcheck
		}
	}()

	log.Printf("starting HTTP server on %s", server.Addr)
	if server.TLSConfig != nil {
		return server.ListenAndServeTLS("", "")
	}
	return server.ListenAndServe()
}
