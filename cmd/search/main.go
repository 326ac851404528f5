// Command search serves the read-only HTTP search API over an
// already-built analytical store and pair of bleve indexes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"providerresolve/internal/analyticstore"
	"providerresolve/internal/searchapi"
	"providerresolve/internal/searchindex"
)

func main() {
	var (
		dbPath        = flag.String("db", "data/analytic.duckdb", "DuckDB analytical store path")
		metaPath      = flag.String("meta", "data/build.json", "build summary produced by buildstore")
		providerIndex = flag.String("provider-index", "data/index/providers", "bleve provider index directory")
		hcpcsIndex    = flag.String("hcpcs-index", "data/index/hcpcs", "bleve HCPCS index directory")
		host          = flag.String("host", "127.0.0.1", "listen host")
		port          = flag.Int("port", 8080, "listen port")
	)
	flag.Parse()

	store, err := analyticstore.Open(*dbPath)
	if err != nil {
		log.Fatalf("opening analytical store: %v", err)
	}
	defer store.Close()

	providers, err := searchindex.OpenProviderEngine(*providerIndex)
	if err != nil {
		log.Fatalf("opening provider search index: %v", err)
	}
	defer providers.Close()

	hcpcs, err := searchindex.OpenHCPCSEngine(*hcpcsIndex)
	if err != nil {
		log.Fatalf("opening HCPCS search index: %v", err)
	}
	defer hcpcs.Close()

	var meta json.RawMessage
	if raw, err := os.ReadFile(*metaPath); err == nil {
		meta = json.RawMessage(raw)
	} else if !os.IsNotExist(err) {
		log.Fatalf("reading build meta: %v", err)
	}

	srv := searchapi.NewServer(store, providers, hcpcs, meta)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("listening on %s:%d\n", *host, *port)
	if err := srv.ListenAndServe(ctx, *host, *port); err != nil {
		log.Fatalf("search API stopped: %v", err)
	}
}
