// Command buildstore turns the resolved-identifier Parquet artifacts (and
// the raw spending source) into the queryable DuckDB analytical store and
// the two bleve search indexes the search API serves from.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"providerresolve/internal/analyticstore"
	"providerresolve/internal/searchindex"
)

func main() {
	var (
		inputPath     = flag.String("input", "", "local spending source file (.parquet or .csv)")
		npiParquet    = flag.String("providers-artifact", "data/providers.parquet", "resolved-NPI Parquet dataset")
		hcpcsParquet  = flag.String("codes-artifact", "data/hcpcs_codes.parquet", "resolved-HCPCS Parquet dataset")
		geonamesPath  = flag.String("geonames-file", "data/US.txt", "GeoNames US postal code file")
		dbPath        = flag.String("db", "data/analytic.duckdb", "DuckDB analytical store path")
		metaPath      = flag.String("meta", "data/build.json", "build summary output path")
		providerIndex = flag.String("provider-index", "data/index/providers", "bleve provider index directory")
		hcpcsIndex    = flag.String("hcpcs-index", "data/index/hcpcs", "bleve HCPCS index directory")
		rebuild       = flag.Bool("rebuild", false, "drop and recreate every table/index unconditionally")
		preferNonNOC  = flag.Bool("prefer-non-noc-on-rebuild", false, "when building hcpcs_info, prefer a non-NOC record over NOC when both exist for a code")
	)
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: buildstore -input <spending-file> [flags]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	start := time.Now()
	ctx := context.Background()

	store, err := analyticstore.Open(*dbPath)
	if err != nil {
		log.Fatalf("opening analytical store: %v", err)
	}
	defer store.Close()

	meta, err := store.Build(ctx, analyticstore.BuildOptions{
		SpendingSource:        *inputPath,
		NPIParquet:            *npiParquet,
		HCPCSParquet:          *hcpcsParquet,
		GeonamesTxtPath:       *geonamesPath,
		MetaPath:              *metaPath,
		Rebuild:               *rebuild,
		PreferNonNOCOnRebuild: *preferNonNOC,
	})
	if err != nil {
		log.Fatalf("building analytical store: %v", err)
	}

	fmt.Printf("providers: %d, hcpcs codes: %d\n", meta.ProviderCount, meta.HCPCSCount)

	if err := searchindex.BuildProviderIndex(ctx, store, *providerIndex, *rebuild); err != nil {
		log.Fatalf("building provider search index: %v", err)
	}
	if err := searchindex.BuildHCPCSIndex(ctx, store, *hcpcsIndex, *rebuild); err != nil {
		log.Fatalf("building HCPCS search index: %v", err)
	}

	fmt.Printf("Done in %s\n", time.Since(start).Round(time.Second))
}
