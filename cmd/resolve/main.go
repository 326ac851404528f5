// Command resolve runs one identifier-resolution build: it turns the NPIs
// and HCPCS/CPT codes referenced by a local spending file into the two
// resolved-identifier Parquet artifacts internal/analyticstore expects,
// pulling from NPPES bulk files and a local HCPCS fallback CSV first and
// falling back to the NPI registry and Clinical Tables APIs for whatever
// is left.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"providerresolve/internal/config"
	"providerresolve/internal/pipeline"
)

func main() {
	var cfg config.Config

	flag.StringVar(&cfg.InputPath, "input", "", "local spending source file (.parquet or .csv)")
	flag.StringVar(&cfg.NPIAPIBaseURL, "npi-api-base-url", "", "override the NPI registry API base URL")
	flag.StringVar(&cfg.HCPCSAPIBaseURL, "hcpcs-api-base-url", "", "override the Clinical Tables API base URL")
	flag.IntVar(&cfg.HCPCSBatchSize, "hcpcs-batch-size", 500, "codes per Boolean-OR HCPCS lookup (1-500)")
	flag.IntVar(&cfg.Concurrency, "concurrency", 8, "concurrent in-flight API lookups")
	flag.Float64Var(&cfg.RequestsPerSecond, "requests-per-second", 5, "shared upstream rate-gate ceiling (0 disables)")
	flag.IntVar(&cfg.MaxRetries, "max-retries", 5, "per-request retry attempts before a round-level failure")
	flag.IntVar(&cfg.FailureRetryRounds, "failure-retry-rounds", 3, "work pool replay rounds for failed keys")
	flag.DurationVar(&cfg.FailureRetryDelay, "failure-retry-delay", 2*time.Second, "base cool-down between replay rounds")
	flag.IntVar(&cfg.MaxNewLookups, "max-new-lookups", 0, "cap on new API lookups this run (0 = unlimited)")
	flag.BoolVar(&cfg.SkipAPI, "skip-api", false, "settle only from bulk/fallback/cache, never call an upstream API")
	flag.BoolVar(&cfg.SkipNPPESBulk, "skip-nppes-bulk", false, "skip NPPES bulk file loading, go straight to cache/API")
	flag.BoolVar(&cfg.ResetMap, "reset-map", false, "delete existing mapping CSVs and caches before starting")
	flag.BoolVar(&cfg.RebuildMap, "rebuild-map", false, "rebuild mapping CSVs even if they already exist")
	flag.StringVar(&cfg.HCPCSFallbackCSV, "hcpcs-fallback-csv", "data/hcpcs_fallback.csv", "local HCPCS/CPT description CSV")
	flag.StringVar(&cfg.NPPESMonthlyDir, "nppes-monthly-dir", "data/nppes/monthly", "directory holding the monthly NPPES bulk file")
	flag.StringVar(&cfg.NPPESWeeklyDir, "nppes-weekly-dir", "data/nppes/weekly", "directory holding the weekly NPPES bulk file")
	flag.StringVar(&cfg.NPICacheDB, "npi-cache-db", "data/cache/npi_cache.sqlite", "NPI resolution cache")
	flag.StringVar(&cfg.HCPCSCacheDB, "hcpcs-cache-db", "data/cache/hcpcs_cache.sqlite", "HCPCS resolution cache")
	flag.StringVar(&cfg.NPIMappingCSV, "npi-mapping-csv", "data/npi_mapping.csv", "resolved NPI -> provider name CSV")
	flag.StringVar(&cfg.HCPCSMappingCSV, "hcpcs-mapping-csv", "data/hcpcs_mapping.csv", "resolved HCPCS -> description CSV")
	flag.StringVar(&cfg.ProvidersArtifact, "providers-artifact", "data/providers.parquet", "resolved-NPI Parquet output")
	flag.StringVar(&cfg.CodesArtifact, "codes-artifact", "data/hcpcs_codes.parquet", "resolved-HCPCS Parquet output")
	flag.StringVar(&cfg.UnresolvedCSV, "unresolved-csv", "data/unresolved_identifiers.csv", "combined unresolved-identifiers CSV")
	flag.StringVar(&cfg.TriageDir, "triage-dir", "data/triage", "directory for the triage/review CSVs")
	flag.StringVar(&cfg.APIRunID, "api-run-id", "", "tag written with every API-derived row (default: generated)")
	flag.Parse()

	if cfg.InputPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: resolve -input <spending-file> [flags]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if cfg.ResetMap {
		resetMappingState(cfg)
	}

	if err := os.MkdirAll(cfg.TriageDir, 0o755); err != nil {
		log.Fatalf("creating triage directory: %v", err)
	}

	var shutdown atomic.Bool
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown.Store(true)
	}()

	start := time.Now()
	result, err := pipeline.Run(ctx, cfg, &shutdown)
	if err != nil {
		log.Fatalf("resolve failed: %v", err)
	}

	fmt.Printf("\nDone in %s\n", time.Since(start).Round(time.Second))
	fmt.Printf("  unique NPIs:         %d\n", result.UniqueNPIs)
	fmt.Printf("  unique HCPCS codes:  %d\n", result.UniqueHCPCSCodes)
	fmt.Printf("  HCPCS needs review:  %d\n", result.UnresolvedSummary.HCPCSNeedsReviewRows)
	fmt.Printf("  NPI needs review:    %d\n", result.UnresolvedSummary.NPINeedsReviewRows)
	if result.NPIInterrupted || result.HCPCSInterrupted {
		fmt.Println("  interrupted: partial results written, rerun to finish resolving")
	}
}

func resetMappingState(cfg config.Config) {
	for _, path := range []string{cfg.NPIMappingCSV, cfg.HCPCSMappingCSV, cfg.NPICacheDB, cfg.HCPCSCacheDB} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Fatalf("resetting %s: %v", path, err)
		}
	}
}
