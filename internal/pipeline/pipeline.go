// Package pipeline orchestrates one full identifier-resolution run:
// extract the unique NPIs and HCPCS codes a spending file references,
// settle as many as possible from local sources (NPPES bulk files, a
// local HCPCS fallback CSV), drain whatever remains through the two
// upstream APIs under a shared rate gate, write the resolved-identifier
// Parquet artifacts, and file away everything still unresolved for
// triage. cmd/resolve is a thin flag-parsing wrapper around Run.
package pipeline

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"providerresolve/internal/artifact"
	"providerresolve/internal/bulkload"
	"providerresolve/internal/config"
	"providerresolve/internal/fallback"
	"providerresolve/internal/hcpcsapi"
	"providerresolve/internal/hcpcsstore"
	"providerresolve/internal/identifiers"
	"providerresolve/internal/npiapi"
	"providerresolve/internal/npistore"
	"providerresolve/internal/rategate"
	"providerresolve/internal/triage"
	"providerresolve/internal/upstream"
	"providerresolve/internal/workpool"
)

// Result summarizes one Run's counts, for cmd/resolve to print or exit on.
type Result struct {
	UniqueNPIs        int
	UniqueHCPCSCodes  int
	NPIInterrupted    bool
	HCPCSInterrupted  bool
	UnresolvedSummary triage.Summary
}

// Run executes one complete build: NPI resolution, HCPCS resolution, and
// the combined unresolved-identifier triage export. shutdown, if non-nil,
// is polled by both work pools so an operator's interrupt stops new
// dispatch, lets lookups already running finish, and writes whatever
// settled so far rather than losing it.
func Run(ctx context.Context, cfg config.Config, shutdown *atomic.Bool) (Result, error) {
	cfg = cfg.Normalize()
	var res Result

	if cfg.APIRunID == "" {
		cfg.APIRunID = upstream.NewAPIRunID()
	}

	fmt.Printf("NPI registry reference:    https://npiregistry.cms.hhs.gov/api-page\n")
	fmt.Printf("HCPCS/CPT lookup reference: https://clinicaltables.nlm.nih.gov/apidoc/hcpcs/v3/doc.html\n")
	fmt.Printf("API run id: %s\n\n", cfg.APIRunID)

	gate := rategate.New(cfg.MinInterval())
	httpClient := upstream.NewClient(gate, cfg.MaxRetries)

	uniqueNPIs, err := identifiers.ExtractUniqueNPIs(cfg.InputPath)
	if err != nil {
		return res, fmt.Errorf("extracting unique NPIs: %w", err)
	}
	res.UniqueNPIs = len(uniqueNPIs)
	fmt.Printf("Unique NPIs in dataset: %s\n", identifiers.FormatCount(len(uniqueNPIs)))

	uniqueCodes, err := identifiers.ExtractUniqueHCPCSCodes(cfg.InputPath)
	if err != nil {
		return res, fmt.Errorf("extracting unique HCPCS codes: %w", err)
	}
	res.UniqueHCPCSCodes = len(uniqueCodes)
	fmt.Printf("Unique HCPCS codes in dataset: %s\n\n", identifiers.FormatCount(len(uniqueCodes)))

	npiOutcome, err := resolveNPIs(ctx, cfg, uniqueNPIs, httpClient, shutdown)
	if err != nil {
		return res, fmt.Errorf("resolving NPIs: %w", err)
	}
	res.NPIInterrupted = npiOutcome.interrupted

	hcpcsOutcome, err := resolveHCPCS(ctx, cfg, uniqueCodes, httpClient, shutdown)
	if err != nil {
		return res, fmt.Errorf("resolving HCPCS codes: %w", err)
	}
	res.HCPCSInterrupted = hcpcsOutcome.interrupted

	summary, err := writeUnresolvedTriage(cfg, uniqueNPIs, uniqueCodes)
	if err != nil {
		return res, fmt.Errorf("writing unresolved triage: %w", err)
	}
	res.UnresolvedSummary = summary

	return res, nil
}

type npiOutcome struct {
	interrupted bool
}

// resolveNPIs settles uniqueNPIs against NPPES bulk files (weekly then
// monthly, whichever is found), then the NPPES registry API for whatever
// is left, and streams the resolved-NPI Parquet artifact throughout —
// mirroring build_npi_mapping's bulk-then-API precedence.
func resolveNPIs(ctx context.Context, cfg config.Config, uniqueNPIs []string, httpClient *upstream.Client, shutdown *atomic.Bool) (npiOutcome, error) {
	store, err := npistore.Open(cfg.NPICacheDB)
	if err != nil {
		return npiOutcome{}, fmt.Errorf("opening NPI cache: %w", err)
	}
	defer store.Close()

	resolvedBeforeBulk, _, err := store.Classify(ctx, uniqueNPIs)
	if err != nil {
		return npiOutcome{}, fmt.Errorf("classifying NPIs before bulk load: %w", err)
	}

	exporter, err := artifact.NewNPIExporter(cfg.ProvidersArtifact, uniqueNPIs, cfg.APIRunID)
	if err != nil {
		return npiOutcome{}, fmt.Errorf("opening NPI artifact writer: %w", err)
	}

	var monthlyLoaded, weeklyLoaded int
	var monthlySource, weeklySource string
	if !cfg.SkipNPPESBulk {
		bundles, err := bulkload.DiscoverBulkFiles(cfg.NPPESWeeklyDir, cfg.NPPESMonthlyDir)
		if err != nil {
			exporter.Abort()
			return npiOutcome{}, fmt.Errorf("discovering NPPES bulk files: %w", err)
		}
		for _, bundle := range bundles {
			_, emitted, err := exporter.WriteFromBulk(ctx, bundle, store)
			if err != nil {
				exporter.Abort()
				return npiOutcome{}, fmt.Errorf("loading %s NPPES bulk file: %w", bundle.Label, err)
			}
			switch bundle.Label {
			case "weekly":
				weeklyLoaded += emitted
				weeklySource = bundle.NPIDataCSV
			case "monthly":
				monthlyLoaded += emitted
				monthlySource = bundle.NPIDataCSV
			}
		}
	}

	missing := exporter.RemainingKeys()
	resolvedAfterBulk, stillMissing, err := store.Classify(ctx, missing)
	_ = resolvedAfterBulk
	if err != nil {
		exporter.Abort()
		return npiOutcome{}, fmt.Errorf("classifying NPIs after bulk load: %w", err)
	}

	plannedLookups := stillMissing
	if cfg.MaxNewLookups > 0 && len(plannedLookups) > cfg.MaxNewLookups {
		plannedLookups = plannedLookups[:cfg.MaxNewLookups]
	}

	printNPIDownloadPlanTable(npiDownloadPlan{
		uniqueCount:        len(uniqueNPIs),
		cachedBeforeBulk:   resolvedBeforeBulk,
		bulkMatched:        len(uniqueNPIs) - len(missing) - resolvedBeforeBulk,
		stillUnresolved:    len(stillMissing),
		plannedLookups:     len(plannedLookups),
		monthlyLoaded:      monthlyLoaded,
		weeklyLoaded:       weeklyLoaded,
		monthlySource:      monthlySource,
		weeklySource:       weeklySource,
	})

	var interrupted bool
	if !cfg.SkipAPI && len(plannedLookups) > 0 {
		npiClient := npiapi.NewClient(httpClient, cfg.NPIAPIBaseURL)

		var results []workpool.Result[string]
		results, interrupted = workpool.Run(ctx, plannedLookups, workpool.Options{
			Concurrency:        cfg.Concurrency,
			FailureRetryRounds: cfg.FailureRetryRounds,
			FailureRetryDelay:  cfg.FailureRetryDelay,
			Shutdown:           shutdown,
		}, func(ctx context.Context, npi string) (workpool.Outcome, error) {
			result := npiClient.Lookup(ctx, npi, cfg.APIRunID)
			if result.Err != nil {
				return workpool.Error, result.Err
			}
			if result.NotFound {
				if err := store.UpsertNotFound(ctx, npi); err != nil {
					return workpool.Error, err
				}
				if err := store.UpsertResponses(ctx, []npistore.ResponseRow{referenceToRow(result.Reference)}); err != nil {
					return workpool.Error, err
				}
				return workpool.NotFound, nil
			}
			if err := store.UpsertOK(ctx, npi, result.ProviderName); err != nil {
				return workpool.Error, err
			}
			if err := store.UpsertResponses(ctx, []npistore.ResponseRow{referenceToRow(result.Reference)}); err != nil {
				return workpool.Error, err
			}
			return workpool.Found, nil
		})
		logWorkpoolFailures("NPI", results)
	}

	if err := exporter.WriteRemainingFromAPIResponses(ctx, store); err != nil {
		exporter.Abort()
		return npiOutcome{}, fmt.Errorf("filling remaining NPIs from cache: %w", err)
	}
	if interrupted {
		if err := exporter.Abort(); err != nil {
			return npiOutcome{interrupted: true}, fmt.Errorf("aborting NPI artifact after shutdown: %w", err)
		}
		return npiOutcome{interrupted: true}, nil
	}
	if err := exporter.Finish(); err != nil {
		return npiOutcome{}, fmt.Errorf("finishing NPI artifact: %w", err)
	}
	if err := store.ExportMappingCSV(ctx, cfg.NPIMappingCSV); err != nil {
		return npiOutcome{}, fmt.Errorf("exporting NPI mapping CSV: %w", err)
	}
	return npiOutcome{}, nil
}

func referenceToRow(ref npiapi.Reference) npistore.ResponseRow {
	wrap := func(s string) sql.NullString {
		return sql.NullString{String: s, Valid: s != ""}
	}
	return npistore.ResponseRow{
		NPI:                   ref.NPI,
		BasicJSON:             wrap(ref.BasicJSON),
		AddressesJSON:         wrap(ref.AddressesJSON),
		PracticeLocationsJSON: wrap(ref.PracticeLocationsJSON),
		TaxonomiesJSON:        wrap(ref.TaxonomiesJSON),
		IdentifiersJSON:       wrap(ref.IdentifiersJSON),
		OtherNamesJSON:        wrap(ref.OtherNamesJSON),
		EndpointsJSON:         wrap(ref.EndpointsJSON),
		URL:                   ref.RequestURL,
		ErrorMessage:          wrap(ref.ErrorMessage),
		APIRunID:              ref.APIRunID,
		RequestedAtUTC:        ref.RequestedAtUTC,
		RequestParamsJSON:     ref.RequestParamsJSON,
		ResultsJSON:           wrap(ref.ResultsJSON),
		ResponseJSONRaw:       wrap(ref.ResponseJSONRaw),
	}
}

type npiDownloadPlan struct {
	uniqueCount      int
	cachedBeforeBulk int
	bulkMatched      int
	stillUnresolved  int
	plannedLookups   int
	monthlyLoaded    int
	weeklyLoaded     int
	monthlySource    string
	weeklySource     string
}

func printNPIDownloadPlanTable(p npiDownloadPlan) {
	resolved := p.cachedBeforeBulk + p.bulkMatched
	pct := 0.0
	if p.uniqueCount > 0 {
		pct = 100 * float64(resolved) / float64(p.uniqueCount)
	}
	fmt.Println("+--------------------------------------------+--------------------------+")
	printPlanRow("Unique NPIs in dataset", identifiers.FormatCount(p.uniqueCount))
	printPlanRow("Already saved in cache", identifiers.FormatCount(p.cachedBeforeBulk))
	printPlanRow("Found via NPPES bulk this run", identifiers.FormatCount(p.bulkMatched))
	printPlanRow("Total resolved before API", fmt.Sprintf("%s (%.2f%%)", identifiers.FormatCount(resolved), pct))
	printPlanRow("Still unresolved", identifiers.FormatCount(p.stillUnresolved))
	printPlanRow("Planned API downloads now", identifiers.FormatCount(p.plannedLookups))
	printPlanRow("Bulk rows matched (monthly+weekly)", identifiers.FormatCount(p.monthlyLoaded+p.weeklyLoaded))
	printPlanRow("Monthly source matched rows", identifiers.FormatCount(p.monthlyLoaded))
	printPlanRow("Weekly source matched rows", identifiers.FormatCount(p.weeklyLoaded))
	fmt.Println("+--------------------------------------------+--------------------------+")
	fmt.Printf("monthly source: %s\n", orNone(p.monthlySource))
	fmt.Printf("weekly source: %s\n\n", orNone(p.weeklySource))
}

func printPlanRow(label, value string) {
	fmt.Printf("| %-44s | %-24s |\n", label, value)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

type hcpcsOutcome struct {
	interrupted bool
}

// resolveHCPCS settles uniqueCodes against the local fallback CSV, then
// the Clinical Tables API in batches of cfg.HCPCSBatchSize, and streams
// the resolved-HCPCS Parquet artifact at the end from whatever the cache
// now holds.
func resolveHCPCS(ctx context.Context, cfg config.Config, uniqueCodes []string, httpClient *upstream.Client, shutdown *atomic.Bool) (hcpcsOutcome, error) {
	store, err := hcpcsstore.Open(cfg.HCPCSCacheDB)
	if err != nil {
		return hcpcsOutcome{}, fmt.Errorf("opening HCPCS cache: %w", err)
	}
	defer store.Close()

	fallbackRecords, err := fallback.Load(cfg.HCPCSFallbackCSV)
	if err != nil {
		return hcpcsOutcome{}, fmt.Errorf("loading HCPCS fallback CSV: %w", err)
	}
	// The recheck runs before seeding: seeding replaces every not_found row
	// the fallback covers, which would leave nothing for the recheck to count.
	rechecked, recovered, err := fallback.RecheckNotFound(ctx, store, uniqueCodes, fallbackRecords)
	if err != nil {
		return hcpcsOutcome{}, fmt.Errorf("rechecking not_found HCPCS codes: %w", err)
	}
	seeded, err := fallback.SeedCache(ctx, store, uniqueCodes, fallbackRecords)
	if err != nil {
		return hcpcsOutcome{}, fmt.Errorf("seeding HCPCS cache from fallback: %w", err)
	}

	resolvedCount, missing, err := store.Classify(ctx, uniqueCodes)
	if err != nil {
		return hcpcsOutcome{}, fmt.Errorf("classifying HCPCS codes: %w", err)
	}

	plannedCodes := missing
	if cfg.MaxNewLookups > 0 && len(plannedCodes) > cfg.MaxNewLookups {
		plannedCodes = plannedCodes[:cfg.MaxNewLookups]
	}

	printHCPCSDownloadPlanTable(hcpcsDownloadPlan{
		uniqueCount:     len(uniqueCodes),
		seededFromLocal: seeded,
		recheckedNotFound: rechecked,
		recoveredNotFound: recovered,
		resolvedCount:   resolvedCount,
		stillUnresolved: len(missing),
		plannedLookups:  len(plannedCodes),
		batchSize:       cfg.HCPCSBatchSize,
	})

	var interrupted bool
	if !cfg.SkipAPI && len(plannedCodes) > 0 {
		hcpcsClient := hcpcsapi.NewClient(httpClient, cfg.HCPCSAPIBaseURL)
		batches := chunkCodes(plannedCodes, cfg.HCPCSBatchSize)

		var results []workpool.Result[[]string]
		results, interrupted = workpool.Run(ctx, batches, workpool.Options{
			Concurrency:        cfg.Concurrency,
			FailureRetryRounds: cfg.FailureRetryRounds,
			FailureRetryDelay:  cfg.FailureRetryDelay,
			Shutdown:           shutdown,
		}, func(ctx context.Context, batch []string) (workpool.Outcome, error) {
			return resolveHCPCSBatch(ctx, store, hcpcsClient, batch, cfg.APIRunID)
		})
		logWorkpoolFailures("HCPCS", results)
	}

	if err := artifact.ExportHCPCSAPIReference(ctx, store, uniqueCodes, cfg.APIRunID, cfg.CodesArtifact); err != nil {
		return hcpcsOutcome{}, fmt.Errorf("exporting HCPCS artifact: %w", err)
	}
	if interrupted {
		return hcpcsOutcome{interrupted: true}, nil
	}
	if err := store.ExportMappingCSV(ctx, cfg.HCPCSMappingCSV); err != nil {
		return hcpcsOutcome{}, fmt.Errorf("exporting HCPCS mapping CSV: %w", err)
	}
	return hcpcsOutcome{}, nil
}

// resolveHCPCSBatch resolves one batch via a single Boolean-OR query (or
// hcpcsapi's own per-code fallback on a batch-level failure), then writes
// every code's outcome to the cache individually. If any code errored, the
// whole batch reports Error, so a later retry round replays the entire
// batch.
func resolveHCPCSBatch(ctx context.Context, store *hcpcsstore.Store, client *hcpcsapi.Client, batch []string, apiRunID string) (workpool.Outcome, error) {
	outcomes := client.LookupBatch(ctx, batch, apiRunID)

	var firstErr error
	anyFound := false
	for _, code := range batch {
		result, ok := outcomes[code]
		if !ok {
			continue
		}
		switch {
		case result.Err != nil:
			if err := store.SetError(ctx, code, result.Err.Error()); err != nil {
				return workpool.Error, err
			}
			if firstErr == nil {
				firstErr = result.Err
			}
		case result.NotFound:
			if err := store.SetNotFound(ctx, code, "not_found"); err != nil {
				return workpool.Error, err
			}
		default:
			if err := store.ReplaceWithOKRecords(ctx, code, toStoreRecords(result.Records)); err != nil {
				return workpool.Error, err
			}
			anyFound = true
		}
	}
	if firstErr != nil {
		return workpool.Error, firstErr
	}
	if anyFound {
		return workpool.Found, nil
	}
	return workpool.NotFound, nil
}

func toStoreRecords(recs []hcpcsapi.Record) []hcpcsstore.Record {
	out := make([]hcpcsstore.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, hcpcsstore.Record{
			HCPCSCode: r.HCPCSCode,
			ShortDesc: r.ShortDesc,
			LongDesc:  r.LongDesc,
			AddDt:     r.AddDt,
			ActEffDt:  r.ActEffDt,
			TermDt:    r.TermDt,
			Obsolete:  strconv.FormatBool(r.Obsolete),
			IsNOC:     strconv.FormatBool(r.IsNOC),
		})
	}
	return out
}

func chunkCodes(codes []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for i := 0; i < len(codes); i += size {
		end := i + size
		if end > len(codes) {
			end = len(codes)
		}
		out = append(out, codes[i:end])
	}
	return out
}

type hcpcsDownloadPlan struct {
	uniqueCount       int
	seededFromLocal   int
	recheckedNotFound int
	recoveredNotFound int
	resolvedCount     int
	stillUnresolved   int
	plannedLookups    int
	batchSize         int
}

func printHCPCSDownloadPlanTable(p hcpcsDownloadPlan) {
	pct := 0.0
	if p.uniqueCount > 0 {
		pct = 100 * float64(p.resolvedCount) / float64(p.uniqueCount)
	}
	fmt.Println("+--------------------------------------------+--------------------------+")
	printPlanRow("Unique HCPCS codes in dataset", identifiers.FormatCount(p.uniqueCount))
	printPlanRow("Seeded from local fallback file", identifiers.FormatCount(p.seededFromLocal))
	printPlanRow("Not-found codes rechecked", identifiers.FormatCount(p.recheckedNotFound))
	printPlanRow("Recovered on recheck", identifiers.FormatCount(p.recoveredNotFound))
	printPlanRow("Total resolved before API", fmt.Sprintf("%s (%.2f%%)", identifiers.FormatCount(p.resolvedCount), pct))
	printPlanRow("Still unresolved", identifiers.FormatCount(p.stillUnresolved))
	printPlanRow("Planned API downloads now", identifiers.FormatCount(p.plannedLookups))
	printPlanRow("Lookup batch size", strconv.Itoa(p.batchSize))
	fmt.Println("+--------------------------------------------+--------------------------+")
	fmt.Println()
}

func logWorkpoolFailures[K any](kind string, results []workpool.Result[K]) {
	failed := 0
	for _, r := range results {
		if r.Outcome == workpool.Error {
			failed++
		}
	}
	if failed > 0 {
		fmt.Printf("%s lookups: %d still failing after all retry rounds\n", kind, failed)
	}
}

// writeUnresolvedTriage assembles the combined unresolved-identifiers CSV
// from both caches and hands it to triage.WriteUnresolvedTriage, which
// fans it out into the full set of triage/review CSVs.
func writeUnresolvedTriage(cfg config.Config, uniqueNPIs, uniqueCodes []string) (triage.Summary, error) {
	npiStore, err := npistore.Open(cfg.NPICacheDB)
	if err != nil {
		return triage.Summary{}, fmt.Errorf("reopening NPI cache for triage: %w", err)
	}
	defer npiStore.Close()
	hcpcsStore, err := hcpcsstore.Open(cfg.HCPCSCacheDB)
	if err != nil {
		return triage.Summary{}, fmt.Errorf("reopening HCPCS cache for triage: %w", err)
	}
	defer hcpcsStore.Close()

	ctx := context.Background()
	npiRows, err := npiStore.IterateUnresolved(ctx, uniqueNPIs)
	if err != nil {
		return triage.Summary{}, fmt.Errorf("listing unresolved NPIs: %w", err)
	}
	hcpcsRows, err := hcpcsStore.IterateUnresolved(ctx, uniqueCodes)
	if err != nil {
		return triage.Summary{}, fmt.Errorf("listing unresolved HCPCS codes: %w", err)
	}

	if dir := filepath.Dir(cfg.UnresolvedCSV); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return triage.Summary{}, fmt.Errorf("creating unresolved CSV dir %s: %w", dir, err)
		}
	}
	f, err := os.Create(cfg.UnresolvedCSV)
	if err != nil {
		return triage.Summary{}, fmt.Errorf("creating combined unresolved CSV: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"identifier_type", "identifier", "status", "error_message", "fetched_at_unix"}); err != nil {
		f.Close()
		return triage.Summary{}, err
	}
	for _, row := range npiRows {
		if err := w.Write(unresolvedCSVRow("npi", row.NPI, string(row.Status), row.ErrorMessage, row.FetchedAtUnix)); err != nil {
			f.Close()
			return triage.Summary{}, err
		}
	}
	for _, row := range hcpcsRows {
		if err := w.Write(unresolvedCSVRow("hcpcs", row.Code, string(row.Status), row.ErrorMessage, row.FetchedAtUnix)); err != nil {
			f.Close()
			return triage.Summary{}, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return triage.Summary{}, err
	}
	if err := f.Close(); err != nil {
		return triage.Summary{}, err
	}

	return triage.WriteUnresolvedTriage(cfg.UnresolvedCSV, cfg.TriageDir)
}

func unresolvedCSVRow(idType, identifier, status, errMsg string, fetchedAtUnix *int64) []string {
	fetched := ""
	if fetchedAtUnix != nil {
		fetched = strconv.FormatInt(*fetchedAtUnix, 10)
	}
	return []string{idType, identifier, status, errMsg, fetched}
}
