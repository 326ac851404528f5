package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"

	"providerresolve/internal/config"
	"providerresolve/internal/hcpcsapi"
	"providerresolve/internal/hcpcsstore"
	"providerresolve/internal/npiapi"
)

func TestChunkCodes(t *testing.T) {
	codes := []string{"A", "B", "C", "D", "E"}
	got := chunkCodes(codes, 2)
	want := [][]string{{"A", "B"}, {"C", "D"}, {"E"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunkCodes = %v, want %v", got, want)
	}
}

func TestChunkCodesSizeBelowOneDefaultsToOne(t *testing.T) {
	got := chunkCodes([]string{"A", "B"}, 0)
	want := [][]string{{"A"}, {"B"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunkCodes = %v, want %v", got, want)
	}
}

func TestToStoreRecords(t *testing.T) {
	recs := []hcpcsapi.Record{
		{HCPCSCode: "99213", ShortDesc: "Office visit", Obsolete: false, IsNOC: true},
	}
	got := toStoreRecords(recs)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Obsolete != "false" || got[0].IsNOC != "true" {
		t.Fatalf("got = %+v", got[0])
	}
}

func TestReferenceToRow(t *testing.T) {
	ref := npiapi.Reference{
		NPI:               "1234567893",
		BasicJSON:         `{"first_name":"Jane"}`,
		RequestURL:        "https://npiregistry.cms.hhs.gov/api/?number=1234567893",
		APIRunID:          "run-1",
		RequestedAtUTC:    "1700000000",
		RequestParamsJSON: `{"number":"1234567893"}`,
	}
	row := referenceToRow(ref)
	if row.NPI != "1234567893" || row.URL != ref.RequestURL {
		t.Fatalf("row = %+v", row)
	}
	if !row.BasicJSON.Valid || row.BasicJSON.String != ref.BasicJSON {
		t.Fatalf("BasicJSON = %+v", row.BasicJSON)
	}
	if row.ErrorMessage.Valid {
		t.Fatalf("ErrorMessage should be NULL for an empty string, got %+v", row.ErrorMessage)
	}
}

func testConfig(t *testing.T, dir string) config.Config {
	t.Helper()
	return config.Config{
		NPIAPIBaseURL:      npiapi.DefaultBaseURL,
		HCPCSAPIBaseURL:    hcpcsapi.DefaultBaseURL,
		HCPCSBatchSize:     500,
		Concurrency:        2,
		MaxRetries:         1,
		FailureRetryRounds: 0,
		SkipAPI:            true,
		SkipNPPESBulk:      true,
		HCPCSFallbackCSV:   filepath.Join(dir, "missing_fallback.csv"),
		NPICacheDB:         filepath.Join(dir, "npi_cache.sqlite"),
		HCPCSCacheDB:       filepath.Join(dir, "hcpcs_cache.sqlite"),
		NPIMappingCSV:      filepath.Join(dir, "npi_mapping.csv"),
		HCPCSMappingCSV:    filepath.Join(dir, "hcpcs_mapping.csv"),
		ProvidersArtifact:  filepath.Join(dir, "providers.parquet"),
		CodesArtifact:      filepath.Join(dir, "hcpcs_codes.parquet"),
		APIRunID:           "test-run",
	}.Normalize()
}

func TestResolveNPIsSkipAPIFillsMissingCacheSentinel(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	var shutdown atomic.Bool

	outcome, err := resolveNPIs(context.Background(), cfg, []string{"1234567893", "9999999999"}, nil, &shutdown)
	if err != nil {
		t.Fatalf("resolveNPIs: %v", err)
	}
	if outcome.interrupted {
		t.Fatal("outcome.interrupted = true, want false")
	}
	if _, err := os.Stat(cfg.ProvidersArtifact); err != nil {
		t.Fatalf("providers artifact missing: %v", err)
	}
	if _, err := os.Stat(cfg.NPIMappingCSV); err != nil {
		t.Fatalf("npi mapping csv missing: %v", err)
	}
}

func TestResolveHCPCSSeedsFromFallbackWithoutAPI(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	fallbackCSV := filepath.Join(dir, "hcpcs_fallback.csv")
	contents := "hcpcs_code,short_desc,long_desc\n99213,Office visit,Office or other outpatient visit\n"
	if err := os.WriteFile(fallbackCSV, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fallback csv: %v", err)
	}
	cfg.HCPCSFallbackCSV = fallbackCSV

	outcome, err := resolveHCPCS(context.Background(), cfg, []string{"99213", "00000"}, nil, nil)
	if err != nil {
		t.Fatalf("resolveHCPCS: %v", err)
	}
	if outcome.interrupted {
		t.Fatal("outcome.interrupted = true, want false")
	}

	store, err := hcpcsstore.Open(cfg.HCPCSCacheDB)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	records, status, _, found, err := store.RowsByCode(context.Background(), "99213")
	if err != nil {
		t.Fatalf("RowsByCode: %v", err)
	}
	if !found || status != hcpcsstore.StatusOK || len(records) != 1 {
		t.Fatalf("records=%+v status=%v found=%v", records, status, found)
	}
}
