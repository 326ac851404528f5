package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"providerresolve/internal/bulkload"
	"providerresolve/internal/npistore"
)

func writeNPIFixture(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "npidata_pfile_20260101-20260107.csv")
	contents := "NPI,Entity Type Code,Provider Organization Name (Legal Business Name),Provider First Name,Provider Last Name (Legal Name),NPI Deactivation Date\n" +
		"1234567893,1,,Jane,Doe,\n" +
		"9999999999,2,ACME CLINIC,,,\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestNPIExporterWriteFromBulkConsumesRemaining(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeNPIFixture(t, dir)

	exporter, err := NewNPIExporter(filepath.Join(dir, "npi_resolved.parquet"),
		[]string{"1234567893", "9999999999", "0000000000"}, "run-1")
	if err != nil {
		t.Fatalf("NewNPIExporter: %v", err)
	}
	if exporter.Remaining() != 3 {
		t.Fatalf("Remaining() = %d, want 3", exporter.Remaining())
	}

	ctx := context.Background()
	store, err := npistore.Open(filepath.Join(dir, "npi_cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	source := bulkload.PrimaryFile{Label: "weekly", NPIDataCSV: csvPath}
	processed, emitted, err := exporter.WriteFromBulk(ctx, source, store)
	if err != nil {
		t.Fatalf("WriteFromBulk: %v", err)
	}
	if processed != 2 || emitted != 2 {
		t.Fatalf("processed=%d emitted=%d, want 2/2", processed, emitted)
	}
	if exporter.Remaining() != 1 {
		t.Fatalf("Remaining() = %d, want 1 (only the unmatched NPI left)", exporter.Remaining())
	}

	resolved, missing, err := store.Classify(ctx, []string{"1234567893", "9999999999"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if resolved != 2 || len(missing) != 0 {
		t.Fatalf("Classify resolved=%d missing=%v, want both bulk-matched NPIs cached as resolved", resolved, missing)
	}

	resp, found, err := store.ResponseByNPI(ctx, "9999999999")
	if err != nil {
		t.Fatalf("ResponseByNPI: %v", err)
	}
	if !found {
		t.Fatal("ResponseByNPI found = false, want a bulk-derived response row")
	}
	wantSentinel := source.URLSentinel()
	if resp.URL != wantSentinel || resp.APIRunID != wantSentinel {
		t.Fatalf("resp.URL=%q resp.APIRunID=%q, want both = %q", resp.URL, resp.APIRunID, wantSentinel)
	}

	if err := exporter.WriteRemainingFromAPIResponses(ctx, store); err != nil {
		t.Fatalf("WriteRemainingFromAPIResponses: %v", err)
	}
	if exporter.Remaining() != 0 {
		t.Fatalf("Remaining() = %d, want 0 after the missing_cache sentinel fill", exporter.Remaining())
	}

	if err := exporter.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}
