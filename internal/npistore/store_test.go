package npistore

import (
	"context"
	"path/filepath"
	"testing"
)

// openTestStore opens a fresh cache database under a per-test temp
// directory, replacing the teacher's embedded-postgres harness with
// modernc.org/sqlite's pure-Go file backend.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "npi_cache.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestClassifySeparatesResolvedFromMissing(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.UpsertOK(ctx, "1234567893", "ACME CLINIC"); err != nil {
		t.Fatalf("UpsertOK: %v", err)
	}
	if err := store.UpsertNotFound(ctx, "1111111111"); err != nil {
		t.Fatalf("UpsertNotFound: %v", err)
	}

	resolved, missing, err := store.Classify(ctx, []string{"1234567893", "1111111111", "2222222222"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if resolved != 2 {
		t.Errorf("resolved = %d, want 2", resolved)
	}
	if len(missing) != 1 || missing[0] != "2222222222" {
		t.Errorf("missing = %v, want [2222222222]", missing)
	}
}

func TestUpsertOKIsIdempotentOnConflict(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.UpsertError(ctx, "1234567893", "timeout"); err != nil {
		t.Fatalf("UpsertError: %v", err)
	}
	if err := store.UpsertOK(ctx, "1234567893", "ACME CLINIC"); err != nil {
		t.Fatalf("UpsertOK: %v", err)
	}

	unresolved, err := store.IterateUnresolved(ctx, []string{"1234567893"})
	if err != nil {
		t.Fatalf("IterateUnresolved: %v", err)
	}
	if len(unresolved) != 0 {
		t.Errorf("expected the ok upsert to clear the prior error status, got %+v", unresolved)
	}
}

func TestIterateUnresolvedReportsMissingCache(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.UpsertError(ctx, "1234567893", "boom"); err != nil {
		t.Fatalf("UpsertError: %v", err)
	}

	unresolved, err := store.IterateUnresolved(ctx, []string{"1234567893", "9999999999"})
	if err != nil {
		t.Fatalf("IterateUnresolved: %v", err)
	}
	if len(unresolved) != 2 {
		t.Fatalf("expected 2 unresolved entries, got %d", len(unresolved))
	}
	byNPI := make(map[string]UnresolvedEntry, len(unresolved))
	for _, e := range unresolved {
		byNPI[e.NPI] = e
	}
	if byNPI["1234567893"].Status != StatusError || byNPI["1234567893"].ErrorMessage != "boom" {
		t.Errorf("unexpected entry for errored npi: %+v", byNPI["1234567893"])
	}
	if byNPI["9999999999"].Status != StatusMissing {
		t.Errorf("unexpected entry for uncached npi: %+v", byNPI["9999999999"])
	}
}

func TestExportMappingCSVSkipsErrorRows(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.UpsertOK(ctx, "1234567893", "ACME CLINIC"); err != nil {
		t.Fatalf("UpsertOK: %v", err)
	}
	if err := store.UpsertNotFound(ctx, "1111111111"); err != nil {
		t.Fatalf("UpsertNotFound: %v", err)
	}
	if err := store.UpsertError(ctx, "2222222222", "boom"); err != nil {
		t.Fatalf("UpsertError: %v", err)
	}

	out := filepath.Join(t.TempDir(), "mapping", "npi_mapping.csv")
	if err := store.ExportMappingCSV(ctx, out); err != nil {
		t.Fatalf("ExportMappingCSV: %v", err)
	}
}
