package hcpcsstore

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hcpcs_cache.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReplaceWithOKRecordsKeepsMultipleVariants(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	records := []Record{
		{HCPCSCode: "A0425", ShortDesc: "Ground mileage", LongDesc: "Ground mileage, per statute mile", IsNOC: "N"},
		{HCPCSCode: "A0425", ShortDesc: "Ground mileage (alt)", LongDesc: "Ground mileage, alternate period", IsNOC: "N"},
	}
	if err := store.ReplaceWithOKRecords(ctx, "A0425", records); err != nil {
		t.Fatalf("ReplaceWithOKRecords: %v", err)
	}

	resolved, missing, err := store.Classify(ctx, []string{"A0425"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if resolved != 1 || len(missing) != 0 {
		t.Errorf("resolved=%d missing=%v, want resolved=1 missing=[]", resolved, missing)
	}

	unresolved, err := store.IterateUnresolved(ctx, []string{"A0425"})
	if err != nil {
		t.Fatalf("IterateUnresolved: %v", err)
	}
	if len(unresolved) != 0 {
		t.Errorf("expected A0425 to be fully resolved, got %+v", unresolved)
	}
}

func TestReplaceWithOKRecordsClearsPriorRows(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.SetError(ctx, "J1234", "upstream 500"); err != nil {
		t.Fatalf("SetError: %v", err)
	}
	if err := store.ReplaceWithOKRecords(ctx, "J1234", []Record{{HCPCSCode: "J1234", ShortDesc: "Drug X"}}); err != nil {
		t.Fatalf("ReplaceWithOKRecords: %v", err)
	}

	resolved, _, err := store.Classify(ctx, []string{"J1234"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if resolved != 1 {
		t.Errorf("expected the ok replace to supersede the prior error row, resolved=%d", resolved)
	}
}

func TestIterateUnresolvedReportsMissingAndError(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.SetError(ctx, "J1234", "boom"); err != nil {
		t.Fatalf("SetError: %v", err)
	}

	unresolved, err := store.IterateUnresolved(ctx, []string{"J1234", "Z9999"})
	if err != nil {
		t.Fatalf("IterateUnresolved: %v", err)
	}
	if len(unresolved) != 2 {
		t.Fatalf("expected 2 unresolved entries, got %d: %+v", len(unresolved), unresolved)
	}
	byCode := make(map[string]UnresolvedEntry, len(unresolved))
	for _, e := range unresolved {
		byCode[e.Code] = e
	}
	if byCode["J1234"].Status != StatusError || byCode["J1234"].ErrorMessage != "boom" {
		t.Errorf("unexpected entry for errored code: %+v", byCode["J1234"])
	}
	if byCode["Z9999"].Status != StatusMissing {
		t.Errorf("unexpected entry for uncached code: %+v", byCode["Z9999"])
	}
}

func TestExportMappingCSVWritesOKRows(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.ReplaceWithOKRecords(ctx, "A0425", []Record{{HCPCSCode: "A0425", ShortDesc: "Ground mileage"}}); err != nil {
		t.Fatalf("ReplaceWithOKRecords: %v", err)
	}
	if err := store.SetNotFound(ctx, "Z9999", "no match"); err != nil {
		t.Fatalf("SetNotFound: %v", err)
	}

	out := filepath.Join(t.TempDir(), "mapping", "hcpcs_mapping.csv")
	if err := store.ExportMappingCSV(ctx, out); err != nil {
		t.Fatalf("ExportMappingCSV: %v", err)
	}
}
