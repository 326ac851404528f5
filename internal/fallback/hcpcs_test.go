package fallback

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"providerresolve/internal/hcpcsstore"
)

func writeFallbackCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fallback.csv")
	contents := "cpt_code,short_description,long_description\n" +
		"A0425,Ground mileage,Ground mileage per statute mile\n" +
		"J1234,Drug X,Drug X injection\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestLoadParsesAliasedHeaders(t *testing.T) {
	records, err := Load(writeFallbackCSV(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records["A0425"]) != 1 || records["A0425"][0].ShortDesc != "Ground mileage" {
		t.Errorf("unexpected A0425 records: %+v", records["A0425"])
	}
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	records, err := Load(filepath.Join(t.TempDir(), "missing.csv"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records for a missing file, got %+v", records)
	}
}

func TestSeedCacheSeedsCodesWithoutOKRow(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hcpcs_cache.db")
	store, err := hcpcsstore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.SetNotFound(ctx, "J1234", "no match"); err != nil {
		t.Fatalf("SetNotFound: %v", err)
	}

	records, err := Load(writeFallbackCSV(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	seeded, err := SeedCache(ctx, store, []string{"A0425", "J1234"}, records)
	if err != nil {
		t.Fatalf("SeedCache: %v", err)
	}
	if seeded != 2 {
		t.Errorf("seeded = %d, want 2 (seeding only skips codes that already have an ok row)", seeded)
	}
}

func TestRecheckNotFoundRecoversMatchingCodes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hcpcs_cache.db")
	store, err := hcpcsstore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.SetNotFound(ctx, "A0425", "no match"); err != nil {
		t.Fatalf("SetNotFound: %v", err)
	}
	if err := store.SetNotFound(ctx, "Z9999", "no match"); err != nil {
		t.Fatalf("SetNotFound: %v", err)
	}

	records, err := Load(writeFallbackCSV(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	checked, recovered, err := RecheckNotFound(ctx, store, []string{"A0425", "Z9999"}, records)
	if err != nil {
		t.Fatalf("RecheckNotFound: %v", err)
	}
	if checked != 2 || recovered != 1 {
		t.Errorf("checked=%d recovered=%d, want 2/1", checked, recovered)
	}
}
