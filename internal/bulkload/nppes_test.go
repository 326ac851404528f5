package bulkload

import (
	"os"
	"path/filepath"
	"testing"
)

func writePrimaryFixture(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	contents := "NPI,Entity Type Code,Provider Organization Name (Legal Business Name),Provider First Name,Provider Last Name (Legal Name),NPI Deactivation Date\n" +
		"1234567893,1,,Jane,Doe,\n" +
		"9999999999,2,ACME CLINIC,,,\n" +
		"1111111111,2,OLD CLINIC,,,2020-01-01\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestSelectLatestPrimaryFindsPrimaryFile(t *testing.T) {
	dir := t.TempDir()
	writePrimaryFixture(t, dir, "npidata_pfile_20260101-20260107.csv")
	if err := os.WriteFile(filepath.Join(dir, "npidata_pfile_20260101-20260107_fileheader.csv"), []byte("NPI\n"), 0o644); err != nil {
		t.Fatalf("writing fileheader fixture: %v", err)
	}

	found, err := SelectLatestPrimary(dir)
	if err != nil {
		t.Fatalf("SelectLatestPrimary: %v", err)
	}
	if filepath.Base(found) != "npidata_pfile_20260101-20260107.csv" {
		t.Errorf("found = %q", found)
	}
}

func TestSelectLatestPrimaryEmptyDirReturnsEmpty(t *testing.T) {
	found, err := SelectLatestPrimary(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("SelectLatestPrimary: %v", err)
	}
	if found != "" {
		t.Errorf("expected empty result for a missing directory, got %q", found)
	}
}

func TestStreamPrimaryDerivesNamesAndEnumerationType(t *testing.T) {
	dir := t.TempDir()
	path := writePrimaryFixture(t, dir, "npidata_pfile_20260101-20260107.csv")

	var rows []ProviderRow
	processed, emitted, err := StreamPrimary(path, nil, func(r ProviderRow) error {
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamPrimary: %v", err)
	}
	if processed != 3 || emitted != 3 {
		t.Fatalf("processed=%d emitted=%d, want 3/3", processed, emitted)
	}

	byNPI := make(map[string]ProviderRow, len(rows))
	for _, r := range rows {
		byNPI[r.NPI] = r
	}
	if byNPI["1234567893"].ProviderName != "Jane Doe" || byNPI["1234567893"].EnumerationType != "NPI-1" {
		t.Errorf("unexpected individual row: %+v", byNPI["1234567893"])
	}
	if byNPI["9999999999"].ProviderName != "ACME CLINIC" || byNPI["9999999999"].EnumerationType != "NPI-2" {
		t.Errorf("unexpected org row: %+v", byNPI["9999999999"])
	}
	if !byNPI["1111111111"].Deactivated {
		t.Errorf("expected the deactivation-date row to be flagged Deactivated")
	}
}

func TestStreamPrimaryFiltersByWantSet(t *testing.T) {
	dir := t.TempDir()
	path := writePrimaryFixture(t, dir, "npidata_pfile_20260101-20260107.csv")

	var rows []ProviderRow
	_, emitted, err := StreamPrimary(path, map[string]bool{"9999999999": true}, func(r ProviderRow) error {
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamPrimary: %v", err)
	}
	if emitted != 1 || rows[0].NPI != "9999999999" {
		t.Fatalf("expected only the wanted NPI to be emitted, got %+v", rows)
	}
}
