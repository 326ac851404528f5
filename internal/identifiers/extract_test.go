package identifiers

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFixtureCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spend.csv")
	contents := "BILLING_PROVIDER_NPI_NUM,SERVICING_PROVIDER_NPI_NUM,HCPCS_CODE\n" +
		"1234567893,1234567893,A0425\n" +
		"1234567893,9999999999,A0425\n" +
		"1234567893,,J1234\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestExtractUniqueNPIs(t *testing.T) {
	path := writeFixtureCSV(t)
	npis, err := ExtractUniqueNPIs(path)
	if err != nil {
		t.Fatalf("ExtractUniqueNPIs: %v", err)
	}
	sort.Strings(npis)
	want := []string{"1234567893", "9999999999"}
	if len(npis) != len(want) {
		t.Fatalf("got %v, want %v", npis, want)
	}
	for i := range want {
		if npis[i] != want[i] {
			t.Errorf("npis[%d] = %s, want %s", i, npis[i], want[i])
		}
	}
}

func TestExtractUniqueHCPCSCodes(t *testing.T) {
	path := writeFixtureCSV(t)
	codes, err := ExtractUniqueHCPCSCodes(path)
	if err != nil {
		t.Fatalf("ExtractUniqueHCPCSCodes: %v", err)
	}
	sort.Strings(codes)
	want := []string{"A0425", "J1234"}
	if len(codes) != len(want) {
		t.Fatalf("got %v, want %v", codes, want)
	}
}

func TestFormatCount(t *testing.T) {
	cases := map[int]string{
		0:       "0",
		7:       "7",
		999:     "999",
		1000:    "1,000",
		1234567: "1,234,567",
		-42000:  "-42,000",
	}
	for in, want := range cases {
		if got := FormatCount(in); got != want {
			t.Errorf("FormatCount(%d) = %q, want %q", in, got, want)
		}
	}
}
