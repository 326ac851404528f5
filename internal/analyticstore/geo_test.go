package analyticstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeZip5(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"02139", "02139", true},
		{"02139-1234", "02139", true},
		{"2139", "", false},
		{"", "", false},
		{"MA02139", "02139", true},
	}
	for _, c := range cases {
		got, ok := NormalizeZip5(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("NormalizeZip5(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestParseGeonamesUSTxt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "US.txt")
	// Columns: country, postal code, place name, admin1 name, admin1 code,
	// admin2 name, admin2 code, admin3 name, admin3 code, lat, lon, accuracy.
	contents := "US\t02139\tCambridge\tMassachusetts\tMA\t\t\t\t\t42.3626\t-71.1037\t4\n" +
		"\n" +
		"US\tbad\tNowhere\tMA\tMA\t\t\t\t\t0.0\t0.0\t4\n" +
		"US\t94103\tSan Francisco\tCalifornia\tCA\t\t\t\t\t37.7726\t-122.4144\t4\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	centroids, err := ParseGeonamesUSTxt(path)
	if err != nil {
		t.Fatalf("ParseGeonamesUSTxt: %v", err)
	}
	if len(centroids) != 2 {
		t.Fatalf("got %d centroids, want 2: %+v", len(centroids), centroids)
	}
	if centroids[0].Zip5 != "02139" || centroids[0].Lat != 42.3626 || centroids[0].Lon != -71.1037 {
		t.Errorf("centroids[0] = %+v", centroids[0])
	}
	if centroids[1].Zip5 != "94103" {
		t.Errorf("centroids[1] = %+v", centroids[1])
	}
}

func TestParseGeonamesUSTxtRejectsShortLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "US.txt")
	if err := os.WriteFile(path, []byte("US\t02139\tonly three cols\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := ParseGeonamesUSTxt(path); err == nil {
		t.Fatalf("expected an error for a too-short line")
	}
}
