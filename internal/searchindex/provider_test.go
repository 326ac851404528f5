package searchindex

import (
	"context"
	"path/filepath"
	"testing"

	"providerresolve/internal/analyticstore"
)

func newFixtureProviderStore(t *testing.T) *analyticstore.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := analyticstore.Open(filepath.Join(dir, "analytic.duckdb"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	ddl := `
		CREATE TABLE provider_search (
			npi VARCHAR, display_name VARCHAR, enumeration_type VARCHAR,
			primary_taxonomy_code VARCHAR, primary_taxonomy_desc VARCHAR,
			state VARCHAR, city VARCHAR, zip5 VARCHAR,
			paid_billing DOUBLE, claims_billing BIGINT, bene_billing BIGINT,
			paid_servicing DOUBLE, claims_servicing BIGINT, bene_servicing BIGINT,
			paid_total DOUBLE, claims_total BIGINT, bene_total BIGINT,
			lat DOUBLE, lon DOUBLE
		);
		INSERT INTO provider_search VALUES
			('1234567893', 'Jane Doe', 'NPI-1', '207Q00000X', 'Family Medicine',
			 'MA', 'Cambridge', '02139', 500.0, 10, 8, 0.0, 0, 0, 500.0, 10, 8, 42.36, -71.10),
			('1234567894', 'Acme Clinic', 'NPI-2', '261QM0850X', 'Clinic/Center',
			 'CA', 'Fresno', '93701', 9000.0, 200, 150, 0.0, 0, 0, 9000.0, 200, 150, 36.73, -119.78);
	`
	if _, err := store.DB().ExecContext(ctx, ddl); err != nil {
		t.Fatalf("seeding provider_search fixture: %v", err)
	}
	return store
}

func TestBuildAndSearchProviderIndex(t *testing.T) {
	store := newFixtureProviderStore(t)
	indexDir := filepath.Join(t.TempDir(), "providers")

	ctx := context.Background()
	if err := BuildProviderIndex(ctx, store, indexDir, false); err != nil {
		t.Fatalf("BuildProviderIndex: %v", err)
	}

	engine, err := OpenProviderEngine(indexDir)
	if err != nil {
		t.Fatalf("OpenProviderEngine: %v", err)
	}
	defer engine.Close()

	t.Run("npi shortcut", func(t *testing.T) {
		resp, err := engine.Search(ProviderQuery{Q: "1234567893", PageSize: 10})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if resp.TotalHits != 1 || len(resp.Hits) != 1 || resp.Hits[0].NPI != "1234567893" {
			t.Fatalf("Search(npi) = %+v", resp)
		}
	})

	t.Run("state facet filter", func(t *testing.T) {
		resp, err := engine.Search(ProviderQuery{States: []string{"CA"}, PageSize: 10})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if resp.TotalHits != 1 || resp.Hits[0].NPI != "1234567894" {
			t.Fatalf("Search(state=CA) = %+v", resp)
		}
	})

	t.Run("paid range filter", func(t *testing.T) {
		min := 1000.0
		resp, err := engine.Search(ProviderQuery{PaidMin: &min, PageSize: 10})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if resp.TotalHits != 1 || resp.Hits[0].NPI != "1234567894" {
			t.Fatalf("Search(paid_min=1000) = %+v", resp)
		}
	})

	t.Run("sort paid desc", func(t *testing.T) {
		resp, err := engine.Search(ProviderQuery{Sort: ProviderPaidDesc, PageSize: 10})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(resp.Hits) != 2 || resp.Hits[0].NPI != "1234567894" {
			t.Fatalf("Search(sort=paid_desc) = %+v", resp)
		}
	})

	t.Run("rebuild skips when _SUCCESS present", func(t *testing.T) {
		if err := BuildProviderIndex(ctx, store, indexDir, false); err != nil {
			t.Fatalf("second BuildProviderIndex: %v", err)
		}
	})
}

func TestLooksLikeNPI(t *testing.T) {
	cases := map[string]bool{
		"1234567893": true,
		"123456789":  false,
		"12345678930": false,
		"abcdefghij": false,
		" 1234567893 ": true,
	}
	for in, want := range cases {
		if got := looksLikeNPI(in); got != want {
			t.Errorf("looksLikeNPI(%q) = %v, want %v", in, got, want)
		}
	}
}
