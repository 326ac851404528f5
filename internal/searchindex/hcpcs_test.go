package searchindex

import (
	"context"
	"path/filepath"
	"testing"

	"providerresolve/internal/analyticstore"
)

func newFixtureHCPCSStore(t *testing.T) *analyticstore.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := analyticstore.Open(filepath.Join(dir, "analytic.duckdb"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	ddl := `
		CREATE TABLE hcpcs_search (
			hcpcs_code VARCHAR, short_desc VARCHAR, long_desc VARCHAR,
			add_dt VARCHAR, act_eff_dt VARCHAR, term_dt VARCHAR, obsolete VARCHAR, is_noc VARCHAR,
			paid_total DOUBLE, claims_total BIGINT, bene_total BIGINT
		);
		INSERT INTO hcpcs_search VALUES
			('99213', 'Office visit, established', 'Office or other outpatient visit for an established patient',
			 '20200101', '20200101', NULL, 'false', 'false', 150.75, 3, 2),
			('J1200', 'Diphenhydramine injection', 'Injection, diphenhydramine hcl, up to 50 mg',
			 '20200101', '20200101', NULL, 'false', 'false', 42.0, 1, 1);
	`
	if _, err := store.DB().ExecContext(ctx, ddl); err != nil {
		t.Fatalf("seeding hcpcs_search fixture: %v", err)
	}
	return store
}

func TestBuildAndSearchHCPCSIndex(t *testing.T) {
	store := newFixtureHCPCSStore(t)
	indexDir := filepath.Join(t.TempDir(), "hcpcs")

	ctx := context.Background()
	if err := BuildHCPCSIndex(ctx, store, indexDir, false); err != nil {
		t.Fatalf("BuildHCPCSIndex: %v", err)
	}

	engine, err := OpenHCPCSEngine(indexDir)
	if err != nil {
		t.Fatalf("OpenHCPCSEngine: %v", err)
	}
	defer engine.Close()

	t.Run("code exact match", func(t *testing.T) {
		resp, err := engine.Search(HCPCSQuery{Q: "99213", PageSize: 10})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if resp.TotalHits != 1 || resp.Hits[0].HCPCSCode != "99213" {
			t.Fatalf("Search(99213) = %+v", resp)
		}
	})

	t.Run("text match on description", func(t *testing.T) {
		resp, err := engine.Search(HCPCSQuery{Q: "diphenhydramine", PageSize: 10})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if resp.TotalHits != 1 || resp.Hits[0].HCPCSCode != "J1200" {
			t.Fatalf("Search(diphenhydramine) = %+v", resp)
		}
	})

	t.Run("sort paid desc", func(t *testing.T) {
		resp, err := engine.Search(HCPCSQuery{Sort: HCPCSPaidDesc, PageSize: 10})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(resp.Hits) != 2 || resp.Hits[0].HCPCSCode != "99213" {
			t.Fatalf("Search(sort=paid_desc) = %+v", resp)
		}
	})

	t.Run("rebuild skips when _SUCCESS present", func(t *testing.T) {
		if err := BuildHCPCSIndex(ctx, store, indexDir, false); err != nil {
			t.Fatalf("second BuildHCPCSIndex: %v", err)
		}
	})
}
