package searchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"providerresolve/internal/analyticstore"
	"providerresolve/internal/searchindex"
)

func newFixtureServer(t *testing.T) *Server {
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
			 'MA', 'Cambridge', '02139', 500.0, 10, 8, 0.0, 0, 0, 500.0, 10, 8, 42.36, -71.10);

		CREATE TABLE hcpcs_search (
			hcpcs_code VARCHAR, short_desc VARCHAR, long_desc VARCHAR,
			add_dt VARCHAR, act_eff_dt VARCHAR, term_dt VARCHAR, obsolete VARCHAR, is_noc VARCHAR,
			paid_total DOUBLE, claims_total BIGINT, bene_total BIGINT
		);
		INSERT INTO hcpcs_search VALUES
			('99213', 'Office visit, established', 'Office or other outpatient visit for an established patient',
			 '20200101', '20200101', NULL, 'false', 'false', 150.75, 3, 2);

		CREATE TABLE npi_api_raw (npi VARCHAR, response_json VARCHAR);
		INSERT INTO npi_api_raw VALUES ('1234567893', '{"ok":true}');

		CREATE TABLE hcpcs_api_raw (hcpcs_code VARCHAR, response_json VARCHAR);
		INSERT INTO hcpcs_api_raw VALUES ('99213', '{"ok":true}');
	`
	if _, err := store.DB().ExecContext(ctx, ddl); err != nil {
		t.Fatalf("seeding fixture: %v", err)
	}

	providerIndexDir := filepath.Join(dir, "providers")
	if err := searchindex.BuildProviderIndex(ctx, store, providerIndexDir, false); err != nil {
		t.Fatalf("BuildProviderIndex: %v", err)
	}
	providers, err := searchindex.OpenProviderEngine(providerIndexDir)
	if err != nil {
		t.Fatalf("OpenProviderEngine: %v", err)
	}
	t.Cleanup(func() { providers.Close() })

	hcpcsIndexDir := filepath.Join(dir, "hcpcs")
	if err := searchindex.BuildHCPCSIndex(ctx, store, hcpcsIndexDir, false); err != nil {
		t.Fatalf("BuildHCPCSIndex: %v", err)
	}
	hcpcs, err := searchindex.OpenHCPCSEngine(hcpcsIndexDir)
	if err != nil {
		t.Fatalf("OpenHCPCSEngine: %v", err)
	}
	t.Cleanup(func() { hcpcs.Close() })

	return NewServer(store, providers, hcpcs, json.RawMessage(`{"provider_count":1}`))
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleStats(t *testing.T) {
	s := newFixtureServer(t)
	rec := doGet(t, s.Router(), "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGlobalSearch(t *testing.T) {
	s := newFixtureServer(t)
	rec := doGet(t, s.Router(), "/api/search?q=1234567893")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp globalSearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Providers) != 1 || resp.Providers[0].NPI != "1234567893" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHandleProviderDetail(t *testing.T) {
	s := newFixtureServer(t)
	rec := doGet(t, s.Router(), "/api/providers/1234567893")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp providerDetailResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Provider == nil || resp.Provider.NPI != "1234567893" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.NPIAPI == nil || *resp.NPIAPI != `{"ok":true}` {
		t.Fatalf("NPIAPI = %v", resp.NPIAPI)
	}
}

func TestHandleProviderSearchEmptyQueryNameAsc(t *testing.T) {
	s := newFixtureServer(t)
	rec := doGet(t, s.Router(), "/api/providers/search?sort=name_asc")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp searchindex.ProviderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TotalHits != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHandleHCPCSDetail(t *testing.T) {
	s := newFixtureServer(t)
	rec := doGet(t, s.Router(), "/api/hcpcs/99213")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp hcpcsDetailResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.HCPCS == nil || resp.HCPCS.HCPCSCode != "99213" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHandleMapZips(t *testing.T) {
	s := newFixtureServer(t)
	rec := doGet(t, s.Router(), "/api/map/zips?bbox=-72,42,-71,43")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var points []mapZipPoint
	if err := json.Unmarshal(rec.Body.Bytes(), &points); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(points) != 1 || points[0].Zip5 != "02139" {
		t.Fatalf("points = %+v", points)
	}
}

func TestHandleProviderFilters(t *testing.T) {
	s := newFixtureServer(t)
	rec := doGet(t, s.Router(), "/api/filters/providers")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp providerFiltersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.States) != 1 || resp.States[0] != "MA" {
		t.Fatalf("resp = %+v", resp)
	}
}
