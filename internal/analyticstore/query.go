package analyticstore

import (
	"context"
	"database/sql"
	"fmt"
)

// ProviderSearchRow is one provider_search row.
type ProviderSearchRow struct {
	NPI                 string
	DisplayName         sql.NullString
	EnumerationType     sql.NullString
	PrimaryTaxonomyCode sql.NullString
	PrimaryTaxonomyDesc sql.NullString
	State               sql.NullString
	City                sql.NullString
	Zip5                sql.NullString
	PaidBilling         float64
	ClaimsBilling       int64
	BeneBilling         int64
	PaidServicing       float64
	ClaimsServicing     int64
	BeneServicing       int64
	PaidTotal           float64
	ClaimsTotal         int64
	BeneTotal           int64
	Lat                 sql.NullFloat64
	Lon                 sql.NullFloat64
}

// HCPCSSearchRow is one hcpcs_search row.
type HCPCSSearchRow struct {
	HCPCSCode   string
	ShortDesc   sql.NullString
	LongDesc    sql.NullString
	AddDt       sql.NullString
	ActEffDt    sql.NullString
	TermDt      sql.NullString
	Obsolete    sql.NullString
	IsNOC       sql.NullString
	PaidTotal   float64
	ClaimsTotal int64
	BeneTotal   int64
}

const providerSearchColumns = `npi, display_name, enumeration_type, primary_taxonomy_code, primary_taxonomy_desc,
	state, city, zip5, paid_billing, claims_billing, bene_billing, paid_servicing, claims_servicing,
	bene_servicing, paid_total, claims_total, bene_total, lat, lon`

func scanProviderSearchRow(row interface {
	Scan(dest ...any) error
}) (ProviderSearchRow, error) {
	var r ProviderSearchRow
	err := row.Scan(&r.NPI, &r.DisplayName, &r.EnumerationType, &r.PrimaryTaxonomyCode, &r.PrimaryTaxonomyDesc,
		&r.State, &r.City, &r.Zip5, &r.PaidBilling, &r.ClaimsBilling, &r.BeneBilling, &r.PaidServicing,
		&r.ClaimsServicing, &r.BeneServicing, &r.PaidTotal, &r.ClaimsTotal, &r.BeneTotal, &r.Lat, &r.Lon)
	return r, err
}

// ProviderByNPI returns the provider_search row for npi.
func (s *Store) ProviderByNPI(ctx context.Context, npi string) (ProviderSearchRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+providerSearchColumns+` FROM provider_search WHERE npi = ?`, npi)
	r, err := scanProviderSearchRow(row)
	switch {
	case err == sql.ErrNoRows:
		return ProviderSearchRow{}, false, nil
	case err != nil:
		return ProviderSearchRow{}, false, fmt.Errorf("reading provider_search row for %s: %w", npi, err)
	}
	return r, true, nil
}

// HCPCSByCode returns the hcpcs_search row for code.
func (s *Store) HCPCSByCode(ctx context.Context, code string) (HCPCSSearchRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hcpcs_code, short_desc, long_desc, add_dt, act_eff_dt, term_dt, obsolete, is_noc,
			paid_total, claims_total, bene_total
		FROM hcpcs_search WHERE hcpcs_code = ?
	`, code)
	var r HCPCSSearchRow
	err := row.Scan(&r.HCPCSCode, &r.ShortDesc, &r.LongDesc, &r.AddDt, &r.ActEffDt, &r.TermDt, &r.Obsolete,
		&r.IsNOC, &r.PaidTotal, &r.ClaimsTotal, &r.BeneTotal)
	switch {
	case err == sql.ErrNoRows:
		return HCPCSSearchRow{}, false, nil
	case err != nil:
		return HCPCSSearchRow{}, false, fmt.Errorf("reading hcpcs_search row for %s: %w", code, err)
	}
	return r, true, nil
}

// ProviderRawResponseJSON returns the raw npi_api_raw response_json column
// for npi ("{}" when it is NULL), for the provider detail endpoint's "raw
// upstream response" field (spec.md §4.K).
func (s *Store) ProviderRawResponseJSON(ctx context.Context, npi string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(response_json, '{}')
		FROM npi_api_raw WHERE npi = ?
	`, npi)
	var raw string
	err := row.Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("reading raw npi response for %s: %w", npi, err)
	}
	return raw, true, nil
}

// HCPCSRawResponseJSON returns the raw hcpcs_api_raw response_json column
// for code, for the hcpcs detail endpoint's "raw upstream response" field.
func (s *Store) HCPCSRawResponseJSON(ctx context.Context, code string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(response_json, '{}')
		FROM hcpcs_api_raw WHERE hcpcs_code = ?
	`, code)
	var raw string
	err := row.Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("reading raw hcpcs response for %s: %w", code, err)
	}
	return raw, true, nil
}

// ProviderSearchByNameAsc returns up to limit provider_search rows ordered
// by display_name ASC NULLS LAST, npi ASC, starting at offset — the
// stable lexicographic sort the inverted index cannot offer natively
// (spec.md §4.K, provider search with q="" and sort=name_asc).
func (s *Store) ProviderSearchByNameAsc(ctx context.Context, limit, offset int) ([]ProviderSearchRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+providerSearchColumns+`
		FROM provider_search
		ORDER BY display_name ASC NULLS LAST, npi ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying provider_search by name: %w", err)
	}
	defer rows.Close()

	var out []ProviderSearchRow
	for rows.Next() {
		r, err := scanProviderSearchRow(rows)
		if err != nil {
			return nil, fmt.Errorf("reading provider_search row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MapZipRow is one aggregated row for the /api/map/zips endpoint.
type MapZipRow struct {
	Zip5   string
	Lat    float64
	Lon    float64
	Metric float64
}

// MapZipsAggregate groups provider_search rows within the given bounding
// box by (zip5, lat, lon), summing metricColumn (one of the paid/claims/
// bene role columns), returning the top 20000 by metric descending
// (spec.md §4.K).
func (s *Store) MapZipsAggregate(ctx context.Context, metricColumn string, minLon, minLat, maxLon, maxLat float64) ([]MapZipRow, error) {
	if !allowedMetricColumn(metricColumn) {
		return nil, fmt.Errorf("unsupported map metric column %q", metricColumn)
	}
	query := fmt.Sprintf(`
		SELECT zip5, lat, lon, SUM(%s) AS metric
		FROM provider_search
		WHERE zip5 IS NOT NULL AND lat IS NOT NULL AND lon IS NOT NULL
			AND lon BETWEEN ? AND ? AND lat BETWEEN ? AND ?
		GROUP BY zip5, lat, lon
		ORDER BY metric DESC
		LIMIT 20000
	`, metricColumn)
	rows, err := s.db.QueryContext(ctx, query, minLon, maxLon, minLat, maxLat)
	if err != nil {
		return nil, fmt.Errorf("querying map zip aggregation: %w", err)
	}
	defer rows.Close()

	var out []MapZipRow
	for rows.Next() {
		var r MapZipRow
		if err := rows.Scan(&r.Zip5, &r.Lat, &r.Lon, &r.Metric); err != nil {
			return nil, fmt.Errorf("reading map zip row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func allowedMetricColumn(col string) bool {
	switch col {
	case "paid_billing", "paid_servicing", "paid_total",
		"claims_billing", "claims_servicing", "claims_total",
		"bene_billing", "bene_servicing", "bene_total":
		return true
	default:
		return false
	}
}

// AllProviderSearch returns every provider_search row, for bulk index
// builds (searchindex.BuildProviderIndex scans the whole serving table).
func (s *Store) AllProviderSearch(ctx context.Context) ([]ProviderSearchRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+providerSearchColumns+` FROM provider_search`)
	if err != nil {
		return nil, fmt.Errorf("scanning provider_search: %w", err)
	}
	defer rows.Close()

	var out []ProviderSearchRow
	for rows.Next() {
		r, err := scanProviderSearchRow(rows)
		if err != nil {
			return nil, fmt.Errorf("reading provider_search row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllHCPCSSearch returns every hcpcs_search row, for bulk index builds.
func (s *Store) AllHCPCSSearch(ctx context.Context) ([]HCPCSSearchRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hcpcs_code, short_desc, long_desc, add_dt, act_eff_dt, term_dt, obsolete, is_noc,
			paid_total, claims_total, bene_total
		FROM hcpcs_search
	`)
	if err != nil {
		return nil, fmt.Errorf("scanning hcpcs_search: %w", err)
	}
	defer rows.Close()

	var out []HCPCSSearchRow
	for rows.Next() {
		var r HCPCSSearchRow
		if err := rows.Scan(&r.HCPCSCode, &r.ShortDesc, &r.LongDesc, &r.AddDt, &r.ActEffDt, &r.TermDt,
			&r.Obsolete, &r.IsNOC, &r.PaidTotal, &r.ClaimsTotal, &r.BeneTotal); err != nil {
			return nil, fmt.Errorf("reading hcpcs_search row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats is the /api/stats response payload: row counts for the two
// serving tables.
type Stats struct {
	ProviderCount int64
	HCPCSCount    int64
}

// GetStats returns the current provider/hcpcs row counts.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	providerCount, err := s.oneInt64(ctx, `SELECT COUNT(*) FROM provider_search`)
	if err != nil {
		return Stats{}, err
	}
	hcpcsCount, err := s.oneInt64(ctx, `SELECT COUNT(*) FROM hcpcs_search`)
	if err != nil {
		return Stats{}, err
	}
	return Stats{ProviderCount: providerCount, HCPCSCount: hcpcsCount}, nil
}
