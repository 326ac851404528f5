package analyticstore

import (
	"context"
	"fmt"
	"strings"
)

// ProviderFilter is the set of optional provider_search filters the search
// API's DuckDB-direct paths (the name_asc browse path and the map/zips
// aggregation) apply before paginating or aggregating.
type ProviderFilter struct {
	States          []string
	TaxonomyCodes   []string
	EnumerationType string // "" for either, else "NPI-1" or "NPI-2"
	PaidMin         *float64
	PaidMax         *float64
	ClaimsMin       *int64
	ClaimsMax       *int64
	PaidColumn      string // e.g. "paid_total", "paid_billing", "paid_servicing"
	ClaimsColumn    string
}

func (f ProviderFilter) whereClause() (string, []any) {
	var clauses []string
	var args []any

	if len(f.States) > 0 {
		placeholders := make([]string, len(f.States))
		for i, s := range f.States {
			placeholders[i] = "?"
			args = append(args, strings.ToUpper(strings.TrimSpace(s)))
		}
		clauses = append(clauses, "state IN ("+strings.Join(placeholders, ",")+")")
	}
	if len(f.TaxonomyCodes) > 0 {
		placeholders := make([]string, len(f.TaxonomyCodes))
		for i, t := range f.TaxonomyCodes {
			placeholders[i] = "?"
			args = append(args, strings.TrimSpace(t))
		}
		clauses = append(clauses, "primary_taxonomy_code IN ("+strings.Join(placeholders, ",")+")")
	}
	if f.EnumerationType == "NPI-1" || f.EnumerationType == "NPI-2" {
		clauses = append(clauses, "enumeration_type = ?")
		args = append(args, f.EnumerationType)
	}

	paidCol := f.PaidColumn
	if paidCol == "" {
		paidCol = "paid_total"
	}
	claimsCol := f.ClaimsColumn
	if claimsCol == "" {
		claimsCol = "claims_total"
	}
	if f.PaidMin != nil {
		clauses = append(clauses, paidCol+" >= ?")
		args = append(args, *f.PaidMin)
	}
	if f.PaidMax != nil {
		clauses = append(clauses, paidCol+" <= ?")
		args = append(args, *f.PaidMax)
	}
	if f.ClaimsMin != nil {
		clauses = append(clauses, claimsCol+" >= ?")
		args = append(args, *f.ClaimsMin)
	}
	if f.ClaimsMax != nil {
		clauses = append(clauses, claimsCol+" <= ?")
		args = append(args, *f.ClaimsMax)
	}

	if len(clauses) == 0 {
		return "WHERE 1=1", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// CountProviderSearch returns how many provider_search rows match filter.
func (s *Store) CountProviderSearch(ctx context.Context, filter ProviderFilter) (int64, error) {
	where, args := filter.whereClause()
	var n int64
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM provider_search "+where, args...)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting filtered provider_search rows: %w", err)
	}
	return n, nil
}

// ProviderSearchPage returns a name-ordered page of provider_search rows
// matching filter — the DuckDB-direct path used when the caller's query
// text is empty and the requested sort is alphabetical (spec.md §4.K).
func (s *Store) ProviderSearchPage(ctx context.Context, filter ProviderFilter, limit, offset int) ([]ProviderSearchRow, error) {
	where, args := filter.whereClause()
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+providerSearchColumns+`
		FROM provider_search
		`+where+`
		ORDER BY display_name ASC NULLS LAST, npi ASC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying filtered provider_search page: %w", err)
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

// MapZipAggregateRow is one aggregated row for the filtered map/zips query.
type MapZipAggregateRow struct {
	Zip5          string
	Lat           float64
	Lon           float64
	ProviderCount int64
	MetricTotal   float64
}

// MapZipsAggregateFiltered groups provider_search rows within the given
// bounding box (and optional state/taxonomy/entity/paid/claims filters) by
// (zip5, lat, lon), returning provider counts and a summed metric, top
// 20000 rows by metric descending.
func (s *Store) MapZipsAggregateFiltered(ctx context.Context, filter ProviderFilter, metricColumn string, minLon, minLat, maxLon, maxLat float64) ([]MapZipAggregateRow, error) {
	if !allowedMetricColumn(metricColumn) {
		return nil, fmt.Errorf("unsupported map metric column %q", metricColumn)
	}
	where, args := filter.whereClause()
	where += " AND zip5 IS NOT NULL AND lat IS NOT NULL AND lon IS NOT NULL AND lon BETWEEN ? AND ? AND lat BETWEEN ? AND ?"
	args = append(args, minLon, maxLon, minLat, maxLat)

	query := fmt.Sprintf(`
		SELECT zip5, lat, lon, COUNT(*) AS provider_count, SUM(%s) AS metric_total
		FROM provider_search
		%s
		GROUP BY zip5, lat, lon
		ORDER BY metric_total DESC
		LIMIT 20000
	`, metricColumn, where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying filtered map zip aggregation: %w", err)
	}
	defer rows.Close()

	var out []MapZipAggregateRow
	for rows.Next() {
		var r MapZipAggregateRow
		if err := rows.Scan(&r.Zip5, &r.Lat, &r.Lon, &r.ProviderCount, &r.MetricTotal); err != nil {
			return nil, fmt.Errorf("reading map zip row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DistinctStates returns the distinct non-null provider_search states.
func (s *Store) DistinctStates(ctx context.Context) ([]string, error) {
	return s.distinctStrings(ctx, "SELECT DISTINCT state FROM provider_search WHERE state IS NOT NULL ORDER BY state ASC")
}

// DistinctEnumerationTypes returns the distinct non-null provider_search
// enumeration types.
func (s *Store) DistinctEnumerationTypes(ctx context.Context) ([]string, error) {
	return s.distinctStrings(ctx, "SELECT DISTINCT enumeration_type FROM provider_search WHERE enumeration_type IS NOT NULL ORDER BY enumeration_type ASC")
}

func (s *Store) distinctStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying distinct values: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("reading distinct value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// TaxonomyOption is one entry in the provider filter facet listing.
type TaxonomyOption struct {
	Code  string `json:"code"`
	Desc  string `json:"desc"`
	Count int64  `json:"provider_count"`
}

// TaxonomyOptions returns the up-to-2000 most common primary taxonomy
// codes across provider_search, each with one representative description
// and its provider count — the facet source for the provider filters
// endpoint.
func (s *Store) TaxonomyOptions(ctx context.Context) ([]TaxonomyOption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT primary_taxonomy_code, ANY_VALUE(primary_taxonomy_desc), COUNT(*) AS provider_count
		FROM provider_search
		WHERE primary_taxonomy_code IS NOT NULL
		GROUP BY primary_taxonomy_code
		ORDER BY provider_count DESC
		LIMIT 2000
	`)
	if err != nil {
		return nil, fmt.Errorf("querying taxonomy options: %w", err)
	}
	defer rows.Close()

	var out []TaxonomyOption
	for rows.Next() {
		var code string
		var desc *string
		var count int64
		if err := rows.Scan(&code, &desc, &count); err != nil {
			return nil, fmt.Errorf("reading taxonomy option row: %w", err)
		}
		opt := TaxonomyOption{Code: code, Count: count}
		if desc != nil {
			opt.Desc = *desc
		}
		out = append(out, opt)
	}
	return out, rows.Err()
}
