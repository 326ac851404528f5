package analyticstore

import (
	"context"
	"database/sql"
	"fmt"
)

// RebuildZipCentroids drops and recreates zip_centroids from a GeoNames
// US.txt file (spec.md §4.I).
func (s *Store) RebuildZipCentroids(ctx context.Context, geonamesTxtPath string) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS zip_centroids`); err != nil {
		return fmt.Errorf("dropping zip_centroids: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE zip_centroids (zip5 TEXT PRIMARY KEY, lat DOUBLE, lon DOUBLE)`); err != nil {
		return fmt.Errorf("creating zip_centroids: %w", err)
	}

	centroids, err := ParseGeonamesUSTxt(geonamesTxtPath)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting zip_centroids transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO zip_centroids (zip5, lat, lon) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing zip_centroids insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range centroids {
		if _, err := stmt.ExecContext(ctx, c.Zip5, c.Lat, c.Lon); err != nil {
			return fmt.Errorf("inserting zip_centroid %s: %w", c.Zip5, err)
		}
	}
	return tx.Commit()
}

// RebuildProviderInfo drops and recreates provider_info by projecting the
// basic/addresses/taxonomies columns of npi_api_raw through
// extractProviderFields (spec.md §4.I).
func (s *Store) RebuildProviderInfo(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS provider_info`); err != nil {
		return fmt.Errorf("dropping provider_info: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE provider_info (
			npi TEXT PRIMARY KEY,
			display_name TEXT,
			enumeration_type TEXT,
			primary_taxonomy_code TEXT,
			primary_taxonomy_desc TEXT,
			state TEXT,
			city TEXT,
			zip5 TEXT
		)
	`); err != nil {
		return fmt.Errorf("creating provider_info: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT npi, basic_json, addresses_json, taxonomies_json FROM npi_api_raw`)
	if err != nil {
		return fmt.Errorf("scanning npi_api_raw: %w", err)
	}
	defer rows.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting provider_info transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO provider_info
			(npi, display_name, enumeration_type, primary_taxonomy_code, primary_taxonomy_desc, state, city, zip5)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing provider_info insert: %w", err)
	}
	defer stmt.Close()

	for rows.Next() {
		var npi string
		var basicJSON, addressesJSON, taxonomiesJSON sql.NullString
		if err := rows.Scan(&npi, &basicJSON, &addressesJSON, &taxonomiesJSON); err != nil {
			return fmt.Errorf("reading npi_api_raw row: %w", err)
		}
		fields := extractProviderFields(npi, nullableStringPtr(basicJSON), nullableStringPtr(addressesJSON), nullableStringPtr(taxonomiesJSON))
		if _, err := stmt.ExecContext(ctx, fields.NPI, fields.DisplayName, fields.EnumerationType,
			fields.PrimaryTaxonomyCode, fields.PrimaryTaxonomyDesc, fields.State, fields.City, fields.Zip5); err != nil {
			return fmt.Errorf("inserting provider_info row for %s: %w", npi, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating npi_api_raw: %w", err)
	}
	return tx.Commit()
}

// RebuildHCPCSInfo drops and recreates hcpcs_info, picking one canonical
// row per code from hcpcs_api_raw: an "ok" row wins over any sentinel row,
// and when preferNonNOC is true a non-NOC "ok" row wins ties over a NOC
// one (the PreferNonNOCOnRebuild knob; spec.md §4.I, §9's NOC-supplanting
// open question).
func (s *Store) RebuildHCPCSInfo(ctx context.Context, preferNonNOC bool) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS hcpcs_info`); err != nil {
		return fmt.Errorf("dropping hcpcs_info: %w", err)
	}

	nocTieBreak := "0"
	if preferNonNOC {
		nocTieBreak = `CASE WHEN ef_is_noc_json = '"true"' THEN 1 ELSE 0 END`
	}

	query := fmt.Sprintf(`
		CREATE TABLE hcpcs_info AS
		WITH ranked AS (
			SELECT
				hcpcs_code,
				json_extract_string(ef_short_desc_json, '$') AS short_desc,
				json_extract_string(ef_long_desc_json, '$') AS long_desc,
				json_extract_string(ef_add_dt_json, '$') AS add_dt,
				json_extract_string(ef_act_eff_dt_json, '$') AS act_eff_dt,
				json_extract_string(ef_term_dt_json, '$') AS term_dt,
				json_extract_string(ef_obsolete_json, '$') AS obsolete,
				json_extract_string(ef_is_noc_json, '$') AS is_noc,
				ROW_NUMBER() OVER (
					PARTITION BY hcpcs_code
					ORDER BY
						CASE WHEN status = 'ok' THEN 0 ELSE 1 END,
						%s
				) AS rn
			FROM hcpcs_api_raw
		)
		SELECT hcpcs_code, short_desc, long_desc, add_dt, act_eff_dt, term_dt, obsolete, is_noc
		FROM ranked
		WHERE rn = 1
	`, nocTieBreak)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("building hcpcs_info: %w", err)
	}
	return nil
}

func nullableStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
