package analyticstore

import (
	"context"
	"fmt"
)

// RebuildProviderSearch drops and recreates provider_search: a full outer
// join of provider_totals and provider_info, left-joined against
// zip_centroids, dropping rows with an empty key (spec.md §4.I).
func (s *Store) RebuildProviderSearch(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS provider_search`); err != nil {
		return fmt.Errorf("dropping provider_search: %w", err)
	}
	const query = `
		CREATE TABLE provider_search AS
		WITH joined AS (
			SELECT
				COALESCE(pi.npi, pt.npi) AS npi,
				pi.display_name,
				pi.enumeration_type,
				pi.primary_taxonomy_code,
				pi.primary_taxonomy_desc,
				pi.state,
				pi.city,
				pi.zip5,
				COALESCE(pt.paid_billing, 0) AS paid_billing,
				COALESCE(pt.claims_billing, 0) AS claims_billing,
				COALESCE(pt.bene_billing, 0) AS bene_billing,
				COALESCE(pt.paid_servicing, 0) AS paid_servicing,
				COALESCE(pt.claims_servicing, 0) AS claims_servicing,
				COALESCE(pt.bene_servicing, 0) AS bene_servicing,
				COALESCE(pt.paid_total, 0) AS paid_total,
				COALESCE(pt.claims_total, 0) AS claims_total,
				COALESCE(pt.bene_total, 0) AS bene_total
			FROM provider_totals pt
			FULL OUTER JOIN provider_info pi ON pi.npi = pt.npi
		)
		SELECT joined.*, z.lat, z.lon
		FROM joined
		LEFT JOIN zip_centroids z ON z.zip5 = joined.zip5
		WHERE joined.npi IS NOT NULL AND TRIM(joined.npi) <> ''
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("building provider_search: %w", err)
	}
	return nil
}

// RebuildHCPCSSearch drops and recreates hcpcs_search: a full outer join
// of hcpcs_totals and hcpcs_info, dropping rows with an empty key.
func (s *Store) RebuildHCPCSSearch(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS hcpcs_search`); err != nil {
		return fmt.Errorf("dropping hcpcs_search: %w", err)
	}
	const query = `
		CREATE TABLE hcpcs_search AS
		WITH joined AS (
			SELECT
				COALESCE(hi.hcpcs_code, ht.hcpcs_code) AS hcpcs_code,
				hi.short_desc,
				hi.long_desc,
				hi.add_dt,
				hi.act_eff_dt,
				hi.term_dt,
				hi.obsolete,
				hi.is_noc,
				COALESCE(ht.paid_total, 0) AS paid_total,
				COALESCE(ht.claims_total, 0) AS claims_total,
				COALESCE(ht.bene_total, 0) AS bene_total
			FROM hcpcs_totals ht
			FULL OUTER JOIN hcpcs_info hi ON hi.hcpcs_code = ht.hcpcs_code
		)
		SELECT * FROM joined
		WHERE hcpcs_code IS NOT NULL AND TRIM(hcpcs_code) <> ''
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("building hcpcs_search: %w", err)
	}
	return nil
}
