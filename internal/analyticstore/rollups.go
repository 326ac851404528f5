package analyticstore

import (
	"context"
	"fmt"
)

// RebuildProviderTotals drops and recreates provider_totals: sums of
// TOTAL_PAID/TOTAL_CLAIMS/TOTAL_UNIQUE_BENEFICIARIES grouped independently
// by the billing and servicing NPI columns, full-outer-joined per NPI with
// per-row totals added (spec.md §4.I).
func (s *Store) RebuildProviderTotals(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS provider_totals`); err != nil {
		return fmt.Errorf("dropping provider_totals: %w", err)
	}
	const query = `
		CREATE TABLE provider_totals AS
		WITH billing AS (
			SELECT
				NULLIF(TRIM(CAST(BILLING_PROVIDER_NPI_NUM AS VARCHAR)), '') AS npi,
				SUM(TOTAL_PAID) AS paid_billing,
				SUM(TOTAL_CLAIMS) AS claims_billing,
				SUM(TOTAL_UNIQUE_BENEFICIARIES) AS bene_billing
			FROM spending_raw
			WHERE BILLING_PROVIDER_NPI_NUM IS NOT NULL AND TRIM(CAST(BILLING_PROVIDER_NPI_NUM AS VARCHAR)) <> ''
			GROUP BY 1
		),
		servicing AS (
			SELECT
				NULLIF(TRIM(CAST(SERVICING_PROVIDER_NPI_NUM AS VARCHAR)), '') AS npi,
				SUM(TOTAL_PAID) AS paid_servicing,
				SUM(TOTAL_CLAIMS) AS claims_servicing,
				SUM(TOTAL_UNIQUE_BENEFICIARIES) AS bene_servicing
			FROM spending_raw
			WHERE SERVICING_PROVIDER_NPI_NUM IS NOT NULL AND TRIM(CAST(SERVICING_PROVIDER_NPI_NUM AS VARCHAR)) <> ''
			GROUP BY 1
		)
		SELECT
			COALESCE(billing.npi, servicing.npi) AS npi,
			COALESCE(paid_billing, 0) AS paid_billing,
			COALESCE(claims_billing, 0) AS claims_billing,
			COALESCE(bene_billing, 0) AS bene_billing,
			COALESCE(paid_servicing, 0) AS paid_servicing,
			COALESCE(claims_servicing, 0) AS claims_servicing,
			COALESCE(bene_servicing, 0) AS bene_servicing,
			COALESCE(paid_billing, 0) + COALESCE(paid_servicing, 0) AS paid_total,
			COALESCE(claims_billing, 0) + COALESCE(claims_servicing, 0) AS claims_total,
			COALESCE(bene_billing, 0) + COALESCE(bene_servicing, 0) AS bene_total
		FROM billing
		FULL OUTER JOIN servicing ON billing.npi = servicing.npi
		WHERE COALESCE(billing.npi, servicing.npi) IS NOT NULL
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("building provider_totals: %w", err)
	}
	return nil
}

// RebuildHCPCSTotals drops and recreates hcpcs_totals, analogous to
// RebuildProviderTotals but grouped by HCPCS_CODE alone.
func (s *Store) RebuildHCPCSTotals(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS hcpcs_totals`); err != nil {
		return fmt.Errorf("dropping hcpcs_totals: %w", err)
	}
	const query = `
		CREATE TABLE hcpcs_totals AS
		SELECT
			NULLIF(TRIM(CAST(HCPCS_CODE AS VARCHAR)), '') AS hcpcs_code,
			SUM(TOTAL_PAID) AS paid_total,
			SUM(TOTAL_CLAIMS) AS claims_total,
			SUM(TOTAL_UNIQUE_BENEFICIARIES) AS bene_total
		FROM spending_raw
		WHERE HCPCS_CODE IS NOT NULL AND TRIM(CAST(HCPCS_CODE AS VARCHAR)) <> ''
		GROUP BY 1
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("building hcpcs_totals: %w", err)
	}
	return nil
}
