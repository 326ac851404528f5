package analyticstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"providerresolve/internal/duckutil"
)

// EnrichDataset attaches, to every row of the spending file at inputPath, a
// billing/servicing provider display name (from npiMappingCSV) and a
// canonical HCPCS description record (from hcpcsMappingCSV), writing the
// result to outputPath (.csv or .parquet). One HCPCS record attaches per
// row using the tie-break in spec.md §4.I:
//
//  1. rank 0 if the record's [act_eff_date ∨ add_date, term_date] interval
//     contains the row's CLAIM_FROM_MONTH,
//  2. rank 1 if the record exists but doesn't cover the month,
//  3. rank 2 if no "ok" record exists for the code at all;
//
// ties within rank 0/1 go to the non-NOC record, then the most recent
// act_eff_date ∨ add_date, then the most recent add_date, then the longer
// long_desc. This runs independently of RebuildHCPCSInfo's NOC tie-break:
// the enrichment join always prefers non-NOC, matching the original's
// fixed ordering, where RebuildHCPCSInfo exposes that preference as the
// PreferNonNOCOnRebuild knob for the single canonical hcpcs_info row.
func EnrichDataset(ctx context.Context, inputPath, outputPath, npiMappingCSV, hcpcsMappingCSV string) error {
	if _, err := os.Stat(npiMappingCSV); err != nil {
		return fmt.Errorf("npi mapping csv not found at %s: %w", npiMappingCSV, err)
	}
	if _, err := os.Stat(hcpcsMappingCSV); err != nil {
		return fmt.Errorf("hcpcs mapping csv not found at %s: %w", hcpcsMappingCSV, err)
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating enrichment output dir %s: %w", dir, err)
		}
	}

	source, err := duckutil.SourceExpr(inputPath)
	if err != nil {
		return err
	}
	npiPath := duckutil.EscapePath(npiMappingCSV)
	hcpcsPath := duckutil.EscapePath(hcpcsMappingCSV)
	outPath := duckutil.EscapePath(outputPath)

	selectSQL := fmt.Sprintf(`
		WITH src_raw AS (
			SELECT * FROM %s
		),
		src AS (
			SELECT
				ROW_NUMBER() OVER () AS _row_id,
				src_raw.*,
				COALESCE(
					TRY_CAST(src_raw.CLAIM_FROM_MONTH AS DATE),
					TRY_STRPTIME(CAST(src_raw.CLAIM_FROM_MONTH AS VARCHAR), '%%Y-%%m')::DATE
				) AS _claim_from_date
			FROM src_raw
		),
		npi_map AS (
			SELECT CAST(npi AS VARCHAR) AS npi, NULLIF(provider_name, '') AS provider_name
			FROM read_csv_auto('%s', header=true)
		),
		hcpcs_map AS (
			SELECT
				CAST(hcpcs_code AS VARCHAR) AS hcpcs_code,
				NULLIF(short_desc, '') AS short_desc,
				NULLIF(long_desc, '') AS long_desc,
				CASE
					WHEN NULLIF(TRIM(add_dt), '') IS NULL THEN NULL
					ELSE STRPTIME(TRIM(add_dt), '%%Y%%m%%d')::DATE
				END AS add_date,
				CASE
					WHEN NULLIF(TRIM(act_eff_dt), '') IS NULL THEN NULL
					ELSE STRPTIME(TRIM(act_eff_dt), '%%Y%%m%%d')::DATE
				END AS act_eff_date,
				CASE
					WHEN NULLIF(TRIM(term_dt), '') IS NULL THEN NULL
					ELSE STRPTIME(TRIM(term_dt), '%%Y%%m%%d')::DATE
				END AS term_date,
				LOWER(COALESCE(NULLIF(TRIM(obsolete), ''), 'false')) AS obsolete,
				LOWER(COALESCE(NULLIF(TRIM(is_noc), ''), 'false')) AS is_noc,
				LOWER(COALESCE(NULLIF(TRIM(status), ''), 'ok')) AS status
			FROM read_csv_auto('%s', header=true)
		),
		joined AS (
			SELECT
				src.*,
				billing.provider_name AS BILLING_PROVIDER,
				servicing.provider_name AS SERVICING_PROVIDER,
				hcpcs.short_desc AS HCPCS_SHORT_DESC,
				hcpcs.long_desc AS HCPCS_LONG_DESC,
				CASE WHEN hcpcs.add_date IS NULL THEN NULL ELSE STRFTIME(hcpcs.add_date, '%%Y-%%m-%%d') END AS HCPCS_ADD_DATE,
				CASE WHEN hcpcs.act_eff_date IS NULL THEN NULL ELSE STRFTIME(hcpcs.act_eff_date, '%%Y-%%m-%%d') END AS HCPCS_ACT_EFF_DATE,
				CASE WHEN hcpcs.term_date IS NULL THEN NULL ELSE STRFTIME(hcpcs.term_date, '%%Y-%%m-%%d') END AS HCPCS_TERM_DATE,
				hcpcs.obsolete = 'true' AS HCPCS_OBSOLETE,
				hcpcs.is_noc = 'true' AS HCPCS_IS_NOC,
				ROW_NUMBER() OVER (
					PARTITION BY src._row_id
					ORDER BY
						CASE
							WHEN hcpcs.hcpcs_code IS NULL THEN 2
							WHEN src._claim_from_date IS NOT NULL
								AND COALESCE(hcpcs.act_eff_date, hcpcs.add_date, DATE '1900-01-01') <= src._claim_from_date
								AND (hcpcs.term_date IS NULL OR src._claim_from_date <= hcpcs.term_date)
								THEN 0
							ELSE 1
						END,
						CASE WHEN hcpcs.is_noc = 'false' THEN 0 ELSE 1 END,
						COALESCE(hcpcs.act_eff_date, hcpcs.add_date, DATE '1900-01-01') DESC,
						COALESCE(hcpcs.add_date, DATE '1900-01-01') DESC,
						LENGTH(COALESCE(hcpcs.long_desc, '')) DESC
				) AS _hcpcs_rank
			FROM src
			LEFT JOIN npi_map AS billing ON CAST(src.BILLING_PROVIDER_NPI_NUM AS VARCHAR) = billing.npi
			LEFT JOIN npi_map AS servicing ON CAST(src.SERVICING_PROVIDER_NPI_NUM AS VARCHAR) = servicing.npi
			LEFT JOIN hcpcs_map AS hcpcs ON CAST(src.HCPCS_CODE AS VARCHAR) = hcpcs.hcpcs_code AND hcpcs.status = 'ok'
		)
		SELECT * EXCLUDE (_row_id, _claim_from_date, _hcpcs_rank)
		FROM joined
		WHERE _hcpcs_rank = 1
	`, source, npiPath, hcpcsPath)

	var copySQL string
	switch ext := strings.ToLower(filepath.Ext(outputPath)); ext {
	case ".parquet":
		copySQL = fmt.Sprintf("COPY (%s) TO '%s' (FORMAT PARQUET, COMPRESSION ZSTD)", selectSQL, outPath)
	case ".csv":
		copySQL = fmt.Sprintf("COPY (%s) TO '%s' (FORMAT CSV, HEADER)", selectSQL, outPath)
	default:
		return fmt.Errorf("unsupported enrichment output extension for %s: use .csv or .parquet", outputPath)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("opening duckdb for enrichment: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("writing enriched dataset: %w", err)
	}
	return nil
}
