// Package identifiers extracts the distinct NPI and HCPCS identifiers a
// resolve run needs to look up, by querying the spending source file
// in-process through DuckDB (spec.md §4.A).
package identifiers

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"providerresolve/internal/duckutil"
)

// ExtractUniqueNPIs returns every distinct, non-blank NPI referenced by
// either the billing or servicing provider column of inputPath.
func ExtractUniqueNPIs(inputPath string) ([]string, error) {
	return extractDistinct(inputPath, `
		WITH src AS (
			SELECT * FROM %s
		)
		SELECT DISTINCT TRIM(npi) AS npi
		FROM (
			SELECT CAST(BILLING_PROVIDER_NPI_NUM AS VARCHAR) AS npi FROM src
			UNION ALL
			SELECT CAST(SERVICING_PROVIDER_NPI_NUM AS VARCHAR) AS npi FROM src
		) AS combined
		WHERE npi IS NOT NULL AND TRIM(npi) <> ''
	`)
}

// ExtractUniqueHCPCSCodes returns every distinct, non-blank HCPCS/CPT code
// referenced by inputPath.
func ExtractUniqueHCPCSCodes(inputPath string) ([]string, error) {
	return extractDistinct(inputPath, `
		WITH src AS (
			SELECT * FROM %s
		)
		SELECT DISTINCT TRIM(CAST(HCPCS_CODE AS VARCHAR)) AS hcpcs_code
		FROM src
		WHERE HCPCS_CODE IS NOT NULL AND TRIM(CAST(HCPCS_CODE AS VARCHAR)) <> ''
	`)
}

func extractDistinct(inputPath, queryTemplate string) ([]string, error) {
	source, err := duckutil.SourceExpr(inputPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	defer db.Close()

	query := fmt.Sprintf(queryTemplate, source)
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("running extraction query: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("reading extraction row: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating extraction rows: %w", err)
	}
	return values, nil
}

// FormatCount renders n with thousands separators, e.g. 1234567 ->
// "1,234,567", for the download-plan summary table printed before a
// resolve run starts.
func FormatCount(n int) string {
	digits := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(digits, "-")
	if neg {
		digits = digits[1:]
	}
	var b strings.Builder
	for i, r := range reverse(digits) {
		if i > 0 && i%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := reverse(b.String())
	if neg {
		return "-" + out
	}
	return out
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
