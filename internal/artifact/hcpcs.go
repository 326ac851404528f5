package artifact

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"providerresolve/internal/duckutil"
	"providerresolve/internal/hcpcsstore"
)

var hcpcsAPIReferenceHeader = []string{
	"hcpcs_code",
	"ef_short_desc_json",
	"ef_long_desc_json",
	"ef_add_dt_json",
	"ef_act_eff_dt_json",
	"ef_term_dt_json",
	"ef_obsolete_json",
	"ef_is_noc_json",
	"status",
	"error_message",
	"api_run_id",
	"requested_at_utc",
}

// ExportHCPCSAPIReference writes one row per code in codes (every "ok"
// record variant when resolved, a single sentinel row otherwise) to a
// Parquet file at outputPath. Rows are staged to a temp CSV first, then
// converted in one DuckDB COPY statement, mirroring the build-datasets
// pipeline's own CSV-then-COPY export rather than a row-at-a-time Parquet
// writer: the reference dataset is small enough that this is simpler
// than maintaining a second Arrow-style streaming writer.
func ExportHCPCSAPIReference(ctx context.Context, store *hcpcsstore.Store, codes []string, apiRunID, outputPath string) error {
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating hcpcs reference artifact dir %s: %w", dir, err)
		}
	}
	tmpCSVPath := outputPath + ".tmp.csv"
	tmpParquetPath := outputPath + ".tmp"
	requestedAtUTC := time.Now().UTC().Format(time.RFC3339)

	if err := writeHCPCSReferenceCSV(ctx, store, codes, apiRunID, requestedAtUTC, tmpCSVPath); err != nil {
		return err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		os.Remove(tmpCSVPath)
		return fmt.Errorf("opening duckdb for hcpcs reference export: %w", err)
	}
	defer db.Close()

	csvSource, err := duckutil.SourceExpr(tmpCSVPath)
	if err != nil {
		os.Remove(tmpCSVPath)
		return err
	}
	copySQL := fmt.Sprintf("COPY (SELECT * FROM %s) TO '%s' (FORMAT PARQUET);", csvSource, duckutil.EscapePath(tmpParquetPath))
	if _, err := db.ExecContext(ctx, copySQL); err != nil {
		os.Remove(tmpCSVPath)
		return fmt.Errorf("writing hcpcs reference parquet: %w", err)
	}

	if err := os.Remove(tmpCSVPath); err != nil {
		return fmt.Errorf("deleting temp hcpcs reference csv %s: %w", tmpCSVPath, err)
	}
	if err := os.Rename(tmpParquetPath, outputPath); err != nil {
		return fmt.Errorf("moving temp hcpcs reference parquet %s to %s: %w", tmpParquetPath, outputPath, err)
	}
	return nil
}

func writeHCPCSReferenceCSV(ctx context.Context, store *hcpcsstore.Store, codes []string, apiRunID, requestedAtUTC, tmpCSVPath string) error {
	f, err := os.Create(tmpCSVPath)
	if err != nil {
		return fmt.Errorf("creating temp hcpcs reference csv %s: %w", tmpCSVPath, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(hcpcsAPIReferenceHeader); err != nil {
		return fmt.Errorf("writing hcpcs reference csv header: %w", err)
	}

	for _, code := range codes {
		records, status, errMsg, found, err := store.RowsByCode(ctx, code)
		if err != nil {
			return err
		}
		if !found {
			status, errMsg = hcpcsstore.StatusMissing, "missing_cache"
			if err := w.Write(hcpcsReferenceRecord(code, nil, status, errMsg, apiRunID, requestedAtUTC)); err != nil {
				return fmt.Errorf("writing hcpcs reference row for %s: %w", code, err)
			}
			continue
		}
		if status != hcpcsstore.StatusOK {
			if err := w.Write(hcpcsReferenceRecord(code, nil, status, errMsg, apiRunID, requestedAtUTC)); err != nil {
				return fmt.Errorf("writing hcpcs reference row for %s: %w", code, err)
			}
			continue
		}
		for _, rec := range records {
			if err := w.Write(hcpcsReferenceRecord(code, &rec, status, "", apiRunID, requestedAtUTC)); err != nil {
				return fmt.Errorf("writing hcpcs reference row for %s: %w", code, err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing temp hcpcs reference csv: %w", err)
	}
	return nil
}

func hcpcsReferenceRecord(code string, rec *hcpcsstore.Record, status hcpcsstore.Status, errMsg, apiRunID, requestedAtUTC string) []string {
	field := func(s string) string {
		if s == "" {
			return ""
		}
		b, _ := json.Marshal(s)
		return string(b)
	}
	if rec == nil {
		return []string{code, "", "", "", "", "", "", "", string(status), errMsg, apiRunID, requestedAtUTC}
	}
	return []string{
		code,
		field(rec.ShortDesc), field(rec.LongDesc), field(rec.AddDt), field(rec.ActEffDt),
		field(rec.TermDt), field(rec.Obsolete), field(rec.IsNOC),
		string(status), errMsg, apiRunID, requestedAtUTC,
	}
}
