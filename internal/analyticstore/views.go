package analyticstore

import (
	"context"
	"fmt"

	"providerresolve/internal/duckutil"
)

// CreateOrReplaceViews points spending_raw/npi_api_raw/hcpcs_api_raw at the
// three input files. spendingSource may be .csv or .parquet; the two
// resolved-identifier artifacts from internal/artifact are always .parquet.
func (s *Store) CreateOrReplaceViews(ctx context.Context, spendingSource, npiParquet, hcpcsParquet string) error {
	spendingExpr, err := duckutil.SourceExpr(spendingSource)
	if err != nil {
		return err
	}
	npiExpr := fmt.Sprintf("read_parquet('%s')", duckutil.EscapePath(npiParquet))
	hcpcsExpr := fmt.Sprintf("read_parquet('%s')", duckutil.EscapePath(hcpcsParquet))

	views := []struct{ name, expr string }{
		{"spending_raw", spendingExpr},
		{"npi_api_raw", npiExpr},
		{"hcpcs_api_raw", hcpcsExpr},
	}
	for _, v := range views {
		sql := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", v.name, v.expr)
		if _, err := s.db.ExecContext(ctx, sql); err != nil {
			return fmt.Errorf("creating view %s: %w", v.name, err)
		}
	}
	return nil
}
