// Package duckutil holds small helpers shared by every component that
// queries a spending file or artifact through an in-process DuckDB
// connection (internal/identifiers, internal/analyticstore,
// internal/artifact's HCPCS artifact export).
package duckutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// EscapePath quotes path for embedding inside a single-quoted SQL string
// literal.
func EscapePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}

// SourceExpr returns the DuckDB table-valued expression that reads path,
// dispatching on its extension. Only .parquet and .csv inputs are
// supported, matching the two formats the resolve pipeline accepts.
func SourceExpr(path string) (string, error) {
	escaped := EscapePath(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return fmt.Sprintf("read_parquet('%s')", escaped), nil
	case ".csv":
		return fmt.Sprintf("read_csv_auto('%s', header=true)", escaped), nil
	default:
		return "", fmt.Errorf("unsupported input extension for %s: use .csv or .parquet", path)
	}
}
