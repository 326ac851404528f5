// Package analyticstore builds and queries the DuckDB-backed analytical
// store (spec.md §4.I): parquet-backed views over the spending file and
// the two resolved-identifier artifacts, rollup tables, geo/info lookup
// tables, and the joined provider_search/hcpcs_search tables the search
// service reads from. It also performs the per-claim-row HCPCS
// enrichment join described in the same section.
package analyticstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb/v2"
)

// Store wraps a single on-disk DuckDB database file.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (or reuses) the DuckDB database file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening analytic store at %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA threads=4"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting duckdb thread pragma: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the underlying DuckDB connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for query packages (internal/searchapi)
// that need read-only access beyond the build-time methods here.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) tableExists(ctx context.Context, name string) (bool, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = 'main' AND table_name = ?
	`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking table existence for %s: %w", name, err)
	}
	return count > 0, nil
}

// countBadKeys counts rows in table whose col is NULL or blank after
// trimming. table and col are always internal literal names, never user
// input, so plain fmt.Sprintf composition here is safe.
func (s *Store) countBadKeys(ctx context.Context, table, col string) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s IS NULL OR TRIM(%s) = ''`, table, col, col)
	var count int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting bad keys in %s.%s: %w", table, col, err)
	}
	return count, nil
}

func (s *Store) oneInt64(ctx context.Context, query string) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&v); err != nil {
		return 0, fmt.Errorf("running scalar query: %w", err)
	}
	return v, nil
}
