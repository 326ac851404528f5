// Package npistore is the SQLite-backed cache for NPI lookups (spec.md
// §4.B). One row per NPI in npi_cache records the terminal status; a
// separate npi_api_responses table retains the raw NPPES response
// sections for later Parquet export, upserted only when a newer response
// arrives.
package npistore

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

type Status string

const (
	StatusOK        Status = "ok"
	StatusNotFound  Status = "not_found"
	StatusError     Status = "error"
	StatusMissing   Status = "missing_cache"
)

const schema = `
PRAGMA journal_mode = WAL;
CREATE TABLE IF NOT EXISTS npi_cache (
	npi TEXT PRIMARY KEY,
	provider_name TEXT,
	status TEXT NOT NULL,
	error_message TEXT,
	fetched_at_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_npi_cache_status ON npi_cache(status);
CREATE TABLE IF NOT EXISTS npi_api_responses (
	npi TEXT PRIMARY KEY,
	basic_json TEXT,
	addresses_json TEXT,
	practice_locations_json TEXT,
	taxonomies_json TEXT,
	identifiers_json TEXT,
	other_names_json TEXT,
	endpoints_json TEXT,
	url TEXT,
	error_message TEXT,
	api_run_id TEXT,
	requested_at_utc TEXT,
	request_params_json TEXT,
	results_json TEXT,
	response_json_raw TEXT
);
CREATE INDEX IF NOT EXISTS idx_npi_api_responses_requested_at
	ON npi_api_responses(requested_at_utc);
`

// Store wraps a single SQLite database holding the two tables above.
type Store struct {
	db *sql.DB
}

// Open creates the cache directory and database file at path if needed,
// and initializes the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing npi cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ResponseRow is one raw NPPES response, keyed by NPI.
type ResponseRow struct {
	NPI                   string
	BasicJSON             sql.NullString
	AddressesJSON         sql.NullString
	PracticeLocationsJSON sql.NullString
	TaxonomiesJSON        sql.NullString
	IdentifiersJSON       sql.NullString
	OtherNamesJSON        sql.NullString
	EndpointsJSON         sql.NullString
	URL                   string
	ErrorMessage          sql.NullString
	APIRunID              string
	RequestedAtUTC        string
	RequestParamsJSON     string
	ResultsJSON           sql.NullString
	ResponseJSONRaw       sql.NullString
}

// UnresolvedEntry describes one NPI still lacking an "ok" cache row, for
// triage (internal/triage).
type UnresolvedEntry struct {
	NPI           string
	Status        Status
	ErrorMessage  string
	FetchedAtUnix *int64
}

// Classify reports how many of npis already resolved to ok/not_found, and
// returns the remainder that still need an upstream lookup.
func (s *Store) Classify(ctx context.Context, npis []string) (resolved int, missing []string, err error) {
	stmt, err := s.db.PrepareContext(ctx, `SELECT status FROM npi_cache WHERE npi = ?`)
	if err != nil {
		return 0, nil, fmt.Errorf("preparing npi classify lookup: %w", err)
	}
	defer stmt.Close()

	for _, npi := range npis {
		var status string
		err := stmt.QueryRowContext(ctx, npi).Scan(&status)
		switch {
		case err == sql.ErrNoRows:
			missing = append(missing, npi)
		case err != nil:
			return 0, nil, fmt.Errorf("classifying npi %s: %w", npi, err)
		case status == string(StatusOK) || status == string(StatusNotFound):
			resolved++
		default:
			missing = append(missing, npi)
		}
	}
	return resolved, missing, nil
}

// UpsertOK records a resolved provider name for npi.
func (s *Store) UpsertOK(ctx context.Context, npi, providerName string) error {
	return s.upsert(ctx, npi, sql.NullString{String: providerName, Valid: true}, StatusOK, sql.NullString{})
}

// UpsertNotFound records that the upstream source has no record of npi.
func (s *Store) UpsertNotFound(ctx context.Context, npi string) error {
	return s.upsert(ctx, npi, sql.NullString{}, StatusNotFound, sql.NullString{})
}

// UpsertError records a non-terminal lookup failure for npi.
func (s *Store) UpsertError(ctx context.Context, npi, message string) error {
	return s.upsert(ctx, npi, sql.NullString{}, StatusError, sql.NullString{String: message, Valid: true})
}

func (s *Store) upsert(ctx context.Context, npi string, providerName sql.NullString, status Status, errMsg sql.NullString) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO npi_cache (npi, provider_name, status, error_message, fetched_at_unix)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(npi) DO UPDATE SET
			provider_name = excluded.provider_name,
			status = excluded.status,
			error_message = excluded.error_message,
			fetched_at_unix = excluded.fetched_at_unix
	`, npi, providerName, string(status), errMsg, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upserting npi cache row for %s: %w", npi, err)
	}
	return nil
}

// UpsertResponses records rows, keeping the newer requested_at_utc on
// conflict. A row whose requested_at_utc is not strictly newer than
// the stored one is a no-op, matching the Rust cache's write-once-per-run
// replay semantics.
func (s *Store) UpsertResponses(ctx context.Context, rows []ResponseRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting npi response upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO npi_api_responses (
			npi, basic_json, addresses_json, practice_locations_json, taxonomies_json,
			identifiers_json, other_names_json, endpoints_json, url, error_message,
			api_run_id, requested_at_utc, request_params_json, results_json, response_json_raw
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(npi) DO UPDATE SET
			basic_json = excluded.basic_json,
			addresses_json = excluded.addresses_json,
			practice_locations_json = excluded.practice_locations_json,
			taxonomies_json = excluded.taxonomies_json,
			identifiers_json = excluded.identifiers_json,
			other_names_json = excluded.other_names_json,
			endpoints_json = excluded.endpoints_json,
			url = excluded.url,
			error_message = excluded.error_message,
			api_run_id = excluded.api_run_id,
			requested_at_utc = excluded.requested_at_utc,
			request_params_json = excluded.request_params_json,
			results_json = excluded.results_json,
			response_json_raw = excluded.response_json_raw
		WHERE excluded.requested_at_utc > npi_api_responses.requested_at_utc
		   OR npi_api_responses.requested_at_utc IS NULL
	`)
	if err != nil {
		return fmt.Errorf("preparing npi response upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.NPI, r.BasicJSON, r.AddressesJSON, r.PracticeLocationsJSON,
			r.TaxonomiesJSON, r.IdentifiersJSON, r.OtherNamesJSON, r.EndpointsJSON, r.URL, r.ErrorMessage,
			r.APIRunID, r.RequestedAtUTC, r.RequestParamsJSON, r.ResultsJSON, r.ResponseJSONRaw); err != nil {
			return fmt.Errorf("upserting npi response row for %s: %w", r.NPI, err)
		}
	}
	return tx.Commit()
}

// ResponseByNPI returns the cached raw response row for npi, if any.
func (s *Store) ResponseByNPI(ctx context.Context, npi string) (ResponseRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT npi, basic_json, addresses_json, practice_locations_json, taxonomies_json,
			identifiers_json, other_names_json, endpoints_json, url, error_message,
			api_run_id, requested_at_utc, request_params_json, results_json, response_json_raw
		FROM npi_api_responses WHERE npi = ?
	`, npi)
	var r ResponseRow
	var url, apiRunID, requestedAtUTC, requestParamsJSON sql.NullString
	err := row.Scan(&r.NPI, &r.BasicJSON, &r.AddressesJSON, &r.PracticeLocationsJSON, &r.TaxonomiesJSON,
		&r.IdentifiersJSON, &r.OtherNamesJSON, &r.EndpointsJSON, &url, &r.ErrorMessage,
		&apiRunID, &requestedAtUTC, &requestParamsJSON, &r.ResultsJSON, &r.ResponseJSONRaw)
	switch {
	case err == sql.ErrNoRows:
		return ResponseRow{}, false, nil
	case err != nil:
		return ResponseRow{}, false, fmt.Errorf("reading npi api response for %s: %w", npi, err)
	}
	r.URL = url.String
	r.APIRunID = apiRunID.String
	r.RequestedAtUTC = requestedAtUTC.String
	r.RequestParamsJSON = requestParamsJSON.String
	return r, true, nil
}

// IterateUnresolved returns one UnresolvedEntry per key in npis that does
// not carry status "ok" in the cache, sorted by NPI, for triage.
func (s *Store) IterateUnresolved(ctx context.Context, npis []string) ([]UnresolvedEntry, error) {
	stmt, err := s.db.PrepareContext(ctx, `SELECT status, error_message, fetched_at_unix FROM npi_cache WHERE npi = ?`)
	if err != nil {
		return nil, fmt.Errorf("preparing unresolved npi lookup: %w", err)
	}
	defer stmt.Close()

	var out []UnresolvedEntry
	for _, npi := range npis {
		var status string
		var errMsg sql.NullString
		var fetched sql.NullInt64
		err := stmt.QueryRowContext(ctx, npi).Scan(&status, &errMsg, &fetched)
		switch {
		case err == sql.ErrNoRows:
			out = append(out, UnresolvedEntry{NPI: npi, Status: StatusMissing})
		case err != nil:
			return nil, fmt.Errorf("unresolved npi lookup for %s: %w", npi, err)
		case status == string(StatusOK):
			// resolved, omit
		default:
			entry := UnresolvedEntry{NPI: npi, Status: Status(status)}
			if errMsg.Valid {
				entry.ErrorMessage = errMsg.String
			}
			if fetched.Valid {
				v := fetched.Int64
				entry.FetchedAtUnix = &v
			}
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NPI < out[j].NPI })
	return out, nil
}

// ExportMappingCSV writes npi,provider_name,status,fetched_at_unix for
// every ok/not_found row, ordered by npi, via a temp file and atomic
// rename so a reader never observes a partially written mapping.
func (s *Store) ExportMappingCSV(ctx context.Context, outputPath string) error {
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating npi mapping parent dir %s: %w", dir, err)
		}
	}
	tmpPath := outputPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp npi mapping csv %s: %w", tmpPath, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"npi", "provider_name", "status", "fetched_at_unix"}); err != nil {
		f.Close()
		return fmt.Errorf("writing npi mapping csv header: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT npi, COALESCE(provider_name, ''), status, fetched_at_unix
		FROM npi_cache
		WHERE status IN ('ok', 'not_found')
		ORDER BY npi
	`)
	if err != nil {
		f.Close()
		return fmt.Errorf("querying npi mapping rows: %w", err)
	}
	for rows.Next() {
		var npi, providerName, status string
		var fetchedAtUnix int64
		if err := rows.Scan(&npi, &providerName, &status, &fetchedAtUnix); err != nil {
			rows.Close()
			f.Close()
			return fmt.Errorf("reading npi mapping row: %w", err)
		}
		if err := w.Write([]string{npi, providerName, status, strconv.FormatInt(fetchedAtUnix, 10)}); err != nil {
			rows.Close()
			f.Close()
			return fmt.Errorf("writing npi mapping row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		f.Close()
		return fmt.Errorf("iterating npi mapping rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flushing npi mapping csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp npi mapping csv: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("moving temp npi mapping %s to %s: %w", tmpPath, outputPath, err)
	}
	return nil
}
