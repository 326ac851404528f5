// Package hcpcsstore is the SQLite-backed cache for HCPCS/CPT code
// lookups (spec.md §4.B). Unlike npistore, a single code can legitimately
// carry multiple "ok" rows (distinct description variants over time), so
// every write replaces the full row set for a code with delete-then-insert
// semantics rather than a single-row upsert.
package hcpcsstore

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
	StatusMissing  Status = "missing_cache"
)

const schema = `
PRAGMA journal_mode = WAL;
CREATE TABLE IF NOT EXISTS hcpcs_cache (
	hcpcs_code TEXT NOT NULL,
	short_desc TEXT NOT NULL DEFAULT '',
	long_desc TEXT NOT NULL DEFAULT '',
	add_dt TEXT NOT NULL DEFAULT '',
	act_eff_dt TEXT NOT NULL DEFAULT '',
	term_dt TEXT NOT NULL DEFAULT '',
	obsolete TEXT NOT NULL DEFAULT '',
	is_noc TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	fetched_at_unix INTEGER NOT NULL,
	PRIMARY KEY (
		hcpcs_code, short_desc, long_desc, add_dt, act_eff_dt, term_dt, obsolete, is_noc, status
	)
);
CREATE INDEX IF NOT EXISTS idx_hcpcs_cache_code_status ON hcpcs_cache(hcpcs_code, status);
`

// Record is one HCPCS/CPT row as returned by the upstream Clinical Tables
// API, ready to become an "ok" cache row.
type Record struct {
	HCPCSCode string
	ShortDesc string
	LongDesc  string
	AddDt     string
	ActEffDt  string
	TermDt    string
	Obsolete  string
	IsNOC     string
}

// UnresolvedEntry describes one code still lacking an "ok" row, for triage.
type UnresolvedEntry struct {
	Code          string
	Status        Status
	ErrorMessage  string
	FetchedAtUnix *int64
}

type Store struct {
	db *sql.DB
}

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
		return nil, fmt.Errorf("initializing hcpcs cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Classify reports how many of codes already resolved to ok/not_found
// (case-insensitively), and returns the remainder.
func (s *Store) Classify(ctx context.Context, codes []string) (resolved int, missing []string, err error) {
	stmt, err := s.db.PrepareContext(ctx, `
		SELECT 1 FROM hcpcs_cache
		WHERE hcpcs_code = ? COLLATE NOCASE AND status IN ('ok', 'not_found')
		LIMIT 1
	`)
	if err != nil {
		return 0, nil, fmt.Errorf("preparing hcpcs classify lookup: %w", err)
	}
	defer stmt.Close()

	for _, code := range codes {
		var exists int
		err := stmt.QueryRowContext(ctx, code).Scan(&exists)
		switch {
		case err == sql.ErrNoRows:
			missing = append(missing, code)
		case err != nil:
			return 0, nil, fmt.Errorf("classifying hcpcs code %s: %w", code, err)
		default:
			resolved++
		}
	}
	return resolved, missing, nil
}

// HasOKRecord reports whether code already carries at least one "ok" row,
// used by the local-fallback seeder to avoid overwriting an
// already-resolved code.
func (s *Store) HasOKRecord(ctx context.Context, code string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM hcpcs_cache WHERE hcpcs_code = ? COLLATE NOCASE AND status = 'ok' LIMIT 1
	`, code).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("checking hcpcs ok record for %s: %w", code, err)
	default:
		return true, nil
	}
}

// ReplaceWithOKRecords clears any existing rows for code and inserts one
// "ok" row per record, so a code resolving to several description
// variants keeps all of them.
func (s *Store) ReplaceWithOKRecords(ctx context.Context, code string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting hcpcs replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM hcpcs_cache WHERE hcpcs_code = ? COLLATE NOCASE`, code); err != nil {
		return fmt.Errorf("clearing hcpcs cache rows for %s: %w", code, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO hcpcs_cache (
			hcpcs_code, short_desc, long_desc, add_dt, act_eff_dt, term_dt, obsolete, is_noc,
			status, error_message, fetched_at_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'ok', '', ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing hcpcs ok insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.HCPCSCode, r.ShortDesc, r.LongDesc, r.AddDt, r.ActEffDt, r.TermDt, r.Obsolete, r.IsNOC, now); err != nil {
			return fmt.Errorf("inserting hcpcs ok row for %s: %w", code, err)
		}
	}
	return tx.Commit()
}

// SetNotFound clears any existing rows for code and inserts a single
// not_found sentinel.
func (s *Store) SetNotFound(ctx context.Context, code, reason string) error {
	return s.replaceWithSentinel(ctx, code, string(StatusNotFound), reason)
}

// SetError clears any existing rows for code and inserts a single error
// sentinel.
func (s *Store) SetError(ctx context.Context, code, message string) error {
	return s.replaceWithSentinel(ctx, code, string(StatusError), truncateForLog(message))
}

func (s *Store) replaceWithSentinel(ctx context.Context, code, status, message string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting hcpcs sentinel transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM hcpcs_cache WHERE hcpcs_code = ? COLLATE NOCASE`, code); err != nil {
		return fmt.Errorf("clearing hcpcs cache rows for %s: %w", code, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO hcpcs_cache (
			hcpcs_code, short_desc, long_desc, add_dt, act_eff_dt, term_dt, obsolete, is_noc,
			status, error_message, fetched_at_unix
		) VALUES (?, '', '', '', '', '', '', '', ?, ?, ?)
	`, code, status, message, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("inserting hcpcs %s sentinel for %s: %w", status, code, err)
	}
	return tx.Commit()
}

// truncateForLog caps an error message at 300 bytes before it is stored,
// matching the upstream client's own log-truncation limit.
func truncateForLog(message string) string {
	trimmed := strings.TrimSpace(message)
	const limit = 300
	if len(trimmed) <= limit {
		return trimmed
	}
	return trimmed[:limit] + "..."
}

// RowsByCode returns every cached row for code: the full "ok" record set
// when resolved, or the single not_found/error sentinel's status and
// message otherwise. found is false if code has no cache row at all.
func (s *Store) RowsByCode(ctx context.Context, code string) (records []Record, status Status, errorMessage string, found bool, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT short_desc, long_desc, add_dt, act_eff_dt, term_dt, obsolete, is_noc, status, error_message
		FROM hcpcs_cache WHERE hcpcs_code = ? COLLATE NOCASE
	`, code)
	if err != nil {
		return nil, "", "", false, fmt.Errorf("querying hcpcs rows for %s: %w", code, err)
	}
	defer rows.Close()

	for rows.Next() {
		var shortDesc, longDesc, addDt, actEffDt, termDt, obsolete, isNOC, rowStatus, errMsg string
		if err := rows.Scan(&shortDesc, &longDesc, &addDt, &actEffDt, &termDt, &obsolete, &isNOC, &rowStatus, &errMsg); err != nil {
			return nil, "", "", false, fmt.Errorf("reading hcpcs row for %s: %w", code, err)
		}
		found = true
		status = Status(rowStatus)
		errorMessage = errMsg
		if rowStatus == string(StatusOK) {
			records = append(records, Record{
				HCPCSCode: code, ShortDesc: shortDesc, LongDesc: longDesc,
				AddDt: addDt, ActEffDt: actEffDt, TermDt: termDt, Obsolete: obsolete, IsNOC: isNOC,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", "", false, fmt.Errorf("iterating hcpcs rows for %s: %w", code, err)
	}
	return records, status, errorMessage, found, nil
}

// IterateUnresolved returns one UnresolvedEntry per key in codes that
// carries no "ok" row, sorted by code.
func (s *Store) IterateUnresolved(ctx context.Context, codes []string) ([]UnresolvedEntry, error) {
	stmt, err := s.db.PrepareContext(ctx, `
		SELECT status, error_message, fetched_at_unix FROM hcpcs_cache
		WHERE hcpcs_code = ? COLLATE NOCASE
		ORDER BY status = 'ok' DESC
		LIMIT 1
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing unresolved hcpcs lookup: %w", err)
	}
	defer stmt.Close()

	var out []UnresolvedEntry
	for _, code := range codes {
		var status, errMsg string
		var fetched int64
		err := stmt.QueryRowContext(ctx, code).Scan(&status, &errMsg, &fetched)
		switch {
		case err == sql.ErrNoRows:
			out = append(out, UnresolvedEntry{Code: code, Status: StatusMissing})
		case err != nil:
			return nil, fmt.Errorf("unresolved hcpcs lookup for %s: %w", code, err)
		case status == string(StatusOK):
			// resolved, omit
		default:
			entry := UnresolvedEntry{Code: code, Status: Status(status), ErrorMessage: errMsg}
			f := fetched
			entry.FetchedAtUnix = &f
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// ExportMappingCSV writes one row per successful HCPCS record
// (hcpcs_code, short_desc, long_desc, add_dt, act_eff_dt, term_dt,
// obsolete, is_noc, status, fetched_at_unix), via temp file and atomic
// rename. Both NOC and non-NOC rows are exported; the tie-break between
// them happens later during analytic-store enrichment
// (internal/analyticstore), not here.
func (s *Store) ExportMappingCSV(ctx context.Context, outputPath string) error {
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating hcpcs mapping parent dir %s: %w", dir, err)
		}
	}
	tmpPath := outputPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp hcpcs mapping csv %s: %w", tmpPath, err)
	}
	w := csv.NewWriter(f)
	header := []string{"hcpcs_code", "short_desc", "long_desc", "add_dt", "act_eff_dt", "term_dt", "obsolete", "is_noc", "status", "fetched_at_unix"}
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("writing hcpcs mapping csv header: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT hcpcs_code, short_desc, long_desc, add_dt, act_eff_dt, term_dt, obsolete, is_noc, status, fetched_at_unix
		FROM hcpcs_cache
		WHERE status = 'ok'
		ORDER BY hcpcs_code, is_noc
	`)
	if err != nil {
		f.Close()
		return fmt.Errorf("querying hcpcs mapping rows: %w", err)
	}
	for rows.Next() {
		var code, shortDesc, longDesc, addDt, actEffDt, termDt, obsolete, isNOC, status string
		var fetchedAtUnix int64
		if err := rows.Scan(&code, &shortDesc, &longDesc, &addDt, &actEffDt, &termDt, &obsolete, &isNOC, &status, &fetchedAtUnix); err != nil {
			rows.Close()
			f.Close()
			return fmt.Errorf("reading hcpcs mapping row: %w", err)
		}
		rec := []string{code, shortDesc, longDesc, addDt, actEffDt, termDt, obsolete, isNOC, status, strconv.FormatInt(fetchedAtUnix, 10)}
		if err := w.Write(rec); err != nil {
			rows.Close()
			f.Close()
			return fmt.Errorf("writing hcpcs mapping row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		f.Close()
		return fmt.Errorf("iterating hcpcs mapping rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flushing hcpcs mapping csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp hcpcs mapping csv: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("moving temp hcpcs mapping %s to %s: %w", tmpPath, outputPath, err)
	}
	return nil
}
