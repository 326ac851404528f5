package analyticstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// BuildOptions controls which tables get rebuilt unconditionally.
type BuildOptions struct {
	// SpendingSource is the local spending file (.csv or .parquet).
	SpendingSource string
	// NPIParquet and HCPCSParquet are the internal/artifact-written
	// resolved-identifier datasets.
	NPIParquet   string
	HCPCSParquet string
	// GeonamesTxtPath is the GeoNames US.txt postal-code file.
	GeonamesTxtPath string
	// MetaPath is where build.json gets written.
	MetaPath string

	// Rebuild forces every table to be dropped and recreated even if it
	// already exists and passes its validity check.
	Rebuild bool
	// PreferNonNOCOnRebuild is the PreferNonNOCOnRebuild knob (spec.md §9's
	// NOC-supplanting open question), applied whenever hcpcs_info is
	// (re)built from scratch: when true, a non-NOC "ok" row wins over a NOC
	// one for a code's single canonical row; when false, NOC status plays
	// no part and which of a code's "ok" rows is kept is not defined.
	PreferNonNOCOnRebuild bool
}

// Meta is the build summary written to MetaPath, analogous to the
// original's build.json.
type Meta struct {
	BuiltAtUTC      string `json:"built_at_utc"`
	DuckDBPath      string `json:"duckdb_path"`
	ProviderCount   int64  `json:"provider_count"`
	HCPCSCount      int64  `json:"hcpcs_count"`
}

// Build runs every rebuild step in order, skipping a table when it
// already exists, passes its key-validity check, and Rebuild is false
// (spec.md §4.I: "dropped-and-rebuilt when absent or when the caller
// supplies a --rebuild signal, or when a validity check finds rows with
// NULL/empty keys").
func (s *Store) Build(ctx context.Context, opts BuildOptions) (Meta, error) {
	log.Printf("analyticstore: creating parquet views")
	if err := s.CreateOrReplaceViews(ctx, opts.SpendingSource, opts.NPIParquet, opts.HCPCSParquet); err != nil {
		return Meta{}, err
	}

	if err := s.rebuildIfNeeded(ctx, "provider_totals", opts.Rebuild, "", s.RebuildProviderTotals); err != nil {
		return Meta{}, err
	}
	if err := s.rebuildIfNeeded(ctx, "hcpcs_totals", opts.Rebuild, "", s.RebuildHCPCSTotals); err != nil {
		return Meta{}, err
	}
	if err := s.rebuildIfNeeded(ctx, "zip_centroids", opts.Rebuild, "", func(ctx context.Context) error {
		return s.RebuildZipCentroids(ctx, opts.GeonamesTxtPath)
	}); err != nil {
		return Meta{}, err
	}
	if err := s.rebuildIfNeeded(ctx, "provider_info", opts.Rebuild, "", s.RebuildProviderInfo); err != nil {
		return Meta{}, err
	}
	if err := s.rebuildIfNeeded(ctx, "hcpcs_info", opts.Rebuild, "", func(ctx context.Context) error {
		return s.RebuildHCPCSInfo(ctx, opts.PreferNonNOCOnRebuild)
	}); err != nil {
		return Meta{}, err
	}
	if err := s.rebuildIfNeeded(ctx, "provider_search", opts.Rebuild, "npi", s.RebuildProviderSearch); err != nil {
		return Meta{}, err
	}
	if err := s.rebuildIfNeeded(ctx, "hcpcs_search", opts.Rebuild, "hcpcs_code", s.RebuildHCPCSSearch); err != nil {
		return Meta{}, err
	}

	providerCount, err := s.oneInt64(ctx, `SELECT COUNT(*) FROM provider_search`)
	if err != nil {
		return Meta{}, err
	}
	hcpcsCount, err := s.oneInt64(ctx, `SELECT COUNT(*) FROM hcpcs_search`)
	if err != nil {
		return Meta{}, err
	}

	meta := Meta{
		BuiltAtUTC:    time.Now().UTC().Format(time.RFC3339),
		DuckDBPath:    s.path,
		ProviderCount: providerCount,
		HCPCSCount:    hcpcsCount,
	}
	if opts.MetaPath != "" {
		if err := writeMetaJSON(opts.MetaPath, meta); err != nil {
			return meta, err
		}
	}
	log.Printf("analyticstore: build complete (providers=%d hcpcs=%d)", providerCount, hcpcsCount)
	return meta, nil
}

// rebuildIfNeeded runs rebuild when table is missing, force is true, or
// (when keyCol is non-empty) table has rows with a NULL/empty keyCol.
func (s *Store) rebuildIfNeeded(ctx context.Context, table string, force bool, keyCol string, rebuild func(context.Context) error) error {
	exists, err := s.tableExists(ctx, table)
	if err != nil {
		return err
	}
	needsRebuild := force || !exists
	if exists && !force && keyCol != "" {
		bad, err := s.countBadKeys(ctx, table, keyCol)
		if err != nil {
			return err
		}
		if bad > 0 {
			log.Printf("analyticstore: %s has %d rows with NULL/empty %s; rebuilding", table, bad, keyCol)
			needsRebuild = true
		}
	}
	if !needsRebuild {
		log.Printf("analyticstore: %s already exists; skipping", table)
		return nil
	}
	log.Printf("analyticstore: building %s", table)
	return rebuild(ctx)
}

func writeMetaJSON(path string, meta Meta) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating meta dir %s: %w", dir, err)
		}
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling build meta: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("writing build meta to %s: %w", path, err)
	}
	return nil
}
