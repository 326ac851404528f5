// Package fallback loads a local HCPCS/CPT code CSV to seed the cache
// before any API calls are made, and recovers cached not_found codes that
// a fresher local file now covers (spec.md §4.F).
package fallback

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"providerresolve/internal/hcpcsapi"
	"providerresolve/internal/hcpcsstore"
)

var codeAliases = []string{"hcpcs_code", "cpt_code", "procedure_code", "billing_code", "code", "hcpcs", "cpt"}
var shortDescAliases = []string{"short_desc", "short_description", "description_short", "desc_short", "display"}
var longDescAliases = []string{"long_desc", "long_description", "description_long", "description", "desc_long"}
var addDtAliases = []string{"add_dt", "add_date", "effective_from"}
var actEffDtAliases = []string{"act_eff_dt", "act_eff_date", "effective_date", "effective_dt"}
var termDtAliases = []string{"term_dt", "term_date", "end_date"}
var obsoleteAliases = []string{"obsolete", "is_obsolete"}
var isNOCAliases = []string{"is_noc", "noc"}

// Records is every local fallback record, keyed by normalized HCPCS code.
type Records map[string][]hcpcsapi.Record

// Load reads path (a CSV with at least a code column and one of a
// short/long description column) into Records. A missing file is not an
// error; it simply yields no records, matching the pipeline's
// fallback-is-optional behavior.
func Load(path string) (Records, error) {
	out := Records{}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("opening local hcpcs fallback csv %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	headers, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading local hcpcs fallback headers %s: %w", path, err)
	}
	idx := headerIndex(headers)

	codeIdx, ok := findHeaderIndex(idx, codeAliases)
	if !ok {
		return nil, fmt.Errorf("local hcpcs fallback csv %s is missing a code column (expected one of: %s)", path, strings.Join(codeAliases, ", "))
	}
	shortIdx, hasShort := findHeaderIndex(idx, shortDescAliases)
	longIdx, hasLong := findHeaderIndex(idx, longDescAliases)
	addIdx, hasAdd := findHeaderIndex(idx, addDtAliases)
	actEffIdx, hasActEff := findHeaderIndex(idx, actEffDtAliases)
	termIdx, hasTerm := findHeaderIndex(idx, termDtAliases)
	obsoleteIdx, hasObsolete := findHeaderIndex(idx, obsoleteAliases)
	isNOCIdx, hasIsNOC := findHeaderIndex(idx, isNOCAliases)

	seen := make(map[string]map[hcpcsapi.Record]bool)

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading local hcpcs fallback row %s: %w", path, err)
		}
		code := hcpcsapi.NormalizeCode(fieldAt(row, codeIdx, true))
		code = normalizeFiveCharCode(code)
		if code == "" {
			continue
		}

		shortDesc := fieldAt(row, shortIdx, hasShort)
		longDesc := fieldAt(row, longIdx, hasLong)
		if shortDesc == "" && longDesc == "" {
			continue
		}
		if shortDesc == "" {
			shortDesc = longDesc
		}
		if longDesc == "" {
			longDesc = shortDesc
		}

		rec := hcpcsapi.Record{
			HCPCSCode: code,
			ShortDesc: shortDesc,
			LongDesc:  longDesc,
			AddDt:     fieldAt(row, addIdx, hasAdd),
			ActEffDt:  fieldAt(row, actEffIdx, hasActEff),
			TermDt:    fieldAt(row, termIdx, hasTerm),
			Obsolete:  parseBoolish(fieldAt(row, obsoleteIdx, hasObsolete)),
			IsNOC:     parseBoolish(fieldAt(row, isNOCIdx, hasIsNOC)),
		}

		if seen[code] == nil {
			seen[code] = make(map[hcpcsapi.Record]bool)
		}
		if seen[code][rec] {
			continue
		}
		seen[code][rec] = true
		out[code] = append(out[code], rec)
	}
	return out, nil
}

// normalizeFiveCharCode mirrors the original spend-file code normalization
// (strip a trailing ".0" left by spreadsheet exports, require exactly 5
// alphanumeric characters) so fallback keys line up with cache keys.
func normalizeFiveCharCode(code string) string {
	code = strings.TrimSuffix(code, ".0")
	if len(code) != 5 {
		return ""
	}
	for _, r := range code {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'Z') {
			return ""
		}
	}
	return code
}

// SeedCache inserts an "ok" row set for every code in targetCodes that the
// local fallback covers and that has no "ok" row in the cache yet (a cached
// not_found row is replaced), and reports how many codes were seeded.
func SeedCache(ctx context.Context, store *hcpcsstore.Store, targetCodes []string, records Records) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	seeded := 0
	for _, code := range targetCodes {
		key := hcpcsapi.NormalizeCode(code)
		recs, ok := records[key]
		if !ok {
			continue
		}
		hasOK, err := store.HasOKRecord(ctx, code)
		if err != nil {
			return seeded, err
		}
		if hasOK {
			continue
		}
		if err := store.ReplaceWithOKRecords(ctx, code, toStoreRecords(recs)); err != nil {
			return seeded, fmt.Errorf("seeding hcpcs cache for %s: %w", code, err)
		}
		seeded++
	}
	return seeded, nil
}

// RecheckNotFound re-examines every cached not_found HCPCS code against
// the local fallback and recovers it to "ok" if the fallback now has a
// match, reporting how many codes were checked and how many recovered.
func RecheckNotFound(ctx context.Context, store *hcpcsstore.Store, targetCodes []string, records Records) (checked, recovered int, err error) {
	if len(targetCodes) == 0 || len(records) == 0 {
		return 0, 0, nil
	}
	for _, code := range targetCodes {
		key := hcpcsapi.NormalizeCode(code)
		unresolved, err := store.IterateUnresolved(ctx, []string{code})
		if err != nil {
			return checked, recovered, err
		}
		if len(unresolved) == 0 || unresolved[0].Status != hcpcsstore.StatusNotFound {
			continue
		}
		// A mixed-case legacy row could leave an ok row behind under a
		// different case than the not_found sentinel; skip rather than churn it.
		hasOK, err := store.HasOKRecord(ctx, code)
		if err != nil {
			return checked, recovered, err
		}
		if hasOK {
			continue
		}
		checked++
		recs, ok := records[key]
		if !ok {
			continue
		}
		if err := store.ReplaceWithOKRecords(ctx, code, toStoreRecords(recs)); err != nil {
			return checked, recovered, fmt.Errorf("recovering hcpcs cache for %s: %w", code, err)
		}
		recovered++
	}
	return checked, recovered, nil
}

func toStoreRecords(recs []hcpcsapi.Record) []hcpcsstore.Record {
	out := make([]hcpcsstore.Record, len(recs))
	for i, r := range recs {
		out[i] = hcpcsstore.Record{
			HCPCSCode: r.HCPCSCode,
			ShortDesc: r.ShortDesc,
			LongDesc:  r.LongDesc,
			AddDt:     r.AddDt,
			ActEffDt:  r.ActEffDt,
			TermDt:    r.TermDt,
			Obsolete:  strconv.FormatBool(r.Obsolete),
			IsNOC:     strconv.FormatBool(r.IsNOC),
		}
	}
	return out
}

func parseBoolish(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "t", "yes", "y":
		return true
	default:
		return false
	}
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[normalizeHeaderName(h)] = i
	}
	return idx
}

func normalizeHeaderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return name
}

func findHeaderIndex(idx map[string]int, aliases []string) (int, bool) {
	for _, alias := range aliases {
		if i, ok := idx[normalizeHeaderName(alias)]; ok {
			return i, true
		}
	}
	return 0, false
}

func fieldAt(row []string, idx int, present bool) string {
	if !present || idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
