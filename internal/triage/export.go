package triage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// UnresolvedRow is one row of the unresolved-identifiers CSV the resolve
// pipeline emits ([[internal/npistore]]/[[internal/hcpcsstore]]
// IterateUnresolved output, concatenated across both identifier kinds).
type UnresolvedRow struct {
	IdentifierType string
	Identifier     string
	Status         string
	ErrorMessage   string
	FetchedAtUnix  string
}

type triageRow struct {
	UnresolvedRow
	Classification
	IdentifierNorm string
}

// Summary reports how many rows of each identifier kind were triaged and
// how many of those need a human review pass.
type Summary struct {
	HCPCSRows            int
	HCPCSNeedsReviewRows int
	NPIRows              int
	NPINeedsReviewRows   int
}

var unresolvedHeader = []string{"identifier_type", "identifier", "status", "error_message", "fetched_at_unix"}

func readUnresolvedRows(inputCSV string) ([]UnresolvedRow, error) {
	f, err := os.Open(inputCSV)
	if err != nil {
		return nil, fmt.Errorf("opening unresolved identifiers csv %s: %w", inputCSV, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	headers, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading unresolved identifiers header %s: %w", inputCSV, err)
	}
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.TrimSpace(h)] = i
	}

	var rows []UnresolvedRow
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading unresolved identifiers row %s: %w", inputCSV, err)
		}
		rows = append(rows, UnresolvedRow{
			IdentifierType: fieldAt(record, idx, "identifier_type"),
			Identifier:     fieldAt(record, idx, "identifier"),
			Status:         fieldAt(record, idx, "status"),
			ErrorMessage:   fieldAt(record, idx, "error_message"),
			FetchedAtUnix:  fieldAt(record, idx, "fetched_at_unix"),
		})
	}
	return rows, nil
}

func fieldAt(record []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

// WriteUnresolvedTriage reads inputCSV (the combined unresolved-NPI and
// unresolved-HCPCS export), classifies every row, and writes the review
// CSVs into outDir: per-identifier-type listings with inferred code
// shapes, the subset needing human review, and unique-value/prefix
// breakdowns of the review subset to make bulk triage tractable.
func WriteUnresolvedTriage(inputCSV, outDir string) (Summary, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("creating triage output dir %s: %w", outDir, err)
	}

	rows, err := readUnresolvedRows(inputCSV)
	if err != nil {
		return Summary{}, err
	}

	var hcpcsRows, npiRows []triageRow
	for _, row := range rows {
		idType := strings.TrimSpace(row.IdentifierType)
		norm := NormalizeIdentifier(row.Identifier)
		switch {
		case strings.EqualFold(idType, "hcpcs"):
			hcpcsRows = append(hcpcsRows, triageRow{row, ClassifyHCPCS(row.Identifier), norm})
		case strings.EqualFold(idType, "npi"):
			npiRows = append(npiRows, triageRow{row, ClassifyNPI(row.Identifier), norm})
		}
	}

	if err := writeHCPCSOutputs(outDir, hcpcsRows); err != nil {
		return Summary{}, err
	}
	hcpcsUnmapped := filterTriage(hcpcsRows, func(r triageRow) bool { return hcpcsNeedsReview(r.InferredCodeType) })
	if err := writeHCPCSReview(outDir, hcpcsRows, hcpcsUnmapped); err != nil {
		return Summary{}, err
	}

	if err := writeTriageRows(filepath.Join(outDir, "npi_identifiers_with_inferred_types.csv"), npiRows); err != nil {
		return Summary{}, err
	}
	npiUnmapped := filterTriage(npiRows, func(r triageRow) bool { return npiNeedsReview(r.InferredCodeType) })
	if err := writeTriageRows(filepath.Join(outDir, "npi_unmapped_rows.csv"), npiUnmapped); err != nil {
		return Summary{}, err
	}
	if err := writeUniqueCounts(filepath.Join(outDir, "npi_unmapped_unique_counts.csv"), npiUnmapped); err != nil {
		return Summary{}, err
	}

	return Summary{
		HCPCSRows:            len(hcpcsRows),
		HCPCSNeedsReviewRows: len(hcpcsUnmapped),
		NPIRows:              len(npiRows),
		NPINeedsReviewRows:   len(npiUnmapped),
	}, nil
}

func filterTriage(rows []triageRow, keep func(triageRow) bool) []triageRow {
	var out []triageRow
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func writeHCPCSOutputs(outDir string, rows []triageRow) error {
	// Both files carry the same rows; downstream review tooling reads
	// whichever name matches its own generation, so both are kept.
	if err := writeTriageRows(filepath.Join(outDir, "hcpcs_identifiers_with_type.csv"), rows); err != nil {
		return err
	}
	return writeTriageRows(filepath.Join(outDir, "hcpcs_identifiers_with_inferred_types.csv"), rows)
}

// writeHCPCSReview writes the needs-review listing and its derived
// unique/prefix breakdowns. allRows is every classified HCPCS row
// (concat-shape counting spans resolved-structure rows too, not just the
// needs-review subset); unmapped is allRows filtered to hcpcsNeedsReview.
func writeHCPCSReview(outDir string, allRows, unmapped []triageRow) error {
	if err := writeTriageRows(filepath.Join(outDir, "hcpcs_unmapped_rows.csv"), unmapped); err != nil {
		return err
	}
	if err := writeUniqueCounts(filepath.Join(outDir, "hcpcs_unmapped_unique_counts.csv"), unmapped); err != nil {
		return err
	}

	var unknownOnly []triageRow
	for _, r := range unmapped {
		if r.InferredCodeType == "unknown" || r.InferredCodeType == "alphanum_5char_unknown" {
			unknownOnly = append(unknownOnly, r)
		}
	}
	unknownCounts := countBy(unknownOnly, func(r triageRow) string { return r.IdentifierNorm })
	unknownItems := sortedCounts(unknownCounts)
	if err := writeUnknownWithPrefixes(filepath.Join(outDir, "hcpcs_unknown_unique_with_prefixes.csv"), unknownItems); err != nil {
		return err
	}
	if err := writePrefix2Counts(filepath.Join(outDir, "hcpcs_unknown_prefix2_counts.csv"), unknownItems); err != nil {
		return err
	}

	return writeConcatUniqueCounts(outDir, allRows)
}

func countBy(rows []triageRow, key func(triageRow) string) map[string]int {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[key(r)]++
	}
	return counts
}

type countItem struct {
	Key   string
	Count int
}

func sortedCounts(counts map[string]int) []countItem {
	items := make([]countItem, 0, len(counts))
	for k, v := range counts {
		items = append(items, countItem{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Key < items[j].Key
	})
	return items
}

func writeUnknownWithPrefixes(path string, items []countItem) error {
	return writeCSV(path, []string{"identifier_norm", "count", "len", "prefix2", "prefix3"}, func(w *csv.Writer) error {
		for _, item := range items {
			runes := []rune(item.Key)
			prefix2 := string(runes[:min(2, len(runes))])
			prefix3 := string(runes[:min(3, len(runes))])
			if err := w.Write([]string{item.Key, strconv.Itoa(item.Count), strconv.Itoa(len(runes)), prefix2, prefix3}); err != nil {
				return err
			}
		}
		return nil
	})
}

func writePrefix2Counts(path string, items []countItem) error {
	prefix2Counts := make(map[string]int)
	for _, item := range items {
		runes := []rune(item.Key)
		prefix2 := string(runes[:min(2, len(runes))])
		prefix2Counts[prefix2] += item.Count
	}
	prefix2Items := sortedCounts(prefix2Counts)
	return writeCSV(path, []string{"prefix2", "count"}, func(w *csv.Writer) error {
		for _, item := range prefix2Items {
			if err := w.Write([]string{item.Key, strconv.Itoa(item.Count)}); err != nil {
				return err
			}
		}
		return nil
	})
}

type concatKey struct {
	identifierNorm   string
	inferredCodeType string
	baseCode         string
	suffixOrModifier string
}

func writeConcatUniqueCounts(outDir string, allHCPCSRows []triageRow) error {
	counts := make(map[concatKey]int)
	for _, r := range allHCPCSRows {
		if !hcpcsConcatType(r.InferredCodeType) {
			continue
		}
		counts[concatKey{r.IdentifierNorm, r.InferredCodeType, r.BaseCode, r.SuffixOrModifier}]++
	}
	type item struct {
		key   concatKey
		count int
	}
	items := make([]item, 0, len(counts))
	for k, v := range counts {
		items = append(items, item{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].key.identifierNorm < items[j].key.identifierNorm
	})
	path := filepath.Join(outDir, "hcpcs_concat_unique_counts.csv")
	return writeCSV(path, []string{"identifier_norm", "inferred_code_type", "base_code", "suffix_or_modifier", "count"}, func(w *csv.Writer) error {
		for _, it := range items {
			if err := w.Write([]string{it.key.identifierNorm, it.key.inferredCodeType, it.key.baseCode, it.key.suffixOrModifier, strconv.Itoa(it.count)}); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeUniqueCounts(path string, rows []triageRow) error {
	type key struct {
		identifierNorm   string
		inferredCodeType string
	}
	counts := make(map[key]int)
	for _, r := range rows {
		counts[key{r.IdentifierNorm, r.InferredCodeType}]++
	}
	type item struct {
		key   key
		count int
	}
	items := make([]item, 0, len(counts))
	for k, v := range counts {
		items = append(items, item{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].key.identifierNorm < items[j].key.identifierNorm
	})
	return writeCSV(path, []string{"identifier_norm", "inferred_code_type", "count"}, func(w *csv.Writer) error {
		for _, it := range items {
			if err := w.Write([]string{it.key.identifierNorm, it.key.inferredCodeType, strconv.Itoa(it.count)}); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeTriageRows(path string, rows []triageRow) error {
	header := append(append([]string{}, unresolvedHeader...), "inferred_code_type", "base_code", "suffix_or_modifier", "identifier_norm")
	return writeCSV(path, header, func(w *csv.Writer) error {
		for _, r := range rows {
			if err := w.Write([]string{
				r.IdentifierType, r.Identifier, r.Status, r.ErrorMessage, r.FetchedAtUnix,
				r.InferredCodeType, r.BaseCode, r.SuffixOrModifier, r.IdentifierNorm,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeCSV(path string, header []string, body func(*csv.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing header to %s: %w", path, err)
	}
	if err := body(w); err != nil {
		return fmt.Errorf("writing rows to %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
