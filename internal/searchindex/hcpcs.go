// Package searchindex builds and queries the bleve inverted indexes that
// back provider and HCPCS code search.
package searchindex

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"

	"providerresolve/internal/analyticstore"
)

// keywordAnalyzer is the bleve analyzer name for untokenized exact-match
// fields (NPI, HCPCS code, state, taxonomy code) — the bleve analog of
// Tantivy's STRING field option.
const keywordAnalyzer = "keyword"

// HCPCSSort selects the ordering of an HCPCS search's results.
type HCPCSSort int

const (
	HCPCSRelevance HCPCSSort = iota
	HCPCSPaidDesc
	HCPCSPaidAsc
	HCPCSClaimsDesc
	HCPCSClaimsAsc
)

// HCPCSQuery is one HCPCS search request.
type HCPCSQuery struct {
	Q        string
	Sort     HCPCSSort
	Page     int
	PageSize int
}

// HCPCSHit is one HCPCS search result.
type HCPCSHit struct {
	HCPCSCode   string  `json:"hcpcs_code"`
	ShortDesc   *string `json:"short_desc,omitempty"`
	LongDesc    *string `json:"long_desc,omitempty"`
	PaidTotal   float64 `json:"paid_total"`
	ClaimsTotal int64   `json:"claims_total"`
	BeneTotal   int64   `json:"bene_total"`
}

// HCPCSResponse is the result of an HCPCS search.
type HCPCSResponse struct {
	TotalHits int        `json:"total_hits"`
	Hits      []HCPCSHit `json:"hits"`
}

// HCPCSEngine serves queries against an open HCPCS bleve index.
type HCPCSEngine struct {
	index bleve.Index
}

// OpenHCPCSEngine opens a previously built HCPCS index directory.
func OpenHCPCSEngine(indexDir string) (*HCPCSEngine, error) {
	idx, err := bleve.Open(indexDir)
	if err != nil {
		return nil, fmt.Errorf("opening hcpcs index at %s: %w", indexDir, err)
	}
	return &HCPCSEngine{index: idx}, nil
}

// Close releases the underlying index handle.
func (e *HCPCSEngine) Close() error { return e.index.Close() }

var hcpcsStoredFields = []string{"hcpcs_code", "short_desc", "long_desc", "paid_total", "claims_total", "bene_total"}

// Search runs q against the index, returning a page of hits.
func (e *HCPCSEngine) Search(q HCPCSQuery) (HCPCSResponse, error) {
	query := buildHCPCSQuery(q.Q)
	pageSize := clampInt(q.PageSize, 1, 200)
	offset := q.Page * pageSize
	if q.Page < 0 {
		offset = 0
	}

	req := bleve.NewSearchRequestOptions(query, pageSize, offset, false)
	req.Fields = hcpcsStoredFields

	switch q.Sort {
	case HCPCSPaidDesc:
		req.SortBy([]string{"-paid_total"})
	case HCPCSPaidAsc:
		req.SortBy([]string{"paid_total"})
	case HCPCSClaimsDesc:
		req.SortBy([]string{"-claims_total"})
	case HCPCSClaimsAsc:
		req.SortBy([]string{"claims_total"})
	}

	result, err := e.index.Search(req)
	if err != nil {
		return HCPCSResponse{}, fmt.Errorf("searching hcpcs index: %w", err)
	}

	hits := make([]HCPCSHit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, hcpcsDocToHit(h))
	}
	return HCPCSResponse{TotalHits: int(result.Total), Hits: hits}, nil
}

// SearchSimple is the global-search shortcut: relevance-only, small limit.
func (e *HCPCSEngine) SearchSimple(q string, limit int) ([]HCPCSHit, error) {
	limit = clampInt(limit, 1, 50)
	req := bleve.NewSearchRequestOptions(buildHCPCSQuery(q), limit, 0, false)
	req.Fields = hcpcsStoredFields
	result, err := e.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching hcpcs index: %w", err)
	}
	hits := make([]HCPCSHit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, hcpcsDocToHit(h))
	}
	return hits, nil
}

func buildHCPCSQuery(q string) bleve.Query {
	q = strings.TrimSpace(q)
	if q == "" {
		return bleve.NewMatchAllQuery()
	}
	codeTerm := bleve.NewTermQuery(strings.ToUpper(q))
	codeTerm.SetField("hcpcs_code")
	text := bleve.NewDisjunctionQuery(
		fieldMatch("short_desc", q),
		fieldMatch("long_desc", q),
		codeTerm,
	)
	return text
}

func fieldMatch(field, q string) bleve.Query {
	m := bleve.NewMatchQuery(q)
	m.SetField(field)
	return m
}

func hcpcsDocToHit(h *search.DocumentMatch) HCPCSHit {
	return HCPCSHit{
		HCPCSCode:   fieldString(h.Fields, "hcpcs_code"),
		ShortDesc:   fieldStringPtr(h.Fields, "short_desc"),
		LongDesc:    fieldStringPtr(h.Fields, "long_desc"),
		PaidTotal:   fieldFloat(h.Fields, "paid_total"),
		ClaimsTotal: int64(fieldFloat(h.Fields, "claims_total")),
		BeneTotal:   int64(fieldFloat(h.Fields, "bene_total")),
	}
}

func hcpcsIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultMapping = bleve.NewDocumentMapping()

	code := bleve.NewTextFieldMapping()
	code.Analyzer = keywordAnalyzer
	code.Store = true

	text := bleve.NewTextFieldMapping()
	text.Store = true

	num := bleve.NewNumericFieldMapping()
	num.Store = true

	im.DefaultMapping.AddFieldMappingsAt("hcpcs_code", code)
	im.DefaultMapping.AddFieldMappingsAt("short_desc", text)
	im.DefaultMapping.AddFieldMappingsAt("long_desc", text)
	im.DefaultMapping.AddFieldMappingsAt("paid_total", num)
	im.DefaultMapping.AddFieldMappingsAt("claims_total", num)
	im.DefaultMapping.AddFieldMappingsAt("bene_total", num)
	return im
}

// BuildHCPCSIndex (re)builds the HCPCS bleve index from hcpcs_search,
// skipping the rebuild when a previous build's _SUCCESS marker is
// already present and rebuild is false.
func BuildHCPCSIndex(ctx context.Context, store *analyticstore.Store, indexDir string, rebuild bool) error {
	successMarker := filepath.Join(indexDir, "_SUCCESS")
	if _, err := os.Stat(indexDir); err == nil && !rebuild {
		if _, err := os.Stat(successMarker); err == nil {
			log.Printf("hcpcs index already exists at %s; skipping", indexDir)
			return nil
		}
		log.Printf("hcpcs index dir exists but is missing _SUCCESS (previous build likely failed); rebuilding")
		if err := os.RemoveAll(indexDir); err != nil {
			return fmt.Errorf("removing stale hcpcs index dir: %w", err)
		}
	} else if rebuild {
		if err := os.RemoveAll(indexDir); err != nil {
			return fmt.Errorf("removing hcpcs index dir: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(indexDir), 0o755); err != nil {
		return fmt.Errorf("creating hcpcs index parent dir: %w", err)
	}

	idx, err := bleve.New(indexDir, hcpcsIndexMapping())
	if err != nil {
		return fmt.Errorf("creating hcpcs index: %w", err)
	}
	defer idx.Close()

	rows, err := store.AllHCPCSSearch(ctx)
	if err != nil {
		return fmt.Errorf("scanning hcpcs_search: %w", err)
	}

	batch := idx.NewBatch()
	var count, skipped int
	for _, r := range rows {
		code := strings.TrimSpace(r.HCPCSCode)
		if code == "" {
			skipped++
			continue
		}
		doc := map[string]any{
			"hcpcs_code":   code,
			"paid_total":   r.PaidTotal,
			"claims_total": r.ClaimsTotal,
			"bene_total":   r.BeneTotal,
		}
		if r.ShortDesc.Valid && strings.TrimSpace(r.ShortDesc.String) != "" {
			doc["short_desc"] = r.ShortDesc.String
		}
		if r.LongDesc.Valid && strings.TrimSpace(r.LongDesc.String) != "" {
			doc["long_desc"] = r.LongDesc.String
		}
		if err := batch.Index(code, doc); err != nil {
			return fmt.Errorf("indexing hcpcs doc %s: %w", code, err)
		}
		count++
		if batch.Size() >= 1000 {
			if err := idx.Batch(batch); err != nil {
				return fmt.Errorf("committing hcpcs batch: %w", err)
			}
			batch = idx.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			return fmt.Errorf("committing final hcpcs batch: %w", err)
		}
	}
	if skipped > 0 {
		log.Printf("skipped %d hcpcs_search rows with empty hcpcs_code", skipped)
	}
	log.Printf("committed hcpcs index (%d docs)", count)

	if err := os.WriteFile(successMarker, []byte("ok\n"), 0o644); err != nil {
		return fmt.Errorf("writing hcpcs index success marker: %w", err)
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func fieldString(fields map[string]any, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

func fieldStringPtr(fields map[string]any, name string) *string {
	if v, ok := fields[name].(string); ok && v != "" {
		return &v
	}
	return nil
}

func fieldFloat(fields map[string]any, name string) float64 {
	switch v := fields[name].(type) {
	case float64:
		return v
	default:
		return 0
	}
}
