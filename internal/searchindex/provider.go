package searchindex

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"

	"providerresolve/internal/analyticstore"
)

// Role scopes which paid/claims/bene columns a provider query's numeric
// filters and relevance-free sorts apply to.
type Role int

const (
	RoleTotal Role = iota
	RoleBilling
	RoleServicing
)

// RoleFieldNames returns the (paid, claims, bene) field names a role maps
// to in the provider index, mirroring the three role-qualified column
// triples the analytical store's provider_search table carries.
func RoleFieldNames(r Role) (paid, claims, bene string) {
	switch r {
	case RoleBilling:
		return "paid_billing", "claims_billing", "bene_billing"
	case RoleServicing:
		return "paid_servicing", "claims_servicing", "bene_servicing"
	default:
		return "paid_total", "claims_total", "bene_total"
	}
}

// ProviderSort selects the ordering of a provider search's results.
type ProviderSort int

const (
	ProviderRelevance ProviderSort = iota
	ProviderPaidDesc
	ProviderPaidAsc
	ProviderClaimsDesc
	ProviderClaimsAsc
	ProviderNameAsc
)

// ProviderQuery is one provider search request.
type ProviderQuery struct {
	Q               string
	States          []string
	TaxonomyCodes   []string
	EnumerationType string // "" for either, "NPI-1" or "NPI-2" to filter
	Role            Role
	PaidMin         *float64
	PaidMax         *float64
	ClaimsMin       *int64
	ClaimsMax       *int64
	Sort            ProviderSort
	Page            int
	PageSize        int
}

// ProviderHit is one provider search result.
type ProviderHit struct {
	NPI                 string  `json:"npi"`
	DisplayName         *string `json:"display_name,omitempty"`
	EnumerationType     *string `json:"enumeration_type,omitempty"`
	PrimaryTaxonomyCode *string `json:"primary_taxonomy_code,omitempty"`
	PrimaryTaxonomyDesc *string `json:"primary_taxonomy_desc,omitempty"`
	State               *string `json:"state,omitempty"`
	City                *string `json:"city,omitempty"`
	Zip5                *string `json:"zip5,omitempty"`
	PaidTotal           float64 `json:"paid_total"`
	ClaimsTotal         int64   `json:"claims_total"`
	BeneTotal           int64   `json:"bene_total"`
}

// ProviderResponse is the result of a provider search.
type ProviderResponse struct {
	TotalHits int           `json:"total_hits"`
	Hits      []ProviderHit `json:"hits"`
}

// ProviderEngine serves queries against an open provider bleve index.
type ProviderEngine struct {
	index bleve.Index
}

// OpenProviderEngine opens a previously built provider index directory.
func OpenProviderEngine(indexDir string) (*ProviderEngine, error) {
	idx, err := bleve.Open(indexDir)
	if err != nil {
		return nil, fmt.Errorf("opening provider index at %s: %w", indexDir, err)
	}
	return &ProviderEngine{index: idx}, nil
}

// Close releases the underlying index handle.
func (e *ProviderEngine) Close() error { return e.index.Close() }

var providerStoredFields = []string{
	"npi", "display_name", "enumeration_type", "primary_taxonomy_code", "primary_taxonomy_desc",
	"state", "city", "zip5", "paid_total", "claims_total", "bene_total",
}

var npiPattern = regexp.MustCompile(`^\d{10}$`)

// looksLikeNPI reports whether s is a bare 10-digit NPI, in which case
// search treats it as an exact-NPI shortcut rather than a text query.
func looksLikeNPI(s string) bool {
	return npiPattern.MatchString(strings.TrimSpace(s))
}

// Search runs q against the index, returning a page of hits.
func (e *ProviderEngine) Search(q ProviderQuery) (ProviderResponse, error) {
	pageSize := clampInt(q.PageSize, 1, 200)
	page := q.Page
	if page < 0 {
		page = 0
	}
	offset := page * pageSize

	query := e.buildQuery(q)

	if q.Sort == ProviderNameAsc && strings.TrimSpace(q.Q) != "" {
		return e.searchNameAscWindowed(query, offset, pageSize)
	}

	req := bleve.NewSearchRequestOptions(query, pageSize, offset, false)
	req.Fields = providerStoredFields

	paidField, claimsField, _ := RoleFieldNames(q.Role)
	switch q.Sort {
	case ProviderPaidDesc:
		req.SortBy([]string{"-" + paidField})
	case ProviderPaidAsc:
		req.SortBy([]string{paidField})
	case ProviderClaimsDesc:
		req.SortBy([]string{"-" + claimsField})
	case ProviderClaimsAsc:
		req.SortBy([]string{claimsField})
	case ProviderNameAsc:
		req.SortBy([]string{"display_name", "npi"})
	}

	result, err := e.index.Search(req)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("searching provider index: %w", err)
	}

	hits := make([]ProviderHit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, providerDocToHit(h))
	}
	return ProviderResponse{TotalHits: int(result.Total), Hits: hits}, nil
}

// searchNameAscWindowed implements the name_asc sort for a non-empty text
// query: bleve has no native cross-shard lexicographic sort once a
// relevance query narrows the candidate set, so a window of the top
// matches (by relevance) is pulled back and sorted in memory before
// paginating. The window grows with the requested offset so that deep
// pages still contain every candidate ahead of them, capped to bound
// memory use.
func (e *ProviderEngine) searchNameAscWindowed(query bleve.Query, offset, pageSize int) (ProviderResponse, error) {
	window := clampInt((offset+pageSize)*20, pageSize, 5000)

	req := bleve.NewSearchRequestOptions(query, window, 0, false)
	req.Fields = providerStoredFields
	result, err := e.index.Search(req)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("searching provider index: %w", err)
	}

	hits := make([]ProviderHit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, providerDocToHit(h))
	}
	sort.SliceStable(hits, func(i, j int) bool {
		ni, nj := hitDisplayName(hits[i]), hitDisplayName(hits[j])
		if ni != nj {
			return ni < nj
		}
		return hits[i].NPI < hits[j].NPI
	})

	end := offset + pageSize
	if offset >= len(hits) {
		return ProviderResponse{TotalHits: int(result.Total), Hits: []ProviderHit{}}, nil
	}
	if end > len(hits) {
		end = len(hits)
	}
	return ProviderResponse{TotalHits: int(result.Total), Hits: hits[offset:end]}, nil
}

func hitDisplayName(h ProviderHit) string {
	if h.DisplayName == nil {
		return "￿" // sorts missing names last, matching ORDER BY ... NULLS LAST
	}
	return *h.DisplayName
}

// SearchSimple is the global-search shortcut: relevance-only, small limit,
// with an exact-NPI lookup taking priority over full-text matching.
func (e *ProviderEngine) SearchSimple(q string, limit int) ([]ProviderHit, error) {
	limit = clampInt(limit, 1, 50)
	req := bleve.NewSearchRequestOptions(buildSimpleProviderQuery(q), limit, 0, false)
	req.Fields = providerStoredFields
	result, err := e.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching provider index: %w", err)
	}
	hits := make([]ProviderHit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, providerDocToHit(h))
	}
	return hits, nil
}

func buildSimpleProviderQuery(q string) bleve.Query {
	q = strings.TrimSpace(q)
	if q == "" {
		return bleve.NewMatchAllQuery()
	}
	if looksLikeNPI(q) {
		t := bleve.NewTermQuery(q)
		t.SetField("npi")
		return t
	}
	return bleve.NewDisjunctionQuery(
		fieldMatch("display_name", q),
		fieldMatch("city", q),
		fieldMatch("primary_taxonomy_desc", q),
	)
}

func (e *ProviderEngine) buildQuery(q ProviderQuery) bleve.Query {
	clauses := []bleve.Query{buildSimpleProviderQuery(q.Q)}

	if facet := disjunctionOfTerms("state", q.States); facet != nil {
		clauses = append(clauses, facet)
	}
	if facet := disjunctionOfTerms("primary_taxonomy_code", q.TaxonomyCodes); facet != nil {
		clauses = append(clauses, facet)
	}
	if q.EnumerationType != "" {
		t := bleve.NewTermQuery(q.EnumerationType)
		t.SetField("enumeration_type")
		clauses = append(clauses, t)
	}

	paidField, claimsField, _ := RoleFieldNames(q.Role)
	if q.PaidMin != nil || q.PaidMax != nil {
		r := bleve.NewNumericRangeInclusiveQuery(q.PaidMin, q.PaidMax, boolPtr(true), boolPtr(true))
		r.SetField(paidField)
		clauses = append(clauses, r)
	}
	if q.ClaimsMin != nil || q.ClaimsMax != nil {
		min, max := int64ToFloatPtr(q.ClaimsMin), int64ToFloatPtr(q.ClaimsMax)
		r := bleve.NewNumericRangeInclusiveQuery(min, max, boolPtr(true), boolPtr(true))
		r.SetField(claimsField)
		clauses = append(clauses, r)
	}

	if len(clauses) == 1 {
		return clauses[0]
	}
	return bleve.NewConjunctionQuery(clauses...)
}

// disjunctionOfTerms is the bleve analog of the original facet-path OR
// filter: an exact-match OR across every value the caller selected for one
// field (e.g. several states at once).
func disjunctionOfTerms(field string, values []string) bleve.Query {
	if len(values) == 0 {
		return nil
	}
	terms := make([]bleve.Query, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		t := bleve.NewTermQuery(v)
		t.SetField(field)
		terms = append(terms, t)
	}
	if len(terms) == 0 {
		return nil
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return bleve.NewDisjunctionQuery(terms...)
}

func boolPtr(b bool) *bool { return &b }

func int64ToFloatPtr(v *int64) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}

func providerDocToHit(h *search.DocumentMatch) ProviderHit {
	return ProviderHit{
		NPI:                 h.ID,
		DisplayName:         fieldStringPtr(h.Fields, "display_name"),
		EnumerationType:     fieldStringPtr(h.Fields, "enumeration_type"),
		PrimaryTaxonomyCode: fieldStringPtr(h.Fields, "primary_taxonomy_code"),
		PrimaryTaxonomyDesc: fieldStringPtr(h.Fields, "primary_taxonomy_desc"),
		State:               fieldStringPtr(h.Fields, "state"),
		City:                fieldStringPtr(h.Fields, "city"),
		Zip5:                fieldStringPtr(h.Fields, "zip5"),
		PaidTotal:           fieldFloat(h.Fields, "paid_total"),
		ClaimsTotal:         int64(fieldFloat(h.Fields, "claims_total")),
		BeneTotal:           int64(fieldFloat(h.Fields, "bene_total")),
	}
}

func providerIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultMapping = bleve.NewDocumentMapping()

	keyword := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keywordAnalyzer
		f.Store = true
		return f
	}
	text := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Store = true
		return f
	}
	numeric := func() *mapping.FieldMapping {
		f := bleve.NewNumericFieldMapping()
		f.Store = true
		return f
	}

	im.DefaultMapping.AddFieldMappingsAt("npi", keyword())
	im.DefaultMapping.AddFieldMappingsAt("display_name", text())
	im.DefaultMapping.AddFieldMappingsAt("city", text())
	im.DefaultMapping.AddFieldMappingsAt("state", keyword())
	im.DefaultMapping.AddFieldMappingsAt("enumeration_type", keyword())
	im.DefaultMapping.AddFieldMappingsAt("primary_taxonomy_code", keyword())
	im.DefaultMapping.AddFieldMappingsAt("primary_taxonomy_desc", text())
	im.DefaultMapping.AddFieldMappingsAt("zip5", keyword())
	for _, f := range []string{"paid_billing", "claims_billing", "bene_billing",
		"paid_servicing", "claims_servicing", "bene_servicing",
		"paid_total", "claims_total", "bene_total"} {
		im.DefaultMapping.AddFieldMappingsAt(f, numeric())
	}
	return im
}

// BuildProviderIndex (re)builds the provider bleve index from
// provider_search, skipping the rebuild when a previous build's _SUCCESS
// marker is already present and rebuild is false.
func BuildProviderIndex(ctx context.Context, store *analyticstore.Store, indexDir string, rebuild bool) error {
	successMarker := filepath.Join(indexDir, "_SUCCESS")
	if _, err := os.Stat(indexDir); err == nil && !rebuild {
		if _, err := os.Stat(successMarker); err == nil {
			log.Printf("provider index already exists at %s; skipping", indexDir)
			return nil
		}
		log.Printf("provider index dir exists but is missing _SUCCESS (previous build likely failed); rebuilding")
		if err := os.RemoveAll(indexDir); err != nil {
			return fmt.Errorf("removing stale provider index dir: %w", err)
		}
	} else if rebuild {
		if err := os.RemoveAll(indexDir); err != nil {
			return fmt.Errorf("removing provider index dir: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(indexDir), 0o755); err != nil {
		return fmt.Errorf("creating provider index parent dir: %w", err)
	}

	idx, err := bleve.New(indexDir, providerIndexMapping())
	if err != nil {
		return fmt.Errorf("creating provider index: %w", err)
	}
	defer idx.Close()

	rows, err := store.AllProviderSearch(ctx)
	if err != nil {
		return fmt.Errorf("scanning provider_search: %w", err)
	}

	batch := idx.NewBatch()
	var count, skipped int
	for _, r := range rows {
		npi := strings.TrimSpace(r.NPI)
		if npi == "" {
			skipped++
			continue
		}
		doc := map[string]any{
			"npi":              npi,
			"paid_billing":     r.PaidBilling,
			"claims_billing":   r.ClaimsBilling,
			"bene_billing":     r.BeneBilling,
			"paid_servicing":   r.PaidServicing,
			"claims_servicing": r.ClaimsServicing,
			"bene_servicing":   r.BeneServicing,
			"paid_total":       r.PaidTotal,
			"claims_total":     r.ClaimsTotal,
			"bene_total":       r.BeneTotal,
		}
		setIfNonEmpty(doc, "display_name", r.DisplayName)
		setIfNonEmpty(doc, "enumeration_type", r.EnumerationType)
		setIfNonEmpty(doc, "primary_taxonomy_code", r.PrimaryTaxonomyCode)
		setIfNonEmpty(doc, "primary_taxonomy_desc", r.PrimaryTaxonomyDesc)
		setIfNonEmpty(doc, "state", r.State)
		setIfNonEmpty(doc, "city", r.City)
		setIfNonEmpty(doc, "zip5", r.Zip5)

		if err := batch.Index(npi, doc); err != nil {
			return fmt.Errorf("indexing provider doc %s: %w", npi, err)
		}
		count++
		if batch.Size() >= 1000 {
			if err := idx.Batch(batch); err != nil {
				return fmt.Errorf("committing provider batch: %w", err)
			}
			batch = idx.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			return fmt.Errorf("committing final provider batch: %w", err)
		}
	}
	if skipped > 0 {
		log.Printf("skipped %d provider_search rows with empty npi", skipped)
	}
	log.Printf("committed provider index (%d docs)", count)

	if err := os.WriteFile(successMarker, []byte("ok\n"), 0o644); err != nil {
		return fmt.Errorf("writing provider index success marker: %w", err)
	}
	return nil
}

func setIfNonEmpty(doc map[string]any, field string, v sql.NullString) {
	if v.Valid && strings.TrimSpace(v.String) != "" {
		doc[field] = v.String
	}
}
