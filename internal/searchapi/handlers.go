package searchapi

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"providerresolve/internal/analyticstore"
	"providerresolve/internal/searchindex"
)

type globalSearchResponse struct {
	Providers []searchindex.ProviderHit `json:"providers"`
	HCPCS     []searchindex.HCPCSHit    `json:"hcpcs"`
}

func (s *Server) handleGlobalSearch(c *gin.Context) {
	q := c.Query("q")
	limit := queryInt(c, "limit", 10)

	providers, err := s.providers.SearchSimple(q, limit)
	if err != nil {
		badRequest(c, err)
		return
	}
	hcpcs, err := s.hcpcs.SearchSimple(q, limit)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, globalSearchResponse{Providers: providers, HCPCS: hcpcs})
}

type providerFiltersResponse struct {
	States     []string                      `json:"states"`
	Entities   []string                      `json:"entities"`
	Taxonomies []analyticstore.TaxonomyOption `json:"taxonomies"`
}

func (s *Server) handleProviderFilters(c *gin.Context) {
	ctx := c.Request.Context()
	states, _ := s.store.DistinctStates(ctx)
	entities, _ := s.store.DistinctEnumerationTypes(ctx)
	taxonomies, _ := s.store.TaxonomyOptions(ctx)
	c.JSON(http.StatusOK, providerFiltersResponse{
		States:     orEmpty(states),
		Entities:   orEmpty(entities),
		Taxonomies: taxonomies,
	})
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (s *Server) handleProviderSearch(c *gin.Context) {
	role := parseRole(c.Query("role"))
	sort := parseProviderSort(c.Query("sort"))
	q := c.Query("q")

	if strings.TrimSpace(q) == "" && sort == searchindex.ProviderNameAsc {
		resp, err := s.providerSearchViaStore(c, role)
		if err != nil {
			badRequest(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	query := searchindex.ProviderQuery{
		Q:               q,
		States:          sanitizeStates(flattenList(c.QueryArray("state"))),
		TaxonomyCodes:   sanitizeTaxonomies(flattenList(c.QueryArray("taxonomy"))),
		EnumerationType: sanitizeEntity(c.Query("entity")),
		Role:            role,
		PaidMin:         queryFloatPtr(c, "paid_min"),
		PaidMax:         queryFloatPtr(c, "paid_max"),
		ClaimsMin:       queryInt64Ptr(c, "claims_min"),
		ClaimsMax:       queryInt64Ptr(c, "claims_max"),
		Sort:            sort,
		Page:            queryInt(c, "page", 0),
		PageSize:        queryInt(c, "page_size", 50),
	}
	resp, err := s.providers.Search(query)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// providerSearchViaStore serves q="" && sort=name_asc directly from the
// analytical store: the inverted index has no native lexicographic sort,
// and for an empty query every document matches anyway so a plain SQL
// ORDER BY is both simpler and exact (spec.md §4.K).
func (s *Server) providerSearchViaStore(c *gin.Context, role searchindex.Role) (searchindex.ProviderResponse, error) {
	pageSize := clampInt(queryInt(c, "page_size", 50), 1, 200)
	page := queryInt(c, "page", 0)
	if page < 0 {
		page = 0
	}
	offset := page * pageSize

	paidCol, claimsCol, _ := searchindex.RoleFieldNames(role)
	filter := analyticstore.ProviderFilter{
		States:          sanitizeStates(flattenList(c.QueryArray("state"))),
		TaxonomyCodes:   sanitizeTaxonomies(flattenList(c.QueryArray("taxonomy"))),
		EnumerationType: sanitizeEntity(c.Query("entity")),
		PaidMin:         queryFloatPtr(c, "paid_min"),
		PaidMax:         queryFloatPtr(c, "paid_max"),
		ClaimsMin:       queryInt64Ptr(c, "claims_min"),
		ClaimsMax:       queryInt64Ptr(c, "claims_max"),
		PaidColumn:      paidCol,
		ClaimsColumn:    claimsCol,
	}

	ctx := c.Request.Context()
	total, err := s.store.CountProviderSearch(ctx, filter)
	if err != nil {
		return searchindex.ProviderResponse{}, err
	}
	rows, err := s.store.ProviderSearchPage(ctx, filter, pageSize, offset)
	if err != nil {
		return searchindex.ProviderResponse{}, err
	}

	hits := make([]searchindex.ProviderHit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, providerRowToHit(r))
	}
	return searchindex.ProviderResponse{TotalHits: int(total), Hits: hits}, nil
}

func providerRowToHit(r analyticstore.ProviderSearchRow) searchindex.ProviderHit {
	return searchindex.ProviderHit{
		NPI:                 r.NPI,
		DisplayName:         nullStringPtr(r.DisplayName),
		EnumerationType:     nullStringPtr(r.EnumerationType),
		PrimaryTaxonomyCode: nullStringPtr(r.PrimaryTaxonomyCode),
		PrimaryTaxonomyDesc: nullStringPtr(r.PrimaryTaxonomyDesc),
		State:               nullStringPtr(r.State),
		City:                nullStringPtr(r.City),
		Zip5:                nullStringPtr(r.Zip5),
		PaidTotal:           r.PaidTotal,
		ClaimsTotal:         r.ClaimsTotal,
		BeneTotal:           r.BeneTotal,
	}
}

type providerDetailResponse struct {
	Provider *providerDetailRow `json:"provider"`
	NPIAPI   *string            `json:"npi_api"`
}

type providerDetailRow struct {
	NPI                 string   `json:"npi"`
	DisplayName         *string  `json:"display_name,omitempty"`
	City                *string  `json:"city,omitempty"`
	State               *string  `json:"state,omitempty"`
	EnumerationType     *string  `json:"enumeration_type,omitempty"`
	PrimaryTaxonomyCode *string  `json:"primary_taxonomy_code,omitempty"`
	PrimaryTaxonomyDesc *string  `json:"primary_taxonomy_desc,omitempty"`
	Zip5                *string  `json:"zip5,omitempty"`
	Lat                 *float64 `json:"lat,omitempty"`
	Lon                 *float64 `json:"lon,omitempty"`
	PaidBilling         float64  `json:"paid_billing"`
	ClaimsBilling       int64    `json:"claims_billing"`
	BeneBilling         int64    `json:"bene_billing"`
	PaidServicing       float64  `json:"paid_servicing"`
	ClaimsServicing     int64    `json:"claims_servicing"`
	BeneServicing       int64    `json:"bene_servicing"`
	PaidTotal           float64  `json:"paid_total"`
	ClaimsTotal         int64    `json:"claims_total"`
	BeneTotal           int64    `json:"bene_total"`
}

func toProviderDetailRow(r analyticstore.ProviderSearchRow) providerDetailRow {
	return providerDetailRow{
		NPI:                 r.NPI,
		DisplayName:         nullStringPtr(r.DisplayName),
		City:                nullStringPtr(r.City),
		State:               nullStringPtr(r.State),
		EnumerationType:     nullStringPtr(r.EnumerationType),
		PrimaryTaxonomyCode: nullStringPtr(r.PrimaryTaxonomyCode),
		PrimaryTaxonomyDesc: nullStringPtr(r.PrimaryTaxonomyDesc),
		Zip5:                nullStringPtr(r.Zip5),
		Lat:                 nullFloatPtr(r.Lat),
		Lon:                 nullFloatPtr(r.Lon),
		PaidBilling:         r.PaidBilling,
		ClaimsBilling:       r.ClaimsBilling,
		BeneBilling:         r.BeneBilling,
		PaidServicing:       r.PaidServicing,
		ClaimsServicing:     r.ClaimsServicing,
		BeneServicing:       r.BeneServicing,
		PaidTotal:           r.PaidTotal,
		ClaimsTotal:         r.ClaimsTotal,
		BeneTotal:           r.BeneTotal,
	}
}

func nullFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func (s *Server) handleProviderDetail(c *gin.Context) {
	npi := c.Param("npi")
	ctx := c.Request.Context()

	row, found, err := s.store.ProviderByNPI(ctx, npi)
	if err != nil {
		badRequest(c, err)
		return
	}
	var provider *providerDetailRow
	if found {
		v := toProviderDetailRow(row)
		provider = &v
	}

	var npiAPI *string
	if raw, ok, err := s.store.ProviderRawResponseJSON(ctx, npi); err == nil && ok {
		npiAPI = &raw
	}

	c.JSON(http.StatusOK, providerDetailResponse{Provider: provider, NPIAPI: npiAPI})
}

func (s *Server) handleHCPCSSearch(c *gin.Context) {
	query := searchindex.HCPCSQuery{
		Q:        c.Query("q"),
		Sort:     parseHCPCSSort(c.Query("sort")),
		Page:     queryInt(c, "page", 0),
		PageSize: queryInt(c, "page_size", 50),
	}
	resp, err := s.hcpcs.Search(query)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type hcpcsDetailRow struct {
	HCPCSCode   string  `json:"hcpcs_code"`
	ShortDesc   *string `json:"short_desc,omitempty"`
	LongDesc    *string `json:"long_desc,omitempty"`
	AddDt       *string `json:"add_dt,omitempty"`
	ActEffDt    *string `json:"act_eff_dt,omitempty"`
	TermDt      *string `json:"term_dt,omitempty"`
	Obsolete    *string `json:"obsolete,omitempty"`
	IsNOC       *string `json:"is_noc,omitempty"`
	PaidTotal   float64 `json:"paid_total"`
	ClaimsTotal int64   `json:"claims_total"`
	BeneTotal   int64   `json:"bene_total"`
}

func toHCPCSDetailRow(r analyticstore.HCPCSSearchRow) hcpcsDetailRow {
	return hcpcsDetailRow{
		HCPCSCode:   r.HCPCSCode,
		ShortDesc:   nullStringPtr(r.ShortDesc),
		LongDesc:    nullStringPtr(r.LongDesc),
		AddDt:       nullStringPtr(r.AddDt),
		ActEffDt:    nullStringPtr(r.ActEffDt),
		TermDt:      nullStringPtr(r.TermDt),
		Obsolete:    nullStringPtr(r.Obsolete),
		IsNOC:       nullStringPtr(r.IsNOC),
		PaidTotal:   r.PaidTotal,
		ClaimsTotal: r.ClaimsTotal,
		BeneTotal:   r.BeneTotal,
	}
}

type hcpcsDetailResponse struct {
	HCPCS    *hcpcsDetailRow `json:"hcpcs"`
	HCPCSAPI *string         `json:"hcpcs_api"`
}

func (s *Server) handleHCPCSDetail(c *gin.Context) {
	code := c.Param("code")
	ctx := c.Request.Context()

	row, found, err := s.store.HCPCSByCode(ctx, code)
	if err != nil {
		badRequest(c, err)
		return
	}
	var hcpcs *hcpcsDetailRow
	if found {
		v := toHCPCSDetailRow(row)
		hcpcs = &v
	}

	var raw *string
	if r, ok, err := s.store.HCPCSRawResponseJSON(ctx, code); err == nil && ok {
		raw = &r
	}

	c.JSON(http.StatusOK, hcpcsDetailResponse{HCPCS: hcpcs, HCPCSAPI: raw})
}

type mapZipPoint struct {
	Zip5          string  `json:"zip5"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	ProviderCount int64   `json:"provider_count"`
	MetricTotal   float64 `json:"metric_total"`
}

func (s *Server) handleMapZips(c *gin.Context) {
	minLon, minLat, maxLon, maxLat, err := parseBBox(c.Query("bbox"))
	if err != nil {
		badRequest(c, err)
		return
	}

	role := parseRole(c.Query("role"))
	paidCol, claimsCol, beneCol := searchindex.RoleFieldNames(role)
	metricCol := paidCol
	switch strings.ToLower(c.Query("metric")) {
	case "claims":
		metricCol = claimsCol
	case "bene":
		metricCol = beneCol
	}

	filter := analyticstore.ProviderFilter{
		States:          sanitizeStates(flattenList(c.QueryArray("state"))),
		TaxonomyCodes:   sanitizeTaxonomies(flattenList(c.QueryArray("taxonomy"))),
		EnumerationType: sanitizeEntity(c.Query("entity")),
	}

	rows, err := s.store.MapZipsAggregateFiltered(c.Request.Context(), filter, metricCol, minLon, minLat, maxLon, maxLat)
	if err != nil {
		badRequest(c, err)
		return
	}

	out := make([]mapZipPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, mapZipPoint{
			Zip5: r.Zip5, Lat: r.Lat, Lon: r.Lon,
			ProviderCount: r.ProviderCount, MetricTotal: r.MetricTotal,
		})
	}
	c.JSON(http.StatusOK, out)
}

func parseBBox(s string) (minLon, minLat, maxLon, maxLat float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("bbox must be minLon,minLat,maxLon,maxLat")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, perr := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if perr != nil {
			return 0, 0, 0, 0, fmt.Errorf("parsing bbox component %q: %w", p, perr)
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}

func parseRole(s string) searchindex.Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "billing":
		return searchindex.RoleBilling
	case "servicing":
		return searchindex.RoleServicing
	default:
		return searchindex.RoleTotal
	}
}

func parseProviderSort(s string) searchindex.ProviderSort {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid_asc":
		return searchindex.ProviderPaidAsc
	case "claims_desc":
		return searchindex.ProviderClaimsDesc
	case "claims_asc":
		return searchindex.ProviderClaimsAsc
	case "name_asc":
		return searchindex.ProviderNameAsc
	case "relevance":
		return searchindex.ProviderRelevance
	default:
		return searchindex.ProviderPaidDesc
	}
}

func parseHCPCSSort(s string) searchindex.HCPCSSort {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid_asc":
		return searchindex.HCPCSPaidAsc
	case "claims_desc":
		return searchindex.HCPCSClaimsDesc
	case "claims_asc":
		return searchindex.HCPCSClaimsAsc
	case "relevance":
		return searchindex.HCPCSRelevance
	default:
		return searchindex.HCPCSPaidDesc
	}
}

// flattenList splits each repeated query value on commas, mirroring the
// original's acceptance of either ?state=CA&state=NY or ?state=CA,NY.
func flattenList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func sanitizeStates(states []string) []string {
	var out []string
	for _, s := range states {
		if len(s) == 2 && isASCIIAlpha(s) {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

// sanitizeEntity silently drops anything but the two valid NPPES
// enumeration types, per spec.md §4.K, instead of letting an invalid
// value reach the bleve term query (which would match zero documents)
// or the DuckDB filter (which already no-ops on an unrecognized value).
func sanitizeEntity(entity string) string {
	if entity == "NPI-1" || entity == "NPI-2" {
		return entity
	}
	return ""
}

func sanitizeTaxonomies(codes []string) []string {
	var out []string
	for _, t := range codes {
		if isASCIIAlnum(t) {
			out = append(out, t)
		}
	}
	return out
}

func isASCIIAlpha(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

func isASCIIAlnum(s string) bool {
	for _, r := range s {
		alnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !alnum {
			return false
		}
	}
	return true
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryFloatPtr(c *gin.Context, key string) *float64 {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func queryInt64Ptr(c *gin.Context, key string) *int64 {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
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
