// Package hcpcsapi resolves HCPCS/CPT codes against the NLM Clinical
// Tables search service (spec.md §4.D). Codes are looked up in
// Boolean-OR batches up to the configured batch size; a failed batch
// falls back to one single-code query per member so a single malformed
// code can't fail the whole batch.
package hcpcsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"providerresolve/internal/upstream"
)

const DefaultBaseURL = "https://clinicaltables.nlm.nih.gov/api/hcpcs/v3/search"

const extraFields = "short_desc,long_desc,add_dt,term_dt,act_eff_dt,obsolete,is_noc"

// Record is one HCPCS/CPT description variant returned for a code.
type Record struct {
	HCPCSCode string
	ShortDesc string
	LongDesc  string
	AddDt     string
	ActEffDt  string
	TermDt    string
	Obsolete  bool
	IsNOC     bool
}

// Result is one code's settled outcome from either a batch or a
// single-code lookup.
type Result struct {
	Records   []Record
	NotFound  bool
	Err       error
	Reference Reference
}

// Reference mirrors the non-cache-schema fields worth retaining about one
// HCPCS API call, for diagnostics.
type Reference struct {
	RequestURL        string
	HTTPStatus        int
	ErrorMessage      string
	APIRunID          string
	RequestedAtUTC    string
	RequestParamsJSON string
	ResponseJSONRaw   string
}

type Client struct {
	http    *upstream.Client
	baseURL string
}

func NewClient(http *upstream.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: http, baseURL: baseURL}
}

// NormalizeCode uppercases and trims raw, matching the key used to group
// batch results back to their requested code.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// LookupBatch resolves codes as a single Boolean-OR query. On a
// batch-level failure (network error or non-2xx response) it retries each
// code individually and merges the batch error into any resulting error
// message, per spec.md §4.D's "single-query failover".
func (c *Client) LookupBatch(ctx context.Context, codes []string, apiRunID string) map[string]Result {
	results := make(map[string]Result, len(codes))
	if len(codes) == 0 {
		return results
	}
	if len(codes) == 1 {
		results[NormalizeCode(codes[0])] = c.lookupOne(ctx, codes[0], apiRunID)
		return results
	}

	batch, batchErr := c.lookupBatchQuery(ctx, codes, apiRunID)
	if batchErr == nil {
		return batch
	}

	for _, code := range codes {
		single := c.lookupOne(ctx, code, apiRunID)
		if single.Err != nil {
			single.Err = fmt.Errorf("batch lookup failed, then single lookup failed. batch_error=%v; single_error=%w", batchErr, single.Err)
			single.Reference.ErrorMessage = upstream.TruncateForLog(single.Err.Error())
		}
		results[NormalizeCode(code)] = single
	}
	return results
}

func (c *Client) lookupOne(ctx context.Context, code, apiRunID string) Result {
	codeFilter := "code:" + code
	params := url.Values{
		"terms": {code},
		"sf":    {"code"},
		"q":     {codeFilter},
		"count": {"20"},
		"df":    {"code,display"},
		"ef":    {extraFields},
	}
	result := c.fetch(ctx, params, apiRunID)
	if result.Err != nil || len(result.Records) == 0 {
		return result
	}

	want := NormalizeCode(code)
	matched := groupByCode(result.Records)[want]
	if len(matched) == 0 {
		return Result{NotFound: true, Reference: result.Reference}
	}
	return Result{Records: matched, Reference: result.Reference}
}

func (c *Client) lookupBatchQuery(ctx context.Context, codes []string, apiRunID string) (map[string]Result, error) {
	cleaned := make([]string, 0, len(codes))
	for _, code := range codes {
		if n := NormalizeCode(code); n != "" {
			cleaned = append(cleaned, n)
		}
	}
	if len(cleaned) == 0 {
		return map[string]Result{}, nil
	}

	codeFilter := "code:(" + strings.Join(cleaned, " OR ") + ")"
	params := url.Values{
		"terms": {""},
		"sf":    {"code"},
		"q":     {codeFilter},
		"count": {"500"},
		"df":    {"code,display"},
		"ef":    {extraFields},
	}

	result := c.fetch(ctx, params, apiRunID)
	if result.Err != nil {
		return nil, result.Err
	}

	byCode := groupByCode(result.Records)
	out := make(map[string]Result, len(codes))
	for _, code := range codes {
		key := NormalizeCode(code)
		records, ok := byCode[key]
		if !ok {
			out[key] = Result{NotFound: true, Reference: result.Reference}
			continue
		}
		out[key] = Result{Records: records, Reference: result.Reference}
	}
	return out, nil
}

func groupByCode(records []Record) map[string][]Record {
	out := make(map[string][]Record)
	for _, r := range records {
		key := NormalizeCode(r.HCPCSCode)
		out[key] = append(out[key], r)
	}
	return out
}

func (c *Client) fetch(ctx context.Context, params url.Values, apiRunID string) Result {
	requestParams, _ := json.Marshal(map[string]string{
		"terms": params.Get("terms"),
		"sf":    params.Get("sf"),
		"q":     params.Get("q"),
		"count": params.Get("count"),
		"df":    params.Get("df"),
		"ef":    params.Get("ef"),
	})
	requestURL := c.baseURL + "?" + params.Encode()
	requestedAt := strconv.FormatInt(time.Now().Unix(), 10)

	ref := Reference{
		RequestURL:        requestURL,
		APIRunID:          apiRunID,
		RequestedAtUTC:    requestedAt,
		RequestParamsJSON: string(requestParams),
	}

	req, err := c.http.NewRequest(http.MethodGet, c.baseURL, nil)
	if err != nil {
		ref.ErrorMessage = fmt.Sprintf("building HCPCS API request: %v", err)
		return Result{Err: errors.New(ref.ErrorMessage), Reference: ref}
	}
	req.URL.RawQuery = params.Encode()

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		ref.ErrorMessage = upstream.TruncateForLog(fmt.Sprintf("HCPCS API request failed: %v", err))
		return Result{Err: errors.New(ref.ErrorMessage), Reference: ref}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		ref.HTTPStatus = resp.StatusCode
		ref.ErrorMessage = fmt.Sprintf("reading HCPCS API response body: %v", err)
		return Result{Err: errors.New(ref.ErrorMessage), Reference: ref}
	}

	if resp.StatusCode != http.StatusOK {
		ref.HTTPStatus = resp.StatusCode
		ref.ErrorMessage = upstream.TruncateForLog(fmt.Sprintf(
			"HCPCS API returned status %d. Body: %s", resp.StatusCode, string(body)))
		return Result{Err: errors.New(ref.ErrorMessage), Reference: ref}
	}
	ref.HTTPStatus = resp.StatusCode
	ref.ResponseJSONRaw = string(body)

	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		ref.ErrorMessage = fmt.Sprintf("invalid HCPCS API JSON: %v", err)
		return Result{Err: errors.New(ref.ErrorMessage), Reference: ref}
	}

	records, err := parsePayload(payload)
	if err != nil {
		ref.ErrorMessage = fmt.Sprintf("parsing HCPCS API payload: %v", err)
		return Result{Err: errors.New(ref.ErrorMessage), Reference: ref}
	}
	if len(records) == 0 {
		return Result{NotFound: true, Reference: ref}
	}
	return Result{Records: records, Reference: ref}
}

// parsePayload decodes the Clinical Tables response shape
// [total_count, codes[], extra_fields_obj, display[]] into one Record
// per returned code.
func parsePayload(payload []json.RawMessage) ([]Record, error) {
	if len(payload) < 3 {
		return nil, fmt.Errorf("expected at least 3 payload elements, got %d", len(payload))
	}

	var codes []interface{}
	if err := json.Unmarshal(payload[1], &codes); err != nil {
		return nil, fmt.Errorf("decoding code list: %w", err)
	}

	var extra map[string]interface{}
	if err := json.Unmarshal(payload[2], &extra); err != nil {
		return nil, fmt.Errorf("decoding extra fields: %w", err)
	}

	records := make([]Record, 0, len(codes))
	for idx, raw := range codes {
		code := strings.TrimSpace(valueToString(raw))
		if code == "" {
			continue
		}
		records = append(records, Record{
			HCPCSCode: code,
			ShortDesc: strings.TrimSpace(fieldValue(extra, "short_desc", idx)),
			LongDesc:  strings.TrimSpace(fieldValue(extra, "long_desc", idx)),
			AddDt:     normalizeYYYYMMDD(fieldValue(extra, "add_dt", idx)),
			ActEffDt:  normalizeYYYYMMDD(fieldValue(extra, "act_eff_dt", idx)),
			TermDt:    normalizeYYYYMMDD(fieldValue(extra, "term_dt", idx)),
			Obsolete:  parseBoolFlag(fieldValue(extra, "obsolete", idx)),
			IsNOC:     parseBoolFlag(fieldValue(extra, "is_noc", idx)),
		})
	}
	return records, nil
}

func fieldValue(extra map[string]interface{}, field string, idx int) string {
	v, ok := extra[field]
	if !ok || v == nil {
		return ""
	}
	if arr, ok := v.([]interface{}); ok {
		if idx < 0 || idx >= len(arr) {
			return ""
		}
		return valueToString(arr[idx])
	}
	return valueToString(v)
}

func valueToString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func normalizeYYYYMMDD(value string) string {
	var digits strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 8 {
		return digits.String()
	}
	return ""
}

func parseBoolFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "t", "1", "yes", "y":
		return true
	default:
		return false
	}
}
