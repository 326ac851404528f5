// Package npiapi resolves a single NPI against the NPPES registry API
// (spec.md §4.D), the source used whenever an NPI isn't already covered by
// a local NPPES bulk file.
package npiapi

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

const DefaultBaseURL = "https://npiregistry.cms.hhs.gov/api/"
const apiVersion = "2.1"

// Result is one identifier's settled outcome: either a display name
// (Found), no matching registry entry (NotFound), or a retry-exhausted
// failure (Error). Reference carries the raw response sections destined
// for the npi_api_responses cache table regardless of which branch fired.
type Result struct {
	ProviderName string
	NotFound     bool
	Err          error
	Reference    Reference
}

// Reference mirrors one npi_api_responses row (internal/npistore).
type Reference struct {
	NPI                   string
	BasicJSON             string
	AddressesJSON         string
	PracticeLocationsJSON string
	TaxonomiesJSON        string
	IdentifiersJSON       string
	OtherNamesJSON        string
	EndpointsJSON         string
	RequestURL            string
	HTTPStatus            int
	ErrorMessage          string
	APIRunID              string
	RequestedAtUTC        string
	RequestParamsJSON     string
	ResultsJSON           string
	ResponseJSONRaw       string
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

// Lookup fetches npi and classifies the result. apiRunID tags the
// Reference row so every response written during one resolve run shares
// an identifier.
func (c *Client) Lookup(ctx context.Context, npi, apiRunID string) Result {
	requestParams := fmt.Sprintf(`{"version":%q,"number":%q}`, apiVersion, npi)
	requestURL := c.baseURL + "?" + url.Values{"version": {apiVersion}, "number": {npi}}.Encode()
	requestedAt := strconv.FormatInt(time.Now().Unix(), 10)

	baseRef := Reference{
		NPI:               npi,
		RequestURL:        requestURL,
		APIRunID:          apiRunID,
		RequestedAtUTC:    requestedAt,
		RequestParamsJSON: requestParams,
	}

	req, err := c.http.NewRequest(http.MethodGet, c.baseURL, nil)
	if err != nil {
		baseRef.ErrorMessage = fmt.Sprintf("building NPI API request for %s: %v", npi, err)
		return Result{Err: errors.New(baseRef.ErrorMessage), Reference: baseRef}
	}
	q := req.URL.Query()
	q.Set("version", apiVersion)
	q.Set("number", npi)
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		baseRef.ErrorMessage = upstream.TruncateForLog(fmt.Sprintf("NPI API request failed for %s: %v", npi, err))
		return Result{Err: errors.New(baseRef.ErrorMessage), Reference: baseRef}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		baseRef.HTTPStatus = resp.StatusCode
		baseRef.ErrorMessage = fmt.Sprintf("reading NPI API response body for %s: %v", npi, err)
		return Result{Err: errors.New(baseRef.ErrorMessage), Reference: baseRef}
	}

	if resp.StatusCode != http.StatusOK {
		baseRef.HTTPStatus = resp.StatusCode
		baseRef.ErrorMessage = upstream.TruncateForLog(fmt.Sprintf(
			"NPI API returned status %d for %s. Body: %s", resp.StatusCode, npi, string(body)))
		return Result{Err: errors.New(baseRef.ErrorMessage), Reference: baseRef}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		baseRef.HTTPStatus = resp.StatusCode
		baseRef.ErrorMessage = fmt.Sprintf("invalid NPI API JSON for %s: %v", npi, err)
		return Result{Err: errors.New(baseRef.ErrorMessage), Reference: baseRef}
	}

	ref := buildReference(raw, npi, requestURL, resp.StatusCode, apiRunID, requestedAt, requestParams)

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		ref.ErrorMessage = fmt.Sprintf("decoding NPI API response for %s: %v", npi, err)
		return Result{Err: errors.New(ref.ErrorMessage), Reference: ref}
	}

	name, found := extractName(parsed)
	if !found {
		return Result{NotFound: true, Reference: ref}
	}
	return Result{ProviderName: name, Reference: ref}
}

type apiResponse struct {
	Results []apiResult `json:"results"`
}

type apiResult struct {
	Basic *apiBasic `json:"basic"`
}

type apiBasic struct {
	OrganizationName string `json:"organization_name"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
}

func extractName(resp apiResponse) (string, bool) {
	if len(resp.Results) == 0 || resp.Results[0].Basic == nil {
		return "", false
	}
	basic := resp.Results[0].Basic

	if org := strings.TrimSpace(basic.OrganizationName); org != "" {
		return org, true
	}
	first := strings.TrimSpace(basic.FirstName)
	last := strings.TrimSpace(basic.LastName)
	switch {
	case first != "" && last != "":
		return first + " " + last, true
	case first != "":
		return first, true
	case last != "":
		return last, true
	default:
		return "", false
	}
}

func buildReference(raw map[string]interface{}, npi, requestURL string, httpStatus int, apiRunID, requestedAt, requestParams string) Reference {
	ref := Reference{
		NPI:               npi,
		RequestURL:        requestURL,
		HTTPStatus:        httpStatus,
		APIRunID:          apiRunID,
		RequestedAtUTC:    requestedAt,
		RequestParamsJSON: requestParams,
	}

	results, _ := raw["results"].([]interface{})
	var first map[string]interface{}
	if len(results) > 0 {
		first, _ = results[0].(map[string]interface{})
	}

	ref.BasicJSON = jsonField(first, "basic")
	ref.AddressesJSON = jsonField(first, "addresses")
	ref.PracticeLocationsJSON = jsonField(first, "practiceLocations")
	ref.TaxonomiesJSON = jsonField(first, "taxonomies")
	ref.IdentifiersJSON = jsonField(first, "identifiers")
	ref.OtherNamesJSON = jsonField(first, "other_names")
	ref.EndpointsJSON = jsonField(first, "endpoints")
	if len(results) > 0 {
		ref.ResultsJSON = marshalOrEmpty(raw["results"])
	}
	ref.ResponseJSONRaw = marshalOrEmpty(raw)
	return ref
}

func jsonField(obj map[string]interface{}, key string) string {
	if obj == nil {
		return ""
	}
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	return marshalOrEmpty(v)
}

func marshalOrEmpty(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
