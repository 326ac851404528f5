package artifact

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"providerresolve/internal/bulkload"
	"providerresolve/internal/npistore"
)

// NPIResolvedRow is one row of the resolved-NPI Parquet dataset: the raw
// NPPES "basic" record plus whichever supplemental sections and
// provenance fields the source (bulk file or cached API response)
// carried, mirroring the npi_api_responses cache columns so bulk- and
// API-derived rows share one schema.
type NPIResolvedRow struct {
	NPI                   string  `parquet:"npi"`
	BasicJSON             *string `parquet:"basic_json,optional"`
	AddressesJSON         *string `parquet:"addresses_json,optional"`
	PracticeLocationsJSON *string `parquet:"practice_locations_json,optional"`
	TaxonomiesJSON        *string `parquet:"taxonomies_json,optional"`
	IdentifiersJSON       *string `parquet:"identifiers_json,optional"`
	OtherNamesJSON        *string `parquet:"other_names_json,optional"`
	EndpointsJSON         *string `parquet:"endpoints_json,optional"`
	URL                   *string `parquet:"url,optional"`
	ErrorMessage          *string `parquet:"error_message,optional"`
	APIRunID              *string `parquet:"api_run_id,optional"`
	RequestedAtUTC        *string `parquet:"requested_at_utc,optional"`
	RequestParamsJSON     *string `parquet:"request_params_json,optional"`
	ResultsJSON           *string `parquet:"results_json,optional"`
	ResponseJSON          *string `parquet:"response_json,optional"`
}

// NPIExporter composes the NPI Parquet artifact out of a shrinking
// "remaining" key set: bulk NPPES files get first crack at each NPI
// (cheapest, most complete source), cached API responses fill whatever
// bulk left behind, and a "missing_cache" sentinel covers the rest so
// every requested NPI gets exactly one output row.
type NPIExporter struct {
	writer         *Writer[NPIResolvedRow]
	uniqueNPIs     []string
	remaining      map[string]bool
	apiRunID       string
	requestedAtUTC string
}

// NewNPIExporter opens outputPath for streaming and seeds the remaining
// set from uniqueNPIs.
func NewNPIExporter(outputPath string, uniqueNPIs []string, apiRunID string) (*NPIExporter, error) {
	w, err := NewWriter[NPIResolvedRow](outputPath)
	if err != nil {
		return nil, err
	}
	remaining := make(map[string]bool, len(uniqueNPIs))
	for _, npi := range uniqueNPIs {
		remaining[npi] = true
	}
	return &NPIExporter{
		writer:         w,
		uniqueNPIs:     uniqueNPIs,
		remaining:      remaining,
		apiRunID:       apiRunID,
		requestedAtUTC: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Remaining returns how many requested NPIs have no output row yet.
func (e *NPIExporter) Remaining() int { return len(e.remaining) }

// RemainingKeys returns the requested NPIs with no output row yet, in their
// original uniqueNPIs order, so a caller can hand them to the API work pool
// without re-deriving the set itself.
func (e *NPIExporter) RemainingKeys() []string {
	keys := make([]string, 0, len(e.remaining))
	for _, npi := range e.uniqueNPIs {
		if e.remaining[npi] {
			keys = append(keys, npi)
		}
	}
	return keys
}

func ptr(s string) *string { return &s }

// WriteFromBulk streams source's primary NPPES file, emitting one row
// per NPI still in the remaining set that the file covers, and removes
// each emitted NPI from remaining. It returns as soon as remaining is
// empty, so later (slower) sources in the precedence order never get
// scanned once bulk has covered everything.
//
// When cache is non-nil, every emitted NPI is also upserted into it as
// status=ok under the NPPES bulk sentinel, so a bulk-only resolve leaves
// the cache (and therefore the mapping CSV and unresolved triage) in the
// same state an API-resolved NPI would.
func (e *NPIExporter) WriteFromBulk(ctx context.Context, source bulkload.PrimaryFile, cache *npistore.Store) (processed, emitted int, err error) {
	if len(e.remaining) == 0 {
		return 0, 0, nil
	}
	urlSentinel := source.URLSentinel()
	requestParams, _ := json.Marshal(map[string]string{"source": urlSentinel})

	processed, emitted, err = bulkload.StreamPrimary(source.NPIDataCSV, e.remaining, func(row bulkload.ProviderRow) error {
		basic := map[string]string{}
		if row.OrganizationName != "" {
			basic["organization_name"] = row.OrganizationName
		}
		if row.FirstName != "" {
			basic["first_name"] = row.FirstName
		}
		if row.LastName != "" {
			basic["last_name"] = row.LastName
		}
		basic["enumeration_type"] = row.EnumerationType
		basic["status"] = activeStatus(row.Deactivated)
		basicJSON, marshalErr := json.Marshal(basic)
		if marshalErr != nil {
			return fmt.Errorf("marshaling basic json for npi %s: %w", row.NPI, marshalErr)
		}

		if pushErr := e.writer.PushRow(NPIResolvedRow{
			NPI:               row.NPI,
			BasicJSON:         ptr(string(basicJSON)),
			URL:               ptr(urlSentinel),
			APIRunID:          ptr(e.apiRunID),
			RequestedAtUTC:    ptr(e.requestedAtUTC),
			RequestParamsJSON: ptr(string(requestParams)),
			ResultsJSON:       ptr("[]"),
			ResponseJSON:      ptr(string(basicJSON)),
		}); pushErr != nil {
			return pushErr
		}

		if cache != nil {
			if upsertErr := cache.UpsertOK(ctx, row.NPI, row.ProviderName); upsertErr != nil {
				return fmt.Errorf("upserting bulk-resolved npi %s into cache: %w", row.NPI, upsertErr)
			}
			responseRow := npistore.ResponseRow{
				NPI:               row.NPI,
				BasicJSON:         sql.NullString{String: string(basicJSON), Valid: true},
				URL:               urlSentinel,
				APIRunID:          urlSentinel,
				RequestedAtUTC:    e.requestedAtUTC,
				RequestParamsJSON: string(requestParams),
				ResultsJSON:       sql.NullString{String: "[]", Valid: true},
				ResponseJSONRaw:   sql.NullString{String: string(basicJSON), Valid: true},
			}
			if upsertErr := cache.UpsertResponses(ctx, []npistore.ResponseRow{responseRow}); upsertErr != nil {
				return fmt.Errorf("upserting bulk-resolved npi %s response into cache: %w", row.NPI, upsertErr)
			}
		}

		delete(e.remaining, row.NPI)
		return nil
	})
	return processed, emitted, err
}

func activeStatus(deactivated bool) string {
	if deactivated {
		return "deactivated"
	}
	return "active"
}

// WriteRemainingFromAPIResponses fills every still-remaining NPI from the
// cache's npi_api_responses table, or a "missing_cache" sentinel row when
// even the cache has nothing, so the Parquet dataset always has exactly
// one row per unique NPI from the spending source.
func (e *NPIExporter) WriteRemainingFromAPIResponses(ctx context.Context, store *npistore.Store) error {
	if len(e.remaining) == 0 {
		return nil
	}
	missingParams, _ := json.Marshal(map[string]string{"source": "missing_cache"})
	const missingResponseJSON = `{"result_count":0,"results":[]}`

	for _, npi := range e.uniqueNPIs {
		if !e.remaining[npi] {
			continue
		}
		resp, found, err := store.ResponseByNPI(ctx, npi)
		if err != nil {
			return err
		}

		var row NPIResolvedRow
		if found {
			row = NPIResolvedRow{
				NPI:                   npi,
				BasicJSON:             nullableString(resp.BasicJSON),
				AddressesJSON:         nullableString(resp.AddressesJSON),
				PracticeLocationsJSON: nullableString(resp.PracticeLocationsJSON),
				TaxonomiesJSON:        nullableString(resp.TaxonomiesJSON),
				IdentifiersJSON:       nullableString(resp.IdentifiersJSON),
				OtherNamesJSON:        nullableString(resp.OtherNamesJSON),
				EndpointsJSON:         nullableString(resp.EndpointsJSON),
				URL:                   ptr(resp.URL),
				ErrorMessage:          nullableString(resp.ErrorMessage),
				APIRunID:              ptr(resp.APIRunID),
				RequestedAtUTC:        ptr(resp.RequestedAtUTC),
				RequestParamsJSON:     ptr(resp.RequestParamsJSON),
				ResultsJSON:           nullableString(resp.ResultsJSON),
				ResponseJSON:          nullableString(resp.ResponseJSONRaw),
			}
		} else {
			row = NPIResolvedRow{
				NPI:               npi,
				URL:               ptr("missing_cache"),
				ErrorMessage:      ptr("missing_cache"),
				APIRunID:          ptr(e.apiRunID),
				RequestedAtUTC:    ptr(e.requestedAtUTC),
				RequestParamsJSON: ptr(string(missingParams)),
				ResultsJSON:       ptr("[]"),
				ResponseJSON:      ptr(missingResponseJSON),
			}
		}
		if err := e.writer.PushRow(row); err != nil {
			return err
		}
		delete(e.remaining, npi)
	}
	return nil
}

// Finish publishes the Parquet file.
func (e *NPIExporter) Finish() error { return e.writer.Finish() }

// Abort discards the partially written Parquet file.
func (e *NPIExporter) Abort() error { return e.writer.Abort() }
