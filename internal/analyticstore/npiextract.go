package analyticstore

import (
	"encoding/json"
	"strings"
)

// ProviderFields is the projection extracted from one resolved-NPI row's
// basic/addresses/taxonomies JSON columns into provider_info (spec.md
// §4.I): prefer the LOCATION-purpose address, prefer the primary=true
// taxonomy (else the first), map names verbatim.
type ProviderFields struct {
	NPI                 string
	DisplayName         *string
	EnumerationType     *string
	PrimaryTaxonomyCode *string
	PrimaryTaxonomyDesc *string
	State               *string
	City                *string
	Zip5                *string
}

// extractProviderFields mirrors the original's extract_provider_fields,
// adapted to the already-split basic_json/addresses_json/taxonomies_json
// columns internal/artifact writes (rather than digging them out of one
// nested response_json["results"][0] object): bulk-sourced rows populate
// only basic_json, API-cache-sourced rows populate all three.
func extractProviderFields(npi string, basicJSON, addressesJSON, taxonomiesJSON *string) ProviderFields {
	out := ProviderFields{NPI: npi}

	if basicJSON != nil {
		var basic map[string]any
		if json.Unmarshal([]byte(*basicJSON), &basic) == nil {
			out.EnumerationType = stringField(basic, "enumeration_type")
			if org := trimmedNonEmpty(stringField(basic, "organization_name")); org != nil {
				out.DisplayName = org
			} else {
				first := stringFieldOr(basic, "first_name", "")
				middle := stringFieldOr(basic, "middle_name", "")
				last := stringFieldOr(basic, "last_name", "")
				var parts []string
				for _, p := range []string{first, middle, last} {
					if p != "" {
						parts = append(parts, p)
					}
				}
				if name := strings.TrimSpace(strings.Join(parts, " ")); name != "" {
					out.DisplayName = &name
				}
			}
		}
	}

	if addressesJSON != nil {
		var addrs []map[string]any
		if json.Unmarshal([]byte(*addressesJSON), &addrs) == nil && len(addrs) > 0 {
			chosen := addrs[0]
			for _, a := range addrs {
				if purpose := stringFieldOr(a, "address_purpose", ""); strings.EqualFold(purpose, "LOCATION") {
					chosen = a
					break
				}
			}
			out.State = stringField(chosen, "state")
			out.City = stringField(chosen, "city")
			if postal := stringFieldOr(chosen, "postal_code", ""); postal != "" {
				if zip5, ok := NormalizeZip5(postal); ok {
					out.Zip5 = &zip5
				}
			}
		}
	}

	if taxonomiesJSON != nil {
		var taxes []map[string]any
		if json.Unmarshal([]byte(*taxonomiesJSON), &taxes) == nil && len(taxes) > 0 {
			chosen := taxes[0]
			for _, t := range taxes {
				if primary, _ := t["primary"].(bool); primary {
					chosen = t
					break
				}
			}
			out.PrimaryTaxonomyCode = stringField(chosen, "code")
			desc := trimmedNonEmpty(stringField(chosen, "desc"))
			if desc == nil {
				desc = trimmedNonEmpty(stringField(chosen, "taxonomy_group"))
			}
			out.PrimaryTaxonomyDesc = desc
		}
	}

	return out
}

func stringField(m map[string]any, key string) *string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func stringFieldOr(m map[string]any, key, fallback string) string {
	if s := stringField(m, key); s != nil {
		return *s
	}
	return fallback
}

func trimmedNonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
