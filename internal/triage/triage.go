// Package triage classifies the identifiers a resolve run could not settle
// (spec.md §4.H) into structural buckets so a human reviewer can decide
// what, if anything, to do about each one, and emits the review CSVs.
package triage

import (
	"strings"

	"providerresolve/internal/luhn"
)

// placeholder values that never carry real identifier meaning.
var placeholders = map[string]bool{
	"":        true,
	"-":       true,
	"0":       true,
	"00":      true,
	"000":     true,
	"0000":    true,
	"00000":   true,
	"000000":  true,
	"0000000": true,
	"NONE":    true,
	"NULL":    true,
	"N/A":     true,
	"NA":      true,
}

// Classification is the outcome of classifying one identifier: the
// inferred structural code type plus, where the shape splits cleanly, the
// base code and trailing suffix/modifier.
type Classification struct {
	InferredCodeType  string
	BaseCode          string
	SuffixOrModifier  string
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isAllUpperAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

func isAllUpperAlphanum(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if !(b >= '0' && b <= '9') && !(b >= 'A' && b <= 'Z') {
			return false
		}
	}
	return true
}

func isICD10PCSLike7Char(u string) bool {
	if len(u) != 7 {
		return false
	}
	for i := 0; i < len(u); i++ {
		b := u[i]
		switch {
		case b >= '0' && b <= '9':
		case b >= 'A' && b <= 'H':
		case b >= 'J' && b <= 'N':
		case b >= 'P' && b <= 'Z':
		default:
			return false
		}
	}
	return true
}

// ClassifyHCPCS infers the structural shape of a HCPCS/CPT-family
// identifier that the resolve run never found in any source, following
// the same ordered cascade of shape checks the Rust build-datasets triage
// step uses: placeholders, word/flag codes, 2-char modifiers, CDT dental
// codes (plus suffix), CPT/HCPCS 5-digit codes (plus modifier), category
// II/III/PLA codes, revenue/DRG-like short numerics, ICD-10-PCS-like
// 7-char codes, and a handful of unknown buckets.
func ClassifyHCPCS(raw string) Classification {
	s := strings.TrimSpace(raw)
	u := strings.ToUpper(s)

	if placeholders[u] {
		return Classification{InferredCodeType: "placeholder_or_invalid"}
	}

	switch {
	case len(u) >= 3 && isAllUpperAlpha(u):
		return Classification{InferredCodeType: "word_or_flag"}

	case len(u) == 2 && isAllUpperAlphanum(u):
		return Classification{InferredCodeType: "modifier_2char", BaseCode: u, SuffixOrModifier: u}

	case (len(u) == 6 || len(u) == 7) && strings.HasPrefix(u, "D") &&
		isAllDigits(u[1:5]) && isAllUpperAlphanum(u[5:]):
		return Classification{InferredCodeType: "CDT_plus_suffix", BaseCode: u[:5], SuffixOrModifier: u[5:]}

	case len(u) == 5 && strings.HasPrefix(u, "D") && isAllDigits(u[1:]):
		return Classification{InferredCodeType: "CDT", BaseCode: u}

	case len(u) == 7 && isAllDigits(u[:5]) && isAllUpperAlphanum(u[5:]):
		return Classification{InferredCodeType: "CPT_5digit_plus_modifier", BaseCode: u[:5], SuffixOrModifier: u[5:]}

	case len(u) == 7 && u[0] >= 'A' && u[0] <= 'Z' && isAllDigits(u[1:5]) && isAllUpperAlphanum(u[5:]):
		return Classification{InferredCodeType: "HCPCS_L2_plus_modifier", BaseCode: u[:5], SuffixOrModifier: u[5:]}

	case len(u) == 7 && isAllDigits(u[:4]) && u[4] == 'F' && isAllUpperAlphanum(u[5:]):
		return Classification{InferredCodeType: "CPT_catII_plus_modifier", BaseCode: u[:5], SuffixOrModifier: u[5:]}

	case len(u) == 5 && isAllDigits(u[:4]) && u[4] == 'F':
		return Classification{InferredCodeType: "CPT_category_II", BaseCode: u}

	case len(u) == 5 && isAllDigits(u[:4]) && u[4] == 'T':
		return Classification{InferredCodeType: "CPT_category_III", BaseCode: u}

	case len(u) == 5 && isAllDigits(u[:4]) && u[4] == 'U':
		return Classification{InferredCodeType: "CPT_PLA", BaseCode: u}

	case len(u) == 5 && u[0] >= 'A' && u[0] <= 'Z' && isAllDigits(u[1:]):
		return Classification{InferredCodeType: "HCPCS_level_II", BaseCode: u}

	case len(u) == 5 && isAllDigits(u):
		return Classification{InferredCodeType: "CPT_or_HCPCS_L1_5digit", BaseCode: u}

	case len(u) == 4 && isAllDigits(u):
		return Classification{InferredCodeType: "revenue_code_4digit", BaseCode: u}

	case len(u) == 3 && isAllDigits(u):
		return Classification{InferredCodeType: "drg_like_3digit", BaseCode: u}

	case isICD10PCSLike7Char(u):
		return Classification{InferredCodeType: "icd10pcs_like_7char", BaseCode: u}

	case len(u) == 5 && isAllDigits(u[:4]) && u[4] >= 'A' && u[4] <= 'Z':
		return Classification{InferredCodeType: "4digit_plus_letter_other", BaseCode: u}

	case len(u) >= 6 && len(u) <= 8 && isAllDigits(u):
		return Classification{InferredCodeType: "numeric_6to8_unknown", BaseCode: u}

	case len(u) == 5 && isAllUpperAlphanum(u):
		return Classification{InferredCodeType: "alphanum_5char_unknown", BaseCode: u}

	default:
		return Classification{InferredCodeType: "unknown", BaseCode: u}
	}
}

// ClassifyNPI infers the structural shape of an identifier that was
// submitted as an NPI but never resolved: placeholder/all-zero,
// non-numeric, wrong length, or 10 digits that either pass or fail the
// Luhn checksum spec.md §3.1 (and [[internal/luhn]]) implements.
func ClassifyNPI(raw string) Classification {
	s := strings.TrimSpace(raw)
	u := strings.ToUpper(s)

	if placeholders[u] || (u != "" && allZero(u)) {
		return Classification{InferredCodeType: "placeholder_or_invalid"}
	}
	if !isAllDigits(u) {
		return Classification{InferredCodeType: "non_numeric"}
	}
	if len(u) != 10 {
		return Classification{InferredCodeType: "numeric_wrong_len", BaseCode: u}
	}
	if luhn.ValidNPI(u) {
		return Classification{InferredCodeType: "npi_luhn_valid", BaseCode: u}
	}
	return Classification{InferredCodeType: "npi_luhn_invalid", BaseCode: u}
}

func allZero(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '0' {
			return false
		}
	}
	return true
}

// NormalizeIdentifier uppercases and trims raw the same way the
// classifiers do, so callers can report the normalized form alongside the
// original.
func NormalizeIdentifier(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// hcpcsNeedsReview reports whether inferredCodeType is one of the shapes
// that couldn't be mapped to a concrete code and so needs a human look.
func hcpcsNeedsReview(inferredCodeType string) bool {
	switch inferredCodeType {
	case "unknown", "word_or_flag", "placeholder_or_invalid", "numeric_6to8_unknown", "alphanum_5char_unknown":
		return true
	default:
		return false
	}
}

// hcpcsConcatType reports whether inferredCodeType is a base+modifier
// shape whose pieces should be reported concatenated in the unique-counts
// breakdown.
func hcpcsConcatType(inferredCodeType string) bool {
	switch inferredCodeType {
	case "HCPCS_L2_plus_modifier", "CPT_5digit_plus_modifier", "CDT_plus_suffix", "CPT_catII_plus_modifier":
		return true
	default:
		return false
	}
}

// npiNeedsReview reports whether inferredCodeType is one of the shapes
// that couldn't be confirmed as a valid NPI and so needs a human look.
func npiNeedsReview(inferredCodeType string) bool {
	switch inferredCodeType {
	case "placeholder_or_invalid", "non_numeric", "numeric_wrong_len", "npi_luhn_invalid":
		return true
	default:
		return false
	}
}
