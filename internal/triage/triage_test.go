package triage

import "testing"

func TestClassifyHCPCS(t *testing.T) {
	cases := []struct {
		raw              string
		wantType         string
		wantBase         string
		wantSuffix       string
	}{
		{"", "placeholder_or_invalid", "", ""},
		{"NONE", "placeholder_or_invalid", "", ""},
		{"LTFUP", "word_or_flag", "", ""},
		{"GT", "modifier_2char", "GT", "GT"},
		{"D0123A", "CDT_plus_suffix", "D0123", "A"},
		{"D0120", "CDT", "D0120", ""},
		{"99213GT", "CPT_5digit_plus_modifier", "99213", "GT"},
		{"Q3014GT", "HCPCS_L2_plus_modifier", "Q3014", "GT"},
		{"0001F25", "CPT_catII_plus_modifier", "0001F", "25"},
		{"0001F", "CPT_category_II", "0001F", ""},
		{"0001T", "CPT_category_III", "0001T", ""},
		{"0001U", "CPT_PLA", "0001U", ""},
		{"A0425", "HCPCS_level_II", "A0425", ""},
		{"99213", "CPT_or_HCPCS_L1_5digit", "99213", ""},
		{"0450", "revenue_code_4digit", "0450", ""},
		{"470", "drg_like_3digit", "470", ""},
		{"0SG00Z0", "icd10pcs_like_7char", "0SG00Z0", ""},
		{"1234A", "4digit_plus_letter_other", "1234A", ""},
		{"123456", "numeric_6to8_unknown", "123456", ""},
		{"AB12C", "alphanum_5char_unknown", "AB12C", ""},
		{"!!!", "unknown", "!!!", ""},
	}
	for _, c := range cases {
		got := ClassifyHCPCS(c.raw)
		if got.InferredCodeType != c.wantType || got.BaseCode != c.wantBase || got.SuffixOrModifier != c.wantSuffix {
			t.Errorf("ClassifyHCPCS(%q) = %+v, want type=%q base=%q suffix=%q", c.raw, got, c.wantType, c.wantBase, c.wantSuffix)
		}
	}
}

func TestClassifyNPI(t *testing.T) {
	cases := []struct {
		raw      string
		wantType string
	}{
		{"", "placeholder_or_invalid"},
		{"0000000000", "placeholder_or_invalid"},
		{"ABCDEFGHIJ", "non_numeric"},
		{"12345", "numeric_wrong_len"},
		{"1234567893", "npi_luhn_valid"},
		{"1234567890", "npi_luhn_invalid"},
	}
	for _, c := range cases {
		got := ClassifyNPI(c.raw)
		if got.InferredCodeType != c.wantType {
			t.Errorf("ClassifyNPI(%q) = %q, want %q", c.raw, got.InferredCodeType, c.wantType)
		}
	}
}

func TestHCPCSNeedsReviewBuckets(t *testing.T) {
	if !hcpcsNeedsReview("unknown") || !hcpcsNeedsReview("word_or_flag") {
		t.Error("unknown and word_or_flag should need review")
	}
	if hcpcsNeedsReview("HCPCS_level_II") {
		t.Error("a clean HCPCS_level_II classification shouldn't need review")
	}
}

func TestNPINeedsReviewBuckets(t *testing.T) {
	if !npiNeedsReview("npi_luhn_invalid") || !npiNeedsReview("non_numeric") {
		t.Error("npi_luhn_invalid and non_numeric should need review")
	}
	if npiNeedsReview("npi_luhn_valid") {
		t.Error("a Luhn-valid NPI shouldn't need review")
	}
}
