package luhn

import "testing"

func TestValidNPI(t *testing.T) {
	cases := []struct {
		npi  string
		want bool
	}{
		{"1234567893", true},  // textbook-valid NPI used throughout the NPPES docs
		{"1234567890", false}, // fails the checksum
		{"0000000000", false}, // placeholder, wrong checksum
		{"123456789", false},  // too short
		{"12345678931", false},
		{"123456789A", false}, // non-numeric
	}

	for _, c := range cases {
		if got := ValidNPI(c.npi); got != c.want {
			t.Errorf("ValidNPI(%q) = %v, want %v", c.npi, got, c.want)
		}
	}
}
