package hcpcsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"providerresolve/internal/upstream"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := NewClient(upstream.NewClient(nil, 1), srv.URL)
	return c, srv.Close
}

func TestLookupBatchGroupsRecordsByCode(t *testing.T) {
	client, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			2,
			["A0425", "J1234"],
			{
				"short_desc": ["Ground mileage", "Drug X"],
				"long_desc": ["Ground mileage, per statute mile", "Drug X injection"],
				"add_dt": ["19840101", "20010101"],
				"act_eff_dt": ["19840101", "20010101"],
				"term_dt": ["", ""],
				"obsolete": ["false", "false"],
				"is_noc": ["false", "true"]
			},
			["A0425: Ground mileage", "J1234: Drug X"]
		]`))
	})
	defer closeSrv()

	results := client.LookupBatch(context.Background(), []string{"A0425", "J1234"}, "run-1")
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	a0425 := results["A0425"]
	if a0425.Err != nil || a0425.NotFound {
		t.Fatalf("unexpected A0425 result: %+v", a0425)
	}
	if len(a0425.Records) != 1 || a0425.Records[0].ShortDesc != "Ground mileage" {
		t.Errorf("unexpected A0425 records: %+v", a0425.Records)
	}
	j1234 := results["J1234"]
	if !j1234.Records[0].IsNOC {
		t.Errorf("expected J1234 to be flagged NOC")
	}
}

func TestLookupBatchNotFoundForMissingCode(t *testing.T) {
	client, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[1, ["A0425"], {"short_desc": ["Ground mileage"]}, ["A0425: Ground mileage"]]`))
	})
	defer closeSrv()

	results := client.LookupBatch(context.Background(), []string{"A0425", "Z9999"}, "run-1")
	if !results["Z9999"].NotFound {
		t.Errorf("expected Z9999 to be NotFound, got %+v", results["Z9999"])
	}
}

func TestLookupBatchFailsOverToSingleLookups(t *testing.T) {
	client, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// The Boolean-OR batch query fails on every attempt, so the upstream
		// retry cannot absorb it and only the single-code queries succeed.
		if strings.Contains(r.URL.Query().Get("q"), " OR ") {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
			return
		}
		w.Write([]byte(`[1, ["A0425"], {"short_desc": ["Ground mileage"]}, ["A0425: Ground mileage"]]`))
	})
	defer closeSrv()

	results := client.LookupBatch(context.Background(), []string{"A0425", "J1234"}, "run-1")
	if results["A0425"].Err != nil {
		t.Errorf("expected the single-code fallback for A0425 to succeed, got %v", results["A0425"].Err)
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode("  a0425 "); got != "A0425" {
		t.Errorf("NormalizeCode = %q, want A0425", got)
	}
}
