package npiapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"providerresolve/internal/upstream"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := NewClient(upstream.NewClient(nil, 1), srv.URL)
	return c, srv.Close
}

func TestLookupFoundPrefersOrganizationName(t *testing.T) {
	client, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"basic":{"organization_name":"ACME CLINIC","first_name":"","last_name":""}}]}`))
	})
	defer closeSrv()

	result := client.Lookup(context.Background(), "1234567893", "run-1")
	if result.Err != nil || result.NotFound {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ProviderName != "ACME CLINIC" {
		t.Errorf("ProviderName = %q, want ACME CLINIC", result.ProviderName)
	}
	if result.Reference.BasicJSON == "" {
		t.Errorf("expected BasicJSON to be captured")
	}
}

func TestLookupFoundFallsBackToFirstLastName(t *testing.T) {
	client, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"basic":{"organization_name":"","first_name":"Jane","last_name":"Doe"}}]}`))
	})
	defer closeSrv()

	result := client.Lookup(context.Background(), "1234567893", "run-1")
	if result.Err != nil || result.NotFound {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ProviderName != "Jane Doe" {
		t.Errorf("ProviderName = %q, want Jane Doe", result.ProviderName)
	}
}

func TestLookupNotFoundWhenNoResults(t *testing.T) {
	client, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	})
	defer closeSrv()

	result := client.Lookup(context.Background(), "1234567893", "run-1")
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if !result.NotFound {
		t.Errorf("expected NotFound")
	}
}

func TestLookupErrorOnServerFailure(t *testing.T) {
	client, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})
	defer closeSrv()

	result := client.Lookup(context.Background(), "1234567893", "run-1")
	if result.Err == nil {
		t.Fatalf("expected an error after exhausting retries")
	}
	if result.Reference.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want 500", result.Reference.HTTPStatus)
	}
}
