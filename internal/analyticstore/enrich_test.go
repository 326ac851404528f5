package analyticstore

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
)

func TestEnrichDatasetPrefersNonNOCOnTie(t *testing.T) {
	dir := t.TempDir()

	spendingPath := filepath.Join(dir, "spending.csv")
	spending := "BILLING_PROVIDER_NPI_NUM,SERVICING_PROVIDER_NPI_NUM,HCPCS_CODE,TOTAL_PAID,CLAIM_FROM_MONTH\n" +
		"1234567893,9999999999,99213,100.00,2024-03\n"
	if err := os.WriteFile(spendingPath, []byte(spending), 0o644); err != nil {
		t.Fatalf("writing spending fixture: %v", err)
	}

	npiMappingPath := filepath.Join(dir, "npi_mapping.csv")
	npiMapping := "npi,provider_name,status,fetched_at_unix\n" +
		"1234567893,Jane Doe,ok,1700000000\n" +
		"9999999999,ACME CLINIC,ok,1700000000\n"
	if err := os.WriteFile(npiMappingPath, []byte(npiMapping), 0o644); err != nil {
		t.Fatalf("writing npi mapping fixture: %v", err)
	}

	hcpcsMappingPath := filepath.Join(dir, "hcpcs_mapping.csv")
	hcpcsMapping := "hcpcs_code,short_desc,long_desc,add_dt,act_eff_dt,term_dt,obsolete,is_noc,status,fetched_at_unix\n" +
		"99213,NOC variant,Unlisted evaluation and management service,20200101,20200101,,false,true,ok,1700000000\n" +
		"99213,\"Office visit, established\",Office or other outpatient visit for an established patient,20200101,20200101,,false,false,ok,1700000000\n"
	if err := os.WriteFile(hcpcsMappingPath, []byte(hcpcsMapping), 0o644); err != nil {
		t.Fatalf("writing hcpcs mapping fixture: %v", err)
	}

	outputPath := filepath.Join(dir, "enriched.csv")
	if err := EnrichDataset(context.Background(), spendingPath, outputPath, npiMappingPath, hcpcsMappingPath); err != nil {
		t.Fatalf("EnrichDataset: %v", err)
	}

	f, err := os.Open(outputPath)
	if err != nil {
		t.Fatalf("opening enriched output: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading enriched csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records (incl. header), want 2", len(records))
	}
	header, row := records[0], records[1]
	col := func(name string) string {
		for i, h := range header {
			if h == name {
				return row[i]
			}
		}
		t.Fatalf("column %s not found in header %v", name, header)
		return ""
	}

	if got := col("BILLING_PROVIDER"); got != "Jane Doe" {
		t.Errorf("BILLING_PROVIDER = %q, want Jane Doe", got)
	}
	if got := col("SERVICING_PROVIDER"); got != "ACME CLINIC" {
		t.Errorf("SERVICING_PROVIDER = %q, want ACME CLINIC", got)
	}
	if got := col("HCPCS_LONG_DESC"); got != "Office or other outpatient visit for an established patient" {
		t.Errorf("HCPCS_LONG_DESC = %q, want the non-NOC description to win the tie", got)
	}
	if got := col("HCPCS_IS_NOC"); got != "false" {
		t.Errorf("HCPCS_IS_NOC = %q, want false (non-NOC wins the rank-0 tie)", got)
	}
}

func TestEnrichDatasetMissingMappingFileErrors(t *testing.T) {
	dir := t.TempDir()
	spendingPath := filepath.Join(dir, "spending.csv")
	os.WriteFile(spendingPath, []byte("HCPCS_CODE\n99213\n"), 0o644)

	err := EnrichDataset(context.Background(), spendingPath, filepath.Join(dir, "out.csv"),
		filepath.Join(dir, "missing_npi.csv"), filepath.Join(dir, "missing_hcpcs.csv"))
	if err == nil {
		t.Fatal("expected an error when the npi mapping csv is missing")
	}
}
