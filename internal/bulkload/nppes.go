// Package bulkload streams the NPPES bulk provider files (spec.md §4.E):
// a full NPI roster published monthly, plus a weekly incremental update.
// Loading these locally lets a resolve run settle most NPIs without ever
// calling the NPPES API.
package bulkload

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PrimaryFile is one NPPES bulk bundle: the primary npidata file plus its
// optional sibling files (other names, practice locations, endpoints).
type PrimaryFile struct {
	Label               string // "weekly" or "monthly"
	NPIDataCSV          string
	OtherNameCSV        string
	PracticeLocationCSV string
	EndpointCSV         string
}

// URLSentinel is the synthetic source tag recorded alongside rows derived
// from this bundle, so downstream artifacts can tell bulk-derived rows
// apart from API-derived ones.
func (f PrimaryFile) URLSentinel() string {
	return fmt.Sprintf("nppes_bulk:%s:%s", f.Label, filepath.Base(f.NPIDataCSV))
}

// DiscoverBulkFiles finds the latest primary CSV under weeklyDir and
// monthlyDir (if present) and pairs each with its sibling files.
// spec.md §4.E requires weekly data to take precedence over monthly, so
// the weekly bundle (if found) is always returned first.
func DiscoverBulkFiles(weeklyDir, monthlyDir string) ([]PrimaryFile, error) {
	var sources []PrimaryFile

	weekly, err := SelectLatestPrimary(weeklyDir)
	if err != nil {
		return nil, err
	}
	if weekly != "" {
		sources = append(sources, buildPrimaryFile("weekly", weekly))
	}

	monthly, err := SelectLatestPrimary(monthlyDir)
	if err != nil {
		return nil, err
	}
	if monthly != "" {
		sources = append(sources, buildPrimaryFile("monthly", monthly))
	}

	return sources, nil
}

func buildPrimaryFile(label, npidataCSV string) PrimaryFile {
	return PrimaryFile{
		Label:               label,
		NPIDataCSV:          npidataCSV,
		OtherNameCSV:        findSiblingCSV(npidataCSV, "othername_pfile_"),
		PracticeLocationCSV: findSiblingCSV(npidataCSV, "pl_pfile_"),
		EndpointCSV:         findSiblingCSV(npidataCSV, "endpoint_pfile_"),
	}
}

// SelectLatestPrimary returns the most recently modified NPPES primary CSV
// under dir, or "" if none is found. dir is searched recursively.
func SelectLatestPrimary(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("statting nppes dir %s: %w", dir, err)
	}

	var candidates []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(path), ".csv") {
			return nil
		}
		ok, checkErr := isPrimaryCSV(path)
		if checkErr != nil {
			return nil // unreadable candidate; skip rather than fail the whole walk
		}
		if ok {
			candidates = append(candidates, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking nppes dir %s: %w", dir, err)
	}
	if len(candidates) == 0 {
		return "", nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		mi, _ := os.Stat(candidates[i])
		mj, _ := os.Stat(candidates[j])
		return mi.ModTime().Before(mj.ModTime())
	})
	return candidates[len(candidates)-1], nil
}

// isPrimaryCSV reports whether path's header row carries the NPI,
// "Entity Type Code", and either the organization name column or both
// individual name columns, distinguishing the primary npidata file from
// its siblings.
func isPrimaryCSV(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	headers, err := csv.NewReader(f).Read()
	if err != nil {
		return false, err
	}

	var hasNPI, hasEntityType, hasOrg, hasFirst, hasLast bool
	for _, h := range headers {
		switch strings.TrimSpace(h) {
		case "NPI":
			hasNPI = true
		case "Entity Type Code":
			hasEntityType = true
		case "Provider Organization Name (Legal Business Name)":
			hasOrg = true
		case "Provider First Name":
			hasFirst = true
		case "Provider Last Name (Legal Name)":
			hasLast = true
		}
	}
	return hasNPI && hasEntityType && (hasOrg || (hasFirst && hasLast)), nil
}

func findSiblingCSV(primaryCSV, prefix string) string {
	dir := filepath.Dir(primaryCSV)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		lower := strings.ToLower(name)
		if !strings.HasSuffix(lower, ".csv") || strings.HasSuffix(lower, "_fileheader.csv") {
			continue
		}
		if strings.HasPrefix(name, prefix) {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Strings(candidates)
	return candidates[0]
}

// ProviderRow is one resolved NPI record derived from an NPPES primary
// file row.
type ProviderRow struct {
	NPI             string
	ProviderName    string
	EnumerationType string // "NPI-1" individual, "NPI-2" organization
	Deactivated     bool

	// OrganizationName/FirstName/LastName are the raw NPPES name columns,
	// kept alongside the derived ProviderName so exporters building a
	// "basic" JSON object can mirror the NPPES API's own field shape.
	OrganizationName string
	FirstName        string
	LastName         string
}

// StreamPrimary reads path and invokes onRow once per record whose NPI is
// present in want (want is consulted, never mutated). When want is non-nil
// and empty (onRow may delete from it), the scan stops before the next
// row. It returns the number of rows scanned and the number emitted to
// onRow.
func StreamPrimary(path string, want map[string]bool, onRow func(ProviderRow) error) (processed, emitted int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("opening nppes primary csv %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	headers, err := r.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("reading nppes headers from %s: %w", path, err)
	}
	idx := headerIndex(headers)

	for {
		if want != nil && len(want) == 0 {
			break
		}
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return processed, emitted, fmt.Errorf("reading nppes record in %s: %w", path, err)
		}
		processed++

		npi := strings.TrimSpace(field(record, idx, "NPI"))
		if npi == "" {
			continue
		}
		if want != nil && !want[npi] {
			continue
		}

		entityType := strings.TrimSpace(field(record, idx, "Entity Type Code"))
		orgName := strings.TrimSpace(field(record, idx, "Provider Organization Name (Legal Business Name)"))
		first := strings.TrimSpace(field(record, idx, "Provider First Name"))
		last := strings.TrimSpace(field(record, idx, "Provider Last Name (Legal Name)"))

		enumerationType := "NPI-2"
		var name string
		if entityType == "1" {
			enumerationType = "NPI-1"
			name = strings.TrimSpace(first + " " + last)
		} else {
			name = orgName
		}
		if name == "" {
			continue
		}

		deactivated := strings.TrimSpace(field(record, idx, "NPI Deactivation Date")) != ""

		if err := onRow(ProviderRow{
			NPI:              npi,
			ProviderName:     name,
			EnumerationType:  enumerationType,
			Deactivated:      deactivated,
			OrganizationName: orgName,
			FirstName:        first,
			LastName:         last,
		}); err != nil {
			return processed, emitted, err
		}
		emitted++
	}
	return processed, emitted, nil
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}

func field(record []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}
