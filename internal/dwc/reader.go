// Package dwc reads occurrence records from Darwin Core tab-separated
// files, such as GBIF simple downloads.
package dwc

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/andreiashu/coordclean"
)

// column aliases, matched case-insensitively. The first name is the
// Darwin Core term.
var columns = map[string][]string{
	"id":          {"gbifid", "id", "occurrenceid"},
	"species":     {"species", "scientificname"},
	"longitude":   {"decimallongitude", "longitude", "lon"},
	"latitude":    {"decimallatitude", "latitude", "lat"},
	"country":     {"countrycode", "country_code"},
	"dataset":     {"datasetkey", "datasetid", "dataset_id"},
	"basis":       {"basisofrecord", "basis_of_record"},
	"uncertainty": {"coordinateuncertaintyinmeters", "coordinate_uncertainty"},
	"year":        {"year"},
	"count":       {"individualcount", "individual_count"},
}

var required = []string{"id", "species", "longitude", "latitude"}

// maxLineBytes bounds a single line; GBIF rows with long remarks exceed
// bufio's default.
const maxLineBytes = 4 << 20

// ReadFile reads all records from a TSV file.
func ReadFile(path string) ([]coordclean.Record, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer fi.Close()
	return Read(fi)
}

// Read parses a header line followed by one record per line. Empty or
// unparseable coordinates become NaN, so the validator reports them as
// invalid instead of placing them at (0, 0).
func Read(r io.Reader) ([]coordclean.Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("empty input: missing header")
	}
	idx, err := headerIndex(scanner.Text())
	if err != nil {
		return nil, err
	}

	var out []coordclean.Record
	line := 1
	for scanner.Scan() {
		line++
		t := scanner.Text()
		if strings.TrimSpace(t) == "" {
			continue
		}
		fields := strings.Split(t, "\t")
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[i])
		}

		rec := coordclean.Record{
			ID:              get("id"),
			Species:         get("species"),
			Longitude:       parseCoordinate(get("longitude")),
			Latitude:        parseCoordinate(get("latitude")),
			CountryCode:     get("country"),
			DatasetKey:      get("dataset"),
			BasisOfRecord:   get("basis"),
			Uncertainty:     parseFloat(get("uncertainty")),
			Year:            parseInt(get("year")),
			IndividualCount: parseInt(get("count")),
		}
		if rec.ID == "" {
			rec.ID = "line-" + strconv.Itoa(line)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line, err)
	}
	return out, nil
}

func headerIndex(header string) (map[string]int, error) {
	pos := make(map[string]int)
	for i, h := range strings.Split(header, "\t") {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := make(map[string]int)
	for col, aliases := range columns {
		for _, a := range aliases {
			if i, ok := pos[a]; ok {
				idx[col] = i
				break
			}
		}
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("header: missing %s column (one of %s)", col, strings.Join(columns[col], ", "))
		}
	}
	return idx, nil
}

func parseCoordinate(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0
	}
	return v
}

func parseInt(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
