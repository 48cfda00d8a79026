package coordclean

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

// CountryInfo contains metadata about a country from Geonames.
type CountryInfo struct {
	ISO        string
	ISO3       string
	ISONumeric int16
	Fips       string
	Country    string
	Capital    string
	Area       int32
	Population int32
	Continent  string
	Neighbours string
	GeonameId  int32
}

// maxCountryNameDistance caps the edit distance accepted when resolving a
// misspelled country name.
const maxCountryNameDistance = 2

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// isAlpha2 reports whether s looks like an ISO-3166 alpha-2 code.
func isAlpha2(s string) bool {
	if len(s) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

func (g *Gazetteer) setCountries(infos []CountryInfo) {
	g.countries = append([]CountryInfo(nil), infos...)
	sort.Slice(g.countries, func(i, j int) bool { return g.countries[i].ISO < g.countries[j].ISO })

	g.iso2 = make(map[string]int, len(g.countries))
	g.iso3 = make(map[string]string, len(g.countries))
	g.names = make(map[string]string, len(g.countries))
	for i, c := range g.countries {
		iso := normalizeCode(c.ISO)
		g.iso2[iso] = i
		if c.ISO3 != "" {
			g.iso3[normalizeCode(c.ISO3)] = iso
		}
		if c.Country != "" {
			g.names[strings.ToLower(c.Country)] = iso
		}
	}
}

// Countries returns the country metadata the gazetteer was built with,
// sorted by ISO code.
func (g *Gazetteer) Countries() []CountryInfo {
	return append([]CountryInfo(nil), g.countries...)
}

// ResolveCountry maps an ISO-3166 alpha-2 code, an alpha-3 code or a
// country name to an alpha-2 code. Names are matched case-insensitively,
// then by edit distance; an ambiguous best match is rejected.
//
// Without country metadata only syntactically valid alpha-2 codes resolve.
func (g *Gazetteer) ResolveCountry(s string) (string, bool) {
	code := normalizeCode(s)
	if code == "" {
		return "", false
	}
	if len(g.countries) == 0 {
		if isAlpha2(code) {
			return code, true
		}
		return "", false
	}

	if _, ok := g.iso2[code]; ok {
		return code, true
	}
	if iso, ok := g.iso3[code]; ok {
		return iso, true
	}
	name := strings.ToLower(strings.TrimSpace(s))
	if iso, ok := g.names[name]; ok {
		return iso, true
	}
	if len(name) <= 3 {
		return "", false
	}

	best, bestDist, ties := "", maxCountryNameDistance+1, 0
	for _, c := range g.countries {
		d := levenshtein.ComputeDistance(name, strings.ToLower(c.Country))
		switch {
		case d < bestDist:
			best, bestDist, ties = normalizeCode(c.ISO), d, 1
		case d == bestDist:
			ties++
		}
	}
	if best == "" || ties > 1 {
		return "", false
	}
	return best, true
}

// LoadGeonamesCountryInfo parses a Geonames countryInfo.txt file.
func LoadGeonamesCountryInfo(path string) ([]CountryInfo, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer fi.Close()

	var out []CountryInfo
	scanner := bufio.NewScanner(fi)
	scanner.Split(bufio.ScanLines)

	for scanner.Scan() {
		t := scanner.Text()
		if len(t) == 0 || t[0] == '#' {
			continue
		}

		fields := strings.SplitN(t, "\t", 19)
		if len(fields) != 19 || fields[0] == "" || fields[0] == "0" {
			continue
		}

		isoNumeric, _ := strconv.Atoi(fields[2])
		area, _ := strconv.ParseFloat(fields[6], 64)
		pop, _ := strconv.Atoi(fields[7])
		gid, _ := strconv.Atoi(fields[16])

		out = append(out, CountryInfo{
			ISO:        fields[0],
			ISO3:       fields[1],
			ISONumeric: int16(isoNumeric),
			Fips:       fields[3],
			Country:    fields[4],
			Capital:    fields[5],
			Area:       int32(area),
			Population: int32(pop),
			Continent:  fields[8],
			Neighbours: fields[17],
			GeonameId:  int32(gid),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return out, nil
}
