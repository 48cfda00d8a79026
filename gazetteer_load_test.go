package coordclean

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	. "gopkg.in/check.v1"
)

type LoadSuite struct {
	dataDir  string
	cacheDir string
}

var _ = Suite(&LoadSuite{})

const countriesGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"iso_a2": "-99", "iso_a2_eh": "DE", "name": "Germany"},
     "geometry": {"type": "Polygon", "coordinates": [[[5,47],[15,47],[15,55],[5,55],[5,47]]]}},
    {"type": "Feature", "properties": {"iso_a2": "PL", "name": "Poland"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[15,49],[24,49],[24,55],[15,55],[15,49]]]]}}
  ]
}`

const centroidsGeoJSON = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:OGC:1.3:CRS84"}},
  "features": [
    {"type": "Feature", "properties": {"iso2": "DE", "name": "Germany", "kind": "country"},
     "geometry": {"type": "Point", "coordinates": [10.4515, 51.1657]}}
  ]
}`

const mercatorGeoJSON = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "EPSG:3857"}},
  "features": [
    {"type": "Feature", "properties": {"name": "Somewhere"},
     "geometry": {"type": "Point", "coordinates": [1113194.9, 6446275.8]}}
  ]
}`

// geonamesLine builds a tab-separated row with 19 columns, setting the
// given column indexes.
func geonamesLine(cols map[int]string) string {
	fields := make([]string, 19)
	for i, v := range cols {
		fields[i] = v
	}
	return strings.Join(fields, "\t")
}

func (s *LoadSuite) SetUpTest(c *C) {
	s.dataDir = c.MkDir()
	s.cacheDir = filepath.Join(c.MkDir(), "cache")

	s.write(c, fileCountries, countriesGeoJSON)
	s.write(c, fileCentroids, centroidsGeoJSON)
	s.write(c, fileCountryInfo, strings.Join([]string{
		"#ISO\tISO3\tISO-Numeric\t...",
		geonamesLine(map[int]string{0: "DE", 1: "DEU", 2: "276", 4: "Germany", 5: "Berlin", 8: "EU", 16: "2921044"}),
		geonamesLine(map[int]string{0: "PL", 1: "POL", 2: "616", 4: "Poland", 5: "Warsaw", 8: "EU", 16: "798544"}),
		"too\tshort",
	}, "\n"))

	zf, err := os.Create(filepath.Join(s.dataDir, fileCities))
	c.Assert(err, IsNil)
	zw := zip.NewWriter(zf)
	w, err := zw.Create("cities1000.txt")
	c.Assert(err, IsNil)
	_, err = w.Write([]byte(strings.Join([]string{
		geonamesLine(map[int]string{0: "2950159", 1: "Berlin", 4: "52.52437", 5: "13.41053", 6: "P", 7: "PPLC", 8: "DE"}),
		geonamesLine(map[int]string{0: "2911298", 1: "Hamburg", 4: "53.55073", 5: "9.99302", 6: "P", 7: "PPLA", 8: "DE"}),
		geonamesLine(map[int]string{0: "1", 1: "Broken", 4: "north", 5: "13", 7: "PPLC", 8: "XX"}),
	}, "\n")))
	c.Assert(err, IsNil)
	c.Assert(zw.Close(), IsNil)
	c.Assert(zf.Close(), IsNil)
}

func (s *LoadSuite) write(c *C, name, content string) {
	c.Assert(os.WriteFile(filepath.Join(s.dataDir, name), []byte(content), 0644), IsNil)
}

func (s *LoadSuite) load() (*Gazetteer, error) {
	return LoadGazetteer(WithDataDir(s.dataDir), WithCacheDir(s.cacheDir), WithLogger(quietLogger()))
}

func (s *LoadSuite) TestLoadGeoJSONLayer(c *C) {
	l, err := LoadGeoJSONLayer(filepath.Join(s.dataDir, fileCountries), CategoryCountry)
	c.Assert(err, IsNil)
	c.Check(l.CRS, Equals, "OGC:CRS84")
	c.Assert(l.Features, HasLen, 2)
	c.Check(l.Features[0].Code, Equals, "DE")
	c.Check(l.Features[1].Code, Equals, "PL")

	l, err = LoadGeoJSONLayer(filepath.Join(s.dataDir, fileCentroids), CategoryCentroid)
	c.Assert(err, IsNil)
	c.Check(l.CRS, Equals, "urn:ogc:def:crs:OGC:1.3:CRS84")
	c.Check(l.Features[0].Kind, Equals, KindCountry)

	s.write(c, "broken.geojson", `{"type": "FeatureCollection", "features": [`)
	_, err = LoadGeoJSONLayer(filepath.Join(s.dataDir, "broken.geojson"), CategoryLand)
	c.Check(errors.Is(err, ErrGazetteerLoad), Equals, true)

	_, err = LoadGeoJSONLayer(filepath.Join(s.dataDir, "missing.geojson"), CategoryLand)
	c.Check(errors.Is(err, ErrGazetteerLoad), Equals, true)
}

func (s *LoadSuite) TestLoadGeonamesCapitals(c *C) {
	l, err := LoadGeonamesCapitals(filepath.Join(s.dataDir, fileCities))
	c.Assert(err, IsNil)
	c.Check(l.Category, Equals, CategoryCapital)
	c.Assert(l.Features, HasLen, 1)
	c.Check(l.Features[0].Name, Equals, "Berlin")
	c.Check(l.Features[0].Code, Equals, "DE")
}

func (s *LoadSuite) TestLoadGeonamesCountryInfo(c *C) {
	infos, err := LoadGeonamesCountryInfo(filepath.Join(s.dataDir, fileCountryInfo))
	c.Assert(err, IsNil)
	c.Assert(infos, HasLen, 2)
	c.Check(infos[0].ISO3, Equals, "DEU")
	c.Check(infos[0].ISONumeric, Equals, int16(276))
	c.Check(infos[1].Capital, Equals, "Warsaw")
}

func (s *LoadSuite) TestLoadGazetteerFromRawThenCache(c *C) {
	g, err := s.load()
	c.Assert(err, IsNil)
	c.Check(g.Has(CategoryCountry), Equals, true)
	c.Check(g.Has(CategoryCentroid), Equals, true)
	c.Check(g.Has(CategoryCapital), Equals, true)
	c.Check(g.Has(CategoryInstitution), Equals, false)

	code, ok := g.ResolveCountry("Germany")
	c.Check(ok, Equals, true)
	c.Check(code, Equals, "DE")

	for _, f := range []string{cacheLayers, cacheCountries} {
		_, err := os.Stat(filepath.Join(s.cacheDir, f))
		c.Check(err, IsNil, Commentf("cache file %s", f))
	}

	// The raw files are no longer needed once cached.
	c.Assert(os.RemoveAll(s.dataDir), IsNil)
	g, err = s.load()
	c.Assert(err, IsNil)
	c.Check(g.Within(CategoryCapital, 52.52, 13.405, 1000), Equals, true)
	code, ok = g.CountryAt(50, 20)
	c.Check(ok, Equals, true)
	code2, _ := g.ResolveCountry("POL")
	c.Check(code, Equals, code2)
	c.Check(g.Within(CategoryCentroid, 51.1657, 10.4515, 10), Equals, true)
}

func (s *LoadSuite) TestUnsupportedCRSIsNotCached(c *C) {
	s.write(c, fileInstitutions, mercatorGeoJSON)

	_, err := s.load()
	c.Assert(errors.Is(err, ErrGazetteerLoad), Equals, true)
	c.Check(err, ErrorMatches, ".*unsupported CRS.*")

	_, statErr := os.Stat(filepath.Join(s.cacheDir, cacheLayers))
	c.Check(os.IsNotExist(statErr), Equals, true)
}

func (s *LoadSuite) TestEmptyDataDir(c *C) {
	_, err := LoadGazetteer(WithDataDir(c.MkDir()), WithCacheDir(c.MkDir()), WithLogger(quietLogger()))
	c.Check(errors.Is(err, ErrGazetteerLoad), Equals, true)
}

func (s *LoadSuite) TestRegenerateCache(c *C) {
	opts := []Option{WithDataDir(s.dataDir), WithCacheDir(s.cacheDir), WithLogger(quietLogger())}
	c.Assert(RegenerateCache(opts...), IsNil)

	layers, countries, err := loadCache(s.cacheDir)
	c.Assert(err, IsNil)
	c.Check(layers, HasLen, 3)
	c.Check(countries, HasLen, 2)

	// The cached country borders keep their geometry types.
	for _, l := range layers {
		if l.Category != CategoryCountry {
			continue
		}
		c.Assert(l.Features, HasLen, 2)
		c.Check(l.Features[0].Geometry.GeoJSONType(), Equals, "Polygon")
		c.Check(l.Features[1].Geometry.GeoJSONType(), Equals, "MultiPolygon")
	}

	s.write(c, fileLand, mercatorGeoJSON)
	c.Check(RegenerateCache(opts...), NotNil)
}

func (s *LoadSuite) TestCacheKeepsGeometryType(c *C) {
	square := orb.Polygon{{{5, 47}, {15, 47}, {15, 55}, {5, 55}, {5, 47}}}
	in := Layer{Category: CategoryCentroid, CRS: CRSWGS84, Features: []Feature{
		{Code: "A", Geometry: orb.Point{10, 50}},
		{Code: "B", Geometry: orb.MultiPoint{{11, 51}}},
		{Code: "C", Geometry: orb.MultiPoint{{11, 51}, {12, 52}}},
		{Code: "D", Geometry: square},
		{Code: "E", Geometry: orb.MultiPolygon{square}},
	}}
	cl, err := toCache(in)
	c.Assert(err, IsNil)
	out := fromCache(cl)
	c.Assert(out.Features, HasLen, len(in.Features))
	for i, f := range out.Features {
		c.Check(f.Geometry, DeepEquals, in.Features[i].Geometry, Commentf("feature %s", f.Code))
	}

	_, err = toCache(Layer{Category: CategoryLand, Features: []Feature{{Geometry: orb.LineString{{0, 0}, {1, 1}}}}})
	c.Check(err, NotNil)
}
