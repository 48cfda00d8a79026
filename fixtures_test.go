package coordclean

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

// A small synthetic world: Germany and Poland as boxes sharing the 15°E
// meridian, a land mask covering both, and a handful of reference points.
// Open sea is anywhere outside lon 5..24, lat 47..55, e.g. (30N, 30W).

func box(minLng, minLat, maxLng, maxLat float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minLng, minLat}, {maxLng, minLat}, {maxLng, maxLat}, {minLng, maxLat}, {minLng, minLat},
	}}
}

var (
	berlin     = Record{ID: "berlin", Species: "Vulpes vulpes", Latitude: 52.52, Longitude: 13.405, CountryCode: "DE"}
	munich     = Record{ID: "munich", Species: "Vulpes vulpes", Latitude: 48.1351, Longitude: 11.582, CountryCode: "DE"}
	krakow     = Record{ID: "krakow", Species: "Vulpes vulpes", Latitude: 50.0647, Longitude: 19.945, CountryCode: "PL"}
	hamburg    = Record{ID: "hamburg", Species: "Vulpes vulpes", Latitude: 53.5511, Longitude: 9.9937, CountryCode: "DE"}
	atlantic   = Record{ID: "atlantic", Species: "Vulpes vulpes", Latitude: 30, Longitude: -30, CountryCode: "DE"}
	nullIsland = Record{ID: "null", Species: "Vulpes vulpes", Latitude: 0, Longitude: 0, CountryCode: "DE"}
)

func testLayers() []Layer {
	return []Layer{
		{Category: CategoryCountry, CRS: CRSWGS84, Features: []Feature{
			{Code: "DE", Name: "Germany", Geometry: box(5, 47, 15, 55)},
			{Code: "PL", Name: "Poland", Geometry: box(15, 49, 24, 55)},
		}},
		{Category: CategoryLand, CRS: "OGC:CRS84", Features: []Feature{
			{Name: "Central Europe", Geometry: box(5, 47, 24, 55)},
		}},
		{Category: CategoryCentroid, CRS: CRSWGS84, Features: []Feature{
			{Code: "DE", Name: "Germany", Kind: KindCountry, Geometry: orb.Point{10.4515, 51.1657}},
			{Code: "DE", Name: "Bavaria", Kind: KindAdmin1, Geometry: orb.Point{11.4979, 48.7904}},
			{Code: "PL", Name: "Poland", Kind: KindCountry, Geometry: orb.Point{19.1451, 51.9194}},
		}},
		{Category: CategoryCapital, CRS: CRSWGS84, Features: []Feature{
			{Code: "DE", Name: "Berlin", Geometry: orb.Point{13.405, 52.52}},
			{Code: "PL", Name: "Warsaw", Geometry: orb.Point{21.0122, 52.2297}},
		}},
		{Category: CategoryInstitution, CRS: CRSWGS84, Features: []Feature{
			{Name: "Museum fuer Naturkunde", Geometry: orb.Point{13.3798, 52.5302}},
		}},
		{Category: CategoryUrban, CRS: CRSWGS84, Features: []Feature{
			{Name: "Hamburg", Geometry: box(9.8, 53.4, 10.2, 53.7)},
		}},
	}
}

func testCountries() []CountryInfo {
	return []CountryInfo{
		{ISO: "DE", ISO3: "DEU", Country: "Germany", Capital: "Berlin", Continent: "EU"},
		{ISO: "PL", ISO3: "POL", Country: "Poland", Capital: "Warsaw", Continent: "EU"},
		{ISO: "NE", ISO3: "NER", Country: "Niger", Capital: "Niamey", Continent: "AF"},
		{ISO: "NG", ISO3: "NGA", Country: "Nigeria", Capital: "Abuja", Continent: "AF"},
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

func newTestGazetteer(t testing.TB) *Gazetteer {
	t.Helper()
	g, err := NewGazetteer(testLayers(), WithCountryInfo(testCountries()), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewGazetteer: %v", err)
	}
	return g
}
