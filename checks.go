package coordclean

import (
	"math"
)

// TestName identifies a record-level test.
type TestName string

const (
	TestEqual       TestName = "equal"
	TestZero        TestName = "zero"
	TestSea         TestName = "sea"
	TestCountry     TestName = "country"
	TestCentroid    TestName = "centroid"
	TestCapital     TestName = "capital"
	TestInstitution TestName = "institution"
	TestGBIF        TestName = "gbif"
	TestUrban       TestName = "urban"
	TestDuplicate   TestName = "duplicate"

	// TestOutlier is not a registry test; DetectOutliers results are merged
	// into a FlagTable under this name.
	TestOutlier TestName = "outlier"
)

// GBIF headquarters in Copenhagen. Records georeferenced to the data
// publisher rather than the collection site often land here.
const (
	gbifLatitude  = 55.67
	gbifLongitude = 12.58
)

// metersPerDegree is the length of one degree of arc on the mean sphere.
const metersPerDegree = earthRadiusMeters * math.Pi / 180

// Tolerances holds the radii and buffers, in meters, used by the tests.
// A zero value disables buffering: the test then matches exact positions
// only (or plain containment for area tests).
type Tolerances struct {
	ZeroRadius        float64
	CapitalRadius     float64
	CentroidRadius    float64
	InstitutionRadius float64
	GBIFRadius        float64
	SeaBuffer         float64
	CountryBuffer     float64
	UrbanBuffer       float64
	DuplicateRadius   float64

	// CentroidKinds restricts the centroid test to "country" or "admin1"
	// centroids. Empty means both.
	CentroidKinds []string

	// EqualAbsolute also flags records where |lon| == |lat|.
	EqualAbsolute bool
}

// DefaultTolerances returns the radii commonly used for GBIF data.
func DefaultTolerances() Tolerances {
	return Tolerances{
		ZeroRadius:        0.5 * metersPerDegree,
		CapitalRadius:     10000,
		CentroidRadius:    1000,
		InstitutionRadius: 100,
		GBIFRadius:        1000,
	}
}

func (t Tolerances) validate() error {
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"zero radius", t.ZeroRadius},
		{"capital radius", t.CapitalRadius},
		{"centroid radius", t.CentroidRadius},
		{"institution radius", t.InstitutionRadius},
		{"gbif radius", t.GBIFRadius},
		{"sea buffer", t.SeaBuffer},
		{"country buffer", t.CountryBuffer},
		{"urban buffer", t.UrbanBuffer},
		{"duplicate radius", t.DuplicateRadius},
	} {
		if v.value < 0 || math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return &ToleranceError{Name: v.name, Value: v.value}
		}
	}
	return nil
}

// ToleranceError reports an unusable tolerance value.
type ToleranceError struct {
	Name  string
	Value float64
}

func (e *ToleranceError) Error() string {
	return "invalid " + e.Name + ": must be a finite, non-negative number of meters"
}

// Test is a single record-level plausibility test. Flag returns true when
// the record is suspicious. Implementations must be pure and safe for
// concurrent use.
type Test interface {
	Name() TestName
	Requires() []Category
	Flag(rec Record, tol Tolerances) bool
}

// BatchTest is a test whose outcome depends on the other records of the
// batch. Bind returns a Test answering for records of that batch.
type BatchTest interface {
	Test
	Bind(records []Record, tol Tolerances) Test
}

type testFunc struct {
	name     TestName
	requires []Category
	fn       func(Record, Tolerances) bool
}

func (t testFunc) Name() TestName                       { return t.name }
func (t testFunc) Requires() []Category                 { return t.requires }
func (t testFunc) Flag(rec Record, tol Tolerances) bool { return t.fn(rec, tol) }

// NewTest wraps a function as a Test.
func NewTest(name TestName, fn func(Record, Tolerances) bool, requires ...Category) Test {
	return testFunc{name: name, requires: requires, fn: fn}
}

func equalTest() Test {
	return NewTest(TestEqual, func(r Record, tol Tolerances) bool {
		if tol.EqualAbsolute && math.Abs(r.Longitude) == math.Abs(r.Latitude) {
			return true
		}
		return r.Longitude == r.Latitude
	})
}

func zeroTest() Test {
	return NewTest(TestZero, func(r Record, tol Tolerances) bool {
		return nearPoint(r, 0, 0, tol.ZeroRadius)
	})
}

func gbifTest() Test {
	return NewTest(TestGBIF, func(r Record, tol Tolerances) bool {
		return nearPoint(r, gbifLatitude, gbifLongitude, tol.GBIFRadius)
	})
}

// nearPoint reports whether the record lies within radius meters of a
// fixed point; radius 0 requires identical coordinates.
func nearPoint(r Record, lat, lng, radius float64) bool {
	if radius == 0 {
		return r.Latitude == lat && r.Longitude == lng
	}
	return DistanceMeters(r.Latitude, r.Longitude, lat, lng) <= radius
}

func seaTest(g *Gazetteer) Test {
	return NewTest(TestSea, func(r Record, tol Tolerances) bool {
		return !g.Within(CategoryLand, r.Latitude, r.Longitude, tol.SeaBuffer)
	}, CategoryLand)
}

func countryTest(g *Gazetteer) Test {
	return NewTest(TestCountry, func(r Record, tol Tolerances) bool {
		if r.CountryCode == "" {
			return false
		}
		inside, known := g.InCountry(r.CountryCode, r.Latitude, r.Longitude, tol.CountryBuffer)
		if known {
			return !inside
		}
		at, ok := g.CountryAt(r.Latitude, r.Longitude)
		return ok && at != normalizeCode(r.CountryCode)
	}, CategoryCountry)
}

func centroidTest(g *Gazetteer) Test {
	return NewTest(TestCentroid, func(r Record, tol Tolerances) bool {
		var keep func(Feature) bool
		if len(tol.CentroidKinds) > 0 {
			keep = func(f Feature) bool {
				for _, k := range tol.CentroidKinds {
					if f.Kind == k {
						return true
					}
				}
				return false
			}
		}
		_, ok := g.nearest(CategoryCentroid, r.Latitude, r.Longitude, tol.CentroidRadius, keep)
		return ok
	}, CategoryCentroid)
}

func capitalTest(g *Gazetteer) Test {
	return NewTest(TestCapital, func(r Record, tol Tolerances) bool {
		return g.Within(CategoryCapital, r.Latitude, r.Longitude, tol.CapitalRadius)
	}, CategoryCapital)
}

func institutionTest(g *Gazetteer) Test {
	return NewTest(TestInstitution, func(r Record, tol Tolerances) bool {
		return g.Within(CategoryInstitution, r.Latitude, r.Longitude, tol.InstitutionRadius)
	}, CategoryInstitution)
}

func urbanTest(g *Gazetteer) Test {
	return NewTest(TestUrban, func(r Record, tol Tolerances) bool {
		return g.Within(CategoryUrban, r.Latitude, r.Longitude, tol.UrbanBuffer)
	}, CategoryUrban)
}
