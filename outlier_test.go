package coordclean

import (
	"errors"
	"fmt"
	"math"

	. "gopkg.in/check.v1"
)

type OutlierSuite struct {
	cluster []Record
}

var _ = Suite(&OutlierSuite{})

// SetUpTest builds twenty records on a 0.01 degree grid near Frankfurt
// and one record 2000 km east.
func (s *OutlierSuite) SetUpTest(c *C) {
	s.cluster = nil
	for i := 0; i < 20; i++ {
		s.cluster = append(s.cluster, Record{
			ID:        fmt.Sprintf("r%02d", i),
			Species:   "Vulpes vulpes",
			Latitude:  50 + float64(i/5)*0.01,
			Longitude: 8.6 + float64(i%5)*0.01,
		})
	}
	s.cluster = append(s.cluster, Record{ID: "far", Species: "Vulpes vulpes", Latitude: 50, Longitude: 36})
}

func (s *OutlierSuite) TestDistanceMethod(c *C) {
	rep, err := DetectOutliers(s.cluster, DefaultOutlierConfig())
	c.Assert(err, IsNil)
	c.Check(rep.Status, Equals, StatusEvaluated)
	c.Check(rep.Method, Equals, OutlierDistance)
	c.Check(rep.Key, Equals, "vulpes vulpes")
	c.Check(rep.Scores, HasLen, len(s.cluster))
	c.Check(rep.Outliers, DeepEquals, []string{"far"})
	c.Check(rep.IsOutlier("far"), Equals, true)
	c.Check(rep.IsOutlier("r00"), Equals, false)
	c.Check(rep.Scores["far"] > rep.Cutoff, Equals, true)
	c.Check(rep.Scores["r00"] < 5000, Equals, true, Commentf("score %v", rep.Scores["r00"]))
}

func (s *OutlierSuite) TestQuantileMethod(c *C) {
	rep, err := DetectOutliers(s.cluster, OutlierConfig{Method: OutlierQuantile})
	c.Assert(err, IsNil)
	c.Check(rep.Outliers, DeepEquals, []string{"far"})

	// The highest quantile that still sits inside the cluster.
	c.Check(rep.Cutoff < rep.Scores["far"], Equals, true)
}

func (s *OutlierSuite) TestMADMethod(c *C) {
	rep, err := DetectOutliers(s.cluster, OutlierConfig{Method: OutlierMAD})
	c.Assert(err, IsNil)
	c.Check(rep.IsOutlier("far"), Equals, true)
	c.Check(len(rep.Outliers) < 3, Equals, true, Commentf("outliers %v", rep.Outliers))

	for id, score := range rep.Scores {
		if id != "far" {
			c.Check(score < rep.Scores["far"], Equals, true)
		}
	}
}

func (s *OutlierSuite) TestInputOrderIrrelevant(c *C) {
	reversed := make([]Record, len(s.cluster))
	for i, r := range s.cluster {
		reversed[len(reversed)-1-i] = r
	}
	a, err := DetectOutliers(s.cluster, DefaultOutlierConfig())
	c.Assert(err, IsNil)
	b, err := DetectOutliers(reversed, DefaultOutlierConfig())
	c.Assert(err, IsNil)
	c.Check(b.Outliers, DeepEquals, a.Outliers)
	for id, score := range a.Scores {
		c.Check(math.Abs(b.Scores[id]-score) < 1e-6, Equals, true)
	}
}

func (s *OutlierSuite) TestInsufficientData(c *C) {
	rep, err := DetectOutliers(s.cluster[:5], DefaultOutlierConfig())
	c.Check(errors.Is(err, ErrInsufficientData), Equals, true)
	c.Assert(rep, NotNil)
	c.Check(rep.Status, Equals, StatusInsufficientData)
	c.Check(rep.Scores, HasLen, 0)
	c.Check(rep.Outliers, HasLen, 0)

	_, ok := rep.Flags("r00")
	c.Check(ok, Equals, false)
}

func (s *OutlierSuite) TestUnusableCoordinatesSkipped(c *C) {
	records := append([]Record{{ID: "nan", Species: "Vulpes vulpes", Latitude: math.NaN(), Longitude: 8}}, s.cluster...)
	rep, err := DetectOutliers(records, DefaultOutlierConfig())
	c.Assert(err, IsNil)
	c.Check(rep.Skipped, DeepEquals, []string{"nan"})
	c.Check(rep.Evaluated("nan"), Equals, false)
	c.Check(rep.Scores, HasLen, len(s.cluster))

	// Skipped records do not count towards the minimum.
	few := append([]Record{{ID: "nan", Latitude: math.NaN()}}, s.cluster[:6]...)
	_, err = DetectOutliers(few, DefaultOutlierConfig())
	c.Check(errors.Is(err, ErrInsufficientData), Equals, true)
}

func (s *OutlierSuite) TestUndefinedCentroid(c *C) {
	records := []Record{
		{ID: "a", Latitude: 0, Longitude: 0},
		{ID: "b", Latitude: 0, Longitude: 180},
	}
	rep, err := DetectOutliers(records, OutlierConfig{Method: OutlierQuantile, MinRecords: 2})
	c.Check(err, NotNil)
	c.Check(errors.Is(err, ErrInsufficientData), Equals, false)
	c.Assert(rep, NotNil)
	c.Check(rep.Status, Equals, StatusFailed)
}

func (s *OutlierSuite) TestInvalidConfig(c *C) {
	for _, cfg := range []OutlierConfig{
		{Method: "kriging"},
		{Method: OutlierQuantile, Threshold: 1.5},
		{Threshold: -1},
		{Threshold: math.NaN()},
		{K: -1},
		{MinRecords: 1},
	} {
		rep, err := DetectOutliers(s.cluster, cfg)
		c.Check(err, NotNil, Commentf("config %+v", cfg))
		c.Check(rep, IsNil)
		_, err = DetectOutliersBySpecies(s.cluster, cfg)
		c.Check(err, NotNil, Commentf("config %+v", cfg))
	}
}

func (s *OutlierSuite) TestBySpecies(c *C) {
	records := append([]Record{
		{ID: "l1", Species: "Lynx lynx", Latitude: 47, Longitude: 11},
		{ID: "l2", Species: "Lynx lynx", Latitude: 47.1, Longitude: 11},
	}, s.cluster...)

	reports, err := DetectOutliersBySpecies(records, DefaultOutlierConfig())
	c.Assert(err, IsNil)
	c.Assert(reports, HasLen, 2)

	c.Check(reports[0].Key, Equals, "lynx lynx")
	c.Check(reports[0].Status, Equals, StatusInsufficientData)
	c.Check(reports[1].Key, Equals, "vulpes vulpes")
	c.Check(reports[1].Outliers, DeepEquals, []string{"far"})
}

// A tight cluster of seven records and one record a quarter of the globe
// away, on the same meridian.
func (s *OutlierSuite) TestDistantRecordAtTwoDeviations(c *C) {
	var recs []Record
	for i := 0; i < 7; i++ {
		recs = append(recs, Record{
			ID:        fmt.Sprintf("n%d", i),
			Species:   "Lynx lynx",
			Latitude:  50 + float64(i%3)*0.01,
			Longitude: 10 + float64(i/3)*0.01,
		})
	}
	recs = append(recs, Record{ID: "far", Species: "Lynx lynx", Latitude: -40, Longitude: 10})
	c.Assert(DistanceMeters(50, 10, -40, 10) > 9.9e6, Equals, true)

	for _, k := range []int{5, 7} {
		rep, err := DetectOutliers(recs, OutlierConfig{Method: OutlierDistance, Threshold: 2, K: k})
		c.Assert(err, IsNil, Commentf("k=%d", k))
		c.Check(rep.Status, Equals, StatusEvaluated)
		c.Check(rep.Outliers, DeepEquals, []string{"far"}, Commentf("k=%d cutoff %v", k, rep.Cutoff))
	}
}
