package coordclean

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/s2"
)

// OutlierMethod selects how spatial outliers are scored.
type OutlierMethod string

const (
	// OutlierDistance scores a record by its mean distance to the K nearest
	// conspecific records and flags scores more than Threshold standard
	// deviations above the mean score.
	OutlierDistance OutlierMethod = "distance"

	// OutlierQuantile scores a record by its distance to the spherical
	// centroid and flags scores above the Threshold quantile.
	OutlierQuantile OutlierMethod = "quantile"

	// OutlierMAD scores a record by its mean distance to all other records
	// and flags scores above the median plus Threshold scaled MADs.
	OutlierMAD OutlierMethod = "mad"
)

// OutlierConfig configures DetectOutliers. Zero fields take the defaults
// of DefaultOutlierConfig; a zero Threshold takes the method's default.
type OutlierConfig struct {
	Method     OutlierMethod
	Threshold  float64
	K          int
	MinRecords int
}

// DefaultOutlierConfig returns the distance method with a 3 SD cutoff over
// the 5 nearest neighbours, requiring 7 records.
func DefaultOutlierConfig() OutlierConfig {
	return OutlierConfig{Method: OutlierDistance, Threshold: 3, K: 5, MinRecords: 7}
}

var defaultThresholds = map[OutlierMethod]float64{
	OutlierDistance: 3,
	OutlierQuantile: 0.95,
	OutlierMAD:      5,
}

func (c OutlierConfig) withDefaults() (OutlierConfig, error) {
	def := DefaultOutlierConfig()
	if c.Method == "" {
		c.Method = def.Method
	}
	dt, ok := defaultThresholds[c.Method]
	if !ok {
		return c, fmt.Errorf("unknown outlier method %q", c.Method)
	}
	if c.Threshold == 0 {
		c.Threshold = dt
	}
	if c.K == 0 {
		c.K = def.K
	}
	if c.MinRecords == 0 {
		c.MinRecords = def.MinRecords
	}
	switch {
	case math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) || c.Threshold < 0:
		return c, fmt.Errorf("outlier threshold %v must be a finite, non-negative number", c.Threshold)
	case c.Method == OutlierQuantile && c.Threshold >= 1:
		return c, fmt.Errorf("quantile threshold %v must lie in (0, 1)", c.Threshold)
	case c.K < 1:
		return c, fmt.Errorf("outlier K %d must be positive", c.K)
	case c.MinRecords < 2:
		return c, fmt.Errorf("outlier minimum record count %d must be at least 2", c.MinRecords)
	}
	return c, nil
}

// OutlierReport is the result of outlier detection over one species.
type OutlierReport struct {
	Key    string
	Method OutlierMethod
	Status Status

	// Cutoff is the score, in meters, above which a record is an outlier.
	Cutoff float64

	// Scores holds the score in meters of every evaluated record.
	Scores map[string]float64

	// Outliers lists the IDs of flagged records, sorted.
	Outliers []string

	// Skipped lists the IDs of records with unusable coordinates.
	Skipped []string
}

// Evaluated reports whether the record was scored.
func (r *OutlierReport) Evaluated(id string) bool {
	_, ok := r.Scores[id]
	return ok
}

// IsOutlier reports whether the record was flagged.
func (r *OutlierReport) IsOutlier(id string) bool {
	i := sort.SearchStrings(r.Outliers, id)
	return i < len(r.Outliers) && r.Outliers[i] == id
}

// Flags returns the outcome for one scored record as a FlagVector.
func (r *OutlierReport) Flags(id string) (FlagVector, bool) {
	if !r.Evaluated(id) {
		return nil, false
	}
	return FlagVector{TestOutlier: r.IsOutlier(id)}, true
}

// DetectOutliers flags spatial outliers among the records of one species.
// Records with unusable coordinates are skipped and listed. With fewer than
// MinRecords usable records no record is scored: the report carries
// StatusInsufficientData and the error wraps ErrInsufficientData.
func DetectOutliers(records []Record, cfg OutlierConfig) (*OutlierReport, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	rep := &OutlierReport{Method: cfg.Method, Scores: make(map[string]float64)}
	var ids []string
	var pts []s2.Point
	for _, r := range records {
		if rep.Key == "" {
			rep.Key = speciesKey(r.Species)
		}
		if r.CheckCoordinates() != nil {
			rep.Skipped = append(rep.Skipped, r.ID)
			continue
		}
		ids = append(ids, r.ID)
		pts = append(pts, pointFromDegrees(r.Latitude, r.Longitude))
	}
	sort.Strings(rep.Skipped)

	if len(pts) < cfg.MinRecords {
		rep.Status = StatusInsufficientData
		return rep, fmt.Errorf("species %q: %d usable records, need %d: %w", rep.Key, len(pts), cfg.MinRecords, ErrInsufficientData)
	}

	var scores []float64
	switch cfg.Method {
	case OutlierDistance:
		scores = knnScores(pts, cfg.K)
		rep.Cutoff = mean(scores) + cfg.Threshold*stddev(scores)
	case OutlierQuantile:
		scores, err = centroidScores(pts)
		if err != nil {
			rep.Status = StatusFailed
			return rep, fmt.Errorf("species %q: %w", rep.Key, err)
		}
		rep.Cutoff = quantile(scores, cfg.Threshold)
	case OutlierMAD:
		scores = knnScores(pts, len(pts)-1)
		rep.Cutoff = median(scores) + cfg.Threshold*mad(scores)
	}

	for i, id := range ids {
		rep.Scores[id] = scores[i]
		if scores[i] > rep.Cutoff {
			rep.Outliers = append(rep.Outliers, id)
		}
	}
	sort.Strings(rep.Outliers)
	rep.Status = StatusEvaluated
	return rep, nil
}

// knnScores returns, for every point, the mean distance in meters to its k
// nearest other points.
func knnScores(pts []s2.Point, k int) []float64 {
	if k > len(pts)-1 {
		k = len(pts) - 1
	}
	scores := make([]float64, len(pts))
	dist := make([]float64, 0, len(pts)-1)
	for i, p := range pts {
		dist = dist[:0]
		for j, q := range pts {
			if i != j {
				dist = append(dist, angleToMeters(p.Distance(q)))
			}
		}
		sort.Float64s(dist)
		scores[i] = mean(dist[:k])
	}
	return scores
}

// centroidScores returns the distance in meters from every point to the
// spherical centroid of all points.
func centroidScores(pts []s2.Point) ([]float64, error) {
	var sum s2.Point
	for _, p := range pts {
		sum = s2.Point{Vector: sum.Add(p.Vector)}
	}
	if sum.Norm() < 1e-12 {
		return nil, fmt.Errorf("records are spread symmetrically around the globe, centroid undefined")
	}
	c := s2.Point{Vector: sum.Normalize()}
	scores := make([]float64, len(pts))
	for i, p := range pts {
		scores[i] = angleToMeters(c.Distance(p))
	}
	return scores, nil
}

// DetectOutliersBySpecies runs DetectOutliers on every species in records.
// Reports are sorted by species; species with too few records keep their
// StatusInsufficientData report. Only an invalid configuration fails the
// whole run.
func DetectOutliersBySpecies(records []Record, cfg OutlierConfig) ([]*OutlierReport, error) {
	if _, err := cfg.withDefaults(); err != nil {
		return nil, err
	}
	parts := PartitionBy(records, BySpecies)
	out := make([]*OutlierReport, 0, len(parts))
	for _, p := range parts {
		rep, err := DetectOutliers(p.Records, cfg)
		if rep == nil {
			return nil, err
		}
		rep.Key = p.Key
		out = append(out, rep)
	}
	return out, nil
}
