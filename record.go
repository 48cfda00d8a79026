package coordclean

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Sentinel errors. Callers match them with errors.Is; the returned errors
// carry the record ID or layer name as context.
var (
	// ErrInvalidRecord marks a record with a missing or out-of-range
	// coordinate or country code. Such records are excluded from
	// validation and reported, never silently passed.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrInsufficientData is returned by statistical tests when the input
	// is too small to produce a meaningful result.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrGazetteerLoad is returned when reference geometry is malformed.
	// No partial gazetteer is ever returned alongside it.
	ErrGazetteerLoad = errors.New("gazetteer load failure")

	// ErrUnknownTest is returned when a check configuration names a test
	// that is not registered.
	ErrUnknownTest = errors.New("unknown test")

	// ErrMissingLayer is returned when an enabled test needs a gazetteer
	// layer that was not loaded.
	ErrMissingLayer = errors.New("missing gazetteer layer")
)

// Record is a single occurrence: a species observed at a place.
// Missing coordinates are represented as NaN.
type Record struct {
	ID              string
	Species         string
	Longitude       float64
	Latitude        float64
	CountryCode     string
	DatasetKey      string
	BasisOfRecord   string
	Uncertainty     float64 // coordinate uncertainty in meters, 0 if unknown
	Year            int
	IndividualCount int
}

// CheckCoordinates reports whether the record carries a usable coordinate
// pair. It never coerces values: NaN, Inf and out-of-range degrees all
// fail with ErrInvalidRecord.
func (r Record) CheckCoordinates() error {
	switch {
	case math.IsNaN(r.Longitude) || math.IsNaN(r.Latitude):
		return fmt.Errorf("record %q: missing coordinate: %w", r.ID, ErrInvalidRecord)
	case math.IsInf(r.Longitude, 0) || math.IsInf(r.Latitude, 0):
		return fmt.Errorf("record %q: infinite coordinate: %w", r.ID, ErrInvalidRecord)
	case r.Longitude < -180 || r.Longitude > 180:
		return fmt.Errorf("record %q: longitude %v out of range: %w", r.ID, r.Longitude, ErrInvalidRecord)
	case r.Latitude < -90 || r.Latitude > 90:
		return fmt.Errorf("record %q: latitude %v out of range: %w", r.ID, r.Latitude, ErrInvalidRecord)
	}
	return nil
}

// speciesKey normalizes a species name for grouping. Name resolution is
// left to the caller; this only folds case and whitespace.
func speciesKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Status describes the outcome of a statistical test.
type Status int

const (
	StatusEvaluated Status = iota
	StatusInsufficientData
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusEvaluated:
		return "evaluated"
	case StatusInsufficientData:
		return "insufficient-data"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// statusFor maps an error from a statistical test to a Status.
func statusFor(err error) Status {
	switch {
	case err == nil:
		return StatusEvaluated
	case errors.Is(err, ErrInsufficientData):
		return StatusInsufficientData
	}
	return StatusFailed
}

// Partition is a group of records sharing a key, e.g. one contributing
// dataset or one species.
type Partition struct {
	Key     string
	Records []Record
}

// PartitionBy groups records by key. Partitions are returned sorted by key
// and records keep their input order within a partition.
func PartitionBy(records []Record, key func(Record) string) []Partition {
	idx := make(map[string]int)
	var parts []Partition
	for _, r := range records {
		k := key(r)
		i, ok := idx[k]
		if !ok {
			i = len(parts)
			idx[k] = i
			parts = append(parts, Partition{Key: k})
		}
		parts[i].Records = append(parts[i].Records, r)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Key < parts[j].Key })
	return parts
}

// ByDataset is a PartitionBy key selecting the dataset key.
func ByDataset(r Record) string { return r.DatasetKey }

// BySpecies is a PartitionBy key selecting the normalized species name.
func BySpecies(r Record) string { return speciesKey(r.Species) }
