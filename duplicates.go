package coordclean

import (
	"math"
	"strconv"

	geohash "github.com/TomiHiltunen/geohash-golang"
)

// maxGeohashPrecision is the longest geohash the library encodes.
const maxGeohashPrecision = 12

// maxScanCells bounds the neighbourhood scanned along one axis. Beyond it
// (very large radii, or longitude cells shrinking towards the poles) the
// whole species group is compared directly.
const maxScanCells = 16

// duplicateTest flags a record when another record of the same species
// lies within DuplicateRadius and has a lower ID. The lowest ID of every
// group of duplicates is kept, so the outcome does not depend on input
// order and re-running on the kept records flags nothing.
type duplicateTest struct{}

func (duplicateTest) Name() TestName               { return TestDuplicate }
func (duplicateTest) Requires() []Category         { return nil }
func (duplicateTest) Flag(Record, Tolerances) bool { return false }

func (duplicateTest) Bind(records []Record, tol Tolerances) Test {
	flagged := findDuplicates(records, tol.DuplicateRadius)
	return NewTest(TestDuplicate, func(r Record, _ Tolerances) bool {
		return flagged[r.ID]
	})
}

// dupEntry is a valid record with its position in the batch.
type dupEntry struct {
	rec Record
	pos int
}

// before reports whether a is kept in preference to b.
func (a dupEntry) before(b dupEntry) bool {
	if a.rec.ID != b.rec.ID {
		return a.rec.ID < b.rec.ID
	}
	return a.pos < b.pos
}

// findDuplicates returns the IDs of records that duplicate a lower-ID
// record of the same species. Records with unusable coordinates are
// ignored, as is any record after the first with a given ID.
func findDuplicates(records []Record, radius float64) map[string]bool {
	var entries []dupEntry
	seen := make(map[string]bool, len(records))
	for i, r := range records {
		if seen[r.ID] || r.CheckCoordinates() != nil {
			continue
		}
		seen[r.ID] = true
		entries = append(entries, dupEntry{rec: r, pos: i})
	}
	if radius == 0 {
		return exactDuplicates(entries)
	}
	return nearDuplicates(entries, radius)
}

func exactDuplicates(entries []dupEntry) map[string]bool {
	keep := make(map[string]dupEntry)
	for _, e := range entries {
		k := exactKey(e.rec)
		if cur, ok := keep[k]; !ok || e.before(cur) {
			keep[k] = e
		}
	}
	flagged := make(map[string]bool)
	for _, e := range entries {
		if keep[exactKey(e.rec)].pos != e.pos {
			flagged[e.rec.ID] = true
		}
	}
	return flagged
}

func exactKey(r Record) string {
	return speciesKey(r.Species) + "|" +
		strconv.FormatFloat(r.Latitude, 'g', -1, 64) + "|" +
		strconv.FormatFloat(r.Longitude, 'g', -1, 64)
}

// geohashCell returns the width and height in degrees of a geohash cell of
// the given precision. Longitude takes the extra bit when 5*precision is
// odd.
func geohashCell(precision int) (width, height float64) {
	bits := 5 * precision
	lngBits := (bits + 1) / 2
	latBits := bits / 2
	return 360 / math.Exp2(float64(lngBits)), 180 / math.Exp2(float64(latBits))
}

// geohashPrecisionFor picks the finest precision whose cells are at least
// radius meters tall, so a point's neighbours lie in adjacent rows.
func geohashPrecisionFor(radius float64) int {
	p := 1
	for p < maxGeohashPrecision {
		_, h := geohashCell(p + 1)
		if h*metersPerDegree < radius {
			break
		}
		p++
	}
	return p
}

func nearDuplicates(entries []dupEntry, radius float64) map[string]bool {
	precision := geohashPrecisionFor(radius)
	width, height := geohashCell(precision)

	buckets := make(map[string][]int)
	species := make(map[string][]int)
	for i, e := range entries {
		sk := speciesKey(e.rec.Species)
		k := sk + "|" + geohash.EncodeWithPrecision(e.rec.Latitude, e.rec.Longitude, precision)
		buckets[k] = append(buckets[k], i)
		species[sk] = append(species[sk], i)
	}

	radDeg := radius / metersPerDegree
	flagged := make(map[string]bool)
	for i, e := range entries {
		sk := speciesKey(e.rec.Species)
		hasEarlier := func(j int) bool {
			o := entries[j]
			return j != i && o.before(e) &&
				DistanceMeters(e.rec.Latitude, e.rec.Longitude, o.rec.Latitude, o.rec.Longitude) <= radius
		}

		ny := int(math.Ceil(radDeg / height))
		cosLat := math.Cos(e.rec.Latitude * math.Pi / 180)
		nx := maxScanCells + 1
		if cosLat > 1e-9 {
			nx = int(math.Ceil(radDeg / cosLat / width))
		}

		if nx > maxScanCells || ny > maxScanCells {
			for _, j := range species[sk] {
				if hasEarlier(j) {
					flagged[e.rec.ID] = true
					break
				}
			}
			continue
		}

		seen := make(map[string]bool)
	scan:
		for dy := -ny; dy <= ny; dy++ {
			lat := e.rec.Latitude + float64(dy)*height
			if lat < -90 || lat > 90 {
				continue
			}
			for dx := -nx; dx <= nx; dx++ {
				lng := wrapLongitude(e.rec.Longitude + float64(dx)*width)
				k := sk + "|" + geohash.EncodeWithPrecision(lat, lng, precision)
				if seen[k] {
					continue
				}
				seen[k] = true
				for _, j := range buckets[k] {
					if hasEarlier(j) {
						flagged[e.rec.ID] = true
						break scan
					}
				}
			}
		}
	}
	return flagged
}

// wrapLongitude maps a longitude into [-180, 180).
func wrapLongitude(lng float64) float64 {
	lng = math.Mod(lng+180, 360)
	if lng < 0 {
		lng += 360
	}
	return lng - 180
}
