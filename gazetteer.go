package coordclean

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

// Category names a kind of reference geometry.
type Category string

const (
	CategoryCountry     Category = "country"     // polygons keyed by ISO-3166 alpha-2 code
	CategoryLand        Category = "land"        // land mask polygons
	CategoryCentroid    Category = "centroid"    // country and admin-1 centroids
	CategoryCapital     Category = "capital"     // national capitals
	CategoryInstitution Category = "institution" // biodiversity institutions
	CategoryUrban       Category = "urban"       // city footprints
)

// isPolygonal reports whether features of the category are areas.
func (c Category) isPolygonal() bool {
	switch c {
	case CategoryCountry, CategoryLand, CategoryUrban:
		return true
	}
	return false
}

func (c Category) valid() bool {
	switch c {
	case CategoryCountry, CategoryLand, CategoryCentroid, CategoryCapital, CategoryInstitution, CategoryUrban:
		return true
	}
	return false
}

// Centroid kinds.
const (
	KindCountry = "country"
	KindAdmin1  = "admin1"
)

// earthRadiusMeters is the IUGG mean Earth radius.
const earthRadiusMeters = 6371008.8

func metersToAngle(m float64) s1.Angle { return s1.Angle(m / earthRadiusMeters) }

func angleToMeters(a s1.Angle) float64 { return float64(a) * earthRadiusMeters }

// DistanceMeters returns the great-circle distance between two points
// given in degrees.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	return angleToMeters(a.Distance(b))
}

// Feature is one named reference geometry.
type Feature struct {
	Code     string // ISO-3166 alpha-2 for countries, capitals and centroids
	Name     string
	Kind     string // centroid kind: "country" or "admin1"
	Geometry orb.Geometry
}

// Layer is a set of features of one category in one coordinate reference
// system. Only WGS84 longitude/latitude is accepted.
type Layer struct {
	Category Category
	CRS      string
	Features []Feature
}

// Match describes the reference feature a lookup hit.
type Match struct {
	Category       Category
	Code           string
	Name           string
	Kind           string
	Latitude       float64
	Longitude      float64
	DistanceMeters float64
}

// acceptedCRS lists the names under which WGS84 lon/lat is declared.
var acceptedCRS = map[string]bool{
	"EPSG:4326":                     true,
	"OGC:CRS84":                     true,
	"WGS84":                         true,
	"URN:OGC:DEF:CRS:OGC:1.3:CRS84": true,
	"URN:OGC:DEF:CRS:OGC::CRS84":    true,
	"URN:OGC:DEF:CRS:EPSG::4326":    true,
}

// CRSWGS84 is the CRS name used for layers this package builds itself.
const CRSWGS84 = "EPSG:4326"

func checkCRS(crs string) error {
	c := strings.ToUpper(strings.TrimSpace(crs))
	if c == "" {
		return fmt.Errorf("missing CRS")
	}
	if !acceptedCRS[c] {
		return fmt.Errorf("unsupported CRS %q", crs)
	}
	return nil
}

// Gazetteer indexes reference geometries for repeated point queries.
// It is immutable after construction and safe for concurrent use.
type Gazetteer struct {
	polygons  map[Category]*polygonLayer
	points    map[Category]*pointLayer
	countries []CountryInfo
	iso2      map[string]int
	iso3      map[string]string
	names     map[string]string
	log       *logrus.Logger
}

// NewGazetteer validates and indexes the given layers. Any malformed layer
// fails the whole construction with ErrGazetteerLoad.
//
// Example:
//
//	g, err := NewGazetteer(layers, WithDerivedCentroids())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	inSea := !g.Within(CategoryLand, lat, lng, 0)
func NewGazetteer(layers []Layer, opts ...Option) (*Gazetteer, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	g := &Gazetteer{
		polygons: make(map[Category]*polygonLayer),
		points:   make(map[Category]*pointLayer),
		log:      cfg.Logger,
	}

	for _, l := range layers {
		if err := g.addLayer(l); err != nil {
			return nil, fmt.Errorf("%w: %s layer: %v", ErrGazetteerLoad, l.Category, err)
		}
	}

	if cfg.DeriveCentroids && g.points[CategoryCentroid] == nil {
		if cl := g.polygons[CategoryCountry]; cl != nil {
			g.points[CategoryCentroid] = newPointLayerFromCountries(cl)
			g.log.WithField("count", len(g.points[CategoryCentroid].features)).Debug("derived country centroids")
		}
	}

	g.setCountries(cfg.Countries)
	return g, nil
}

func (g *Gazetteer) addLayer(l Layer) error {
	if !l.Category.valid() {
		return fmt.Errorf("unknown category %q", l.Category)
	}
	if err := checkCRS(l.CRS); err != nil {
		return err
	}
	if _, dup := g.polygons[l.Category]; dup {
		return fmt.Errorf("duplicate layer")
	}
	if _, dup := g.points[l.Category]; dup {
		return fmt.Errorf("duplicate layer")
	}

	if l.Category.isPolygonal() {
		pl, err := newPolygonLayer(l.Features)
		if err != nil {
			return err
		}
		g.polygons[l.Category] = pl
	} else {
		pl, err := newPointLayer(l.Features)
		if err != nil {
			return err
		}
		g.points[l.Category] = pl
	}
	g.log.WithFields(logrus.Fields{
		"category": l.Category,
		"features": len(l.Features),
	}).Debug("indexed gazetteer layer")
	return nil
}

// Has reports whether the gazetteer can answer queries for the category.
// The land mask falls back to country borders.
func (g *Gazetteer) Has(c Category) bool {
	if c.isPolygonal() {
		return g.polygonLayer(c) != nil
	}
	return g.points[c] != nil
}

func (g *Gazetteer) polygonLayer(c Category) *polygonLayer {
	if l := g.polygons[c]; l != nil {
		return l
	}
	if c == CategoryLand {
		return g.polygons[CategoryCountry]
	}
	return nil
}

// validPoint rejects values that would make S2 computations meaningless.
func validPoint(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Within reports whether the point lies within toleranceMeters of any
// feature of the category. A tolerance of 0 means exact: containment for
// areas, identical coordinates for points.
func (g *Gazetteer) Within(c Category, lat, lng, toleranceMeters float64) bool {
	_, ok := g.Nearest(c, lat, lng, toleranceMeters)
	return ok
}

// Nearest returns the closest feature of the category within
// toleranceMeters of the point.
func (g *Gazetteer) Nearest(c Category, lat, lng, toleranceMeters float64) (Match, bool) {
	return g.nearest(c, lat, lng, toleranceMeters, nil)
}

func (g *Gazetteer) nearest(c Category, lat, lng, toleranceMeters float64, keep func(Feature) bool) (Match, bool) {
	if !validPoint(lat, lng) || toleranceMeters < 0 {
		return Match{}, false
	}
	if c.isPolygonal() {
		l := g.polygonLayer(c)
		if l == nil {
			return Match{}, false
		}
		i, d, ok := l.nearest(pointFromDegrees(lat, lng), metersToAngle(toleranceMeters))
		if !ok {
			return Match{}, false
		}
		f := l.features[i].Feature
		return Match{Category: c, Code: f.Code, Name: f.Name, Kind: f.Kind, Latitude: lat, Longitude: lng, DistanceMeters: angleToMeters(d)}, true
	}

	l := g.points[c]
	if l == nil {
		return Match{}, false
	}
	e, d, ok := l.nearest(lat, lng, toleranceMeters, keep)
	if !ok {
		return Match{}, false
	}
	f := l.features[e.feature]
	return Match{Category: c, Code: f.Code, Name: f.Name, Kind: f.Kind, Latitude: e.lat, Longitude: e.lng, DistanceMeters: d}, true
}

// CountryAt returns the code of the country whose borders contain the
// point. When borders overlap, the lowest code wins.
func (g *Gazetteer) CountryAt(lat, lng float64) (string, bool) {
	l := g.polygons[CategoryCountry]
	if l == nil || !validPoint(lat, lng) {
		return "", false
	}
	codes := make([]string, 0, 2)
	for _, i := range l.containing(pointFromDegrees(lat, lng)) {
		if code := l.features[i].Code; code != "" {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return "", false
	}
	sort.Strings(codes)
	return codes[0], true
}

// InCountry reports whether the point lies within toleranceMeters of the
// borders of the given country. known is false when the gazetteer holds no
// geometry for that code.
func (g *Gazetteer) InCountry(code string, lat, lng, toleranceMeters float64) (inside, known bool) {
	l := g.polygons[CategoryCountry]
	if l == nil {
		return false, false
	}
	idx := l.byCode[normalizeCode(code)]
	if len(idx) == 0 {
		return false, false
	}
	if !validPoint(lat, lng) {
		return false, true
	}
	p := pointFromDegrees(lat, lng)
	limit := metersToAngle(toleranceMeters)
	for _, i := range idx {
		if _, ok := l.features[i].distanceWithin(p, limit); ok {
			return true, true
		}
	}
	return false, true
}

func pointFromDegrees(lat, lng float64) s2.Point {
	return s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lng))
}

// ---------------------------------------------------------------------------
// Polygon layers
// ---------------------------------------------------------------------------

type polygonFeature struct {
	Feature
	polygon *s2.Polygon
	index   *s2.ShapeIndex
}

// distanceWithin returns the distance from p to the feature when it is at
// most limit. Points inside the polygon are at distance zero.
func (f *polygonFeature) distanceWithin(p s2.Point, limit s1.Angle) (s1.Angle, bool) {
	if f.polygon.ContainsPoint(p) {
		return 0, true
	}
	if limit <= 0 {
		return 0, false
	}
	q := s2.NewClosestEdgeQuery(f.index, s2.NewClosestEdgeQueryOptions())
	d := q.Distance(s2.NewMinDistanceToPointTarget(p)).Angle()
	if d > limit {
		return 0, false
	}
	return d, true
}

type polygonLayer struct {
	features []polygonFeature
	index    *s2.ShapeIndex
	shapes   map[s2.Shape]int
	byCode   map[string][]int
}

func newPolygonLayer(features []Feature) (*polygonLayer, error) {
	l := &polygonLayer{
		index:  s2.NewShapeIndex(),
		shapes: make(map[s2.Shape]int, len(features)),
		byCode: make(map[string][]int),
	}
	for i, f := range features {
		poly, err := polygonFromGeometry(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d (%s %s): %w", i, f.Code, f.Name, err)
		}
		own := s2.NewShapeIndex()
		own.Add(poly)
		own.Build()

		f.Code = normalizeCode(f.Code)
		l.features = append(l.features, polygonFeature{Feature: f, polygon: poly, index: own})
		l.shapes[poly] = i
		l.index.Add(poly)
		if f.Code != "" {
			l.byCode[f.Code] = append(l.byCode[f.Code], i)
		}
	}
	// Apply pending index updates now rather than on the first query.
	l.index.Build()
	return l, nil
}

// containing returns the indexes of features containing p, ascending.
func (l *polygonLayer) containing(p s2.Point) []int {
	q := s2.NewContainsPointQuery(l.index, s2.VertexModelSemiOpen)
	var out []int
	for _, sh := range q.ContainingShapes(p) {
		if i, ok := l.shapes[sh]; ok {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// nearest returns the feature closest to p within limit. Containing
// features win at distance zero; ties go to the lowest index.
func (l *polygonLayer) nearest(p s2.Point, limit s1.Angle) (int, s1.Angle, bool) {
	if in := l.containing(p); len(in) > 0 {
		return in[0], 0, true
	}
	if limit <= 0 {
		return 0, 0, false
	}
	q := s2.NewClosestEdgeQuery(l.index, s2.NewClosestEdgeQueryOptions())
	if q.Distance(s2.NewMinDistanceToPointTarget(p)).Angle() > limit {
		return 0, 0, false
	}
	best, bestDist := -1, s1.InfAngle()
	for i := range l.features {
		if d, ok := l.features[i].distanceWithin(p, limit); ok && d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return best, bestDist, true
}

// polygonFromGeometry converts an orb polygon or multipolygon into one S2
// polygon. Every ring must be a valid loop.
func polygonFromGeometry(geom orb.Geometry) (*s2.Polygon, error) {
	var rings []orb.Ring
	switch g := geom.(type) {
	case orb.Polygon:
		rings = append(rings, g...)
	case orb.MultiPolygon:
		for _, p := range g {
			rings = append(rings, p...)
		}
	case orb.Ring:
		rings = append(rings, g)
	case nil:
		return nil, fmt.Errorf("missing geometry")
	default:
		return nil, fmt.Errorf("unsupported geometry %s", geom.GeoJSONType())
	}
	if len(rings) == 0 {
		return nil, fmt.Errorf("empty polygon")
	}

	loops := make([]*s2.Loop, 0, len(rings))
	for i, r := range rings {
		loop, err := loopFromRing(r)
		if err != nil {
			return nil, fmt.Errorf("ring %d: %w", i, err)
		}
		loops = append(loops, loop)
	}
	return s2.PolygonFromLoops(loops), nil
}

// loopFromRing builds a normalized S2 loop from a closed or open ring.
// Repeated consecutive vertices are dropped; anything else that S2 rejects
// (self-intersection, too few vertices, antipodal edges) is an error.
func loopFromRing(r orb.Ring) (*s2.Loop, error) {
	pts := make([]s2.Point, 0, len(r))
	var prev orb.Point
	for i, v := range r {
		lng, lat := v[0], v[1]
		if !validPoint(lat, lng) {
			return nil, fmt.Errorf("vertex %d (%v, %v) out of range", i, lng, lat)
		}
		if i > 0 && v == prev {
			continue
		}
		prev = v
		pts = append(pts, pointFromDegrees(lat, lng))
	}
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	if len(pts) < 3 {
		return nil, fmt.Errorf("ring has %d distinct vertices, need at least 3", len(pts))
	}

	loop := s2.LoopFromPoints(pts)
	if err := loop.Validate(); err != nil {
		return nil, err
	}
	if i, ok := selfCrossing(loop); ok {
		return nil, fmt.Errorf("edge %d crosses another edge of the ring", i)
	}
	// Rings may be wound either way; the enclosed region is the smaller one.
	loop.Normalize()
	return loop, nil
}

// selfCrossing returns the first edge of the loop that crosses another
// edge at a point interior to both. Adjacent edges only share a vertex and
// never count.
func selfCrossing(loop *s2.Loop) (int, bool) {
	idx := s2.NewShapeIndex()
	idx.Add(loop)
	q := s2.NewCrossingEdgeQuery(idx)
	for i := 0; i < loop.NumEdges(); i++ {
		e := loop.Edge(i)
		if len(q.Crossings(e.V0, e.V1, loop, s2.CrossingTypeInterior)) > 0 {
			return i, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Point layers
// ---------------------------------------------------------------------------

// pointEntry is one indexed point, sorted by leaf cell.
type pointEntry struct {
	cell     s2.CellID
	point    s2.Point
	lat, lng float64
	feature  int
}

// pointLayer stores points as a sorted slice of leaf cell IDs. A radius
// query covers the search cap with a handful of cells and scans the
// matching cell ranges.
type pointLayer struct {
	features []Feature
	entries  []pointEntry
}

// maxCoverCells bounds the covering of a search cap.
const maxCoverCells = 8

func newPointLayer(features []Feature) (*pointLayer, error) {
	l := &pointLayer{}
	for i, f := range features {
		var pts []orb.Point
		switch g := f.Geometry.(type) {
		case orb.Point:
			pts = []orb.Point{g}
		case orb.MultiPoint:
			pts = g
		case nil:
			return nil, fmt.Errorf("feature %d (%s %s): missing geometry", i, f.Code, f.Name)
		default:
			return nil, fmt.Errorf("feature %d (%s %s): unsupported geometry %s", i, f.Code, f.Name, f.Geometry.GeoJSONType())
		}
		f.Code = normalizeCode(f.Code)
		l.features = append(l.features, f)
		for _, p := range pts {
			lng, lat := p[0], p[1]
			if !validPoint(lat, lng) {
				return nil, fmt.Errorf("feature %d (%s %s): point (%v, %v) out of range", i, f.Code, f.Name, lng, lat)
			}
			ll := s2.LatLngFromDegrees(lat, lng)
			l.entries = append(l.entries, pointEntry{
				cell:    s2.CellIDFromLatLng(ll),
				point:   s2.PointFromLatLng(ll),
				lat:     lat,
				lng:     lng,
				feature: len(l.features) - 1,
			})
		}
	}
	l.sortEntries()
	return l, nil
}

func (l *pointLayer) sortEntries() {
	sort.Slice(l.entries, func(i, j int) bool {
		if l.entries[i].cell != l.entries[j].cell {
			return l.entries[i].cell < l.entries[j].cell
		}
		return l.entries[i].feature < l.entries[j].feature
	})
}

// newPointLayerFromCountries derives one centroid per country code from
// the area-weighted centroids of its polygons.
func newPointLayerFromCountries(cl *polygonLayer) *pointLayer {
	codes := make([]string, 0, len(cl.byCode))
	for code := range cl.byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	l := &pointLayer{}
	for _, code := range codes {
		var sum s2.Point
		for _, i := range cl.byCode[code] {
			c := cl.features[i].polygon.Centroid()
			sum = s2.Point{Vector: sum.Vector.Add(c.Vector)}
		}
		if sum.Norm() == 0 {
			continue
		}
		p := s2.Point{Vector: sum.Normalize()}
		ll := s2.LatLngFromPoint(p)
		l.features = append(l.features, Feature{
			Code:     code,
			Name:     cl.features[cl.byCode[code][0]].Name,
			Kind:     KindCountry,
			Geometry: orb.Point{ll.Lng.Degrees(), ll.Lat.Degrees()},
		})
		l.entries = append(l.entries, pointEntry{
			cell:    s2.CellIDFromLatLng(ll),
			point:   p,
			lat:     ll.Lat.Degrees(),
			lng:     ll.Lng.Degrees(),
			feature: len(l.features) - 1,
		})
	}
	l.sortEntries()
	return l
}

// nearest returns the closest point within radiusMeters accepted by keep.
// A zero radius matches identical coordinates only.
func (l *pointLayer) nearest(lat, lng, radiusMeters float64, keep func(Feature) bool) (pointEntry, float64, bool) {
	ll := s2.LatLngFromDegrees(lat, lng)
	accept := func(e pointEntry) bool {
		return keep == nil || keep(l.features[e.feature])
	}

	if radiusMeters == 0 {
		cell := s2.CellIDFromLatLng(ll)
		i := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].cell >= cell })
		for ; i < len(l.entries) && l.entries[i].cell == cell; i++ {
			e := l.entries[i]
			if e.lat == lat && e.lng == lng && accept(e) {
				return e, 0, true
			}
		}
		return pointEntry{}, 0, false
	}

	p := s2.PointFromLatLng(ll)
	limit := metersToAngle(radiusMeters)
	rc := &s2.RegionCoverer{MaxLevel: s2.MaxLevel, LevelMod: 1, MaxCells: maxCoverCells}
	covering := rc.Covering(s2.CapFromCenterAngle(p, limit))

	var best pointEntry
	bestDist := s1.InfAngle()
	for _, c := range covering {
		lo, hi := c.RangeMin(), c.RangeMax()
		i := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].cell >= lo })
		for ; i < len(l.entries) && l.entries[i].cell <= hi; i++ {
			e := l.entries[i]
			if !accept(e) {
				continue
			}
			d := p.Distance(e.point)
			if d <= limit && (d < bestDist || (d == bestDist && e.feature < best.feature)) {
				best, bestDist = e, d
			}
		}
	}
	if math.IsInf(float64(bestDist), 1) {
		return pointEntry{}, 0, false
	}
	return best, angleToMeters(bestDist), true
}
