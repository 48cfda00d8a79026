package coordclean

import (
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
)

// Raw reference files looked up in the data directory. All of them are
// optional, but at least one layer must load.
const (
	fileCountries    = "countries.geojson"
	fileLand         = "land.geojson"
	fileCentroids    = "centroids.geojson"
	fileInstitutions = "institutions.geojson"
	fileUrban        = "urban.geojson"
	fileCountryInfo  = "countryInfo.txt"
	fileCities       = "cities1000.zip"
)

// Cache files written to the cache directory.
const (
	cacheLayers    = "layers.dmp"
	cacheCountries = "countries.dmp"
)

// geoJSONSources maps GeoJSON files to the layer they populate.
var geoJSONSources = []struct {
	file     string
	category Category
}{
	{fileCountries, CategoryCountry},
	{fileLand, CategoryLand},
	{fileCentroids, CategoryCentroid},
	{fileInstitutions, CategoryInstitution},
	{fileUrban, CategoryUrban},
}

// Config contains options for building a Gazetteer.
type Config struct {
	DataDir         string // Directory for raw reference files (default: "./gazetteer-data")
	CacheDir        string // Directory for cache files (default: "./gazetteer-cache")
	Logger          *logrus.Logger
	DeriveCentroids bool          // Derive country centroids from borders when none are supplied
	Countries       []CountryInfo // Country metadata used by ResolveCountry
}

// Option is a functional option for configuring a Gazetteer.
type Option func(*Config)

// WithDataDir sets the directory for raw reference files.
func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.DataDir = dir
	}
}

// WithCacheDir sets the directory for cache files.
func WithCacheDir(dir string) Option {
	return func(c *Config) {
		c.CacheDir = dir
	}
}

// WithLogger sets the logger used while loading and indexing.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithDerivedCentroids derives country centroids from country borders when
// no centroid layer is loaded.
func WithDerivedCentroids() Option {
	return func(c *Config) {
		c.DeriveCentroids = true
	}
}

// WithCountryInfo supplies country metadata for name and ISO3 resolution.
func WithCountryInfo(infos []CountryInfo) Option {
	return func(c *Config) {
		c.Countries = infos
	}
}

func defaultConfig() *Config {
	return &Config{
		DataDir:  "./gazetteer-data",
		CacheDir: "./gazetteer-cache",
		Logger:   logrus.StandardLogger(),
	}
}

// cacheMu serializes cache generation so concurrent loaders never write
// the same files at once.
var cacheMu sync.Mutex

// LoadGazetteer builds a Gazetteer from the cache directory, falling back
// to the raw files in the data directory. A fresh cache is written after a
// raw load; failing to write it is only a warning.
func LoadGazetteer(opts ...Option) (*Gazetteer, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	log := cfg.Logger

	layers, countries, err := loadCache(cfg.CacheDir)
	cached := err == nil
	if !cached {
		log.WithError(err).Debug("gazetteer cache unavailable, loading raw data")
		layers, countries, err = loadRaw(cfg.DataDir, log)
		if err != nil {
			return nil, err
		}
	}

	if len(cfg.Countries) == 0 {
		opts = append(opts, WithCountryInfo(countries))
	}
	g, err := NewGazetteer(layers, opts...)
	if err != nil {
		return nil, err
	}

	// Only layers that indexed cleanly are cached.
	if !cached {
		if storeErr := storeCache(cfg.CacheDir, layers, countries); storeErr != nil {
			log.WithError(storeErr).Warn("failed to store gazetteer cache")
		}
	}
	return g, nil
}

// RegenerateCache reloads the raw files and rewrites the cache. The result
// is validated by building a Gazetteer from it.
//
// After running, the cache files may be compressed with bzip2:
//
//	bzip2 -f gazetteer-cache/*.dmp
func RegenerateCache(opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	layers, countries, err := loadRaw(cfg.DataDir, cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to load data sets: %w", err)
	}
	if _, err := NewGazetteer(layers, WithLogger(cfg.Logger), WithCountryInfo(countries)); err != nil {
		return err
	}
	if err := storeCache(cfg.CacheDir, layers, countries); err != nil {
		return fmt.Errorf("failed to store cache: %w", err)
	}
	return nil
}

// loadRaw parses every reference file present in dir.
func loadRaw(dir string, log *logrus.Logger) ([]Layer, []CountryInfo, error) {
	var layers []Layer
	for _, src := range geoJSONSources {
		path := filepath.Join(dir, src.file)
		if _, err := os.Stat(path); err != nil {
			log.WithField("file", path).Debug("reference file not present")
			continue
		}
		l, err := LoadGeoJSONLayer(path, src.category)
		if err != nil {
			return nil, nil, err
		}
		layers = append(layers, l)
	}

	citiesPath := filepath.Join(dir, fileCities)
	if _, err := os.Stat(citiesPath); err == nil {
		l, err := LoadGeonamesCapitals(citiesPath)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: loading geonames capitals: %v", ErrGazetteerLoad, err)
		}
		layers = append(layers, l)
	}

	var countries []CountryInfo
	infoPath := filepath.Join(dir, fileCountryInfo)
	if _, err := os.Stat(infoPath); err == nil {
		countries, err = LoadGeonamesCountryInfo(infoPath)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: loading geonames country info: %v", ErrGazetteerLoad, err)
		}
	}

	if len(layers) == 0 {
		return nil, nil, fmt.Errorf("%w: no reference layers found in %s", ErrGazetteerLoad, dir)
	}
	log.WithFields(logrus.Fields{"dir": dir, "layers": len(layers), "countries": len(countries)}).Info("loaded raw reference data")
	return layers, countries, nil
}

// geoJSONCRS is the legacy (2008) GeoJSON "crs" member. RFC 7946 dropped
// it and fixed the CRS to WGS84 lon/lat.
type geoJSONCRS struct {
	CRS *struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

// LoadGeoJSONLayer reads a FeatureCollection into a layer of the given
// category. Feature codes come from the iso_a2_eh, iso_a2, iso2 or code
// properties; names from name.
func LoadGeoJSONLayer(path string, category Category) (Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layer{}, fmt.Errorf("%w: reading %s: %v", ErrGazetteerLoad, path, err)
	}

	var hdr geoJSONCRS
	if err := json.Unmarshal(data, &hdr); err != nil {
		return Layer{}, fmt.Errorf("%w: parsing %s: %v", ErrGazetteerLoad, path, err)
	}
	crs := "OGC:CRS84"
	if hdr.CRS != nil {
		crs = hdr.CRS.Properties.Name
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return Layer{}, fmt.Errorf("%w: parsing %s: %v", ErrGazetteerLoad, path, err)
	}

	l := Layer{Category: category, CRS: crs, Features: make([]Feature, 0, len(fc.Features))}
	for _, f := range fc.Features {
		l.Features = append(l.Features, Feature{
			Code:     featureCode(f.Properties),
			Name:     firstProperty(f.Properties, "name", "NAME", "name_en"),
			Kind:     firstProperty(f.Properties, "kind", "type"),
			Geometry: f.Geometry,
		})
	}
	return l, nil
}

func featureCode(p geojson.Properties) string {
	return firstProperty(p, "iso_a2_eh", "ISO_A2_EH", "iso_a2", "ISO_A2", "iso2", "code")
}

// firstProperty returns the first non-empty string property. Natural Earth
// marks unassigned values with -99.
func firstProperty(p geojson.Properties, keys ...string) string {
	for _, k := range keys {
		if v := p.MustString(k, ""); v != "" && v != "-99" {
			return v
		}
	}
	return ""
}

// capitalFeatureCodes are the Geonames feature codes treated as capitals:
// capital of a political entity and seat of government.
var capitalFeatureCodes = map[string]bool{"PPLC": true, "PPLG": true}

// LoadGeonamesCapitals reads national capitals from a Geonames
// cities1000.zip dump.
func LoadGeonamesCapitals(path string) (Layer, error) {
	rz, err := zip.OpenReader(path)
	if err != nil {
		return Layer{}, fmt.Errorf("opening zip file: %w", err)
	}
	defer rz.Close()

	l := Layer{Category: CategoryCapital, CRS: CRSWGS84}
	for _, uF := range rz.File {
		if err := readCapitals(uF, &l); err != nil {
			return Layer{}, err
		}
	}
	return l, nil
}

// readCapitals reads a single file entry from a zip archive.
// Extracted to avoid defer-in-loop.
func readCapitals(uF *zip.File, l *Layer) error {
	fi, err := uF.Open()
	if err != nil {
		return fmt.Errorf("opening file in zip: %w", err)
	}
	defer fi.Close()

	scanner := bufio.NewScanner(fi)
	scanner.Split(bufio.ScanLines)

	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), "\t", 19)
		if len(fields) != 19 || !capitalFeatureCodes[fields[7]] {
			continue
		}

		// Skip unparseable coordinates rather than placing them at (0,0).
		lat, errLat := strconv.ParseFloat(fields[4], 64)
		lng, errLng := strconv.ParseFloat(fields[5], 64)
		if errLat != nil || errLng != nil {
			continue
		}

		l.Features = append(l.Features, Feature{
			Code:     fields[8],
			Name:     strings.TrimSpace(fields[1]),
			Geometry: orb.Point{lng, lat},
		})
	}
	return scanner.Err()
}

// cachedFeature is the gob form of a Feature; orb.Geometry is an
// interface and is split into concrete fields. Multi records whether the
// geometry was a collection, so single-member collections survive.
type cachedFeature struct {
	Code, Name, Kind string
	Points           orb.MultiPoint
	Polygons         orb.MultiPolygon
	Multi            bool
}

type cachedLayer struct {
	Category Category
	CRS      string
	Features []cachedFeature
}

func toCache(l Layer) (cachedLayer, error) {
	cl := cachedLayer{Category: l.Category, CRS: l.CRS, Features: make([]cachedFeature, 0, len(l.Features))}
	for _, f := range l.Features {
		cf := cachedFeature{Code: f.Code, Name: f.Name, Kind: f.Kind}
		switch g := f.Geometry.(type) {
		case orb.Point:
			cf.Points = orb.MultiPoint{g}
		case orb.MultiPoint:
			cf.Points, cf.Multi = g, true
		case orb.Polygon:
			cf.Polygons = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			cf.Polygons, cf.Multi = g, true
		default:
			return cachedLayer{}, fmt.Errorf("%s feature %q: geometry %T cannot be cached", l.Category, f.Name, f.Geometry)
		}
		cl.Features = append(cl.Features, cf)
	}
	return cl, nil
}

func fromCache(cl cachedLayer) Layer {
	l := Layer{Category: cl.Category, CRS: cl.CRS, Features: make([]Feature, 0, len(cl.Features))}
	for _, cf := range cl.Features {
		f := Feature{Code: cf.Code, Name: cf.Name, Kind: cf.Kind}
		switch {
		case cf.Multi && len(cf.Polygons) > 0:
			f.Geometry = cf.Polygons
		case cf.Multi:
			f.Geometry = cf.Points
		case len(cf.Polygons) == 1:
			f.Geometry = cf.Polygons[0]
		case len(cf.Points) == 1:
			f.Geometry = cf.Points[0]
		}
		l.Features = append(l.Features, f)
	}
	return l
}

// storeCache saves parsed layers and country metadata to dir.
func storeCache(dir string, layers []Layer, countries []CountryInfo) error {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	cached := make([]cachedLayer, 0, len(layers))
	for _, l := range layers {
		cl, err := toCache(l)
		if err != nil {
			return err
		}
		cached = append(cached, cl)
	}

	b := new(bytes.Buffer)
	if err := gob.NewEncoder(b).Encode(cached); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, cacheLayers), b.Bytes(), 0644); err != nil {
		return err
	}

	if countries == nil {
		countries = []CountryInfo{}
	}
	b.Reset()
	if err := gob.NewEncoder(b).Encode(countries); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, cacheCountries), b.Bytes(), 0644)
}

// openOptionallyBzippedFile prefers file.bz2 and falls back to file.
func openOptionallyBzippedFile(file string) (io.Reader, func() error, error) {
	fh, err := os.Open(file + ".bz2")
	if err != nil {
		fh, err = os.Open(file)
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s: %w", file, err)
		}
		return fh, fh.Close, nil
	}
	return bzip2.NewReader(fh), fh.Close, nil
}

func loadCache(dir string) ([]Layer, []CountryInfo, error) {
	var cached []cachedLayer
	if err := decodeCacheFile(filepath.Join(dir, cacheLayers), &cached); err != nil {
		return nil, nil, err
	}
	if len(cached) == 0 {
		return nil, nil, errors.New("empty layer cache")
	}

	var countries []CountryInfo
	if err := decodeCacheFile(filepath.Join(dir, cacheCountries), &countries); err != nil {
		return nil, nil, err
	}

	layers := make([]Layer, 0, len(cached))
	for _, cl := range cached {
		layers = append(layers, fromCache(cl))
	}
	return layers, countries, nil
}

func decodeCacheFile(path string, v any) error {
	fh, cleanup, err := openOptionallyBzippedFile(path)
	if err != nil {
		return err
	}
	defer cleanup()
	return gob.NewDecoder(fh).Decode(v)
}
