package coordclean

import (
	"fmt"
	"math"
	"strconv"

	"github.com/sirupsen/logrus"
)

// BiasTest names a dataset-level bias test.
type BiasTest string

const (
	BiasConversion    BiasTest = "conversion"
	BiasRasterization BiasTest = "rasterization"
)

// Verdict is the outcome of a bias test over one partition. Diagnostics
// carry the statistics behind the verdict for reporting.
type Verdict struct {
	Partition   string
	Test        BiasTest
	Status      Status
	Flagged     bool
	Diagnostics map[string]float64
	Err         error
}

// ---------------------------------------------------------------------------
// Conversion (degree-minute) bias
// ---------------------------------------------------------------------------

// ddmmCutoff is the largest fraction a minute value misread as decimal
// degrees can produce.
const ddmmCutoff = 0.6

// ddmmExpected is the share of records with both fractions below the
// cutoff when fractions are uniform.
const ddmmExpected = ddmmCutoff * ddmmCutoff

// conversionBins is the number of histogram bins per axis.
const conversionBins = 10

// ConversionConfig configures DetectConversionBias. Zero fields take the
// defaults of DefaultConversionConfig.
type ConversionConfig struct {
	MinRecords int     // usable records required
	MinSpan    float64 // degrees spanned on each axis
	Diff       float64 // relative excess of low fractions that flags
	PValue     float64 // significance level of the binomial test
}

// DefaultConversionConfig returns the thresholds used for GBIF datasets.
func DefaultConversionConfig() ConversionConfig {
	return ConversionConfig{MinRecords: 100, MinSpan: 2, Diff: 1, PValue: 0.025}
}

func (c ConversionConfig) withDefaults() ConversionConfig {
	def := DefaultConversionConfig()
	if c.MinRecords == 0 {
		c.MinRecords = def.MinRecords
	}
	if c.MinSpan == 0 {
		c.MinSpan = def.MinSpan
	}
	if c.Diff == 0 {
		c.Diff = def.Diff
	}
	if c.PValue == 0 {
		c.PValue = def.PValue
	}
	return c
}

// usableCoordinates returns the longitudes and latitudes of records with
// valid coordinates.
func usableCoordinates(records []Record) (lons, lats []float64) {
	for _, r := range records {
		if r.CheckCoordinates() == nil {
			lons = append(lons, r.Longitude)
			lats = append(lats, r.Latitude)
		}
	}
	return lons, lats
}

func span(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	return hi - lo
}

func fractions(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		a := math.Abs(v)
		out[i] = a - math.Floor(a)
	}
	return out
}

// DetectConversionBias tests whether a partition looks like it had
// degree-minute coordinates stored as decimal degrees. Minutes run from 0
// to 59, so such records have fractional parts below 0.6 on both axes. The
// partition is flagged when the share of such records exceeds its uniform
// expectation by Diff (relative) and a one-sided binomial test rejects
// uniformity at PValue.
func DetectConversionBias(p Partition, cfg ConversionConfig) (*Verdict, error) {
	cfg = cfg.withDefaults()
	v := &Verdict{Partition: p.Key, Test: BiasConversion, Diagnostics: make(map[string]float64)}

	lons, lats := usableCoordinates(p.Records)
	n := len(lons)
	v.Diagnostics["n"] = float64(n)
	v.Diagnostics["span_lon"] = span(lons)
	v.Diagnostics["span_lat"] = span(lats)

	switch {
	case n < cfg.MinRecords:
		return v.fail(fmt.Errorf("partition %q: %d usable records, need %d: %w", p.Key, n, cfg.MinRecords, ErrInsufficientData))
	case v.Diagnostics["span_lon"] < cfg.MinSpan || v.Diagnostics["span_lat"] < cfg.MinSpan:
		return v.fail(fmt.Errorf("partition %q: coordinates span less than %v degrees: %w", p.Key, cfg.MinSpan, ErrInsufficientData))
	}

	fLon, fLat := fractions(lons), fractions(lats)
	low := 0
	for i := range fLon {
		if fLon[i] < ddmmCutoff && fLat[i] < ddmmCutoff {
			low++
		}
	}
	share := float64(low) / float64(n)
	dev := share/ddmmExpected - 1
	pval := binomialUpperP(low, n, ddmmExpected)

	v.Diagnostics["share_low"] = share
	v.Diagnostics["share_expected"] = ddmmExpected
	v.Diagnostics["deviation"] = dev
	v.Diagnostics["p_value"] = pval
	v.Diagnostics["ks_lon"] = ksUniform(fLon)
	v.Diagnostics["ks_lat"] = ksUniform(fLat)
	for i, c := range histogram(fLon, conversionBins) {
		v.Diagnostics["hist_lon_"+strconv.Itoa(i)] = c
	}
	for i, c := range histogram(fLat, conversionBins) {
		v.Diagnostics["hist_lat_"+strconv.Itoa(i)] = c
	}

	v.Status = StatusEvaluated
	v.Flagged = dev >= cfg.Diff && pval < cfg.PValue
	return v, nil
}

func (v *Verdict) fail(err error) (*Verdict, error) {
	v.Status = statusFor(err)
	v.Err = err
	return v, err
}

// ---------------------------------------------------------------------------
// Rasterization bias
// ---------------------------------------------------------------------------

// RasterConfig configures DetectRasterizationBias. Periods are in degrees.
// Zero fields take the defaults of DefaultRasterConfig, except Lag, where
// zero means any shared period counts.
type RasterConfig struct {
	Resolution float64 // bin width
	Lag        float64 // period to test; 0 searches [MinPeriod, MaxPeriod]
	MinPeriod  float64
	MaxPeriod  float64
	T1         float64 // IQR multiplier for outlying autocorrelation
	MinUnique  int     // distinct binned values required per axis
}

// DefaultRasterConfig returns a 0.01 degree resolution searching periods
// between 0.1 and 2 degrees.
func DefaultRasterConfig() RasterConfig {
	return RasterConfig{Resolution: 0.01, MinPeriod: 0.1, MaxPeriod: 2, T1: 7, MinUnique: 4}
}

func (c RasterConfig) withDefaults() (RasterConfig, error) {
	def := DefaultRasterConfig()
	if c.Resolution == 0 {
		c.Resolution = def.Resolution
	}
	if c.MinPeriod == 0 {
		c.MinPeriod = def.MinPeriod
	}
	if c.MaxPeriod == 0 {
		c.MaxPeriod = def.MaxPeriod
	}
	if c.T1 == 0 {
		c.T1 = def.T1
	}
	if c.MinUnique == 0 {
		c.MinUnique = def.MinUnique
	}
	switch {
	case !(c.Resolution > 0) || math.IsInf(c.Resolution, 0):
		return c, fmt.Errorf("raster resolution %v must be positive", c.Resolution)
	case c.Lag < 0 || math.IsNaN(c.Lag):
		return c, fmt.Errorf("raster lag %v must not be negative", c.Lag)
	case !(c.MinPeriod <= c.MaxPeriod):
		return c, fmt.Errorf("raster period range [%v, %v] is empty", c.MinPeriod, c.MaxPeriod)
	case c.T1 < 0 || math.IsNaN(c.T1):
		return c, fmt.Errorf("raster T1 %v must not be negative", c.T1)
	}
	return c, nil
}

// axisACF is the autocorrelation analysis of one coordinate axis.
type axisACF struct {
	acf       []float64 // lags 0..maxLag
	threshold float64
	unique    int
}

func (a axisACF) significant(lag int) bool {
	return lag > 0 && lag < len(a.acf) && a.acf[lag] > a.threshold
}

// analyseAxis bins coordinates at the given resolution and computes the
// autocorrelation of bin counts up to maxLag. A lag is significant when its
// autocorrelation lies more than t1 interquartile ranges above the upper
// quartile of all lags.
func analyseAxis(values []float64, res float64, maxLag int, t1 float64) axisACF {
	lo := values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
	}
	counts := make(map[int]int)
	hi := 0
	for _, v := range values {
		i := int(math.Round((v - lo) / res))
		counts[i]++
		hi = max(hi, i)
	}
	series := make([]float64, hi+1)
	for i, c := range counts {
		series[i] = float64(c)
	}

	a := axisACF{unique: len(counts), acf: acf(series, maxLag)}
	if len(a.acf) > 1 {
		rest := a.acf[1:]
		q1, q3 := quantile(rest, 0.25), quantile(rest, 0.75)
		a.threshold = q3 + t1*(q3-q1)
	}
	return a
}

// DetectRasterizationBias tests whether a partition's coordinates sit on a
// regular grid, as when records were derived from raster cells. Each axis
// is binned and tested for periodic autocorrelation. The partition is
// flagged only when both axes are periodic at the same lag; periodicity on
// one axis alone is common along administrative borders.
func DetectRasterizationBias(p Partition, cfg RasterConfig) (*Verdict, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	v := &Verdict{Partition: p.Key, Test: BiasRasterization, Diagnostics: make(map[string]float64)}

	lons, lats := usableCoordinates(p.Records)
	v.Diagnostics["n"] = float64(len(lons))
	if len(lons) == 0 {
		return v.fail(fmt.Errorf("partition %q: no usable records: %w", p.Key, ErrInsufficientData))
	}

	minLag := int(math.Round(cfg.MinPeriod / cfg.Resolution))
	maxLag := int(math.Round(cfg.MaxPeriod / cfg.Resolution))
	if cfg.Lag > 0 {
		minLag = int(math.Round(cfg.Lag / cfg.Resolution))
		maxLag = max(maxLag, minLag)
	}
	minLag = max(minLag, 1)

	lon := analyseAxis(lons, cfg.Resolution, maxLag, cfg.T1)
	lat := analyseAxis(lats, cfg.Resolution, maxLag, cfg.T1)
	v.Diagnostics["unique_lon"] = float64(lon.unique)
	v.Diagnostics["unique_lat"] = float64(lat.unique)
	v.Diagnostics["threshold_lon"] = lon.threshold
	v.Diagnostics["threshold_lat"] = lat.threshold

	switch {
	case lon.unique < cfg.MinUnique || lat.unique < cfg.MinUnique:
		return v.fail(fmt.Errorf("partition %q: fewer than %d distinct binned values on an axis: %w", p.Key, cfg.MinUnique, ErrInsufficientData))
	case len(lon.acf) <= minLag && len(lat.acf) <= minLag:
		return v.fail(fmt.Errorf("partition %q: coordinate range shorter than the smallest period: %w", p.Key, ErrInsufficientData))
	}

	if cfg.Lag > 0 {
		v.Diagnostics["lag"] = float64(minLag) * cfg.Resolution
		v.Diagnostics["acf_lon"] = acfAt(lon.acf, minLag)
		v.Diagnostics["acf_lat"] = acfAt(lat.acf, minLag)
		v.Flagged = lon.significant(minLag) && lat.significant(minLag)
		v.Status = StatusEvaluated
		return v, nil
	}

	v.Diagnostics["period_lon"] = firstPeriod(lon, minLag, maxLag, cfg.Resolution)
	v.Diagnostics["period_lat"] = firstPeriod(lat, minLag, maxLag, cfg.Resolution)
	for k := minLag; k <= maxLag; k++ {
		if lon.significant(k) && lat.significant(k) {
			v.Flagged = true
			v.Diagnostics["period"] = float64(k) * cfg.Resolution
			v.Diagnostics["acf_lon"] = lon.acf[k]
			v.Diagnostics["acf_lat"] = lat.acf[k]
			break
		}
	}
	v.Status = StatusEvaluated
	return v, nil
}

func acfAt(acf []float64, lag int) float64 {
	if lag < len(acf) {
		return acf[lag]
	}
	return math.NaN()
}

// firstPeriod returns the shortest significant period of an axis in
// degrees, or 0 when there is none.
func firstPeriod(a axisACF, minLag, maxLag int, res float64) float64 {
	for k := minLag; k <= maxLag; k++ {
		if a.significant(k) {
			return float64(k) * res
		}
	}
	return 0
}

// BiasOption configures DetectBias.
type BiasOption func(*biasRun)

type biasRun struct {
	log *logrus.Logger
}

// WithBiasLogger sets the logger reporting tests that could not be
// evaluated. The default is the logrus standard logger.
func WithBiasLogger(l *logrus.Logger) BiasOption {
	return func(r *biasRun) {
		if l != nil {
			r.log = l
		}
	}
}

// DetectBias runs the conversion and rasterization tests on every
// partition. A test that cannot be evaluated on a partition yields a
// verdict carrying its error and status; other partitions are unaffected.
func DetectBias(partitions []Partition, conv ConversionConfig, raster RasterConfig, opts ...BiasOption) []Verdict {
	r := &biasRun{log: logrus.StandardLogger()}
	for _, o := range opts {
		o(r)
	}
	out := make([]Verdict, 0, 2*len(partitions))
	for _, p := range partitions {
		cv, err := DetectConversionBias(p, conv)
		out = append(out, r.verdictOrFailure(cv, err, p.Key, BiasConversion))
		rv, err := DetectRasterizationBias(p, raster)
		out = append(out, r.verdictOrFailure(rv, err, p.Key, BiasRasterization))
	}
	return out
}

func (r *biasRun) verdictOrFailure(v *Verdict, err error, key string, test BiasTest) Verdict {
	if v == nil {
		v = &Verdict{Partition: key, Test: test, Status: StatusFailed, Err: err}
	}
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"partition": key,
			"test":      test,
			"status":    v.Status,
		}).WithError(err).Debug("bias test not evaluated")
	}
	return *v
}
