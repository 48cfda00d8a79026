package config

import "runtime"

// Settings are the defaults of the coordclean binaries. Command-line flags
// override them.
type Settings struct {
	DataDir     string
	CacheDir    string
	Workers     int
	DatabaseURL string
	MetricsFile string

	DeriveCentroids bool

	// DuplicateRadius is the default duplicate test radius in meters. A
	// check profile setting duplicate_radius takes precedence.
	DuplicateRadius float64
}

// Load reads Settings from COORDCLEAN_* variables.
func Load() Settings {
	return Settings{
		DataDir:         String("COORDCLEAN_DATA_DIR", "./gazetteer-data"),
		CacheDir:        String("COORDCLEAN_CACHE_DIR", "./gazetteer-cache"),
		Workers:         Int("COORDCLEAN_WORKERS", runtime.GOMAXPROCS(0)),
		DatabaseURL:     String("COORDCLEAN_DATABASE_URL", ""),
		MetricsFile:     String("COORDCLEAN_METRICS_FILE", ""),
		DeriveCentroids: Bool("COORDCLEAN_DERIVE_CENTROIDS", true),
		DuplicateRadius: Float("COORDCLEAN_DUPLICATE_RADIUS", 0),
	}
}
