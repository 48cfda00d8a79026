package main

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/andreiashu/coordclean"
	"github.com/andreiashu/coordclean/internal/config"
	"github.com/andreiashu/coordclean/internal/logging"
	"github.com/andreiashu/coordclean/internal/metrics"
)

// app holds state shared by subcommands.
type app struct {
	settings config.Settings
	log      *logrus.Logger
	metrics  *metrics.Recorder
	verbose  bool
}

// newApp reads the env files before anything else, so they can configure
// logging as well as the settings.
func newApp() *app {
	a := &app{log: logging.Bootstrap(), metrics: metrics.New()}
	a.settings = config.Load()
	return a
}

func newRootCmd() *cobra.Command {
	a := newApp()

	rootCmd := &cobra.Command{
		Use:           "coordclean",
		Short:         "Flag suspicious coordinates in biodiversity occurrence records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if a.verbose {
				a.log.SetLevel(logrus.DebugLevel)
			}
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.settings.MetricsFile == "" {
				return nil
			}
			return a.metrics.WriteTextfile(a.settings.MetricsFile)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.settings.DataDir, "data-dir", a.settings.DataDir, "directory with raw reference data")
	pf.StringVar(&a.settings.CacheDir, "cache-dir", a.settings.CacheDir, "directory with gazetteer cache files")
	pf.BoolVar(&a.settings.DeriveCentroids, "derive-centroids", a.settings.DeriveCentroids, "derive country centroids from borders when no centroid layer is present")
	pf.IntVar(&a.settings.Workers, "workers", a.settings.Workers, "parallel validation workers")
	pf.StringVar(&a.settings.MetricsFile, "metrics-file", a.settings.MetricsFile, "write Prometheus textfile metrics here")
	pf.StringVar(&a.settings.DatabaseURL, "db", a.settings.DatabaseURL, "PostgreSQL DSN to store results in")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newValidateCmd(a))
	rootCmd.AddCommand(newOutliersCmd(a))
	rootCmd.AddCommand(newBiasCmd(a))
	rootCmd.AddCommand(newTestsCmd(a))
	return rootCmd
}

func (a *app) gazetteer() (*coordclean.Gazetteer, error) {
	opts := []coordclean.Option{
		coordclean.WithDataDir(a.settings.DataDir),
		coordclean.WithCacheDir(a.settings.CacheDir),
		coordclean.WithLogger(a.log),
	}
	if a.settings.DeriveCentroids {
		opts = append(opts, coordclean.WithDerivedCentroids())
	}
	return coordclean.LoadGazetteer(opts...)
}

// output opens path for writing; "-" or "" is stdout.
func output(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
