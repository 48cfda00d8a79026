// Command update-cache regenerates the gazetteer cache files from raw data.
//
// Usage:
//
//	go run ./cmd/update-cache --data-dir ./gazetteer-data --cache-dir ./gazetteer-cache
//
// After running, compress the cache files:
//
//	bzip2 -f gazetteer-cache/*.dmp
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andreiashu/coordclean"
	"github.com/andreiashu/coordclean/internal/config"
	"github.com/andreiashu/coordclean/internal/logging"
)

func main() {
	log := logging.Bootstrap()
	s := config.Load()

	cmd := &cobra.Command{
		Use:          "update-cache",
		Short:        "Regenerate the gazetteer cache from raw reference data",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.WithField("data_dir", s.DataDir).Info("regenerating gazetteer cache from raw data")
			if err := coordclean.RegenerateCache(
				coordclean.WithDataDir(s.DataDir),
				coordclean.WithCacheDir(s.CacheDir),
				coordclean.WithLogger(log),
			); err != nil {
				return err
			}
			log.WithField("cache_dir", s.CacheDir).Info("cache regenerated")
			fmt.Fprintf(cmd.OutOrStdout(), "Run 'bzip2 -f %s/*.dmp' to compress the cache files.\n", s.CacheDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&s.DataDir, "data-dir", s.DataDir, "directory with raw reference data")
	cmd.Flags().StringVar(&s.CacheDir, "cache-dir", s.CacheDir, "directory to write cache files to")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
