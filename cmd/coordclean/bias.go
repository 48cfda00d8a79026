package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/andreiashu/coordclean"
	"github.com/andreiashu/coordclean/internal/dwc"
	"github.com/andreiashu/coordclean/internal/sink"
)

func newBiasCmd(a *app) *cobra.Command {
	conv := coordclean.DefaultConversionConfig()
	raster := coordclean.DefaultRasterConfig()
	var (
		by    string
		out   string
		runID string
	)
	cmd := &cobra.Command{
		Use:   "bias <occurrence.tsv>",
		Short: "Test each dataset for conversion and rasterization bias",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key func(coordclean.Record) string
			switch by {
			case "dataset":
				key = coordclean.ByDataset
			case "species":
				key = coordclean.BySpecies
			default:
				return fmt.Errorf("unknown partition key %q (want dataset or species)", by)
			}

			records, err := dwc.ReadFile(args[0])
			if err != nil {
				return err
			}
			verdicts := coordclean.DetectBias(coordclean.PartitionBy(records, key), conv, raster, coordclean.WithBiasLogger(a.log))
			a.metrics.ObserveVerdicts(verdicts)

			w, closeOut, err := output(cmd, out)
			if err != nil {
				return err
			}
			if err := sink.WriteVerdicts(w, verdicts); err != nil {
				_ = closeOut()
				return err
			}
			if err := closeOut(); err != nil {
				return err
			}

			if a.settings.DatabaseURL == "" {
				return nil
			}
			if runID == "" {
				runID = uuid.NewString()
			}
			db, err := sink.Open(a.settings.DatabaseURL, a.log)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			return db.WriteVerdicts(cmd.Context(), runID, verdicts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&by, "by", "dataset", "partition records by: dataset|species")
	f.IntVar(&conv.MinRecords, "min-records", conv.MinRecords, "conversion: minimum records per partition")
	f.Float64Var(&conv.MinSpan, "min-span", conv.MinSpan, "conversion: minimum span in degrees on each axis")
	f.Float64Var(&conv.Diff, "diff", conv.Diff, "conversion: relative excess of low fractions that flags")
	f.Float64Var(&conv.PValue, "p-value", conv.PValue, "conversion: significance level")
	f.Float64Var(&raster.Resolution, "resolution", raster.Resolution, "rasterization: bin width in degrees")
	f.Float64Var(&raster.Lag, "lag", raster.Lag, "rasterization: period to test in degrees (0 searches the period range)")
	f.Float64Var(&raster.MinPeriod, "min-period", raster.MinPeriod, "rasterization: shortest period in degrees")
	f.Float64Var(&raster.MaxPeriod, "max-period", raster.MaxPeriod, "rasterization: longest period in degrees")
	f.Float64Var(&raster.T1, "t1", raster.T1, "rasterization: IQR multiplier for significant autocorrelation")
	f.StringVarP(&out, "output", "o", "-", "verdict output path")
	f.StringVar(&runID, "run-id", "", "run identifier for stored results (default: random UUID)")
	return cmd
}
