package main

import (
	"github.com/spf13/cobra"

	"github.com/andreiashu/coordclean"
	"github.com/andreiashu/coordclean/internal/dwc"
	"github.com/andreiashu/coordclean/internal/sink"
)

func newOutliersCmd(a *app) *cobra.Command {
	cfg := coordclean.DefaultOutlierConfig()
	var (
		method string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "outliers <occurrence.tsv>",
		Short: "Score per-species spatial outliers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := dwc.ReadFile(args[0])
			if err != nil {
				return err
			}
			if method != string(cfg.Method) {
				cfg.Method = coordclean.OutlierMethod(method)
				if !cmd.Flags().Changed("threshold") {
					cfg.Threshold = 0
				}
			}
			reports, err := coordclean.DetectOutliersBySpecies(records, cfg)
			if err != nil {
				return err
			}
			a.metrics.ObserveOutliers(reports)

			w, closeOut, err := output(cmd, out)
			if err != nil {
				return err
			}
			if err := sink.WriteOutliers(w, reports); err != nil {
				_ = closeOut()
				return err
			}
			return closeOut()
		},
	}
	cmd.Flags().StringVar(&method, "method", string(cfg.Method), "outlier method: distance|quantile|mad")
	cmd.Flags().Float64Var(&cfg.Threshold, "threshold", cfg.Threshold, "SDs (distance), quantile (quantile) or MADs (mad)")
	cmd.Flags().IntVar(&cfg.K, "k", cfg.K, "nearest neighbours for the distance method")
	cmd.Flags().IntVar(&cfg.MinRecords, "min-records", cfg.MinRecords, "minimum usable records per species")
	cmd.Flags().StringVarP(&out, "output", "o", "-", "report output path")
	return cmd
}
