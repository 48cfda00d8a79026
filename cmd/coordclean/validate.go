package main

import (
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/andreiashu/coordclean"
	"github.com/andreiashu/coordclean/internal/config"
	"github.com/andreiashu/coordclean/internal/dwc"
	"github.com/andreiashu/coordclean/internal/sink"
)

func newValidateCmd(a *app) *cobra.Command {
	var (
		tests         []string
		profile       string
		out           string
		runID         string
		withOutliers  bool
		outlierMethod string
	)
	cmd := &cobra.Command{
		Use:   "validate <occurrence.tsv>",
		Short: "Run record-level tests and write a flag table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.checkConfig(profile, tests, cmd.Flags().Changed("duplicate-radius"))
			if err != nil {
				return err
			}

			records, err := dwc.ReadFile(args[0])
			if err != nil {
				return err
			}
			g, err := a.gazetteer()
			if err != nil {
				return err
			}
			v := coordclean.NewValidator(g,
				coordclean.WithWorkers(a.settings.Workers),
				coordclean.WithValidatorLogger(a.log),
				coordclean.WithObserver(a.metrics),
			)
			table, err := v.ValidateBatch(cmd.Context(), records, cfg)
			if err != nil {
				return err
			}

			if withOutliers {
				reports, err := coordclean.DetectOutliersBySpecies(records, coordclean.OutlierConfig{Method: coordclean.OutlierMethod(outlierMethod)})
				if err != nil {
					return err
				}
				a.metrics.ObserveOutliers(reports)
				table.MergeOutliers(reports)
			}

			s := table.Summary()
			a.log.WithFields(logrus.Fields{
				"records": s.Records,
				"passed":  s.Passed,
				"invalid": s.Invalid,
			}).Info("validation finished")

			w, closeOut, err := output(cmd, out)
			if err != nil {
				return err
			}
			if err := sink.WriteFlagTable(w, table); err != nil {
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
			return db.WriteFlagTable(cmd.Context(), runID, table)
		},
	}
	cmd.Flags().StringSliceVar(&tests, "tests", nil, "comma-separated tests to run (default: capital,centroid,equal,gbif,institution,sea,zero)")
	cmd.Flags().StringVar(&profile, "profile", "", "YAML check profile with tests and tolerances")
	cmd.Flags().Float64Var(&a.settings.DuplicateRadius, "duplicate-radius", a.settings.DuplicateRadius, "duplicate test radius in meters (0 matches exact coordinates only)")
	cmd.Flags().StringVarP(&out, "output", "o", "-", "flag table output path")
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier for stored results (default: random UUID)")
	cmd.Flags().BoolVar(&withOutliers, "outliers", false, "add a per-species outlier column")
	cmd.Flags().StringVar(&outlierMethod, "outlier-method", string(coordclean.OutlierDistance), "outlier method: distance|quantile|mad")
	return cmd
}

// checkConfig builds the run configuration. The duplicate radius comes
// from the settings unless the profile sets one; an explicit flag beats
// both.
func (a *app) checkConfig(profile string, tests []string, radiusFlag bool) (coordclean.CheckConfig, error) {
	cfg := coordclean.DefaultCheckConfig()
	profileRadius := false
	if profile != "" {
		p, err := config.LoadProfile(profile)
		if err != nil {
			return cfg, err
		}
		cfg = p.CheckConfig()
		profileRadius = p.Tolerances.DuplicateRadius != nil
	}
	if radiusFlag || !profileRadius {
		cfg.Tolerances.DuplicateRadius = a.settings.DuplicateRadius
	}
	if len(tests) > 0 {
		cfg.Tests = cfg.Tests[:0]
		for _, t := range tests {
			cfg.Tests = append(cfg.Tests, coordclean.TestName(strings.TrimSpace(t)))
		}
	}
	return cfg, nil
}
