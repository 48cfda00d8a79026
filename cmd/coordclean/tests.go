package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andreiashu/coordclean"
)

func newTestsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tests",
		Short: "List record-level tests and the reference layers they need",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := coordclean.DefaultRegistry(nil)
			for _, name := range reg.Names() {
				t, _ := reg.Lookup(name)
				var layers []string
				for _, c := range t.Requires() {
					layers = append(layers, string(c))
				}
				if len(layers) == 0 {
					layers = append(layers, "-")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", name, strings.Join(layers, ","))
			}
			return nil
		},
	}
}
