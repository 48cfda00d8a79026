// Command coordclean flags implausible coordinates in occurrence records
// and tests datasets for systematic coordinate bias.
//
// Usage:
//
//	coordclean validate occurrence.txt > flags.tsv
//	coordclean outliers --method quantile --threshold 0.99 occurrence.txt
//	coordclean bias --by dataset occurrence.txt
//	coordclean tests
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
