// Package sink writes validation results to tab-separated files and to
// PostgreSQL.
package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/andreiashu/coordclean"
)

func newTSVWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return cw
}

func formatBool(b bool) string { return strconv.FormatBool(b) }

// WriteFlagTable writes one line per record: the record ID, one column per
// test, the overall outcome and the error if any. Tests that produced no
// outcome are written as NA.
func WriteFlagTable(w io.Writer, t *coordclean.FlagTable) error {
	cw := newTSVWriter(w)
	header := []string{"id"}
	for _, name := range t.Tests {
		header = append(header, string(name))
	}
	header = append(header, "passed", "error")
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range t.Rows {
		line := []string{r.ID}
		for _, name := range t.Tests {
			v, ok := r.Flags[name]
			if !ok {
				line = append(line, "NA")
				continue
			}
			line = append(line, formatBool(v))
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		line = append(line, formatBool(r.Passed()), errText)
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// formatDiagnostics renders diagnostics as sorted key=value pairs.
func formatDiagnostics(d map[string]float64) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.FormatFloat(d[k], 'g', 6, 64)
	}
	return strings.Join(parts, ";")
}

// WriteVerdicts writes one line per partition verdict.
func WriteVerdicts(w io.Writer, verdicts []coordclean.Verdict) error {
	cw := newTSVWriter(w)
	if err := cw.Write([]string{"partition", "test", "status", "flagged", "diagnostics", "error"}); err != nil {
		return err
	}
	for _, v := range verdicts {
		errText := ""
		if v.Err != nil {
			errText = v.Err.Error()
		}
		if err := cw.Write([]string{
			v.Partition,
			string(v.Test),
			v.Status.String(),
			formatBool(v.Flagged),
			formatDiagnostics(v.Diagnostics),
			errText,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteOutliers writes one line per scored record, or a single line per
// species that could not be evaluated.
func WriteOutliers(w io.Writer, reports []*coordclean.OutlierReport) error {
	cw := newTSVWriter(w)
	if err := cw.Write([]string{"species", "id", "method", "status", "score_m", "cutoff_m", "outlier"}); err != nil {
		return err
	}
	for _, rep := range reports {
		if rep.Status != coordclean.StatusEvaluated {
			if err := cw.Write([]string{rep.Key, "", string(rep.Method), rep.Status.String(), "", "", ""}); err != nil {
				return err
			}
			continue
		}
		ids := make([]string, 0, len(rep.Scores))
		for id := range rep.Scores {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := cw.Write([]string{
				rep.Key,
				id,
				string(rep.Method),
				rep.Status.String(),
				fmt.Sprintf("%.1f", rep.Scores[id]),
				fmt.Sprintf("%.1f", rep.Cutoff),
				formatBool(rep.IsOutlier(id)),
			}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
