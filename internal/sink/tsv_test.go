package sink

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/andreiashu/coordclean"
)

func TestWriteFlagTableTSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFlagTable(&buf, sampleTable()); err != nil {
		t.Fatalf("WriteFlagTable: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"id\tsea\tzero\tpassed\terror",
		"a\tfalse\tfalse\ttrue\t",
		"b\ttrue\tfalse\tfalse\t",
		"c\tNA\tNA\tfalse\t\"record \"\"c\"\": missing coordinate: invalid record\"",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestWriteVerdictsTSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteVerdicts(&buf, []coordclean.Verdict{
		{Partition: "ds-1", Test: coordclean.BiasConversion, Status: coordclean.StatusEvaluated, Flagged: true,
			Diagnostics: map[string]float64{"n": 120, "deviation": 1.5}},
		{Partition: "ds-2", Test: coordclean.BiasRasterization, Status: coordclean.StatusInsufficientData,
			Err: errors.New("too few")},
	})
	if err != nil {
		t.Fatalf("WriteVerdicts: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "ds-1\tconversion\tevaluated\ttrue\tdeviation=1.5;n=120\t\n") {
		t.Fatalf("unexpected conversion line:\n%s", out)
	}
	if !strings.Contains(out, "ds-2\trasterization\tinsufficient-data\tfalse\t\ttoo few\n") {
		t.Fatalf("unexpected rasterization line:\n%s", out)
	}
}

func TestWriteOutliersTSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteOutliers(&buf, []*coordclean.OutlierReport{
		{Key: "puma concolor", Method: coordclean.OutlierQuantile, Status: coordclean.StatusEvaluated,
			Cutoff: 1000, Scores: map[string]float64{"b": 5000, "a": 10}, Outliers: []string{"b"}},
		{Key: "lynx lynx", Method: coordclean.OutlierQuantile, Status: coordclean.StatusInsufficientData},
	})
	if err != nil {
		t.Fatalf("WriteOutliers: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	want := []string{
		"species\tid\tmethod\tstatus\tscore_m\tcutoff_m\toutlier",
		"puma concolor\ta\tquantile\tevaluated\t10.0\t1000.0\tfalse",
		"puma concolor\tb\tquantile\tevaluated\t5000.0\t1000.0\ttrue",
		"lynx lynx\t\tquantile\tinsufficient-data\t\t\t",
	}
	for i := range want {
		if i >= len(lines) || lines[i] != want[i] {
			t.Fatalf("line %d mismatch:\n%s", i, buf.String())
		}
	}
}
