package coordclean

import (
	"sort"
)

// FlagRow is the outcome for one record.
type FlagRow struct {
	ID    string
	Flags FlagVector

	// Err is set when the record could not be validated, e.g. because its
	// coordinates are missing. Such a row never passes.
	Err error

	// Unevaluated lists tests that could not produce an outcome for the
	// record, e.g. the outlier test for a species with too few records.
	Unevaluated []TestName
}

// Passed reports whether the record was validated and no test flagged it.
// Unevaluated tests do not count either way; check Complete as well when
// they matter.
func (r FlagRow) Passed() bool {
	return r.Err == nil && r.Flags.Passed()
}

// Complete reports whether every test produced an outcome for the record.
func (r FlagRow) Complete() bool {
	return r.Err == nil && len(r.Unevaluated) == 0
}

// FlagTable holds validation outcomes ordered by record ID.
type FlagTable struct {
	Tests []TestName
	Rows  []FlagRow
}

func newFlagTable(tests []Test, rows []FlagRow) *FlagTable {
	t := &FlagTable{Rows: rows}
	for _, tt := range tests {
		t.Tests = append(t.Tests, tt.Name())
	}
	sort.Slice(t.Tests, func(i, j int) bool { return t.Tests[i] < t.Tests[j] })
	sort.SliceStable(t.Rows, func(i, j int) bool { return t.Rows[i].ID < t.Rows[j].ID })
	return t
}

// Row returns the first row with the given ID.
func (t *FlagTable) Row(id string) (FlagRow, bool) {
	i := sort.Search(len(t.Rows), func(i int) bool { return t.Rows[i].ID >= id })
	if i < len(t.Rows) && t.Rows[i].ID == id {
		return t.Rows[i], true
	}
	return FlagRow{}, false
}

// PassedIDs returns the IDs of rows that passed, in table order.
func (t *FlagTable) PassedIDs() []string {
	var out []string
	for _, r := range t.Rows {
		if r.Passed() {
			out = append(out, r.ID)
		}
	}
	return out
}

// Filter returns the records whose rows passed, in input order. Only the
// first record with a given ID is returned.
func (t *FlagTable) Filter(records []Record) []Record {
	passed := make(map[string]bool, len(t.Rows))
	for _, id := range t.PassedIDs() {
		passed[id] = true
	}
	var out []Record
	for _, r := range records {
		if passed[r.ID] {
			out = append(out, r)
			delete(passed, r.ID)
		}
	}
	return out
}

// Summary counts table outcomes.
type Summary struct {
	Records     int
	Passed      int
	Invalid     int
	Incomplete  int
	FlaggedBy   map[TestName]int
	Unevaluated map[TestName]int
}

// Summary counts passed and invalid rows and the rows flagged by each test.
func (t *FlagTable) Summary() Summary {
	s := Summary{
		Records:     len(t.Rows),
		FlaggedBy:   make(map[TestName]int),
		Unevaluated: make(map[TestName]int),
	}
	for _, r := range t.Rows {
		switch {
		case r.Err != nil:
			s.Invalid++
			continue
		case r.Passed():
			s.Passed++
		}
		if !r.Complete() {
			s.Incomplete++
		}
		for _, name := range r.Flags.Flagged() {
			s.FlaggedBy[name]++
		}
		for _, name := range r.Unevaluated {
			s.Unevaluated[name]++
		}
	}
	return s
}

// MergeOutliers adds the outlier column from per-species reports. Rows not
// scored by any report, e.g. records of a species with too few records, are
// marked unevaluated rather than passed. Rows with an error are left alone.
func (t *FlagTable) MergeOutliers(reports []*OutlierReport) {
	if !containsTest(t.Tests, TestOutlier) {
		t.Tests = append(t.Tests, TestOutlier)
		sort.Slice(t.Tests, func(i, j int) bool { return t.Tests[i] < t.Tests[j] })
	}

	for i := range t.Rows {
		r := &t.Rows[i]
		if r.Err != nil {
			continue
		}
		scored := false
		for _, rep := range reports {
			if f, ok := rep.Flags(r.ID); ok {
				if r.Flags == nil {
					r.Flags = make(FlagVector)
				}
				r.Flags[TestOutlier] = f[TestOutlier]
				scored = true
				break
			}
		}
		if !scored && !containsTest(r.Unevaluated, TestOutlier) {
			r.Unevaluated = append(r.Unevaluated, TestOutlier)
		}
	}
}

func containsTest(names []TestName, name TestName) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
