package coordclean

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FlagVector holds one outcome per enabled test: true means the record was
// flagged as suspicious by that test.
type FlagVector map[TestName]bool

// Passed reports whether no test flagged the record.
func (v FlagVector) Passed() bool {
	for _, flagged := range v {
		if flagged {
			return false
		}
	}
	return true
}

// Flagged returns the names of the tests that flagged the record, sorted.
func (v FlagVector) Flagged() []TestName {
	var out []TestName
	for name, flagged := range v {
		if flagged {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Registry maps test names to tests. Registration order is kept for
// listing.
type Registry struct {
	tests map[TestName]Test
	order []TestName
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tests: make(map[TestName]Test)}
}

// Register adds a test. Names must be unique.
func (r *Registry) Register(t Test) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("register: empty test name")
	}
	if _, dup := r.tests[name]; dup {
		return fmt.Errorf("register: test %q already registered", name)
	}
	r.tests[name] = t
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the test registered under name.
func (r *Registry) Lookup(name TestName) (Test, bool) {
	t, ok := r.tests[name]
	return t, ok
}

// Names lists the registered tests in registration order.
func (r *Registry) Names() []TestName {
	return append([]TestName(nil), r.order...)
}

// DefaultRegistry returns a registry holding every built-in test, backed by
// the given gazetteer.
func DefaultRegistry(g *Gazetteer) *Registry {
	r := NewRegistry()
	for _, t := range []Test{
		equalTest(),
		zeroTest(),
		seaTest(g),
		countryTest(g),
		centroidTest(g),
		capitalTest(g),
		institutionTest(g),
		gbifTest(),
		urbanTest(g),
		duplicateTest{},
	} {
		// Built-in names are distinct.
		_ = r.Register(t)
	}
	return r
}

// CheckConfig selects the tests to run and their tolerances.
type CheckConfig struct {
	Tests      []TestName
	Tolerances Tolerances
}

// DefaultCheckConfig enables the tests that need no declared country and
// no batch context.
func DefaultCheckConfig() CheckConfig {
	return CheckConfig{
		Tests: []TestName{
			TestCapital,
			TestCentroid,
			TestEqual,
			TestGBIF,
			TestInstitution,
			TestSea,
			TestZero,
		},
		Tolerances: DefaultTolerances(),
	}
}

// Observer receives the outcome of every validated record.
type Observer interface {
	ObserveRecord(flags FlagVector, err error)
}

// Validator runs registered tests against records.
type Validator struct {
	gaz      *Gazetteer
	registry *Registry
	workers  int
	log      *logrus.Logger
	observer Observer
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithRegistry replaces the default test registry.
func WithRegistry(r *Registry) ValidatorOption {
	return func(v *Validator) {
		v.registry = r
	}
}

// WithWorkers bounds the number of goroutines used by ValidateBatch.
func WithWorkers(n int) ValidatorOption {
	return func(v *Validator) {
		if n > 0 {
			v.workers = n
		}
	}
}

// WithValidatorLogger sets the logger used for batch progress.
func WithValidatorLogger(l *logrus.Logger) ValidatorOption {
	return func(v *Validator) {
		if l != nil {
			v.log = l
		}
	}
}

// WithObserver registers an observer notified once per record.
func WithObserver(o Observer) ValidatorOption {
	return func(v *Validator) {
		v.observer = o
	}
}

// NewValidator returns a Validator backed by the gazetteer.
func NewValidator(g *Gazetteer, opts ...ValidatorOption) *Validator {
	v := &Validator{
		gaz:     g,
		workers: runtime.GOMAXPROCS(0),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.registry == nil {
		v.registry = DefaultRegistry(g)
	}
	return v
}

// Registry returns the tests available to the validator.
func (v *Validator) Registry() *Registry { return v.registry }

// resolve looks up the configured tests and checks their layers are loaded.
func (v *Validator) resolve(cfg CheckConfig) ([]Test, error) {
	if err := cfg.Tolerances.validate(); err != nil {
		return nil, err
	}
	tests := make([]Test, 0, len(cfg.Tests))
	seen := make(map[TestName]bool, len(cfg.Tests))
	for _, name := range cfg.Tests {
		if seen[name] {
			continue
		}
		seen[name] = true
		t, ok := v.registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTest, name)
		}
		for _, c := range t.Requires() {
			if v.gaz == nil || !v.gaz.Has(c) {
				return nil, fmt.Errorf("%w: test %q needs the %s layer", ErrMissingLayer, name, c)
			}
		}
		tests = append(tests, t)
	}
	return tests, nil
}

func needsCountry(tests []Test) bool {
	for _, t := range tests {
		if t.Name() == TestCountry {
			return true
		}
	}
	return false
}

// prepare checks a record before any test runs and resolves its country
// code when the country test is enabled.
func (v *Validator) prepare(rec Record, withCountry bool) (Record, error) {
	if err := rec.CheckCoordinates(); err != nil {
		return rec, err
	}
	if !withCountry {
		return rec, nil
	}
	if rec.CountryCode == "" {
		return rec, fmt.Errorf("record %q: missing country code: %w", rec.ID, ErrInvalidRecord)
	}
	code, ok := v.gaz.ResolveCountry(rec.CountryCode)
	if !ok {
		return rec, fmt.Errorf("record %q: unrecognized country code %q: %w", rec.ID, rec.CountryCode, ErrInvalidRecord)
	}
	rec.CountryCode = code
	return rec, nil
}

func evaluate(rec Record, tests []Test, tol Tolerances) FlagVector {
	flags := make(FlagVector, len(tests))
	for _, t := range tests {
		flags[t.Name()] = t.Flag(rec, tol)
	}
	return flags
}

// Validate runs the configured tests against one record. Every enabled
// test is evaluated and reported independently. Batch tests see a batch of
// one, so a lone record is never its own duplicate.
func (v *Validator) Validate(rec Record, cfg CheckConfig) (FlagVector, error) {
	tests, err := v.resolve(cfg)
	if err != nil {
		return nil, err
	}
	rec, err = v.prepare(rec, needsCountry(tests))
	if err != nil {
		v.observe(nil, err)
		return nil, err
	}
	flags := evaluate(rec, bindAll(tests, []Record{rec}, cfg.Tolerances), cfg.Tolerances)
	v.observe(flags, nil)
	return flags, nil
}

func (v *Validator) observe(flags FlagVector, err error) {
	if v.observer != nil {
		v.observer.ObserveRecord(flags, err)
	}
}

// bindAll binds batch tests to the records they will answer for.
func bindAll(tests []Test, records []Record, tol Tolerances) []Test {
	out := make([]Test, len(tests))
	for i, t := range tests {
		if bt, ok := t.(BatchTest); ok {
			t = bt.Bind(records, tol)
		}
		out[i] = t
	}
	return out
}

// batchChunk is the number of records handled by one goroutine.
const batchChunk = 256

// ValidateBatch validates records concurrently and returns a table ordered
// by record ID. A record that cannot be validated keeps its error in its
// row; only a configuration error or cancellation of ctx fails the batch.
// Record IDs identify rows: a record repeating an earlier record's ID is
// rejected with ErrInvalidRecord.
func (v *Validator) ValidateBatch(ctx context.Context, records []Record, cfg CheckConfig) (*FlagTable, error) {
	tests, err := v.resolve(cfg)
	if err != nil {
		return nil, err
	}
	withCountry := needsCountry(tests)

	prepared := make([]Record, len(records))
	errs := make([]error, len(records))
	seen := make(map[string]bool, len(records))
	var valid []Record
	for i, rec := range records {
		if seen[rec.ID] {
			prepared[i], errs[i] = rec, fmt.Errorf("record %q: repeated record ID: %w", rec.ID, ErrInvalidRecord)
			continue
		}
		seen[rec.ID] = true
		prepared[i], errs[i] = v.prepare(rec, withCountry)
		if errs[i] == nil {
			valid = append(valid, prepared[i])
		}
	}
	bound := bindAll(tests, valid, cfg.Tolerances)

	rows := make([]FlagRow, len(records))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(v.workers)
	for start := 0; start < len(records); start += batchChunk {
		start, end := start, min(start+batchChunk, len(records))
		eg.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				row := FlagRow{ID: records[i].ID, Err: errs[i]}
				if row.Err == nil {
					row.Flags = evaluate(prepared[i], bound, cfg.Tolerances)
				}
				rows[i] = row
				v.observe(row.Flags, row.Err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("validate batch: %w", err)
	}

	t := newFlagTable(tests, rows)
	v.log.WithFields(logrus.Fields{
		"records": len(records),
		"invalid": len(records) - len(valid),
		"tests":   len(tests),
	}).Debug("validated batch")
	return t, nil
}
