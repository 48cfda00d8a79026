package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/andreiashu/coordclean"
)

// Profile is a YAML check profile: the tests to run and any tolerances
// that differ from the defaults. Distances are in meters.
//
//	tests: [sea, zero, capital, country]
//	tolerances:
//	  capital_radius: 5000
//	  centroid_kinds: [country]
type Profile struct {
	Tests      []string          `yaml:"tests"`
	Tolerances ProfileTolerances `yaml:"tolerances"`
}

// ProfileTolerances overrides coordclean.DefaultTolerances field by field.
type ProfileTolerances struct {
	ZeroRadius        *float64 `yaml:"zero_radius"`
	CapitalRadius     *float64 `yaml:"capital_radius"`
	CentroidRadius    *float64 `yaml:"centroid_radius"`
	InstitutionRadius *float64 `yaml:"institution_radius"`
	GBIFRadius        *float64 `yaml:"gbif_radius"`
	SeaBuffer         *float64 `yaml:"sea_buffer"`
	CountryBuffer     *float64 `yaml:"country_buffer"`
	UrbanBuffer       *float64 `yaml:"urban_buffer"`
	DuplicateRadius   *float64 `yaml:"duplicate_radius"`
	CentroidKinds     []string `yaml:"centroid_kinds"`
	EqualAbsolute     *bool    `yaml:"equal_absolute"`
}

// LoadProfile reads a YAML profile.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("reading profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return p, nil
}

// CheckConfig applies the profile on top of coordclean.DefaultCheckConfig.
// An empty test list keeps the default tests.
func (p Profile) CheckConfig() coordclean.CheckConfig {
	cfg := coordclean.DefaultCheckConfig()
	if len(p.Tests) > 0 {
		cfg.Tests = cfg.Tests[:0]
		for _, t := range p.Tests {
			cfg.Tests = append(cfg.Tests, coordclean.TestName(t))
		}
	}

	t := &cfg.Tolerances
	o := p.Tolerances
	for _, f := range []struct {
		dst *float64
		src *float64
	}{
		{&t.ZeroRadius, o.ZeroRadius},
		{&t.CapitalRadius, o.CapitalRadius},
		{&t.CentroidRadius, o.CentroidRadius},
		{&t.InstitutionRadius, o.InstitutionRadius},
		{&t.GBIFRadius, o.GBIFRadius},
		{&t.SeaBuffer, o.SeaBuffer},
		{&t.CountryBuffer, o.CountryBuffer},
		{&t.UrbanBuffer, o.UrbanBuffer},
		{&t.DuplicateRadius, o.DuplicateRadius},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	if len(o.CentroidKinds) > 0 {
		t.CentroidKinds = o.CentroidKinds
	}
	if o.EqualAbsolute != nil {
		t.EqualAbsolute = *o.EqualAbsolute
	}
	return cfg
}
