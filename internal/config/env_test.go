package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestString(t *testing.T) {
	t.Setenv("FOO", "")
	if got := String("FOO", "bar"); got != "bar" {
		t.Fatalf("expected bar, got %s", got)
	}
	t.Setenv("FOO", "  ")
	if got := String("FOO", "bar"); got != "bar" {
		t.Fatalf("expected bar for blank value, got %q", got)
	}
	t.Setenv("FOO", "baz")
	if got := String("FOO", "bar"); got != "baz" {
		t.Fatalf("expected baz, got %s", got)
	}
}

func TestInt(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 42},
		{"100", 100},
		{" 8 ", 8},
		{"notint", 42},
	}
	for _, tt := range tests {
		t.Setenv("NUM", tt.value)
		if got := Int("NUM", 42); got != tt.want {
			t.Errorf("NUM=%q: expected %d, got %d", tt.value, tt.want, got)
		}
	}
}

func TestFloat(t *testing.T) {
	tests := []struct {
		value string
		want  float64
	}{
		{"", 1.5},
		{"250.25", 250.25},
		{"wide", 1.5},
		{"NaN", 1.5},
		{"+Inf", 1.5},
	}
	for _, tt := range tests {
		t.Setenv("RADIUS", tt.value)
		if got := Float("RADIUS", 1.5); got != tt.want {
			t.Errorf("RADIUS=%q: expected %v, got %v", tt.value, tt.want, got)
		}
	}
}

func TestBool(t *testing.T) {
	t.Setenv("FLAG", "")
	if got := Bool("FLAG", true); got != true {
		t.Fatalf("expected true default, got %v", got)
	}
	t.Setenv("FLAG", "false")
	if got := Bool("FLAG", true); got != false {
		t.Fatalf("expected false, got %v", got)
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"WARN":    logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"loud":    logrus.InfoLevel,
		"":        logrus.InfoLevel,
	}
	for in, want := range cases {
		t.Setenv("LOG_LEVEL", in)
		if got := LogLevel(); got != want {
			t.Fatalf("LOG_LEVEL=%q: expected %v, got %v", in, want, got)
		}
	}
}

// chdir moves the test into a fresh directory holding the given files.
func chdir(t *testing.T, files map[string]string) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

// unset clears keys for the test; t.Setenv restores them afterwards.
func unset(t *testing.T, keys ...string) {
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadEnvFile(t *testing.T) {
	chdir(t, map[string]string{
		".env":       "COORDCLEAN_WORKERS=3\nCOORDCLEAN_DATA_DIR=/srv/gaz\nCOORDCLEAN_DUPLICATE_RADIUS=250\n",
		".env.local": "COORDCLEAN_WORKERS=5\n",
	})
	unset(t, "COORDCLEAN_WORKERS", "COORDCLEAN_DATA_DIR", "COORDCLEAN_DUPLICATE_RADIUS")

	loaded, err := LoadEnv()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{".env", ".env.local"}; !reflect.DeepEqual(loaded, want) {
		t.Fatalf("loaded %v, want %v", loaded, want)
	}
	s := Load()
	if s.Workers != 5 {
		t.Fatalf("expected .env.local to override workers, got %d", s.Workers)
	}
	if s.DataDir != "/srv/gaz" {
		t.Fatalf("expected data dir from .env, got %s", s.DataDir)
	}
	if s.DuplicateRadius != 250 {
		t.Fatalf("expected duplicate radius from .env, got %v", s.DuplicateRadius)
	}
}

func TestLoadEnvProcessWins(t *testing.T) {
	chdir(t, map[string]string{".env": "COORDCLEAN_CACHE_DIR=/from/file\n"})
	t.Setenv("COORDCLEAN_CACHE_DIR", "/from/process")

	if _, err := LoadEnv(); err != nil {
		t.Fatal(err)
	}
	if got := Load().CacheDir; got != "/from/process" {
		t.Fatalf("expected process value, got %s", got)
	}
}

func TestLoadEnvNoFiles(t *testing.T) {
	chdir(t, nil)
	loaded, err := LoadEnv()
	if err != nil || len(loaded) != 0 {
		t.Fatalf("expected nothing loaded, got %v, %v", loaded, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COORDCLEAN_CACHE_DIR", "")
	t.Setenv("COORDCLEAN_DERIVE_CENTROIDS", "")
	t.Setenv("COORDCLEAN_DUPLICATE_RADIUS", "")
	s := Load()
	if s.CacheDir != "./gazetteer-cache" {
		t.Fatalf("unexpected cache dir %s", s.CacheDir)
	}
	if !s.DeriveCentroids {
		t.Fatalf("expected derived centroids by default")
	}
	if s.DuplicateRadius != 0 {
		t.Fatalf("expected exact duplicates by default, got %v", s.DuplicateRadius)
	}
}
