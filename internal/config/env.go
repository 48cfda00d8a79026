package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// EnvFiles are read by LoadEnv in order; a later file overrides an earlier
// one.
var EnvFiles = []string{".env", ".env.local"}

// LoadEnv sets variables from the EnvFiles present in the working
// directory and returns the files it read. Variables already set in the
// process environment win over every file.
//
// It logs nothing: the logger is configured from LOG_FORMAT and LOG_LEVEL,
// which may come from these files, so call LoadEnv before building it.
func LoadEnv() ([]string, error) {
	merged := make(map[string]string)
	var (
		loaded []string
		errs   []error
	)
	for _, file := range EnvFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		vars, err := godotenv.Read(file)
		if err != nil {
			errs = append(errs, fmt.Errorf("reading %s: %w", file, err))
			continue
		}
		for k, v := range vars {
			merged[k] = v
		}
		loaded = append(loaded, file)
	}
	for k, v := range merged {
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			errs = append(errs, fmt.Errorf("setting %s: %w", k, err))
		}
	}
	return loaded, errors.Join(errs...)
}

// String returns the variable key, or def when it is unset or empty.
func String(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Int returns the variable key parsed as an int. Unparsable values fall
// back to def.
func Int(key string, def int) int {
	if n, err := strconv.Atoi(String(key, "")); err == nil {
		return n
	}
	return def
}

// Float returns the variable key parsed as a float64. Unparsable and
// non-finite values fall back to def.
func Float(key string, def float64) float64 {
	f, err := strconv.ParseFloat(String(key, ""), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

// Bool returns the variable key parsed with strconv.ParseBool.
func Bool(key string, def bool) bool {
	if b, err := strconv.ParseBool(String(key, "")); err == nil {
		return b
	}
	return def
}

// LogLevel returns the level named by LOG_LEVEL, defaulting to info.
func LogLevel() logrus.Level {
	if l, err := logrus.ParseLevel(String("LOG_LEVEL", "")); err == nil {
		return l
	}
	return logrus.InfoLevel
}
