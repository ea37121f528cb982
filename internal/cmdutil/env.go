// Package cmdutil holds small helpers shared by the command line tools.
package cmdutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func lookup(key string) (string, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	return raw, raw != ""
}

func parseEnv[T any](key string, fallback T, parse func(string) (T, error)) (T, error) {
	raw, ok := lookup(key)
	if !ok {
		return fallback, nil
	}
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// EnvString returns the trimmed env value if present; otherwise it returns fallback.
func EnvString(key string, fallback string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return fallback
}

// EnvBool parses a boolean env value; when unset or blank, it returns fallback.
func EnvBool(key string, fallback bool) (bool, error) {
	return parseEnv(key, fallback, strconv.ParseBool)
}

// EnvInt parses an integer env value; when unset or blank, it returns fallback.
func EnvInt(key string, fallback int) (int, error) {
	return parseEnv(key, fallback, strconv.Atoi)
}

// EnvInt64 parses a 64-bit integer env value; when unset or blank, it returns fallback.
func EnvInt64(key string, fallback int64) (int64, error) {
	return parseEnv(key, fallback, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
}

// EnvDuration parses a time.Duration env value; when unset or blank, it returns fallback.
func EnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	return parseEnv(key, fallback, time.ParseDuration)
}
