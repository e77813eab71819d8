// Package config resolves tablegen settings: environment flags, the viper
// config file, ~/.tablegen/models.json and YAML job files.
package config

import (
	"os"
	"strconv"
	"strings"

	"tablegen/internal/column"
)

// lookupBool interprets 1/true/yes/on and 0/false/no/off. known is false for
// anything else.
func lookupBool(raw string) (value, known bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// ParseBoolFlag returns defaultValue when val is not a recognised boolean.
func ParseBoolFlag(val string, defaultValue bool) bool {
	if v, ok := lookupBool(val); ok {
		return v
	}
	return defaultValue
}

// EnvFlagEnabled is true when key is set to anything but an empty or falsey
// value.
func EnvFlagEnabled(key string) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return false
	}
	return ParseBoolFlag(raw, true)
}

// EnvFlagDefaultTrue is true unless key is explicitly falsey.
func EnvFlagDefaultTrue(key string) bool {
	return ParseBoolFlag(os.Getenv(key), true)
}

// ResolveMaxWorkers reads TABLEGEN_MAX_WORKERS, a ceiling applied on top of
// every column's own max_workers. It returns 0 for "no ceiling".
func ResolveMaxWorkers() int {
	raw := strings.TrimSpace(os.Getenv("TABLEGEN_MAX_WORKERS"))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	return min(value, column.MaxWorkers)
}

// CapWorkers applies the TABLEGEN_MAX_WORKERS ceiling to a requested count.
func CapWorkers(requested int) int {
	if limit := ResolveMaxWorkers(); limit > 0 && requested > limit {
		return limit
	}
	return requested
}
