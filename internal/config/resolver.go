// Package config implements the layered configuration lookup shared by
// every component of the ingestion pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Resolver performs the seven-tier fallback lookup:
//
//  1. process environment / system-property overrides (flat namespace)
//  2. test.<project>.<connector>.<key>   (local mode only)
//  3. test.common.<connector>.<key>      (local mode only)
//  4. <project>.<connector>.<key>
//  5. common.<connector>.<key>
//  6. <project>.<key>
//  7. common.<key>
//
// Keys are looked up with '.' separators; when read from the environment
// the key is uppercased and its dots are replaced with '_' (so
// "buffer_byte_size_limit" is read as "BUFFER_BYTE_SIZE_LIMIT", and
// "myproj.kinesis.stream" as "MYPROJ_KINESIS_STREAM").
type Resolver struct {
	project   string
	localMode bool

	// overrides is consulted first, flat namespace, untouched keys.
	// In production this is backed by os.Getenv; tests inject a map.
	overrides map[string]string
	useEnv    bool

	// layered holds the dotted-key tiers (2..7 above), populated from a
	// config source such as a fetched S3 properties blob.
	layered map[string]string
}

// New builds a Resolver for the given project name. When useEnv is true,
// the flat-namespace override tier reads from the process environment;
// otherwise overrides must be pre-seeded with Set (used by tests).
func New(project string, localMode bool, useEnv bool) *Resolver {
	return &Resolver{
		project:   project,
		localMode: localMode,
		overrides: make(map[string]string),
		useEnv:    useEnv,
		layered:   make(map[string]string),
	}
}

// Clear resets all layered and override values. Test-only reset hook per
// spec.md §9 — config is otherwise immutable after construction.
func (r *Resolver) Clear() {
	r.overrides = make(map[string]string)
	r.layered = make(map[string]string)
}

// SetLayered seeds a dotted-key config entry (tiers 2..7). Intended for
// bulk-loading a fetched properties file at startup.
func (r *Resolver) SetLayered(key, value string) {
	r.layered[key] = value
}

// SetOverride seeds the flat-namespace override tier directly, bypassing
// the environment. Used by tests; production code should rely on useEnv.
func (r *Resolver) SetOverride(key, value string) {
	r.overrides[key] = value
}

func envKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (r *Resolver) override(key string) (string, bool) {
	if v, ok := r.overrides[key]; ok {
		return v, true
	}
	if r.useEnv {
		if v, ok := os.LookupEnv(envKey(key)); ok {
			return v, true
		}
	}
	return "", false
}

// resolve walks the seven tiers for a <connector>.<key> pair and returns
// the first hit. connector may be empty for bare <key> lookups (tiers
// 6/7 only apply then).
func (r *Resolver) resolve(connector, key string) (string, bool) {
	flat := key
	if connector != "" {
		flat = connector + "." + key
	}
	if v, ok := r.override(flat); ok {
		return v, true
	}
	if v, ok := r.override(key); ok {
		return v, true
	}

	tiers := make([]string, 0, 6)
	if connector != "" {
		if r.localMode {
			tiers = append(tiers,
				fmt.Sprintf("test.%s.%s.%s", r.project, connector, key),
				fmt.Sprintf("test.common.%s.%s", connector, key),
			)
		}
		tiers = append(tiers,
			fmt.Sprintf("%s.%s.%s", r.project, connector, key),
			fmt.Sprintf("common.%s.%s", connector, key),
		)
	}
	tiers = append(tiers,
		fmt.Sprintf("%s.%s", r.project, key),
		fmt.Sprintf("common.%s", key),
	)

	for _, tierKey := range tiers {
		if v, ok := r.layered[tierKey]; ok {
			return v, true
		}
	}
	return "", false
}

// String resolves a <connector>.<key> pair, or returns ok=false if unset
// anywhere in the chain.
func (r *Resolver) String(connector, key string) (string, bool) {
	return r.resolve(connector, key)
}

// StringDefault returns the resolved string or def if the key is absent.
func (r *Resolver) StringDefault(connector, key, def string) string {
	if v, ok := r.resolve(connector, key); ok {
		return v
	}
	return def
}

// RequireString resolves a key and returns a ConfigError if it is absent.
func (r *Resolver) RequireString(connector, key string) (string, error) {
	v, ok := r.resolve(connector, key)
	if !ok {
		return "", &ConfigError{Connector: connector, Key: key, Reason: "missing required key"}
	}
	return v, nil
}

// Int resolves an int value. A present-but-unparsable value is always an
// error, even when a default was supplied (per spec.md §4.9: defaulting
// accessors only cover absence, not parse failure).
func (r *Resolver) Int(connector, key string, def int, hasDefault bool) (int, error) {
	v, ok := r.resolve(connector, key)
	if !ok {
		if hasDefault {
			return def, nil
		}
		return 0, &ConfigError{Connector: connector, Key: key, Reason: "missing required key"}
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, &ConfigError{Connector: connector, Key: key, Reason: fmt.Sprintf("invalid int %q: %v", v, err)}
	}
	return n, nil
}

// Long resolves an int64 value, same failure semantics as Int.
func (r *Resolver) Long(connector, key string, def int64, hasDefault bool) (int64, error) {
	v, ok := r.resolve(connector, key)
	if !ok {
		if hasDefault {
			return def, nil
		}
		return 0, &ConfigError{Connector: connector, Key: key, Reason: "missing required key"}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, &ConfigError{Connector: connector, Key: key, Reason: fmt.Sprintf("invalid long %q: %v", v, err)}
	}
	return n, nil
}

// Float resolves a float32 value, same failure semantics as Int.
func (r *Resolver) Float(connector, key string, def float32, hasDefault bool) (float32, error) {
	v, ok := r.resolve(connector, key)
	if !ok {
		if hasDefault {
			return def, nil
		}
		return 0, &ConfigError{Connector: connector, Key: key, Reason: "missing required key"}
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
	if err != nil {
		return 0, &ConfigError{Connector: connector, Key: key, Reason: fmt.Sprintf("invalid float %q: %v", v, err)}
	}
	return float32(n), nil
}

// Double resolves a float64 value, same failure semantics as Int.
func (r *Resolver) Double(connector, key string, def float64, hasDefault bool) (float64, error) {
	v, ok := r.resolve(connector, key)
	if !ok {
		if hasDefault {
			return def, nil
		}
		return 0, &ConfigError{Connector: connector, Key: key, Reason: "missing required key"}
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, &ConfigError{Connector: connector, Key: key, Reason: fmt.Sprintf("invalid double %q: %v", v, err)}
	}
	return n, nil
}

// Bool resolves a bool value, same failure semantics as Int.
func (r *Resolver) Bool(connector, key string, def bool, hasDefault bool) (bool, error) {
	v, ok := r.resolve(connector, key)
	if !ok {
		if hasDefault {
			return def, nil
		}
		return false, &ConfigError{Connector: connector, Key: key, Reason: "missing required key"}
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, &ConfigError{Connector: connector, Key: key, Reason: fmt.Sprintf("invalid bool %q: %v", v, err)}
	}
	return b, nil
}

// List resolves a comma-separated value into a trimmed slice. An absent
// key with a default returns the default slice; an absent key without
// one is a ConfigError. There is no parse-failure case for lists.
func (r *Resolver) List(connector, key string, def []string, hasDefault bool) ([]string, error) {
	v, ok := r.resolve(connector, key)
	if !ok {
		if hasDefault {
			return def, nil
		}
		return nil, &ConfigError{Connector: connector, Key: key, Reason: "missing required key"}
	}
	if strings.TrimSpace(v) == "" {
		return []string{}, nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out, nil
}

// ConfigError reports a failed typed-accessor lookup (missing required
// key, or a value present but unparsable for the requested type).
type ConfigError struct {
	Connector string
	Key       string
	Reason    string
}

func (e *ConfigError) Error() string {
	if e.Connector != "" {
		return fmt.Sprintf("config: %s.%s: %s", e.Connector, e.Key, e.Reason)
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}
