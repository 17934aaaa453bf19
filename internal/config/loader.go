package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// Load reads, expands and validates the configuration file at path.
// Environment overrides are applied after parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return Parse(data)
}

// LoadFromReader is Load for an already opened document.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	content := substituteEnvVars(string(data))
	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	cfg.applyDefaults()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Marshal renders cfg back to YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// ApplyEnv overlays environment variables onto cfg:
//
//	EXPANDABLE_LOG_LEVEL: debug|info|warn|error
//	EXPANDABLE_STORAGE_DRIVER: memory|sqlite|postgres
//	EXPANDABLE_SQLITE_PATH: path to sqlite file
//	EXPANDABLE_POSTGRES_DSN: postgres DSN when driver=postgres
//	EXPANDABLE_REDIS_URL: enables the row cache against this server
//	EXPANDABLE_CACHE_TTL: cache entry lifetime, e.g. 30s
//	EXPANDABLE_EXPORT_CONCURRENCY: owners exported at once
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("EXPANDABLE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EXPANDABLE_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = StorageDriver(v)
	}
	if v := os.Getenv("EXPANDABLE_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("EXPANDABLE_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("EXPANDABLE_REDIS_URL"); v != "" {
		cfg.Cache.Enabled = true
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("EXPANDABLE_CACHE_TTL"); v != "" {
		var d Duration
		if err := yaml.Unmarshal([]byte(strconv.Quote(v)), &d); err != nil {
			return fmt.Errorf("EXPANDABLE_CACHE_TTL: %w", err)
		}
		cfg.Cache.TTL = d
	}
	if v := os.Getenv("EXPANDABLE_EXPORT_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EXPANDABLE_EXPORT_CONCURRENCY: %w", err)
		}
		cfg.Export.Concurrency = n
	}
	return nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} with environment
// values. "$$" escapes a literal dollar sign.
func substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")
	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(sub[1]); ok {
			return value
		}
		return sub[2]
	})
	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}
