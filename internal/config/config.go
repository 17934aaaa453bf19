// Package config loads the YAML configuration of an expandable deployment:
// logging, the row store driver, the optional row cache, snapshot export,
// and the per host type encoding, schema and rule settings.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"expandable/internal/blob"
	"expandable/internal/observability"
	"expandable/internal/validation"
	"expandable/pkg/domain"
)

// StorageDriver identifies a concrete row store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

const (
	defaultCacheTTL          = 5 * time.Minute
	defaultCachePrefix       = "expandable:"
	defaultExportConcurrency = 4
	tableSuffix              = "_attributes"
)

var (
	tableName   = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
	tableUnsafe = regexp.MustCompile(`[^a-z0-9_]+`)
)

// Config is the root configuration document.
type Config struct {
	Logging   observability.LogConfig   `yaml:"logging"`
	Storage   StorageConfig             `yaml:"storage"`
	Cache     CacheConfig               `yaml:"cache"`
	Export    ExportConfig              `yaml:"export"`
	HostTypes map[string]HostTypeConfig `yaml:"hostTypes"`
}

// StorageConfig selects the row store.
type StorageConfig struct {
	Driver        StorageDriver `yaml:"driver"`
	SQLitePath    string        `yaml:"sqlitePath"`
	PostgresDSN   string        `yaml:"postgresDSN"`
	AtomicBatches bool          `yaml:"atomicBatches"`
}

// CacheConfig configures the redis read-through cache of stored rows.
type CacheConfig struct {
	Enabled   bool     `yaml:"enabled"`
	RedisURL  string   `yaml:"redisURL"`
	KeyPrefix string   `yaml:"keyPrefix"`
	TTL       Duration `yaml:"ttl"`
	HashKeys  bool     `yaml:"hashKeys"`
}

// ExportConfig configures where attribute snapshots are written.
type ExportConfig struct {
	Driver      string `yaml:"driver"`
	FSRoot      string `yaml:"fsRoot"`
	Prefix      string `yaml:"prefix"`
	S3Bucket    string `yaml:"s3Bucket"`
	S3Region    string `yaml:"s3Region"`
	S3Endpoint  string `yaml:"s3Endpoint"`
	PathStyle   bool   `yaml:"pathStyle"`
	Concurrency int    `yaml:"concurrency"`
}

// HostTypeConfig holds one host type's side table, encoding settings,
// declared schema and extra validation rules.
type HostTypeConfig struct {
	Table           string            `yaml:"table"`
	JSONEncoding    *bool             `yaml:"jsonEncoding"`
	RestrictedKeys  []string          `yaml:"restrictedKeys"`
	CSVKeys         []string          `yaml:"csvKeys"`
	DateKeys        map[string]string `yaml:"dateKeys"`
	SchemaKeys      []string          `yaml:"schemaKeys"`
	AssociationKeys []string          `yaml:"associationKeys"`
	Rules           []RuleConfig      `yaml:"rules"`
}

// RuleConfig declares an expression rule over candidate rows.
type RuleConfig struct {
	Name       string   `yaml:"name"`
	Keys       []string `yaml:"keys"`
	Expression string   `yaml:"expression"`
	Message    string   `yaml:"message"`
	Severity   string   `yaml:"severity"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Logging: observability.DefaultLogConfig(),
		Storage: StorageConfig{Driver: StorageSQLite},
		Cache: CacheConfig{
			KeyPrefix: defaultCachePrefix,
			TTL:       Duration(defaultCacheTTL),
		},
		Export:    ExportConfig{Driver: string(blob.DriverMemory), Concurrency: defaultExportConcurrency},
		HostTypes: map[string]HostTypeConfig{},
	}
}

// applyDefaults fills zero values left by a partial document.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = def.Logging.Output
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = def.Storage.Driver
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = def.Cache.KeyPrefix
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = def.Cache.TTL
	}
	if c.Export.Driver == "" {
		c.Export.Driver = def.Export.Driver
	}
	if c.Export.Concurrency == 0 {
		c.Export.Concurrency = def.Export.Concurrency
	}
	if c.HostTypes == nil {
		c.HostTypes = map[string]HostTypeConfig{}
	}
}

// Validate reports every configuration problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage: postgresDSN is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}
	if c.Cache.Enabled && c.Cache.RedisURL == "" {
		errs = append(errs, errors.New("cache: redisURL is required when the cache is enabled"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache: ttl must not be negative"))
	}
	switch blob.Driver(c.Export.Driver) {
	case blob.DriverMemory, blob.DriverFilesystem:
	case blob.DriverS3:
		if c.Export.S3Bucket == "" {
			errs = append(errs, errors.New("export: s3Bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("export: unknown driver %q", c.Export.Driver))
	}
	if c.Export.Concurrency < 0 {
		errs = append(errs, errors.New("export: concurrency must not be negative"))
	}
	owners := map[string]string{}
	for _, name := range c.HostTypeNames() {
		if err := c.HostTypes[name].validate(); err != nil {
			errs = append(errs, fmt.Errorf("hostTypes.%s: %w", name, err))
		}
		table := c.HostTypes[name].TableName(name)
		switch {
		case !tableName.MatchString(table):
			errs = append(errs, fmt.Errorf("hostTypes.%s: invalid table name %q", name, table))
		case owners[table] != "":
			errs = append(errs, fmt.Errorf("hostTypes.%s: table %q is already used by %s", name, table, owners[table]))
		default:
			owners[table] = name
		}
	}
	return errors.Join(errs...)
}

func (h HostTypeConfig) validate() error {
	var errs []error
	csv := domain.NewKeySet(h.CSVKeys...)
	var overlap []string
	for key := range h.DateKeys {
		if csv.Has(key) {
			overlap = append(overlap, key)
		}
	}
	if len(overlap) > 0 {
		slices.Sort(overlap)
		errs = append(errs, fmt.Errorf("keys configured as both date and csv keys: %s", strings.Join(overlap, ", ")))
	}
	seen := map[string]bool{}
	for i, r := range h.Rules {
		switch {
		case r.Name == "":
			errs = append(errs, fmt.Errorf("rules[%d]: name is required", i))
		case seen[r.Name]:
			errs = append(errs, fmt.Errorf("rules[%d]: duplicate rule name %q", i, r.Name))
		}
		seen[r.Name] = true
		if r.Expression == "" {
			errs = append(errs, fmt.Errorf("rules[%d]: expression is required", i))
		}
	}
	return errors.Join(errs...)
}

// HostTypeNames returns the configured host types in sorted order.
func (c *Config) HostTypeNames() []string {
	names := make([]string, 0, len(c.HostTypes))
	for name := range c.HostTypes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Tables maps every host type to its side table.
func (c *Config) Tables() map[string]string {
	tables := make(map[string]string, len(c.HostTypes))
	for name, h := range c.HostTypes {
		tables[name] = h.TableName(name)
	}
	return tables
}

// TableName returns the configured side table, or one derived from hostType
// ("Users" stores its rows in "users_attributes").
func (h HostTypeConfig) TableName(hostType string) string {
	if h.Table != "" {
		return h.Table
	}
	return tableUnsafe.ReplaceAllString(strings.ToLower(hostType), "_") + tableSuffix
}

// Schema returns the declared schema of every host type. Host types without
// schema keys are still known, with an empty core attribute set.
func (c *Config) Schema() domain.StaticSchema {
	schema := domain.StaticSchema{
		Schemas:      make(map[string]domain.KeySet, len(c.HostTypes)),
		Associations: make(map[string]domain.KeySet, len(c.HostTypes)),
	}
	for name, h := range c.HostTypes {
		schema.Schemas[name] = domain.NewKeySet(h.SchemaKeys...)
		schema.Associations[name] = domain.NewKeySet(h.AssociationKeys...)
	}
	return schema
}

// EncodingConfig converts the host type's settings into an immutable
// encoding configuration.
func (h HostTypeConfig) EncodingConfig() domain.EncodingConfig {
	return domain.NewEncodingConfig(domain.EncodingOptions{
		JSONEncoding:   h.JSONEncoding,
		RestrictedKeys: h.RestrictedKeys,
		CSVKeys:        h.CSVKeys,
		DateKeys:       h.DateKeys,
	})
}

// RuleSpecs converts the declared rules into expression rule specs.
func (h HostTypeConfig) RuleSpecs() []validation.ExpressionRuleSpec {
	specs := make([]validation.ExpressionRuleSpec, 0, len(h.Rules))
	for _, r := range h.Rules {
		specs = append(specs, validation.ExpressionRuleSpec{
			Name:       r.Name,
			Keys:       slices.Clone(r.Keys),
			Expression: r.Expression,
			Message:    r.Message,
			Severity:   domain.Severity(r.Severity),
		})
	}
	return specs
}

// Blob converts the export settings into a blob store configuration.
func (e ExportConfig) Blob() blob.Config {
	return blob.Config{
		Driver: blob.Driver(e.Driver),
		FSRoot: e.FSRoot,
		S3: blob.S3Config{
			Bucket:    e.S3Bucket,
			Region:    e.S3Region,
			Endpoint:  e.S3Endpoint,
			PathStyle: e.PathStyle,
		},
	}
}
