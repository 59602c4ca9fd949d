package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "BOARDSCRAPER_"

// Page failure policies
const (
	PolicyAbort = "abort"
	PolicySkip  = "skip"
)

// Schema presets
const (
	PresetKeywordSearch = "keyword-search"
	PresetGroupThreads  = "group-threads"
)

// Config holds all configuration options for a crawl job
type Config struct {
	API        APIConfig        `yaml:"api" json:"api"`
	Job        JobConfig        `yaml:"job" json:"job"`
	Schema     SchemaConfig     `yaml:"schema" json:"schema"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Transport  TransportConfig  `yaml:"transport" json:"transport"`
	Politeness PolitenessConfig `yaml:"politeness" json:"politeness"`
	Sink       SinkConfig       `yaml:"sink" json:"sink"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
	Export     ExportConfig     `yaml:"export" json:"export"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// APIConfig describes the paginated endpoint
type APIConfig struct {
	Endpoint           string            `yaml:"endpoint" json:"endpoint"`
	Params             map[string]string `yaml:"params" json:"params"`
	PageParam          string            `yaml:"page_param" json:"page_param"`
	SizeParam          string            `yaml:"size_param" json:"size_param"`
	Headers            map[string]string `yaml:"headers" json:"headers"`
	UserAgent          string            `yaml:"user_agent" json:"user_agent"`
	Cookie             string            `yaml:"cookie" json:"-"`
	Timeout            time.Duration     `yaml:"timeout" json:"timeout"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	// Envelope is "" (auto), "data" or "none"
	Envelope string `yaml:"envelope" json:"envelope"`
}

// JobConfig holds job identity and loop policy
type JobConfig struct {
	Name          string `yaml:"name" json:"name"`
	PageSize      int    `yaml:"page_size" json:"page_size"`
	OnPageFailure string `yaml:"on_page_failure" json:"on_page_failure"`
}

// ColumnConfig maps one output column to a dotted path in the raw row
type ColumnConfig struct {
	Name     string `yaml:"name" json:"name"`
	Path     string `yaml:"path" json:"path"`
	Kind     string `yaml:"kind" json:"kind"`
	Required bool   `yaml:"required" json:"required"`
}

// SchemaConfig selects how rows become output records
type SchemaConfig struct {
	Preset          string         `yaml:"preset" json:"preset"`
	Columns         []ColumnConfig `yaml:"columns" json:"columns"`
	TimestampFields []string       `yaml:"timestamp_fields" json:"timestamp_fields"`
	RequiredFields  []string       `yaml:"required_fields" json:"required_fields"`
	MetadataPath    string         `yaml:"metadata_path" json:"metadata_path"`
	MetadataPrefix  string         `yaml:"metadata_prefix" json:"metadata_prefix"`
	Timezone        string         `yaml:"timezone" json:"timezone"`
}

// RetryConfig is the page-level retry budget
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	Strategy    string        `yaml:"strategy" json:"strategy"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// TransportConfig is the per-request retry applied under every page attempt
type TransportConfig struct {
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	BackoffFactor time.Duration `yaml:"backoff_factor" json:"backoff_factor"`
	StatusCodes   []int         `yaml:"status_codes" json:"status_codes"`
}

// PolitenessConfig spaces out page requests
type PolitenessConfig struct {
	MinDelay          time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay          time.Duration `yaml:"max_delay" json:"max_delay"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// PostgresConfig is the optional database mirror of the CSV sink
type PostgresConfig struct {
	DSN   string `yaml:"dsn" json:"-"`
	Table string `yaml:"table" json:"table"`
}

// SinkConfig controls the CSV output
type SinkConfig struct {
	Output    string         `yaml:"output" json:"output"`
	BatchSize int            `yaml:"batch_size" json:"batch_size"`
	BOM       bool           `yaml:"bom" json:"bom"`
	Postgres  PostgresConfig `yaml:"postgres" json:"postgres"`
}

// CheckpointConfig controls where checkpoints live
type CheckpointConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// ExportConfig uploads the finished CSV to S3-compatible storage
type ExportConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
	Region    string `yaml:"region" json:"region"`
}

// MetricsConfig exposes Prometheus metrics
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
	JSON       bool   `yaml:"json" json:"json"`
	NoColor    bool   `yaml:"no_color" json:"no_color"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Params:    map[string]string{},
			PageParam: "pageNum",
			SizeParam: "pageSize",
			Headers:   map[string]string{},
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			Timeout:   30 * time.Second,
		},
		Job: JobConfig{
			Name:          "crawl",
			PageSize:      100,
			OnPageFailure: PolicyAbort,
		},
		Schema: SchemaConfig{
			Preset: PresetKeywordSearch,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Strategy:    "linear",
			BaseDelay:   15 * time.Second,
			MaxDelay:    5 * time.Minute,
		},
		Transport: TransportConfig{
			MaxRetries:    5,
			BackoffFactor: 2 * time.Second,
			StatusCodes:   []int{500, 502, 503, 504, 429},
		},
		Politeness: PolitenessConfig{
			MinDelay: 7 * time.Second,
			MaxDelay: 10 * time.Second,
		},
		Sink: SinkConfig{
			Output:    "output.csv",
			BatchSize: 100,
			BOM:       true,
			Postgres: PostgresConfig{
				Table: "crawl_records",
			},
		},
		Export: ExportConfig{
			UseSSL: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// ApplyPreset overlays the defaults of a named schema preset. Fields the
// preset sets are only written when still empty.
func (c *Config) ApplyPreset() error {
	switch c.Schema.Preset {
	case "", "custom":
		return nil
	case PresetKeywordSearch:
		if len(c.Schema.Columns) == 0 {
			c.Schema.Columns = []ColumnConfig{
				{Name: "fid", Path: "source.fid", Kind: "string", Required: true},
				{Name: "dateline", Path: "source.dateline", Kind: "timestamp", Required: true},
				{Name: "subject", Path: "source.subject", Kind: "string", Required: true},
				{Name: "typeId", Path: "source.typeId", Kind: "string", Required: true},
				{Name: "userId", Path: "source.userId", Kind: "string", Required: true},
				{Name: "content", Path: "source.content", Kind: "string", Required: true},
			}
		}
		if c.API.Envelope == "" {
			c.API.Envelope = "data"
		}
	case PresetGroupThreads:
		if len(c.Schema.TimestampFields) == 0 {
			c.Schema.TimestampFields = []string{"dateline"}
		}
		if c.Schema.MetadataPath == "" {
			c.Schema.MetadataPath = "other.forum"
		}
		if c.Schema.MetadataPrefix == "" {
			c.Schema.MetadataPrefix = "forum_"
		}
		if c.API.Envelope == "" {
			c.API.Envelope = "none"
		}
	default:
		return fmt.Errorf("unknown schema preset %q", c.Schema.Preset)
	}
	return nil
}

// LoadFromEnv loads configuration from BOARDSCRAPER_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setStr := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setDur := func(key string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}

	setStr("ENDPOINT", &c.API.Endpoint)
	setStr("USER_AGENT", &c.API.UserAgent)
	setStr("COOKIE", &c.API.Cookie)
	setDur("TIMEOUT", &c.API.Timeout)

	setStr("JOB_NAME", &c.Job.Name)
	setInt("PAGE_SIZE", &c.Job.PageSize)
	setStr("ON_PAGE_FAILURE", &c.Job.OnPageFailure)

	setStr("PRESET", &c.Schema.Preset)
	setStr("TIMEZONE", &c.Schema.Timezone)

	setInt("MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	setStr("BACKOFF", &c.Retry.Strategy)
	setDur("BASE_DELAY", &c.Retry.BaseDelay)

	setInt("TRANSPORT_MAX_RETRIES", &c.Transport.MaxRetries)

	setDur("MIN_DELAY", &c.Politeness.MinDelay)
	setDur("MAX_DELAY", &c.Politeness.MaxDelay)
	setInt("REQUESTS_PER_MINUTE", &c.Politeness.RequestsPerMinute)

	setStr("OUTPUT", &c.Sink.Output)
	setInt("BATCH_SIZE", &c.Sink.BatchSize)
	setStr("POSTGRES_DSN", &c.Sink.Postgres.DSN)

	setStr("CHECKPOINT_DIR", &c.Checkpoint.Dir)

	setBool("EXPORT_ENABLED", &c.Export.Enabled)
	setStr("EXPORT_ENDPOINT", &c.Export.Endpoint)
	setStr("EXPORT_BUCKET", &c.Export.Bucket)
	setStr("EXPORT_ACCESS_KEY", &c.Export.AccessKey)
	setStr("EXPORT_SECRET_KEY", &c.Export.SecretKey)

	setStr("METRICS_ADDR", &c.Metrics.Addr)

	setStr("LOG_LEVEL", &c.Logging.Level)
	setStr("LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"boardscraper.yaml",
		".boardscraper.yaml",
		".boardscraper.yml",
		filepath.Join(home, ".config", "boardscraper", "config.yaml"),
		filepath.Join(home, ".config", "boardscraper", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.API.Endpoint == "" {
		errs = append(errs, errors.New("api endpoint is required"))
	} else if u, err := url.Parse(c.API.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api endpoint %q is not an absolute URL", c.API.Endpoint))
	}
	if c.API.PageParam == "" || c.API.SizeParam == "" {
		errs = append(errs, errors.New("api page_param and size_param are required"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api timeout must be positive"))
	}
	switch c.API.Envelope {
	case "", "data", "none":
	default:
		errs = append(errs, fmt.Errorf("api envelope must be data or none, got %q", c.API.Envelope))
	}

	if strings.TrimSpace(c.Job.Name) == "" {
		errs = append(errs, errors.New("job name is required"))
	}
	if c.Job.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	switch c.Job.OnPageFailure {
	case PolicyAbort, PolicySkip:
	default:
		errs = append(errs, fmt.Errorf("on_page_failure must be abort or skip, got %q", c.Job.OnPageFailure))
	}

	for i, col := range c.Schema.Columns {
		if col.Name == "" {
			errs = append(errs, fmt.Errorf("schema column %d has no name", i))
		}
		switch col.Kind {
		case "", "string", "int", "timestamp", "json":
		default:
			errs = append(errs, fmt.Errorf("schema column %q has unknown kind %q", col.Name, col.Kind))
		}
	}
	if c.Schema.Timezone != "" {
		if _, err := time.LoadLocation(c.Schema.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("invalid timezone: %w", err))
		}
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max_attempts must be positive"))
	}
	switch strings.ToLower(c.Retry.Strategy) {
	case "linear", "exponential", "constant":
	default:
		errs = append(errs, fmt.Errorf("retry strategy must be linear or exponential, got %q", c.Retry.Strategy))
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, errors.New("retry base_delay cannot be negative"))
	}

	if c.Transport.MaxRetries < 0 {
		errs = append(errs, errors.New("transport max_retries cannot be negative"))
	}

	if c.Politeness.MinDelay < 0 || c.Politeness.MaxDelay < c.Politeness.MinDelay {
		errs = append(errs, errors.New("politeness delays must satisfy 0 <= min_delay <= max_delay"))
	}
	if c.Politeness.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}

	if c.Sink.Output == "" {
		errs = append(errs, errors.New("sink output path is required"))
	}
	if c.Sink.BatchSize <= 0 {
		errs = append(errs, errors.New("sink batch_size must be positive"))
	}
	if c.Sink.Postgres.DSN != "" && c.Sink.Postgres.Table == "" {
		errs = append(errs, errors.New("sink postgres table is required when dsn is set"))
	}

	if c.Export.Enabled && (c.Export.Endpoint == "" || c.Export.Bucket == "") {
		errs = append(errs, errors.New("export endpoint and bucket are required when export is enabled"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges changed command line flags into the configuration.
// Keys are flag names; absent keys leave the loaded value untouched.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["name"].(string); ok && v != "" {
		c.Job.Name = v
	}
	if v, ok := flags["endpoint"].(string); ok && v != "" {
		c.API.Endpoint = v
	}
	if v, ok := flags["param"].(map[string]string); ok {
		if c.API.Params == nil {
			c.API.Params = map[string]string{}
		}
		for k, val := range v {
			c.API.Params[k] = val
		}
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Sink.Output = v
	}
	if v, ok := flags["page-size"].(int); ok && v > 0 {
		c.Job.PageSize = v
	}
	if v, ok := flags["batch-size"].(int); ok && v > 0 {
		c.Sink.BatchSize = v
	}
	if v, ok := flags["max-attempts"].(int); ok && v > 0 {
		c.Retry.MaxAttempts = v
	}
	if v, ok := flags["backoff"].(string); ok && v != "" {
		c.Retry.Strategy = v
	}
	if v, ok := flags["on-page-failure"].(string); ok && v != "" {
		c.Job.OnPageFailure = v
	}
	if v, ok := flags["preset"].(string); ok && v != "" {
		c.Schema.Preset = v
	}
	if v, ok := flags["checkpoint-dir"].(string); ok && v != "" {
		c.Checkpoint.Dir = v
	}
	if v, ok := flags["metrics-addr"].(string); ok && v != "" {
		c.Metrics.Addr = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-file"].(string); ok && v != "" {
		c.Logging.File = v
	}
	if v, ok := flags["no-color"].(bool); ok && v {
		c.Logging.NoColor = true
	}
}

// SortedParams returns the form params in a stable order
func (a APIConfig) SortedParams() []string {
	keys := make([]string, 0, len(a.Params))
	for k := range a.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".boardscraper.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.MergeCommandLineFlags(flags)

	if err := cfg.ApplyPreset(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadLenient loads every source like Load but skips validation. Commands
// that only inspect a job's files use it so a missing endpoint is not fatal.
func LoadLenient(configPath string, flags map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg.MergeCommandLineFlags(flags)
	return cfg, nil
}
