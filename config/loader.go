package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete process configuration.
type Config struct {
	// Server configures the HTTP surface (health, metrics).
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Memory configures the tiered engine.
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Semantic configures the RAG tier and its embedding provider.
	Semantic SemanticConfig `yaml:"semantic" env:"SEMANTIC"`

	// Database configures the durable store backend.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis configures the optional embedding vector cache.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures the optional OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// HTTP port for health endpoints
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Prometheus scrape port
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// Read timeout
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// Write timeout
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// MemoryConfig configures the tiered engine.
type MemoryConfig struct {
	// Short-tier capacity per user
	ShortTermMaxItems int `yaml:"short_term_max_items" env:"SHORT_TERM_MAX_ITEMS"`
	// Recent-buffer slice of a context bundle
	ShortTermWindow int `yaml:"short_term_window" env:"SHORT_TERM_WINDOW"`
	// Durable-store slice of a context bundle
	LongTermWindow int `yaml:"long_term_window" env:"LONG_TERM_WINDOW"`
	// Semantic-index slice of a context bundle
	RAGWindow int `yaml:"rag_window" env:"RAG_WINDOW"`

	// Buffered-event count that triggers consolidation
	ConsolidationThreshold int `yaml:"consolidation_threshold" env:"CONSOLIDATION_THRESHOLD"`
	// Oldest events drained per consolidation run
	ConsolidationBatch int `yaml:"consolidation_batch" env:"CONSOLIDATION_BATCH"`
	// Stored-importance cutoff for bypass promotion
	ConsolidationMinImportance float64 `yaml:"consolidation_min_importance" env:"CONSOLIDATION_MIN_IMPORTANCE"`
	// Post-consolidation buffer size as a fraction of the threshold
	TrimRatio float64 `yaml:"trim_ratio" env:"TRIM_RATIO"`

	// Cleanup loop interval
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	// Cleanup: records older than this many days are age-sweep candidates
	CleanupMaxAgeDays int `yaml:"cleanup_max_age_days" env:"CLEANUP_MAX_AGE_DAYS"`
	// Cleanup: age sweep only removes records below this importance
	CleanupMinImportance float64 `yaml:"cleanup_min_importance" env:"CLEANUP_MIN_IMPORTANCE"`
	// Cleanup: hard cap on total durable records
	CleanupMaxRecords int `yaml:"cleanup_max_records" env:"CLEANUP_MAX_RECORDS"`

	// Token budget for the formatted context block
	ContextTokenBudget int `yaml:"context_token_budget" env:"CONTEXT_TOKEN_BUDGET"`
}

// SemanticConfig configures the RAG tier.
type SemanticConfig struct {
	// Minimum reported similarity
	MinSimilarity float64 `yaml:"min_similarity" env:"MIN_SIMILARITY"`
	// Documents older than this many days are removed by cleanup; zero disables
	MaxAgeDays int `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	// Embedding mode on/off; off runs the substring fallback
	EmbeddingEnabled bool `yaml:"embedding_enabled" env:"EMBEDDING_ENABLED"`
	// Embedding provider API key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Embedding API base URL (OpenAI-compatible)
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Embedding model name
	Model string `yaml:"model" env:"MODEL"`
	// Embedding request rate limit, requests per second; zero disables
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// Embedding request timeout
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// DatabaseConfig configures the durable store backend.
type DatabaseConfig struct {
	// Driver: sqlite, mysql or postgres
	Driver string `yaml:"driver" env:"DRIVER"`
	// Host
	Host string `yaml:"host" env:"HOST"`
	// Port
	Port int `yaml:"port" env:"PORT"`
	// User
	User string `yaml:"user" env:"USER"`
	// Password
	Password string `yaml:"password" env:"PASSWORD"`
	// Database name, or the file path for sqlite
	Name string `yaml:"name" env:"NAME"`
	// SSL mode (postgres)
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// Connection pool limits
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig configures the optional embedding vector cache.
type RedisConfig struct {
	// Enabled turns the cache on
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Address
	Addr string `yaml:"addr" env:"ADDR"`
	// Password
	Password string `yaml:"password" env:"PASSWORD"`
	// Database number
	DB int `yaml:"db" env:"DB"`
	// Connection pool size
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// Cached vector TTL; zero means no expiry
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// Annotate entries with the calling site
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// Attach stack traces at error level
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures the optional OpenTelemetry export.
type TelemetryConfig struct {
	// Enabled turns export on
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP gRPC endpoint
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// Reported service name
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// Trace sample rate in [0,1]
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with builder-style options.
// Precedence: defaults, then YAML file, then environment variables.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the CLAWMEM env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CLAWMEM",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path. A missing file is not an error.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from the given path and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Memory.TrimRatio <= 0 || c.Memory.TrimRatio > 1 {
		errs = append(errs, "trim_ratio must be in (0, 1]")
	}
	if c.Memory.ConsolidationThreshold <= 0 {
		errs = append(errs, "consolidation_threshold must be positive")
	}
	if c.Memory.ShortTermMaxItems > 0 && c.Memory.ConsolidationThreshold > c.Memory.ShortTermMaxItems {
		// Eviction would hold the buffer below the trigger forever.
		errs = append(errs, "consolidation_threshold must not exceed short_term_max_items")
	}
	if c.Semantic.MinSimilarity < 0 || c.Semantic.MinSimilarity > 1 {
		errs = append(errs, "min_similarity must be in [0, 1]")
	}
	if c.Semantic.EmbeddingEnabled && c.Semantic.APIKey == "" {
		errs = append(errs, "semantic.api_key is required when embedding is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
