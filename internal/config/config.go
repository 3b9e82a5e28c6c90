// Package config loads gateway settings from defaults, an optional YAML file
// named by GATEWAY_CONFIG, and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
	StoreInfluxDB = "influxdb"
	StoreMemory   = "memory"
)

// Rate limit counter backends.
const (
	CounterMemory = "memory"
	CounterRedis  = "redis"
)

// Config holds every gateway setting.
type Config struct {
	Port               int             `yaml:"port"`
	AllowedOrigins     []string        `yaml:"allowed_origins"`
	JWTSecret          string          `yaml:"jwt_secret"`
	JWTExpiresIn       time.Duration   `yaml:"jwt_expires_in"`
	DeviceSecretPrefix string          `yaml:"device_secret_prefix"`
	LogLevel           string          `yaml:"log_level"`
	RateLimit          RateLimitConfig `yaml:"rate_limit"`
	Store              StoreConfig     `yaml:"store"`
	Ingest             IngestConfig    `yaml:"ingest"`
}

// RateLimitConfig configures the general and ingestion limiters.
type RateLimitConfig struct {
	Window        time.Duration `yaml:"window"`
	Max           int           `yaml:"max"`
	IngestWindow  time.Duration `yaml:"ingest_window"`
	IngestMax     int           `yaml:"ingest_max"`
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TrustProxy    bool          `yaml:"trust_proxy"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Backend       string        `yaml:"backend"`
	DatabaseURL   string        `yaml:"database_url"`
	Collection    string        `yaml:"collection"`
	DynamoDBTable string        `yaml:"dynamodb_table"`
	InfluxURL     string        `yaml:"influx_url"`
	InfluxToken   string        `yaml:"influx_token"`
	InfluxOrg     string        `yaml:"influx_org"`
	InfluxBucket  string        `yaml:"influx_bucket"`
	Timeout       time.Duration `yaml:"timeout"`
}

// IngestConfig bounds ingestion requests.
type IngestConfig struct {
	BulkMaxReadings int     `yaml:"bulk_max_readings"`
	BulkConcurrency int     `yaml:"bulk_concurrency"`
	ValueMin        float64 `yaml:"value_min"`
	ValueMax        float64 `yaml:"value_max"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:           3000,
		AllowedOrigins: []string{"*"},
		JWTExpiresIn:   15 * time.Minute,
		LogLevel:       "info",
		RateLimit: RateLimitConfig{
			Window:       15 * time.Minute,
			Max:          1000,
			IngestWindow: time.Minute,
			IngestMax:    300,
			Backend:      CounterMemory,
		},
		Store: StoreConfig{
			Backend:    StorePostgres,
			Collection: "telemetry_records",
			Timeout:    10 * time.Second,
		},
		Ingest: IngestConfig{
			BulkMaxReadings: 100,
			BulkConcurrency: 1,
			ValueMin:        -1000,
			ValueMax:        10000,
		},
	}
}

// Load builds the configuration and validates it. All problems are
// reported together.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("GATEWAY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	env := &envReader{}
	cfg.applyEnv(env)
	if err := errors.Join(append(env.errs, cfg.Validate())...); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(env *envReader) {
	c.Port = env.getenvIntDefault("PORT", c.Port)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitCSV(origins)
	}
	c.JWTSecret = env.getenvDefault("JWT_SECRET", env.getenvDefault("AUTH_JWT_SECRET", c.JWTSecret))
	c.JWTExpiresIn = env.getenvDuration("JWT_EXPIRES_IN", c.JWTExpiresIn)
	c.DeviceSecretPrefix = env.getenvDefault("DEVICE_SECRET_PREFIX", c.DeviceSecretPrefix)
	c.LogLevel = env.getenvDefault("LOG_LEVEL", c.LogLevel)

	rl := &c.RateLimit
	rl.Window = env.getenvDuration("RATE_LIMIT_WINDOW", rl.Window)
	rl.Max = env.getenvIntDefault("RATE_LIMIT_MAX", rl.Max)
	rl.IngestWindow = env.getenvDuration("INGEST_RATE_LIMIT_WINDOW", rl.IngestWindow)
	rl.IngestMax = env.getenvIntDefault("INGEST_RATE_LIMIT_MAX", rl.IngestMax)
	rl.Backend = env.getenvDefault("RATE_LIMIT_BACKEND", rl.Backend)
	rl.RedisAddr = env.getenvDefault("REDIS_ADDR", rl.RedisAddr)
	rl.RedisPassword = env.getenvDefault("REDIS_PASSWORD", rl.RedisPassword)
	rl.RedisDB = env.getenvIntDefault("REDIS_DB", rl.RedisDB)
	rl.TrustProxy = env.getenvBool("TRUST_PROXY", rl.TrustProxy)

	st := &c.Store
	st.Backend = env.getenvDefault("STORE_BACKEND", st.Backend)
	st.DatabaseURL = env.getenvDefault("DATABASE_URL", env.getenvDefault("PG_DSN", st.DatabaseURL))
	st.Collection = env.getenvDefault("STORE_COLLECTION", st.Collection)
	st.DynamoDBTable = env.getenvDefault("DYNAMODB_TABLE_NAME", st.DynamoDBTable)
	st.InfluxURL = env.getenvDefault("INFLUX_URL", st.InfluxURL)
	st.InfluxToken = env.getenvDefault("INFLUX_TOKEN", st.InfluxToken)
	st.InfluxOrg = env.getenvDefault("INFLUX_ORG", st.InfluxOrg)
	st.InfluxBucket = env.getenvDefault("INFLUX_BUCKET", st.InfluxBucket)
	st.Timeout = env.getenvDuration("STORE_TIMEOUT", st.Timeout)

	in := &c.Ingest
	in.BulkMaxReadings = env.getenvIntDefault("BULK_MAX_READINGS", in.BulkMaxReadings)
	in.BulkConcurrency = env.getenvIntDefault("BULK_CONCURRENCY", in.BulkConcurrency)
	in.ValueMin = env.getenvFloatDefault("VALUE_MIN", in.ValueMin)
	in.ValueMax = env.getenvFloatDefault("VALUE_MAX", in.ValueMax)
}

// Validate reports every invalid or missing setting.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	if c.Port <= 0 || c.Port > 65535 {
		add("PORT must be between 1 and 65535")
	}
	if c.JWTSecret == "" {
		add("JWT_SECRET is required")
	}
	if c.DeviceSecretPrefix == "" {
		add("DEVICE_SECRET_PREFIX is required")
	}
	if c.JWTExpiresIn <= 0 {
		add("JWT_EXPIRES_IN must be positive")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		add("LOG_LEVEL: %v", err)
	}

	rl := c.RateLimit
	if rl.Window <= 0 || rl.IngestWindow <= 0 {
		add("rate limit windows must be positive")
	}
	if rl.Max <= 0 || rl.IngestMax <= 0 {
		add("rate limit maximums must be positive")
	}
	switch rl.Backend {
	case CounterMemory:
	case CounterRedis:
		if rl.RedisAddr == "" {
			add("REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		add("unknown RATE_LIMIT_BACKEND %q", rl.Backend)
	}

	st := c.Store
	switch st.Backend {
	case StorePostgres:
		if st.DatabaseURL == "" {
			add("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case StoreDynamoDB:
		if st.DynamoDBTable == "" {
			add("DYNAMODB_TABLE_NAME is required when STORE_BACKEND=dynamodb")
		}
	case StoreInfluxDB:
		if st.InfluxURL == "" || st.InfluxToken == "" || st.InfluxOrg == "" || st.InfluxBucket == "" {
			add("INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG and INFLUX_BUCKET are required when STORE_BACKEND=influxdb")
		}
	case StoreMemory:
	default:
		add("unknown STORE_BACKEND %q", st.Backend)
	}
	if st.Timeout <= 0 {
		add("STORE_TIMEOUT must be positive")
	}

	in := c.Ingest
	if in.BulkMaxReadings <= 0 {
		add("BULK_MAX_READINGS must be positive")
	}
	if in.ValueMin >= in.ValueMax {
		add("VALUE_MIN must be below VALUE_MAX")
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// ParseLogLevel maps a level name onto slog.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}

type envReader struct {
	errs []error
}

func (e *envReader) getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func (e *envReader) getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: invalid integer %q", key, value))
		return fallback
	}
	return parsed
}

func (e *envReader) getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: invalid number %q", key, value))
		return fallback
	}
	return parsed
}

func (e *envReader) getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: invalid duration %q", key, value))
		return fallback
	}
	return parsed
}

func (e *envReader) getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: invalid boolean %q", key, value))
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
