package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/pinaka/pkg/bootstrap"
	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/platinummonkey/pinaka/pkg/storage"
	"github.com/platinummonkey/pinaka/pkg/storage/postgres"
	"github.com/robfig/cron/v3"
)

// Permission cache backends
const (
	CacheNone  = "none"
	CacheLRU   = "lru"
	CacheRedis = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Observability configuration
	Observability ObservabilityConfig

	// Permission matrix configuration
	RBAC RBACConfig

	// Verification workflow configuration
	Workflow WorkflowConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// RBACConfig holds permission matrix settings
type RBACConfig struct {
	// Enforce guards verification decisions with the matrix
	Enforce       bool
	FailurePolicy bootstrap.Policy
	MatrixFile    string
	WatchMatrix   bool
	Thresholds    map[string]float64
	CacheBackend  string
}

// WorkflowConfig holds verification workflow settings
type WorkflowConfig struct {
	SweepEnabled     bool
	SweepSchedule    string
	SweepConcurrency int
	ListenerTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	rbacCfg, err := loadRBACConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		RBAC:          rbacCfg,
		Workflow:      loadWorkflowConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PINAKA_HOST", "0.0.0.0"),
		Port:            getEnv("PINAKA_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PINAKA_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PINAKA_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PINAKA_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PINAKA_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PINAKA_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("PINAKA_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = strings.ToLower(storageType)
	}
	if sqlitePath := getEnv("PINAKA_SQLITE_PATH", ""); sqlitePath != "" {
		cfg.SQLitePath = sqlitePath
	}

	// PostgreSQL config
	if pgURL := getEnv("PINAKA_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("PINAKA_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = postgres.ParseReplicaURLs(replicaURLs)
	}
	if maxConns := getEnvInt("PINAKA_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("PINAKA_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("PINAKA_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("PINAKA_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("PINAKA_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("PINAKA_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("PINAKA_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("PINAKA_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Permission cache config
	if ttl := getEnvDuration("PINAKA_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL = ttl
	}
	if size := getEnvInt("PINAKA_CACHE_SIZE", 0); size > 0 {
		cfg.CacheSize = size
	}

	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("PINAKA_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PINAKA_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PINAKA_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PINAKA_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PINAKA_OTEL_SERVICE_NAME", "pinaka"),
		OTelServiceVersion: getEnv("PINAKA_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PINAKA_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("PINAKA_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// loadRBACConfig loads permission matrix configuration from environment
func loadRBACConfig() (RBACConfig, error) {
	policy, err := bootstrap.ParsePolicy(getEnv("PINAKA_RBAC_FAILURE_POLICY", ""))
	if err != nil {
		return RBACConfig{}, err
	}
	thresholds, err := ParseThresholds(getEnv("PINAKA_RBAC_THRESHOLDS", ""))
	if err != nil {
		return RBACConfig{}, err
	}
	return RBACConfig{
		Enforce:       getEnvBool("PINAKA_RBAC_ENFORCE", true),
		FailurePolicy: policy,
		MatrixFile:    getEnv("PINAKA_RBAC_MATRIX_FILE", ""),
		WatchMatrix:   getEnvBool("PINAKA_RBAC_WATCH_MATRIX", false),
		Thresholds:    thresholds,
		CacheBackend:  strings.ToLower(getEnv("PINAKA_RBAC_CACHE_BACKEND", CacheLRU)),
	}, nil
}

// loadWorkflowConfig loads verification workflow configuration from environment
func loadWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		SweepEnabled:     getEnvBool("PINAKA_SWEEP_ENABLED", true),
		SweepSchedule:    getEnv("PINAKA_SWEEP_SCHEDULE", "*/15 * * * *"),
		SweepConcurrency: getEnvInt("PINAKA_SWEEP_CONCURRENCY", 4),
		ListenerTimeout:  getEnvDuration("PINAKA_LISTENER_TIMEOUT", 10*time.Second),
	}
}

// ParseThresholds parses "name=value,name=value" into named limits
func ParseThresholds(s string) (map[string]float64, error) {
	thresholds := make(map[string]float64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed threshold %q (want name=value)", pair)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for threshold %s: %w", name, err)
		}
		thresholds[name] = value
	}
	return thresholds, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case storage.TypePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case storage.TypeSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	case storage.TypeMemory:
	default:
		return fmt.Errorf("invalid storage type: %s (must be postgres, sqlite, or memory)", c.Storage.Type)
	}

	// Validate permission cache
	switch c.RBAC.CacheBackend {
	case CacheNone, CacheLRU:
	case CacheRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis permission cache")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be none, lru, or redis)", c.RBAC.CacheBackend)
	}
	if c.RBAC.WatchMatrix && c.RBAC.MatrixFile == "" {
		return fmt.Errorf("matrix file is required when watching the matrix")
	}

	// Validate workflow config
	if c.Workflow.SweepEnabled {
		if _, err := cron.ParseStandard(c.Workflow.SweepSchedule); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", c.Workflow.SweepSchedule, err)
		}
	}
	if c.Workflow.SweepConcurrency < 1 {
		return fmt.Errorf("sweep concurrency must be at least 1")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
