// Package config loads application configuration from environment variables.
//
// # Overview
//
// Every setting has a default; LoadConfig reads the PINAKA_ variables and
// validates the result.
//
// Server settings:
//
//	PINAKA_HOST="0.0.0.0"
//	PINAKA_PORT="8080"
//	PINAKA_HEALTH_PORT="9090"
//	PINAKA_READ_TIMEOUT="15s"
//	PINAKA_SHUTDOWN_TIMEOUT="30s"
//
// Storage settings:
//
//	PINAKA_STORAGE_TYPE="postgres"  # postgres, sqlite, memory
//	PINAKA_POSTGRES_URL="postgres://localhost/pinaka"
//	PINAKA_POSTGRES_REPLICA_URLS="postgres://replica1/pinaka,postgres://replica2/pinaka"
//	PINAKA_SQLITE_PATH="pinaka.db"
//	PINAKA_REDIS_URL="redis://localhost:6379"
//	PINAKA_CACHE_TTL="5m"
//
// Permission matrix settings:
//
//	PINAKA_RBAC_ENFORCE="true"
//	PINAKA_RBAC_FAILURE_POLICY="fail-open"  # fail-open, fail-closed
//	PINAKA_RBAC_MATRIX_FILE="/etc/pinaka/matrix.yaml"
//	PINAKA_RBAC_WATCH_MATRIX="true"
//	PINAKA_RBAC_THRESHOLDS="expenseApproval=500,capitalExpense=10000"
//	PINAKA_RBAC_CACHE_BACKEND="lru"  # none, lru, redis
//
// Workflow settings:
//
//	PINAKA_SWEEP_ENABLED="true"
//	PINAKA_SWEEP_SCHEDULE="*/15 * * * *"
//	PINAKA_SWEEP_CONCURRENCY="4"
//
// Observability settings:
//
//	PINAKA_LOG_LEVEL="info"  # debug, info, warn, error
//	PINAKA_METRICS_ENABLED="true"
//	PINAKA_OTEL_ENABLED="true"
//	PINAKA_OTEL_ENDPOINT="otel-collector:4317"
//	PINAKA_OTEL_SAMPLE_RATIO="0.1"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Storage: %s\n", cfg.Storage.Type)
package config
