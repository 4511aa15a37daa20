package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const readinessTimeout = 5 * time.Second

var errMatrixNotReady = errors.New("permission matrix not initialized")

// ReadinessSource reports whether a component finished initializing
type ReadinessSource interface {
	Ready() bool
}

// probe checks one dependency. An error without a status marks the
// dependency with failStatus. The overall status is capped at ceiling.
type probe struct {
	name       string
	failStatus string
	ceiling    string
	check      func(ctx context.Context) (string, error)
}

// HealthChecker aggregates dependency probes for the readiness endpoint
type HealthChecker struct {
	probes  []probe
	version string
}

// NewHealthChecker probes db and redis when non-nil. A database failure
// is unhealthy. Redis only backs the permission cache, so its failure
// degrades.
func NewHealthChecker(db *sql.DB, client *redis.Client) *HealthChecker {
	h := &HealthChecker{version: "dev"}
	if db != nil {
		h.probes = append(h.probes, probe{
			name:       "database",
			failStatus: StatusUnhealthy,
			ceiling:    StatusUnhealthy,
			check:      func(ctx context.Context) (string, error) { return checkDatabase(ctx, db) },
		})
	}
	if client != nil {
		h.probes = append(h.probes, probe{
			name:       "redis",
			failStatus: StatusUnhealthy,
			ceiling:    StatusDegraded,
			check: func(ctx context.Context) (string, error) {
				if err := client.Ping(ctx).Err(); err != nil {
					return "", err
				}
				return StatusHealthy, nil
			},
		})
	}
	return h
}

// WithRBAC reports the permission matrix as a dependency. An
// uninitialized matrix degrades.
func (h *HealthChecker) WithRBAC(source ReadinessSource) *HealthChecker {
	h.probes = append(h.probes, probe{
		name:       "rbac",
		failStatus: StatusDegraded,
		ceiling:    StatusDegraded,
		check: func(context.Context) (string, error) {
			if !source.Ready() {
				return "", errMatrixNotReady
			}
			return StatusHealthy, nil
		},
	})
	return h
}

// WithVersion sets the version reported by Check
func (h *HealthChecker) WithVersion(version string) *HealthChecker {
	h.version = version
	return h
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ns,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Liveness always returns 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness runs every probe and returns 503 when unhealthy
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

// Check runs every probe sequentially
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.probes)),
	}

	for _, p := range h.probes {
		start := time.Now()
		result, err := p.check(ctx)
		dep := DependencyStatus{Status: result, Latency: time.Since(start), Timestamp: start}
		if err != nil {
			dep.Message = err.Error()
			if result == "" {
				dep.Status = p.failStatus
			}
		}
		status.Dependencies[p.name] = dep

		overall := dep.Status
		if rank[overall] > rank[p.ceiling] {
			overall = p.ceiling
		}
		if rank[overall] > rank[status.Status] {
			status.Status = overall
		}
	}
	return status
}

var rank = map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

// checkDatabase pings, runs a trivial query and flags an exhausted pool
func checkDatabase(ctx context.Context, db *sql.DB) (string, error) {
	if err := db.PingContext(ctx); err != nil {
		return "", err
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return "", errors.New("query failed: " + err.Error())
	}
	if stats := db.Stats(); stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		return StatusDegraded, errors.New("connection pool exhausted")
	}
	return StatusHealthy, nil
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
