package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/pinaka/pkg/async"
	"github.com/platinummonkey/pinaka/pkg/bootstrap"
	"github.com/platinummonkey/pinaka/pkg/config"
	"github.com/platinummonkey/pinaka/pkg/httputil"
	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/platinummonkey/pinaka/pkg/rbac"
	"github.com/platinummonkey/pinaka/pkg/storage"
	"github.com/platinummonkey/pinaka/pkg/storage/postgres"
	"github.com/platinummonkey/pinaka/pkg/verification"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxRequestBytes    = 1 << 20
	initRetryInterval  = 30 * time.Second
	dbStatsInterval    = 15 * time.Second
	replicaCheckPeriod = 30 * time.Second
)

// app holds every wired component of the server
type app struct {
	cfg      *config.Config
	logger   logrus.FieldLogger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	db      *sql.DB
	conns   *postgres.ConnectionManager
	redis   *postgres.RedisClient
	closers []func() error
	matrix  rbac.MatrixStore
	cached  *rbac.CachedStore
	roles   *rbac.Registry
	boot    *bootstrap.Bootstrapper
	eval    *rbac.Evaluator
	engine  *verification.Engine
	sweeper *verification.Sweeper
	rbacH   *rbac.Handlers
	verifyH *verification.Handlers
}

// stores groups the backend-specific pieces
type stores struct {
	matrix        rbac.MatrixStore
	verifications verification.Store
	directory     verification.Directory
}

func newApp(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   observability.OrNop(logger),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	st, err := a.openStorage(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	if err := a.openRedis(); err != nil {
		a.close()
		return nil, err
	}

	a.matrix = st.matrix
	cache, err := a.permissionCache()
	if err != nil {
		a.close()
		return nil, err
	}
	if cache != nil {
		a.cached = rbac.NewCachedStore(st.matrix, cache, a.logger, a.metrics)
		a.matrix = a.cached
	}

	matrix := rbac.DefaultMatrix()
	if cfg.RBAC.MatrixFile != "" {
		matrix, err = rbac.LoadMatrixFile(cfg.RBAC.MatrixFile)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	a.roles = rbac.NewRegistry(a.matrix, matrix)
	opts := []bootstrap.Option{
		bootstrap.WithPolicy(cfg.RBAC.FailurePolicy),
		bootstrap.WithLogger(a.logger),
		bootstrap.WithMetrics(a.metrics),
	}
	if a.cached != nil {
		opts = append(opts, bootstrap.WithPurger(a.cached))
	}
	a.boot = bootstrap.New(a.matrix, a.roles, matrix, opts...)

	a.eval = rbac.NewEvaluator(a.matrix,
		rbac.WithThresholds(cfg.RBAC.Thresholds),
		rbac.WithEvaluatorLogger(a.logger),
		rbac.WithEvaluatorMetrics(a.metrics),
	)

	a.engine = verification.NewEngine(st.verifications,
		verification.WithResolver(verification.NewDefaultResolver(st.directory)),
		verification.WithListener(a.logTransition),
		verification.WithListenerTimeout(cfg.Workflow.ListenerTimeout),
		verification.WithLogger(a.logger),
		verification.WithMetrics(a.metrics),
	)

	if cfg.Workflow.SweepEnabled {
		a.sweeper = verification.NewSweeper(st.verifications, a.logOverdue,
			verification.WithConcurrency(cfg.Workflow.SweepConcurrency),
			verification.WithSweeperLogger(a.logger),
			verification.WithSweeperMetrics(a.metrics),
		)
	}

	a.rbacH = rbac.NewHandlers(a.matrix, a.eval, a.logger)
	a.verifyH = verification.NewHandlers(a.engine, a.logger)
	if cfg.RBAC.Enforce {
		pm := rbac.NewPermissionMiddleware(a.eval,
			rbac.WithReadiness(a.boot, a.boot.FailOpen()),
			rbac.WithMiddlewareLogger(a.logger),
		)
		a.verifyH.WithDecisionGuard(approvalGuard(pm))
	}

	return a, nil
}

// approvalGuard requires APPROVE on the type-specific verification resource
// or on the generic one
func approvalGuard(pm *rbac.PermissionMiddleware) verification.DecisionGuard {
	return func(v *verification.Verification, next http.Handler) http.Handler {
		resources := []string{v.Type.ApprovalResource(), "verifications"}
		return pm.RequireAnyPermission(rbac.CategoryVerifications, resources, rbac.ActionApprove, nil)(next)
	}
}

func (a *app) openStorage(ctx context.Context) (*stores, error) {
	var dialect storage.Dialect
	switch a.cfg.Storage.Type {
	case storage.TypeMemory:
		a.logger.Warn("Using in-memory storage; nothing survives a restart")
		return &stores{
			matrix:        rbac.NewMemoryStore(),
			verifications: verification.NewMemoryStore(),
			directory:     verification.NewStaticDirectory(),
		}, nil

	case storage.TypeSQLite:
		db, err := storage.OpenSQLite(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		dialect = storage.SQLite

	default:
		cm, err := postgres.NewConnectionManager(postgres.ConfigFromStorage(a.cfg.Storage, a.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.conns = cm
		a.db = cm.Primary()
		a.closers = append(a.closers, cm.Close)
		dialect = storage.Postgres
	}

	if err := rbac.RunMigrations(ctx, a.db, dialect, a.logger); err != nil {
		return nil, err
	}
	if err := verification.RunMigrations(ctx, a.db, dialect, a.logger); err != nil {
		return nil, err
	}

	return &stores{
		matrix:        rbac.NewSQLStore(a.db),
		verifications: verification.NewSQLStore(a.db),
		directory:     verification.NewSQLDirectory(a.db),
	}, nil
}

func (a *app) openRedis() error {
	if a.cfg.Storage.RedisURL == "" {
		return nil
	}
	client, err := postgres.NewRedisClient(a.cfg.Storage)
	if err != nil {
		if a.cfg.RBAC.CacheBackend == config.CacheRedis {
			return err
		}
		a.logger.WithError(err).Warn("Redis unavailable, continuing without it")
		return nil
	}
	a.redis = client
	a.closers = append(a.closers, client.Close)
	return nil
}

func (a *app) redisClient() *redis.Client {
	if a.redis == nil {
		return nil
	}
	return a.redis.GetClient()
}

func (a *app) permissionCache() (rbac.PermissionCache, error) {
	switch a.cfg.RBAC.CacheBackend {
	case config.CacheNone:
		return nil, nil
	case config.CacheRedis:
		if a.redis == nil {
			return nil, fmt.Errorf("redis cache selected but no redis client is configured")
		}
		return rbac.NewRedisCache(a.redis.GetClient(), a.cfg.Storage.CacheTTL), nil
	default:
		return rbac.NewLRUCache(a.cfg.Storage.CacheSize, a.cfg.Storage.CacheTTL), nil
	}
}

// initialize seeds the matrix. Under fail-closed a failed first attempt is
// fatal; otherwise seeding keeps retrying in the background.
func (a *app) initialize(ctx context.Context) error {
	if a.boot.AutoInitialize(ctx, false) {
		return nil
	}
	if !a.boot.FailOpen() {
		return fmt.Errorf("permission matrix initialization failed: %w", a.boot.LastError())
	}
	a.logger.WithError(a.boot.LastError()).Warn("Permission matrix not initialized, retrying in background")
	go a.retryInitialize(ctx, initRetryInterval)
	return nil
}

func (a *app) retryInitialize(ctx context.Context, interval time.Duration) {
	defer observability.RecoverPanic(a.logger, "matrix initialization retry")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.boot.AutoInitialize(ctx, false) {
				a.logger.Info("Permission matrix initialized after retry")
				return
			}
		}
	}
}

// start launches the background workers
func (a *app) start(ctx context.Context) error {
	if a.cfg.RBAC.WatchMatrix {
		if err := a.boot.WatchMatrixFile(ctx, a.cfg.RBAC.MatrixFile); err != nil {
			return err
		}
	}
	if a.sweeper != nil {
		if err := a.sweeper.Start(ctx, a.cfg.Workflow.SweepSchedule); err != nil {
			return err
		}
	}
	if a.conns != nil && len(a.cfg.Storage.PostgresReplicaURLs) > 0 {
		a.conns.StartHealthCheckRoutine(ctx, replicaCheckPeriod)
	}
	if a.db != nil && a.cfg.Observability.MetricsEnabled {
		go a.recordDBStats(ctx, dbStatsInterval)
	}
	return nil
}

func (a *app) recordDBStats(ctx context.Context, interval time.Duration) {
	defer observability.RecoverPanic(a.logger, "db stats")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.metrics.RecordDBStats(a.db.Stats())
		}
	}
}

// handler builds the API router
func (a *app) handler() http.Handler {
	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(a.logger),
		httputil.RecoveryMiddleware(a.logger),
		observability.HTTPMetricsMiddleware(a.metrics, routeTemplate),
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)
	a.rbacH.RegisterRoutes(router)
	a.verifyH.RegisterRoutes(router)

	return otelhttp.NewHandler(router, "pinaka")
}

// healthHandler builds the probe and metrics mux
func (a *app) healthHandler() http.Handler {
	checker := observability.NewHealthChecker(a.db, a.redisClient()).
		WithRBAC(a.boot).
		WithVersion(version)

	probes := http.NewServeMux()
	observability.RegisterHealthRoutes(probes, checker)
	if a.cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(probes, a.registry)
	}
	return probes
}

func (a *app) logTransition(ctx context.Context, event verification.Event) error {
	observability.FromContext(ctx, a.logger).WithFields(logrus.Fields{
		"verification_id": event.Verification.ID,
		"type":            event.Verification.Type,
		"action":          event.Action,
		"status":          event.Verification.Status,
	}).Info("Verification transition")
	return nil
}

func (a *app) logOverdue(ctx context.Context, v verification.Verification) error {
	fields := logrus.Fields{
		"verification_id": v.ID,
		"type":            v.Type,
		"entity_id":       v.EntityID,
	}
	if v.Assignee != nil {
		fields["assignee"] = v.Assignee.ID
		fields["assignee_role"] = v.Assignee.Role
	}
	if v.DueDate != nil {
		fields["due_date"] = v.DueDate.Format(time.RFC3339)
	}
	a.logger.WithFields(fields).Warn("Verification overdue")
	return nil
}

// close releases storage and cache connections in reverse order
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to close resource")
		}
	}
	a.closers = nil
}

// shutdownFunc adapts close for the shutdown manager
func (a *app) shutdownFunc(ctx context.Context) error {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	done := make(chan struct{})
	async.SafeGoNoError(ctx, a.logger, time.Minute, "close resources", func(context.Context) {
		defer close(done)
		a.close()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
