// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry wiring for the Pinaka engine.
//
// # Structured Logging
//
// Loggers are logrus loggers configured for JSON output:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("role", "TENANT").Info("evaluated permission")
//
// Request-scoped loggers travel in the context. FromContext also adds the
// active trace and span IDs:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx, logger).Warn("cache unavailable")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordEvaluation("ALLOW", "REPORTS", took)
//
// All metric methods on a nil *Metrics are no-ops, so engine components
// accept an optional metrics handle.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.WithRBAC(bootstrapper).Check(ctx)
//
// A database failure is unhealthy. Redis or an uninitialized matrix only
// degrade.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
