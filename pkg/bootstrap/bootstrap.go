package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/platinummonkey/pinaka/pkg/rbac"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Policy decides how the host behaves when initialization fails
type Policy string

// Policies
const (
	// PolicyFailOpen keeps serving without enforced permissions
	PolicyFailOpen Policy = "fail-open"
	// PolicyFailClosed denies guarded requests until initialization succeeds
	PolicyFailClosed Policy = "fail-closed"
)

// ParsePolicy parses a policy name. The empty string is fail-open.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyFailOpen:
		return PolicyFailOpen, nil
	case PolicyFailClosed:
		return PolicyFailClosed, nil
	}
	return "", fmt.Errorf("unknown failure policy %q (want %s or %s)", s, PolicyFailOpen, PolicyFailClosed)
}

// Bootstrap outcomes recorded in metrics
const (
	resultSeeded  = "seeded"
	resultSkipped = "skipped"
	resultFailed  = "failed"
)

// Purger drops cached permission lookups after a reseed
type Purger interface {
	Purge(ctx context.Context) error
}

// Bootstrapper seeds roles and grants from a matrix exactly once per
// process, collapsing concurrent callers onto one run
type Bootstrapper struct {
	store    rbac.MatrixStore
	registry *rbac.Registry
	purger   Purger
	policy   Policy
	logger   logrus.FieldLogger
	metrics  *observability.Metrics

	group singleflight.Group
	ready atomic.Bool

	mu      sync.RWMutex
	matrix  *rbac.Matrix
	lastErr error
	lastRun time.Time
}

// Option configures a Bootstrapper
type Option func(*Bootstrapper)

// WithPurger purges a permission cache after every seed
func WithPurger(p Purger) Option {
	return func(b *Bootstrapper) { b.purger = p }
}

// WithPolicy sets the failure policy
func WithPolicy(p Policy) Option {
	return func(b *Bootstrapper) { b.policy = p }
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(b *Bootstrapper) { b.logger = observability.OrNop(logger) }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bootstrapper) { b.metrics = m }
}

// New creates a bootstrapper. A nil matrix uses the embedded default.
func New(store rbac.MatrixStore, registry *rbac.Registry, matrix *rbac.Matrix, opts ...Option) *Bootstrapper {
	if matrix == nil {
		matrix = rbac.DefaultMatrix()
	}
	if registry == nil {
		registry = rbac.NewRegistry(store, matrix)
	}
	b := &Bootstrapper{
		store:    store,
		registry: registry,
		matrix:   matrix,
		policy:   PolicyFailOpen,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AutoInitialize seeds the matrix unless roles already exist and force is
// false. It reports whether the store is initialized; failures are logged
// and recorded, never returned.
func (b *Bootstrapper) AutoInitialize(ctx context.Context, force bool) bool {
	return b.Initialize(ctx, force) == nil
}

// Initialize is AutoInitialize returning the underlying error. The run is
// detached from ctx, so a caller that gives up does not abort it for the
// others waiting on the same run.
func (b *Bootstrapper) Initialize(ctx context.Context, force bool) error {
	key := "init"
	if force {
		key = "init:force"
	}

	detached := context.WithoutCancel(ctx)
	ch := b.group.DoChan(key, func() (interface{}, error) {
		return nil, b.run(detached, force)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bootstrapper) run(ctx context.Context, force bool) error {
	count, err := b.store.CountRoles(ctx)
	if err != nil {
		return b.fail(fmt.Errorf("failed to count roles: %w", err))
	}
	if count > 0 && !force {
		b.succeed(resultSkipped)
		b.logger.WithField("roles", count).Debug("permission matrix already initialized")
		return nil
	}

	matrix := b.Matrix()
	b.registry.SetMatrix(matrix)
	if force {
		b.registry.Forget()
	}

	for _, role := range matrix.Roles {
		if _, err := b.registry.EnsureRole(ctx, role.Name); err != nil {
			return b.fail(fmt.Errorf("failed to seed role %s: %w", role.Name, err))
		}
	}

	perms := matrix.Permissions()
	for _, p := range perms {
		if _, err := b.store.UpsertPermission(ctx, p.Role, p.Category, p.Resource, p.Action, p.Conditions); err != nil {
			return b.fail(fmt.Errorf("failed to seed permission %s: %w", p.Key(), err))
		}
	}

	if b.purger != nil {
		if err := b.purger.Purge(ctx); err != nil {
			b.logger.WithError(err).Warn("failed to purge permission cache after seeding")
		}
	}

	b.succeed(resultSeeded)
	b.logger.WithFields(logrus.Fields{
		"roles":       len(matrix.Roles),
		"permissions": len(perms),
		"forced":      force,
	}).Info("permission matrix initialized")
	return nil
}

func (b *Bootstrapper) succeed(result string) {
	b.mu.Lock()
	b.lastErr = nil
	b.lastRun = time.Now()
	b.mu.Unlock()
	b.ready.Store(true)
	b.metrics.RecordBootstrap(result)
}

func (b *Bootstrapper) fail(err error) error {
	b.mu.Lock()
	b.lastErr = err
	b.lastRun = time.Now()
	b.mu.Unlock()
	b.metrics.RecordBootstrap(resultFailed)
	b.logger.WithError(err).WithField("policy", b.policy).Error("permission matrix initialization failed")
	return err
}

// Ready reports whether a run has succeeded
func (b *Bootstrapper) Ready() bool { return b.ready.Load() }

// Policy returns the configured failure policy
func (b *Bootstrapper) Policy() Policy { return b.policy }

// FailOpen reports whether guarded requests pass while not ready
func (b *Bootstrapper) FailOpen() bool { return b.policy != PolicyFailClosed }

// LastError returns the error of the most recent run, if it failed
func (b *Bootstrapper) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

// Matrix returns the matrix the next run will seed
func (b *Bootstrapper) Matrix() *rbac.Matrix {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.matrix
}

// SetMatrix replaces the matrix. Call Initialize with force to apply it.
func (b *Bootstrapper) SetMatrix(m *rbac.Matrix) {
	b.mu.Lock()
	b.matrix = m
	b.mu.Unlock()
}
