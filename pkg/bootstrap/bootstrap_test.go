package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/platinummonkey/pinaka/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// instrumentedStore counts calls and can block or fail CountRoles
type instrumentedStore struct {
	rbac.MatrixStore
	gate        chan struct{}
	mu          sync.Mutex
	countErr    error
	countCalls  atomic.Int32
	roleUpserts atomic.Int32
	permUpserts atomic.Int32
}

func newInstrumentedStore() *instrumentedStore {
	return &instrumentedStore{MatrixStore: rbac.NewMemoryStore()}
}

func (s *instrumentedStore) CountRoles(ctx context.Context) (int, error) {
	s.countCalls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	err := s.countErr
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return s.MatrixStore.CountRoles(ctx)
}

func (s *instrumentedStore) failCount(err error) {
	s.mu.Lock()
	s.countErr = err
	s.mu.Unlock()
}

func (s *instrumentedStore) UpsertRole(ctx context.Context, name rbac.RoleName, displayName string, isSystem bool) (*rbac.Role, error) {
	s.roleUpserts.Add(1)
	return s.MatrixStore.UpsertRole(ctx, name, displayName, isSystem)
}

func (s *instrumentedStore) UpsertPermission(ctx context.Context, role rbac.RoleName, category rbac.Category, resource string, action rbac.Action, conditions rbac.Conditions) (*rbac.RolePermission, error) {
	s.permUpserts.Add(1)
	return s.MatrixStore.UpsertPermission(ctx, role, category, resource, action, conditions)
}

type countingPurger struct {
	calls atomic.Int32
	err   error
}

func (p *countingPurger) Purge(ctx context.Context) error {
	p.calls.Add(1)
	return p.err
}

func newBootstrapper(store rbac.MatrixStore, opts ...Option) *Bootstrapper {
	opts = append([]Option{WithLogger(getTestLogger())}, opts...)
	return New(store, nil, nil, opts...)
}

func TestAutoInitialize_SeedsOnce(t *testing.T) {
	store := newInstrumentedStore()
	purger := &countingPurger{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	b := newBootstrapper(store, WithPurger(purger), WithMetrics(metrics))
	ctx := context.Background()

	assert.False(t, b.Ready())
	require.True(t, b.AutoInitialize(ctx, false))
	assert.True(t, b.Ready())
	assert.NoError(t, b.LastError())

	matrix := rbac.DefaultMatrix()
	count, err := store.CountRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(matrix.Roles), count)
	assert.Equal(t, int32(len(matrix.Permissions())), store.permUpserts.Load())
	assert.Equal(t, int32(1), purger.calls.Load())

	require.True(t, b.AutoInitialize(ctx, false))
	assert.Equal(t, int32(len(matrix.Permissions())), store.permUpserts.Load(), "second run must skip")
	assert.Equal(t, int32(1), purger.calls.Load())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BootstrapRunsTotal.WithLabelValues(resultSeeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BootstrapRunsTotal.WithLabelValues(resultSkipped)))
}

func TestAutoInitialize_ForceReseedsWithoutDuplicates(t *testing.T) {
	store := newInstrumentedStore()
	b := newBootstrapper(store)
	ctx := context.Background()

	require.True(t, b.AutoInitialize(ctx, false))
	require.True(t, b.AutoInitialize(ctx, true))

	matrix := rbac.DefaultMatrix()
	assert.Equal(t, int32(2*len(matrix.Permissions())), store.permUpserts.Load())

	count, err := store.CountRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(matrix.Roles), count)

	perms, err := store.FindPermissions(ctx, rbac.RoleTenant)
	require.NoError(t, err)
	seen := make(map[rbac.GrantKey]bool)
	for _, p := range perms {
		assert.False(t, seen[p.Key()], "duplicate %s", p.Key())
		seen[p.Key()] = true
	}
}

func TestAutoInitialize_ConcurrentCallersShareOneRun(t *testing.T) {
	store := newInstrumentedStore()
	store.gate = make(chan struct{})
	b := newBootstrapper(store)

	const callers = 16
	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.AutoInitialize(context.Background(), false) {
				ok.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return store.countCalls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	assert.Equal(t, int32(callers), ok.Load())
	assert.Equal(t, int32(len(rbac.DefaultMatrix().Roles)), store.roleUpserts.Load(), "roles seeded by exactly one run")
}

func TestInitialize_CallerCancellationDoesNotAbortRun(t *testing.T) {
	store := newInstrumentedStore()
	store.gate = make(chan struct{})
	b := newBootstrapper(store)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Initialize(ctx, false) }()

	require.Eventually(t, func() bool { return store.countCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.False(t, b.Ready())

	close(store.gate)
	require.Eventually(t, b.Ready, 2*time.Second, 10*time.Millisecond)
}

func TestAutoInitialize_FailureIsReportedAndRetryable(t *testing.T) {
	store := newInstrumentedStore()
	store.failCount(errors.New("connection refused"))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	b := newBootstrapper(store, WithMetrics(metrics), WithPolicy(PolicyFailClosed))
	ctx := context.Background()

	assert.False(t, b.AutoInitialize(ctx, false))
	assert.False(t, b.Ready())
	assert.ErrorContains(t, b.LastError(), "connection refused")
	assert.False(t, b.FailOpen())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BootstrapRunsTotal.WithLabelValues(resultFailed)))

	err := b.Initialize(ctx, false)
	assert.ErrorContains(t, err, "failed to count roles")

	store.failCount(nil)
	assert.True(t, b.AutoInitialize(ctx, false))
	assert.True(t, b.Ready())
	assert.NoError(t, b.LastError())
}

func TestAutoInitialize_PurgeFailureDoesNotFailSeeding(t *testing.T) {
	b := newBootstrapper(rbac.NewMemoryStore(), WithPurger(&countingPurger{err: errors.New("redis down")}))
	assert.True(t, b.AutoInitialize(context.Background(), false))
}

func TestAutoInitialize_ReseedIsVisibleThroughCache(t *testing.T) {
	ctx := context.Background()
	cached := rbac.NewCachedStore(rbac.NewMemoryStore(), rbac.NewLRUCache(64, time.Minute), getTestLogger(), nil)
	b := New(cached, nil, nil, WithPurger(cached), WithLogger(getTestLogger()))
	require.True(t, b.AutoInitialize(ctx, false))

	evaluator := rbac.NewEvaluator(cached)
	d, err := evaluator.Evaluate(ctx, rbac.RoleTenant, rbac.CategoryReports, "reports", rbac.ActionRead, rbac.EvalContext{})
	require.NoError(t, err)
	assert.Equal(t, rbac.EffectDeny, d.Effect)

	m := rbac.DefaultMatrix()
	m.Grants = append(m.Grants, rbac.GrantDefinition{
		Role: rbac.RoleTenant, Category: rbac.CategoryReports, Resource: "reports", Actions: []rbac.Action{rbac.ActionRead},
	})
	b.SetMatrix(m)
	require.True(t, b.AutoInitialize(ctx, true))

	d, err = evaluator.Evaluate(ctx, rbac.RoleTenant, rbac.CategoryReports, "reports", rbac.ActionRead, rbac.EvalContext{})
	require.NoError(t, err)
	assert.Equal(t, rbac.EffectAllow, d.Effect)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyFailOpen, false},
		{"fail-open", PolicyFailOpen, false},
		{" FAIL-CLOSED ", PolicyFailClosed, false},
		{"closed", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

const smallMatrix = `
roles:
  - {name: TENANT, displayName: Tenant, system: true}
grants:
  - {role: TENANT, category: COMMUNICATIONS, resource: messages, actions: [READ]}
`

func TestWatchMatrixFile_Reseeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matrix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallMatrix), 0o644))

	m, err := rbac.LoadMatrixFile(path)
	require.NoError(t, err)

	store := rbac.NewMemoryStore()
	b := New(store, nil, m, WithLogger(getTestLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.True(t, b.AutoInitialize(ctx, false))
	require.NoError(t, b.WatchMatrixFile(ctx, path))

	updated := smallMatrix + "  - {role: TENANT, category: MAINTENANCE, resource: work_orders, actions: [CREATE]}\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		grants, err := store.FindGrants(context.Background(), rbac.GrantKey{
			Role: rbac.RoleTenant, Category: rbac.CategoryMaintenance, Resource: "work_orders", Action: rbac.ActionCreate,
		})
		return err == nil && len(grants) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("roles: [\n"), 0o644))
	time.Sleep(2 * reloadDelay)
	assert.Len(t, b.Matrix().Grants, 2, "invalid file keeps the previous matrix")
}

func TestWatchMatrixFile_MissingDirectory(t *testing.T) {
	b := newBootstrapper(rbac.NewMemoryStore())
	err := b.WatchMatrixFile(context.Background(), filepath.Join(t.TempDir(), "nope", "matrix.yaml"))
	assert.Error(t, err)
}
