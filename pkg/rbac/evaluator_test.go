package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/platinummonkey/pinaka/pkg/apperr"
	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeededEvaluator(t *testing.T, opts ...EvaluatorOption) *Evaluator {
	store := NewMemoryStore()
	seedMatrix(t, store, DefaultMatrix())
	return NewEvaluator(store, opts...)
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestEvaluator_Scenarios(t *testing.T) {
	eval := newSeededEvaluator(t, WithThresholds(map[string]float64{"bigExpense": 1000}))
	ctx := context.Background()

	tests := []struct {
		name     string
		role     RoleName
		category Category
		resource string
		action   Action
		ec       EvalContext
		want     Effect
	}{
		{
			name: "tenant updates own work order", role: RoleTenant,
			category: CategoryMaintenance, resource: "work_orders", action: ActionUpdate,
			ec:   EvalContext{RequesterID: "t1", TargetOwnerID: "t1"},
			want: EffectAllow,
		},
		{
			name: "tenant updates someone else's work order", role: RoleTenant,
			category: CategoryMaintenance, resource: "work_orders", action: ActionUpdate,
			ec:   EvalContext{RequesterID: "t1", TargetOwnerID: "t2"},
			want: EffectDeny,
		},
		{
			name: "ownership without a target owner", role: RoleTenant,
			category: CategoryMaintenance, resource: "work_orders", action: ActionUpdate,
			ec:   EvalContext{RequesterID: "t1"},
			want: EffectDeny,
		},
		{
			name: "tenant deletes a work order", role: RoleTenant,
			category: CategoryMaintenance, resource: "work_orders", action: ActionDelete,
			ec:   EvalContext{RequesterID: "t1", TargetOwnerID: "t1"},
			want: EffectDeny,
		},
		{
			name: "manager inside property scope", role: RolePropertyManager,
			category: CategoryProperties, resource: "properties", action: ActionUpdate,
			ec: EvalContext{
				GrantedScopes: map[ScopeLevel][]string{ScopeProperty: {"p1", "p2"}},
				TargetScope:   map[ScopeLevel]string{ScopeProperty: "p2"},
			},
			want: EffectAllow,
		},
		{
			name: "manager outside property scope", role: RolePropertyManager,
			category: CategoryProperties, resource: "properties", action: ActionUpdate,
			ec: EvalContext{
				GrantedScopes: map[ScopeLevel][]string{ScopeProperty: {"p1"}},
				TargetScope:   map[ScopeLevel]string{ScopeProperty: "p9"},
			},
			want: EffectDeny,
		},
		{
			name: "manager without target scope", role: RolePropertyManager,
			category: CategoryProperties, resource: "properties", action: ActionUpdate,
			ec:   EvalContext{GrantedScopes: map[ScopeLevel][]string{ScopeProperty: {"p1"}}},
			want: EffectDeny,
		},
		{
			name: "manager creates a lease", role: RolePropertyManager,
			category: CategoryLeases, resource: "leases", action: ActionCreate,
			want: EffectRequiresApproval,
		},
		{
			name: "small expense", role: RolePropertyManager,
			category: CategoryFinancial, resource: "expenses", action: ActionCreate,
			ec:   EvalContext{Values: map[string]float64{"amount": 999.99}},
			want: EffectAllow,
		},
		{
			name: "expense at the limit", role: RolePropertyManager,
			category: CategoryFinancial, resource: "expenses", action: ActionCreate,
			ec:   EvalContext{Values: map[string]float64{"amount": 1000}},
			want: EffectRequiresApproval,
		},
		{
			name: "expense without amount", role: RolePropertyManager,
			category: CategoryFinancial, resource: "expenses", action: ActionCreate,
			want: EffectRequiresApproval,
		},
		{
			name: "configured threshold overrides the grant limit", role: RolePMCAdmin,
			category: CategoryFinancial, resource: "expenses", action: ActionCreate,
			ec:   EvalContext{Values: map[string]float64{"amount": 2000}},
			want: EffectRequiresApproval,
		},
		{
			name: "vendor inside working hours", role: RoleVendor,
			category: CategoryMaintenance, resource: "work_orders", action: ActionUpdate,
			ec:   EvalContext{RequesterID: "v1", TargetOwnerID: "v1", Now: at(10, 0)},
			want: EffectAllow,
		},
		{
			name: "vendor after hours", role: RoleVendor,
			category: CategoryMaintenance, resource: "work_orders", action: ActionUpdate,
			ec:   EvalContext{RequesterID: "v1", TargetOwnerID: "v1", Now: at(23, 30)},
			want: EffectDeny,
		},
		{
			name: "vendor invoice needs approval", role: RoleVendor,
			category: CategoryFinancial, resource: "invoices", action: ActionCreate,
			ec:   EvalContext{RequesterID: "v1", TargetOwnerID: "v1"},
			want: EffectRequiresApproval,
		},
		{
			name: "vendor invoice for someone else", role: RoleVendor,
			category: CategoryFinancial, resource: "invoices", action: ActionCreate,
			ec:   EvalContext{RequesterID: "v1", TargetOwnerID: "v2"},
			want: EffectDeny,
		},
		{
			name: "unknown role", role: "JANITOR",
			category: CategoryMaintenance, resource: "work_orders", action: ActionRead,
			want: EffectDeny,
		},
		{
			name: "unknown resource", role: RoleSuperAdmin,
			category: CategoryUsers, resource: "spaceships", action: ActionRead,
			want: EffectDeny,
		},
		{
			name: "unconditioned grant", role: RoleAccountant,
			category: CategoryFinancial, resource: "ledgers", action: ActionExport,
			want: EffectAllow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := eval.Evaluate(ctx, tt.role, tt.category, tt.resource, tt.action, tt.ec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Effect, d.Reason)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestEvaluator_ApprovalTimeout(t *testing.T) {
	eval := newSeededEvaluator(t)

	d, err := eval.Evaluate(context.Background(), RolePropertyManager, CategoryLeases, "leases", ActionCreate, EvalContext{})
	require.NoError(t, err)
	assert.Equal(t, EffectRequiresApproval, d.Effect)
	assert.Equal(t, 72*time.Hour, d.ApprovalTimeout)
	require.Len(t, d.Matched, 1)
	assert.Equal(t, "leases", d.Matched[0].Resource)
}

func TestEvaluator_GrantLimitFallback(t *testing.T) {
	eval := newSeededEvaluator(t)
	ctx := context.Background()

	d, err := eval.Evaluate(ctx, RolePMCAdmin, CategoryFinancial, "expenses", ActionCreate, EvalContext{Values: map[string]float64{"amount": 4999}})
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, d.Effect)

	d, err = eval.Evaluate(ctx, RolePMCAdmin, CategoryFinancial, "expenses", ActionCreate, EvalContext{Values: map[string]float64{"amount": 5000}})
	require.NoError(t, err)
	assert.Equal(t, EffectRequiresApproval, d.Effect)

	// No configured limit and none on the grant
	d, err = eval.Evaluate(ctx, RolePropertyManager, CategoryFinancial, "expenses", ActionCreate, EvalContext{Values: map[string]float64{"amount": 1}})
	require.NoError(t, err)
	assert.Equal(t, EffectRequiresApproval, d.Effect)
}

func TestEvaluator_UnconditionedGrantTakesPrecedence(t *testing.T) {
	eval := NewEvaluator(NewMemoryStore())

	grants := []RolePermission{
		{Role: RolePropertyManager, Conditions: Conditions{CondScopeRestriction: "property"}},
		{Role: RolePMCAdmin},
		{Role: RoleVendor, Conditions: Conditions{CondRequiresApproval: true}},
	}
	d := eval.decide(grants, EvalContext{Now: at(12, 0)})
	assert.Equal(t, EffectAllow, d.Effect)
	require.Len(t, d.Matched, 1)
	assert.Equal(t, RolePMCAdmin, d.Matched[0].Role)
}

func TestEvaluator_CombinesConditionedGrants(t *testing.T) {
	eval := NewEvaluator(NewMemoryStore())
	ec := EvalContext{RequesterID: "u1", TargetOwnerID: "u2", Now: at(12, 0)}

	deny := RolePermission{Role: RoleTenant, Conditions: Conditions{CondOwnOnly: true}}
	approvalLong := RolePermission{Role: RoleVendor, Conditions: Conditions{CondRequiresApproval: true, CondApprovalTimeout: 14}}
	approvalShort := RolePermission{Role: RolePropertyManager, Conditions: Conditions{CondRequiresApproval: true, CondApprovalTimeout: 3}}
	inert := RolePermission{Role: RoleAccountant, Conditions: Conditions{"auditTag": "q3"}}

	d := eval.decide([]RolePermission{deny, approvalLong, approvalShort}, ec)
	assert.Equal(t, EffectRequiresApproval, d.Effect)
	assert.Equal(t, 72*time.Hour, d.ApprovalTimeout)

	d = eval.decide([]RolePermission{deny, approvalLong, inert}, ec)
	assert.Equal(t, EffectAllow, d.Effect, "unknown condition keys are inert")

	d = eval.decide([]RolePermission{deny}, ec)
	assert.Equal(t, EffectDeny, d.Effect)
}

func TestEvaluator_EvaluatePrincipalPoolsRoles(t *testing.T) {
	eval := newSeededEvaluator(t)
	ctx := context.Background()
	outOfScope := EvalContext{
		GrantedScopes: map[ScopeLevel][]string{ScopeProperty: {"p1"}},
		TargetScope:   map[ScopeLevel]string{ScopeProperty: "p9"},
	}

	d, err := eval.EvaluatePrincipal(ctx, Principal{UserID: "u1", Roles: []RoleName{RolePropertyManager}},
		CategoryProperties, "properties", ActionUpdate, outOfScope)
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, d.Effect)

	d, err = eval.EvaluatePrincipal(ctx, Principal{UserID: "u1", Roles: []RoleName{RolePropertyManager, RolePMCAdmin}},
		CategoryProperties, "properties", ActionUpdate, outOfScope)
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, d.Effect)

	// The principal's user id stands in for the requester
	d, err = eval.EvaluatePrincipal(ctx, Principal{UserID: "t1", Roles: []RoleName{RoleTenant}},
		CategoryMaintenance, "work_orders", ActionRead, EvalContext{TargetOwnerID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, d.Effect)

	d, err = eval.EvaluatePrincipal(ctx, Principal{UserID: "t1"}, CategoryMaintenance, "work_orders", ActionRead, EvalContext{})
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, d.Effect)
}

type brokenFinder struct{ err error }

func (b brokenFinder) FindGrants(context.Context, GrantKey) ([]RolePermission, error) {
	return nil, b.err
}

func TestEvaluator_StorageErrorIsReturned(t *testing.T) {
	eval := NewEvaluator(brokenFinder{err: apperr.Storage("find grants", errors.New("db down"))})

	_, err := eval.Evaluate(context.Background(), RoleTenant, CategoryLeases, "leases", ActionRead, EvalContext{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStorage)
}

func TestEvaluator_RecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	eval := newSeededEvaluator(t, WithEvaluatorMetrics(metrics), WithEvaluatorLogger(getTestLogger()))
	ctx := context.Background()

	_, err := eval.Evaluate(ctx, RoleAccountant, CategoryFinancial, "ledgers", ActionRead, EvalContext{})
	require.NoError(t, err)
	_, err = eval.Evaluate(ctx, RoleTenant, CategoryFinancial, "ledgers", ActionRead, EvalContext{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EvaluationsTotal.WithLabelValues("ALLOW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EvaluationsTotal.WithLabelValues("DENY")))
}

func TestEvaluator_ClockUsedWhenContextHasNoTime(t *testing.T) {
	late := func() time.Time { return at(3, 0) }
	eval := newSeededEvaluator(t, WithClock(late))

	d, err := eval.Evaluate(context.Background(), RoleVendor, CategoryMaintenance, "work_orders", ActionRead,
		EvalContext{RequesterID: "v1", TargetOwnerID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, d.Effect)
}

func TestWithinWindow(t *testing.T) {
	tests := []struct {
		window string
		zone   string
		now    time.Time
		want   bool
	}{
		{"06:00-22:00", "", at(6, 0), true},
		{"06:00-22:00", "", at(22, 0), false},
		{"22:00-06:00", "", at(23, 15), true},
		{"22:00-06:00", "", at(5, 59), true},
		{"22:00-06:00", "", at(12, 0), false},
		{"09:00-17:00", "America/New_York", at(15, 0), true},
		{"09:00-17:00", "America/New_York", at(23, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.window+" "+tt.zone, func(t *testing.T) {
			got, err := withinWindow(tt.window, tt.zone, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := withinWindow("all day", "", at(1, 0))
	assert.Error(t, err)
	_, err = withinWindow("09:00-17:00", "Mars/Olympus", at(1, 0))
	assert.Error(t, err)
}

func TestEvaluator_InvalidWindowDenies(t *testing.T) {
	eval := NewEvaluator(NewMemoryStore(), WithEvaluatorLogger(getTestLogger()))
	d := eval.decide([]RolePermission{{Conditions: Conditions{CondTimeWindow: "whenever"}}}, EvalContext{Now: at(1, 0)})
	assert.Equal(t, EffectDeny, d.Effect)
}
