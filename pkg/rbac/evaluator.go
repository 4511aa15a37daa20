package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GrantFinder is the read side of a MatrixStore used by the evaluator
type GrantFinder interface {
	FindGrants(ctx context.Context, key GrantKey) ([]RolePermission, error)
}

// Evaluator decides whether a role may perform an action on a resource
type Evaluator struct {
	store      GrantFinder
	thresholds map[string]float64
	logger     logrus.FieldLogger
	metrics    *observability.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithThresholds sets named limits used by threshold conditions. A named
// limit takes precedence over the grant's own thresholdLimit.
func WithThresholds(thresholds map[string]float64) EvaluatorOption {
	return func(e *Evaluator) {
		for name, limit := range thresholds {
			e.thresholds[name] = limit
		}
	}
}

// WithEvaluatorLogger sets the logger
func WithEvaluatorLogger(logger logrus.FieldLogger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = observability.OrNop(logger) }
}

// WithEvaluatorMetrics sets the metrics sink
func WithEvaluatorMetrics(metrics *observability.Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = metrics }
}

// WithClock overrides the time source used for time windows when the
// context carries no Now
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an evaluator over store
func NewEvaluator(store GrantFinder, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		store:      store,
		thresholds: make(map[string]float64),
		logger:     observability.NopLogger(),
		tracer:     observability.Tracer("pinaka/rbac"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides a single role's access. Unknown roles and resources are
// DENY. Storage failures are returned as errors.
func (e *Evaluator) Evaluate(ctx context.Context, role RoleName, category Category, resource string, action Action, ec EvalContext) (Decision, error) {
	return e.evaluate(ctx, []RoleName{role}, category, resource, action, ec)
}

// EvaluatePrincipal decides access for every role a principal holds. Grants
// from all roles are pooled before combining.
func (e *Evaluator) EvaluatePrincipal(ctx context.Context, p Principal, category Category, resource string, action Action, ec EvalContext) (Decision, error) {
	if ec.RequesterID == "" {
		ec.RequesterID = p.UserID
	}
	return e.evaluate(ctx, p.Roles, category, resource, action, ec)
}

func (e *Evaluator) evaluate(ctx context.Context, roles []RoleName, category Category, resource string, action Action, ec EvalContext) (Decision, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "rbac.Evaluate", trace.WithAttributes(
		attribute.String("rbac.category", string(category)),
		attribute.String("rbac.resource", resource),
		attribute.String("rbac.action", string(action)),
	))
	defer span.End()

	var grants []RolePermission
	for _, role := range roles {
		found, err := e.store.FindGrants(ctx, GrantKey{Role: role, Category: category, Resource: resource, Action: action})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "grant lookup failed")
			e.metrics.RecordStorageError("rbac", "find_grants")
			return Decision{}, err
		}
		grants = append(grants, found...)
	}

	if ec.Now.IsZero() {
		ec.Now = e.now()
	}
	decision := e.decide(grants, ec)

	span.SetAttributes(attribute.String("rbac.effect", string(decision.Effect)))
	e.metrics.RecordEvaluation(string(decision.Effect), string(category), time.Since(start))
	e.logger.WithFields(logrus.Fields{
		"roles":    roles,
		"category": category,
		"resource": resource,
		"action":   action,
		"effect":   decision.Effect,
	}).Debug(decision.Reason)

	return decision, nil
}

func (e *Evaluator) decide(grants []RolePermission, ec EvalContext) Decision {
	if len(grants) == 0 {
		return Decision{Effect: EffectDeny, Reason: "no matching grant"}
	}

	for _, g := range grants {
		if g.Conditions.Empty() {
			return Decision{Effect: EffectAllow, Reason: "unconditioned grant", Matched: []RolePermission{g}}
		}
	}

	var approval *Decision
	var denied []string
	for _, g := range grants {
		d := e.decideGrant(g, ec)
		switch d.Effect {
		case EffectAllow:
			return d
		case EffectRequiresApproval:
			if approval == nil {
				approval = &d
			} else if d.ApprovalTimeout > 0 && (approval.ApprovalTimeout == 0 || d.ApprovalTimeout < approval.ApprovalTimeout) {
				approval.ApprovalTimeout = d.ApprovalTimeout
			}
		default:
			denied = append(denied, d.Reason)
		}
	}

	if approval != nil {
		return *approval
	}
	return Decision{Effect: EffectDeny, Reason: strings.Join(denied, "; ")}
}

func (e *Evaluator) decideGrant(g RolePermission, ec EvalContext) Decision {
	c := g.Conditions
	matched := []RolePermission{g}

	if c.Bool(CondOwnOnly) {
		if ec.RequesterID == "" || ec.TargetOwnerID == "" || ec.RequesterID != ec.TargetOwnerID {
			return Decision{Effect: EffectDeny, Reason: "requester does not own the target", Matched: matched}
		}
	}

	if level, ok := c.String(CondScopeRestriction); ok {
		if !inScope(ScopeLevel(level), ec) {
			return Decision{Effect: EffectDeny, Reason: fmt.Sprintf("target outside granted %s scope", level), Matched: matched}
		}
	}

	if window, ok := c.String(CondTimeWindow); ok {
		zone, _ := c.String(CondTimeZone)
		inside, err := withinWindow(window, zone, ec.Now)
		if err != nil {
			e.logger.WithError(err).WithField("grant", g.Key().String()).Warn("invalid time window condition")
			return Decision{Effect: EffectDeny, Reason: "invalid time window", Matched: matched}
		}
		if !inside {
			return Decision{Effect: EffectDeny, Reason: "outside permitted time window", Matched: matched}
		}
	}

	if c.Bool(CondRequiresApproval) {
		d := Decision{Effect: EffectRequiresApproval, Reason: "grant requires approval", Matched: matched}
		if days, ok := c.Number(CondApprovalTimeout); ok && days > 0 {
			d.ApprovalTimeout = time.Duration(days * float64(24*time.Hour))
		}
		return d
	}

	if name, ok := c.String(CondThreshold); ok {
		return e.decideThreshold(name, c, ec, matched)
	}

	return Decision{Effect: EffectAllow, Reason: "conditions satisfied", Matched: matched}
}

func (e *Evaluator) decideThreshold(name string, c Conditions, ec EvalContext, matched []RolePermission) Decision {
	limit, ok := e.thresholds[name]
	if !ok {
		limit, ok = c.Number(CondThresholdLimit)
	}
	if !ok {
		return Decision{Effect: EffectRequiresApproval, Reason: fmt.Sprintf("no limit configured for threshold %s", name), Matched: matched}
	}

	field, ok := c.String(CondThresholdField)
	if !ok {
		field = name
	}
	value, ok := ec.Values[field]
	if !ok {
		return Decision{Effect: EffectRequiresApproval, Reason: fmt.Sprintf("missing value %s for threshold %s", field, name), Matched: matched}
	}

	if value < limit {
		return Decision{Effect: EffectAllow, Reason: fmt.Sprintf("%s below threshold %s", field, name), Matched: matched}
	}
	return Decision{Effect: EffectRequiresApproval, Reason: fmt.Sprintf("%s at or above threshold %s", field, name), Matched: matched}
}

func inScope(level ScopeLevel, ec EvalContext) bool {
	target, ok := ec.TargetScope[level]
	if !ok || target == "" {
		return false
	}
	for _, id := range ec.GrantedScopes[level] {
		if id == target {
			return true
		}
	}
	return false
}

// withinWindow reports whether now falls in "HH:MM-HH:MM". Windows that
// wrap past midnight are supported.
func withinWindow(window, zone string, now time.Time) (bool, error) {
	parts := strings.SplitN(window, "-", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("malformed time window %q", window)
	}
	start, err := time.Parse("15:04", strings.TrimSpace(parts[0]))
	if err != nil {
		return false, fmt.Errorf("malformed window start %q: %w", parts[0], err)
	}
	end, err := time.Parse("15:04", strings.TrimSpace(parts[1]))
	if err != nil {
		return false, fmt.Errorf("malformed window end %q: %w", parts[1], err)
	}

	if zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return false, fmt.Errorf("unknown time zone %q: %w", zone, err)
		}
		now = now.In(loc)
	}

	minute := now.Hour()*60 + now.Minute()
	from := start.Hour()*60 + start.Minute()
	to := end.Hour()*60 + end.Minute()
	if from <= to {
		return minute >= from && minute < to, nil
	}
	return minute >= from || minute < to, nil
}
