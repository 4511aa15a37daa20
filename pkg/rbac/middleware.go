package rbac

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/pinaka/pkg/httputil"
	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Gateway headers read by HeaderPrincipal
const (
	HeaderUserID           = "X-Pinaka-User-Id"
	HeaderRole             = "X-Pinaka-Role"
	HeaderApprovalRequired = "X-Pinaka-Approval-Required"
)

// PrincipalFunc extracts the trusted principal from a request. It returns
// false when the request carries none.
type PrincipalFunc func(r *http.Request) (Principal, bool)

// ContextFunc builds the evaluation context for a request
type ContextFunc func(r *http.Request, p Principal) EvalContext

// Readiness reports whether the permission matrix has been initialized
type Readiness interface {
	Ready() bool
}

// HeaderPrincipal reads the principal from gateway headers. Several roles
// may be given comma separated.
func HeaderPrincipal(r *http.Request) (Principal, bool) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return Principal{}, false
	}
	var roles []RoleName
	for _, role := range strings.Split(r.Header.Get(HeaderRole), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, RoleName(role))
		}
	}
	if len(roles) == 0 {
		return Principal{}, false
	}
	return Principal{UserID: userID, Roles: roles}, true
}

type decisionKey struct{}

// DecisionFromContext returns the decision stored by RequirePermission
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}

// PermissionMiddleware guards handlers with matrix evaluations
type PermissionMiddleware struct {
	evaluator *Evaluator
	principal PrincipalFunc
	readiness Readiness
	failOpen  bool
	logger    logrus.FieldLogger
}

// MiddlewareOption configures a PermissionMiddleware
type MiddlewareOption func(*PermissionMiddleware)

// WithPrincipalFunc replaces the header-based principal extraction
func WithPrincipalFunc(fn PrincipalFunc) MiddlewareOption {
	return func(pm *PermissionMiddleware) { pm.principal = fn }
}

// WithReadiness sets the readiness source and what to do while it reports
// not ready: pass requests through when failOpen is true, answer 503
// otherwise.
func WithReadiness(r Readiness, failOpen bool) MiddlewareOption {
	return func(pm *PermissionMiddleware) {
		pm.readiness = r
		pm.failOpen = failOpen
	}
}

// WithMiddlewareLogger sets the logger
func WithMiddlewareLogger(logger logrus.FieldLogger) MiddlewareOption {
	return func(pm *PermissionMiddleware) { pm.logger = observability.OrNop(logger) }
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(evaluator *Evaluator, opts ...MiddlewareOption) *PermissionMiddleware {
	pm := &PermissionMiddleware{
		evaluator: evaluator,
		principal: HeaderPrincipal,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

// RequirePermission creates middleware that requires the principal to be
// allowed the action. REQUIRES_APPROVAL is answered with 403 and the
// approval header so the caller can open a verification instead.
func (pm *PermissionMiddleware) RequirePermission(category Category, resource string, action Action, contextFn ContextFunc) func(http.Handler) http.Handler {
	return pm.RequireAnyPermission(category, []string{resource}, action, contextFn)
}

// RequireAnyPermission is RequirePermission over several resources. The
// first ALLOW wins; otherwise any REQUIRES_APPROVAL beats DENY.
func (pm *PermissionMiddleware) RequireAnyPermission(category Category, resources []string, action Action, contextFn ContextFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := observability.FromContext(r.Context(), pm.logger).WithFields(logrus.Fields{
				"category":  category,
				"resources": resources,
				"action":    action,
			})

			if pm.readiness != nil && !pm.readiness.Ready() {
				if pm.failOpen {
					logger.Warn("permission matrix not initialized, allowing request")
					next.ServeHTTP(w, r)
					return
				}
				httputil.WriteServiceUnavailable(w, "permission matrix not initialized")
				return
			}

			principal, ok := pm.principal(r)
			if !ok {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			var ec EvalContext
			if contextFn != nil {
				ec = contextFn(r, principal)
			}

			var decision Decision
			var approval *Decision
			for _, resource := range resources {
				d, err := pm.evaluator.EvaluatePrincipal(r.Context(), principal, category, resource, action, ec)
				if err != nil {
					logger.WithError(err).Error("permission check failed")
					httputil.WriteAppError(w, err)
					return
				}
				decision = d
				if d.Allowed() {
					break
				}
				if d.Effect == EffectRequiresApproval && approval == nil {
					approval = &d
				}
			}
			if !decision.Allowed() && approval != nil {
				decision = *approval
			}

			switch decision.Effect {
			case EffectAllow:
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey{}, decision)))
			case EffectRequiresApproval:
				w.Header().Set(HeaderApprovalRequired, "true")
				httputil.WriteJSON(w, http.StatusForbidden, decision)
			default:
				httputil.WriteForbidden(w, "Insufficient permissions")
			}
		})
	}
}
