package rbac

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/pinaka/pkg/apperr"
	"github.com/platinummonkey/pinaka/pkg/httputil"
	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Handlers provides HTTP handlers for permission matrix operations
type Handlers struct {
	store     MatrixStore
	evaluator *Evaluator
	logger    logrus.FieldLogger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(store MatrixStore, evaluator *Evaluator, logger logrus.FieldLogger) *Handlers {
	return &Handlers{
		store:     store,
		evaluator: evaluator,
		logger:    observability.OrNop(logger),
	}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/rbac/evaluate", h.Evaluate).Methods("POST")
	router.HandleFunc("/rbac/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/rbac/roles/{name}/permissions", h.ListPermissions).Methods("GET")
}

// EvaluateRequest is the body of POST /rbac/evaluate. Either Role or
// Principal must be set.
type EvaluateRequest struct {
	Role      RoleName    `json:"role,omitempty"`
	Principal *Principal  `json:"principal,omitempty"`
	Category  Category    `json:"category"`
	Resource  string      `json:"resource"`
	Action    Action      `json:"action"`
	Context   EvalContext `json:"context"`
}

// Evaluate decides a single permission
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Role == "" && req.Principal == nil {
		httputil.WriteAppError(w, apperr.Validation("role", "role or principal is required"))
		return
	}
	if req.Resource == "" {
		httputil.WriteAppError(w, apperr.Validation("resource", "is required"))
		return
	}

	var decision Decision
	var err error
	if req.Principal != nil {
		decision, err = h.evaluator.EvaluatePrincipal(r.Context(), *req.Principal, req.Category, req.Resource, req.Action, req.Context)
	} else {
		decision, err = h.evaluator.Evaluate(r.Context(), req.Role, req.Category, req.Resource, req.Action, req.Context)
	}
	if err != nil {
		observability.FromContext(r.Context(), h.logger).WithError(err).Error("permission evaluation failed")
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, decision)
}

// ListRoles lists every persisted role
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httputil.WriteSuccess(w, roles)
}

// ListPermissions lists the matrix entries of one role
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}

	perms, err := h.store.FindPermissions(r.Context(), RoleName(name))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if perms == nil {
		perms = []RolePermission{}
	}
	httputil.WriteSuccess(w, perms)
}
