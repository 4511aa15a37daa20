package verification

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/pinaka/pkg/httputil"
	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/platinummonkey/pinaka/pkg/rbac"
	"github.com/sirupsen/logrus"
)

// DefaultPageSize is used by GET /verifications when no limit is given
const DefaultPageSize = 50

// DecisionGuard wraps the verify and reject handlers for one verification.
// It is called after the verification is loaded.
type DecisionGuard func(v *Verification, next http.Handler) http.Handler

// Handlers provides HTTP handlers for verification workflows
type Handlers struct {
	engine *Engine
	guard  DecisionGuard
	logger logrus.FieldLogger
}

// NewHandlers creates new verification handlers
func NewHandlers(engine *Engine, logger logrus.FieldLogger) *Handlers {
	return &Handlers{
		engine: engine,
		logger: observability.OrNop(logger),
	}
}

// WithDecisionGuard installs a guard in front of verify and reject. With a
// guard installed the deciding actor always comes from the principal
// headers.
func (h *Handlers) WithDecisionGuard(guard DecisionGuard) *Handlers {
	h.guard = guard
	return h
}

// RegisterRoutes registers all verification routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/verifications", h.Create).Methods("POST")
	router.HandleFunc("/verifications", h.List).Methods("GET")
	router.HandleFunc("/verifications/{id}", h.Get).Methods("GET")
	router.Handle("/verifications/{id}/verify", h.guarded(h.Verify)).Methods("POST")
	router.Handle("/verifications/{id}/reject", h.guarded(h.Reject)).Methods("POST")
	router.HandleFunc("/verifications/{id}/history", h.History).Methods("GET")
}

func (h *Handlers) guarded(next http.HandlerFunc) http.Handler {
	if h.guard == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := httputil.ParsePathStringOrError(w, r, "id")
		if !ok {
			return
		}
		v, err := h.engine.Get(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.guard(v, next).ServeHTTP(w, r)
	})
}

// DecisionRequest is the body of the verify and reject endpoints. When
// Actor is omitted the principal headers are used.
type DecisionRequest struct {
	Actor  *Party `json:"actor,omitempty"`
	Notes  string `json:"notes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Create opens a verification
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Requester.ID == "" {
		if p, ok := headerParty(r); ok {
			req.Requester = p
		}
	}

	v, err := h.engine.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, v)
}

// List lists verifications. entity_type together with entity_id selects
// every verification of one subject; otherwise the filter parameters apply.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if entityType, entityID := q.Get("entity_type"), q.Get("entity_id"); entityType != "" && entityID != "" {
		list, err := h.engine.ListForEntity(r.Context(), entityType, entityID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeList(w, list)
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", DefaultPageSize)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	dueBefore, err := httputil.ParseQueryTime(r, "due_before")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	list, err := h.engine.List(r.Context(), Filter{
		Status:       Status(q.Get("status")),
		Type:         Type(q.Get("type")),
		AssigneeID:   q.Get("assignee_id"),
		AssigneeRole: rbac.RoleName(q.Get("assignee_role")),
		RequesterID:  q.Get("requester_id"),
		DueBefore:    dueBefore,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeList(w, list)
}

// Get returns one verification
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	v, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, v)
}

// Verify approves a verification
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	id, actor, req, ok := h.parseDecision(w, r)
	if !ok {
		return
	}
	v, err := h.engine.Verify(r.Context(), id, actor, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, v)
}

// Reject declines a verification
func (h *Handlers) Reject(w http.ResponseWriter, r *http.Request) {
	id, actor, req, ok := h.parseDecision(w, r)
	if !ok {
		return
	}
	v, err := h.engine.Reject(r.Context(), id, actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, v)
}

// History returns the audit trail of a verification
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.engine.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	httputil.WriteSuccess(w, entries)
}

func (h *Handlers) parseDecision(w http.ResponseWriter, r *http.Request) (string, Party, DecisionRequest, bool) {
	var req DecisionRequest
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return "", Party{}, req, false
	}
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return "", Party{}, req, false
	}

	var actor Party
	if req.Actor != nil && h.guard == nil {
		actor = *req.Actor
	} else if p, ok := headerParty(r); ok {
		actor = p
	}
	return id, actor, req, true
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httputil.StatusFor(err) >= http.StatusInternalServerError {
		observability.FromContext(r.Context(), h.logger).WithError(err).Error("verification request failed")
	}
	httputil.WriteAppError(w, err)
}

// headerParty builds a party from the principal headers. The first role
// listed is used.
func headerParty(r *http.Request) (Party, bool) {
	p, ok := rbac.HeaderPrincipal(r)
	if !ok {
		return Party{}, false
	}
	party := Party{ID: p.UserID}
	if len(p.Roles) > 0 {
		party.Role = p.Roles[0]
	}
	return party, true
}

func writeList(w http.ResponseWriter, list []Verification) {
	if list == nil {
		list = []Verification{}
	}
	httputil.WriteSuccess(w, list)
}
