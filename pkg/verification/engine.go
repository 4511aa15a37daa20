package verification

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/pinaka/pkg/apperr"
	"github.com/platinummonkey/pinaka/pkg/async"
	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultListenerTimeout bounds a single listener call
const DefaultListenerTimeout = 30 * time.Second

var defaultTitles = map[Type]string{
	TypePropertyOwnership: "Property ownership verification",
	TypeTenantDocument:    "Tenant document review",
	TypeApplication:       "Rental application review",
	TypeEntityApproval:    "Account approval",
	TypeFinancialApproval: "Financial approval",
	TypeInspection:        "Inspection review",
}

// Listener is notified after a verification is created or decided. It runs
// on its own goroutine and its error is only logged.
type Listener func(ctx context.Context, event Event) error

// Engine runs the verification state machine
type Engine struct {
	store           Store
	resolver        AssigneeResolver
	listeners       []Listener
	listenerTimeout time.Duration
	logger          logrus.FieldLogger
	metrics         *observability.Metrics
	tracer          trace.Tracer
	now             func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithResolver sets how assignees are picked when a request names none
func WithResolver(r AssigneeResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithListener adds a transition listener
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// WithListenerTimeout overrides DefaultListenerTimeout
func WithListenerTimeout(d time.Duration) Option {
	return func(e *Engine) { e.listenerTimeout = d }
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) { e.logger = observability.OrNop(logger) }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a workflow engine over store
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		listenerTimeout: DefaultListenerTimeout,
		logger:          observability.NopLogger(),
		tracer:          observability.Tracer("pinaka/verification"),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create opens a PENDING verification for a subject entity
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Verification, error) {
	ctx, span := e.tracer.Start(ctx, "verification.Create", trace.WithAttributes(
		attribute.String("verification.type", string(req.Type)),
		attribute.String("verification.entity_type", req.EntityType),
	))
	defer span.End()

	v, err := e.create(ctx, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("verification.id", v.ID))
	return v, nil
}

func (e *Engine) create(ctx context.Context, req *CreateRequest) (*Verification, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	existing, err := e.store.FindByEntity(ctx, req.Type, req.EntityType, req.EntityID)
	if err == nil {
		return nil, &apperr.DuplicateError{Key: existing.Key()}
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, e.storageFailure("find_by_entity", err)
	}

	assignee := clonePartyPtr(req.Assignee)
	if assignee == nil && e.resolver != nil {
		if assignee, err = e.resolver.Resolve(ctx, req); err != nil {
			return nil, e.storageFailure("resolve_assignee", apperr.Storage("resolve assignee", err))
		}
	}

	now := e.now().UTC()
	v := &Verification{
		ID:          uuid.NewString(),
		Type:        req.Type,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		Requester:   req.Requester,
		Assignee:    assignee,
		Title:       req.Title,
		Description: req.Description,
		Notes:       req.Notes,
		Metadata:    req.Metadata.clone(),
		Priority:    req.Priority,
		DueDate:     cloneTimePtr(req.DueDate),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Attachment != nil {
		a := *req.Attachment
		v.Attachment = &a
	}
	if v.Title == "" {
		v.Title = defaultTitles[req.Type]
	}
	if v.Priority == "" {
		v.Priority = PriorityNormal
	}
	if v.DueDate == nil && req.ApprovalTimeout > 0 {
		due := now.Add(req.ApprovalTimeout)
		v.DueDate = &due
	}

	entry := &HistoryEntry{
		Action:    ActionCreated,
		Actor:     req.Requester,
		NewStatus: StatusPending,
		Note:      req.Notes,
		CreatedAt: now,
	}
	if err := e.store.Create(ctx, v, entry); err != nil {
		return nil, e.storageFailure("create", err)
	}

	e.metrics.RecordTransition(string(v.Type), string(ActionCreated))
	e.logger.WithFields(logrus.Fields{
		"verification_id": v.ID,
		"type":            v.Type,
		"entity_type":     v.EntityType,
		"entity_id":       v.EntityID,
		"assignee":        assigneeLabel(v.Assignee),
	}).Info("verification created")

	e.notify(ctx, Event{Action: ActionCreated, Verification: *cloneVerification(v), Entry: *entry})
	return v, nil
}

// Verify approves a PENDING verification
func (e *Engine) Verify(ctx context.Context, id string, verifier Party, notes string) (*Verification, error) {
	return e.transition(ctx, Transition{ID: id, To: StatusVerified, Actor: verifier, Notes: notes})
}

// Reject declines a PENDING verification. reason is mandatory.
func (e *Engine) Reject(ctx context.Context, id string, rejecter Party, reason string) (*Verification, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("reason", "is required to reject a verification")
	}
	return e.transition(ctx, Transition{ID: id, To: StatusRejected, Actor: rejecter, Reason: reason})
}

func (e *Engine) transition(ctx context.Context, t Transition) (*Verification, error) {
	if t.ID == "" {
		return nil, apperr.Validation("id", "is required")
	}
	if t.Actor.Empty() {
		return nil, apperr.Validation("actor", "is required")
	}

	ctx, span := e.tracer.Start(ctx, "verification.Transition", trace.WithAttributes(
		attribute.String("verification.id", t.ID),
		attribute.String("verification.to", string(t.To)),
	))
	defer span.End()

	t.At = e.now().UTC()
	v, entry, err := e.store.Transition(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		if errors.Is(err, apperr.ErrInvalidState) {
			e.logger.WithField("verification_id", t.ID).WithError(err).Warn("transition refused")
		}
		return nil, e.storageFailure("transition", err)
	}

	e.metrics.RecordTransition(string(v.Type), string(entry.Action))
	e.logger.WithFields(logrus.Fields{
		"verification_id": v.ID,
		"type":            v.Type,
		"status":          v.Status,
		"actor":           t.Actor.ID,
	}).Info("verification decided")

	e.notify(ctx, Event{Action: entry.Action, Verification: *cloneVerification(v), Entry: *entry})
	return v, nil
}

// Get returns a verification by id
func (e *Engine) Get(ctx context.Context, id string) (*Verification, error) {
	v, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, e.storageFailure("get", err)
	}
	return v, nil
}

// FindForEntity returns the verification of one subject and flow
func (e *Engine) FindForEntity(ctx context.Context, t Type, entityType, entityID string) (*Verification, error) {
	v, err := e.store.FindByEntity(ctx, t, entityType, entityID)
	if err != nil {
		return nil, e.storageFailure("find_by_entity", err)
	}
	return v, nil
}

// ListForEntity returns every verification of one subject
func (e *Engine) ListForEntity(ctx context.Context, entityType, entityID string) ([]Verification, error) {
	list, err := e.store.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, e.storageFailure("list_by_entity", err)
	}
	return list, nil
}

// History returns the audit trail of a verification. Unknown ids are
// NotFoundError.
func (e *Engine) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	if _, err := e.store.Get(ctx, id); err != nil {
		return nil, e.storageFailure("get", err)
	}
	entries, err := e.store.History(ctx, id)
	if err != nil {
		return nil, e.storageFailure("history", err)
	}
	return entries, nil
}

// List returns verifications matching f
func (e *Engine) List(ctx context.Context, f Filter) ([]Verification, error) {
	list, err := e.store.List(ctx, f)
	if err != nil {
		return nil, e.storageFailure("list", err)
	}
	return list, nil
}

func (e *Engine) notify(ctx context.Context, event Event) {
	if len(e.listeners) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, l := range e.listeners {
		async.SafeGo(detached, e.logger, e.listenerTimeout, "verification listener", func(ctx context.Context) error {
			return l(ctx, event)
		})
	}
}

// storageFailure counts storage errors and passes every error through
func (e *Engine) storageFailure(op string, err error) error {
	if errors.Is(err, apperr.ErrStorage) {
		e.metrics.RecordStorageError("verification", op)
		e.logger.WithError(err).WithField("operation", op).Error("verification storage failure")
	}
	return err
}

func validateCreate(req *CreateRequest) error {
	if !req.Type.Valid() {
		return apperr.Validation("verification_type", "unknown type %q", req.Type)
	}
	if req.EntityType == "" {
		return apperr.Validation("entity_type", "is required")
	}
	if req.EntityID == "" {
		return apperr.Validation("entity_id", "is required")
	}
	if req.Requester.ID == "" {
		return apperr.Validation("requester.id", "is required")
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return apperr.Validation("priority", "unknown priority %q", req.Priority)
	}
	if a := req.Attachment; a != nil && (a.FileName == "" || a.FileURL == "") {
		return apperr.Validation("attachment", "file name and url are required")
	}
	if req.ApprovalTimeout < 0 {
		return apperr.Validation("approval_timeout", "must not be negative")
	}
	return nil
}

func assigneeLabel(p *Party) string {
	switch {
	case p == nil:
		return "none"
	case p.ID == "":
		return "role:" + string(p.Role)
	default:
		return p.ID
	}
}
