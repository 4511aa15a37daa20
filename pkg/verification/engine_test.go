package verification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/pinaka/pkg/apperr"
	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/platinummonkey/pinaka/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirectory() *StaticDirectory {
	return NewStaticDirectory().
		AddLandlord(landlord.ID, landlord.Name, "lee@example.com").
		AddLandlord("landlord-2", "Indie Owner", "").
		AddPMC(pmcAdmin.ID, pmcAdmin.Name, "ops@acme.example.com").
		AddRelationship("rel-1", pmcAdmin.ID, landlord.ID, RelationshipActive).
		AddRelationship("rel-2", pmcAdmin.ID, "landlord-2", "TERMINATED").
		AddProperty("prop-1", landlord.ID).
		AddProperty("prop-2", "landlord-2").
		AddTenant(tenant.ID, "prop-1", &Party{ID: landlord.ID, Role: rbac.RoleOwnerLandlord}).
		AddTenant("tenant-2", "prop-2", &Party{ID: pmcAdmin.ID, Role: rbac.RolePMCAdmin})
}

func TestEngine_CreateDefaults(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			clock := newStepClock()
			engine := NewEngine(newStore(), WithClock(clock.Now), WithLogger(getTestLogger()))

			req := documentRequest("doc-1")
			req.ApprovalTimeout = 72 * time.Hour
			v, err := engine.Create(context.Background(), req)
			require.NoError(t, err)

			assert.NotEmpty(t, v.ID)
			assert.Equal(t, StatusPending, v.Status)
			assert.Equal(t, PriorityNormal, v.Priority)
			assert.Equal(t, "Tenant document review", v.Title)
			assert.Nil(t, v.Assignee, "no resolver configured")
			require.NotNil(t, v.DueDate)
			assert.Equal(t, 72*time.Hour, v.DueDate.Sub(v.CreatedAt))

			history, err := engine.History(context.Background(), v.ID)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, ActionCreated, history[0].Action)
			assert.Equal(t, tenant.ID, history[0].Actor.ID)
			assert.Equal(t, StatusPending, history[0].NewStatus)
		})
	}
}

func TestEngine_CreateKeepsExplicitDueDate(t *testing.T) {
	engine := NewEngine(NewMemoryStore())
	due := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	req := documentRequest("doc-1")
	req.DueDate = &due
	req.ApprovalTimeout = time.Hour
	req.Title = "Proof of income"
	req.Priority = PriorityUrgent
	v, err := engine.Create(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, due.Equal(*v.DueDate))
	assert.Equal(t, "Proof of income", v.Title)
	assert.Equal(t, PriorityUrgent, v.Priority)
}

func TestEngine_CreateValidation(t *testing.T) {
	engine := NewEngine(NewMemoryStore())

	tests := []struct {
		name  string
		mut   func(*CreateRequest)
		field string
	}{
		{"unknown type", func(r *CreateRequest) { r.Type = "LOAN" }, "verification_type"},
		{"missing entity type", func(r *CreateRequest) { r.EntityType = "" }, "entity_type"},
		{"missing entity id", func(r *CreateRequest) { r.EntityID = "" }, "entity_id"},
		{"missing requester", func(r *CreateRequest) { r.Requester = Party{} }, "requester.id"},
		{"bad priority", func(r *CreateRequest) { r.Priority = "CRITICAL" }, "priority"},
		{"incomplete attachment", func(r *CreateRequest) { r.Attachment = &Attachment{FileName: "a.pdf"} }, "attachment"},
		{"negative timeout", func(r *CreateRequest) { r.ApprovalTimeout = -time.Hour }, "approval_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := documentRequest("doc-1")
			tt.mut(&req)
			_, err := engine.Create(context.Background(), req)

			var ve *apperr.ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestEngine_CreateDuplicate(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			engine := NewEngine(newStore())
			ctx := context.Background()

			_, err := engine.Create(ctx, documentRequest("doc-1"))
			require.NoError(t, err)

			_, err = engine.Create(ctx, documentRequest("doc-1"))
			var dup *apperr.DuplicateError
			require.True(t, errors.As(err, &dup))
			assert.Equal(t, "TENANT_DOCUMENT/document/doc-1", dup.Key)
		})
	}
}

func TestEngine_ConcurrentCreateHasOneWinner(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			engine := NewEngine(newStore())

			const callers = 8
			var wg sync.WaitGroup
			var created, duplicates atomic.Int32
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := engine.Create(context.Background(), documentRequest("doc-race"))
					switch {
					case err == nil:
						created.Add(1)
					case errors.Is(err, apperr.ErrDuplicate):
						duplicates.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), created.Load())
			assert.Equal(t, int32(callers-1), duplicates.Load())
		})
	}
}

func TestEngine_ResolvesAssignee(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), WithResolver(NewDefaultResolver(newTestDirectory())))
	ctx := context.Background()

	v, err := engine.Create(ctx, documentRequest("doc-1"))
	require.NoError(t, err)
	require.NotNil(t, v.Assignee)
	assert.Equal(t, pmcAdmin.ID, v.Assignee.ID, "managing PMC takes precedence over the landlord")

	explicit := documentRequest("doc-2")
	explicit.Assignee = &Party{ID: "reviewer-7", Role: rbac.RolePropertyManager}
	v, err = engine.Create(ctx, explicit)
	require.NoError(t, err)
	assert.Equal(t, "reviewer-7", v.Assignee.ID)
}

func TestEngine_ResolverFailureIsStorageError(t *testing.T) {
	failing := ResolverFunc(func(ctx context.Context, req *CreateRequest) (*Party, error) {
		return nil, errors.New("directory offline")
	})
	store := NewMemoryStore()
	engine := NewEngine(store, WithResolver(failing))

	_, err := engine.Create(context.Background(), documentRequest("doc-1"))
	assert.ErrorIs(t, err, apperr.ErrStorage)

	_, err = store.FindByEntity(context.Background(), TypeTenantDocument, EntityDocument, "doc-1")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "nothing persisted")
}

func TestEngine_VerifyAndReject(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			engine := NewEngine(newStore(), WithClock(newStepClock().Now))
			ctx := context.Background()

			a, err := engine.Create(ctx, documentRequest("doc-a"))
			require.NoError(t, err)
			b, err := engine.Create(ctx, documentRequest("doc-b"))
			require.NoError(t, err)

			verified, err := engine.Verify(ctx, a.ID, landlord, "ok")
			require.NoError(t, err)
			assert.Equal(t, StatusVerified, verified.Status)
			assert.Equal(t, landlord.ID, verified.VerifiedBy.ID)
			assert.Equal(t, "ok", verified.ReviewNotes)

			rejected, err := engine.Reject(ctx, b.ID, landlord, "expired document")
			require.NoError(t, err)
			assert.Equal(t, StatusRejected, rejected.Status)
			assert.Equal(t, "expired document", rejected.RejectionReason)

			_, err = engine.Verify(ctx, b.ID, landlord, "")
			assert.ErrorIs(t, err, apperr.ErrInvalidState)
			_, err = engine.Reject(ctx, a.ID, landlord, "changed my mind")
			assert.ErrorIs(t, err, apperr.ErrInvalidState)

			_, err = engine.Verify(ctx, "missing", landlord, "")
			assert.ErrorIs(t, err, apperr.ErrNotFound)
			_, err = engine.Verify(ctx, a.ID, Party{}, "")
			assert.ErrorIs(t, err, apperr.ErrValidation)

			for _, id := range []string{a.ID, b.ID} {
				v, err := engine.Get(ctx, id)
				require.NoError(t, err)
				history, err := engine.History(ctx, id)
				require.NoError(t, err)
				require.Len(t, history, 2)
				assert.Equal(t, v.Status, history[len(history)-1].NewStatus)
			}
		})
	}
}

// countingStore records whether a transition reached the store
type countingStore struct {
	Store
	transitions atomic.Int32
}

func (s *countingStore) Transition(ctx context.Context, t Transition) (*Verification, *HistoryEntry, error) {
	s.transitions.Add(1)
	return s.Store.Transition(ctx, t)
}

func TestEngine_RejectRequiresReason(t *testing.T) {
	store := &countingStore{Store: NewMemoryStore()}
	engine := NewEngine(store)
	ctx := context.Background()

	v, err := engine.Create(ctx, documentRequest("doc-1"))
	require.NoError(t, err)

	for _, reason := range []string{"", "   "} {
		_, err = engine.Reject(ctx, v.ID, landlord, reason)
		var ve *apperr.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "reason", ve.Field)
		assert.False(t, errors.Is(err, apperr.ErrInvalidState))
	}
	assert.Equal(t, int32(0), store.transitions.Load())

	got, err := engine.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	history, err := engine.History(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEngine_ConcurrentDecisionsHaveOneWinner(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			engine := NewEngine(newStore())
			ctx := context.Background()

			v, err := engine.Create(ctx, documentRequest("doc-1"))
			require.NoError(t, err)

			const callers = 10
			var wg sync.WaitGroup
			var wins, losses atomic.Int32
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					var err error
					if i%2 == 0 {
						_, err = engine.Verify(ctx, v.ID, landlord, "")
					} else {
						_, err = engine.Reject(ctx, v.ID, pmcAdmin, "duplicate upload")
					}
					switch {
					case err == nil:
						wins.Add(1)
					case errors.Is(err, apperr.ErrInvalidState):
						losses.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
			assert.Equal(t, int32(callers-1), losses.Load())

			history, err := engine.History(ctx, v.ID)
			require.NoError(t, err)
			assert.Len(t, history, 2)

			final, err := engine.Get(ctx, v.ID)
			require.NoError(t, err)
			assert.Equal(t, final.Status, history[1].NewStatus)
		})
	}
}

func TestEngine_Listeners(t *testing.T) {
	events := make(chan Event, 4)
	engine := NewEngine(NewMemoryStore(),
		WithListener(func(ctx context.Context, e Event) error {
			events <- e
			return nil
		}),
		WithListener(func(ctx context.Context, e Event) error {
			panic("listener bug")
		}),
		WithLogger(getTestLogger()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	v, err := engine.Create(ctx, documentRequest("doc-1"))
	require.NoError(t, err)
	_, err = engine.Verify(ctx, v.ID, landlord, "")
	require.NoError(t, err)
	cancel()

	seen := map[HistoryAction]Event{}
	for len(seen) < 2 {
		select {
		case e := <-events:
			seen[e.Action] = e
		case <-time.After(2 * time.Second):
			t.Fatalf("listener events missing, got %v", seen)
		}
	}
	assert.Equal(t, StatusPending, seen[ActionCreated].Verification.Status)
	assert.Equal(t, StatusVerified, seen[ActionVerified].Verification.Status)
	assert.Equal(t, StatusVerified, seen[ActionVerified].Entry.NewStatus)
}

func TestEngine_Metrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	engine := NewEngine(NewMemoryStore(), WithMetrics(metrics))
	ctx := context.Background()

	v, err := engine.Create(ctx, documentRequest("doc-1"))
	require.NoError(t, err)
	_, err = engine.Reject(ctx, v.ID, landlord, "wrong file")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.VerificationTransitionsTotal.WithLabelValues("TENANT_DOCUMENT", "CREATED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.VerificationTransitionsTotal.WithLabelValues("TENANT_DOCUMENT", "REJECTED")))
}

func TestEngine_Lookups(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), WithClock(newStepClock().Now))
	ctx := context.Background()

	doc, err := engine.Create(ctx, documentRequest("doc-1"))
	require.NoError(t, err)
	inspection := documentRequest("doc-1")
	inspection.Type = TypeInspection
	_, err = engine.Create(ctx, inspection)
	require.NoError(t, err)

	found, err := engine.FindForEntity(ctx, TypeTenantDocument, EntityDocument, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, found.ID)

	list, err := engine.ListForEntity(ctx, EntityDocument, "doc-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	pending, err := engine.List(ctx, Filter{Status: StatusPending, Type: TypeInspection})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = engine.History(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
