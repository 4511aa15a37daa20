package verification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/pinaka/pkg/apperr"
)

// MemoryStore is an in-process Store. A single mutex serializes
// transitions, which gives the same single-winner guarantee as the
// conditional update in SQLStore.
type MemoryStore struct {
	mu            sync.RWMutex
	records       map[string]*Verification
	byKey         map[string]string
	history       map[string][]HistoryEntry
	nextHistoryID int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Verification),
		byKey:   make(map[string]string),
		history: make(map[string][]HistoryEntry),
	}
}

// Create persists v and its CREATED entry
func (s *MemoryStore) Create(ctx context.Context, v *Verification, entry *HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := v.Key()
	if _, exists := s.byKey[key]; exists {
		return &apperr.DuplicateError{Key: key}
	}

	s.nextHistoryID++
	entry.ID = s.nextHistoryID
	entry.VerificationID = v.ID

	s.records[v.ID] = cloneVerification(v)
	s.byKey[key] = v.ID
	s.history[v.ID] = append(s.history[v.ID], cloneEntry(*entry))
	return nil
}

// Transition moves a pending verification to t.To
func (s *MemoryStore) Transition(ctx context.Context, t Transition) (*Verification, *HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.records[t.ID]
	if !ok {
		return nil, nil, &apperr.NotFoundError{Kind: "verification", ID: t.ID}
	}
	if v.Status.Terminal() {
		return nil, nil, &apperr.InvalidStateError{ID: t.ID, Current: string(v.Status), Attempted: string(t.To)}
	}

	t.At = t.At.UTC()
	t.apply(v)

	s.nextHistoryID++
	entry := HistoryEntry{
		ID:             s.nextHistoryID,
		VerificationID: t.ID,
		Action:         t.action(),
		Actor:          t.Actor,
		PreviousStatus: StatusPending,
		NewStatus:      t.To,
		Note:           t.note(),
		CreatedAt:      t.At,
	}
	s.history[t.ID] = append(s.history[t.ID], entry)
	return cloneVerification(v), &entry, nil
}

// Get returns a verification by id
func (s *MemoryStore) Get(ctx context.Context, id string) (*Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.records[id]
	if !ok {
		return nil, &apperr.NotFoundError{Kind: "verification", ID: id}
	}
	return cloneVerification(v), nil
}

// FindByEntity returns the verification of one subject and flow
func (s *MemoryStore) FindByEntity(ctx context.Context, t Type, entityType, entityID string) (*Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := entityKey(t, entityType, entityID)
	id, ok := s.byKey[key]
	if !ok {
		return nil, &apperr.NotFoundError{Kind: "verification", ID: key}
	}
	return cloneVerification(s.records[id]), nil
}

// ListByEntity returns every verification of one subject, oldest first
func (s *MemoryStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []Verification
	for _, v := range s.records {
		if v.EntityType == entityType && v.EntityID == entityID {
			list = append(list, *cloneVerification(v))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// List returns verifications matching f, newest first
func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []Verification
	for _, v := range s.records {
		if matches(v, f) {
			list = append(list, *cloneVerification(v))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})

	offset := maxInt(f.Offset, 0)
	if offset >= len(list) {
		return nil, nil
	}
	list = list[offset:]
	if limit := listLimit(f.Limit); len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// History returns the entries of a verification in creation order
func (s *MemoryStore) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]HistoryEntry, 0, len(s.history[id]))
	for _, e := range s.history[id] {
		entries = append(entries, cloneEntry(e))
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries, nil
}

func matches(v *Verification, f Filter) bool {
	if f.Status != "" && v.Status != f.Status {
		return false
	}
	if f.Type != "" && v.Type != f.Type {
		return false
	}
	if f.AssigneeID != "" && (v.Assignee == nil || v.Assignee.ID != f.AssigneeID) {
		return false
	}
	if f.AssigneeRole != "" && (v.Assignee == nil || v.Assignee.Role != f.AssigneeRole) {
		return false
	}
	if f.RequesterID != "" && v.Requester.ID != f.RequesterID {
		return false
	}
	if f.DueBefore != nil && (v.DueDate == nil || !v.DueDate.Before(*f.DueBefore)) {
		return false
	}
	return true
}

func cloneVerification(v *Verification) *Verification {
	c := *v
	c.Assignee = clonePartyPtr(v.Assignee)
	c.VerifiedBy = clonePartyPtr(v.VerifiedBy)
	c.RejectedBy = clonePartyPtr(v.RejectedBy)
	c.DueDate = cloneTimePtr(v.DueDate)
	c.VerifiedAt = cloneTimePtr(v.VerifiedAt)
	c.RejectedAt = cloneTimePtr(v.RejectedAt)
	if v.Attachment != nil {
		a := *v.Attachment
		c.Attachment = &a
	}
	c.Metadata = v.Metadata.clone()
	return &c
}

func cloneEntry(e HistoryEntry) HistoryEntry {
	e.Metadata = e.Metadata.clone()
	return e
}

func clonePartyPtr(p *Party) *Party {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
