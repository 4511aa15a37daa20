package rbac

import (
	"context"
	"sync"
	"testing"

	"github.com/platinummonkey/pinaka/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*MemoryStore
	mu      sync.Mutex
	upserts int
}

func (s *countingStore) UpsertRole(ctx context.Context, name RoleName, displayName string, isSystem bool) (*Role, error) {
	s.mu.Lock()
	s.upserts++
	s.mu.Unlock()
	return s.MemoryStore.UpsertRole(ctx, name, displayName, isSystem)
}

func TestRegistry_EnsureRole(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	registry := NewRegistry(store, nil)
	ctx := context.Background()

	id, err := registry.EnsureRole(ctx, RoleOwnerLandlord)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	again, err := registry.EnsureRole(ctx, RoleOwnerLandlord)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, store.upserts, "resolved ids are memoised")

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "Owner / Landlord", roles[0].DisplayName)
	assert.True(t, roles[0].IsSystem)
}

func TestRegistry_StableAcrossInstances(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := NewRegistry(store, nil).EnsureRole(ctx, RoleTenant)
	require.NoError(t, err)
	second, err := NewRegistry(store, nil).EnsureRole(ctx, RoleTenant)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRegistry_CustomRole(t *testing.T) {
	store := NewMemoryStore()
	registry := NewRegistry(store, DefaultMatrix())
	ctx := context.Background()

	_, err := registry.EnsureRole(ctx, "AUDITOR")
	require.NoError(t, err)

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "AUDITOR", roles[0].DisplayName)
	assert.False(t, roles[0].IsSystem)

	_, err = registry.EnsureRole(ctx, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRegistry_ForgetReupserts(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	registry := NewRegistry(store, nil)
	ctx := context.Background()

	_, err := registry.EnsureRole(ctx, RoleTenant)
	require.NoError(t, err)
	registry.Forget()
	_, err = registry.EnsureRole(ctx, RoleTenant)
	require.NoError(t, err)
	assert.Equal(t, 2, store.upserts)
}
