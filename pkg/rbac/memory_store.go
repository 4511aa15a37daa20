package rbac

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/pinaka/pkg/apperr"
)

// MemoryStore is an in-process MatrixStore
type MemoryStore struct {
	mu    sync.RWMutex
	roles map[RoleName]*Role
	perms map[GrantKey]*RolePermission
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles: make(map[RoleName]*Role),
		perms: make(map[GrantKey]*RolePermission),
		now:   time.Now,
	}
}

// UpsertRole creates or updates a role
func (s *MemoryStore) UpsertRole(ctx context.Context, name RoleName, displayName string, isSystem bool) (*Role, error) {
	if name == "" {
		return nil, apperr.Validation("name", "is required")
	}
	if displayName == "" {
		displayName = string(name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	role, ok := s.roles[name]
	if !ok {
		role = &Role{ID: RoleID(uuid.NewString()), Name: name, CreatedAt: now}
		s.roles[name] = role
	}
	role.DisplayName = displayName
	role.IsSystem = isSystem
	role.UpdatedAt = now

	copied := *role
	return &copied, nil
}

// UpsertPermission creates or updates a matrix entry
func (s *MemoryStore) UpsertPermission(ctx context.Context, role RoleName, category Category, resource string, action Action, conditions Conditions) (*RolePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[role]; !ok {
		return nil, apperr.Validation("role", "unknown role %s", role)
	}

	now := s.now().UTC()
	key := GrantKey{Role: role, Category: category, Resource: resource, Action: action}
	perm, ok := s.perms[key]
	if !ok {
		perm = &RolePermission{
			ID:        uuid.NewString(),
			Role:      role,
			Category:  category,
			Resource:  resource,
			Action:    action,
			CreatedAt: now,
		}
		s.perms[key] = perm
	}
	perm.Conditions = copyConditions(conditions)
	perm.UpdatedAt = now

	return clonePermission(perm), nil
}

// FindPermissions returns every entry for a role
func (s *MemoryStore) FindPermissions(ctx context.Context, role RoleName) ([]RolePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var perms []RolePermission
	for key, perm := range s.perms {
		if key.Role == role {
			perms = append(perms, *clonePermission(perm))
		}
	}
	sort.Slice(perms, func(i, j int) bool {
		return perms[i].Key().String() < perms[j].Key().String()
	})
	return perms, nil
}

// FindGrants returns the entries matching key
func (s *MemoryStore) FindGrants(ctx context.Context, key GrantKey) ([]RolePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perm, ok := s.perms[key]
	if !ok {
		return nil, nil
	}
	return []RolePermission{*clonePermission(perm)}, nil
}

// ListRoles returns all roles ordered by name
func (s *MemoryStore) ListRoles(ctx context.Context) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]Role, 0, len(s.roles))
	for _, role := range s.roles {
		roles = append(roles, *role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// CountRoles returns the number of roles
func (s *MemoryStore) CountRoles(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.roles), nil
}

func clonePermission(p *RolePermission) *RolePermission {
	c := *p
	c.Conditions = copyConditions(p.Conditions)
	return &c
}
