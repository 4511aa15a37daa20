package rbac

import (
	"context"
	"sync"

	"github.com/platinummonkey/pinaka/pkg/apperr"
)

// Registry resolves role names to persisted identifiers
type Registry struct {
	store  MatrixStore
	matrix *Matrix

	mu  sync.RWMutex
	ids map[RoleName]RoleID
}

// NewRegistry creates a registry. Display names come from matrix, or from
// the embedded default when matrix is nil.
func NewRegistry(store MatrixStore, matrix *Matrix) *Registry {
	if matrix == nil {
		matrix = DefaultMatrix()
	}
	return &Registry{
		store:  store,
		matrix: matrix,
		ids:    make(map[RoleName]RoleID),
	}
}

// EnsureRole returns the id for name, creating the role if absent
func (r *Registry) EnsureRole(ctx context.Context, name RoleName) (RoleID, error) {
	if name == "" {
		return "", apperr.Validation("name", "is required")
	}

	r.mu.RLock()
	id, ok := r.ids[name]
	matrix := r.matrix
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	displayName := string(name)
	system := false
	if def, ok := matrix.Role(name); ok {
		if def.DisplayName != "" {
			displayName = def.DisplayName
		}
		system = def.System
	}

	role, err := r.store.UpsertRole(ctx, name, displayName, system)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.ids[name] = role.ID
	r.mu.Unlock()
	return role.ID, nil
}

// SetMatrix replaces the matrix used for display names
func (r *Registry) SetMatrix(m *Matrix) {
	r.mu.Lock()
	r.matrix = m
	r.mu.Unlock()
}

// Forget drops memoised ids. The next EnsureRole call upserts again.
func (r *Registry) Forget() {
	r.mu.Lock()
	r.ids = make(map[RoleName]RoleID)
	r.mu.Unlock()
}
