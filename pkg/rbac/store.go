package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/pinaka/pkg/apperr"
)

// MatrixStore persists roles and matrix entries
type MatrixStore interface {
	// UpsertRole creates or updates a role keyed by name
	UpsertRole(ctx context.Context, name RoleName, displayName string, isSystem bool) (*Role, error)

	// UpsertPermission creates or updates the entry keyed by (role, category, resource, action)
	UpsertPermission(ctx context.Context, role RoleName, category Category, resource string, action Action, conditions Conditions) (*RolePermission, error)

	// FindPermissions returns every entry for a role
	FindPermissions(ctx context.Context, role RoleName) ([]RolePermission, error)

	// FindGrants returns the entries matching a single matrix cell
	FindGrants(ctx context.Context, key GrantKey) ([]RolePermission, error)

	// ListRoles returns all roles ordered by name
	ListRoles(ctx context.Context) ([]Role, error)

	// CountRoles returns the number of persisted roles
	CountRoles(ctx context.Context) (int, error)
}

// SQLStore implements MatrixStore over database/sql. Queries use $N
// placeholders and ON CONFLICT upserts, which both PostgreSQL and SQLite accept.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore creates a new SQL-backed matrix store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// UpsertRole creates or updates a role
func (s *SQLStore) UpsertRole(ctx context.Context, name RoleName, displayName string, isSystem bool) (*Role, error) {
	if name == "" {
		return nil, apperr.Validation("name", "is required")
	}
	if displayName == "" {
		displayName = string(name)
	}

	query := `
		INSERT INTO roles (id, name, display_name, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (name) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    is_system = EXCLUDED.is_system,
		    updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	now := s.now().UTC()
	var id string
	if err := s.db.QueryRowContext(ctx, query, uuid.NewString(), string(name), displayName, isSystem, now).Scan(&id); err != nil {
		return nil, apperr.Storage("upsert role", fmt.Errorf("failed to upsert role %s: %w", name, err))
	}

	role, err := scanRole(s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, is_system, created_at, updated_at
		FROM roles
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, apperr.Storage("upsert role", fmt.Errorf("failed to read role %s: %w", name, err))
	}
	return role, nil
}

// UpsertPermission creates or updates a matrix entry
func (s *SQLStore) UpsertPermission(ctx context.Context, role RoleName, category Category, resource string, action Action, conditions Conditions) (*RolePermission, error) {
	conditionsJSON, err := marshalConditions(conditions)
	if err != nil {
		return nil, apperr.Validation("conditions", "cannot be encoded: %v", err)
	}

	var roleID string
	err = s.db.QueryRowContext(ctx, "SELECT id FROM roles WHERE name = $1", string(role)).Scan(&roleID)
	if err == sql.ErrNoRows {
		return nil, apperr.Validation("role", "unknown role %s", role)
	}
	if err != nil {
		return nil, apperr.Storage("upsert permission", fmt.Errorf("failed to resolve role %s: %w", role, err))
	}

	query := `
		INSERT INTO role_permissions (id, role_id, category, resource, action, conditions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (role_id, category, resource, action) DO UPDATE
		SET conditions = EXCLUDED.conditions,
		    updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	perm := &RolePermission{
		Role:       role,
		Category:   category,
		Resource:   resource,
		Action:     action,
		Conditions: conditions,
	}
	now := s.now().UTC()
	err = s.db.QueryRowContext(ctx, query,
		uuid.NewString(), roleID, string(category), resource, string(action), conditionsJSON, now,
	).Scan(&perm.ID)
	if err != nil {
		return nil, apperr.Storage("upsert permission", fmt.Errorf("failed to upsert permission %s: %w", perm.Key(), err))
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT created_at, updated_at FROM role_permissions WHERE id = $1", perm.ID,
	).Scan(&perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		return nil, apperr.Storage("upsert permission", fmt.Errorf("failed to read permission %s: %w", perm.Key(), err))
	}
	return perm, nil
}

const selectPermissions = `
	SELECT rp.id, r.name, rp.category, rp.resource, rp.action, rp.conditions, rp.created_at, rp.updated_at
	FROM role_permissions rp
	JOIN roles r ON r.id = rp.role_id
`

// FindPermissions returns every entry for a role
func (s *SQLStore) FindPermissions(ctx context.Context, role RoleName) ([]RolePermission, error) {
	query := selectPermissions + `
		WHERE r.name = $1
		ORDER BY rp.category, rp.resource, rp.action
	`
	perms, err := s.queryPermissions(ctx, query, string(role))
	if err != nil {
		return nil, apperr.Storage("find permissions", err)
	}
	return perms, nil
}

// FindGrants returns the entries matching key
func (s *SQLStore) FindGrants(ctx context.Context, key GrantKey) ([]RolePermission, error) {
	query := selectPermissions + `
		WHERE r.name = $1 AND rp.category = $2 AND rp.resource = $3 AND rp.action = $4
	`
	perms, err := s.queryPermissions(ctx, query, string(key.Role), string(key.Category), key.Resource, string(key.Action))
	if err != nil {
		return nil, apperr.Storage("find grants", err)
	}
	return perms, nil
}

func (s *SQLStore) queryPermissions(ctx context.Context, query string, args ...interface{}) ([]RolePermission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	var perms []RolePermission
	for rows.Next() {
		var perm RolePermission
		var role, category, action string
		var conditionsJSON sql.NullString

		if err := rows.Scan(
			&perm.ID,
			&role,
			&category,
			&perm.Resource,
			&action,
			&conditionsJSON,
			&perm.CreatedAt,
			&perm.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}

		perm.Role = RoleName(role)
		perm.Category = Category(category)
		perm.Action = Action(action)
		if conditionsJSON.Valid {
			if perm.Conditions, err = unmarshalConditions(conditionsJSON.String); err != nil {
				return nil, err
			}
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	return perms, nil
}

// ListRoles returns all roles ordered by name
func (s *SQLStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, display_name, is_system, created_at, updated_at
		FROM roles
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, apperr.Storage("list roles", fmt.Errorf("failed to list roles: %w", err))
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, apperr.Storage("list roles", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list roles", err)
	}
	return roles, nil
}

// CountRoles returns the number of persisted roles
func (s *SQLStore) CountRoles(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles").Scan(&count); err != nil {
		return 0, apperr.Storage("count roles", fmt.Errorf("failed to count roles: %w", err))
	}
	return count, nil
}

func scanRole(scanner interface{ Scan(...interface{}) error }) (*Role, error) {
	var role Role
	var id, name string
	if err := scanner.Scan(&id, &name, &role.DisplayName, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	role.ID = RoleID(id)
	role.Name = RoleName(name)
	return &role, nil
}

func marshalConditions(c Conditions) (interface{}, error) {
	if c.Empty() {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalConditions(data string) (Conditions, error) {
	if data == "" || data == "null" {
		return nil, nil
	}
	var c Conditions
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}
	if len(c) == 0 {
		return nil, nil
	}
	return c, nil
}
