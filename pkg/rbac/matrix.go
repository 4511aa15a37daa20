package rbac

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed matrix.yaml
var defaultMatrixYAML []byte

// RoleDefinition declares a role in a matrix document
type RoleDefinition struct {
	Name        RoleName `yaml:"name" json:"name"`
	DisplayName string   `yaml:"displayName" json:"display_name"`
	System      bool     `yaml:"system" json:"system"`
}

// GrantDefinition declares one or more actions on a resource for a role
type GrantDefinition struct {
	Role       RoleName   `yaml:"role" json:"role"`
	Category   Category   `yaml:"category" json:"category"`
	Resource   string     `yaml:"resource" json:"resource"`
	Actions    []Action   `yaml:"actions" json:"actions"`
	Conditions Conditions `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Matrix is the static permission definition seeded by the bootstrapper
type Matrix struct {
	Roles  []RoleDefinition  `yaml:"roles" json:"roles"`
	Grants []GrantDefinition `yaml:"grants" json:"grants"`
}

var (
	defaultMatrixOnce sync.Once
	defaultMatrix     *Matrix
	defaultMatrixErr  error
)

// DefaultMatrix returns a fresh copy of the built-in matrix
func DefaultMatrix() *Matrix {
	defaultMatrixOnce.Do(func() {
		defaultMatrix, defaultMatrixErr = LoadMatrix(bytes.NewReader(defaultMatrixYAML))
	})
	if defaultMatrixErr != nil {
		panic(fmt.Sprintf("embedded permission matrix is invalid: %v", defaultMatrixErr))
	}
	return defaultMatrix.clone()
}

// LoadMatrix decodes and validates a YAML matrix document
func LoadMatrix(r io.Reader) (*Matrix, error) {
	var m Matrix
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode matrix: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadMatrixFile loads a matrix document from disk
func LoadMatrixFile(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open matrix file: %w", err)
	}
	defer f.Close()
	return LoadMatrix(f)
}

// Validate checks that every grant references a declared role and uses
// known categories and actions
func (m *Matrix) Validate() error {
	if len(m.Roles) == 0 {
		return fmt.Errorf("matrix declares no roles")
	}

	declared := make(map[RoleName]bool, len(m.Roles))
	for i, role := range m.Roles {
		if role.Name == "" {
			return fmt.Errorf("role %d has no name", i)
		}
		if declared[role.Name] {
			return fmt.Errorf("role %s declared twice", role.Name)
		}
		declared[role.Name] = true
	}

	for i, grant := range m.Grants {
		if !declared[grant.Role] {
			return fmt.Errorf("grant %d references undeclared role %s", i, grant.Role)
		}
		if !grant.Category.Valid() {
			return fmt.Errorf("grant %d has unknown category %s", i, grant.Category)
		}
		if grant.Resource == "" {
			return fmt.Errorf("grant %d has no resource", i)
		}
		if len(grant.Actions) == 0 {
			return fmt.Errorf("grant %d has no actions", i)
		}
		for _, action := range grant.Actions {
			if !action.Valid() {
				return fmt.Errorf("grant %d has unknown action %s", i, action)
			}
		}
	}
	return nil
}

// Role returns the definition of name
func (m *Matrix) Role(name RoleName) (RoleDefinition, bool) {
	for _, role := range m.Roles {
		if role.Name == name {
			return role, true
		}
	}
	return RoleDefinition{}, false
}

// Permissions expands grants into one entry per action, in document order
func (m *Matrix) Permissions() []RolePermission {
	var perms []RolePermission
	for _, grant := range m.Grants {
		for _, action := range grant.Actions {
			perms = append(perms, RolePermission{
				Role:       grant.Role,
				Category:   grant.Category,
				Resource:   grant.Resource,
				Action:     action,
				Conditions: copyConditions(grant.Conditions),
			})
		}
	}
	return perms
}

func (m *Matrix) clone() *Matrix {
	c := &Matrix{
		Roles:  append([]RoleDefinition(nil), m.Roles...),
		Grants: make([]GrantDefinition, len(m.Grants)),
	}
	for i, g := range m.Grants {
		g.Actions = append([]Action(nil), g.Actions...)
		g.Conditions = copyConditions(g.Conditions)
		c.Grants[i] = g
	}
	return c
}

func copyConditions(c Conditions) Conditions {
	if len(c) == 0 {
		return nil
	}
	out := make(Conditions, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
