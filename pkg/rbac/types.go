package rbac

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RoleName is the stable key of a role
type RoleName string

// RoleID identifies a persisted role
type RoleID string

// Built-in roles
const (
	RoleSuperAdmin      RoleName = "SUPER_ADMIN"
	RolePlatformAdmin   RoleName = "PLATFORM_ADMIN"
	RoleSupportAdmin    RoleName = "SUPPORT_ADMIN"
	RolePMCAdmin        RoleName = "PMC_ADMIN"
	RolePropertyManager RoleName = "PROPERTY_MANAGER"
	RoleLeasingAgent    RoleName = "LEASING_AGENT"
	RoleMaintenanceTech RoleName = "MAINTENANCE_TECH"
	RoleAccountant      RoleName = "ACCOUNTANT"
	RoleOwnerLandlord   RoleName = "OWNER_LANDLORD"
	RoleTenant          RoleName = "TENANT"
	RoleVendor          RoleName = "VENDOR_SERVICE_PROVIDER"
)

// Category groups related resources
type Category string

// Resource categories
const (
	CategoryProperties     Category = "PROPERTIES"
	CategoryLeases         Category = "LEASES"
	CategoryFinancial      Category = "FINANCIAL"
	CategoryMaintenance    Category = "MAINTENANCE"
	CategoryTenants        Category = "TENANTS"
	CategoryDocuments      Category = "DOCUMENTS"
	CategoryCommunications Category = "COMMUNICATIONS"
	CategoryReports        Category = "REPORTS"
	CategoryUsers          Category = "USERS"
	CategorySettings       Category = "SETTINGS"
	CategoryVerifications  Category = "VERIFICATIONS"
)

// Action is an operation on a resource
type Action string

// Actions
const (
	ActionCreate  Action = "CREATE"
	ActionRead    Action = "READ"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionApprove Action = "APPROVE"
	ActionExport  Action = "EXPORT"
	ActionAssign  Action = "ASSIGN"
)

var knownCategories = map[Category]bool{
	CategoryProperties: true, CategoryLeases: true, CategoryFinancial: true,
	CategoryMaintenance: true, CategoryTenants: true, CategoryDocuments: true,
	CategoryCommunications: true, CategoryReports: true, CategoryUsers: true,
	CategorySettings: true, CategoryVerifications: true,
}

var knownActions = map[Action]bool{
	ActionCreate: true, ActionRead: true, ActionUpdate: true, ActionDelete: true,
	ActionApprove: true, ActionExport: true, ActionAssign: true,
}

// Valid reports whether c is a known category
func (c Category) Valid() bool { return knownCategories[c] }

// Valid reports whether a is a known action
func (a Action) Valid() bool { return knownActions[a] }

// Role is a named permission bundle
type Role struct {
	ID          RoleID    `json:"id"`
	Name        RoleName  `json:"name"`
	DisplayName string    `json:"display_name"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GrantKey identifies a single matrix cell
type GrantKey struct {
	Role     RoleName
	Category Category
	Resource string
	Action   Action
}

func (k GrantKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Role, k.Category, k.Resource, k.Action)
}

// RolePermission is a single matrix entry
type RolePermission struct {
	ID         string     `json:"id"`
	Role       RoleName   `json:"role"`
	Category   Category   `json:"category"`
	Resource   string     `json:"resource"`
	Action     Action     `json:"action"`
	Conditions Conditions `json:"conditions,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Key returns the uniqueness key of the entry
func (p RolePermission) Key() GrantKey {
	return GrantKey{Role: p.Role, Category: p.Category, Resource: p.Resource, Action: p.Action}
}

// Condition keys understood by the evaluator. Other keys are carried as data.
const (
	CondOwnOnly          = "ownOnly"
	CondScopeRestriction = "scopeRestriction"
	CondRequiresApproval = "requiresApproval"
	CondApprovalTimeout  = "approvalTimeout"
	CondThreshold        = "threshold"
	CondThresholdField   = "thresholdField"
	CondThresholdLimit   = "thresholdLimit"
	CondTimeWindow       = "timeWindow"
	CondTimeZone         = "timeZone"
)

// Conditions is the open attribute bag attached to a grant
type Conditions map[string]interface{}

// Empty reports whether no conditions are set
func (c Conditions) Empty() bool { return len(c) == 0 }

// Bool returns a boolean condition, accepting "true" strings
func (c Conditions) Bool(key string) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// String returns a string condition
func (c Conditions) String(key string) (string, bool) {
	v, ok := c[key].(string)
	return v, ok && v != ""
}

// Number returns a numeric condition. JSON and YAML decoding produce
// different numeric types, so all of them are accepted.
func (c Conditions) Number(key string) (float64, bool) {
	switch v := c[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ScopeLevel is the granularity of a scope restriction
type ScopeLevel string

// Scope levels
const (
	ScopeUnit         ScopeLevel = "unit"
	ScopeProperty     ScopeLevel = "property"
	ScopePortfolio    ScopeLevel = "portfolio"
	ScopeOrganization ScopeLevel = "organization"
)

// Effect is the outcome of an evaluation
type Effect string

// Effects
const (
	EffectAllow            Effect = "ALLOW"
	EffectDeny             Effect = "DENY"
	EffectRequiresApproval Effect = "REQUIRES_APPROVAL"
)

// EvalContext carries the caller-supplied request attributes
type EvalContext struct {
	RequesterID   string                  `json:"requester_id,omitempty"`
	TargetOwnerID string                  `json:"target_owner_id,omitempty"`
	GrantedScopes map[ScopeLevel][]string `json:"granted_scopes,omitempty"`
	TargetScope   map[ScopeLevel]string   `json:"target_scope,omitempty"`
	Values        map[string]float64      `json:"values,omitempty"`
	Now           time.Time               `json:"now,omitempty"`
}

// Principal is the trusted identity supplied by the host
type Principal struct {
	UserID string     `json:"user_id"`
	Roles  []RoleName `json:"roles"`
}

// Decision is the result of an evaluation
type Decision struct {
	Effect Effect `json:"effect"`
	Reason string `json:"reason"`
	// ApprovalTimeout is set when Effect is REQUIRES_APPROVAL and the
	// matching grant carries an approvalTimeout in days
	ApprovalTimeout time.Duration    `json:"approval_timeout,omitempty"`
	Matched         []RolePermission `json:"matched,omitempty"`
}

// Allowed reports whether the action may be executed directly
func (d Decision) Allowed() bool { return d.Effect == EffectAllow }
