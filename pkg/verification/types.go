package verification

import (
	"fmt"
	"time"

	"github.com/platinummonkey/pinaka/pkg/rbac"
)

// Type is the approval flow a verification belongs to
type Type string

// Verification types
const (
	TypePropertyOwnership Type = "PROPERTY_OWNERSHIP"
	TypeTenantDocument    Type = "TENANT_DOCUMENT"
	TypeApplication       Type = "APPLICATION"
	TypeEntityApproval    Type = "ENTITY_APPROVAL"
	TypeFinancialApproval Type = "FINANCIAL_APPROVAL"
	TypeInspection        Type = "INSPECTION"
)

var knownTypes = map[Type]bool{
	TypePropertyOwnership: true,
	TypeTenantDocument:    true,
	TypeApplication:       true,
	TypeEntityApproval:    true,
	TypeFinancialApproval: true,
	TypeInspection:        true,
}

// Valid reports whether t is a known verification type
func (t Type) Valid() bool { return knownTypes[t] }

var approvalResources = map[Type]string{
	TypePropertyOwnership: "property_ownership",
	TypeTenantDocument:    "tenant_documents",
	TypeApplication:       "applications",
	TypeEntityApproval:    "entity_approvals",
	TypeFinancialApproval: "financial_approvals",
	TypeInspection:        "inspections",
}

// ApprovalResource is the VERIFICATIONS resource guarding decisions on
// verifications of type t
func (t Type) ApprovalResource() string {
	if r, ok := approvalResources[t]; ok {
		return r
	}
	return "verifications"
}

// Status is the workflow state of a verification
type Status string

// Statuses. PENDING is the only initial state; the others are terminal.
const (
	StatusPending  Status = "PENDING"
	StatusVerified Status = "VERIFIED"
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether no further transition is allowed
func (s Status) Terminal() bool { return s == StatusVerified || s == StatusRejected }

// HistoryAction is the event recorded by a history entry
type HistoryAction string

// History actions
const (
	ActionCreated  HistoryAction = "CREATED"
	ActionVerified HistoryAction = "VERIFIED"
	ActionRejected HistoryAction = "REJECTED"
)

// Priority orders pending work for reviewers
type Priority string

// Priorities
const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Subject entity types referenced by verifications
const (
	EntityProperty     = "property"
	EntityTenant       = "tenant"
	EntityLandlord     = "landlord"
	EntityPMC          = "pmc"
	EntityDocument     = "document"
	EntityApplication  = "application"
	EntityExpense      = "expense"
	EntityInspection   = "inspection"
	EntityRelationship = "pmc_landlord_relationship"
)

// Metadata keys read by the default assignee resolvers
const (
	MetaPropertyID     = "propertyId"
	MetaTenantID       = "tenantId"
	MetaLandlordID     = "landlordId"
	MetaRelationshipID = "relationshipId"
)

// Metadata is the open, type-specific payload of a verification
type Metadata map[string]interface{}

// String returns a non-empty string value
func (m Metadata) String(key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok && v != ""
}

func (m Metadata) clone() Metadata {
	if len(m) == 0 {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Party identifies a requester, assignee or decider. An assignee with a
// Role and no ID is a role-level assignment.
type Party struct {
	ID    string        `json:"id,omitempty"`
	Role  rbac.RoleName `json:"role,omitempty"`
	Email string        `json:"email,omitempty"`
	Name  string        `json:"name,omitempty"`
}

// Empty reports whether no identity is set
func (p Party) Empty() bool { return p.ID == "" && p.Role == "" }

// Attachment describes an uploaded file. The file itself lives elsewhere.
type Attachment struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
	FileSize int64  `json:"file_size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Verification is a pending or decided approval for a subject entity
type Verification struct {
	ID              string      `json:"id"`
	Type            Type        `json:"verification_type"`
	EntityType      string      `json:"entity_type"`
	EntityID        string      `json:"entity_id"`
	Requester       Party       `json:"requester"`
	Assignee        *Party      `json:"assignee,omitempty"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	Attachment      *Attachment `json:"attachment,omitempty"`
	Metadata        Metadata    `json:"metadata,omitempty"`
	Priority        Priority    `json:"priority"`
	DueDate         *time.Time  `json:"due_date,omitempty"`
	Status          Status      `json:"status"`
	VerifiedBy      *Party      `json:"verified_by,omitempty"`
	VerifiedAt      *time.Time  `json:"verified_at,omitempty"`
	RejectedBy      *Party      `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time  `json:"rejected_at,omitempty"`
	RejectionReason string      `json:"rejection_reason,omitempty"`
	ReviewNotes     string      `json:"review_notes,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Key returns the uniqueness key of v
func (v *Verification) Key() string {
	return entityKey(v.Type, v.EntityType, v.EntityID)
}

// Overdue reports whether v is pending past its due date
func (v *Verification) Overdue(now time.Time) bool {
	return v.Status == StatusPending && v.DueDate != nil && v.DueDate.Before(now)
}

func entityKey(t Type, entityType, entityID string) string {
	return fmt.Sprintf("%s/%s/%s", t, entityType, entityID)
}

// HistoryEntry is an immutable record of one state change
type HistoryEntry struct {
	ID             int64         `json:"id"`
	VerificationID string        `json:"verification_id"`
	Action         HistoryAction `json:"action"`
	Actor          Party         `json:"actor"`
	PreviousStatus Status        `json:"previous_status,omitempty"`
	NewStatus      Status        `json:"new_status"`
	Note           string        `json:"note,omitempty"`
	Metadata       Metadata      `json:"metadata,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// CreateRequest opens a verification
type CreateRequest struct {
	Type        Type        `json:"verification_type"`
	EntityType  string      `json:"entity_type"`
	EntityID    string      `json:"entity_id"`
	Requester   Party       `json:"requester"`
	Assignee    *Party      `json:"assignee,omitempty"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	Metadata    Metadata    `json:"metadata,omitempty"`
	Priority    Priority    `json:"priority,omitempty"`
	DueDate     *time.Time  `json:"due_date,omitempty"`
	// ApprovalTimeout sets DueDate relative to creation when DueDate is nil.
	// It usually comes from rbac.Decision.ApprovalTimeout.
	ApprovalTimeout time.Duration `json:"approval_timeout,omitempty"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status       Status        `json:"status,omitempty"`
	Type         Type          `json:"verification_type,omitempty"`
	AssigneeID   string        `json:"assignee_id,omitempty"`
	AssigneeRole rbac.RoleName `json:"assignee_role,omitempty"`
	RequesterID  string        `json:"requester_id,omitempty"`
	DueBefore    *time.Time    `json:"due_before,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	Offset       int           `json:"offset,omitempty"`
}

// Transition moves a pending verification to a terminal state
type Transition struct {
	ID     string
	To     Status
	Actor  Party
	Notes  string
	Reason string
	At     time.Time
}

func (t Transition) action() HistoryAction {
	if t.To == StatusRejected {
		return ActionRejected
	}
	return ActionVerified
}

func (t Transition) note() string {
	if t.To == StatusRejected {
		return t.Reason
	}
	return t.Notes
}

// apply writes the decision fields of t onto v
func (t Transition) apply(v *Verification) {
	at := t.At
	actor := t.Actor
	v.Status = t.To
	v.UpdatedAt = at
	v.ReviewNotes = t.Notes
	switch t.To {
	case StatusVerified:
		v.VerifiedBy = &actor
		v.VerifiedAt = &at
	case StatusRejected:
		v.RejectedBy = &actor
		v.RejectedAt = &at
		v.RejectionReason = t.Reason
	}
}

// Event is delivered to transition listeners after commit
type Event struct {
	Action       HistoryAction
	Verification Verification
	Entry        HistoryEntry
}
