// Package verification implements the unified approval workflow.
//
// Every approval flow (property ownership, tenant documents, applications,
// entity approvals, financial approvals, inspections) shares one state
// machine:
//
//	PENDING ──verify──▶ VERIFIED
//	   │
//	   └────reject────▶ REJECTED
//
// VERIFIED and REJECTED are terminal. Each state change appends an
// immutable HistoryEntry in the same transaction, so a record's status
// always equals the NewStatus of its latest entry. At most one
// verification exists per (type, entity type, entity id).
//
// Assignees are chosen by an AssigneeResolver. NewDefaultResolver routes
// property-scoped flows through the landlord's managing PMC before
// falling back to the landlord, and reads organization data from a
// Directory.
//
// The Sweeper lists PENDING records past their due date on a cron
// schedule and hands them to an OverdueHandler.
package verification
