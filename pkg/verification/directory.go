package verification

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/platinummonkey/pinaka/pkg/apperr"
	"github.com/platinummonkey/pinaka/pkg/rbac"
)

// RelationshipActive is the status of a PMC–landlord relationship that
// routes approvals through the PMC
const RelationshipActive = "ACTIVE"

// Directory answers organizational questions used to pick an assignee.
// Lookups that match nothing return a nil party and no error.
type Directory interface {
	// ManagingPMC returns the PMC actively managing a landlord
	ManagingPMC(ctx context.Context, landlordID string) (*Party, error)

	// PropertyLandlord returns the owner of a property
	PropertyLandlord(ctx context.Context, propertyID string) (*Party, error)

	// TenantProperty returns the property a tenant belongs to, or ""
	TenantProperty(ctx context.Context, tenantID string) (string, error)

	// TenantInviter returns the landlord or PMC that invited a tenant
	TenantInviter(ctx context.Context, tenantID string) (*Party, error)

	// RelationshipLandlord returns the landlord side of a PMC–landlord relationship
	RelationshipLandlord(ctx context.Context, relationshipID string) (*Party, error)
}

type relationship struct {
	id         string
	pmcID      string
	landlordID string
	status     string
}

type tenantRecord struct {
	propertyID string
	invitedBy  *Party
}

// StaticDirectory is an in-memory Directory
type StaticDirectory struct {
	mu            sync.RWMutex
	landlords     map[string]Party
	pmcs          map[string]Party
	relationships map[string]relationship
	properties    map[string]string
	tenants       map[string]tenantRecord
}

// NewStaticDirectory creates an empty directory
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		landlords:     make(map[string]Party),
		pmcs:          make(map[string]Party),
		relationships: make(map[string]relationship),
		properties:    make(map[string]string),
		tenants:       make(map[string]tenantRecord),
	}
}

// AddLandlord registers a landlord
func (d *StaticDirectory) AddLandlord(id, name, email string) *StaticDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.landlords[id] = Party{ID: id, Role: rbac.RoleOwnerLandlord, Name: name, Email: email}
	return d
}

// AddPMC registers a property management company
func (d *StaticDirectory) AddPMC(id, name, email string) *StaticDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pmcs[id] = Party{ID: id, Role: rbac.RolePMCAdmin, Name: name, Email: email}
	return d
}

// AddRelationship links a PMC and a landlord
func (d *StaticDirectory) AddRelationship(id, pmcID, landlordID, status string) *StaticDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.relationships[id] = relationship{id: id, pmcID: pmcID, landlordID: landlordID, status: status}
	return d
}

// AddProperty records a property's owner
func (d *StaticDirectory) AddProperty(propertyID, landlordID string) *StaticDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.properties[propertyID] = landlordID
	return d
}

// AddTenant records a tenant's property and inviter. invitedBy may be nil.
func (d *StaticDirectory) AddTenant(tenantID, propertyID string, invitedBy *Party) *StaticDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[tenantID] = tenantRecord{propertyID: propertyID, invitedBy: clonePartyPtr(invitedBy)}
	return d
}

// ManagingPMC returns the PMC actively managing landlordID. When several
// relationships are active the lowest relationship id wins.
func (d *StaticDirectory) ManagingPMC(ctx context.Context, landlordID string) (*Party, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var active []relationship
	for _, r := range d.relationships {
		if r.landlordID == landlordID && r.status == RelationshipActive {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}
	sort.Slice(active, func(i, j int) bool { return active[i].id < active[j].id })
	return d.pmcParty(active[0].pmcID), nil
}

// PropertyLandlord returns the owner of propertyID
func (d *StaticDirectory) PropertyLandlord(ctx context.Context, propertyID string) (*Party, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	landlordID, ok := d.properties[propertyID]
	if !ok {
		return nil, nil
	}
	return d.landlordParty(landlordID), nil
}

// TenantProperty returns the property of tenantID
func (d *StaticDirectory) TenantProperty(ctx context.Context, tenantID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tenants[tenantID].propertyID, nil
}

// TenantInviter returns who invited tenantID
func (d *StaticDirectory) TenantInviter(ctx context.Context, tenantID string) (*Party, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	inviter := d.tenants[tenantID].invitedBy
	if inviter == nil {
		return nil, nil
	}
	if inviter.Role == rbac.RolePMCAdmin {
		return d.pmcParty(inviter.ID), nil
	}
	if known, ok := d.landlords[inviter.ID]; ok {
		return &known, nil
	}
	return clonePartyPtr(inviter), nil
}

// RelationshipLandlord returns the landlord side of relationshipID
func (d *StaticDirectory) RelationshipLandlord(ctx context.Context, relationshipID string) (*Party, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.relationships[relationshipID]
	if !ok {
		return nil, nil
	}
	return d.landlordParty(r.landlordID), nil
}

func (d *StaticDirectory) landlordParty(id string) *Party {
	if p, ok := d.landlords[id]; ok {
		return &p
	}
	return &Party{ID: id, Role: rbac.RoleOwnerLandlord}
}

func (d *StaticDirectory) pmcParty(id string) *Party {
	if p, ok := d.pmcs[id]; ok {
		return &p
	}
	return &Party{ID: id, Role: rbac.RolePMCAdmin}
}

// SQLDirectory reads the host application's organization tables:
//
//	landlords (id, name, email)
//	property_management_companies (id, name, email)
//	pmc_landlord_relationships (id, pmc_id, landlord_id, status)
//	properties (id, landlord_id)
//	tenants (id, property_id, invited_by_id, invited_by_role)
type SQLDirectory struct {
	db *sql.DB
}

// NewSQLDirectory creates a directory over db
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// ManagingPMC returns the PMC actively managing landlordID
func (d *SQLDirectory) ManagingPMC(ctx context.Context, landlordID string) (*Party, error) {
	return d.party(ctx, "managing pmc", rbac.RolePMCAdmin, `
		SELECT c.id, c.name, c.email
		FROM pmc_landlord_relationships r
		JOIN property_management_companies c ON c.id = r.pmc_id
		WHERE r.landlord_id = $1 AND r.status = $2
		ORDER BY r.id ASC
		LIMIT 1
	`, landlordID, RelationshipActive)
}

// PropertyLandlord returns the owner of propertyID
func (d *SQLDirectory) PropertyLandlord(ctx context.Context, propertyID string) (*Party, error) {
	return d.party(ctx, "property landlord", rbac.RoleOwnerLandlord, `
		SELECT l.id, l.name, l.email
		FROM properties p
		JOIN landlords l ON l.id = p.landlord_id
		WHERE p.id = $1
	`, propertyID)
}

// TenantProperty returns the property of tenantID
func (d *SQLDirectory) TenantProperty(ctx context.Context, tenantID string) (string, error) {
	var propertyID sql.NullString
	err := d.db.QueryRowContext(ctx, "SELECT property_id FROM tenants WHERE id = $1", tenantID).Scan(&propertyID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", apperr.Storage("tenant property", fmt.Errorf("failed to look up tenant %s: %w", tenantID, err))
	}
	return propertyID.String, nil
}

// TenantInviter returns who invited tenantID
func (d *SQLDirectory) TenantInviter(ctx context.Context, tenantID string) (*Party, error) {
	var inviterID, inviterRole sql.NullString
	err := d.db.QueryRowContext(ctx,
		"SELECT invited_by_id, invited_by_role FROM tenants WHERE id = $1", tenantID,
	).Scan(&inviterID, &inviterRole)
	if err == sql.ErrNoRows || (err == nil && !inviterID.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("tenant inviter", fmt.Errorf("failed to look up tenant %s: %w", tenantID, err))
	}

	if rbac.RoleName(inviterRole.String) == rbac.RolePMCAdmin {
		p, err := d.party(ctx, "tenant inviter", rbac.RolePMCAdmin,
			"SELECT id, name, email FROM property_management_companies WHERE id = $1", inviterID.String)
		if p == nil && err == nil {
			p = &Party{ID: inviterID.String, Role: rbac.RolePMCAdmin}
		}
		return p, err
	}

	p, err := d.party(ctx, "tenant inviter", rbac.RoleOwnerLandlord,
		"SELECT id, name, email FROM landlords WHERE id = $1", inviterID.String)
	if p == nil && err == nil {
		p = &Party{ID: inviterID.String, Role: rbac.RoleName(inviterRole.String)}
	}
	return p, err
}

// RelationshipLandlord returns the landlord side of relationshipID
func (d *SQLDirectory) RelationshipLandlord(ctx context.Context, relationshipID string) (*Party, error) {
	return d.party(ctx, "relationship landlord", rbac.RoleOwnerLandlord, `
		SELECT l.id, l.name, l.email
		FROM pmc_landlord_relationships r
		JOIN landlords l ON l.id = r.landlord_id
		WHERE r.id = $1
	`, relationshipID)
}

func (d *SQLDirectory) party(ctx context.Context, op string, role rbac.RoleName, query string, args ...interface{}) (*Party, error) {
	var id string
	var name, email sql.NullString
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&id, &name, &email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage(op, fmt.Errorf("failed to look up %s: %w", op, err))
	}
	return &Party{ID: id, Role: role, Name: name.String, Email: email.String}, nil
}
