package verification

import (
	"context"

	"github.com/platinummonkey/pinaka/pkg/rbac"
)

// AssigneeResolver picks who must decide a new verification. A nil party
// with no error means "no assignee".
type AssigneeResolver interface {
	Resolve(ctx context.Context, req *CreateRequest) (*Party, error)
}

// ResolverFunc adapts a function to AssigneeResolver
type ResolverFunc func(ctx context.Context, req *CreateRequest) (*Party, error)

// Resolve calls f
func (f ResolverFunc) Resolve(ctx context.Context, req *CreateRequest) (*Party, error) {
	return f(ctx, req)
}

// Chain tries resolvers in order. The first party found wins and the first
// error aborts the lookup.
type Chain []AssigneeResolver

// Resolve runs the chain
func (c Chain) Resolve(ctx context.Context, req *CreateRequest) (*Party, error) {
	for _, r := range c {
		p, err := r.Resolve(ctx, req)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, nil
}

// TypeResolver dispatches on the verification type. Unknown types resolve
// to no assignee.
type TypeResolver map[Type]AssigneeResolver

// Resolve picks the resolver registered for req.Type
func (t TypeResolver) Resolve(ctx context.Context, req *CreateRequest) (*Party, error) {
	r, ok := t[req.Type]
	if !ok {
		return nil, nil
	}
	return r.Resolve(ctx, req)
}

// NewDefaultResolver builds the standard routing over dir:
//
//	PROPERTY_OWNERSHIP       landlord's active PMC, else none
//	TENANT_DOCUMENT          property landlord's active PMC, else the landlord
//	INSPECTION, APPLICATION  same as TENANT_DOCUMENT
//	ENTITY_APPROVAL          tenant: its inviter; landlord or PMC: the PLATFORM_ADMIN role
//	FINANCIAL_APPROVAL       landlord side of the originating PMC–landlord relationship
func NewDefaultResolver(dir Directory) TypeResolver {
	r := &defaultResolver{dir: dir}
	propertyChain := Chain{ResolverFunc(r.propertyPMC), ResolverFunc(r.propertyLandlord)}
	return TypeResolver{
		TypePropertyOwnership: ResolverFunc(r.ownershipPMC),
		TypeTenantDocument:    propertyChain,
		TypeInspection:        propertyChain,
		TypeApplication:       propertyChain,
		TypeEntityApproval:    ResolverFunc(r.entityApprover),
		TypeFinancialApproval: Chain{
			ResolverFunc(r.relationshipLandlord),
			ResolverFunc(r.propertyLandlord),
			ResolverFunc(r.metadataLandlord),
		},
	}
}

type defaultResolver struct {
	dir Directory
}

func (r *defaultResolver) ownershipPMC(ctx context.Context, req *CreateRequest) (*Party, error) {
	landlordID, err := r.landlordOf(ctx, req)
	if err != nil || landlordID == "" {
		return nil, err
	}
	return r.dir.ManagingPMC(ctx, landlordID)
}

// landlordOf finds the landlord behind a property ownership claim
func (r *defaultResolver) landlordOf(ctx context.Context, req *CreateRequest) (string, error) {
	if id, ok := req.Metadata.String(MetaLandlordID); ok {
		return id, nil
	}
	if req.EntityType == EntityLandlord {
		return req.EntityID, nil
	}
	if propertyID := propertyOf(req); propertyID != "" {
		landlord, err := r.dir.PropertyLandlord(ctx, propertyID)
		if err != nil {
			return "", err
		}
		if landlord != nil {
			return landlord.ID, nil
		}
	}
	if req.Requester.Role == rbac.RoleOwnerLandlord {
		return req.Requester.ID, nil
	}
	return "", nil
}

func (r *defaultResolver) propertyPMC(ctx context.Context, req *CreateRequest) (*Party, error) {
	landlord, err := r.propertyLandlord(ctx, req)
	if err != nil || landlord == nil {
		return nil, err
	}
	return r.dir.ManagingPMC(ctx, landlord.ID)
}

func (r *defaultResolver) propertyLandlord(ctx context.Context, req *CreateRequest) (*Party, error) {
	propertyID := propertyOf(req)
	if propertyID == "" {
		tenantID, ok := req.Metadata.String(MetaTenantID)
		if !ok && req.EntityType == EntityTenant {
			tenantID = req.EntityID
		}
		if tenantID == "" && req.Requester.Role == rbac.RoleTenant {
			tenantID = req.Requester.ID
		}
		if tenantID == "" {
			return nil, nil
		}
		var err error
		if propertyID, err = r.dir.TenantProperty(ctx, tenantID); err != nil || propertyID == "" {
			return nil, err
		}
	}
	return r.dir.PropertyLandlord(ctx, propertyID)
}

func (r *defaultResolver) entityApprover(ctx context.Context, req *CreateRequest) (*Party, error) {
	switch req.EntityType {
	case EntityTenant:
		return r.dir.TenantInviter(ctx, req.EntityID)
	case EntityLandlord, EntityPMC:
		return &Party{Role: rbac.RolePlatformAdmin}, nil
	}
	return nil, nil
}

func (r *defaultResolver) relationshipLandlord(ctx context.Context, req *CreateRequest) (*Party, error) {
	relID, ok := req.Metadata.String(MetaRelationshipID)
	if !ok && req.EntityType == EntityRelationship {
		relID = req.EntityID
	}
	if relID == "" {
		return nil, nil
	}
	return r.dir.RelationshipLandlord(ctx, relID)
}

func (r *defaultResolver) metadataLandlord(ctx context.Context, req *CreateRequest) (*Party, error) {
	id, ok := req.Metadata.String(MetaLandlordID)
	if !ok {
		return nil, nil
	}
	return &Party{ID: id, Role: rbac.RoleOwnerLandlord}, nil
}

func propertyOf(req *CreateRequest) string {
	if id, ok := req.Metadata.String(MetaPropertyID); ok {
		return id
	}
	if req.EntityType == EntityProperty {
		return req.EntityID
	}
	return ""
}
