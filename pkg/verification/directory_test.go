package verification

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/pinaka/pkg/apperr"
	"github.com/platinummonkey/pinaka/pkg/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDirectory(t *testing.T) (*SQLDirectory, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLDirectory(db), mock
}

func TestSQLDirectory_ManagingPMC(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectQuery("SELECT c.id, c.name, c.email FROM pmc_landlord_relationships").
		WithArgs("landlord-1", RelationshipActive).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).AddRow("pmc-1", "Acme Management", "ops@acme.example.com"))

	p, err := dir.ManagingPMC(context.Background(), "landlord-1")
	require.NoError(t, err)
	assert.Equal(t, &Party{ID: "pmc-1", Role: rbac.RolePMCAdmin, Name: "Acme Management", Email: "ops@acme.example.com"}, p)

	mock.ExpectQuery("FROM pmc_landlord_relationships").
		WithArgs("landlord-2", RelationshipActive).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}))

	p, err = dir.ManagingPMC(context.Background(), "landlord-2")
	require.NoError(t, err)
	assert.Nil(t, p)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDirectory_PropertyLandlord(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectQuery("FROM properties p JOIN landlords l").
		WithArgs("prop-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).AddRow("landlord-1", nil, nil))

	p, err := dir.PropertyLandlord(context.Background(), "prop-1")
	require.NoError(t, err)
	assert.Equal(t, &Party{ID: "landlord-1", Role: rbac.RoleOwnerLandlord}, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDirectory_Tenant(t *testing.T) {
	dir, mock := newMockDirectory(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT property_id FROM tenants").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"property_id"}).AddRow("prop-1"))
	propertyID, err := dir.TenantProperty(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "prop-1", propertyID)

	mock.ExpectQuery("SELECT property_id FROM tenants").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	propertyID, err = dir.TenantProperty(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, propertyID)

	mock.ExpectQuery("SELECT invited_by_id, invited_by_role FROM tenants").
		WithArgs("tenant-2").
		WillReturnRows(sqlmock.NewRows([]string{"invited_by_id", "invited_by_role"}).AddRow("pmc-1", "PMC_ADMIN"))
	mock.ExpectQuery("SELECT id, name, email FROM property_management_companies").
		WithArgs("pmc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).AddRow("pmc-1", "Acme Management", nil))
	inviter, err := dir.TenantInviter(ctx, "tenant-2")
	require.NoError(t, err)
	assert.Equal(t, &Party{ID: "pmc-1", Role: rbac.RolePMCAdmin, Name: "Acme Management"}, inviter)

	mock.ExpectQuery("SELECT invited_by_id, invited_by_role FROM tenants").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"invited_by_id", "invited_by_role"}).AddRow("landlord-1", "OWNER_LANDLORD"))
	mock.ExpectQuery("SELECT id, name, email FROM landlords").
		WithArgs("landlord-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}))
	inviter, err = dir.TenantInviter(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, &Party{ID: "landlord-1", Role: rbac.RoleOwnerLandlord}, inviter)

	mock.ExpectQuery("SELECT invited_by_id, invited_by_role FROM tenants").
		WithArgs("self-signup").
		WillReturnRows(sqlmock.NewRows([]string{"invited_by_id", "invited_by_role"}).AddRow(nil, nil))
	inviter, err = dir.TenantInviter(ctx, "self-signup")
	require.NoError(t, err)
	assert.Nil(t, inviter)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDirectory_RelationshipLandlord(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectQuery("FROM pmc_landlord_relationships r JOIN landlords l").
		WithArgs("rel-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).AddRow("landlord-1", "Lee Landlord", "lee@example.com"))

	p, err := dir.RelationshipLandlord(context.Background(), "rel-1")
	require.NoError(t, err)
	assert.Equal(t, "landlord-1", p.ID)
	assert.Equal(t, "lee@example.com", p.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDirectory_StorageError(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectQuery("FROM pmc_landlord_relationships").WillReturnError(sql.ErrConnDone)
	_, err := dir.ManagingPMC(context.Background(), "landlord-1")
	assert.ErrorIs(t, err, apperr.ErrStorage)

	mock.ExpectQuery("SELECT property_id FROM tenants").WillReturnError(sql.ErrConnDone)
	_, err = dir.TenantProperty(context.Background(), "tenant-1")
	assert.ErrorIs(t, err, apperr.ErrStorage)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDirectory_DrivesDefaultResolver(t *testing.T) {
	dir, mock := newMockDirectory(t)

	mock.ExpectQuery("SELECT property_id FROM tenants").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"property_id"}).AddRow("prop-1"))
	mock.ExpectQuery("FROM properties p JOIN landlords l").
		WithArgs("prop-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).AddRow("landlord-1", "Lee Landlord", nil))
	mock.ExpectQuery("FROM pmc_landlord_relationships r JOIN property_management_companies c").
		WithArgs("landlord-1", RelationshipActive).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).AddRow("pmc-1", "Acme Management", nil))

	req := documentRequest("doc-1")
	p, err := NewDefaultResolver(dir).Resolve(context.Background(), &req)
	require.NoError(t, err)
	assert.Equal(t, "pmc-1", p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
